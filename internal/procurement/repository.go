package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/numbering"
	"github.com/procurehub/procurehub/internal/shared"
)

// TxRepository is the transactional slice of the repository handed to
// WithTx callbacks. Transition methods update conditionally on the old
// status; zero affected rows means another transaction got there first.
type TxRepository interface {
	DB() numbering.DB

	GetRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	CreateRequest(ctx context.Context, pr PurchaseRequest) (int64, error)
	TransitionRequest(ctx context.Context, id int64, from, to RequestStatus) error
	SetRequestApproval(ctx context.Context, id, approvedBy int64, at time.Time) error
	SetRequestRejection(ctx context.Context, id, rejectedBy int64, at time.Time, reason string) error

	GetQuotation(ctx context.Context, id int64) (Quotation, error)
	CreateQuotation(ctx context.Context, q Quotation) (int64, error)
	TransitionQuotation(ctx context.Context, id int64, from, to QuotationStatus) error
	SetQuotationRelease(ctx context.Context, id int64, at time.Time) error
	SetQuotationApproval(ctx context.Context, id, approvedBy int64, at time.Time) error
	DeleteQuotation(ctx context.Context, id int64) error
	QuotationHasOrder(ctx context.Context, quotationID int64) (bool, error)

	GetItem(ctx context.Context, id int64) (QuotationItem, error)
	InsertItem(ctx context.Context, item QuotationItem) error
	DeleteItems(ctx context.Context, quotationID int64) error
	CountItems(ctx context.Context, quotationID int64) (int, error)
	ClearSelection(ctx context.Context, requestID int64) error
	SelectItem(ctx context.Context, itemID int64) error

	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	CreateOrder(ctx context.Context, o PurchaseOrder) (int64, error)
	TransitionOrder(ctx context.Context, id int64, from, to OrderStatus) error
	SetOrderCompleted(ctx context.Context, id int64, at time.Time) error
}

// Repository persists procurement aggregates in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a REPEATABLE READ transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) DB() numbering.DB { return t.tx }

const requestColumns = `id, number, requester_id, requester_department_id, product_id,
	quantity, unit, justification, estimated_total, status, notes,
	approved_by, approved_at, rejected_by, rejected_at, rejected_reason, created_at`

func scanRequest(row pgx.Row) (PurchaseRequest, error) {
	var (
		pr             PurchaseRequest
		notes          *string
		unit           *string
		approvedBy     *int64
		approvedAt     *time.Time
		rejectedBy     *int64
		rejectedAt     *time.Time
		rejectedReason *string
	)
	err := row.Scan(&pr.ID, &pr.Number, &pr.RequesterID, &pr.RequesterDepartmentID,
		&pr.ProductID, &pr.Quantity, &unit, &pr.Justification, &pr.EstimatedTotal,
		&pr.Status, &notes, &approvedBy, &approvedAt, &rejectedBy, &rejectedAt,
		&rejectedReason, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, shared.ErrNotFound
		}
		return PurchaseRequest{}, err
	}
	if unit != nil {
		pr.Unit = *unit
	}
	if notes != nil {
		pr.Notes = *notes
	}
	if approvedBy != nil {
		pr.ApprovedBy = *approvedBy
	}
	if approvedAt != nil {
		pr.ApprovedAt = *approvedAt
	}
	if rejectedBy != nil {
		pr.RejectedBy = *rejectedBy
	}
	if rejectedAt != nil {
		pr.RejectedAt = *rejectedAt
	}
	if rejectedReason != nil {
		pr.RejectedReason = *rejectedReason
	}
	return pr, nil
}

func (t *txRepository) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM purchase_requests WHERE id = $1 FOR UPDATE`, id)
	return scanRequest(row)
}

func (t *txRepository) CreateRequest(ctx context.Context, pr PurchaseRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_requests
			(number, requester_id, requester_department_id, product_id, quantity,
			 unit, justification, estimated_total, status, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 RETURNING id`,
		pr.Number, pr.RequesterID, pr.RequesterDepartmentID, pr.ProductID,
		pr.Quantity, pr.Unit, pr.Justification, pr.EstimatedTotal,
		string(pr.Status), nullable(pr.Notes)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase request: %w", mapPgError(err))
	}
	return id, nil
}

func (t *txRepository) TransitionRequest(ctx context.Context, id int64, from, to RequestStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_requests SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %d not in %s: %w", id, from, shared.ErrInvalidTransition)
	}
	return nil
}

func (t *txRepository) SetRequestApproval(ctx context.Context, id, approvedBy int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE purchase_requests SET approved_by = $1, approved_at = $2 WHERE id = $3`,
		approvedBy, at, id)
	return err
}

func (t *txRepository) SetRequestRejection(ctx context.Context, id, rejectedBy int64, at time.Time, reason string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE purchase_requests SET rejected_by = $1, rejected_at = $2, rejected_reason = $3 WHERE id = $4`,
		rejectedBy, at, reason, id)
	return err
}

const quotationColumns = `id, request_id, purchaser_id, status, released_at,
	approved_by, approved_at, notes, created_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var (
		q          Quotation
		releasedAt *time.Time
		approvedBy *int64
		approvedAt *time.Time
		notes      *string
	)
	err := row.Scan(&q.ID, &q.RequestID, &q.PurchaserID, &q.Status,
		&releasedAt, &approvedBy, &approvedAt, &notes, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, shared.ErrNotFound
		}
		return Quotation{}, err
	}
	if releasedAt != nil {
		q.ReleasedAt = *releasedAt
	}
	if approvedBy != nil {
		q.ApprovedBy = *approvedBy
	}
	if approvedAt != nil {
		q.ApprovedAt = *approvedAt
	}
	if notes != nil {
		q.Notes = *notes
	}
	return q, nil
}

func (t *txRepository) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id)
	return scanQuotation(row)
}

func (t *txRepository) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO quotations (request_id, purchaser_id, status, notes, created_at)
		 VALUES ($1, $2, $3, $4, now()) RETURNING id`,
		q.RequestID, q.PurchaserID, string(q.Status), nullable(q.Notes)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quotation: %w", mapPgError(err))
	}
	return id, nil
}

func (t *txRepository) TransitionQuotation(ctx context.Context, id int64, from, to QuotationStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quotations SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation %d not in %s: %w", id, from, shared.ErrInvalidTransition)
	}
	return nil
}

func (t *txRepository) SetQuotationRelease(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE quotations SET released_at = $1 WHERE id = $2`, at, id)
	return err
}

func (t *txRepository) SetQuotationApproval(ctx context.Context, id, approvedBy int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE quotations SET approved_by = $1, approved_at = $2 WHERE id = $3`,
		approvedBy, at, id)
	return err
}

func (t *txRepository) DeleteQuotation(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM quotation_items WHERE quotation_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) QuotationHasOrder(ctx context.Context, quotationID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM purchase_orders po
			JOIN quotation_items qi ON qi.id = po.quotation_item_id
			WHERE qi.quotation_id = $1
		 )`, quotationID).Scan(&exists)
	return exists, err
}

const itemColumns = `id, quotation_id, vendor_name, vendor_tax_id, description,
	unit_value, quantity, total_value, selected`

func scanItem(row pgx.Row) (QuotationItem, error) {
	var (
		item        QuotationItem
		vendorTaxID *string
		description *string
	)
	err := row.Scan(&item.ID, &item.QuotationID, &item.VendorName, &vendorTaxID,
		&description, &item.UnitValue, &item.Quantity, &item.TotalValue, &item.Selected)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotationItem{}, shared.ErrNotFound
		}
		return QuotationItem{}, err
	}
	if vendorTaxID != nil {
		item.VendorTaxID = *vendorTaxID
	}
	if description != nil {
		item.Description = *description
	}
	return item, nil
}

func (t *txRepository) GetItem(ctx context.Context, id int64) (QuotationItem, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM quotation_items WHERE id = $1 FOR UPDATE`, id)
	return scanItem(row)
}

func (t *txRepository) InsertItem(ctx context.Context, item QuotationItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO quotation_items
			(quotation_id, vendor_name, vendor_tax_id, description,
			 unit_value, quantity, total_value, selected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false)`,
		item.QuotationID, item.VendorName, nullable(item.VendorTaxID),
		nullable(item.Description), item.UnitValue, item.Quantity, item.TotalValue)
	if err != nil {
		return fmt.Errorf("insert quotation item: %w", mapPgError(err))
	}
	return nil
}

func (t *txRepository) DeleteItems(ctx context.Context, quotationID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM quotation_items WHERE quotation_id = $1`, quotationID)
	return err
}

func (t *txRepository) CountItems(ctx context.Context, quotationID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM quotation_items WHERE quotation_id = $1`, quotationID).Scan(&count)
	return count, err
}

// ClearSelection unselects every item across all quotations of the request,
// preserving the at-most-one-selected invariant for the whole lineage.
func (t *txRepository) ClearSelection(ctx context.Context, requestID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE quotation_items SET selected = false
		 WHERE quotation_id IN (SELECT id FROM quotations WHERE request_id = $1)`,
		requestID)
	return err
}

func (t *txRepository) SelectItem(ctx context.Context, itemID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quotation_items SET selected = true WHERE id = $1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

const orderColumns = `id, number, request_id, quotation_item_id, purchaser_id,
	document_ref, status, completed_at, created_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		o           PurchaseOrder
		documentRef *string
		completedAt *time.Time
	)
	err := row.Scan(&o.ID, &o.Number, &o.RequestID, &o.QuotationItemID,
		&o.PurchaserID, &documentRef, &o.Status, &completedAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, shared.ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	if documentRef != nil {
		o.DocumentRef = *documentRef
	}
	if completedAt != nil {
		o.CompletedAt = *completedAt
	}
	return o, nil
}

func (t *txRepository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

func (t *txRepository) CreateOrder(ctx context.Context, o PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_orders
			(number, request_id, quotation_item_id, purchaser_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, now()) RETURNING id`,
		o.Number, o.RequestID, o.QuotationItemID, o.PurchaserID, string(o.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase order: %w", mapPgError(err))
	}
	return id, nil
}

func (t *txRepository) TransitionOrder(ctx context.Context, id int64, from, to OrderStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d not in %s: %w", id, from, shared.ErrInvalidTransition)
	}
	return nil
}

func (t *txRepository) SetOrderCompleted(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET completed_at = $1 WHERE id = $2`, at, id)
	return err
}

// Pool-level reads.

func (r *Repository) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM purchase_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	q, err := scanQuotation(row)
	if err != nil {
		return Quotation{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM quotation_items WHERE quotation_id = $1 ORDER BY id`, id)
	if err != nil {
		return Quotation{}, nil, err
	}
	defer rows.Close()
	var items []QuotationItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return Quotation{}, nil, err
		}
		items = append(items, item)
	}
	return q, items, rows.Err()
}

func (r *Repository) GetItem(ctx context.Context, id int64) (QuotationItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM quotation_items WHERE id = $1`, id)
	return scanItem(row)
}

func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *Repository) SetOrderDocument(ctx context.Context, id int64, ref string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE purchase_orders SET document_ref = $1 WHERE id = $2`, ref, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) ListRequests(ctx context.Context, filters RequestFilters, limit, offset int) ([]PurchaseRequest, int, error) {
	where, args := buildRequestFilters(filters)
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM purchase_requests`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, pr)
	}
	return out, total, rows.Err()
}

func buildRequestFilters(filters RequestFilters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.RequesterID != 0 {
		args = append(args, filters.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filters.DepartmentID != 0 {
		args = append(args, filters.DepartmentID)
		clauses = append(clauses, fmt.Sprintf("requester_department_id = $%d", len(args)))
	}
	return joinWhere(clauses), args
}

func (r *Repository) ListQuotations(ctx context.Context, filters QuotationFilters, limit, offset int) ([]Quotation, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("q.status = $%d", len(args)))
	}
	if filters.RequestID != 0 {
		args = append(args, filters.RequestID)
		clauses = append(clauses, fmt.Sprintf("q.request_id = $%d", len(args)))
	}
	if filters.PurchaserID != 0 {
		args = append(args, filters.PurchaserID)
		clauses = append(clauses, fmt.Sprintf("q.purchaser_id = $%d", len(args)))
	}
	if filters.DepartmentID != 0 {
		args = append(args, filters.DepartmentID)
		clauses = append(clauses, fmt.Sprintf("pr.requester_department_id = $%d", len(args)))
	}
	where := joinWhere(clauses)
	from := ` FROM quotations q JOIN purchase_requests pr ON pr.id = q.request_id`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.request_id, q.purchaser_id, q.status, q.released_at,
			q.approved_by, q.approved_at, q.notes, q.created_at`+from+where+
			fmt.Sprintf(` ORDER BY q.created_at DESC, q.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}

func (r *Repository) ListOrders(ctx context.Context, filters OrderFilters, limit, offset int) ([]PurchaseOrder, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.RequestID != 0 {
		args = append(args, filters.RequestID)
		clauses = append(clauses, fmt.Sprintf("request_id = $%d", len(args)))
	}
	where := joinWhere(clauses)

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// SumEstimatedByStatus aggregates estimated totals per request status.
// Feeds the reporting dashboards.
func (r *Repository) SumEstimatedByStatus(ctx context.Context) (map[RequestStatus]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COALESCE(SUM(estimated_total), 0) FROM purchase_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[RequestStatus]decimal.Decimal)
	for rows.Next() {
		var status RequestStatus
		var sum decimal.Decimal
		if err := rows.Scan(&status, &sum); err != nil {
			return nil, err
		}
		out[status] = sum
	}
	return out, rows.Err()
}

func joinWhere(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// mapPgError translates driver-level constraint violations into the shared
// error taxonomy.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, shared.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, shared.ErrValidation)
		}
	}
	return err
}
