package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procurehub/procurehub/internal/numbering"
	"github.com/procurehub/procurehub/internal/procurement"
	"github.com/procurehub/procurehub/internal/shared"
)

// TxRepository is the transactional slice handed to WithTx callbacks. It
// reads the procurement tables directly so lineage checks and request
// cascades commit atomically with the finance rows.
type TxRepository interface {
	DB() numbering.DB

	GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	OrderedTotal(ctx context.Context, orderID int64) (decimal.Decimal, error)
	GetRequest(ctx context.Context, id int64) (procurement.PurchaseRequest, error)
	TransitionRequest(ctx context.Context, id int64, from, to procurement.RequestStatus) error

	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	TransitionInvoice(ctx context.Context, id int64, from, to InvoiceStatus) error
	SetInvoiceReview(ctx context.Context, id, reviewedBy int64, at time.Time, notes string) error

	GetPayment(ctx context.Context, id int64) (PaymentRequest, error)
	CreatePayment(ctx context.Context, p PaymentRequest) (int64, error)
	TransitionPayment(ctx context.Context, id int64, from, to PaymentStatus) error
	SetPaymentRelease(ctx context.Context, id, releasedBy int64, at time.Time) error
	SetPaymentPaid(ctx context.Context, id, paidBy int64, at time.Time) error
	InvoiceHasPayment(ctx context.Context, invoiceID int64) (bool, error)
}

// Repository persists finance aggregates in Postgres.
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

func (t *txRepository) GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	var (
		o           procurement.PurchaseOrder
		documentRef *string
		completedAt *time.Time
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, number, request_id, quotation_item_id, purchaser_id,
			document_ref, status, completed_at, created_at
		 FROM purchase_orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&o.ID, &o.Number, &o.RequestID, &o.QuotationItemID, &o.PurchaserID,
			&documentRef, &o.Status, &completedAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return procurement.PurchaseOrder{}, shared.ErrNotFound
		}
		return procurement.PurchaseOrder{}, err
	}
	if documentRef != nil {
		o.DocumentRef = *documentRef
	}
	if completedAt != nil {
		o.CompletedAt = *completedAt
	}
	return o, nil
}

func (t *txRepository) OrderedTotal(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT qi.total_value
		 FROM purchase_orders po
		 JOIN quotation_items qi ON qi.id = po.quotation_item_id
		 WHERE po.id = $1`, orderID).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, shared.ErrNotFound
		}
		return decimal.Decimal{}, err
	}
	return total, nil
}

func (t *txRepository) GetRequest(ctx context.Context, id int64) (procurement.PurchaseRequest, error) {
	var pr procurement.PurchaseRequest
	err := t.tx.QueryRow(ctx,
		`SELECT id, number, requester_id, requester_department_id, status
		 FROM purchase_requests WHERE id = $1 FOR UPDATE`, id).
		Scan(&pr.ID, &pr.Number, &pr.RequesterID, &pr.RequesterDepartmentID, &pr.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return procurement.PurchaseRequest{}, shared.ErrNotFound
		}
		return procurement.PurchaseRequest{}, err
	}
	return pr, nil
}

func (t *txRepository) TransitionRequest(ctx context.Context, id int64, from, to procurement.RequestStatus) error {
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

const invoiceColumns = `id, order_id, vendor_number, vendor_tax_id, informed_by,
	amount, expected_amount,
	divergence, issue_date, receipt_date, status, notes,
	reviewed_by, reviewed_at, review_notes, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv         Invoice
		vendorTaxID *string
		issueDate   *time.Time
		receiptDate *time.Time
		notes       *string
		reviewedBy  *int64
		reviewedAt  *time.Time
		reviewNotes *string
	)
	err := row.Scan(&inv.ID, &inv.OrderID, &inv.VendorNumber, &vendorTaxID,
		&inv.InformedBy, &inv.Amount,
		&inv.Expected, &inv.Divergence, &issueDate, &receiptDate, &inv.Status,
		&notes, &reviewedBy, &reviewedAt, &reviewNotes, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	if vendorTaxID != nil {
		inv.VendorTaxID = *vendorTaxID
	}
	if issueDate != nil {
		inv.IssueDate = *issueDate
	}
	if receiptDate != nil {
		inv.ReceiptDate = *receiptDate
	}
	if notes != nil {
		inv.Notes = *notes
	}
	if reviewedBy != nil {
		inv.ReviewedBy = *reviewedBy
	}
	if reviewedAt != nil {
		inv.ReviewedAt = *reviewedAt
	}
	if reviewNotes != nil {
		inv.ReviewNotes = *reviewNotes
	}
	return inv, nil
}

func (t *txRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	return scanInvoice(row)
}

func (t *txRepository) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO invoices
			(order_id, vendor_number, vendor_tax_id, informed_by, amount,
			 expected_amount, divergence,
			 issue_date, receipt_date, status, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 RETURNING id`,
		inv.OrderID, inv.VendorNumber, nullString(inv.VendorTaxID), inv.InformedBy,
		inv.Amount, inv.Expected, inv.Divergence,
		nullTime(inv.IssueDate), nullTime(inv.ReceiptDate), string(inv.Status),
		nullString(inv.Notes)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert invoice: %w", err)
	}
	return id, nil
}

func (t *txRepository) TransitionInvoice(ctx context.Context, id int64, from, to InvoiceStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE invoices SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d not in %s: %w", id, from, shared.ErrInvalidTransition)
	}
	return nil
}

func (t *txRepository) SetInvoiceReview(ctx context.Context, id, reviewedBy int64, at time.Time, notes string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE invoices SET reviewed_by = $1, reviewed_at = $2, review_notes = $3 WHERE id = $4`,
		reviewedBy, at, nullString(notes), id)
	return err
}

const paymentColumns = `id, number, invoice_id, requested_by, approved_value,
	cost_center, accounting_account, payment_method,
	status, released_by, released_at, paid_by, paid_at, created_at`

func scanPayment(row pgx.Row) (PaymentRequest, error) {
	var (
		p          PaymentRequest
		costCenter *string
		account    *string
		method     *string
		releasedBy *int64
		releasedAt *time.Time
		paidBy     *int64
		paidAt     *time.Time
	)
	err := row.Scan(&p.ID, &p.Number, &p.InvoiceID, &p.RequestedBy, &p.ApprovedValue,
		&costCenter, &account, &method,
		&p.Status, &releasedBy, &releasedAt, &paidBy, &paidAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRequest{}, shared.ErrNotFound
		}
		return PaymentRequest{}, err
	}
	if costCenter != nil {
		p.CostCenter = *costCenter
	}
	if account != nil {
		p.AccountingAccount = *account
	}
	if method != nil {
		p.PaymentMethod = *method
	}
	if releasedBy != nil {
		p.ReleasedBy = *releasedBy
	}
	if releasedAt != nil {
		p.ReleasedAt = *releasedAt
	}
	if paidBy != nil {
		p.PaidBy = *paidBy
	}
	if paidAt != nil {
		p.PaidAt = *paidAt
	}
	return p, nil
}

func (t *txRepository) GetPayment(ctx context.Context, id int64) (PaymentRequest, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (t *txRepository) CreatePayment(ctx context.Context, p PaymentRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO payment_requests
			(number, invoice_id, requested_by, approved_value, cost_center,
			 accounting_account, payment_method, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now()) RETURNING id`,
		p.Number, p.InvoiceID, p.RequestedBy, p.ApprovedValue,
		nullString(p.CostCenter), nullString(p.AccountingAccount),
		nullString(p.PaymentMethod), string(p.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert payment request: %w", err)
	}
	return id, nil
}

func (t *txRepository) TransitionPayment(ctx context.Context, id int64, from, to PaymentStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE payment_requests SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %d not in %s: %w", id, from, shared.ErrInvalidTransition)
	}
	return nil
}

func (t *txRepository) SetPaymentRelease(ctx context.Context, id, releasedBy int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE payment_requests SET released_by = $1, released_at = $2 WHERE id = $3`,
		releasedBy, at, id)
	return err
}

func (t *txRepository) SetPaymentPaid(ctx context.Context, id, paidBy int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE payment_requests SET paid_by = $1, paid_at = $2 WHERE id = $3`,
		paidBy, at, id)
	return err
}

func (t *txRepository) InvoiceHasPayment(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM payment_requests
			WHERE invoice_id = $1 AND status <> $2
		 )`, invoiceID, string(PaymentCancelled)).Scan(&exists)
	return exists, err
}

// Pool-level reads.

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

func (r *Repository) GetPayment(ctx context.Context, id int64) (PaymentRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *Repository) ListInvoices(ctx context.Context, filters InvoiceFilters, limit, offset int) ([]Invoice, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.OrderID != 0 {
		args = append(args, filters.OrderID)
		clauses = append(clauses, fmt.Sprintf("order_id = $%d", len(args)))
	}
	where := joinWhere(clauses)

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (r *Repository) ListPayments(ctx context.Context, filters PaymentFilters, limit, offset int) ([]PaymentRequest, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.InvoiceID != 0 {
		args = append(args, filters.InvoiceID)
		clauses = append(clauses, fmt.Sprintf("invoice_id = $%d", len(args)))
	}
	where := joinWhere(clauses)

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payment_requests`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PaymentRequest
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// SumAmountByStatus aggregates invoice amounts per status for reporting.
func (r *Repository) SumAmountByStatus(ctx context.Context) (map[InvoiceStatus]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COALESCE(SUM(amount), 0) FROM invoices GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[InvoiceStatus]decimal.Decimal)
	for rows.Next() {
		var status InvoiceStatus
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

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
