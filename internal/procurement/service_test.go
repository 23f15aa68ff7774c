package procurement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/procurehub/procurehub/internal/numbering"
	"github.com/procurehub/procurehub/internal/shared"
)

var (
	requester  = shared.Actor{ID: 1, Username: "ana", Role: shared.RoleUser, DepartmentID: 10, Active: true}
	manager    = shared.Actor{ID: 2, Username: "bruno", Role: shared.RoleManager, DepartmentID: 10, Active: true}
	otherMgr   = shared.Actor{ID: 3, Username: "carla", Role: shared.RoleManager, DepartmentID: 20, Active: true}
	purchaser  = shared.Actor{ID: 4, Username: "diego", Role: shared.RolePurchaser, DepartmentID: 30, Active: true}
	adminActor = shared.Actor{ID: 5, Username: "root", Role: shared.RoleAdmin, Active: true}
)

// memoryRepo is an in-memory stand-in for the Postgres repository. It backs
// both the pool-level reads and the transactional slice; transitions enforce
// the same compare-and-set semantics as the SQL implementation.
type memoryRepo struct {
	mu         sync.Mutex
	nextID     int64
	requests   map[int64]*PurchaseRequest
	quotations map[int64]*Quotation
	items      map[int64]*QuotationItem
	orders     map[int64]*PurchaseOrder
	numbers    map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests:   make(map[int64]*PurchaseRequest),
		quotations: make(map[int64]*Quotation),
		items:      make(map[int64]*QuotationItem),
		orders:     make(map[int64]*PurchaseOrder),
		numbers:    make(map[string]bool),
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.requests[id]
	if !ok {
		return PurchaseRequest{}, shared.ErrNotFound
	}
	return *pr, nil
}

func (m *memoryRepo) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotations[id]
	if !ok {
		return Quotation{}, nil, shared.ErrNotFound
	}
	var items []QuotationItem
	for _, item := range m.items {
		if item.QuotationID == id {
			items = append(items, *item)
		}
	}
	return *q, items, nil
}

func (m *memoryRepo) GetItem(ctx context.Context, id int64) (QuotationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return QuotationItem{}, shared.ErrNotFound
	}
	return *item, nil
}

func (m *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, shared.ErrNotFound
	}
	return *o, nil
}

func (m *memoryRepo) SetOrderDocument(ctx context.Context, id int64, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	o.DocumentRef = ref
	return nil
}

func (m *memoryRepo) ListRequests(ctx context.Context, filters RequestFilters, limit, offset int) ([]PurchaseRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PurchaseRequest
	for _, pr := range m.requests {
		if filters.Status != "" && pr.Status != filters.Status {
			continue
		}
		if filters.DepartmentID != 0 && pr.RequesterDepartmentID != filters.DepartmentID {
			continue
		}
		if filters.RequesterID != 0 && pr.RequesterID != filters.RequesterID {
			continue
		}
		out = append(out, *pr)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ListQuotations(ctx context.Context, filters QuotationFilters, limit, offset int) ([]Quotation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Quotation
	for _, q := range m.quotations {
		if filters.Status != "" && q.Status != filters.Status {
			continue
		}
		if filters.RequestID != 0 && q.RequestID != filters.RequestID {
			continue
		}
		out = append(out, *q)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ListOrders(ctx context.Context, filters OrderFilters, limit, offset int) ([]PurchaseOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PurchaseOrder
	for _, o := range m.orders {
		if filters.Status != "" && o.Status != filters.Status {
			continue
		}
		if filters.RequestID != 0 && o.RequestID != filters.RequestID {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) DB() numbering.DB { return &memoryNumberDB{repo: t.repo} }

// memoryNumberDB mimics the document_numbers table for the numbering helper.
type memoryNumberDB struct {
	repo *memoryRepo
}

type numberRow struct{ value int }

func (r numberRow) Scan(dest ...any) error {
	if p, ok := dest[0].(*int); ok {
		*p = r.value
	}
	return nil
}

func (db *memoryNumberDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.repo.mu.Lock()
	defer db.repo.mu.Unlock()
	series, period := args[0].(string), args[1].(string)
	seq := 1
	for db.repo.numbers[fmt.Sprintf("%s|%s|%d", series, period, seq)] {
		seq++
	}
	return numberRow{value: seq}
}

func (db *memoryNumberDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.repo.mu.Lock()
	defer db.repo.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%d", args[0].(string), args[1].(string), args[2].(int))
	if db.repo.numbers[key] {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
	}
	db.repo.numbers[key] = true
	return pgconn.CommandTag{}, nil
}

func (t *memoryTx) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return t.repo.GetRequest(ctx, id)
}

func (t *memoryTx) CreateRequest(ctx context.Context, pr PurchaseRequest) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	pr.ID = t.repo.id()
	pr.CreatedAt = time.Now()
	t.repo.requests[pr.ID] = &pr
	return pr.ID, nil
}

func (t *memoryTx) TransitionRequest(ctx context.Context, id int64, from, to RequestStatus) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	pr, ok := t.repo.requests[id]
	if !ok || pr.Status != from {
		return shared.ErrInvalidTransition
	}
	pr.Status = to
	return nil
}

func (t *memoryTx) SetRequestApproval(ctx context.Context, id, approvedBy int64, at time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	pr := t.repo.requests[id]
	pr.ApprovedBy = approvedBy
	pr.ApprovedAt = at
	return nil
}

func (t *memoryTx) SetRequestRejection(ctx context.Context, id, rejectedBy int64, at time.Time, reason string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	pr := t.repo.requests[id]
	pr.RejectedBy = rejectedBy
	pr.RejectedAt = at
	pr.RejectedReason = reason
	return nil
}

func (t *memoryTx) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	q, ok := t.repo.quotations[id]
	if !ok {
		return Quotation{}, shared.ErrNotFound
	}
	return *q, nil
}

func (t *memoryTx) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	q.ID = t.repo.id()
	q.CreatedAt = time.Now()
	t.repo.quotations[q.ID] = &q
	return q.ID, nil
}

func (t *memoryTx) TransitionQuotation(ctx context.Context, id int64, from, to QuotationStatus) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	q, ok := t.repo.quotations[id]
	if !ok || q.Status != from {
		return shared.ErrInvalidTransition
	}
	q.Status = to
	return nil
}

func (t *memoryTx) SetQuotationRelease(ctx context.Context, id int64, at time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.quotations[id].ReleasedAt = at
	return nil
}

func (t *memoryTx) SetQuotationApproval(ctx context.Context, id, approvedBy int64, at time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	q := t.repo.quotations[id]
	q.ApprovedBy = approvedBy
	q.ApprovedAt = at
	return nil
}

func (t *memoryTx) DeleteQuotation(ctx context.Context, id int64) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, ok := t.repo.quotations[id]; !ok {
		return shared.ErrNotFound
	}
	for itemID, item := range t.repo.items {
		if item.QuotationID == id {
			delete(t.repo.items, itemID)
		}
	}
	delete(t.repo.quotations, id)
	return nil
}

func (t *memoryTx) QuotationHasOrder(ctx context.Context, quotationID int64) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, o := range t.repo.orders {
		item, ok := t.repo.items[o.QuotationItemID]
		if ok && item.QuotationID == quotationID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) GetItem(ctx context.Context, id int64) (QuotationItem, error) {
	return t.repo.GetItem(ctx, id)
}

func (t *memoryTx) InsertItem(ctx context.Context, item QuotationItem) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	item.ID = t.repo.id()
	t.repo.items[item.ID] = &item
	return nil
}

func (t *memoryTx) DeleteItems(ctx context.Context, quotationID int64) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for id, item := range t.repo.items {
		if item.QuotationID == quotationID {
			delete(t.repo.items, id)
		}
	}
	return nil
}

func (t *memoryTx) CountItems(ctx context.Context, quotationID int64) (int, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	count := 0
	for _, item := range t.repo.items {
		if item.QuotationID == quotationID {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) ClearSelection(ctx context.Context, requestID int64) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, item := range t.repo.items {
		q, ok := t.repo.quotations[item.QuotationID]
		if ok && q.RequestID == requestID {
			item.Selected = false
		}
	}
	return nil
}

func (t *memoryTx) SelectItem(ctx context.Context, itemID int64) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	item, ok := t.repo.items[itemID]
	if !ok {
		return shared.ErrNotFound
	}
	item.Selected = true
	return nil
}

func (t *memoryTx) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return t.repo.GetOrder(ctx, id)
}

func (t *memoryTx) CreateOrder(ctx context.Context, o PurchaseOrder) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	o.ID = t.repo.id()
	o.CreatedAt = time.Now()
	t.repo.orders[o.ID] = &o
	return o.ID, nil
}

func (t *memoryTx) TransitionOrder(ctx context.Context, id int64, from, to OrderStatus) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	o, ok := t.repo.orders[id]
	if !ok || o.Status != from {
		return shared.ErrInvalidTransition
	}
	o.Status = to
	return nil
}

func (t *memoryTx) SetOrderCompleted(ctx context.Context, id int64, at time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.orders[id].CompletedAt = at
	return nil
}

type stubCatalog struct {
	avg decimal.Decimal
}

func (c stubCatalog) AverageUnitValue(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if productID == 404 {
		return decimal.Decimal{}, shared.ErrNotFound
	}
	return c.avg, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type stubDocs struct {
	fail  bool
	calls int
}

func (d *stubDocs) Generate(ctx context.Context, order PurchaseOrder, item QuotationItem, request PurchaseRequest) (string, error) {
	d.calls++
	if d.fail {
		return "", errors.New("renderer unavailable")
	}
	return fmt.Sprintf("orders/%s.pdf", order.Number), nil
}

type recordingQueue struct {
	orderIDs []int64
}

func (q *recordingQueue) EnqueueDocument(ctx context.Context, orderID int64) error {
	q.orderIDs = append(q.orderIDs, orderID)
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memoryRepo
	docs  *stubDocs
	queue *recordingQueue
	audit *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	docs := &stubDocs{}
	queue := &recordingQueue{}
	audit := &recordingAudit{}
	svc := NewService(repo, stubCatalog{avg: decimal.RequireFromString("25.50")}, audit, docs, queue)
	return &fixture{svc: svc, repo: repo, docs: docs, queue: queue, audit: audit}
}

func (f *fixture) createRequest(t *testing.T) PurchaseRequest {
	t.Helper()
	pr, err := f.svc.CreateRequest(context.Background(), requester, CreateRequestInput{
		ProductID:     7,
		Quantity:      4,
		Justification: "printer toner for the quarter",
	})
	require.NoError(t, err)
	return pr
}

func threeOffers() []ItemInput {
	return []ItemInput{
		{VendorName: "Alfa Supplies", UnitValue: decimal.RequireFromString("24.00")},
		{VendorName: "Beta Comercio", UnitValue: decimal.RequireFromString("22.50")},
		{VendorName: "Gama Distribuidora", UnitValue: decimal.RequireFromString("26.10")},
	}
}

// releasedQuotation drives a fresh request to a RELEASED quotation.
func (f *fixture) releasedQuotation(t *testing.T) (PurchaseRequest, Quotation, []QuotationItem) {
	t.Helper()
	ctx := context.Background()
	pr := f.createRequest(t)
	q, err := f.svc.CreateQuotation(ctx, purchaser, pr.ID, threeOffers())
	require.NoError(t, err)
	q, err = f.svc.ReleaseQuotation(ctx, purchaser, q.ID)
	require.NoError(t, err)
	_, items, err := f.svc.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	return pr, q, items
}

func TestCreateRequestNumbersAndEstimates(t *testing.T) {
	f := newFixture(t)
	pr := f.createRequest(t)

	require.Regexp(t, `^RC-\d{6}-0001$`, pr.Number)
	require.Equal(t, RequestPending, pr.Status)
	require.Equal(t, requester.DepartmentID, pr.RequesterDepartmentID)
	// 25.50 × 4
	require.True(t, pr.EstimatedTotal.Equal(decimal.RequireFromString("102.00")))

	second := f.createRequest(t)
	require.Regexp(t, `-0002$`, second.Number)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRequest(ctx, requester, CreateRequestInput{ProductID: 7, Quantity: 0, Justification: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateRequest(ctx, requester, CreateRequestInput{ProductID: 7, Quantity: 1, Justification: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateRequest(ctx, requester, CreateRequestInput{ProductID: 404, Quantity: 1, Justification: "x"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApproveRequestDepartmentGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	_, err := f.svc.ApproveRequest(ctx, otherMgr, pr.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.ApproveRequest(ctx, requester, pr.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	approved, err := f.svc.ApproveRequest(ctx, manager, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)
	require.Equal(t, manager.ID, approved.ApprovedBy)

	// Already approved; a second approval is a stale double-submit.
	_, err = f.svc.ApproveRequest(ctx, manager, pr.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAdminApprovesAnyDepartment(t *testing.T) {
	f := newFixture(t)
	pr := f.createRequest(t)

	approved, err := f.svc.ApproveRequest(context.Background(), adminActor, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)
}

func TestRejectRequestRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	_, err := f.svc.RejectRequest(ctx, manager, pr.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := f.svc.RejectRequest(ctx, manager, pr.ID, "budget exhausted")
	require.NoError(t, err)
	require.Equal(t, RequestRejected, rejected.Status)
	require.Equal(t, "budget exhausted", rejected.RejectedReason)
	require.True(t, rejected.Status.Terminal())
}

func TestCancelRequestGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	stranger := shared.Actor{ID: 99, Role: shared.RoleUser, DepartmentID: 20, Active: true}
	_, err := f.svc.CancelRequest(ctx, stranger, pr.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	cancelled, err := f.svc.CancelRequest(ctx, requester, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestCancelled, cancelled.Status)

	_, err = f.svc.CancelRequest(ctx, requester, pr.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAuditEntriesCarryTimestamps(t *testing.T) {
	f := newFixture(t)
	f.createRequest(t)

	require.NotEmpty(t, f.audit.logs)
	for _, entry := range f.audit.logs {
		require.False(t, entry.At.IsZero())
	}
}

func TestCreateQuotationRequiresPurchaser(t *testing.T) {
	f := newFixture(t)
	pr := f.createRequest(t)

	_, err := f.svc.CreateQuotation(context.Background(), requester, pr.ID, threeOffers())
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.CreateQuotation(context.Background(), manager, pr.ID, threeOffers())
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestQuotationItemTotalsAreRecomputed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	q, err := f.svc.CreateQuotation(ctx, purchaser, pr.ID, []ItemInput{
		{VendorName: "Alfa Supplies", UnitValue: decimal.RequireFromString("10.35"), Quantity: 3},
	})
	require.NoError(t, err)

	_, items, err := f.svc.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].TotalValue.Equal(decimal.RequireFromString("31.05")))
	require.False(t, items[0].Selected)

	// Omitted quantity falls back to the requested quantity.
	q2, err := f.svc.CreateQuotation(ctx, purchaser, f.createRequest(t).ID, []ItemInput{
		{VendorName: "Beta Comercio", UnitValue: decimal.RequireFromString("2.00")},
	})
	require.NoError(t, err)
	_, items, err = f.svc.GetQuotation(ctx, q2.ID)
	require.NoError(t, err)
	require.Equal(t, 4, items[0].Quantity)
}

func TestReleaseQuotationNeedsThreeOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	q, err := f.svc.CreateQuotation(ctx, purchaser, pr.ID, threeOffers()[:2])
	require.NoError(t, err)

	_, err = f.svc.ReleaseQuotation(ctx, purchaser, q.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	err = f.svc.ReplaceQuotationItems(ctx, purchaser, q.ID, threeOffers())
	require.NoError(t, err)

	released, err := f.svc.ReleaseQuotation(ctx, purchaser, q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationReleased, released.Status)
	require.False(t, released.ReleasedAt.IsZero())

	updated, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestQuoted, updated.Status)
}

func TestReleaseQuotationAfterRequestCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	q, err := f.svc.CreateQuotation(ctx, purchaser, pr.ID, threeOffers())
	require.NoError(t, err)

	_, err = f.svc.CancelRequest(ctx, requester, pr.ID)
	require.NoError(t, err)

	// The draft survives, but the cancelled request must not re-enter the
	// workflow through its release.
	_, err = f.svc.ReleaseQuotation(ctx, purchaser, q.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestCancelled, stored.Status)

	storedQ, _, err := f.svc.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationDraft, storedQ.Status)
}

func TestReleaseSecondQuotationAfterRequestQuoted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr := f.createRequest(t)

	first, err := f.svc.CreateQuotation(ctx, purchaser, pr.ID, threeOffers())
	require.NoError(t, err)
	second, err := f.svc.CreateQuotation(ctx, purchaser, pr.ID, threeOffers())
	require.NoError(t, err)

	_, err = f.svc.ReleaseQuotation(ctx, purchaser, first.ID)
	require.NoError(t, err)

	_, err = f.svc.ReleaseQuotation(ctx, purchaser, second.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestQuoted, stored.Status)

	storedQ, _, err := f.svc.GetQuotation(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationDraft, storedQ.Status)
}

func TestReplaceItemsOnlyInDraft(t *testing.T) {
	f := newFixture(t)
	_, q, _ := f.releasedQuotation(t)

	err := f.svc.ReplaceQuotationItems(context.Background(), purchaser, q.ID, threeOffers())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestApproveQuotationSelectsExactlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)

	approved, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[1].ID)
	require.NoError(t, err)
	require.Equal(t, QuotationApproved, approved.Status)
	require.Equal(t, manager.ID, approved.ApprovedBy)

	_, after, err := f.svc.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	selected := 0
	for _, item := range after {
		if item.Selected {
			selected++
			require.Equal(t, items[1].ID, item.ID)
		}
	}
	require.Equal(t, 1, selected)

	updated, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestVendorApproved, updated.Status)

	// Second approval hits the status check.
	_, err = f.svc.ApproveQuotation(ctx, manager, q.ID, items[0].ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestApproveQuotationGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, items := f.releasedQuotation(t)

	_, err := f.svc.ApproveQuotation(ctx, otherMgr, q.ID, items[0].ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.ApproveQuotation(ctx, purchaser, q.ID, items[0].ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestApproveQuotationItemMustBelong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, _ := f.releasedQuotation(t)
	_, _, otherItems := f.releasedQuotation(t)

	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, otherItems[0].ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelQuotationLeavesRequestUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, _ := f.releasedQuotation(t)

	cancelled, err := f.svc.CancelQuotation(ctx, purchaser, q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationCancelled, cancelled.Status)

	updated, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestQuoted, updated.Status)
}

func TestDeleteQuotationBlockedByOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)

	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, purchaser, pr.ID, items[0].ID)
	require.NoError(t, err)

	err = f.svc.DeleteQuotation(ctx, purchaser, q.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateOrderHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)

	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[2].ID)
	require.NoError(t, err)

	order, err := f.svc.CreateOrder(ctx, purchaser, pr.ID, items[2].ID)
	require.NoError(t, err)
	require.Regexp(t, `^OC-\d{6}-0001$`, order.Number)
	require.Equal(t, OrderCreated, order.Status)
	require.NotEmpty(t, order.DocumentRef)

	updated, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestPurchased, updated.Status)
}

func TestCreateOrderRejectsUnselectedItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)

	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[0].ID)
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, purchaser, pr.ID, items[1].ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateOrderSurvivesDocumentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)

	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[0].ID)
	require.NoError(t, err)

	f.docs.fail = true
	order, err := f.svc.CreateOrder(ctx, purchaser, pr.ID, items[0].ID)
	require.ErrorIs(t, err, shared.ErrCollaborator)
	require.NotZero(t, order.ID)
	require.Empty(t, order.DocumentRef)

	// The order committed and the request advanced despite the failure.
	updated, err := f.svc.GetRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, RequestPurchased, updated.Status)
	require.Equal(t, []int64{order.ID}, f.queue.orderIDs)

	// The retry task regenerates and stores the document.
	f.docs.fail = false
	require.NoError(t, f.svc.RegenerateDocument(ctx, order.ID))
	stored, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.DocumentRef)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)
	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[0].ID)
	require.NoError(t, err)
	order, err := f.svc.CreateOrder(ctx, purchaser, pr.ID, items[0].ID)
	require.NoError(t, err)

	sent, err := f.svc.UpdateOrderStatus(ctx, purchaser, order.ID, OrderSent)
	require.NoError(t, err)
	require.Equal(t, OrderSent, sent.Status)

	confirmed, err := f.svc.UpdateOrderStatus(ctx, purchaser, order.ID, OrderConfirmed)
	require.NoError(t, err)
	require.Equal(t, OrderConfirmed, confirmed.Status)
	require.False(t, confirmed.CompletedAt.IsZero())
	require.True(t, confirmed.Status.Concluded())

	// No going back.
	_, err = f.svc.UpdateOrderStatus(ctx, purchaser, order.ID, OrderSent)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.UpdateOrderStatus(ctx, purchaser, order.ID, "SHIPPED")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pr, q, items := f.releasedQuotation(t)
	_, err := f.svc.ApproveQuotation(ctx, manager, q.ID, items[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, purchaser, pr.ID, items[0].ID)
	require.NoError(t, err)

	var actions []string
	for _, log := range f.audit.logs {
		actions = append(actions, log.Action)
	}
	require.Contains(t, actions, "REQUEST_CREATE")
	require.Contains(t, actions, "QUOTATION_CREATE")
	require.Contains(t, actions, "QUOTATION_RELEASE")
	require.Contains(t, actions, "QUOTATION_APPROVE")
	require.Contains(t, actions, "ORDER_CREATE")
}
