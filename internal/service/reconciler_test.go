package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/shopify"
)

type fakeSource struct {
	orders []shopify.Order
	err    error
	calls  int
}

func (f *fakeSource) FetchWindow(ctx context.Context, conn models.ShopConnection, window models.Window, excludeTest bool) ([]shopify.Order, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.orders, nil
}

type fakeStore struct {
	conn        *models.ShopConnection
	connErr     error
	upsertErr   error
	upsertFails int
	upsertCalls int
	states      []string
	created     []models.SyncRun
	finished    []models.SyncRun
	upserted    [][]models.DailySalesRow
}

func (f *fakeStore) GetShopConnection(ctx context.Context, tenantID string) (*models.ShopConnection, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.conn, nil
}

func (f *fakeStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	run.StartedAt = time.Now()
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeStore) UpdateSyncRunState(ctx context.Context, runID, state string) error {
	f.states = append(f.states, state)
	return nil
}

func (f *fakeStore) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	f.finished = append(f.finished, *run)
	return nil
}

func (f *fakeStore) UpsertDailySales(ctx context.Context, rows []models.DailySalesRow) error {
	f.upsertCalls++
	if f.upsertErr != nil && f.upsertCalls <= f.upsertFails {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, rows)
	return nil
}

type fakeLocker struct {
	held     map[string]bool
	acquired []string
	released []string
	statuses []models.SyncStatus
}

func (f *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	if f.held[lockKey] {
		return false, nil
	}
	f.acquired = append(f.acquired, lockKey)
	return true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	f.released = append(f.released, lockKey)
	return nil
}

func (f *fakeLocker) SetSyncStatus(ctx context.Context, status models.SyncStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func testConn() *models.ShopConnection {
	return &models.ShopConnection{
		TenantID:    "tenant-1",
		ShopDomain:  "acme.myshopify.com",
		AccessToken: "shpat_test",
		Currency:    "USD",
	}
}

func rawOrders() []shopify.Order {
	created := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	return []shopify.Order{
		{
			ID:        1,
			CreatedAt: created,
			Currency:  "USD",
			LineItems: []shopify.LineItem{
				{ID: 1, Quantity: 1, Price: decimal.RequireFromString("100.00")},
			},
			Transactions: []shopify.Transaction{
				{ID: 10, Kind: "sale", Status: "success", Amount: decimal.RequireFromString("100.00"), ProcessedAt: created},
			},
		},
		{
			// malformed: the normalizer must skip it without failing the run
			ID:        2,
			CreatedAt: created,
		},
	}
}

func newTestReconciler(source *fakeSource, store *fakeStore, locker *fakeLocker) *Reconciler {
	return NewReconciler(source, store, locker, time.Minute, false)
}

func TestReconcileSingleMode(t *testing.T) {
	source := &fakeSource{orders: rawOrders()}
	store := &fakeStore{conn: testConn()}
	locker := &fakeLocker{}
	r := newTestReconciler(source, store, locker)

	results, err := r.Reconcile(context.Background(), &SyncRequest{
		TenantID:  "tenant-1",
		Mode:      models.ModeShopify,
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-11",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, models.ModeShopify, res.Mode)
	assert.Equal(t, 2, res.OrdersFetched)
	assert.Equal(t, 1, res.OrdersSkipped)
	assert.Equal(t, 2, res.RowsWritten, "one row per window date")

	// the run walked every state exactly once, in order
	assert.Equal(t, []string{
		models.StateNormalizing,
		models.StateClassifying,
		models.StateAggregating,
		models.StatePersisting,
	}, store.states)
	require.Len(t, store.created, 1)
	assert.Equal(t, models.StateFetching, store.created[0].State)
	require.Len(t, store.finished, 1)
	assert.Equal(t, models.StateDone, store.finished[0].State)
	assert.Empty(t, store.finished[0].FailureReason)

	require.Len(t, store.upserted, 1)
	require.Len(t, store.upserted[0], 2)
	assert.Equal(t, "2024-03-10", store.upserted[0][0].Date)
	assert.True(t, store.upserted[0][0].GrossSales.Equal(decimal.RequireFromString("100")))

	assert.Equal(t, []string{"sync:tenant-1:shopify"}, locker.acquired)
	assert.Equal(t, locker.acquired, locker.released)

	require.NotEmpty(t, locker.statuses)
	assert.Equal(t, models.StateDone, locker.statuses[len(locker.statuses)-1].State)
}

func TestReconcileDefaultsToBothModes(t *testing.T) {
	source := &fakeSource{orders: rawOrders()}
	store := &fakeStore{conn: testConn()}
	locker := &fakeLocker{}
	r := newTestReconciler(source, store, locker)

	results, err := r.Reconcile(context.Background(), &SyncRequest{
		TenantID:  "tenant-1",
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-11",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.ModeShopify, results[0].Mode)
	assert.Equal(t, models.ModeFinancial, results[1].Mode)
	assert.Equal(t, []string{"sync:tenant-1:shopify", "sync:tenant-1:financial"}, locker.acquired)
	assert.Len(t, store.upserted, 2)
}

func TestReconcileUnknownTenant(t *testing.T) {
	store := &fakeStore{connErr: errors.New("shop connection not found for tenant: tenant-9")}
	r := newTestReconciler(&fakeSource{}, store, &fakeLocker{})

	_, err := r.Reconcile(context.Background(), &SyncRequest{TenantID: "tenant-9"})
	require.Error(t, err)
	assert.Empty(t, store.created)
}

func TestReconcileRejectsUnknownMode(t *testing.T) {
	r := newTestReconciler(&fakeSource{}, &fakeStore{conn: testConn()}, &fakeLocker{})

	_, err := r.Reconcile(context.Background(), &SyncRequest{TenantID: "tenant-1", Mode: "weekly"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestReconcileHeldLock(t *testing.T) {
	store := &fakeStore{conn: testConn()}
	locker := &fakeLocker{held: map[string]bool{"sync:tenant-1:shopify": true}}
	r := newTestReconciler(&fakeSource{orders: rawOrders()}, store, locker)

	_, err := r.Reconcile(context.Background(), &SyncRequest{
		TenantID:  "tenant-1",
		Mode:      models.ModeShopify,
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-10",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrSyncInProgress))
	assert.Empty(t, store.created, "no run record while another run holds the lock")
}

func TestReconcileAuthFailureFailsFast(t *testing.T) {
	source := &fakeSource{err: &errs.AuthError{TenantID: "tenant-1", StatusCode: 401}}
	store := &fakeStore{conn: testConn()}
	r := newTestReconciler(source, store, &fakeLocker{})

	_, err := r.Reconcile(context.Background(), &SyncRequest{
		TenantID:  "tenant-1",
		Mode:      models.ModeShopify,
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-10",
	})
	require.Error(t, err)

	var authErr *errs.AuthError
	assert.True(t, errors.As(err, &authErr))
	require.Len(t, store.finished, 1)
	assert.Equal(t, models.StateFailed, store.finished[0].State)
	assert.Equal(t, "auth_error", store.finished[0].FailureReason)
	assert.Empty(t, store.upserted, "a failed window never touches stored rows")
}

func TestReconcileModesFailIndependently(t *testing.T) {
	source := &fakeSource{orders: rawOrders()}
	store := &fakeStore{conn: testConn(), upsertErr: errors.New("connection reset"), upsertFails: 1}
	locker := &fakeLocker{}
	r := newTestReconciler(source, store, locker)

	results, err := r.Reconcile(context.Background(), &SyncRequest{
		TenantID:  "tenant-1",
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-10",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shopify mode")

	require.Len(t, results, 1, "the second mode still ran")
	assert.Equal(t, models.ModeFinancial, results[0].Mode)

	require.Len(t, store.finished, 2)
	assert.Equal(t, models.StateFailed, store.finished[0].State)
	assert.Equal(t, models.StateDone, store.finished[1].State)

	assert.Equal(t, locker.acquired, locker.released, "locks release on failure too")
}

func TestReconcileCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{orders: rawOrders()}
	store := &fakeStore{conn: testConn()}
	r := newTestReconciler(source, store, &fakeLocker{})

	_, err := r.Reconcile(ctx, &SyncRequest{
		TenantID:  "tenant-1",
		Mode:      models.ModeFinancial,
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-10",
	})
	require.Error(t, err)
	assert.Empty(t, store.upserted, "cancellation mid-fetch discards everything")
	require.Len(t, store.finished, 1)
	assert.Equal(t, models.StateFailed, store.finished[0].State)
}

func TestReconcileRerunProducesIdenticalRows(t *testing.T) {
	source := &fakeSource{orders: rawOrders()}
	store := &fakeStore{conn: testConn()}
	r := newTestReconciler(source, store, &fakeLocker{})

	req := &SyncRequest{
		TenantID:  "tenant-1",
		Mode:      models.ModeShopify,
		SinceDate: "2024-03-10",
		UntilDate: "2024-03-11",
	}
	_, err := r.Reconcile(context.Background(), req)
	require.NoError(t, err)
	_, err = r.Reconcile(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, store.upserted, 2)
	assert.Equal(t, store.upserted[0], store.upserted[1], "identical window and data, identical rows")
}
