package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reconciliation-service/internal/calculator"
	"reconciliation-service/internal/classifier"
	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/normalizer"
	"reconciliation-service/internal/shopify"
	"reconciliation-service/internal/util"
)

// OrderSource pulls one tenant window's raw orders from the platform.
// Implemented by the fetcher.
type OrderSource interface {
	FetchWindow(ctx context.Context, conn models.ShopConnection, window models.Window, excludeTest bool) ([]shopify.Order, error)
}

// ReconStore is the persistence surface one run needs. Implemented by the
// postgres store.
type ReconStore interface {
	GetShopConnection(ctx context.Context, tenantID string) (*models.ShopConnection, error)
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRunState(ctx context.Context, runID, state string) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
	UpsertDailySales(ctx context.Context, rows []models.DailySalesRow) error
}

// RunLocker serializes runs per (tenant, mode) and caches run status for
// dashboards. Implemented by the redis client.
type RunLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
	SetSyncStatus(ctx context.Context, status models.SyncStatus) error
}

// Reconciler drives one reconciliation pass per (tenant, mode, window):
// fetch, normalize, classify, aggregate, persist. Each pass owns its
// in-memory order set; nothing is shared between concurrent runs beyond
// the per-(tenant, mode) lock.
type Reconciler struct {
	source            OrderSource
	store             ReconStore
	locker            RunLocker
	lockTTL           time.Duration
	excludeTestOrders bool
	logger            *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(source OrderSource, store ReconStore, locker RunLocker, lockTTL time.Duration, excludeTestOrders bool) *Reconciler {
	return &Reconciler{
		source:            source,
		store:             store,
		locker:            locker,
		lockTTL:           lockTTL,
		excludeTestOrders: excludeTestOrders,
		logger:            util.GetLogger(),
	}
}

// SyncRequest asks for a recompute of one tenant window. Mode empty means
// both modes; dates empty default to yesterday through today in the
// tenant's timezone.
type SyncRequest struct {
	TenantID          string      `json:"tenant_id" binding:"required"`
	Mode              models.Mode `json:"mode,omitempty"`
	SinceDate         string      `json:"since_date,omitempty"`
	UntilDate         string      `json:"until_date,omitempty"`
	ExcludeTestOrders *bool       `json:"exclude_test_orders,omitempty"`
}

// SyncResult summarizes one finished (tenant, mode, window) pass.
type SyncResult struct {
	RunID         string      `json:"run_id"`
	TenantID      string      `json:"tenant_id"`
	Mode          models.Mode `json:"mode"`
	SinceDate     string      `json:"since_date"`
	UntilDate     string      `json:"until_date"`
	OrdersFetched int         `json:"orders_fetched"`
	OrdersSkipped int         `json:"orders_skipped"`
	RowsWritten   int         `json:"rows_written"`
}

// Reconcile runs the requested modes sequentially and independently: a
// failure in one mode does not stop the other, and the errors come back
// joined. Results cover only the modes that completed.
func (r *Reconciler) Reconcile(ctx context.Context, req *SyncRequest) ([]SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	if req.Mode != "" && !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}

	conn, err := r.store.GetShopConnection(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	loc := conn.Location()

	window, err := r.resolveWindow(req, loc)
	if err != nil {
		return nil, err
	}

	excludeTest := r.excludeTestOrders
	if req.ExcludeTestOrders != nil {
		excludeTest = *req.ExcludeTestOrders
	}

	modes := []models.Mode{req.Mode}
	if req.Mode == "" {
		modes = models.AllModes()
	}

	var results []SyncResult
	var errList []error
	for _, mode := range modes {
		result, err := r.reconcileMode(ctx, conn, mode, window, excludeTest)
		if err != nil {
			errList = append(errList, fmt.Errorf("%s mode: %w", mode, err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errList...)
}

// resolveWindow fills missing dates: until defaults to today and since to
// yesterday, both in the tenant's timezone, matching the nightly scheduler
// cadence of re-reconciling the most recent two days.
func (r *Reconciler) resolveWindow(req *SyncRequest, loc *time.Location) (models.Window, error) {
	since, until := req.SinceDate, req.UntilDate
	now := time.Now().In(loc)
	if until == "" {
		until = now.Format(models.DateLayout)
	}
	if since == "" {
		since = now.AddDate(0, 0, -1).Format(models.DateLayout)
	}
	return models.NewWindow(since, until, loc)
}

// reconcileMode walks one run through the state machine. Any failure is
// terminal for the window: stored rows stay untouched and re-invoking the
// same window is the retry path.
func (r *Reconciler) reconcileMode(ctx context.Context, conn *models.ShopConnection, mode models.Mode, window models.Window, excludeTest bool) (SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReconcileMode")
	defer span.End()

	loc := conn.Location()
	lockKey := fmt.Sprintf("sync:%s:%s", conn.TenantID, mode)

	acquired, err := r.locker.AcquireLock(ctx, lockKey, r.lockTTL)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return SyncResult{}, errs.ErrSyncInProgress
	}
	defer func() {
		if err := r.locker.ReleaseLock(context.Background(), lockKey); err != nil {
			r.logger.Error("Failed to release run lock", zap.String("lock_key", lockKey), zap.Error(err))
		}
	}()

	run := &models.SyncRun{
		ID:        uuid.New().String(),
		TenantID:  conn.TenantID,
		Mode:      mode,
		SinceDate: window.SinceDate(loc),
		UntilDate: window.UntilDate(loc),
		State:     models.StateFetching,
	}
	if err := r.store.CreateSyncRun(ctx, run); err != nil {
		return SyncResult{}, fmt.Errorf("failed to create sync run: %w", err)
	}
	r.publishStatus(ctx, run)
	r.logger.Info("Reconciliation run started",
		zap.String("run_id", run.ID),
		zap.String("tenant_id", run.TenantID),
		zap.String("mode", string(mode)),
		zap.String("since", run.SinceDate),
		zap.String("until", run.UntilDate))

	rawOrders, err := r.source.FetchWindow(ctx, *conn, window, excludeTest)
	if err != nil {
		return SyncResult{}, r.fail(ctx, run, err)
	}
	run.OrdersFetched = len(rawOrders)

	r.advance(ctx, run, models.StateNormalizing)
	orders, skipped := normalizer.NormalizeAll(rawOrders)
	run.OrdersSkipped = skipped

	r.advance(ctx, run, models.StateClassifying)
	classes := classifier.Classify(orders)

	r.advance(ctx, run, models.StateAggregating)
	currency := conn.Currency
	if currency == "" && len(orders) > 0 {
		currency = orders[0].Currency
	}
	aggStart := time.Now()
	rows, err := calculator.DailyAggregates(conn.TenantID, currency, orders, classes, mode, loc, window)
	util.AggregateLatency.Observe(time.Since(aggStart).Seconds())
	if err != nil {
		return SyncResult{}, r.fail(ctx, run, err)
	}

	r.advance(ctx, run, models.StatePersisting)
	upsertStart := time.Now()
	if err := r.store.UpsertDailySales(ctx, rows); err != nil {
		util.UpsertLatency.Observe(time.Since(upsertStart).Seconds())
		return SyncResult{}, r.fail(ctx, run, err)
	}
	util.UpsertLatency.Observe(time.Since(upsertStart).Seconds())
	util.DailyRowsUpsertedTotal.Add(float64(len(rows)))
	run.RowsWritten = len(rows)

	run.State = models.StateDone
	if err := r.store.FinishSyncRun(ctx, run); err != nil {
		r.logger.Error("Failed to record finished run", zap.String("run_id", run.ID), zap.Error(err))
	}
	r.publishStatus(ctx, run)
	util.SyncRunsTotal.WithLabelValues(string(mode), "success").Inc()
	r.logger.Info("Reconciliation run finished",
		zap.String("run_id", run.ID),
		zap.Int("orders_fetched", run.OrdersFetched),
		zap.Int("orders_skipped", run.OrdersSkipped),
		zap.Int("rows_written", run.RowsWritten))

	return SyncResult{
		RunID:         run.ID,
		TenantID:      run.TenantID,
		Mode:          mode,
		SinceDate:     run.SinceDate,
		UntilDate:     run.UntilDate,
		OrdersFetched: run.OrdersFetched,
		OrdersSkipped: run.OrdersSkipped,
		RowsWritten:   run.RowsWritten,
	}, nil
}

// advance moves the run to the next state. Bookkeeping failures are logged
// and do not abort the run: the run record is an audit trail, not a
// correctness dependency.
func (r *Reconciler) advance(ctx context.Context, run *models.SyncRun, state string) {
	run.State = state
	if err := r.store.UpdateSyncRunState(ctx, run.ID, state); err != nil {
		r.logger.Error("Failed to record run state",
			zap.String("run_id", run.ID),
			zap.String("state", state),
			zap.Error(err))
	}
	r.publishStatus(ctx, run)
}

// fail records the terminal failure and hands the original error back.
// A failed window leaves its stored rows exactly as they were.
func (r *Reconciler) fail(ctx context.Context, run *models.SyncRun, cause error) error {
	run.State = models.StateFailed
	run.FailureReason = errs.Reason(cause)

	var invariant *errs.ReconciliationInvariantViolation
	if errors.As(cause, &invariant) {
		util.InvariantViolationsTotal.Inc()
	}

	// The run ctx may already be cancelled; the terminal record still has
	// to land.
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.FinishSyncRun(recordCtx, run); err != nil {
		r.logger.Error("Failed to record failed run", zap.String("run_id", run.ID), zap.Error(err))
	}
	r.publishStatus(recordCtx, run)
	util.SyncRunsTotal.WithLabelValues(string(run.Mode), "failed").Inc()
	r.logger.Error("Reconciliation run failed",
		zap.String("run_id", run.ID),
		zap.String("tenant_id", run.TenantID),
		zap.String("mode", string(run.Mode)),
		zap.String("reason", run.FailureReason),
		zap.Error(cause))
	return cause
}

// publishStatus mirrors the run into the redis status cache; dashboard
// reads never hit postgres. Failures only log.
func (r *Reconciler) publishStatus(ctx context.Context, run *models.SyncRun) {
	status := models.SyncStatus{
		TenantID:  run.TenantID,
		Mode:      run.Mode,
		RunID:     run.ID,
		State:     run.State,
		SinceDate: run.SinceDate,
		UntilDate: run.UntilDate,
		UpdatedAt: time.Now(),
	}
	if err := r.locker.SetSyncStatus(ctx, status); err != nil {
		r.logger.Warn("Failed to cache sync status", zap.String("run_id", run.ID), zap.Error(err))
	}
}
