package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reconciliation-service/internal/broker"
	"reconciliation-service/internal/errs"
	"reconciliation-service/internal/models"
	"reconciliation-service/internal/service"
	"reconciliation-service/internal/util"
)

// EventLog is the processed-event dedupe surface, implemented by the store.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// SyncWorker consumes scheduler sync requests, drives the reconciler, and
// publishes the outcome back on the results topic.
type SyncWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	reconciler   *service.Reconciler
	publisher    *broker.EventPublisher
	events       EventLog
	logger       *zap.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	consumer *broker.Consumer,
	reconciler *service.Reconciler,
	publisher *broker.EventPublisher,
	events EventLog,
) *SyncWorker {
	w := &SyncWorker{
		consumer:   consumer,
		reconciler: reconciler,
		publisher:  publisher,
		events:     events,
		logger:     util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnSyncRequested(w.handleSyncRequested)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *SyncWorker) Start(ctx context.Context) error {
	log.Println("Starting sync worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SyncWorker) Stop() error {
	log.Println("Stopping sync worker...")
	return w.consumer.Close()
}

// handleSyncRequested runs one scheduler request end to end. The request is
// deduped by event id so a replayed message does not trigger a second pass;
// the upsert would converge anyway, but a duplicate fetch is not free. The
// outcome, success or failure, goes back to the scheduler as an event; the
// scheduler owns any transport-level retry policy.
func (w *SyncWorker) handleSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	w.logger.Info("Handling sync request",
		zap.String("event_id", event.EventID),
		zap.String("tenant_id", event.TenantID),
		zap.String("mode", event.Mode),
		zap.String("since", event.SinceDate),
		zap.String("until", event.UntilDate))

	req := &service.SyncRequest{
		TenantID:          event.TenantID,
		Mode:              models.Mode(event.Mode),
		SinceDate:         event.SinceDate,
		UntilDate:         event.UntilDate,
		ExcludeTestOrders: &event.ExcludeTestOrders,
	}

	results, runErr := w.reconciler.Reconcile(ctx, req)

	for _, res := range results {
		completed := &models.SyncCompletedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeSyncCompleted,
				Timestamp: time.Now(),
			},
			RunID:         res.RunID,
			TenantID:      res.TenantID,
			Mode:          string(res.Mode),
			SinceDate:     res.SinceDate,
			UntilDate:     res.UntilDate,
			OrdersFetched: res.OrdersFetched,
			OrdersSkipped: res.OrdersSkipped,
			RowsWritten:   res.RowsWritten,
		}
		if err := w.publisher.PublishSyncCompleted(ctx, completed); err != nil {
			w.logger.Error("Failed to publish SyncCompleted event", zap.Error(err))
		}
	}

	if runErr != nil {
		failed := &models.SyncFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeSyncFailed,
				Timestamp: time.Now(),
			},
			TenantID:  event.TenantID,
			Mode:      event.Mode,
			SinceDate: event.SinceDate,
			UntilDate: event.UntilDate,
			Reason:    errs.Reason(runErr),
		}
		if err := w.publisher.PublishSyncFailed(ctx, failed); err != nil {
			w.logger.Error("Failed to publish SyncFailed event", zap.Error(err))
		}
		w.logger.Error("Sync request failed",
			zap.String("event_id", event.EventID),
			zap.Error(runErr))
	}

	// Mark processed in both outcomes: the scheduler reacts to the result
	// events, redelivering the same request would not help.
	return w.events.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
