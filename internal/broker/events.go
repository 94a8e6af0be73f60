package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"reconciliation-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing sync lifecycle events. Requests and
// results travel on separate topics; both are keyed by tenant so one
// tenant's events stay ordered.
type EventPublisher struct {
	requests *Producer
	results  *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(requests, results *Producer) *EventPublisher {
	return &EventPublisher{requests: requests, results: results}
}

// PublishSyncRequested publishes SyncRequested to the requests topic
func (ep *EventPublisher) PublishSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	key := fmt.Sprintf("tenant-%s", event.TenantID)
	return ep.requests.PublishEvent(ctx, key, event)
}

// PublishSyncCompleted publishes SyncCompleted to the results topic
func (ep *EventPublisher) PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error {
	key := fmt.Sprintf("tenant-%s", event.TenantID)
	return ep.results.PublishEvent(ctx, key, event)
}

// PublishSyncFailed publishes SyncFailed to the results topic
func (ep *EventPublisher) PublishSyncFailed(ctx context.Context, event *models.SyncFailedEvent) error {
	key := fmt.Sprintf("tenant-%s", event.TenantID)
	return ep.results.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onSyncRequested func(context.Context, *models.SyncRequestedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnSyncRequested registers a handler for SyncRequested events
func (eh *EventHandler) OnSyncRequested(handler func(context.Context, *models.SyncRequestedEvent) error) {
	eh.onSyncRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeSyncRequested:
		if eh.onSyncRequested != nil {
			var event models.SyncRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SyncRequested event: %w", err)
			}
			return eh.onSyncRequested(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
