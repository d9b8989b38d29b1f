package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/custodia-api/internal/jobs"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// Event types published after a committed state change
const (
	EventMovementRequested   = "movement.requested"
	EventMovementApproved    = "movement.approved"
	EventMovementRejected    = "movement.rejected"
	EventMovementCompleted   = "movement.completed"
	EventMovementCancelled   = "movement.cancelled"
	EventMovementDeleted     = "movement.deleted"
	EventDiscrepancyOpened   = "discrepancy.opened"
	EventDiscrepancyStarted  = "discrepancy.started"
	EventDiscrepancyResolved = "discrepancy.resolved"
	EventDiscrepancyClosed   = "discrepancy.closed"
	EventAssetScanned        = "asset.scanned"
	EventAuditChainBroken    = "audit.chain_broken"
)

// Event is a fire-and-forget notification of a committed change
type Event struct {
	Type       string    `json:"type"`
	EntityType string    `json:"entity_type"`
	EntityID   uint      `json:"entity_id"`
	AssetID    uint      `json:"asset_id"`
	Actor      string    `json:"actor"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Subject is a one-line human summary of the event
func (e Event) Subject() string {
	return fmt.Sprintf("[%s] %s #%d (asset #%d)", e.Type, e.EntityType, e.EntityID, e.AssetID)
}

// Sink delivers events to one destination
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// NotificationService fans committed events out to every sink on the worker
type NotificationService struct {
	worker *jobs.Worker
	sinks  []Sink
}

func NewNotificationService(worker *jobs.Worker, sinks ...Sink) *NotificationService {
	return &NotificationService{worker: worker, sinks: sinks}
}

// Publish hands events to the worker and returns immediately. Delivery
// failures are logged by the worker and never reach the caller.
func (s *NotificationService) Publish(events ...Event) {
	if s == nil {
		return
	}
	for _, event := range events {
		if event.At.IsZero() {
			event.At = time.Now().UTC()
		}
		for _, sink := range s.sinks {
			ev, sk := event, sink
			s.worker.EnqueueAsync("notify:"+sk.Name(), func(ctx context.Context) error {
				if err := sk.Deliver(ctx, ev); err != nil {
					return fmt.Errorf("notification sink %s failed for %s: %w", sk.Name(), ev.Type, err)
				}
				return nil
			})
		}
	}
}

// LogSink writes events to the application log
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(ctx context.Context, event Event) error {
	logger.Log.InfoContext(ctx, "event",
		"type", event.Type,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"asset_id", event.AssetID,
		"actor", event.Actor)
	return nil
}
