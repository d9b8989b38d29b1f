package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/custodia-api/internal/models"
)

// DiscrepancyFSM wraps a discrepancy with its state machine
type DiscrepancyFSM struct {
	discrepancy *models.Discrepancy
	fsm         *fsm.FSM
}

// NewDiscrepancyFSM creates a new discrepancy state machine
func NewDiscrepancyFSM(discrepancy *models.Discrepancy) *DiscrepancyFSM {
	dfsm := &DiscrepancyFSM{discrepancy: discrepancy}

	dfsm.fsm = fsm.NewFSM(
		discrepancy.Status,
		fsm.Events{
			{Name: "start", Src: []string{models.DiscrepancyStatusOpen}, Dst: models.DiscrepancyStatusInProgress},
			{Name: "resolve", Src: []string{models.DiscrepancyStatusOpen, models.DiscrepancyStatusInProgress}, Dst: models.DiscrepancyStatusResolved},
			{Name: "close", Src: []string{models.DiscrepancyStatusResolved}, Dst: models.DiscrepancyStatusClosed},
		},
		fsm.Callbacks{},
	)

	return dfsm
}

// Start transitions discrepancy to in_progress
func (d *DiscrepancyFSM) Start(ctx context.Context) error {
	if !d.discrepancy.MayStart() {
		return fmt.Errorf("%w: discrepancy cannot be started in current state: %s", ErrInvalidTransition, d.discrepancy.Status)
	}
	return d.fire(ctx, "start")
}

// Resolve transitions discrepancy to resolved
func (d *DiscrepancyFSM) Resolve(ctx context.Context) error {
	if !d.discrepancy.MayResolve() {
		return fmt.Errorf("%w: discrepancy is already %s", ErrInvalidTransition, d.discrepancy.Status)
	}
	return d.fire(ctx, "resolve")
}

// Close transitions discrepancy to closed; only resolved ones may close
func (d *DiscrepancyFSM) Close(ctx context.Context) error {
	if !d.discrepancy.MayClose() {
		return fmt.Errorf("%w: discrepancy must be resolved before closing, current state: %s", ErrInvalidTransition, d.discrepancy.Status)
	}
	return d.fire(ctx, "close")
}

func (d *DiscrepancyFSM) fire(ctx context.Context, event string) error {
	if err := d.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: failed to %s discrepancy: %v", ErrInvalidTransition, event, err)
	}
	d.discrepancy.Status = d.fsm.Current()
	return nil
}

// Current returns the current state
func (d *DiscrepancyFSM) Current() string {
	return d.fsm.Current()
}
