package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/custodia-api/internal/models"
)

// MovementFSM wraps a movement with its state machine
type MovementFSM struct {
	movement     *models.Movement
	fsm          *fsm.FSM
	selfComplete bool
}

// NewMovementFSM creates a new movement state machine
func NewMovementFSM(movement *models.Movement, policy CompletionPolicy) *MovementFSM {
	mfsm := &MovementFSM{
		movement:     movement,
		selfComplete: policy.AllowsSelfComplete(movement.Type),
	}

	completeFrom := []string{models.MovementStatusApproved}
	if mfsm.selfComplete {
		completeFrom = append(completeFrom, models.MovementStatusRequested)
	}

	mfsm.fsm = fsm.NewFSM(
		movement.Status,
		fsm.Events{
			// requested → approved
			{Name: "approve", Src: []string{models.MovementStatusRequested}, Dst: models.MovementStatusApproved},

			// requested → rejected
			{Name: "reject", Src: []string{models.MovementStatusRequested}, Dst: models.MovementStatusRejected},

			// approved (or requested, for self-completing types) → completed
			{Name: "complete", Src: completeFrom, Dst: models.MovementStatusCompleted},

			// requested/approved → cancelled
			{Name: "cancel", Src: []string{models.MovementStatusRequested, models.MovementStatusApproved}, Dst: models.MovementStatusCancelled},
		},
		fsm.Callbacks{},
	)

	return mfsm
}

// Approve transitions movement to approved state
func (m *MovementFSM) Approve(ctx context.Context) error {
	if !m.movement.MayApprove() {
		return fmt.Errorf("%w: movement cannot be approved in current state: %s", ErrInvalidTransition, m.movement.Status)
	}
	return m.fire(ctx, "approve")
}

// Reject transitions movement to rejected state
func (m *MovementFSM) Reject(ctx context.Context) error {
	if !m.movement.MayReject() {
		return fmt.Errorf("%w: movement cannot be rejected in current state: %s", ErrInvalidTransition, m.movement.Status)
	}
	return m.fire(ctx, "reject")
}

// Complete transitions movement to completed state
func (m *MovementFSM) Complete(ctx context.Context) error {
	if !m.movement.MayComplete(m.selfComplete) {
		if m.movement.Status == models.MovementStatusRequested {
			return fmt.Errorf("%w: %s movement must be approved before completion", ErrInvalidTransition, m.movement.Type)
		}
		return fmt.Errorf("%w: movement cannot be completed in current state: %s", ErrInvalidTransition, m.movement.Status)
	}
	return m.fire(ctx, "complete")
}

// Cancel transitions movement to cancelled state
func (m *MovementFSM) Cancel(ctx context.Context) error {
	if !m.movement.MayCancel() {
		return fmt.Errorf("%w: movement cannot be cancelled in current state: %s", ErrInvalidTransition, m.movement.Status)
	}
	return m.fire(ctx, "cancel")
}

func (m *MovementFSM) fire(ctx context.Context, event string) error {
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: failed to %s movement: %v", ErrInvalidTransition, event, err)
	}
	m.movement.Status = m.fsm.Current()
	return nil
}

// Current returns the current state
func (m *MovementFSM) Current() string {
	return m.fsm.Current()
}

// Can checks if a transition is possible
func (m *MovementFSM) Can(event string) bool {
	return m.fsm.Can(event)
}
