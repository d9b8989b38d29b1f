package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/internal/statemachine"
	"github.com/sjperalta/custodia-api/pkg/logger"
	"gorm.io/gorm"
)

// MovementInput requests a relocation or custody change. From values, when
// given, must match the asset's current state. Unset To values keep the
// asset's current value.
type MovementInput struct {
	AssetID       uint                `json:"asset_id" validate:"required"`
	Type          string              `json:"type" validate:"required,oneof=transfer checkout return maintenance disposal"`
	From          *models.LocationRef `json:"from"`
	To            *models.LocationRef `json:"to"`
	FromCustodian *string             `json:"from_custodian" validate:"omitempty,max=128"`
	ToCustodian   *string             `json:"to_custodian" validate:"omitempty,max=128"`
	Reason        string              `json:"reason" validate:"max=2000"`
}

// assetStatusAfter is the asset status a completed movement leaves behind.
// Types not listed keep the current status.
var assetStatusAfter = map[string]string{
	models.MovementTypeCheckout:    models.AssetStatusInUse,
	models.MovementTypeReturn:      models.AssetStatusAvailable,
	models.MovementTypeMaintenance: models.AssetStatusInMaintenance,
	models.MovementTypeDisposal:    models.AssetStatusRetired,
}

type MovementService struct {
	tx        *TxRunner
	audit     *AuditService
	reconcile *ReconciliationService
	notifier  *NotificationService
	policy    statemachine.CompletionPolicy
}

func NewMovementService(tx *TxRunner, audit *AuditService, reconcile *ReconciliationService, notifier *NotificationService, policy statemachine.CompletionPolicy) *MovementService {
	return &MovementService{
		tx:        tx,
		audit:     audit,
		reconcile: reconcile,
		notifier:  notifier,
		policy:    policy,
	}
}

// Request creates a movement in requested state. An asset holds at most
// one in-flight movement.
func (s *MovementService) Request(ctx context.Context, actor Actor, input MovementInput) (m *models.Movement, err error) {
	ctx, span := tracer.Start(ctx, "MovementService.Request")
	defer func() { endSpan(span, err) }()

	input.Type = strings.ToLower(strings.TrimSpace(input.Type))
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	err = s.tx.InAssetTx(ctx, input.AssetID, func(ctx context.Context, repos *repository.Repositories) error {
		asset, err := lockAsset(ctx, repos, input.AssetID)
		if err != nil {
			return err
		}
		if asset.IsRetired() {
			return ValidationError("asset_id", "asset is retired")
		}
		inFlight, err := repos.Movement.FindInFlightByAsset(ctx, asset.ID)
		if err != nil {
			return err
		}
		if inFlight != nil {
			return ValidationError("asset_id", "asset already has an open movement")
		}

		m, err = buildMovement(asset, input)
		if err != nil {
			return err
		}
		m.RequestedBy = actor.ID
		m.RequestDate = time.Now().UTC()

		if err := repos.Movement.Create(ctx, m); err != nil {
			return err
		}
		return s.audit.recordChange(ctx, repos, models.EntityMovement, m.ID, models.AuditActionCreate, actor, nil, m.AuditFields())
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "movement requested",
		"movement_id", m.ID, "asset_id", m.AssetID, "type", m.Type, "actor", actor.ID)
	s.notifier.Publish(movementEvent(EventMovementRequested, m, actor))
	return m, nil
}

// buildMovement checks the request against the asset and fills the declared
// from and to values.
func buildMovement(asset *models.Asset, input MovementInput) (*models.Movement, error) {
	current := asset.CurrentLocation()
	if input.From != nil && !input.From.IsZero() && !input.From.Equal(current) {
		return nil, ValidationError("from", "does not match the asset's current location")
	}
	if input.FromCustodian != nil && strings.TrimSpace(*input.FromCustodian) != asset.Custodian {
		return nil, ValidationError("from_custodian", "does not match the asset's current custodian")
	}

	m := &models.Movement{
		Type:          input.Type,
		AssetID:       asset.ID,
		From:          current,
		FromCustodian: asset.Custodian,
		Status:        models.MovementStatusRequested,
		Reason:        strings.TrimSpace(input.Reason),
	}

	toLocation := input.To != nil && !input.To.IsZero()
	toCustodian := input.ToCustodian != nil && strings.TrimSpace(*input.ToCustodian) != ""

	if !m.RequiresDestination() {
		if toLocation || toCustodian {
			return nil, ValidationError("to", "must be empty for a disposal")
		}
		return m, nil
	}
	if !toLocation && !toCustodian {
		return nil, ValidationError("to", "is required for a "+input.Type+" movement")
	}

	m.To = current
	if toLocation {
		m.To = *input.To
	}
	m.ToCustodian = asset.Custodian
	if input.Type == models.MovementTypeReturn {
		m.ToCustodian = ""
	}
	if toCustodian {
		m.ToCustodian = strings.TrimSpace(*input.ToCustodian)
	}

	if input.Type == models.MovementTypeTransfer && m.To.Equal(current) && m.ToCustodian == asset.Custodian {
		return nil, ValidationError("to", "matches the asset's current location and custodian")
	}
	return m, nil
}

// Approve accepts a requested movement
func (s *MovementService) Approve(ctx context.Context, id uint, actor Actor) (m *models.Movement, err error) {
	ctx, span := tracer.Start(ctx, "MovementService.Approve")
	defer func() { endSpan(span, err) }()

	m, err = s.transition(ctx, id, actor, models.AuditActionApprove, func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error {
		if err := statemachine.NewMovementFSM(m, s.policy).Approve(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		m.ApprovalDate = &now
		m.ApprovedBy = &actor.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(movementEvent(EventMovementApproved, m, actor))
	return m, nil
}

// Reject declines a requested movement. The decision date and actor are
// kept in the approval fields.
func (s *MovementService) Reject(ctx context.Context, id uint, actor Actor, reason string) (m *models.Movement, err error) {
	ctx, span := tracer.Start(ctx, "MovementService.Reject")
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if err := requireText("reason", reason); err != nil {
		return nil, err
	}

	m, err = s.transition(ctx, id, actor, models.AuditActionReject, func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error {
		if err := statemachine.NewMovementFSM(m, s.policy).Reject(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		m.ApprovalDate = &now
		m.ApprovedBy = &actor.ID
		m.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(movementEvent(EventMovementRejected, m, actor))
	return m, nil
}

// Cancel withdraws a requested or approved movement. The asset is untouched.
func (s *MovementService) Cancel(ctx context.Context, id uint, actor Actor) (m *models.Movement, err error) {
	ctx, span := tracer.Start(ctx, "MovementService.Cancel")
	defer func() { endSpan(span, err) }()

	m, err = s.transition(ctx, id, actor, models.AuditActionCancel, func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error {
		if err := statemachine.NewMovementFSM(m, s.policy).Cancel(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		m.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(movementEvent(EventMovementCancelled, m, actor))
	return m, nil
}

// Complete executes the movement: in one transaction the movement becomes
// completed, the asset takes the declared destination, the observed values
// are reconciled against it, and both changes are audited.
func (s *MovementService) Complete(ctx context.Context, id uint, actor Actor, observed Observation) (m *models.Movement, err error) {
	ctx, span := tracer.Start(ctx, "MovementService.Complete")
	defer func() { endSpan(span, err) }()

	observed = observed.normalized()
	var opened []*models.Discrepancy

	m, err = s.transition(ctx, id, actor, models.AuditActionComplete, func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error {
		asset, err := lockAsset(ctx, repos, m.AssetID)
		if err != nil {
			return err
		}
		if asset.IsRetired() && m.Type != models.MovementTypeDisposal {
			return InvalidStateError("asset is retired; only a disposal can complete")
		}
		if err := statemachine.NewMovementFSM(m, s.policy).Complete(ctx); err != nil {
			return err
		}
		assetBefore := asset.AuditFields()

		now := time.Now().UTC()
		m.CompletionDate = &now
		m.CompletedBy = &actor.ID
		if observed.Location != nil {
			text := observed.Location.Key()
			m.ObservedLocation = &text
		}
		m.ObservedCustodian = observed.Custodian

		if status, ok := assetStatusAfter[m.Type]; ok {
			asset.Status = status
		}
		if m.Type == models.MovementTypeDisposal {
			asset.SetLocation(models.LocationRef{})
			asset.Custodian = ""
		} else {
			asset.SetLocation(m.To)
			asset.Custodian = m.ToCustodian

			outcome, err := s.reconcile.reconcile(ctx, repos, actor, asset, m, observed)
			if err != nil {
				return err
			}
			opened = outcome.opened
		}

		if err := repos.Asset.Update(ctx, asset); err != nil {
			return err
		}
		return s.audit.recordChange(ctx, repos, models.EntityAsset, asset.ID, models.AuditActionUpdate, actor, assetBefore, asset.AuditFields())
	})
	if err != nil {
		return nil, err
	}

	events := []Event{movementEvent(EventMovementCompleted, m, actor)}
	for _, d := range opened {
		events = append(events, discrepancyEvent(EventDiscrepancyOpened, d, actor))
	}
	s.notifier.Publish(events...)
	return m, nil
}

// Delete removes a movement nobody has acted on yet
func (s *MovementService) Delete(ctx context.Context, id uint, actor Actor) (err error) {
	ctx, span := tracer.Start(ctx, "MovementService.Delete")
	defer func() { endSpan(span, err) }()

	var deleted *models.Movement
	err = s.withMovement(ctx, id, actor, func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error {
		if !m.MayDelete() {
			return InvalidStateError("only requested movements can be deleted, current state: " + m.Status)
		}
		if err := repos.Movement.Delete(ctx, m.ID); err != nil {
			return err
		}
		deleted = m
		return s.audit.recordChange(ctx, repos, models.EntityMovement, m.ID, models.AuditActionDelete, actor, m.AuditFields(), nil)
	})
	if err != nil {
		return err
	}

	logger.Log.InfoContext(ctx, "movement deleted", "movement_id", id, "asset_id", deleted.AssetID, "actor", actor.ID)
	s.notifier.Publish(movementEvent(EventMovementDeleted, deleted, actor))
	return nil
}

type movementStep func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error

// withMovement loads the movement under its asset's lock and runs fn in one
// transaction.
func (s *MovementService) withMovement(ctx context.Context, id uint, actor Actor, fn movementStep) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}

	return s.tx.InAssetTx(ctx, current.AssetID, func(ctx context.Context, repos *repository.Repositories) error {
		// Asset row before movement row, the same order as every other
		// asset-scoped write.
		if _, err := lockAsset(ctx, repos, current.AssetID); err != nil {
			return err
		}
		m, err := repos.Movement.FindForUpdate(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError("movement", id)
		}
		if err != nil {
			return err
		}
		return fn(ctx, repos, m)
	})
}

// transition applies a state change, saves the movement and audits it
func (s *MovementService) transition(ctx context.Context, id uint, actor Actor, action string, apply movementStep) (*models.Movement, error) {
	var out *models.Movement
	err := s.withMovement(ctx, id, actor, func(ctx context.Context, repos *repository.Repositories, m *models.Movement) error {
		before := m.AuditFields()
		if err := apply(ctx, repos, m); err != nil {
			return err
		}
		if err := repos.Movement.Update(ctx, m); err != nil {
			return err
		}
		out = m
		return s.audit.recordChange(ctx, repos, models.EntityMovement, m.ID, action, actor, before, m.AuditFields())
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "movement transitioned",
		"movement_id", out.ID, "asset_id", out.AssetID, "status", out.Status, "actor", actor.ID)
	return out, nil
}

func (s *MovementService) FindByID(ctx context.Context, id uint) (*models.Movement, error) {
	var m *models.Movement
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		m, err = repos.Movement.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError("movement", id)
		}
		return err
	})
	return m, err
}

func (s *MovementService) List(ctx context.Context, query *repository.ListQuery) ([]models.Movement, int64, error) {
	var (
		items []models.Movement
		total int64
	)
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		items, total, err = repos.Movement.List(ctx, query)
		return err
	})
	return items, total, err
}

func movementEvent(eventType string, m *models.Movement, actor Actor) Event {
	return Event{
		Type:       eventType,
		EntityType: models.EntityMovement,
		EntityID:   m.ID,
		AssetID:    m.AssetID,
		Actor:      actor.ID,
		Detail:     m.Type,
	}
}
