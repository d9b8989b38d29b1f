package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

// Observation is what someone actually saw. Nil fields were not observed.
type Observation struct {
	Location  *models.LocationRef `json:"location"`
	Custodian *string            `json:"custodian"`
}

// normalized drops empty observations so they never count as mismatches
func (o Observation) normalized() Observation {
	out := Observation{}
	if o.Location != nil && !o.Location.IsZero() {
		loc := *o.Location
		out.Location = &loc
	}
	if o.Custodian != nil {
		if c := strings.TrimSpace(*o.Custodian); c != "" {
			out.Custodian = &c
		}
	}
	return out
}

func (o Observation) auditValues() (location, custodian any) {
	if o.Location != nil {
		location = o.Location.Key()
	}
	if o.Custodian != nil {
		custodian = *o.Custodian
	}
	return location, custodian
}

// ScanInput is one event from the scan collaborator
type ScanInput struct {
	AssetTag          string              `json:"asset_tag" validate:"required,max=64"`
	ObservedLocation  *models.LocationRef `json:"observed_location"`
	ObservedCustodian *string             `json:"observed_custodian"`
	ScannedAt         *time.Time          `json:"scanned_at"`
}

// ScanResult reports what a scan changed
type ScanResult struct {
	Asset    *models.Asset         `json:"asset"`
	InSync   bool                  `json:"in_sync"`
	Opened   []*models.Discrepancy `json:"opened"`
	Existing int                   `json:"existing_open"`
}

// ReconciliationService compares observed asset state with the recorded
// state and opens discrepancies for the differences.
type ReconciliationService struct {
	tx            *TxRunner
	audit         *AuditService
	discrepancies *DiscrepancyService
	notifier      *NotificationService
}

func NewReconciliationService(tx *TxRunner, audit *AuditService, discrepancies *DiscrepancyService, notifier *NotificationService) *ReconciliationService {
	return &ReconciliationService{
		tx:            tx,
		audit:         audit,
		discrepancies: discrepancies,
		notifier:      notifier,
	}
}

type reconcileOutcome struct {
	opened   []*models.Discrepancy
	existing int
}

func (o reconcileOutcome) inSync() bool {
	return len(o.opened) == 0 && o.existing == 0
}

// reconcile runs inside the caller's transaction against the asset's
// authoritative values. An active discrepancy of the same type already on
// the asset is left alone, so repeated input opens nothing new. The asset
// and movement flags are set in memory for the caller to persist.
func (s *ReconciliationService) reconcile(ctx context.Context, repos *repository.Repositories, actor Actor, asset *models.Asset, movement *models.Movement, observed Observation) (reconcileOutcome, error) {
	var out reconcileOutcome
	observed = observed.normalized()

	type mismatch struct {
		kind             string
		expected, actual string
	}
	var mismatches []mismatch
	if observed.Location != nil {
		current := asset.CurrentLocation()
		if !current.Equal(*observed.Location) {
			mismatches = append(mismatches, mismatch{models.DiscrepancyTypeLocation, current.Key(), observed.Location.Key()})
		}
	}
	if observed.Custodian != nil && *observed.Custodian != asset.Custodian {
		mismatches = append(mismatches, mismatch{models.DiscrepancyTypeCustodian, asset.Custodian, *observed.Custodian})
	}

	for _, m := range mismatches {
		existing, err := repos.Discrepancy.FindActiveByAssetAndType(ctx, asset.ID, m.kind)
		if err != nil {
			return out, err
		}
		if existing != nil {
			out.existing++
			continue
		}

		d := &models.Discrepancy{
			Type:          m.kind,
			ExpectedValue: m.expected,
			ActualValue:   m.actual,
			Source:        models.DiscrepancySourceReconciliation,
			Description:   describeMismatch(m.kind, m.expected, m.actual, movement),
		}
		if err := s.discrepancies.open(ctx, repos, actor, asset, movement, d); err != nil {
			return out, err
		}
		out.opened = append(out.opened, d)
	}
	return out, nil
}

func describeMismatch(kind, expected, actual string, movement *models.Movement) string {
	if expected == "" {
		expected = "(none)"
	}
	source := "scan"
	if movement != nil {
		source = fmt.Sprintf("completion of movement #%d", movement.ID)
	}
	return fmt.Sprintf("%s mismatch on %s: expected %s, observed %s", kind, source, expected, actual)
}

// ProcessScan records a scan of the asset and reconciles what was observed
// against its stored state.
func (s *ReconciliationService) ProcessScan(ctx context.Context, actor Actor, input ScanInput) (result *ScanResult, err error) {
	ctx, span := tracer.Start(ctx, "ReconciliationService.ProcessScan")
	defer func() { endSpan(span, err) }()

	input.AssetTag = strings.TrimSpace(input.AssetTag)
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var target *models.Asset
	err = s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		target, err = repos.Asset.FindByTag(ctx, input.AssetTag)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFoundError("asset", input.AssetTag)
		}
		return nil, err
	}

	scannedAt := time.Now().UTC()
	if input.ScannedAt != nil && !input.ScannedAt.IsZero() {
		scannedAt = input.ScannedAt.UTC()
	}
	observed := Observation{Location: input.ObservedLocation, Custodian: input.ObservedCustodian}.normalized()

	result = &ScanResult{}
	err = s.tx.InAssetTx(ctx, target.ID, func(ctx context.Context, repos *repository.Repositories) error {
		asset, err := lockAsset(ctx, repos, target.ID)
		if err != nil {
			return err
		}
		if asset.IsRetired() {
			return ValidationError("asset_tag", "asset is retired and cannot be scanned")
		}

		before := asset.AuditFields()
		if asset.LastScannedAt == nil || scannedAt.After(*asset.LastScannedAt) {
			asset.LastScannedAt = &scannedAt
		}

		outcome, err := s.reconcile(ctx, repos, actor, asset, nil, observed)
		if err != nil {
			return err
		}

		after := asset.AuditFields()
		prev, next := models.DiffFields(before, after)
		if len(next) > 0 {
			if err := repos.Asset.Update(ctx, asset); err != nil {
				return err
			}
		}
		next["observed_location"], next["observed_custodian"] = observed.auditValues()
		next["scanned_at"] = scannedAt.Format(time.RFC3339Nano)
		if _, err := s.audit.Record(ctx, repos, AuditRecord{
			EntityType: models.EntityAsset,
			EntityID:   asset.ID,
			Action:     models.AuditActionScan,
			Actor:      actor,
			Previous:   prev,
			Next:       next,
		}); err != nil {
			return err
		}

		result.Asset = asset
		result.Opened = outcome.opened
		result.Existing = outcome.existing
		result.InSync = outcome.inSync()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "asset scanned",
		"asset_id", result.Asset.ID, "in_sync", result.InSync, "opened", len(result.Opened), "actor", actor.ID)

	events := []Event{{
		Type:       EventAssetScanned,
		EntityType: models.EntityAsset,
		EntityID:   result.Asset.ID,
		AssetID:    result.Asset.ID,
		Actor:      actor.ID,
	}}
	for _, d := range result.Opened {
		events = append(events, discrepancyEvent(EventDiscrepancyOpened, d, actor))
	}
	s.notifier.Publish(events...)
	return result, nil
}
