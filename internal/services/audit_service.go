package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AuditRecord describes one mutation to append to the ledger
type AuditRecord struct {
	EntityType string
	EntityID   uint
	Action     string
	Actor      Actor
	Previous   map[string]any
	Next       map[string]any
}

// AuditQuery selects ledger entries. Cursor is the opaque value returned as
// NextCursor by the previous page.
type AuditQuery struct {
	EntityType string
	EntityID   uint
	ActorID    string
	Cursor     string
	Limit      int
}

// AuditPage is one reverse-chronological slice of the ledger
type AuditPage struct {
	Entries    []models.AuditEntry `json:"entries"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// ChainReport is the outcome of verifying one entity's hash chain
type ChainReport struct {
	EntityType string `json:"entity_type"`
	EntityID   uint   `json:"entity_id"`
	Entries    int    `json:"entries"`
	Valid      bool   `json:"valid"`
	BrokenAt   uint   `json:"broken_at,omitempty"`
	Problem    string `json:"problem,omitempty"`
}

type AuditService struct {
	tx  *TxRunner
	now func() time.Time
}

func NewAuditService(tx *TxRunner) *AuditService {
	return &AuditService{tx: tx, now: time.Now}
}

// Record appends an entry to the entity's chain. It must be called with the
// repositories of the transaction that performs the mutation.
func (s *AuditService) Record(ctx context.Context, repos *repository.Repositories, rec AuditRecord) (*models.AuditEntry, error) {
	last, err := repos.Audit.Last(ctx, rec.EntityType, rec.EntityID)
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
		Sequence:       1,
		Action:         rec.Action,
		ActorID:        rec.Actor.ID,
		PreviousValues: models.NormalizeValues(rec.Previous),
		NewValues:      models.NormalizeValues(rec.Next),
		Timestamp:      s.now().UTC().Truncate(models.AuditTimePrecision),
		IPAddress:      rec.Actor.IPAddress,
		UserAgent:      truncate(rec.Actor.UserAgent, 255),
	}
	if last != nil {
		entry.Sequence = last.Sequence + 1
		entry.PrevHash = last.Hash
		// A clock step backwards must not reorder the entity's history
		if lastAt := last.Timestamp.UTC(); entry.Timestamp.Before(lastAt) {
			entry.Timestamp = lastAt
		}
	}
	entry.Hash = entry.ComputeHash()

	if err := repos.Audit.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordSession appends a Login or Logout reported by the identity
// collaborator. Sessions have no row of their own and share chain 0.
func (s *AuditService) RecordSession(ctx context.Context, actor Actor, action string) (entry *models.AuditEntry, err error) {
	ctx, span := tracer.Start(ctx, "AuditService.RecordSession")
	defer func() { endSpan(span, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if action != models.AuditActionLogin && action != models.AuditActionLogout {
		return nil, ValidationError("action", "must be one of: Login Logout")
	}

	err = s.tx.InLockedTx(ctx, locker.SessionLedgerKey, func(ctx context.Context, repos *repository.Repositories) error {
		var rerr error
		entry, rerr = s.Record(ctx, repos, AuditRecord{
			EntityType: models.EntitySession,
			Action:     action,
			Actor:      actor,
			Next:       map[string]any{"actor_id": actor.ID, "role": actor.Role},
		})
		return rerr
	})
	if err != nil {
		return nil, err
	}
	logger.Log.InfoContext(ctx, "session recorded", "action", action, "actor_id", actor.ID)
	return entry, nil
}

// recordChange appends an entry holding only the fields that changed
func (s *AuditService) recordChange(ctx context.Context, repos *repository.Repositories, entityType string, entityID uint, action string, actor Actor, before, after map[string]any) error {
	prev, next := models.DiffFields(before, after)
	_, err := s.Record(ctx, repos, AuditRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Previous:   prev,
		Next:       next,
	})
	return err
}

// Page returns one page of entries, newest first
func (s *AuditService) Page(ctx context.Context, q AuditQuery) (page *AuditPage, err error) {
	ctx, span := tracer.Start(ctx, "AuditService.Page")
	defer func() { endSpan(span, err) }()

	filter, err := s.filterFor(q)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	filter.Limit = limit + 1

	var entries []models.AuditEntry
	err = s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var qerr error
		entries, qerr = repos.Audit.Query(ctx, filter)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	page = &AuditPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = encodeAuditCursor(repository.AuditCursor{Timestamp: last.Timestamp, ID: last.ID})
	}
	if page.Entries == nil {
		page.Entries = []models.AuditEntry{}
	}
	return page, nil
}

// Entries walks the ledger lazily, newest first, fetching a page at a time.
// Each range over the sequence starts again from q.Cursor.
func (s *AuditService) Entries(ctx context.Context, q AuditQuery) iter.Seq2[models.AuditEntry, error] {
	return func(yield func(models.AuditEntry, error) bool) {
		cursor := q.Cursor
		for {
			pageQuery := q
			pageQuery.Cursor = cursor
			page, err := s.Page(ctx, pageQuery)
			if err != nil {
				yield(models.AuditEntry{}, err)
				return
			}
			for _, entry := range page.Entries {
				if !yield(entry, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// QueryByEntity walks one entity's history, newest first
func (s *AuditService) QueryByEntity(ctx context.Context, entityType string, entityID uint) iter.Seq2[models.AuditEntry, error] {
	return s.Entries(ctx, AuditQuery{EntityType: entityType, EntityID: entityID})
}

// QueryByActor walks everything one actor did, newest first
func (s *AuditService) QueryByActor(ctx context.Context, actorID string) iter.Seq2[models.AuditEntry, error] {
	return s.Entries(ctx, AuditQuery{ActorID: actorID})
}

func (s *AuditService) filterFor(q AuditQuery) (repository.AuditFilter, error) {
	filter := repository.AuditFilter{
		EntityType: q.EntityType,
		EntityID:   q.EntityID,
		ActorID:    strings.TrimSpace(q.ActorID),
		Limit:      q.Limit,
	}
	if filter.EntityType != "" && !isAuditedEntity(filter.EntityType) {
		return filter, ValidationError("entity_type", "must be one of: Asset Movement Discrepancy Session")
	}
	if filter.EntityID > 0 && filter.EntityType == "" {
		return filter, ValidationError("entity_type", "is required when entity_id is given")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultAuditPageSize
	case filter.Limit > maxAuditPageSize:
		filter.Limit = maxAuditPageSize
	}
	if q.Cursor != "" {
		cursor, err := decodeAuditCursor(q.Cursor)
		if err != nil {
			return filter, ValidationError("cursor", "is malformed")
		}
		filter.Before = &cursor
	}
	return filter, nil
}

// VerifyChain recomputes an entity's hash chain and reports the first broken link
func (s *AuditService) VerifyChain(ctx context.Context, entityType string, entityID uint) (report *ChainReport, err error) {
	ctx, span := tracer.Start(ctx, "AuditService.VerifyChain")
	defer func() { endSpan(span, err) }()

	if !isAuditedEntity(entityType) {
		return nil, ValidationError("entity_type", "must be one of: Asset Movement Discrepancy Session")
	}

	var chain []models.AuditEntry
	err = s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var qerr error
		chain, qerr = repos.Audit.Chain(ctx, entityType, entityID)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	return verifyEntries(entityType, entityID, chain), nil
}

func verifyEntries(entityType string, entityID uint, chain []models.AuditEntry) *ChainReport {
	report := &ChainReport{EntityType: entityType, EntityID: entityID, Entries: len(chain), Valid: true}
	broken := func(seq uint, problem string) *ChainReport {
		report.Valid = false
		report.BrokenAt = seq
		report.Problem = problem
		return report
	}

	prevHash := ""
	var prevAt time.Time
	for i := range chain {
		entry := &chain[i]
		switch {
		case entry.Sequence != uint(i+1):
			return broken(entry.Sequence, fmt.Sprintf("expected sequence %d", i+1))
		case entry.PrevHash != prevHash:
			return broken(entry.Sequence, "previous hash does not match")
		case entry.Hash != entry.ComputeHash():
			return broken(entry.Sequence, "entry hash does not match its contents")
		case entry.Timestamp.Before(prevAt):
			return broken(entry.Sequence, "timestamp earlier than previous entry")
		}
		prevHash = entry.Hash
		prevAt = entry.Timestamp
	}
	return report
}

// VerifySince verifies every chain touched since the given time and returns
// the broken ones.
func (s *AuditService) VerifySince(ctx context.Context, since time.Time) ([]ChainReport, int, error) {
	var refs []repository.EntityRef
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var qerr error
		refs, qerr = repos.Audit.EntitiesTouchedSince(ctx, since)
		return qerr
	})
	if err != nil {
		return nil, 0, err
	}

	var broken []ChainReport
	for _, ref := range refs {
		report, err := s.VerifyChain(ctx, ref.EntityType, ref.EntityID)
		if err != nil {
			return broken, len(refs), err
		}
		if !report.Valid {
			logger.Log.ErrorContext(ctx, "audit chain broken",
				"entity_type", report.EntityType,
				"entity_id", report.EntityID,
				"sequence", report.BrokenAt,
				"problem", report.Problem)
			broken = append(broken, *report)
		}
	}
	return broken, len(refs), nil
}

func isAuditedEntity(entityType string) bool {
	switch entityType {
	case models.EntityAsset, models.EntityMovement, models.EntityDiscrepancy, models.EntitySession:
		return true
	}
	return false
}

func encodeAuditCursor(c repository.AuditCursor) string {
	raw := strconv.FormatInt(c.Timestamp.UTC().UnixMilli(), 10) + ":" + strconv.FormatUint(uint64(c.ID), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeAuditCursor(s string) (repository.AuditCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return repository.AuditCursor{}, err
	}
	msPart, idPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return repository.AuditCursor{}, fmt.Errorf("cursor has no separator")
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return repository.AuditCursor{}, err
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return repository.AuditCursor{}, err
	}
	return repository.AuditCursor{Timestamp: time.UnixMilli(ms).UTC(), ID: uint(id)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
