package coding

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/domain/documents"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/platform/websocket"
	"github.com/chiro/chiro/internal/rules"
)

// NoteSource supplies the encounter's clinical note when a suggestion run
// is not given text.
type NoteSource interface {
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*documents.ClinicalNote, error)
}

type Service struct {
	repo      Repository
	suggester ai.CodeSuggester
	ranker    *Ranker
	notes     NoteSource
	events    websocket.EventPublisher
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, suggester ai.CodeSuggester, rs *rules.Ruleset, notes NoteSource,
	events websocket.EventPublisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Service{
		repo:      repo,
		suggester: suggester,
		ranker:    NewRanker(rs),
		notes:     notes,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) providerName() string {
	if n, ok := s.suggester.(ai.Named); ok {
		return n.ProviderName()
	}
	return ""
}

// Suggest asks the model for billing codes, scores them against the note
// and stores the run as one batch of PENDING suggestions.
func (s *Service) Suggest(ctx context.Context, req SuggestRequest) ([]*Suggestion, error) {
	if req.EncounterID == uuid.Nil {
		return nil, apperror.BadRequest("encounter id is required")
	}
	text, err := s.soapText(ctx, req)
	if err != nil {
		return nil, err
	}

	history := map[string]Acceptance{}
	if req.ProviderID != "" {
		if history, err = s.repo.AcceptanceStats(ctx, req.ProviderID); err != nil {
			return nil, err
		}
	}

	candidates, err := s.suggester.SuggestCodes(ctx, text, string(rules.ParseEncounterType(req.EncounterType)))
	if err != nil {
		return nil, apperror.Internal(err, "suggest codes")
	}

	items := s.ranker.Rank(candidates, text, history, req.IncludeModifiers)
	batch := uuid.New()
	provider := s.providerName()
	for _, it := range items {
		it.BatchID = batch
		it.EncounterID = req.EncounterID
		it.ProviderID = req.ProviderID
		it.AIProvider = provider
	}
	if err := db.InTx(ctx, func(ctx context.Context) error {
		return s.repo.CreateBatch(ctx, items)
	}); err != nil {
		return nil, err
	}

	for _, it := range items {
		telemetry.Count(ctx, s.metrics.CodeSuggestions, "code_type", string(it.CodeType), "audit_risk", string(it.AuditRisk))
		if it.UpcodingRisk {
			s.logger.Info().Str("encounter_id", req.EncounterID.String()).Str("code", it.Code).
				Str("reason", it.RiskReason).Msg("upcoding risk flagged")
		}
	}
	websocket.Emit(ctx, s.events, s.logger, websocket.EventCodesSuggested, req.EncounterID, batch.String(), items)
	return items, nil
}

func (s *Service) soapText(ctx context.Context, req SuggestRequest) (string, error) {
	if strings.TrimSpace(req.SOAPText) != "" {
		return req.SOAPText, nil
	}
	if s.notes == nil {
		return "", apperror.BadRequest("soap text is required")
	}
	note, err := s.notes.GetByEncounter(ctx, req.EncounterID)
	if err != nil {
		return "", err
	}
	text := note.Combined()
	if strings.TrimSpace(text) == "" {
		return "", apperror.BadRequest("clinical note for encounter %s is empty", req.EncounterID)
	}
	return text, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Suggestion, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID, f ListFilter) ([]*Suggestion, int, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, apperror.BadRequest("unknown status %q", f.Status)
	}
	if f.CodeType != "" && !f.CodeType.Valid() {
		return nil, 0, apperror.BadRequest("unknown code type %q", f.CodeType)
	}
	return s.repo.ListByEncounter(ctx, encounterID, f)
}

func validStatus(st Status) bool {
	switch st {
	case StatusPending, StatusAccepted, StatusRejected, StatusModified:
		return true
	}
	return false
}

// decide applies the provider's one-time decision to a PENDING suggestion.
func (s *Service) decide(ctx context.Context, id uuid.UUID, actor string, to Status, modified string) (*Suggestion, error) {
	sg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg.Status != StatusPending {
		return nil, apperror.BadRequest("code suggestion %s is already %s", id, sg.Status)
	}
	s.mark(sg, actor, to)
	if to == StatusModified {
		sg.ModifiedCode = &modified
	}
	if err := s.repo.Update(ctx, sg); err != nil {
		return nil, err
	}
	return sg, nil
}

func (s *Service) mark(sg *Suggestion, actor string, to Status) {
	now := s.now().UTC()
	sg.Status = to
	sg.DecidedAt = &now
	if actor != "" {
		a := actor
		sg.DecidedBy = &a
	}
}

func (s *Service) Accept(ctx context.Context, id uuid.UUID, actor string) (*Suggestion, error) {
	return s.decide(ctx, id, actor, StatusAccepted, "")
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor string) (*Suggestion, error) {
	return s.decide(ctx, id, actor, StatusRejected, "")
}

// Modify accepts the suggestion with a replacement code.
func (s *Service) Modify(ctx context.Context, id uuid.UUID, code, actor string) (*Suggestion, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperror.BadRequest("replacement code is required")
	}
	return s.decide(ctx, id, actor, StatusModified, code)
}

// AcceptAll accepts every PENDING suggestion of the encounter, optionally
// only those of one code type.
func (s *Service) AcceptAll(ctx context.Context, encounterID uuid.UUID, codeType CodeType, actor string) ([]*Suggestion, error) {
	if codeType != "" && !codeType.Valid() {
		return nil, apperror.BadRequest("unknown code type %q", codeType)
	}
	var accepted []*Suggestion
	err := db.InTx(ctx, func(ctx context.Context) error {
		pending, _, err := s.repo.ListByEncounter(ctx, encounterID, ListFilter{Status: StatusPending, CodeType: codeType})
		if err != nil {
			return err
		}
		for _, sg := range pending {
			s.mark(sg, actor, StatusAccepted)
			if err := s.repo.Update(ctx, sg); err != nil {
				return err
			}
			accepted = append(accepted, sg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if accepted == nil {
		accepted = []*Suggestion{}
	}
	return accepted, nil
}

// AcceptanceStats returns the provider's per-code decision history.
func (s *Service) AcceptanceStats(ctx context.Context, providerID string) (map[string]Acceptance, error) {
	return s.repo.AcceptanceStats(ctx, providerID)
}

// AcceptedCodes lists the codes accepted for the encounter, using the
// replacement code for modified suggestions.
func (s *Service) AcceptedCodes(ctx context.Context, encounterID uuid.UUID) ([]string, error) {
	items, _, err := s.repo.ListByEncounter(ctx, encounterID, ListFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var codes []string
	for _, it := range items {
		if it.Status != StatusAccepted && it.Status != StatusModified {
			continue
		}
		c := it.BilledCode()
		if !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}
	return codes, nil
}
