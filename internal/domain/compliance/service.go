package compliance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chiro/chiro/internal/domain/documents"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/platform/websocket"
	"github.com/chiro/chiro/internal/rules"
	"github.com/chiro/chiro/internal/soap"
)

// NoteSource reads and amends the encounter's clinical note.
type NoteSource interface {
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*documents.ClinicalNote, error)
	PriorNotes(ctx context.Context, patientID, encounterID uuid.UUID, limit int) ([]soap.Sections, error)
	AppendToSection(ctx context.Context, encounterID uuid.UUID, section soap.Section, text string) (*documents.ClinicalNote, error)
}

// CodeSource lists the billing codes accepted for an encounter.
type CodeSource interface {
	AcceptedCodes(ctx context.Context, encounterID uuid.UUID) ([]string, error)
}

type Service struct {
	repo    Repository
	checker ai.ComplianceChecker
	engine  *Engine
	rules   *rules.Ruleset
	notes   NoteSource
	codes   CodeSource
	events  websocket.EventPublisher
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, checker ai.ComplianceChecker, rs *rules.Ruleset, notes NoteSource, codes CodeSource,
	events websocket.EventPublisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if rs == nil {
		rs = rules.Default()
	}
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Service{
		repo:    repo,
		checker: checker,
		engine:  NewEngine(rs),
		rules:   rs,
		notes:   notes,
		codes:   codes,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) providerName() string {
	if n, ok := s.checker.(ai.Named); ok {
		return n.ProviderName()
	}
	return ""
}

// Check runs every compliance check against the note and stores the run.
// The model review runs alongside the rule checks; its failure fails the
// whole check, while prior-note lookup failures only skip the cloned-note
// comparison.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*Check, error) {
	if req.EncounterID == uuid.Nil {
		return nil, apperror.BadRequest("encounter id is required")
	}
	sections, patientID, err := s.noteFor(ctx, req)
	if err != nil {
		return nil, err
	}
	codes, err := s.acceptedCodes(ctx, req)
	if err != nil {
		return nil, err
	}
	encType := rules.ParseEncounterType(req.EncounterType)
	in := Input{
		Sections:      sections,
		EncounterType: encType,
		AcceptedCodes: codes,
	}
	if req.IncludePayerSpecific == nil || *req.IncludePayerSpecific {
		in.PayerType = rules.PayerType(strings.ToUpper(strings.TrimSpace(req.PayerType)))
	}

	var findings []ai.ComplianceFinding
	g, gctx := errgroup.WithContext(ctx)
	if s.checker != nil {
		g.Go(func() error {
			f, err := s.checker.CheckCompliance(gctx, sections, string(encType))
			if err != nil {
				return apperror.Internal(err, "compliance review")
			}
			findings = f
			return nil
		})
	}
	if patientID != uuid.Nil {
		g.Go(func() error {
			priors, err := s.notes.PriorNotes(gctx, patientID, req.EncounterID, s.rules.ClonedNote.PriorNotes)
			if err != nil {
				s.logger.Warn().Err(err).Str("encounter_id", req.EncounterID.String()).Msg("prior notes unavailable, skipping cloned-note check")
				return nil
			}
			in.PriorNotes = priors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	issues := s.engine.Evaluate(in)
	for _, f := range findings {
		issues = append(issues, FromFinding(f))
	}

	check := s.summarize(req, encType, issues)
	for _, is := range issues {
		is.EncounterID = req.EncounterID
	}
	if err := db.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateCheck(ctx, check); err != nil {
			return err
		}
		for _, is := range issues {
			is.CheckID = check.ID
		}
		return s.repo.CreateIssues(ctx, issues)
	}); err != nil {
		return nil, err
	}
	check.Issues = issues

	for _, is := range issues {
		telemetry.Count(ctx, s.metrics.ComplianceIssues, "issue_type", string(is.Type), "severity", string(is.Severity))
	}
	if check.BillingBlocked {
		telemetry.Count(ctx, s.metrics.BillingBlocked, "encounter_type", string(encType))
		s.logger.Info().Str("encounter_id", req.EncounterID.String()).Int("audit_risk", check.AuditRiskScore).
			Str("reason", *check.BlockReason).Msg("billing blocked by compliance check")
	}
	websocket.Emit(ctx, s.events, s.logger, websocket.EventComplianceCheck, req.EncounterID, check.ID.String(), check)
	return check, nil
}

func (s *Service) summarize(req CheckRequest, encType rules.EncounterType, issues []*Issue) *Check {
	c := count(issues)
	check := &Check{
		EncounterID:    req.EncounterID,
		ProviderID:     req.ProviderID,
		EncounterType:  string(encType),
		Score:          Score(issues),
		AuditRiskScore: AuditRisk(issues),
		CriticalCount:  c.critical,
		ErrorCount:     c.errors,
		WarningCount:   c.warnings,
		InfoCount:      c.infos,
		AIProvider:     s.providerName(),
	}
	if p := strings.TrimSpace(req.PayerType); p != "" {
		p = strings.ToUpper(p)
		check.PayerType = &p
	}
	if req.PreBillingGate {
		if blocked, reason := BillingBlock(issues, check.AuditRiskScore); blocked {
			check.BillingBlocked = true
			check.BlockReason = &reason
		}
	}
	return check
}

// noteFor returns the sections to check and the patient whose prior notes
// feed the cloned-note comparison.
func (s *Service) noteFor(ctx context.Context, req CheckRequest) (soap.Sections, uuid.UUID, error) {
	if req.Sections != nil {
		patientID := req.PatientID
		if patientID == uuid.Nil && s.notes != nil {
			if n, err := s.notes.GetByEncounter(ctx, req.EncounterID); err == nil {
				patientID = n.PatientID
			}
		}
		return *req.Sections, patientID, nil
	}
	if s.notes == nil {
		return soap.Sections{}, uuid.Nil, apperror.BadRequest("sections are required")
	}
	n, err := s.notes.GetByEncounter(ctx, req.EncounterID)
	if err != nil {
		return soap.Sections{}, uuid.Nil, err
	}
	patientID := req.PatientID
	if patientID == uuid.Nil {
		patientID = n.PatientID
	}
	return n.Sections, patientID, nil
}

func (s *Service) acceptedCodes(ctx context.Context, req CheckRequest) ([]string, error) {
	if req.AcceptedCodes != nil || s.codes == nil {
		return req.AcceptedCodes, nil
	}
	return s.codes.AcceptedCodes(ctx, req.EncounterID)
}

func (s *Service) attachIssues(ctx context.Context, checks []*Check) error {
	if len(checks) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(checks))
	byID := make(map[uuid.UUID]*Check, len(checks))
	for i, c := range checks {
		ids[i] = c.ID
		byID[c.ID] = c
		c.Issues = []*Issue{}
	}
	issues, err := s.repo.ListIssues(ctx, ids)
	if err != nil {
		return err
	}
	for _, is := range issues {
		if c, ok := byID[is.CheckID]; ok {
			c.Issues = append(c.Issues, is)
		}
	}
	return nil
}

func (s *Service) GetCheck(ctx context.Context, id uuid.UUID) (*Check, error) {
	c, err := s.repo.GetCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachIssues(ctx, []*Check{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListChecks returns the encounter's check history with issues, newest
// first.
func (s *Service) ListChecks(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Check, int, error) {
	checks, total, err := s.repo.ListChecks(ctx, encounterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachIssues(ctx, checks); err != nil {
		return nil, 0, err
	}
	return checks, total, nil
}

// PreBillingGate evaluates the unresolved issues of the encounter's most
// recent check. It writes nothing.
func (s *Service) PreBillingGate(ctx context.Context, encounterID uuid.UUID) (*Gate, error) {
	c, err := s.repo.LatestCheck(ctx, encounterID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("no compliance check for encounter %s", encounterID)
	}
	if err != nil {
		return nil, err
	}
	issues, err := s.repo.ListIssues(ctx, []uuid.UUID{c.ID})
	if err != nil {
		return nil, err
	}
	g := EvaluateGate(issues)
	g.EncounterID = encounterID
	g.CheckID = c.ID
	return &g, nil
}

func (s *Service) openIssue(ctx context.Context, id uuid.UUID) (*Issue, error) {
	is, err := s.repo.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if is.Resolved {
		return nil, apperror.BadRequest("compliance issue %s is already resolved", id)
	}
	return is, nil
}

func (s *Service) closeIssue(is *Issue, resolution, actor string, dismissed bool) {
	now := s.now().UTC()
	is.Resolved = true
	is.Dismissed = dismissed
	is.Resolution = &resolution
	is.ResolvedAt = &now
	if actor != "" {
		a := actor
		is.ResolvedBy = &a
	}
}

// Resolve marks the issue fixed by the provider.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, resolution, actor string) (*Issue, error) {
	is, err := s.openIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resolution) == "" {
		resolution = "resolved"
	}
	s.closeIssue(is, resolution, actor, false)
	if err := s.repo.UpdateIssue(ctx, is); err != nil {
		return nil, err
	}
	return is, nil
}

// Dismiss closes the issue without a documentation change.
func (s *Service) Dismiss(ctx context.Context, id uuid.UUID, reason, actor string) (*Issue, error) {
	is, err := s.openIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "dismissed"
	}
	s.closeIssue(is, reason, actor, true)
	if err := s.repo.UpdateIssue(ctx, is); err != nil {
		return nil, err
	}
	return is, nil
}

// AutoFix appends the issue's suggested text to its section of the
// encounter's clinical note and resolves the issue, in one transaction.
func (s *Service) AutoFix(ctx context.Context, id uuid.UUID, actor string) (*Issue, error) {
	is, err := s.openIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !is.AutoFixable || is.SuggestedText == nil || *is.SuggestedText == "" {
		return nil, apperror.BadRequest("compliance issue %s cannot be fixed automatically", id)
	}
	if is.Section == nil {
		return nil, apperror.BadRequest("compliance issue %s has no target section", id)
	}
	if s.notes == nil {
		return nil, apperror.BadRequest("clinical notes are not available")
	}
	err = db.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.notes.AppendToSection(ctx, is.EncounterID, *is.Section, *is.SuggestedText); err != nil {
			return err
		}
		s.closeIssue(is, "auto-fixed", actor, false)
		return s.repo.UpdateIssue(ctx, is)
	})
	if err != nil {
		return nil, err
	}
	return is, nil
}
