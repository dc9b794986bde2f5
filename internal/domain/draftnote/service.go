package draftnote

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/domain/documents"
	"github.com/chiro/chiro/internal/domain/preference"
	"github.com/chiro/chiro/internal/domain/transcription"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/platform/websocket"
	"github.com/chiro/chiro/internal/soap"
)

// PreferenceSource is the slice of the preference service drafts use.
type PreferenceSource interface {
	ForGeneration(ctx context.Context, providerID string) ([]*preference.Preference, error)
	RecordFeedbackAll(ctx context.Context, ids []uuid.UUID, accepted bool) error
	LearnFromEdit(ctx context.Context, providerID string, section soap.Section, original, edited string) ([]*preference.Preference, error)
}

// TranscriptSource resolves the transcript a draft is generated from.
type TranscriptSource interface {
	Get(ctx context.Context, id uuid.UUID) (*transcription.Session, error)
	CompletedTranscript(ctx context.Context, encounterID uuid.UUID) (*transcription.Session, error)
}

// NoteWriter writes an applied draft into the encounter's clinical note.
type NoteWriter interface {
	Materialize(ctx context.Context, m documents.Materialization) (*documents.ClinicalNote, error)
}

type Service struct {
	repo        Repository
	generator   ai.SOAPGenerator
	prefs       PreferenceSource
	transcripts TranscriptSource
	notes       NoteWriter
	events      websocket.EventPublisher
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(repo Repository, generator ai.SOAPGenerator, prefs PreferenceSource, transcripts TranscriptSource,
	notes NoteWriter, events websocket.EventPublisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Service{
		repo:        repo,
		generator:   generator,
		prefs:       prefs,
		transcripts: transcripts,
		notes:       notes,
		events:      events,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) providerName() string {
	if n, ok := s.generator.(ai.Named); ok {
		return n.ProviderName()
	}
	return ""
}

// Generate drafts a SOAP note for the encounter and persists it pending
// review. The transcript comes from the request, the named transcription
// session, or the encounter's latest completed session, in that order.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*DraftNote, error) {
	if req.EncounterID == uuid.Nil {
		return nil, apperror.BadRequest("encounter id is required")
	}
	if req.ProviderID == "" {
		return nil, apperror.BadRequest("provider id is required")
	}
	transcript, transcriptionID, err := s.resolveTranscript(ctx, req)
	if err != nil {
		return nil, err
	}

	in := GenerationInput{
		Transcript:       transcript,
		PatientInfo:      req.PatientInfo,
		ChiefComplaint:   req.ChiefComplaint,
		EncounterType:    req.EncounterType,
		PreviousVisit:    req.PreviousVisit,
		UseStyleMatching: req.UseStyleMatching == nil || *req.UseStyleMatching,
	}

	start := s.now()
	prefs := s.preferencesFor(ctx, req.ProviderID, in.UseStyleMatching)
	draft, err := s.generate(ctx, in, prefs)
	if err != nil {
		return nil, err
	}
	style := ApplyStyle(draft.Sections, prefs)

	d := &DraftNote{
		EncounterID:          req.EncounterID,
		PatientID:            req.PatientID,
		ProviderID:           req.ProviderID,
		TranscriptionID:      transcriptionID,
		Status:               StatusPendingReview,
		Sections:             style.Sections,
		SectionConfidence:    sectionConfidence(style.Sections, draft.Confidence, soap.Order),
		Confidence:           draft.Confidence,
		StyleMatchScore:      style.Score,
		AppliedStyleElements: style.Applied,
		AppliedPreferenceIDs: style.AppliedIDs,
		Edits:                map[soap.Section]SectionEdit{},
		AIProvider:           s.providerName(),
		ProcessingMs:         int(s.now().Sub(start).Milliseconds()),
		GenerationInput:      in,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	telemetry.Count(ctx, s.metrics.DraftNoteEvents, "event", "generated")
	s.logger.Info().Str("draft_id", d.ID.String()).Str("encounter_id", d.EncounterID.String()).
		Float64("style_match_score", d.StyleMatchScore).Int("processing_ms", d.ProcessingMs).Msg("draft note generated")
	websocket.Emit(ctx, s.events, s.logger, websocket.EventDraftGenerated, d.EncounterID, d.ID.String(), d)
	return d, nil
}

func (s *Service) resolveTranscript(ctx context.Context, req GenerateRequest) (string, *uuid.UUID, error) {
	if req.Transcript != "" {
		return req.Transcript, req.TranscriptionID, nil
	}
	if s.transcripts == nil {
		return "", nil, apperror.BadRequest("transcript is required")
	}
	var sess *transcription.Session
	var err error
	if req.TranscriptionID != nil {
		sess, err = s.transcripts.Get(ctx, *req.TranscriptionID)
		if err != nil {
			return "", nil, err
		}
		if sess.Status != transcription.StatusCompleted {
			return "", nil, apperror.BadRequest("transcription session %s is %s, not completed", sess.ID, sess.Status)
		}
	} else {
		sess, err = s.transcripts.CompletedTranscript(ctx, req.EncounterID)
		if err != nil {
			return "", nil, err
		}
	}
	if sess.FullTranscript == "" {
		return "", nil, apperror.BadRequest("transcription session %s has no transcript", sess.ID)
	}
	id := sess.ID
	return sess.FullTranscript, &id, nil
}

// preferencesFor loads the provider's generation preferences. A lookup
// failure drafts without style rather than failing the draft.
func (s *Service) preferencesFor(ctx context.Context, providerID string, enabled bool) []*preference.Preference {
	if !enabled || s.prefs == nil {
		return nil
	}
	prefs, err := s.prefs.ForGeneration(ctx, providerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider_id", providerID).Msg("preference lookup failed, drafting without style")
		return nil
	}
	return prefs
}

func (s *Service) generate(ctx context.Context, in GenerationInput, prefs []*preference.Preference) (*ai.SOAPDraft, error) {
	hints := make([]ai.PreferenceHint, 0, len(prefs))
	for _, p := range prefs {
		hints = append(hints, ai.PreferenceHint{Category: string(p.Category), Key: p.Key, Summary: p.Summary()})
	}
	draft, err := s.generator.GenerateSOAP(ctx, ai.SOAPRequest{
		Transcript:     in.Transcript,
		PatientInfo:    in.PatientInfo,
		ChiefComplaint: in.ChiefComplaint,
		EncounterType:  in.EncounterType,
		PreviousVisit:  in.PreviousVisit,
		Preferences:    hints,
	})
	if err != nil {
		return nil, apperror.Internal(err, "generate draft note")
	}
	return draft, nil
}

// sectionConfidence assigns the model's note-level confidence to every
// present section among secs.
func sectionConfidence(sections soap.Sections, confidence float64, secs []soap.Section) map[soap.Section]float64 {
	out := make(map[soap.Section]float64, len(secs))
	for _, sec := range secs {
		if sections.Has(sec) {
			out[sec] = confidence
		}
	}
	return out
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DraftNote, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*DraftNote, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

func (s *Service) load(ctx context.Context, id uuid.UUID, action string) (*DraftNote, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusApplied {
		return nil, apperror.BadRequest("draft note %s is applied and cannot be %s", id, action)
	}
	return d, nil
}

// Edit records the supplied sections that differ from the stored ones.
// The edit map keeps the first generated text of each section as the
// original. An edit that changes nothing records nothing.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, req EditRequest) (*DraftNote, error) {
	d, err := s.load(ctx, id, "edited")
	if err != nil {
		return nil, err
	}

	type change struct {
		section       soap.Section
		before, after string
	}
	var changes []change
	now := s.now().UTC()
	for _, sec := range soap.Order {
		if !req.Sections.Has(sec) {
			continue
		}
		after := req.Sections.Get(sec)
		if d.Has(sec) && d.Get(sec) == after {
			continue
		}
		before := d.Get(sec)
		if d.Edits == nil {
			d.Edits = map[soap.Section]SectionEdit{}
		}
		e, seen := d.Edits[sec]
		if !seen {
			e.Original = before
		}
		e.Edited = after
		e.EditedAt = now
		d.Edits[sec] = e
		d.Set(sec, after)
		changes = append(changes, change{sec, before, after})
	}
	if len(changes) == 0 {
		return d, nil
	}

	if req.Reason != "" {
		d.EditReasons = append(d.EditReasons, req.Reason)
	}
	d.EditCount++
	d.Status = StatusEdited
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	if s.prefs != nil {
		for _, c := range changes {
			if _, err := s.prefs.LearnFromEdit(ctx, d.ProviderID, c.section, c.before, c.after); err != nil {
				s.logger.Warn().Err(err).Str("draft_id", d.ID.String()).Str("section", string(c.section)).Msg("learning from edit failed")
			}
		}
	}
	telemetry.Count(ctx, s.metrics.DraftNoteEvents, "event", "edited")
	websocket.Emit(ctx, s.events, s.logger, websocket.EventDraftUpdated, d.EncounterID, d.ID.String(), d)
	return d, nil
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, req ReviewRequest) (*DraftNote, error) {
	return s.review(ctx, id, req, StatusApproved)
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, req ReviewRequest) (*DraftNote, error) {
	return s.review(ctx, id, req, StatusRejected)
}

// review records the decision and feeds it back to the preferences that
// shaped the draft. Feedback failures are logged only.
func (s *Service) review(ctx context.Context, id uuid.UUID, req ReviewRequest, to Status) (*DraftNote, error) {
	action := "approved"
	if to == StatusRejected {
		action = "rejected"
	}
	d, err := s.load(ctx, id, action)
	if err != nil {
		return nil, err
	}
	prev := d.Status
	now := s.now().UTC()
	d.Status = to
	d.ReviewedAt = &now
	if req.Reviewer != "" {
		reviewer := req.Reviewer
		d.ReviewedBy = &reviewer
	}
	if req.Notes != "" {
		notes := req.Notes
		d.ReviewNotes = &notes
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	if prev != to && s.prefs != nil && len(d.AppliedPreferenceIDs) > 0 {
		if err := s.prefs.RecordFeedbackAll(ctx, d.AppliedPreferenceIDs, to == StatusApproved); err != nil {
			s.logger.Warn().Err(err).Str("draft_id", d.ID.String()).Msg("preference feedback failed")
		}
	}
	telemetry.Count(ctx, s.metrics.DraftNoteEvents, "event", action)
	websocket.Emit(ctx, s.events, s.logger, websocket.EventDraftUpdated, d.EncounterID, d.ID.String(), d)
	return d, nil
}

// Apply writes an approved or edited draft into the encounter's clinical
// note. APPLIED is terminal.
func (s *Service) Apply(ctx context.Context, id uuid.UUID) (*DraftNote, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusApproved && d.Status != StatusEdited {
		return nil, apperror.BadRequest("draft note %s is %s; only approved or edited drafts can be applied", id, d.Status)
	}

	err = db.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.notes.Materialize(ctx, documents.Materialization{
			EncounterID: d.EncounterID,
			PatientID:   d.PatientID,
			ProviderID:  d.ProviderID,
			DraftID:     d.ID,
			Sections:    d.Sections,
		}); err != nil {
			return err
		}
		d.Status = StatusApplied
		return s.repo.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	telemetry.Count(ctx, s.metrics.DraftNoteEvents, "event", "applied")
	websocket.Emit(ctx, s.events, s.logger, websocket.EventDraftApplied, d.EncounterID, d.ID.String(), d)
	return d, nil
}

// Regenerate re-runs generation over the stored input, optionally with
// extra context, and replaces only the focus sections (all four when none
// are named). The draft returns to PENDING_REVIEW.
func (s *Service) Regenerate(ctx context.Context, id uuid.UUID, req RegenerateRequest) (*DraftNote, error) {
	focus := req.FocusAreas
	if len(focus) == 0 {
		focus = soap.Order
	}
	for _, sec := range focus {
		if !sec.Valid() {
			return nil, apperror.BadRequest("unknown section %q", sec)
		}
	}
	d, err := s.load(ctx, id, "regenerated")
	if err != nil {
		return nil, err
	}

	in := d.GenerationInput
	if in.Transcript == "" {
		return nil, apperror.BadRequest("draft note %s has no stored transcript to regenerate from", id)
	}
	if req.AdditionalContext != "" {
		in.Transcript += "\n\nAdditional context: " + req.AdditionalContext
	}

	start := s.now()
	prefs := s.preferencesFor(ctx, d.ProviderID, in.UseStyleMatching)
	draft, err := s.generate(ctx, in, prefs)
	if err != nil {
		return nil, err
	}
	style := ApplyStyle(draft.Sections, prefs)

	if d.SectionConfidence == nil {
		d.SectionConfidence = map[soap.Section]float64{}
	}
	for _, sec := range focus {
		if style.Sections.Has(sec) {
			d.Set(sec, style.Sections.Get(sec))
			d.SectionConfidence[sec] = draft.Confidence
		}
	}
	d.Confidence = draft.Confidence
	d.StyleMatchScore = style.Score
	d.AppliedStyleElements = style.Applied
	d.AppliedPreferenceIDs = style.AppliedIDs
	d.Status = StatusPendingReview
	d.ReviewedBy, d.ReviewedAt, d.ReviewNotes = nil, nil, nil
	d.AIProvider = s.providerName()
	d.ProcessingMs = int(s.now().Sub(start).Milliseconds())
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	telemetry.Count(ctx, s.metrics.DraftNoteEvents, "event", "regenerated")
	websocket.Emit(ctx, s.events, s.logger, websocket.EventDraftUpdated, d.EncounterID, d.ID.String(), d)
	return d, nil
}
