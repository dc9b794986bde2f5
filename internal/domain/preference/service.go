package preference

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/soap"
)

// NoteSource supplies a provider's signed notes for bootstrapping.
type NoteSource interface {
	RecentSigned(ctx context.Context, providerID string, limit int) ([]soap.Sections, error)
}

const bootstrapNoteLimit = 50

type Service struct {
	repo    Repository
	notes   NoteSource
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func NewService(repo Repository, notes NoteSource, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Service{repo: repo, notes: notes, metrics: metrics, logger: logger}
}

// Upsert merges one observation into the provider's preferences. A new
// (category, key) starts at the initial confidence; a known one gains
// confidence and is reactivated.
func (s *Service) Upsert(ctx context.Context, providerID string, o Observation, source string) (*Preference, error) {
	if providerID == "" {
		return nil, apperror.BadRequest("provider id is required")
	}
	if o.Key == "" {
		return nil, apperror.BadRequest("preference key is required")
	}
	raw, err := json.Marshal(o.Value)
	if err != nil {
		return nil, apperror.BadRequest("preference value: %v", err)
	}
	if err := Validate(o.Category, raw); err != nil {
		return nil, err
	}

	out, err := s.upsertTx(ctx, providerID, o, raw, source)
	if errors.Is(err, apperror.ErrConflict) {
		// A concurrent writer created the row first; the retry updates it.
		out, err = s.upsertTx(ctx, providerID, o, raw, source)
	}
	return out, err
}

func (s *Service) upsertTx(ctx context.Context, providerID string, o Observation, raw json.RawMessage, source string) (*Preference, error) {
	var out *Preference
	err := db.InTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.upsert(ctx, providerID, o, raw, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) upsert(ctx context.Context, providerID string, o Observation, raw json.RawMessage, source string) (*Preference, error) {
	existing, err := s.repo.GetByKey(ctx, providerID, o.Category, o.Key)
	if errors.Is(err, apperror.ErrNotFound) {
		p := newPreference(providerID, o, raw, source)
		if err := s.repo.Create(ctx, p); err != nil {
			return nil, err
		}
		telemetry.Count(ctx, s.metrics.PreferenceEvents, "category", string(o.Category), "event", "created")
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	existing.observe(raw)
	existing.Source = source
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	telemetry.Count(ctx, s.metrics.PreferenceEvents, "category", string(o.Category), "event", "observed")
	return existing, nil
}

func (s *Service) upsertAll(ctx context.Context, providerID string, obs []Observation, source string) ([]*Preference, error) {
	out := make([]*Preference, 0, len(obs))
	for _, o := range obs {
		p, err := s.Upsert(ctx, providerID, o, source)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RecordFeedback applies an accept/reject signal to one preference.
func (s *Service) RecordFeedback(ctx context.Context, id uuid.UUID, accepted bool) (*Preference, error) {
	var p *Preference
	err := db.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.GetByID(ctx, id); err != nil {
			return err
		}
		p.feedback(accepted)
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	event := "rejected"
	if accepted {
		event = "accepted"
	}
	telemetry.Count(ctx, s.metrics.PreferenceEvents, "category", string(p.Category), "event", event)
	return p, nil
}

// RecordFeedbackAll applies the same signal to every id, continuing past
// failures. The joined error lists every failure.
func (s *Service) RecordFeedbackAll(ctx context.Context, ids []uuid.UUID, accepted bool) error {
	var errs []error
	for _, id := range ids {
		if _, err := s.RecordFeedback(ctx, id, accepted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForGeneration returns the active preferences confident enough to shape a
// draft, highest confidence first.
func (s *Service) ForGeneration(ctx context.Context, providerID string) ([]*Preference, error) {
	return s.repo.ListByProvider(ctx, providerID, ListFilter{ActiveOnly: true, MinConfidence: GenerationThreshold})
}

// LearnFromEdit analyzes one edited section and stores what it reveals.
func (s *Service) LearnFromEdit(ctx context.Context, providerID string, section soap.Section, original, edited string) ([]*Preference, error) {
	return s.upsertAll(ctx, providerID, AnalyzeEdit(section, original, edited), SourceEdit)
}

// Bootstrap learns from the provider's recent signed notes.
func (s *Service) Bootstrap(ctx context.Context, providerID string) ([]*Preference, error) {
	notes, err := s.notes.RecentSigned(ctx, providerID, bootstrapNoteLimit)
	if err != nil {
		return nil, err
	}
	if len(notes) < minHistoricalNotes {
		return nil, apperror.BadRequest("at least %d signed notes are required, found %d", minHistoricalNotes, len(notes))
	}
	prefs, err := s.upsertAll(ctx, providerID, AnalyzeHistoricalStyle(notes), SourceHistorical)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("provider_id", providerID).Int("notes", len(notes)).Int("preferences", len(prefs)).Msg("preferences bootstrapped")
	return prefs, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Preference, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, providerID string, f ListFilter) ([]*Preference, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, apperror.BadRequest("unknown preference category %q", f.Category)
	}
	return s.repo.ListByProvider(ctx, providerID, f)
}

// Deactivate hides a preference from generation without losing its history.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Preference, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Active = false
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
