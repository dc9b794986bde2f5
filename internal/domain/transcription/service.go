package transcription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/platform/websocket"
)

// sessionLocks serialises writes to one session within this process.
// Cross-instance start races are settled by the unique index instead.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the caller holds id's mutex. The entry is dropped once
// no holder or waiter references it.
func (l *sessionLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uuid.UUID]*sessionLock)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sessionLock{}
		l.locks[id] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

type Service struct {
	repo        Repository
	transcriber ai.Transcriber
	events      websocket.EventPublisher
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
	locks       sessionLocks
	now         func() time.Time
}

func NewService(repo Repository, transcriber ai.Transcriber, events websocket.EventPublisher, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Service{
		repo:        repo,
		transcriber: transcriber,
		events:      events,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) providerName() string {
	if n, ok := s.transcriber.(ai.Named); ok {
		return n.ProviderName()
	}
	return ""
}

// Start opens a RECORDING session for the encounter. An encounter may have
// only one active session.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.EncounterID == uuid.Nil {
		return nil, apperror.BadRequest("encounter id is required")
	}
	labels := req.SpeakerLabels
	if len(labels) == 0 {
		labels = DefaultSpeakerLabels()
	}
	if err := validateLabels(labels); err != nil {
		return nil, err
	}
	lang := req.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	sess := &Session{
		EncounterID:   req.EncounterID,
		ProviderID:    req.ProviderID,
		Status:        StatusRecording,
		Language:      lang,
		SpeakerLabels: labels,
		MedicalTerms:  []string{},
		StartedAt:     s.now().UTC(),
		AIProvider:    s.providerName(),
	}
	err := db.InTx(ctx, func(ctx context.Context) error {
		_, err := s.repo.GetActiveByEncounter(ctx, req.EncounterID)
		if err == nil {
			return apperror.Conflict("encounter %s already has an active transcription session", req.EncounterID)
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return s.repo.CreateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.logger.Info().Str("session_id", sess.ID.String()).Str("encounter_id", sess.EncounterID.String()).Msg("transcription session started")
	return sess, nil
}

func validateLabels(labels map[string]string) error {
	for id, role := range labels {
		if id == "" {
			return apperror.BadRequest("speaker id is required")
		}
		if !validRole(role) {
			return apperror.BadRequest("invalid speaker role %q for %s", role, id)
		}
	}
	return nil
}

// Get returns the session with its segments.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Segments, err = s.repo.ListSegments(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Session, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

// CompletedTranscript returns the encounter's most recently completed
// session. Without one there is nothing to draft from.
func (s *Service) CompletedTranscript(ctx context.Context, encounterID uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetLatestCompleted(ctx, encounterID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.BadRequest("encounter %s has no completed transcript", encounterID)
	}
	return sess, err
}

// transition loads the session under its lock and applies fn.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(sess *Session) error) (*Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.transition(ctx, id, func(sess *Session) error {
		if sess.Status != StatusRecording {
			return apperror.NotFound("no recording session %s", id)
		}
		now := s.now().UTC()
		sess.Status = StatusPaused
		sess.PausedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	websocket.Emit(ctx, s.events, s.logger, websocket.EventSessionPaused, sess.EncounterID, sess.ID.String(), nil)
	return sess, nil
}

func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.transition(ctx, id, func(sess *Session) error {
		if sess.Status != StatusPaused {
			return apperror.NotFound("no paused session %s", id)
		}
		sess.Status = StatusRecording
		sess.PausedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	websocket.Emit(ctx, s.events, s.logger, websocket.EventSessionResumed, sess.EncounterID, sess.ID.String(), nil)
	return sess, nil
}

// IngestChunk transcribes one chunk and appends it as a segment. A
// transcription failure fails the call and leaves the session unchanged.
func (s *Service) IngestChunk(ctx context.Context, id uuid.UUID, chunk Chunk) (*Segment, *Session, error) {
	if chunk.AudioBase64 == "" {
		return nil, nil, apperror.BadRequest("audio is required")
	}
	if chunk.ChunkIndex < 0 {
		return nil, nil, apperror.BadRequest("chunk index must not be negative")
	}

	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != StatusRecording {
		return nil, nil, apperror.BadRequest("session %s is %s, not recording", id, sess.Status)
	}

	tr, err := s.transcribe(ctx, chunk)
	if err != nil {
		return nil, nil, apperror.Internal(err, "transcribe chunk %d", chunk.ChunkIndex)
	}
	seg, err := s.appendSegment(ctx, sess, chunk, tr)
	if err != nil {
		return nil, nil, err
	}
	return seg, sess, nil
}

func (s *Service) transcribe(ctx context.Context, chunk Chunk) (*ai.Transcription, error) {
	if s.transcriber == nil {
		return nil, ai.ErrNoTranscriber
	}
	mime := chunk.MimeType
	if mime == "" {
		mime = "audio/webm"
	}
	return s.transcriber.Transcribe(ctx, chunk.AudioBase64, mime)
}

// appendSegment records the transcription on sess and persists both. The
// running accuracy is the mean of the previous value and the new
// confidence; the first chunk sets it outright.
func (s *Service) appendSegment(ctx context.Context, sess *Session, chunk Chunk, tr *ai.Transcription) (*Segment, error) {
	seg := &Segment{
		SessionID:  sess.ID,
		ChunkIndex: chunk.ChunkIndex,
		Speaker:    resolveSpeaker(chunk.SpeakerHint, sess.SpeakerLabels, tr.Text),
		Text:       tr.Text,
		StartTime:  float64(chunk.ChunkIndex) * ChunkDuration.Seconds(),
		EndTime:    float64(chunk.ChunkIndex+1) * ChunkDuration.Seconds(),
		Confidence: tr.Confidence,
	}

	if sess.FullTranscript == "" {
		sess.FullTranscript = seg.Line()
	} else {
		sess.FullTranscript += "\n" + seg.Line()
	}
	if sess.SegmentCount == 0 {
		sess.Accuracy = tr.Confidence
	} else {
		sess.Accuracy = (sess.Accuracy + tr.Confidence) / 2
	}
	sess.SegmentCount++
	sess.MedicalTerms = mergeTerms(sess.MedicalTerms, DetectMedicalTerms(tr.Text))

	err := db.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.AppendSegment(ctx, seg); err != nil {
			return err
		}
		return s.repo.UpdateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	telemetry.Count(ctx, s.metrics.SegmentsIngested, "speaker", seg.Speaker)
	websocket.Emit(ctx, s.events, s.logger, websocket.EventSegmentAppended, sess.EncounterID, seg.ID.String(), seg)
	return seg, nil
}

// resolveSpeaker prefers the caller's hint, translating diarization ids
// through the session's label map, and falls back to the phrase heuristic.
func resolveSpeaker(hint string, labels map[string]string, text string) string {
	if hint != "" {
		if role, ok := labels[hint]; ok {
			return role
		}
		if validRole(hint) {
			return hint
		}
	}
	return DetectSpeaker(text)
}

// Stop completes the session. A final chunk that fails to transcribe is
// logged and dropped; completion is never blocked by it.
func (s *Service) Stop(ctx context.Context, id uuid.UUID, final *Chunk) (*Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, apperror.BadRequest("session %s is already completed", id)
	}
	wasActive := sess.Status.Active()

	if final != nil && final.AudioBase64 != "" {
		tr, err := s.transcribe(ctx, *final)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", id.String()).Int("chunk_index", final.ChunkIndex).Msg("final chunk transcription failed, completing without it")
		} else if _, err := s.appendSegment(ctx, sess, *final, tr); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	duration := int(now.Sub(sess.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	processing := duration * 1000
	sess.Status = StatusCompleted
	sess.CompletedAt = &now
	sess.PausedAt = nil
	sess.AudioDurationSec = &duration
	sess.ProcessingMs = &processing
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	if wasActive {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	s.logger.Info().Str("session_id", id.String()).Int("segments", sess.SegmentCount).Int("duration_sec", duration).Msg("transcription session completed")
	websocket.Emit(ctx, s.events, s.logger, websocket.EventSessionCompleted, sess.EncounterID, sess.ID.String(), map[string]interface{}{
		"segment_count": sess.SegmentCount,
		"accuracy":      sess.Accuracy,
	})
	return sess, nil
}

// UpdateTranscript replaces the transcript text of a completed session.
func (s *Service) UpdateTranscript(ctx context.Context, id uuid.UUID, text string) (*Session, error) {
	if text == "" {
		return nil, apperror.BadRequest("transcript is required")
	}
	return s.transition(ctx, id, func(sess *Session) error {
		if sess.Status != StatusCompleted {
			return apperror.BadRequest("transcript can only be edited after the session completes")
		}
		sess.FullTranscript = text
		sess.MedicalTerms = mergeTerms(nil, DetectMedicalTerms(text))
		return nil
	})
}

// UpdateSpeakerLabels relabels diarization speakers on an active session.
// Existing segments keep the role they were given.
func (s *Service) UpdateSpeakerLabels(ctx context.Context, id uuid.UUID, labels map[string]string) (*Session, error) {
	if len(labels) == 0 {
		return nil, apperror.BadRequest("speaker labels are required")
	}
	if err := validateLabels(labels); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, func(sess *Session) error {
		if !sess.Status.Active() {
			return apperror.BadRequest("session %s is %s; speakers can only be relabeled while active", id, sess.Status)
		}
		sess.SpeakerLabels = labels
		return nil
	})
}

// TermCorrections lists likely misheard vocabulary terms in the transcript.
// It never changes the session.
func (s *Service) TermCorrections(ctx context.Context, id uuid.UUID) ([]TermCorrection, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	out := SuggestCorrections(sess.FullTranscript)
	if out == nil {
		out = []TermCorrection{}
	}
	return out, nil
}
