package draftnote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/domain/documents"
	"github.com/chiro/chiro/internal/domain/preference"
	"github.com/chiro/chiro/internal/domain/transcription"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/platform/ai/mock"
	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/websocket"
	"github.com/chiro/chiro/internal/soap"
)

// -- Mock Repository --

type mockRepo struct {
	mu     sync.Mutex
	drafts map[uuid.UUID]*DraftNote
}

func newMockRepo() *mockRepo {
	return &mockRepo{drafts: make(map[uuid.UUID]*DraftNote)}
}

func (m *mockRepo) Create(_ context.Context, d *DraftNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.drafts[d.ID] = d
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*DraftNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, apperror.NotFound("draft note not found")
	}
	return d, nil
}

func (m *mockRepo) Update(_ context.Context, d *DraftNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[d.ID]; !ok {
		return apperror.NotFound("draft note not found")
	}
	d.UpdatedAt = time.Now()
	m.drafts[d.ID] = d
	return nil
}

func (m *mockRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*DraftNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DraftNote
	for _, d := range m.drafts {
		if d.EncounterID == encounterID {
			out = append(out, d)
		}
	}
	return out, nil
}

// -- Collaborator fakes --

type learnCall struct {
	section       soap.Section
	before, after string
}

type fakePrefs struct {
	prefs      []*preference.Preference
	err        error
	feedbackOK []uuid.UUID
	feedbackNo []uuid.UUID
	learned    []learnCall
	lookups    int
}

func (f *fakePrefs) ForGeneration(context.Context, string) ([]*preference.Preference, error) {
	f.lookups++
	return f.prefs, f.err
}

func (f *fakePrefs) RecordFeedbackAll(_ context.Context, ids []uuid.UUID, accepted bool) error {
	if accepted {
		f.feedbackOK = append(f.feedbackOK, ids...)
	} else {
		f.feedbackNo = append(f.feedbackNo, ids...)
	}
	return nil
}

func (f *fakePrefs) LearnFromEdit(_ context.Context, _ string, section soap.Section, original, edited string) ([]*preference.Preference, error) {
	f.learned = append(f.learned, learnCall{section, original, edited})
	return nil, nil
}

type fakeTranscripts struct {
	sessions map[uuid.UUID]*transcription.Session
}

func (f *fakeTranscripts) Get(_ context.Context, id uuid.UUID) (*transcription.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperror.NotFound("transcription session not found")
	}
	return s, nil
}

func (f *fakeTranscripts) CompletedTranscript(_ context.Context, encounterID uuid.UUID) (*transcription.Session, error) {
	for _, s := range f.sessions {
		if s.EncounterID == encounterID && s.Status == transcription.StatusCompleted {
			return s, nil
		}
	}
	return nil, apperror.BadRequest("encounter %s has no completed transcript", encounterID)
}

type fakeNotes struct {
	written []documents.Materialization
	err     error
}

func (f *fakeNotes) Materialize(_ context.Context, m documents.Materialization) (*documents.ClinicalNote, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.written = append(f.written, m)
	return &documents.ClinicalNote{EncounterID: m.EncounterID, Sections: m.Sections}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return ""
	}
	return p.events[len(p.events)-1].Type
}

type fixture struct {
	svc         *Service
	repo        *mockRepo
	backend     *mock.Backend
	prefs       *fakePrefs
	transcripts *fakeTranscripts
	notes       *fakeNotes
	events      *recordingPublisher
}

func generatedDraft() *ai.SOAPDraft {
	return &ai.SOAPDraft{
		Sections: sections(
			"Patient reports soreness in the low back.",
			"Lumbar ROM reduced.",
			"Lumbar segmental dysfunction.",
			"CMT to lumbar spine. Ice at home.",
		),
		Confidence: 0.9,
	}
}

func newFixture() *fixture {
	f := &fixture{
		repo:        newMockRepo(),
		backend:     &mock.Backend{Draft: generatedDraft()},
		prefs:       &fakePrefs{},
		transcripts: &fakeTranscripts{sessions: map[uuid.UUID]*transcription.Session{}},
		notes:       &fakeNotes{},
		events:      &recordingPublisher{},
	}
	f.svc = NewService(f.repo, f.backend, f.prefs, f.transcripts, f.notes, f.events, nil, zerolog.Nop())
	return f
}

func (f *fixture) generate(t *testing.T) *DraftNote {
	t.Helper()
	d, err := f.svc.Generate(context.Background(), GenerateRequest{
		EncounterID: uuid.New(),
		PatientID:   uuid.New(),
		ProviderID:  "dr-1",
		Transcript:  "[patient] my low back is sore",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return d
}

func TestGenerate_AppliesStyle(t *testing.T) {
	f := newFixture()
	term := terminology("soreness", "tenderness")
	closing := closingPref("Follow up in 2 weeks.")
	f.prefs.prefs = []*preference.Preference{term, closing}

	d := f.generate(t)
	if d.Status != StatusPendingReview {
		t.Errorf("expected PENDING_REVIEW, got %s", d.Status)
	}
	if got := d.Get(soap.Subjective); got != "Patient reports tenderness in the low back." {
		t.Errorf("subjective = %q", got)
	}
	if got := d.Get(soap.Plan); got != "CMT to lumbar spine. Ice at home.\n\nFollow up in 2 weeks." {
		t.Errorf("plan = %q", got)
	}
	if d.StyleMatchScore != 1 {
		t.Errorf("expected style score 1, got %v", d.StyleMatchScore)
	}
	if len(d.AppliedPreferenceIDs) != 2 {
		t.Errorf("expected 2 applied preferences, got %v", d.AppliedPreferenceIDs)
	}
	for _, sec := range soap.Order {
		if d.SectionConfidence[sec] != 0.9 {
			t.Errorf("section %s confidence = %v", sec, d.SectionConfidence[sec])
		}
	}
	if d.AIProvider != "mock" {
		t.Errorf("expected provider mock, got %q", d.AIProvider)
	}
	if len(f.backend.SOAPRequests) != 1 || len(f.backend.SOAPRequests[0].Preferences) != 2 {
		t.Errorf("expected preference hints passed to the model, got %+v", f.backend.SOAPRequests)
	}
	if f.events.last() != websocket.EventDraftGenerated {
		t.Errorf("expected draft.generated event, got %q", f.events.last())
	}
	if d.GenerationInput.Transcript != "[patient] my low back is sore" || !d.GenerationInput.UseStyleMatching {
		t.Errorf("generation input not stored: %+v", d.GenerationInput)
	}
}

func TestGenerate_StyleMatchingDisabled(t *testing.T) {
	f := newFixture()
	f.prefs.prefs = []*preference.Preference{terminology("soreness", "tenderness")}
	off := false

	d, err := f.svc.Generate(context.Background(), GenerateRequest{
		EncounterID:      uuid.New(),
		ProviderID:       "dr-1",
		Transcript:       "text",
		UseStyleMatching: &off,
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.prefs.lookups != 0 {
		t.Error("preferences should not be consulted")
	}
	if d.StyleMatchScore != 0 || strings.Contains(d.Get(soap.Subjective), "tenderness") {
		t.Errorf("style should not be applied: %+v", d)
	}
}

func TestGenerate_PreferenceLookupFailureStillDrafts(t *testing.T) {
	f := newFixture()
	f.prefs.err = errors.New("db down")
	d := f.generate(t)
	if d.StyleMatchScore != 0 || d.Status != StatusPendingReview {
		t.Errorf("unexpected draft %+v", d)
	}
}

func TestGenerate_FromLatestCompletedTranscript(t *testing.T) {
	f := newFixture()
	enc := uuid.New()
	sess := &transcription.Session{ID: uuid.New(), EncounterID: enc, Status: transcription.StatusCompleted,
		FullTranscript: "[provider] I recommend ice therapy"}
	f.transcripts.sessions[sess.ID] = sess

	d, err := f.svc.Generate(context.Background(), GenerateRequest{EncounterID: enc, ProviderID: "dr-1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.TranscriptionID == nil || *d.TranscriptionID != sess.ID {
		t.Errorf("expected transcription id %s, got %v", sess.ID, d.TranscriptionID)
	}
	if f.backend.SOAPRequests[0].Transcript != sess.FullTranscript {
		t.Errorf("unexpected transcript %q", f.backend.SOAPRequests[0].Transcript)
	}
}

func TestGenerate_TranscriptErrors(t *testing.T) {
	f := newFixture()
	enc := uuid.New()
	recording := &transcription.Session{ID: uuid.New(), EncounterID: enc, Status: transcription.StatusRecording, FullTranscript: "x"}
	f.transcripts.sessions[recording.ID] = recording

	_, err := f.svc.Generate(context.Background(), GenerateRequest{EncounterID: enc, ProviderID: "dr-1", TranscriptionID: &recording.ID})
	if !errors.Is(err, apperror.ErrBadRequest) {
		t.Errorf("expected BadRequest for an unfinished session, got %v", err)
	}

	_, err = f.svc.Generate(context.Background(), GenerateRequest{EncounterID: uuid.New(), ProviderID: "dr-1"})
	if !errors.Is(err, apperror.ErrBadRequest) {
		t.Errorf("expected BadRequest without a completed transcript, got %v", err)
	}

	_, err = f.svc.Generate(context.Background(), GenerateRequest{ProviderID: "dr-1", Transcript: "x"})
	if !errors.Is(err, apperror.ErrBadRequest) {
		t.Errorf("expected BadRequest without encounter, got %v", err)
	}
	if len(f.backend.SOAPRequests) != 0 {
		t.Error("model should not be called")
	}
}

func TestGenerate_AIFailure(t *testing.T) {
	f := newFixture()
	f.backend.GenerateErr = errors.New("upstream 503")
	_, err := f.svc.Generate(context.Background(), GenerateRequest{EncounterID: uuid.New(), ProviderID: "dr-1", Transcript: "x"})
	if !errors.Is(err, apperror.ErrInternal) {
		t.Fatalf("expected Internal, got %v", err)
	}
	if len(f.repo.drafts) != 0 {
		t.Error("no draft should be stored")
	}
}

func TestEdit_RecordsChangedSectionsOnly(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	original := d.Get(soap.Subjective)
	plan := d.Get(soap.Plan)

	out, err := f.svc.Edit(context.Background(), d.ID, EditRequest{
		Sections: soap.Sections{Subjective: soap.Ptr("Low back tenderness."), Plan: soap.Ptr(plan)},
		Reason:   "terminology",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusEdited || out.EditCount != 1 {
		t.Errorf("expected EDITED with 1 edit, got %s/%d", out.Status, out.EditCount)
	}
	if len(out.Edits) != 1 {
		t.Fatalf("expected only subjective recorded, got %v", out.Edits)
	}
	e := out.Edits[soap.Subjective]
	if e.Original != original || e.Edited != "Low back tenderness." || e.EditedAt.IsZero() {
		t.Errorf("unexpected edit %+v", e)
	}
	if len(out.EditReasons) != 1 || out.EditReasons[0] != "terminology" {
		t.Errorf("unexpected reasons %v", out.EditReasons)
	}
	if len(f.prefs.learned) != 1 || f.prefs.learned[0].section != soap.Subjective || f.prefs.learned[0].before != original {
		t.Errorf("expected one learning call for subjective, got %+v", f.prefs.learned)
	}

	out, _ = f.svc.Edit(context.Background(), d.ID, EditRequest{Sections: soap.Sections{Subjective: soap.Ptr("Low back tenderness, 6/10.")}})
	if out.EditCount != 2 || out.Edits[soap.Subjective].Original != original {
		t.Errorf("second edit must keep the generated original: %+v", out.Edits[soap.Subjective])
	}
	if f.prefs.learned[1].before != "Low back tenderness." {
		t.Errorf("learning should compare against the previous text, got %q", f.prefs.learned[1].before)
	}
}

func TestEdit_NoOpRecordsNothing(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	out, err := f.svc.Edit(context.Background(), d.ID, EditRequest{
		Sections: soap.Sections{Objective: soap.Ptr(d.Get(soap.Objective))},
		Reason:   "none",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.EditCount != 0 || out.Status != StatusPendingReview || len(out.EditReasons) != 0 || len(out.Edits) != 0 {
		t.Errorf("no-op edit changed the draft: %+v", out)
	}
	if len(f.prefs.learned) != 0 {
		t.Error("no-op edit should not feed the learner")
	}
}

func TestApply_StatusGuard(t *testing.T) {
	tests := []struct {
		status Status
		ok     bool
	}{
		{StatusGenerating, false},
		{StatusPendingReview, false},
		{StatusRejected, false},
		{StatusApproved, true},
		{StatusEdited, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture()
			d := f.generate(t)
			d.Status = tt.status

			out, err := f.svc.Apply(context.Background(), d.ID)
			if !tt.ok {
				if !errors.Is(err, apperror.ErrBadRequest) {
					t.Fatalf("expected BadRequest, got %v", err)
				}
				if len(f.notes.written) != 0 {
					t.Error("note must not be written")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != StatusApplied {
				t.Errorf("expected APPLIED, got %s", out.Status)
			}
			if len(f.notes.written) != 1 || f.notes.written[0].DraftID != d.ID ||
				f.notes.written[0].Sections.Get(soap.Plan) != d.Get(soap.Plan) {
				t.Errorf("unexpected materialization %+v", f.notes.written)
			}
			if f.events.last() != websocket.EventDraftApplied {
				t.Errorf("expected draft.applied, got %q", f.events.last())
			}

			if _, err := f.svc.Apply(context.Background(), d.ID); !errors.Is(err, apperror.ErrBadRequest) {
				t.Errorf("second apply should fail with BadRequest, got %v", err)
			}
		})
	}
}

func TestApply_NoteFailureLeavesDraft(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	d.Status = StatusApproved
	f.notes.err = errors.New("write failed")
	if _, err := f.svc.Apply(context.Background(), d.ID); err == nil {
		t.Fatal("expected error")
	}
	if d.Status != StatusApproved {
		t.Errorf("draft should remain APPROVED, got %s", d.Status)
	}
}

func TestReview_RecordsFeedback(t *testing.T) {
	f := newFixture()
	term := terminology("soreness", "tenderness")
	f.prefs.prefs = []*preference.Preference{term}

	d := f.generate(t)
	out, err := f.svc.Approve(context.Background(), d.ID, ReviewRequest{Reviewer: "user-7", Notes: "looks right"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusApproved || out.ReviewedBy == nil || *out.ReviewedBy != "user-7" || out.ReviewedAt == nil {
		t.Errorf("review not recorded: %+v", out)
	}
	if out.ReviewNotes == nil || *out.ReviewNotes != "looks right" {
		t.Errorf("notes not recorded: %v", out.ReviewNotes)
	}
	if len(f.prefs.feedbackOK) != 1 || f.prefs.feedbackOK[0] != term.ID {
		t.Errorf("expected accepted feedback for %s, got %v", term.ID, f.prefs.feedbackOK)
	}

	d2 := f.generate(t)
	if _, err := f.svc.Reject(context.Background(), d2.ID, ReviewRequest{Reviewer: "user-7"}); err != nil {
		t.Fatal(err)
	}
	if len(f.prefs.feedbackNo) != 1 {
		t.Errorf("expected rejected feedback, got %v", f.prefs.feedbackNo)
	}
}

func TestReview_EditAfterApproveStillApplies(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	if _, err := f.svc.Approve(context.Background(), d.ID, ReviewRequest{}); err != nil {
		t.Fatal(err)
	}
	out, err := f.svc.Edit(context.Background(), d.ID, EditRequest{Sections: soap.Sections{Plan: soap.Ptr("CMT L4-L5.")}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusEdited {
		t.Fatalf("expected EDITED, got %s", out.Status)
	}
	if _, err := f.svc.Apply(context.Background(), d.ID); err != nil {
		t.Fatalf("apply edited draft: %v", err)
	}
	for _, op := range []func() error{
		func() error { _, err := f.svc.Approve(context.Background(), d.ID, ReviewRequest{}); return err },
		func() error { _, err := f.svc.Reject(context.Background(), d.ID, ReviewRequest{}); return err },
		func() error {
			_, err := f.svc.Edit(context.Background(), d.ID, EditRequest{Sections: soap.Sections{Plan: soap.Ptr("x")}})
			return err
		},
		func() error { _, err := f.svc.Regenerate(context.Background(), d.ID, RegenerateRequest{}); return err },
	} {
		if err := op(); !errors.Is(err, apperror.ErrBadRequest) {
			t.Errorf("expected BadRequest on applied draft, got %v", err)
		}
	}
}

func TestRegenerate_FocusAreas(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	if _, err := f.svc.Edit(context.Background(), d.ID, EditRequest{Sections: soap.Sections{Subjective: soap.Ptr("Edited S.")}}); err != nil {
		t.Fatal(err)
	}
	f.backend.Draft = &ai.SOAPDraft{Sections: sections("New S.", "New O.", "New A.", "New plan."), Confidence: 0.7}

	out, err := f.svc.Regenerate(context.Background(), d.ID, RegenerateRequest{
		AdditionalContext: "patient also reports numbness",
		FocusAreas:        []soap.Section{soap.Plan},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Get(soap.Plan) != "New plan." {
		t.Errorf("plan not regenerated: %q", out.Get(soap.Plan))
	}
	if out.Get(soap.Subjective) != "Edited S." || out.Get(soap.Objective) != "Lumbar ROM reduced." {
		t.Errorf("non-focus sections changed: %+v", out.Sections)
	}
	if out.Status != StatusPendingReview {
		t.Errorf("expected PENDING_REVIEW, got %s", out.Status)
	}
	if out.SectionConfidence[soap.Plan] != 0.7 || out.SectionConfidence[soap.Subjective] != 0.9 {
		t.Errorf("unexpected confidences %v", out.SectionConfidence)
	}
	last := f.backend.SOAPRequests[len(f.backend.SOAPRequests)-1]
	if !strings.HasSuffix(last.Transcript, "Additional context: patient also reports numbness") {
		t.Errorf("context not appended: %q", last.Transcript)
	}
	if d.GenerationInput.Transcript != "[patient] my low back is sore" {
		t.Error("stored input must not accumulate context")
	}
}

func TestRegenerate_AllSectionsByDefault(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	f.backend.Draft = &ai.SOAPDraft{Sections: sections("S2.", "O2.", "A2.", "P2."), Confidence: 0.6}
	out, err := f.svc.Regenerate(context.Background(), d.ID, RegenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Sections.Combined() != "S2.\n\nO2.\n\nA2.\n\nP2." {
		t.Errorf("unexpected sections %q", out.Sections.Combined())
	}
}

func TestRegenerate_InvalidFocus(t *testing.T) {
	f := newFixture()
	d := f.generate(t)
	_, err := f.svc.Regenerate(context.Background(), d.ID, RegenerateRequest{FocusAreas: []soap.Section{"history"}})
	if !errors.Is(err, apperror.ErrBadRequest) {
		t.Errorf("expected BadRequest, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Get(context.Background(), uuid.New()); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
