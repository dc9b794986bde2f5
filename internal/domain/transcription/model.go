package transcription

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRecording Status = "RECORDING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is reserved in the schema; transcription failures are
	// returned to the caller and never stored.
	StatusFailed Status = "FAILED"
)

// Active reports whether the session still accepts pause, resume or audio.
func (s Status) Active() bool {
	return s == StatusRecording || s == StatusPaused
}

const (
	SpeakerProvider = "provider"
	SpeakerPatient  = "patient"
	SpeakerUnknown  = "unknown"
)

func validRole(role string) bool {
	return role == SpeakerProvider || role == SpeakerPatient || role == SpeakerUnknown
}

// ChunkDuration is the fixed audio length each chunk index stands for.
const ChunkDuration = 5 * time.Second

const DefaultLanguage = "en-US"

// DefaultSpeakerLabels maps diarization speaker ids to roles.
func DefaultSpeakerLabels() map[string]string {
	return map[string]string{"speaker_0": SpeakerProvider, "speaker_1": SpeakerPatient}
}

// Session maps to the transcription_session table. Accuracy is the running
// two-point average of chunk confidences.
type Session struct {
	ID               uuid.UUID         `db:"id" json:"id"`
	EncounterID      uuid.UUID         `db:"encounter_id" json:"encounter_id"`
	ProviderID       string            `db:"provider_id" json:"provider_id"`
	Status           Status            `db:"status" json:"status"`
	Language         string            `db:"language" json:"language"`
	SpeakerLabels    map[string]string `db:"speaker_labels" json:"speaker_labels"`
	FullTranscript   string            `db:"full_transcript" json:"full_transcript"`
	Accuracy         float64           `db:"accuracy" json:"accuracy"`
	SegmentCount     int               `db:"segment_count" json:"segment_count"`
	MedicalTerms     []string          `db:"medical_terms" json:"medical_terms"`
	StartedAt        time.Time         `db:"started_at" json:"started_at"`
	PausedAt         *time.Time        `db:"paused_at" json:"paused_at,omitempty"`
	CompletedAt      *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	AudioDurationSec *int              `db:"audio_duration_sec" json:"audio_duration_sec,omitempty"`
	ProcessingMs     *int              `db:"processing_ms" json:"processing_ms,omitempty"`
	AIProvider       string            `db:"ai_provider" json:"ai_provider,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`

	Segments []*Segment `db:"-" json:"segments,omitempty"`
}

// Segment maps to transcription_segment. Times are seconds from the start
// of the session, derived from the chunk index.
type Segment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	SessionID  uuid.UUID `db:"session_id" json:"session_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Speaker    string    `db:"speaker" json:"speaker"`
	Text       string    `db:"text" json:"text"`
	StartTime  float64   `db:"start_time" json:"start_time"`
	EndTime    float64   `db:"end_time" json:"end_time"`
	Confidence float64   `db:"confidence" json:"confidence"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Line is the segment as it appears in the full transcript.
func (s *Segment) Line() string {
	return "[" + s.Speaker + "] " + s.Text
}

// Chunk is one piece of audio submitted for transcription.
type Chunk struct {
	AudioBase64 string `json:"audio"`
	MimeType    string `json:"mime_type"`
	ChunkIndex  int    `json:"chunk_index"`
	SpeakerHint string `json:"speaker_hint,omitempty"`
}

type StartRequest struct {
	EncounterID   uuid.UUID
	ProviderID    string
	Language      string
	SpeakerLabels map[string]string
}
