package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Job is the persisted status record of one meeting processing run.
type Job struct {
	ID                string     `json:"job_id"`
	Stage             Stage      `json:"stage"`
	Progress          int        `json:"progress"`
	StatusMessage     string     `json:"status_message"`
	MeetingTitle      string     `json:"meeting_title"`
	AudioPath         string     `json:"audio_path"`
	EstimatedDuration int        `json:"estimated_duration"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	Error             string     `json:"error,omitempty"`
	ResultRef         string     `json:"result,omitempty"`
}

// DefaultMeetingTitle derives a title from the job id when the caller supplied none.
func DefaultMeetingTitle(jobID string) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Meeting " + short
}

// ResultRef returns the reference string stored on a completed job.
func ResultRef(jobID string) string {
	return "result:" + jobID
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.UpdatedAt = cloneTime(j.UpdatedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.FailedAt = cloneTime(j.FailedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// UnmarshalJSON decodes a job leniently: timestamps that cannot be parsed are left unset
// instead of rejecting the whole record, so a single bad field never hides a job.
func (j *Job) UnmarshalJSON(data []byte) error {
	type jobAlias Job
	aux := struct {
		*jobAlias
		StartedAt   *string `json:"started_at"`
		UpdatedAt   *string `json:"updated_at"`
		CompletedAt *string `json:"completed_at"`
		FailedAt    *string `json:"failed_at"`
	}{jobAlias: (*jobAlias)(j)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	j.StartedAt = ParseTimestamp(aux.StartedAt)
	j.UpdatedAt = ParseTimestamp(aux.UpdatedAt)
	j.CompletedAt = ParseTimestamp(aux.CompletedAt)
	j.FailedAt = ParseTimestamp(aux.FailedAt)
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp; zone-less values are taken as UTC.
// It returns nil for nil, empty, or unparseable input.
func ParseTimestamp(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Segment is one speaker-attributed span of the transcript.
type Segment struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Transcription is what the speech-to-text collaborator returns.
type Transcription struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// ActionItem is a task extracted from the meeting.
type ActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline"`
}

// Analysis is the structured summary produced by the analysis collaborator.
type Analysis struct {
	Summary      string       `json:"summary"`
	ActionItems  []ActionItem `json:"action_items"`
	KeyDecisions []string     `json:"key_decisions"`
	Topics       []string     `json:"topics_discussed"`
	NextSteps    []string     `json:"next_steps"`
}

// Normalize replaces nil slices with empty ones so encoded results always carry arrays.
func (a *Analysis) Normalize() {
	if a.ActionItems == nil {
		a.ActionItems = []ActionItem{}
	}
	if a.KeyDecisions == nil {
		a.KeyDecisions = []string{}
	}
	if a.Topics == nil {
		a.Topics = []string{}
	}
	if a.NextSteps == nil {
		a.NextSteps = []string{}
	}
}

// Result is the output of a successful run.
type Result struct {
	Transcript     string    `json:"transcript"`
	Segments       []Segment `json:"segments"`
	Analysis       Analysis  `json:"analysis"`
	ProcessedAt    time.Time `json:"processed_at"`
	ProcessingTime float64   `json:"processing_time"`
}

// StatusUpdateType is the envelope type of every status broadcast.
const StatusUpdateType = "status_update"

// StatusUpdate is the envelope published after every persisted job change.
type StatusUpdate struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Status    Job       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusUpdate wraps a job snapshot in a status envelope.
func NewStatusUpdate(job *Job, at time.Time) StatusUpdate {
	return StatusUpdate{
		Type:      StatusUpdateType,
		JobID:     job.ID,
		Status:    *job.Clone(),
		Timestamp: at.UTC(),
	}
}
