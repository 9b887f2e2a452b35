package config

import (
	"strings"
	"time"
)

// ProcessorConfig controls the job processor and its worker pool.
type ProcessorConfig struct {
	// Workers is the number of pipelines that may run concurrently.
	Workers int `env:"PROCESSOR_WORKERS" envDefault:"3"`

	// QueueSize bounds the number of accepted jobs waiting for a worker.
	QueueSize int `env:"PROCESSOR_QUEUE_SIZE" envDefault:"100"`

	// JobTTL is how long a job record lives after its last write.
	JobTTL time.Duration `env:"PROCESSOR_JOB_TTL" envDefault:"168h"` // 7 days

	// ResultTTL is how long a completed result is retained.
	ResultTTL time.Duration `env:"PROCESSOR_RESULT_TTL" envDefault:"720h"` // 30 days

	// UpdatesTopic is the pub/sub topic status updates are published on.
	UpdatesTopic string `env:"PROCESSOR_UPDATES_TOPIC" envDefault:"meeting_updates"`

	// ShutdownTimeout bounds how long in-flight pipelines may run during shutdown.
	ShutdownTimeout time.Duration `env:"PROCESSOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to processor configuration values.
func (p *ProcessorConfig) Sanitize() {
	if p.Workers < 1 {
		p.Workers = 1
	}
	if p.QueueSize < 0 {
		p.QueueSize = 0
	}
	if p.JobTTL < time.Hour {
		p.JobTTL = time.Hour
	}
	if p.ResultTTL < p.JobTTL {
		p.ResultTTL = p.JobTTL
	}
	if p.UpdatesTopic = strings.TrimSpace(p.UpdatesTopic); p.UpdatesTopic == "" {
		p.UpdatesTopic = "meeting_updates"
	}
	if p.ShutdownTimeout <= 0 {
		p.ShutdownTimeout = 30 * time.Second
	}
}

// TranscriptionConfig configures the speech-to-text HTTP service.
type TranscriptionConfig struct {
	BaseURL string        `env:"TRANSCRIPTION_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey  string        `env:"TRANSCRIPTION_API_KEY"`
	Model   string        `env:"TRANSCRIPTION_MODEL"    envDefault:"whisper-1"`
	Timeout time.Duration `env:"TRANSCRIPTION_TIMEOUT"  envDefault:"300s"`

	// SpeakerCount is the number of round-robin speaker labels assigned to segments.
	SpeakerCount int `env:"TRANSCRIPTION_SPEAKER_COUNT" envDefault:"3"`
}

// Sanitize applies guardrails to transcription configuration values.
func (t *TranscriptionConfig) Sanitize() {
	t.BaseURL = strings.TrimRight(strings.TrimSpace(t.BaseURL), "/")
	t.APIKey = strings.TrimSpace(t.APIKey)
	if t.Timeout <= 0 {
		t.Timeout = 300 * time.Second
	}
	if t.SpeakerCount < 1 {
		t.SpeakerCount = 1
	}
}

// AnalysisConfig configures the LLM chat-completions HTTP service.
type AnalysisConfig struct {
	BaseURL     string        `env:"ANALYSIS_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	APIKey      string        `env:"ANALYSIS_API_KEY"`
	Model       string        `env:"ANALYSIS_MODEL"       envDefault:"gpt-4o-mini"`
	MaxTokens   int           `env:"ANALYSIS_MAX_TOKENS"  envDefault:"2000"`
	Temperature float64       `env:"ANALYSIS_TEMPERATURE" envDefault:"0.3"`
	Timeout     time.Duration `env:"ANALYSIS_TIMEOUT"     envDefault:"120s"`

	// ResponsePath is a JMESPath expression locating the completion text in the response body.
	ResponsePath string `env:"ANALYSIS_RESPONSE_PATH" envDefault:"choices[0].message.content"`

	// RequestsPerSecond paces outbound analysis calls; zero disables pacing.
	RequestsPerSecond float64 `env:"ANALYSIS_REQUESTS_PER_SECOND" envDefault:"0"`
}

// Sanitize applies guardrails to analysis configuration values.
func (a *AnalysisConfig) Sanitize() {
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	a.APIKey = strings.TrimSpace(a.APIKey)
	if a.MaxTokens < 1 {
		a.MaxTokens = 2000
	}
	if a.Timeout <= 0 {
		a.Timeout = 120 * time.Second
	}
	if a.ResponsePath = strings.TrimSpace(a.ResponsePath); a.ResponsePath == "" {
		a.ResponsePath = "choices[0].message.content"
	}
	if a.RequestsPerSecond < 0 {
		a.RequestsPerSecond = 0
	}
}
