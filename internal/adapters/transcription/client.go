// Package transcription calls an OpenAI-compatible speech-to-text endpoint.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "whisper-1"
	defaultSpeakerCount = 3
	defaultTimeout      = 300 * time.Second
)

// ClientOptions groups dependencies for Client.
type ClientOptions struct {
	BaseURL      string          // Optional: API base URL (default OpenAI)
	APIKey       string          // Optional: bearer token
	Model        string          // Optional: model name (default whisper-1)
	SpeakerCount int             // Optional: round-robin speaker labels (default 3)
	Timeout      time.Duration   // Optional: HTTP timeout (default 300s)
	Audio        core.AudioStore // Required: resolves audio references
	HTTPClient   *http.Client    // Optional: transport override
	Logger       *slog.Logger    // Optional: structured logger
}

// Client uploads audio for transcription and labels the returned segments.
type Client struct {
	http     *resty.Client
	endpoint string
	model    string
	speakers int
	audio    core.AudioStore
	logger   *slog.Logger
}

var _ core.Transcriber = (*Client)(nil)

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Audio == nil {
		return nil, errors.New("AudioStore is required")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = defaultModel
	}
	speakers := opts.SpeakerCount
	if speakers <= 0 {
		speakers = defaultSpeakerCount
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	client.SetTimeout(timeout)
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &Client{
		http:     client,
		endpoint: baseURL + "/audio/transcriptions",
		model:    modelName,
		speakers: speakers,
		audio:    opts.Audio,
		logger:   logger.With("component", "transcription_client"),
	}, nil
}

type verboseSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Segments []verboseSegment `json:"segments"`
}

type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transcribe uploads the audio behind audioRef and returns the labelled transcript.
func (c *Client) Transcribe(ctx context.Context, audioRef string) (*model.Transcription, error) {
	obj, err := c.audio.Open(ctx, audioRef)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer obj.Body.Close()

	var (
		out     verboseResponse
		failure apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", obj.Name, obj.Body).
		SetFormData(map[string]string{
			"model":           c.model,
			"response_format": "verbose_json",
		}).
		SetResult(&out).
		SetError(&failure).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("call transcription service: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(string(resp.Body()))
		if failure.Error != nil && failure.Error.Message != "" {
			msg = failure.Error.Message
		}
		return nil, fmt.Errorf("transcription service returned HTTP %d: %s", resp.StatusCode(), msg)
	}

	c.logger.DebugContext(ctx, "transcription received",
		"audio_path", audioRef,
		"segments", len(out.Segments),
		"duration", resp.Time(),
	)
	return &model.Transcription{
		Text:     strings.TrimSpace(out.Text),
		Segments: labelSegments(out.Segments, c.speakers),
	}, nil
}

// labelSegments assigns round-robin speaker labels. Real diarization is out of scope.
func labelSegments(in []verboseSegment, speakers int) []model.Segment {
	out := make([]model.Segment, 0, len(in))
	for i, seg := range in {
		out = append(out, model.Segment{
			Speaker:   fmt.Sprintf("Speaker %d", (i%speakers)+1),
			Text:      strings.TrimSpace(seg.Text),
			Timestamp: formatTimestamp(seg.Start),
		})
	}
	return out
}

// formatTimestamp renders seconds as m:ss.
func formatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
