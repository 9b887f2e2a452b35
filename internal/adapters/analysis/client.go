// Package analysis asks an OpenAI-compatible chat completions endpoint to
// summarize a meeting transcript into a structured analysis.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jmespath-community/go-jmespath"
	"golang.org/x/time/rate"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultMaxTokens    = 2000
	defaultTimeout      = 120 * time.Second
	defaultResponsePath = "choices[0].message.content"
)

// ErrMalformedAnalysis is returned when the model reply is not the requested JSON document.
var ErrMalformedAnalysis = errors.New("model reply is not a valid analysis")

// ClientOptions groups dependencies for Client.
type ClientOptions struct {
	BaseURL           string        // Optional: API base URL (default OpenAI)
	APIKey            string        // Optional: bearer token
	Model             string        // Optional: model name
	MaxTokens         int           // Optional: completion budget (default 2000)
	Temperature       float64       // Optional: sampling temperature
	Timeout           time.Duration // Optional: HTTP timeout (default 120s)
	ResponsePath      string        // Optional: JMESPath to the reply text
	RequestsPerSecond float64       // Optional: outbound pacing; zero disables it
	HTTPClient        *http.Client  // Optional: transport override
	Logger            *slog.Logger  // Optional: structured logger
}

// Client implements core.Analyzer over a chat completions API.
type Client struct {
	http         *resty.Client
	endpoint     string
	model        string
	maxTokens    int
	temperature  float64
	responsePath string
	limiter      *rate.Limiter
	logger       *slog.Logger
}

var _ core.Analyzer = (*Client)(nil)

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	responsePath := strings.TrimSpace(opts.ResponsePath)
	if responsePath == "" {
		responsePath = defaultResponsePath
	}
	if _, err := jmespath.Compile(responsePath); err != nil {
		return nil, fmt.Errorf("invalid response path %q: %w", responsePath, err)
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	return &Client{
		http:         client,
		endpoint:     baseURL + "/chat/completions",
		model:        modelName,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
		responsePath: responsePath,
		limiter:      limiter,
		logger:       logger.With("component", "analysis_client"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Analyze sends transcript for analysis and decodes the structured reply.
func (c *Client) Analyze(ctx context.Context, transcript string) (*model.Analysis, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for analysis rate limit: %w", err)
		}
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(transcript)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("call analysis service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analysis service returned HTTP %d: %s", resp.StatusCode(), errorMessage(resp.Body()))
	}

	reply, err := c.extractReply(resp.Body())
	if err != nil {
		return nil, err
	}
	analysis, err := ParseAnalysis(reply)
	if err != nil {
		c.logger.WarnContext(ctx, "analysis reply could not be decoded", "error", err, "reply_bytes", len(reply))
		return nil, err
	}
	return analysis, nil
}

// extractReply evaluates the response path against the decoded response body.
func (c *Client) extractReply(body []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode analysis response: %w", err)
	}
	found, err := jmespath.Search(c.responsePath, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate response path: %w", err)
	}
	text, ok := found.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text at %q", ErrMalformedAnalysis, c.responsePath)
	}
	return text, nil
}

// ParseAnalysis decodes the JSON analysis document from a model reply. A
// ```json fenced block is preferred when present.
func ParseAnalysis(reply string) (*model.Analysis, error) {
	payload := extractJSON(reply)
	if !strings.HasPrefix(payload, "{") {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedAnalysis)
	}

	var analysis model.Analysis
	dec := json.NewDecoder(strings.NewReader(payload))
	if err := dec.Decode(&analysis); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAnalysis, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON document", ErrMalformedAnalysis)
	}
	analysis.Normalize()
	return &analysis, nil
}

func extractJSON(reply string) string {
	if _, after, ok := strings.Cut(reply, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(reply)
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
