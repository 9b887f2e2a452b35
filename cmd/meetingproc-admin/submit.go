package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/target/meeting-processor/internal/domain/model"
)

// apiClient talks to a running meeting processor over its HTTP API.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &apiClient{http: client}
}

type apiFailure struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type submitResponse struct {
	JobID     string      `json:"job_id"`
	Stage     model.Stage `json:"stage"`
	Message   string      `json:"message"`
	StatusURL string      `json:"status_url"`
}

func checkResponse(resp *resty.Response, failure *apiFailure) error {
	if !resp.IsError() {
		return nil
	}
	if failure.Error != "" {
		return fmt.Errorf("HTTP %d %s: %s", resp.StatusCode(), failure.Error, failure.Message)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}

// submitReference starts a job for audio the server can already read.
func (c *apiClient) submitReference(ctx context.Context, audioPath, title string) (*submitResponse, error) {
	var (
		out     submitResponse
		failure apiFailure
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"audio_path": audioPath, "meeting_title": title}).
		SetResult(&out).
		SetError(&failure).
		Post("/api/meetings")
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	if err := checkResponse(resp, &failure); err != nil {
		return nil, err
	}
	return &out, nil
}

// upload sends a local audio file as a multipart upload.
func (c *apiClient) upload(ctx context.Context, path, title string) (*submitResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var (
		out     submitResponse
		failure apiFailure
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filepath.Base(path), f).
		SetFormData(map[string]string{"title": title}).
		SetResult(&out).
		SetError(&failure).
		Post("/api/meetings")
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}
	if err := checkResponse(resp, &failure); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) status(ctx context.Context, id string) (*model.Job, error) {
	var (
		out     model.Job
		failure apiFailure
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&failure).
		Get("/api/meetings/{id}")
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	if err := checkResponse(resp, &failure); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) result(ctx context.Context, id string) (*model.Result, error) {
	var (
		out     model.Result
		failure apiFailure
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&failure).
		Get("/api/meetings/{id}/result")
	if err != nil {
		return nil, fmt.Errorf("get job result: %w", err)
	}
	if err := checkResponse(resp, &failure); err != nil {
		return nil, err
	}
	return &out, nil
}

// waitForJob polls until the job reaches a terminal stage.
func (c *apiClient) waitForJob(ctx context.Context, id string, interval time.Duration, onChange func(*model.Job)) (*model.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last model.Stage
	for {
		job, err := c.status(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Stage != last && onChange != nil {
			onChange(job)
		}
		last = job.Stage
		if job.Stage.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type submitOptions struct {
	server       string
	title        string
	upload       bool
	wait         bool
	pollInterval time.Duration
	timeout      time.Duration
	asJSON       bool
}

func newSubmitCmd(app *cliApp) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit <audio-path>",
		Short: "Submit audio to a running server for processing",
		Long: `Submit audio to a running server for processing.

By default the path is sent as a reference the server resolves itself
(a local path on the server or an s3:// reference). With --upload the
local file is uploaded instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.server == "" {
				opts.server = serverURL(app.cfg.HTTP.Addr)
			}
			return runSubmit(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "server base URL (default derived from HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.title, "title", "", "meeting title")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "upload the local file instead of sending a reference")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "wait for the job to finish and print the result")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "status polling interval with --wait")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "maximum time to wait with --wait")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON with --wait")
	return cmd
}

func runSubmit(cmd *cobra.Command, opts submitOptions, audioPath string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	client := newAPIClient(opts.server, time.Minute)

	var (
		submitted *submitResponse
		err       error
	)
	if opts.upload {
		submitted, err = client.upload(ctx, audioPath, opts.title)
	} else {
		submitted, err = client.submitReference(ctx, audioPath, opts.title)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s submitted.\n", submitted.JobID)
	if !opts.wait {
		return nil
	}

	if opts.pollInterval <= 0 {
		opts.pollInterval = 2 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	job, err := client.waitForJob(waitCtx, submitted.JobID, opts.pollInterval, func(j *model.Job) {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s: %s\n", j.Stage, j.ID, j.StatusMessage)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("job %s did not finish within %s", submitted.JobID, opts.timeout)
		}
		return err
	}
	if job.Stage == model.StageFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}

	result, err := client.result(ctx, job.ID)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(out, result)
	}
	return printResult(out, result)
}

// serverURL turns a listen address such as ":8080" into a client URL.
func serverURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}

