// Package execsvc talks to the external job execution service. It only
// submits sub-jobs and polls their state; it never cancels them.
package execsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourorg/remediation-reconciler/internal/model"
	"github.com/yourorg/remediation-reconciler/internal/worker"
)

// Kinds of sub-job the execution service accepts.
const (
	KindFix    = "fix"
	KindFixDB  = "fix-db"
	KindScan   = "scan"
	KindScanDB = "scan-db"
)

type Request struct {
	ServerIDs []string `json:"server_ids"`
	ItemCodes []string `json:"item_codes,omitempty"`
}

// State is a sub-job as last reported by the service.
type State struct {
	Status    model.JobStatus
	StartedAt time.Time // zero when unknown
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// PollAttempts and PollBackoff bound retries of a poll that failed in
	// transit, with a 5xx or with a 429.
	PollAttempts int
	PollBackoff  time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTP:         &http.Client{Timeout: timeout},
		PollAttempts: 3,
		PollBackoff:  200 * time.Millisecond,
	}
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

type submitResponse struct {
	Job struct {
		ID string `json:"job_id"`
	} `json:"job"`
}

// Submit starts one sub-job and returns its id.
func (c *Client) Submit(ctx context.Context, kind string, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/jobs/"+url.PathEscape(kind), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")

	var out submitResponse
	if err := c.do(hreq, &out); err != nil {
		return "", fmt.Errorf("submit %s: %w", kind, err)
	}
	if out.Job.ID == "" {
		return "", fmt.Errorf("submit %s: response has no job id", kind)
	}
	return out.Job.ID, nil
}

type pollResponse struct {
	Status    string  `json:"status"`
	StartedAt float64 `json:"started_at"`
}

// Poll reads the current state of a sub-job. A missing status reads as queued.
// Transport errors, 5xx and 429 are retried; other 4xx answers return at once.
func (c *Client) Poll(ctx context.Context, id string) (State, error) {
	var (
		st        State
		permanent error
	)
	err := worker.Retry(ctx, max(c.PollAttempts, 1), c.PollBackoff, func() error {
		var err error
		st, err = c.poll(ctx, id)
		if err != nil && !transient(err) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return State{}, permanent
	}
	return st, err
}

func (c *Client) poll(ctx context.Context, id string) (State, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return State{}, err
	}
	var out pollResponse
	if err := c.do(hreq, &out); err != nil {
		return State{}, fmt.Errorf("poll %s: %w", id, err)
	}
	st := State{Status: parseStatus(out.Status)}
	if out.StartedAt > 0 {
		sec := int64(out.StartedAt)
		st.StartedAt = time.Unix(sec, int64((out.StartedAt-float64(sec))*1e9))
	}
	return st, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseStatus(s string) model.JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "completed", "done":
		return model.JobSuccess
	case "running":
		return model.JobRunning
	case "failed", "error":
		return model.JobFailed
	}
	return model.JobQueued
}
