// Package hyp3 submits AUTORIFT jobs to a HyP3 deployment and lists the jobs
// it is already running.
package hyp3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	internalhttp "github.com/example/go-itslive/internal/http"
	"github.com/example/go-itslive/monitor"
	"github.com/example/go-itslive/monitor/dedup"
	"github.com/example/go-itslive/monitor/pairing"
)

const (
	DefaultURL     = "https://hyp3-its-live.asf.alaska.edu"
	DefaultJobType = "AUTORIFT"
)

// Client talks to the HyP3 jobs API.
type Client struct {
	baseURL string
	doer    internalhttp.Doer
	userID  string
}

// Option mutates the client when constructing it.
type Option func(*Client)

// WithBaseURL overrides the default API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithDoer sets the HTTP transport, typically an authenticated Session.
func WithDoer(d internalhttp.Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithUserID scopes job listings to the submitting account.
func WithUserID(id string) Option {
	return func(c *Client) {
		c.userID = id
	}
}

// NewClient creates a Client with sensible defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{baseURL: DefaultURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = internalhttp.NewSession()
	}
	return c
}

// Job is a HyP3 job as returned by the API.
type Job struct {
	JobID         string        `json:"job_id,omitempty"`
	JobType       string        `json:"job_type"`
	Name          string        `json:"name,omitempty"`
	StatusCode    string        `json:"status_code,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	JobParameters JobParameters `json:"job_parameters"`
}

// JobParameters are the AUTORIFT parameters the monitor sets.
type JobParameters struct {
	Granules      []string `json:"granules"`
	PublishBucket string   `json:"publish_bucket,omitempty"`
}

type submitRequest struct {
	Jobs         []Job `json:"jobs"`
	ValidateOnly bool  `json:"validate_only,omitempty"`
}

type jobsResponse struct {
	Jobs []Job  `json:"jobs"`
	Next string `json:"next,omitempty"`
}

// PrepareJob builds the job for a pair. The job is named after the
// reference scene and lists the granules in canonical order.
func PrepareJob(p pairing.Pair, params monitor.Parameters) Job {
	jobType := params.JobType
	if jobType == "" {
		jobType = DefaultJobType
	}
	g := p.Granules()
	return Job{
		JobType: jobType,
		Name:    p.Reference.ID(),
		JobParameters: JobParameters{
			Granules:      g[:],
			PublishBucket: params.PublishBucket,
		},
	}
}

// Submit implements monitor.Submitter. A 409 response is reported as
// monitor.ErrDuplicateSubmission.
func (c *Client) Submit(ctx context.Context, p pairing.Pair, params monitor.Parameters) (string, error) {
	endpoint, err := url.JoinPath(c.baseURL, "jobs")
	if err != nil {
		return "", fmt.Errorf("hyp3: invalid base URL: %w", err)
	}
	payload, err := json.Marshal(submitRequest{Jobs: []Job{PrepareJob(p, params)}})
	if err != nil {
		return "", fmt.Errorf("hyp3: encode job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("hyp3: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out jobsResponse
	if err := c.do(ctx, req, &out); err != nil {
		var statusErr *internalhttp.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict {
			return "", fmt.Errorf("hyp3: %w: %w", monitor.ErrDuplicateSubmission, err)
		}
		return "", fmt.Errorf("hyp3: submit %s: %w", p.Key, err)
	}
	if len(out.Jobs) != 1 || out.Jobs[0].JobID == "" {
		return "", fmt.Errorf("hyp3: submit %s: expected one job in response, got %d", p.Key, len(out.Jobs))
	}
	return out.Jobs[0].JobID, nil
}

// FindActive implements dedup.JobStore. Jobs are named after their reference
// scene, so the account's jobs are listed per status and per granule name and
// kept when their granules match the pair.
func (c *Client) FindActive(ctx context.Context, q dedup.JobQuery) ([]dedup.JobRecord, error) {
	endpoint, err := url.JoinPath(c.baseURL, "jobs")
	if err != nil {
		return nil, fmt.Errorf("hyp3: invalid base URL: %w", err)
	}
	var records []dedup.JobRecord
	seen := map[string]struct{}{}
	for _, status := range q.Statuses {
		for _, name := range q.Granules {
			if name == "" {
				continue
			}
			query := url.Values{}
			query.Set("job_type", DefaultJobType)
			query.Set("status_code", status)
			query.Set("name", name)
			if c.userID != "" {
				query.Set("user_id", c.userID)
			}
			next := endpoint + "?" + query.Encode()
			for next != "" {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
				if err != nil {
					return nil, fmt.Errorf("hyp3: create request: %w", err)
				}
				var page jobsResponse
				if err := c.do(ctx, req, &page); err != nil {
					return nil, fmt.Errorf("hyp3: list %s jobs named %s: %w", status, name, err)
				}
				for _, job := range page.Jobs {
					record := dedup.JobRecord{
						ID:       job.JobID,
						Name:     job.Name,
						Status:   job.StatusCode,
						Granules: job.JobParameters.Granules,
					}
					if record.PairKey() != q.PairKey {
						continue
					}
					if _, dup := seen[record.ID]; dup {
						continue
					}
					seen[record.ID] = struct{}{}
					records = append(records, record)
				}
				next = page.Next
			}
		}
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, v any) error {
	resp, err := internalhttp.Do(ctx, c.doer, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := internalhttp.CheckResponse(resp); err != nil {
		return err
	}
	return internalhttp.DecodeJSON(resp.Body, v)
}
