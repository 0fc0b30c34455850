package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescope/internal/model"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 10 * time.Minute
)

// reconJob is the agent service's job envelope. Submit returns it with
// status "queued"; Status reports progress until "completed" or
// "failed".
type reconJob struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}

// AgentOption configures the HTTP agent.
type AgentOption func(*HTTPAgent)

// WithAgentHTTPClient sets a custom HTTP client.
func WithAgentHTTPClient(hc *http.Client) AgentOption {
	return func(a *HTTPAgent) {
		a.http = hc
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) AgentOption {
	return func(a *HTTPAgent) {
		a.pollInitial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) AgentOption {
	return func(a *HTTPAgent) {
		a.pollCap = d
	}
}

// WithPollTimeout overrides the default poll timeout (applied only if
// the parent context has no deadline).
func WithPollTimeout(d time.Duration) AgentOption {
	return func(a *HTTPAgent) {
		a.pollTimeout = d
	}
}

// HTTPAgent implements Agent against the recon agent service: submit a
// job, poll until it ends, return the surveyed profile. Recon runs for
// minutes, so the job API is asynchronous and every request carries the
// correlation id.
type HTTPAgent struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	pollInitial time.Duration
	pollCap     time.Duration
	pollTimeout time.Duration
}

// NewHTTPAgent creates an agent client for the given service URL.
func NewHTTPAgent(baseURL, apiKey string, opts ...AgentOption) *HTTPAgent {
	a := &HTTPAgent{
		baseURL:     baseURL,
		apiKey:      apiKey,
		http:        &http.Client{Timeout: 30 * time.Second},
		pollInitial: defaultPollInitial,
		pollCap:     defaultPollCap,
		pollTimeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ConductRecon submits a recon job and polls it to completion. Any
// failure surfaces as *model.AgentFailure and never yields a partial
// profile.
func (a *HTTPAgent) ConductRecon(ctx context.Context, req ReconRequest) (*Profile, error) {
	fail := func(err error) (*Profile, error) {
		return nil, &model.AgentFailure{
			JurisdictionID: req.JurisdictionID,
			CorrelationID:  req.CorrelationID,
			Err:            err,
		}
	}

	job, err := a.submit(ctx, req)
	if err != nil {
		return fail(err)
	}

	job, err = a.poll(ctx, job.ID, req.CorrelationID)
	if err != nil {
		return fail(err)
	}

	if job.Status != "completed" || job.Profile == nil {
		return fail(eris.Errorf("capability: recon job %s ended %s: %s", job.ID, job.Status, job.Error))
	}
	if job.Profile.JurisdictionID != req.JurisdictionID {
		return fail(eris.Errorf("capability: recon job %s returned profile for %s",
			job.ID, job.Profile.JurisdictionID))
	}
	return job.Profile, nil
}

func (a *HTTPAgent) submit(ctx context.Context, req ReconRequest) (*reconJob, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "capability: marshal recon request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/recon", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "capability: create submit request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	return a.doJob(httpReq, http.StatusAccepted, "submit")
}

// poll waits for the job to end, with exponential backoff:
// 2s -> 4s -> 8s -> 15s (capped).
func (a *HTTPAgent) poll(ctx context.Context, jobID, correlationID string) (*reconJob, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.pollTimeout)
		defer cancel()
	}

	interval := a.pollInitial
	for {
		job, err := a.status(ctx, jobID, correlationID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case "completed", "failed":
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("capability: recon job %s timed out", jobID))
		case <-time.After(interval):
		}

		interval *= 2
		if interval > a.pollCap {
			interval = a.pollCap
		}
	}
}

func (a *HTTPAgent) status(ctx context.Context, jobID, correlationID string) (*reconJob, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/v1/recon/"+jobID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "capability: create status request")
	}
	httpReq.Header.Set("X-Correlation-ID", correlationID)
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	return a.doJob(httpReq, http.StatusOK, "status")
}

func (a *HTTPAgent) doJob(req *http.Request, wantStatus int, op string) (*reconJob, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "capability: recon %s request", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "capability: read recon %s response", op)
	}

	if resp.StatusCode != wantStatus {
		return nil, eris.Errorf("capability: recon %s status %d: %s", op, resp.StatusCode, string(body))
	}

	var job reconJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, eris.Wrapf(err, "capability: unmarshal recon %s response", op)
	}
	if job.ID == "" {
		return nil, eris.Errorf("capability: recon %s returned no job id", op)
	}
	return &job, nil
}
