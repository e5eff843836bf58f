package broker

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// External job states. Anything else is reported as in progress.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobRequest asks the delegated signing service to perform a transfer on the
// secondary network.
type JobRequest struct {
	Reference string          `json:"reference"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
}

// JobStatus is the external view of a delegated job, returned verbatim.
type JobStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (s *JobStatus) Terminal() bool {
	return s.Status == JobCompleted || s.Status == JobFailed
}

// JobClient creates and polls delegated jobs.
type JobClient interface {
	CreateJob(ctx context.Context, req JobRequest) (string, error)
	JobStatus(ctx context.Context, jobID string) (*JobStatus, error)
}

type HTTPJobClient struct {
	c *client
}

func NewHTTPJobClient(baseURL, apiKey string, opts ...Option) *HTTPJobClient {
	return &HTTPJobClient{c: newClient("jobs", baseURL, apiKey, opts...)}
}

func (j *HTTPJobClient) CreateJob(ctx context.Context, req JobRequest) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := j.c.do(ctx, http.MethodPost, "/v1/jobs", req, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (j *HTTPJobClient) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var res JobStatus
	if err := j.c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
