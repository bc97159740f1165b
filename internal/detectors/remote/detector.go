// Package remote calls an external NER detection service over HTTP.
// The service is quota-bound: every request passes admission control
// and a client-side rate limiter before it leaves the process.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/redactd/internal/admission"
	"github.com/fyrsmithlabs/redactd/internal/config"
	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxPayload  = 100_000
)

// Config configures the remote detection client.
type Config struct {
	// Endpoint is the base URL of the detection service.
	Endpoint string

	// APIKey authenticates requests. Never logged.
	APIKey config.Secret

	// Timeout bounds one HTTP request.
	Timeout time.Duration

	// MaxPayload caps the per-page text sent to the service, in bytes.
	// Longer pages are truncated at a word boundary.
	MaxPayload int

	// RequestsPerSecond and Burst shape the client-side rate limit.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
}

// Validate checks the client configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("remote endpoint required")
	}
	if !c.APIKey.IsSet() {
		return fmt.Errorf("remote API key required")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d", c.Burst)
	}
	return nil
}

// Detector sends extracted pages to the remote service and maps its
// answer onto redaction entities.
type Detector struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	admission  *admission.Controller
	logger     *logging.Logger
}

var _ fanout.ContextDetector = (*Detector)(nil)

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAdmission guards requests with the given controller.
func WithAdmission(c *admission.Controller) Option {
	return func(d *Detector) { d.admission = c }
}

// WithHTTPClient substitutes the HTTP client. Used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Detector) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// NewDetector builds the remote client.
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote detector config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = defaultMaxPayload
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	d := &Detector{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name implements fanout.ContextDetector.
func (d *Detector) Name() string { return "remote" }

// wire types for the detection service.

type detectRequest struct {
	DocumentID string       `json:"document_id"`
	Pages      []detectPage `json:"pages"`
	Types      []string     `json:"types,omitempty"`
}

type detectPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

type detectResponse struct {
	Pages []redaction.Page `json:"pages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Detect sends the document to the remote service.
func (d *Detector) Detect(ctx context.Context, req fanout.Request) (fanout.Detection, error) {
	if d.admission != nil {
		unitID := uuid.NewString()
		if err := d.admission.Acquire(ctx, unitID); err != nil {
			return fanout.Detection{}, fmt.Errorf("admission denied: %w", err)
		}
		defer d.admission.Release()
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fanout.Detection{}, fmt.Errorf("rate limiter: %w", err)
	}

	payload := detectRequest{
		DocumentID: req.Document.ID,
		Types:      req.Types,
	}
	for _, page := range req.Document.Pages {
		payload.Pages = append(payload.Pages, detectPage{
			Page: page.Page,
			Text: admission.Truncate(page.Text, d.cfg.MaxPayload),
		})
	}

	resp, err := d.doWithRetries(ctx, payload)
	if err != nil {
		return fanout.Detection{}, err
	}

	det := fanout.Detection{Mapping: redaction.Mapping{Pages: resp.Pages}}
	for _, page := range resp.Pages {
		det.Entities = append(det.Entities, page.Sensitive...)
	}
	if det.Mapping.Pages == nil {
		det.Mapping = redaction.EmptyMapping()
	}
	return det, nil
}

func (d *Detector) doWithRetries(ctx context.Context, payload detectRequest) (detectResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			d.logger.Debug(ctx, "retrying remote detection",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return detectResponse{}, ctx.Err()
			}
		}

		resp, err := d.doRequest(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return detectResponse{}, err
		}
	}
	return detectResponse{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (d *Detector) doRequest(ctx context.Context, payload detectRequest) (detectResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return detectResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint+"/v1/detect", bytes.NewReader(body))
	if err != nil {
		return detectResponse{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", d.cfg.APIKey.Value())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return detectResponse{}, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return detectResponse{}, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return detectResponse{}, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return detectResponse{}, &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return detectResponse{}, fmt.Errorf("service error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return detectResponse{}, fmt.Errorf("service error (%d)", resp.StatusCode)
	}

	var out detectResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return detectResponse{}, fmt.Errorf("parsing response: %w", err)
	}
	return out, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
