package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/redactd/internal/admission"
	"github.com/fyrsmithlabs/redactd/internal/extraction"
	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/internal/syncres"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

type echoDetector struct{}

func (echoDetector) Name() string { return "stub" }

func (echoDetector) Detect(ctx context.Context, req fanout.Request) (fanout.Detection, error) {
	e := redaction.Entity{Type: "EMAIL", Start: 0, End: 5, Score: 0.9}
	return fanout.Detection{
		Entities: []redaction.Entity{e},
		Mapping:  redaction.Mapping{Pages: []redaction.Page{{Page: 1, Sensitive: []redaction.Entity{e}}}},
	}, nil
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	f := fanout.New()
	f.Register(echoDetector{})

	s, err := NewServer(f, extraction.PlainText{}, logging.NewNop(), Config{}, opts...)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Telemetry)
}

func TestHealthDegradedTelemetry(t *testing.T) {
	s := newTestServer(t, WithHealthCheck(func() (bool, error) {
		return false, errors.New("collector unreachable")
	}))
	rec := doJSON(t, s, http.MethodGet, "/health", "")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "degraded", resp.Telemetry)
}

func TestStatus(t *testing.T) {
	ctrl, err := admission.NewController(admission.Config{
		MaxDaily:      10,
		MaxConcurrent: 2,
		HistorySize:   5,
	}, admission.WithRegistry(syncres.NewRegistry("test:server")))
	require.NoError(t, err)

	s := newTestServer(t, WithAdmission(ctrl))
	rec := doJSON(t, s, http.MethodGet, "/api/v1/status", "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"stub"}, resp.Engines)
	require.NotNil(t, resp.Quota)
	assert.Equal(t, 10, resp.Quota.MaxDaily)
}

func TestDetect(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/detect",
		`{"document_id":"doc-9","content":"email jane@example.org"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.SuccessCount)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "EMAIL", resp.Entities[0].Type)
	require.Len(t, resp.Engines, 1)
	assert.Equal(t, "stub", resp.Engines[0].Name)
	assert.NotEmpty(t, resp.OperationID)
}

func TestDetectMissingContent(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/detect", `{"document_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectInvalidDocumentID(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/detect",
		`{"document_id":"../etc/passwd","content":"text"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectNoEngines(t *testing.T) {
	f := fanout.New()
	s, err := NewServer(f, extraction.PlainText{}, logging.NewNop(), Config{})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/detect", `{"content":"text"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, extraction.PlainText{}, logging.NewNop(), Config{})
	assert.Error(t, err)

	_, err = NewServer(fanout.New(), nil, logging.NewNop(), Config{})
	assert.Error(t, err)

	_, err = NewServer(fanout.New(), extraction.PlainText{}, nil, Config{})
	assert.Error(t, err)
}
