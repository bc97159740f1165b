package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/redactd/internal/admission"
	"github.com/fyrsmithlabs/redactd/internal/config"
	"github.com/fyrsmithlabs/redactd/internal/extraction"
	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/syncres"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

func testCfg(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		APIKey:            config.Secret("test-api-key"),
		Timeout:           2 * time.Second,
		RequestsPerSecond: 100,
		Burst:             10,
		MaxRetries:        2,
	}
}

func reqWithText(text string) fanout.Request {
	return fanout.Request{Document: extraction.Document{
		ID:    "doc-1",
		Pages: []extraction.PageText{{Page: 1, Text: text}},
	}}
}

func TestDetectParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/detect", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-API-Key"))

		var in detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "doc-1", in.DocumentID)

		json.NewEncoder(w).Encode(detectResponse{Pages: []redaction.Page{{
			Page: 1,
			Sensitive: []redaction.Entity{
				{Type: "PERSON", Start: 5, End: 13, Score: 0.88},
			},
		}}})
	}))
	defer srv.Close()

	d, err := NewDetector(testCfg(srv.URL))
	require.NoError(t, err)

	det, err := d.Detect(context.Background(), reqWithText("meet Jane Doe"))
	require.NoError(t, err)

	require.Len(t, det.Entities, 1)
	assert.Equal(t, "PERSON", det.Entities[0].Type)
	require.Len(t, det.Mapping.Pages, 1)
}

func TestDetectRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(detectResponse{Pages: []redaction.Page{{Page: 1, Sensitive: []redaction.Entity{}}}})
	}))
	defer srv.Close()

	d, err := NewDetector(testCfg(srv.URL))
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), reqWithText("text"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDetectDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{Error: "unsupported language"})
	}))
	defer srv.Close()

	d, err := NewDetector(testCfg(srv.URL))
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), reqWithText("text"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetectTruncatesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Len(t, in.Pages, 1)
		assert.LessOrEqual(t, len(in.Pages[0].Text), 20)
		json.NewEncoder(w).Encode(detectResponse{})
	}))
	defer srv.Close()

	cfg := testCfg(srv.URL)
	cfg.MaxPayload = 20

	d, err := NewDetector(cfg)
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), reqWithText("a long page of text that exceeds the payload budget"))
	require.NoError(t, err)
}

func TestDetectAdmissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(detectResponse{})
	}))
	defer srv.Close()

	ctrl, err := admission.NewController(admission.Config{
		MaxDaily:      1,
		MaxConcurrent: 1,
		HistorySize:   10,
	}, admission.WithRegistry(syncres.NewRegistry("test:remote")))
	require.NoError(t, err)

	d, err := NewDetector(testCfg(srv.URL), WithAdmission(ctrl))
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), reqWithText("one"))
	require.NoError(t, err)

	// Daily budget spent: the next call is refused before any HTTP work.
	_, err = d.Detect(context.Background(), reqWithText("two"))
	require.Error(t, err)
	assert.ErrorIs(t, err, admission.ErrQuotaExceeded)
}

func TestConfigValidate(t *testing.T) {
	cfg := testCfg("http://localhost:1")

	bad := cfg
	bad.Endpoint = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.APIKey = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RequestsPerSecond = 0
	assert.Error(t, bad.Validate())

	assert.NoError(t, cfg.Validate())
}
