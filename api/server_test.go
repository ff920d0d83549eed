package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/scanqa/chat"
	"github.com/fabfab/scanqa/document"
	"github.com/fabfab/scanqa/knowledge"
	"github.com/fabfab/scanqa/pipeline"
)

type fakePipeline struct {
	state    pipeline.State
	stats    pipeline.Stats
	answer   chat.Answer
	askErr   error
	initErr  error
	cleared  bool
	question string

	graph    *knowledge.Summary
	graphErr error
}

var _ Pipeline = (*fakePipeline)(nil)

func (f *fakePipeline) Initialize(context.Context) error {
	if f.initErr == nil {
		f.state = pipeline.Ready
	}
	return f.initErr
}

func (f *fakePipeline) Ask(_ context.Context, q string) (chat.Answer, error) {
	f.question = q
	return f.answer, f.askErr
}

func (f *fakePipeline) Clear(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakePipeline) State() pipeline.State { return f.state }
func (f *fakePipeline) Stats() pipeline.Stats { return f.stats }
func (f *fakePipeline) DocumentID() string    { return "doc-1" }
func (f *fakePipeline) SourceName() string    { return "invoice.pdf" }

func (f *fakePipeline) Provenance(context.Context) (knowledge.Summary, bool, error) {
	if f.graph == nil {
		return knowledge.Summary{}, f.graphErr != nil, f.graphErr
	}
	return *f.graph, true, f.graphErr
}

func newTestServer(p Pipeline) *Server {
	return New(p, log.New(io.Discard, "", 0))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndOpenAPI(t *testing.T) {
	s := newTestServer(&fakePipeline{})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/ask")

	rec = do(t, s, http.MethodPost, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestAskReturnsAnswerWithPages(t *testing.T) {
	p := &fakePipeline{
		state: pipeline.Ready,
		answer: chat.Answer{
			Text: "The total is $45.00.",
			Evidence: []document.Chunk{
				{ID: "c1", PageNumber: 1, Text: "Invoice #123\nTotal: $45.00"},
				{ID: "c2", PageNumber: 1, Text: strings.Repeat("x", 300)},
			},
		},
	}
	s := newTestServer(p)

	rec := do(t, s, http.MethodPost, "/v1/ask", `{"question":"  What is the total? "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "What is the total?", p.question)

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The total is $45.00.", resp.Answer)
	assert.False(t, resp.Refused)
	assert.Equal(t, []int{1}, resp.Pages)
	require.Len(t, resp.Evidence, 2)
	assert.True(t, strings.HasSuffix(resp.Evidence[1].Snippet, "..."))
}

func TestAskValidation(t *testing.T) {
	s := newTestServer(&fakePipeline{state: pipeline.Ready})

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/ask", `{"question":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/ask", `{"question":"q","limit":3}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/ask", `{"question":"q"}{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/v1/ask", "").Code)
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		retryAfter bool
	}{
		{document.ErrNotReady, http.StatusServiceUnavailable, true},
		{fmt.Errorf("%w: timeout", document.ErrIndexQuery), http.StatusServiceUnavailable, true},
		{fmt.Errorf("%w: bad", document.ErrInvalidInput), http.StatusBadRequest, false},
		{fmt.Errorf("%w: upstream", document.ErrGeneration), http.StatusBadGateway, false},
		{fmt.Errorf("boom"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		s := newTestServer(&fakePipeline{askErr: tc.err})
		rec := do(t, s, http.MethodPost, "/v1/ask", `{"question":"q"}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After") != "", tc.err.Error())
	}
}

func TestIngestAndStatus(t *testing.T) {
	ingested := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &fakePipeline{stats: pipeline.Stats{Pages: 3, LowConfidencePages: 1, Chunks: 7, IngestedAt: ingested}}
	s := newTestServer(p)

	rec := do(t, s, http.MethodPost, "/v1/ingest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ready", status.State)
	assert.Equal(t, "doc-1", status.DocumentID)
	assert.Equal(t, "invoice.pdf", status.Source)
	assert.Equal(t, 7, status.Chunks)
	require.NotNil(t, status.IngestedAt)
	assert.True(t, ingested.Equal(*status.IngestedAt))
	assert.Nil(t, status.Provenance, "graph disabled")
	assert.NotContains(t, rec.Body.String(), "provenance")
}

func TestStatusIncludesProvenance(t *testing.T) {
	p := &fakePipeline{
		state: pipeline.Ready,
		stats: pipeline.Stats{Pages: 3, LowConfidencePages: 1, Chunks: 7},
		graph: &knowledge.Summary{Pages: 3, LowConfidencePages: 1, Chunks: 7},
	}
	s := newTestServer(p)

	rec := do(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Provenance)
	assert.Equal(t, provenance{Pages: 3, LowConfidencePages: 1, Chunks: 7}, *status.Provenance)

	// An unreachable graph never fails the status call.
	p.graph, p.graphErr = nil, errors.New("neo4j unavailable")
	rec = do(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status = statusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Nil(t, status.Provenance)
	assert.Equal(t, 7, status.Chunks)
}

func TestIngestErrorMapping(t *testing.T) {
	s := newTestServer(&fakePipeline{initErr: document.ErrIngestionInProgress})
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/v1/ingest", "").Code)

	s = newTestServer(&fakePipeline{initErr: fmt.Errorf("%w: corrupt", document.ErrIngestion)})
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPost, "/v1/ingest", "").Code)

	s = newTestServer(&fakePipeline{initErr: fmt.Errorf("%w: down", document.ErrIndexBuild)})
	rec := do(t, s, http.MethodPost, "/v1/ingest", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestClearRequiresConfirm(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(p)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/clear", `{}`).Code)
	assert.False(t, p.cleared)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/clear", `{"confirm":true}`).Code)
	assert.True(t, p.cleared)
}
