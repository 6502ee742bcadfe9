package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/docqa/internal/agent"
	"github.com/fyrsmithlabs/docqa/internal/conversation"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/index"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/sanitize"
	"github.com/fyrsmithlabs/docqa/internal/session"
)

type fakeAsker struct {
	mu       sync.Mutex
	requests []conversation.Request
	err      error
	turns    map[string][]session.Turn
}

func (f *fakeAsker) Ask(_ context.Context, req conversation.Request) (*conversation.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &conversation.Response{
		Answer:       "Revenue was 10M (page 2).",
		ReasoningLog: []string{`[tool_call] DocumentSearch("revenue") -> [page 2] Revenue was 10M.`},
	}, nil
}

func (f *fakeAsker) History(id string) ([]session.Turn, error) {
	if err := sanitize.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", conversation.ErrInvalidRequest, err)
	}
	return f.turns[id], nil
}

type fakeUploader struct {
	name string
	body []byte
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, filename string, r io.Reader) (*ingest.Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.name, f.body = filename, b
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{DocumentID: "doc-1", Source: filename, Entries: 3}, nil
}

func setupTestServer(t *testing.T, asker *fakeAsker, uploader *fakeUploader) (*Server, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	server, err := NewServer(asker, uploader, logger.Logger, &Config{Host: "localhost", Port: 8000, MaxUploadMB: 1})
	require.NoError(t, err)
	return server, logger
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func askRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(&fakeAsker{}, &fakeUploader{}, logging.Nop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8000, server.config.Port)
		assert.Equal(t, 32, server.config.MaxUploadMB)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeAsker{}, &fakeUploader{}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when dependencies are nil", func(t *testing.T) {
		_, err := NewServer(nil, &fakeUploader{}, logging.Nop(), nil)
		assert.Error(t, err)
		_, err = NewServer(&fakeAsker{}, nil, logging.Nop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{})

	rec := serve(server, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleUpload(t *testing.T) {
	t.Run("accepts a pdf", func(t *testing.T) {
		up := &fakeUploader{}
		server, logger := setupTestServer(t, &fakeAsker{}, up)

		rec := serve(server, multipartUpload(t, "file", "report.pdf", []byte("%PDF-1.4 body")))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp UploadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "PDF uploaded and embedded successfully.", resp.Message)
		assert.Equal(t, "report.pdf", up.name)
		assert.Equal(t, []byte("%PDF-1.4 body"), up.body)
		logger.AssertField(t, "upload accepted", "document.id", "doc-1")
	})

	t.Run("missing file field", func(t *testing.T) {
		server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{})

		rec := serve(server, multipartUpload(t, "document", "report.pdf", []byte("x")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file field is required", decodeError(t, rec))
	})

	t.Run("body over the limit", func(t *testing.T) {
		server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{})

		rec := serve(server, multipartUpload(t, "file", "big.pdf", bytes.Repeat([]byte("a"), 2<<20)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	errorCases := []struct {
		name string
		err  error
		code int
	}{
		{"extraction failure", fmt.Errorf("%w: malformed xref", extract.ErrExtraction), http.StatusUnprocessableEntity},
		{"blank document", ingest.ErrNoText, http.StatusUnprocessableEntity},
		{"embedding failure", fmt.Errorf("%w: 401 invalid api key", index.ErrEmbedding), http.StatusBadGateway},
		{"index failure", fmt.Errorf("%w: disk full", index.ErrIndex), http.StatusBadGateway},
		{"storage failure", fmt.Errorf("%w: open /srv/uploads/x: permission denied", ingest.ErrStorage), http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{err: tc.err})

			rec := serve(server, multipartUpload(t, "file", "a.pdf", []byte("x")))
			assert.Equal(t, tc.code, rec.Code)
			msg := decodeError(t, rec)
			assert.NotEmpty(t, msg)
			assert.NotContains(t, msg, "/srv/uploads")
		})
	}
}

func TestHandleAsk(t *testing.T) {
	t.Run("answers with reasoning log", func(t *testing.T) {
		asker := &fakeAsker{}
		server, _ := setupTestServer(t, asker, &fakeUploader{})

		rec := serve(server, askRequest(url.Values{"question": {"What was revenue?"}, "session_id": {"alice"}}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Revenue was 10M (page 2).", body["answer"])
		assert.Contains(t, body, "clarification")
		assert.Nil(t, body["clarification"])
		assert.Len(t, body["reasoning_log"], 1)

		require.Len(t, asker.requests, 1)
		assert.Equal(t, conversation.Request{Question: "What was revenue?", SessionID: "alice"}, asker.requests[0])
	})

	t.Run("session id is optional", func(t *testing.T) {
		asker := &fakeAsker{}
		server, _ := setupTestServer(t, asker, &fakeUploader{})

		rec := serve(server, askRequest(url.Values{"question": {"q"}}))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, asker.requests[0].SessionID)
	})

	errorCases := []struct {
		name string
		err  error
		code int
	}{
		{"missing question", fmt.Errorf("%w: %w", conversation.ErrInvalidRequest, agent.ErrEmptyQuestion), http.StatusBadRequest},
		{"invalid session", fmt.Errorf("%w: %w", conversation.ErrInvalidRequest, sanitize.ErrInvalidSessionID), http.StatusBadRequest},
		{"timeout", fmt.Errorf("%w: after 60s", agent.ErrTimeout), http.StatusGatewayTimeout},
		{"client gone", fmt.Errorf("%w: %w", agent.ErrCanceled, context.Canceled), statusClientClosedRequest},
		{"model failure", fmt.Errorf("%w: 503 overloaded", agent.ErrModel), http.StatusBadGateway},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := setupTestServer(t, &fakeAsker{err: tc.err}, &fakeUploader{})

			rec := serve(server, askRequest(url.Values{"question": {"q"}}))
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.err.Error(), decodeError(t, rec))
		})
	}
}

func TestHandleSession(t *testing.T) {
	asker := &fakeAsker{turns: map[string][]session.Turn{
		"alice": {{Question: "q1", Answer: "a1", At: time.Unix(0, 0).UTC()}},
	}}
	server, _ := setupTestServer(t, asker, &fakeUploader{})

	rec := serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.SessionID)
	require.Len(t, resp.Turns, 1)
	assert.Equal(t, "a1", resp.Turns[0].Answer)

	rec = serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nobody", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"session_id":"nobody","turns":[]}`, rec.Body.String())

	rec = serve(server, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/bad%20id", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Middleware(t *testing.T) {
	t.Run("unknown route renders error body", func(t *testing.T) {
		server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{})

		rec := serve(server, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Not Found", decodeError(t, rec))
	})

	t.Run("cors allows any origin", func(t *testing.T) {
		server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderOrigin, "https://client.example")
		rec := serve(server, req)
		assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})

	t.Run("request log carries status and request id", func(t *testing.T) {
		server, logger := setupTestServer(t, &fakeAsker{err: agent.ErrModel}, &fakeUploader{})

		rec := serve(server, askRequest(url.Values{"question": {"q"}}))
		require.Equal(t, http.StatusBadGateway, rec.Code)

		entries := logger.FilterMessage("http request").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.EqualValues(t, http.StatusBadGateway, fields["status"])
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), fields["request.id"])
		logger.AssertLogged(t, zapcore.ErrorLevel, "request failed")
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		server, _ := setupTestServer(t, &fakeAsker{}, &fakeUploader{})

		rec := serve(server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}
