package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/conversation"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/session"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UploadResponse is the response body for POST /upload.
type UploadResponse struct {
	Message string `json:"message"`
}

// SessionResponse is the response body for GET /api/v1/sessions/:id.
type SessionResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleUpload stores, extracts and indexes the multipart field "file".
func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required").SetInternal(err)
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload").SetInternal(err)
	}
	defer f.Close()

	ctx := c.Request().Context()
	res, err := s.uploader.Upload(ctx, fh.Filename, f)
	if err != nil {
		return uploadError(err)
	}

	s.logger.Info(logging.WithDocumentID(ctx, res.DocumentID), "upload accepted",
		zap.String("filename", fh.Filename),
		zap.Int64("size", fh.Size),
		zap.Int("entries", res.Entries),
	)
	return c.JSON(http.StatusOK, UploadResponse{Message: ingest.SuccessMessage})
}

// handleAsk runs one conversational turn. Form fields: question, session_id.
func (s *Server) handleAsk(c echo.Context) error {
	req := conversation.Request{
		Question:  c.FormValue("question"),
		SessionID: c.FormValue("session_id"),
	}

	ctx := c.Request().Context()
	if req.SessionID != "" {
		ctx = logging.WithSessionID(ctx, req.SessionID)
	}

	resp, err := s.asker.Ask(ctx, req)
	if err != nil {
		c.Set(outcomeKey, outcomeError)
		return askError(err)
	}
	c.Set(outcomeKey, askOutcome(resp))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSession(c echo.Context) error {
	id := c.Param("id")
	turns, err := s.asker.History(id)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid session id").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "reading session failed").SetInternal(err)
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	return c.JSON(http.StatusOK, SessionResponse{SessionID: id, Turns: turns})
}
