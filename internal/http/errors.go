package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/agent"
	"github.com/fyrsmithlabs/docqa/internal/conversation"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/index"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
)

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was ready.
const statusClientClosedRequest = 499

func uploadError(err error) *echo.HTTPError {
	var code int
	switch {
	case errors.Is(err, extract.ErrExtraction):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, index.ErrEmbedding), errors.Is(err, index.ErrIndex):
		code = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
	}
	// storage errors carry local paths
	msg := err.Error()
	if errors.Is(err, ingest.ErrStorage) {
		msg = ingest.ErrStorage.Error()
	}
	return echo.NewHTTPError(code, msg).SetInternal(err)
}

func askError(err error) *echo.HTTPError {
	var code int
	switch {
	case errors.Is(err, conversation.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, agent.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, agent.ErrCanceled), errors.Is(err, context.Canceled):
		code = statusClientClosedRequest
	default:
		code = http.StatusBadGateway
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

// handleError renders every error as {"error": "..."}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}

	ctx := c.Request().Context()
	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Int("status", code), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.Int("status", code), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn(ctx, "writing error response failed", zap.Error(err))
	}
}
