package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/agent"
	"github.com/fyrsmithlabs/docqa/internal/sanitize"
	"github.com/fyrsmithlabs/docqa/internal/session"
)

// DegradedAnswer replaces the answer when the agent could not settle on a valid action.
const DegradedAnswer = "I'm sorry, I wasn't able to work out an answer to that question. " +
	"Please try rephrasing it or asking something more specific."

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Runner executes one agent turn.
type Runner interface {
	Run(ctx context.Context, in agent.Input) (*agent.Result, error)
}

// Request is one question from a client.
type Request struct {
	Question  string
	SessionID string
}

// Response is the answer to a Request.
type Response struct {
	Answer        string   `json:"answer"`
	Clarification *string  `json:"clarification"`
	ReasoningLog  []string `json:"reasoning_log"`
}

// Config holds service options.
type Config struct {
	// DefaultSessionID is used when a request names no session.
	DefaultSessionID string
}

// Service answers questions with per-session memory.
type Service struct {
	agent     Runner
	sessions  *session.Store
	logger    *zap.Logger
	defaultID string
}

// NewService creates a service.
func NewService(runner Runner, sessions *session.Store, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultID := cfg.DefaultSessionID
	if defaultID == "" {
		defaultID = session.DefaultID
	}
	return &Service{
		agent:     runner,
		sessions:  sessions,
		logger:    logger,
		defaultID: defaultID,
	}
}

// Ask answers req.Question. Turns on the same session id run one at a time.
func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, agent.ErrEmptyQuestion)
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = s.defaultID
	}
	if err := sanitize.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	sess, release := s.sessions.Acquire(id)
	defer release()

	start := time.Now()
	history := sess.Turns()
	res, err := s.agent.Run(ctx, agent.Input{Question: question, History: history})

	switch {
	case err == nil:
	case errors.Is(err, agent.ErrParsing):
		s.logger.Warn("agent gave no valid answer, returning degraded response",
			zap.String("session_id", id),
			zap.Error(err))
		if res == nil {
			res = &agent.Result{}
		}
		res.Answer = DegradedAnswer
		res.Clarification = nil
	default:
		s.logger.Error("question failed",
			zap.String("session_id", id),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	turn := session.Turn{
		Question:  question,
		Answer:    res.Answer,
		ToolCalls: res.ToolCalls,
	}
	resp := &Response{
		Answer:       res.Answer,
		ReasoningLog: res.LogStrings(),
	}
	if res.Clarification != nil {
		msg := res.Clarification.Message
		turn.Answer = ""
		turn.Clarification = msg
		resp.Answer = ""
		resp.Clarification = &msg
	}
	sess.Append(turn)

	s.logger.Info("question answered",
		zap.String("session_id", id),
		zap.Int("history_turns", len(history)),
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", len(res.ToolCalls)),
		zap.Bool("clarification", resp.Clarification != nil),
		zap.Duration("duration", time.Since(start)))

	return resp, nil
}

// History returns the stored turns of a session.
func (s *Service) History(id string) ([]session.Turn, error) {
	if err := sanitize.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return []session.Turn{}, nil
	}
	return sess.Turns(), nil
}
