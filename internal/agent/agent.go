// Package agent runs the tool-calling loop that answers a question.
//
// Each iteration sends the system policy, the session history, the question
// and the scratchpad of earlier tool calls to the model. The model replies
// either with structured tool calls, which are validated against the tool
// set and executed one at a time, or with plain text, which is the final
// answer. A Clarification tool result ends the run immediately.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/session"
	"github.com/fyrsmithlabs/docqa/internal/tools"
)

const (
	DefaultMaxIterations = 8
	DefaultTimeout       = 60 * time.Second
)

var (
	// ErrParsing means the model never produced a valid final action.
	ErrParsing = errors.New("agent output could not be parsed into a valid action")

	// ErrMaxIterations is wrapped by ErrParsing when the iteration cap is hit.
	ErrMaxIterations = errors.New("maximum iterations reached")

	// ErrTimeout is returned when the run exceeds its wall-clock budget.
	ErrTimeout = errors.New("agent timed out")

	// ErrCanceled is returned when the caller gave up on the run.
	ErrCanceled = errors.New("agent run canceled")

	// ErrModel wraps language model failures.
	ErrModel = errors.New("language model request failed")

	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is required")
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Agent runs by outcome.",
		},
		[]string{"outcome"},
	)

	iterationsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docqa",
		Subsystem: "agent",
		Name:      "iterations",
		Help:      "Model round trips per agent run.",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})
)

var tracer = otel.Tracer("docqa.agent")

// Model is the chat interface the agent needs.
type Model interface {
	Generate(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*llms.ContentResponse, error)
}

// LogKind classifies a reasoning log entry.
type LogKind string

const (
	KindToolCall  LogKind = "tool_call"
	KindAgentText LogKind = "agent_text"
)

// LogEntry is one step of the reasoning trace.
type LogEntry struct {
	At      time.Time
	Kind    LogKind
	Content string
}

// String renders the entry for API responses.
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Content)
}

// Input is one question together with the session history.
type Input struct {
	Question string
	History  []session.Turn
}

// Result is the outcome of a run. Exactly one of Answer and Clarification is set.
type Result struct {
	Answer        string
	Clarification *tools.Clarification
	ToolCalls     []session.ToolCall
	Log           []LogEntry
	Iterations    int
}

// LogStrings renders the reasoning log in order.
func (r *Result) LogStrings() []string {
	out := make([]string, len(r.Log))
	for i, e := range r.Log {
		out[i] = e.String()
	}
	return out
}

// Config bounds a run.
type Config struct {
	MaxIterations int
	Timeout       time.Duration
}

// Agent answers questions with a model and a tool set.
type Agent struct {
	model  Model
	tools  *tools.Set
	cfg    Config
	logger *zap.Logger
}

// New creates an agent. Zero config values take the defaults.
func New(model Model, set *tools.Set, cfg Config, logger *zap.Logger) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{model: model, tools: set, cfg: cfg, logger: logger}
}

// Run answers in.Question. On ErrParsing, ErrTimeout and ErrCanceled the
// partial result carrying the reasoning log so far is returned with the error.
func (a *Agent) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := tracer.Start(ctx, "agent.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("agent.history_turns", len(in.History)),
		attribute.Int("agent.max_iterations", a.cfg.MaxIterations),
	)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	res, err := a.loop(ctx, in)
	iterationsHistogram.Observe(float64(res.Iterations))
	span.SetAttributes(
		attribute.Int("agent.iterations", res.Iterations),
		attribute.Int("agent.tool_calls", len(res.ToolCalls)),
	)

	outcome := "answer"
	switch {
	case err != nil:
		outcome = outcomeFor(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	case res.Clarification != nil:
		outcome = "clarification"
	}
	runsTotal.WithLabelValues(outcome).Inc()

	a.logger.Debug("agent run finished",
		zap.String("outcome", outcome),
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", len(res.ToolCalls)))

	if err != nil {
		if errors.Is(err, ErrModel) {
			return nil, err
		}
		return res, err
	}
	return res, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrParsing):
		return "parsing_error"
	default:
		return "error"
	}
}

// interrupted reports why ctx ended: its deadline or the caller cancelling.
func interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
}

func (a *Agent) loop(ctx context.Context, in Input) (*Result, error) {
	res := &Result{}
	defs := a.tools.Definitions()

	messages := make([]llms.MessageContent, 0, len(in.History)*2+2)
	messages = append(messages, systemMessage(a.tools))
	messages = append(messages, historyMessages(in.History)...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, in.Question))

	for res.Iterations < a.cfg.MaxIterations {
		res.Iterations++

		resp, err := a.model.Generate(ctx, messages, defs)
		if err != nil {
			if ctx.Err() != nil {
				return res, interrupted(ctx)
			}
			return res, fmt.Errorf("%w: %w", ErrModel, err)
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, correctionEmptyReply))
			continue
		}
		choice := resp.Choices[0]
		text := strings.TrimSpace(choice.Content)

		if len(choice.ToolCalls) == 0 {
			if text == "" {
				a.logger.Debug("empty model reply", zap.Int("iteration", res.Iterations))
				messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, correctionEmptyReply))
				continue
			}
			res.log(KindAgentText, text)
			res.Answer = text
			return res, nil
		}

		if text != "" {
			res.log(KindAgentText, text)
		}
		messages = append(messages, assistantMessage(text, choice.ToolCalls))

		for _, call := range choice.ToolCalls {
			obs, clar, err := a.execute(ctx, res, call)
			if err != nil {
				return res, err
			}
			if clar != nil {
				res.Clarification = clar
				return res, nil
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       callName(call),
					Content:    obs,
				}},
			})
		}
	}

	return res, fmt.Errorf("%w: %w after %d iterations", ErrParsing, ErrMaxIterations, res.Iterations)
}

// execute validates and runs one tool call. Invalid calls and tool failures
// become observations; only an ended context aborts the run.
func (a *Agent) execute(ctx context.Context, res *Result, call llms.ToolCall) (string, *tools.Clarification, error) {
	name := callName(call)
	raw := ""
	if call.FunctionCall != nil {
		raw = call.FunctionCall.Arguments
	}

	input, err := a.tools.Input(name, raw)
	if err != nil {
		obs := invalidCallMessage(err, a.tools)
		a.logger.Debug("invalid tool call", zap.String("tool", name), zap.Error(err))
		res.log(KindToolCall, formatToolCall(name, raw, obs))
		return obs, nil, nil
	}

	out, err := a.tools.Call(ctx, name, input)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, interrupted(ctx)
		}
		a.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		obs := "Error: " + err.Error()
		res.ToolCalls = append(res.ToolCalls, session.ToolCall{Tool: name, Input: input, Output: obs})
		res.log(KindToolCall, formatToolCall(name, input, obs))
		return obs, nil, nil
	}

	if out.Clarification != nil {
		res.ToolCalls = append(res.ToolCalls, session.ToolCall{Tool: name, Input: input, Output: out.Clarification.Message})
		res.log(KindToolCall, formatToolCall(name, input, out.Clarification.Message))
		return "", out.Clarification, nil
	}

	res.ToolCalls = append(res.ToolCalls, session.ToolCall{Tool: name, Input: input, Output: out.Output})
	res.log(KindToolCall, formatToolCall(name, input, out.Output))
	return out.Output, nil, nil
}

func (r *Result) log(kind LogKind, content string) {
	r.Log = append(r.Log, LogEntry{At: time.Now().UTC(), Kind: kind, Content: content})
}

func callName(call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return ""
	}
	return call.FunctionCall.Name
}

func assistantMessage(text string, calls []llms.ToolCall) llms.MessageContent {
	parts := make([]llms.ContentPart, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, llms.TextPart(text))
	}
	for _, c := range calls {
		parts = append(parts, c)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func formatToolCall(name, input, observation string) string {
	return fmt.Sprintf("%s(%q) -> %s", name, input, observation)
}
