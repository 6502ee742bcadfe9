// Package tools defines the capabilities the agent can call: document search,
// model-delegated math, and clarification requests.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrToolExecution marks a tool failure. The agent turns it into an observation.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrUnknownTool is returned for a name that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when tool arguments cannot be decoded.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

var callsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "docqa",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool invocations by tool and result.",
	},
	[]string{"tool", "result"},
)

var tracer = otel.Tracer("docqa.tools")

// Clarification is a request for more input from the user. It is never a
// final answer.
type Clarification struct {
	Message string
}

// Result is the outcome of a tool call. When Clarification is set the agent
// stops and Output is ignored.
type Result struct {
	Output        string
	Clarification *Clarification
}

// Tool is one named capability. Every tool takes a single string argument.
type Tool interface {
	Name() string
	Description() string
	// Argument is the JSON property that carries the tool input.
	Argument() string
	// ArgumentDescription documents that property for the model.
	ArgumentDescription() string
	Call(ctx context.Context, input string) (Result, error)
}

// Set is an ordered, name-indexed collection of tools.
type Set struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewSet creates a set holding the given tools in order.
func NewSet(tools ...Tool) *Set {
	s := &Set{tools: make(map[string]Tool)}
	for _, t := range tools {
		s.Register(t)
	}
	return s
}

// Register adds a tool. A tool with the same name replaces the earlier one
// and keeps its position.
func (s *Set) Register(t Tool) {
	if t == nil || t.Name() == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.Name()]; !ok {
		s.order = append(s.order, t.Name())
	}
	s.tools[t.Name()] = t
}

// Get returns the named tool.
func (s *Set) Get(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Definitions renders function-calling schemas for the model.
func (s *Set) Definitions() []llms.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]llms.Tool, 0, len(s.order))
	for _, name := range s.order {
		t := s.tools[name]
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						t.Argument(): map[string]any{
							"type":        "string",
							"description": t.ArgumentDescription(),
						},
					},
					"required": []string{t.Argument()},
				},
			},
		})
	}
	return defs
}

// Describe renders "name: description" lines for prompts.
func (s *Set) Describe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	for _, name := range s.order {
		fmt.Fprintf(&b, "- %s: %s\n", name, s.tools[name].Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

// Input decodes the raw JSON arguments of a call to name and returns the
// tool's input string. Unknown tools and missing or blank arguments are errors.
func (s *Set) Input(name, rawArgs string) (string, error) {
	t, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		return "", err
	}

	v, ok := args[t.Argument()]
	if !ok {
		return "", fmt.Errorf("%w: %s requires %q", ErrInvalidArguments, name, t.Argument())
	}
	str, ok := v.(string)
	if !ok || strings.TrimSpace(str) == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidArguments, t.Argument())
	}
	return str, nil
}

// Call runs the named tool. Failures are wrapped with ErrToolExecution.
func (s *Set) Call(ctx context.Context, name, input string) (Result, error) {
	t, ok := s.Get(name)
	if !ok {
		callsTotal.WithLabelValues(name, "unknown").Inc()
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	ctx, span := tracer.Start(ctx, "tools.Call")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.Int("tool.input_length", len(input)),
	)

	start := time.Now()
	res, err := t.Call(ctx, input)
	span.SetAttributes(attribute.Int64("tool.duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		callsTotal.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		if !errors.Is(err, ErrToolExecution) {
			err = fmt.Errorf("%w: %s: %w", ErrToolExecution, name, err)
		}
		return Result{}, err
	}

	result := "ok"
	if res.Clarification != nil {
		result = "clarification"
	}
	callsTotal.WithLabelValues(name, result).Inc()
	span.SetStatus(codes.Ok, "")
	return res, nil
}
