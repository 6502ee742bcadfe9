package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool names exposed to the model.
const (
	DocumentSearchName = "DocumentSearch"
	MathToolName       = "MathTool"
	ClarificationName  = "Clarification"
)

// MathPrompt prefixes every MathTool query.
const MathPrompt = "You are a precise calculator. Interpret the problem below and solve it, " +
	"showing your reasoning step by step. Treat dates and durations exactly, " +
	"including calendar arithmetic. Finish with the final result on its own line.\n\nProblem: "

// Retriever produces the formatted page context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Completer sends one prompt to the language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DocumentSearch looks up passages from the uploaded documents.
type DocumentSearch struct {
	retriever Retriever
}

// NewDocumentSearch creates the search tool.
func NewDocumentSearch(r Retriever) *DocumentSearch {
	return &DocumentSearch{retriever: r}
}

func (*DocumentSearch) Name() string { return DocumentSearchName }

func (*DocumentSearch) Description() string {
	return "Use this to look up answers from the uploaded document. " +
		"Returns matching passages grouped by page as \"[Page n]: text\"."
}

func (*DocumentSearch) Argument() string { return "query" }

func (*DocumentSearch) ArgumentDescription() string {
	return "What to search the document for."
}

func (d *DocumentSearch) Call(ctx context.Context, input string) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{}, fmt.Errorf("%w: empty search query", ErrToolExecution)
	}
	out, err := d.retriever.Retrieve(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("%w: document search: %w", ErrToolExecution, err)
	}
	return Result{Output: out}, nil
}

// MathTool delegates calculations to the language model. Nothing is evaluated locally.
type MathTool struct {
	llm Completer
}

// NewMathTool creates the math tool.
func NewMathTool(c Completer) *MathTool {
	return &MathTool{llm: c}
}

func (*MathTool) Name() string { return MathToolName }

func (*MathTool) Description() string {
	return "Use this only for calculations, including date and duration arithmetic. " +
		"Describe the problem in words or as an expression."
}

func (*MathTool) Argument() string { return "query" }

func (*MathTool) ArgumentDescription() string {
	return "The calculation to perform, with all numbers it needs."
}

func (m *MathTool) Call(ctx context.Context, input string) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{}, fmt.Errorf("%w: empty math query", ErrToolExecution)
	}
	out, err := m.llm.Complete(ctx, MathPrompt+input)
	if err != nil {
		return Result{}, fmt.Errorf("%w: math: %w", ErrToolExecution, err)
	}
	return Result{Output: out}, nil
}

// ClarificationTool asks the user for more information and ends the turn.
type ClarificationTool struct{}

// NewClarification creates the clarification tool.
func NewClarification() *ClarificationTool {
	return &ClarificationTool{}
}

func (*ClarificationTool) Name() string { return ClarificationName }

func (*ClarificationTool) Description() string {
	return "Use this when the question is ambiguous or missing details. " +
		"The request is shown to the user and no answer is given this turn."
}

func (*ClarificationTool) Argument() string { return "request" }

func (*ClarificationTool) ArgumentDescription() string {
	return "The question to ask the user."
}

func (*ClarificationTool) Call(_ context.Context, input string) (Result, error) {
	msg := strings.TrimSpace(input)
	if msg == "" {
		return Result{}, fmt.Errorf("%w: empty clarification request", ErrToolExecution)
	}
	return Result{Clarification: &Clarification{Message: msg}}, nil
}

// NewDefaultSet builds the standard DocumentSearch, MathTool and Clarification set.
func NewDefaultSet(r Retriever, c Completer) *Set {
	return NewSet(NewDocumentSearch(r), NewMathTool(c), NewClarification())
}

func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty arguments", ErrInvalidArguments)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args == nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArguments)
	}
	return args, nil
}
