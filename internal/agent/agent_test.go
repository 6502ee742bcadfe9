package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/session"
	"github.com/fyrsmithlabs/docqa/internal/tools"
)

// scriptedModel replays responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	err       error
	requests  [][]llms.MessageContent
	toolDefs  []llms.Tool
}

func (m *scriptedModel) Generate(_ context.Context, msgs []llms.MessageContent, defs []llms.Tool) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, append([]llms.MessageContent(nil), msgs...))
	m.toolDefs = defs
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func text(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func call(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

type stubRetriever struct {
	out string
	err error
}

func (s stubRetriever) Retrieve(context.Context, string) (string, error) { return s.out, s.err }

type stubCompleter struct{ out string }

func (s stubCompleter) Complete(context.Context, string) (string, error) { return s.out, nil }

func newTestAgent(m Model, r tools.Retriever, cfg Config) *Agent {
	return New(m, tools.NewDefaultSet(r, stubCompleter{out: "36"}), cfg, nil)
}

func TestRun_SearchThenAnswer(t *testing.T) {
	m := &scriptedModel{responses: []*llms.ContentResponse{
		call("call_1", tools.DocumentSearchName, `{"query":"revenue"}`),
		text("Revenue was 10M (page 2)."),
	}}
	a := newTestAgent(m, stubRetriever{out: "[Page 2]: Revenue was 10M."}, Config{})

	res, err := a.Run(context.Background(), Input{Question: "What was revenue?"})
	require.NoError(t, err)

	assert.Equal(t, "Revenue was 10M (page 2).", res.Answer)
	assert.Nil(t, res.Clarification)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []session.ToolCall{{
		Tool:   tools.DocumentSearchName,
		Input:  "revenue",
		Output: "[Page 2]: Revenue was 10M.",
	}}, res.ToolCalls)

	require.Len(t, res.Log, 2)
	assert.Equal(t, KindToolCall, res.Log[0].Kind)
	assert.Equal(t, KindAgentText, res.Log[1].Kind)
	assert.False(t, res.Log[1].At.Before(res.Log[0].At))
	assert.Equal(t, `[tool_call] DocumentSearch("revenue") -> [Page 2]: Revenue was 10M.`, res.LogStrings()[0])

	// second request carries the assistant tool call and its observation
	require.Len(t, m.requests, 2)
	second := m.requests[1]
	last := second[len(second)-1]
	assert.Equal(t, llms.ChatMessageTypeTool, last.Role)
	assert.Equal(t, llms.ToolCallResponse{
		ToolCallID: "call_1",
		Name:       tools.DocumentSearchName,
		Content:    "[Page 2]: Revenue was 10M.",
	}, last.Parts[0])
	assert.Equal(t, llms.ChatMessageTypeAI, second[len(second)-2].Role)

	assert.Len(t, m.toolDefs, 3)
}

func TestRun_ClarificationStopsImmediately(t *testing.T) {
	m := &scriptedModel{responses: []*llms.ContentResponse{
		call("c1", tools.ClarificationName, `{"request":"Which quarter do you mean?"}`),
	}}
	a := newTestAgent(m, stubRetriever{}, Config{})

	res, err := a.Run(context.Background(), Input{Question: "How did it go?"})
	require.NoError(t, err)

	assert.Empty(t, res.Answer)
	require.NotNil(t, res.Clarification)
	assert.Equal(t, "Which quarter do you mean?", res.Clarification.Message)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, m.requests, 1)
}

func TestRun_InvalidActionIsCorrected(t *testing.T) {
	m := &scriptedModel{responses: []*llms.ContentResponse{
		call("c1", "Calculator", `{"query":"2+2"}`),
		call("c2", tools.MathToolName, `not json`),
		text("The answer is 4."),
	}}
	a := newTestAgent(m, stubRetriever{}, Config{})

	res, err := a.Run(context.Background(), Input{Question: "2+2?"})
	require.NoError(t, err)

	assert.Equal(t, "The answer is 4.", res.Answer)
	assert.Equal(t, 3, res.Iterations)
	assert.Empty(t, res.ToolCalls)
	require.Len(t, res.Log, 3)
	assert.Contains(t, res.Log[0].Content, "Invalid tool call")
	assert.Contains(t, res.Log[1].Content, "Invalid tool call")

	obs := m.requests[1][len(m.requests[1])-1].Parts[0].(llms.ToolCallResponse)
	assert.Equal(t, "c1", obs.ToolCallID)
	assert.Contains(t, obs.Content, "DocumentSearch, MathTool, Clarification")
}

func TestRun_ToolFailureBecomesObservation(t *testing.T) {
	m := &scriptedModel{responses: []*llms.ContentResponse{
		call("c1", tools.DocumentSearchName, `{"query":"revenue"}`),
		text("I could not search the document."),
	}}
	a := newTestAgent(m, stubRetriever{err: errors.New("index unreachable")}, Config{})

	res, err := a.Run(context.Background(), Input{Question: "Revenue?"})
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 1)
	assert.True(t, strings.HasPrefix(res.ToolCalls[0].Output, "Error: "))
	assert.Contains(t, res.ToolCalls[0].Output, "index unreachable")
}

func TestRun_MaxIterations(t *testing.T) {
	var script []*llms.ContentResponse
	for i := 0; i < 3; i++ {
		script = append(script, call("c", tools.DocumentSearchName, `{"query":"again"}`))
	}
	m := &scriptedModel{responses: script}
	a := newTestAgent(m, stubRetriever{out: "[Page 1]: nothing useful"}, Config{MaxIterations: 3})

	res, err := a.Run(context.Background(), Input{Question: "loop forever"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParsing)
	assert.ErrorIs(t, err, ErrMaxIterations)

	require.NotNil(t, res)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.ToolCalls, 3)
	assert.Len(t, m.requests, 3)
}

func TestRun_EmptyRepliesCountAsIterations(t *testing.T) {
	m := &scriptedModel{responses: []*llms.ContentResponse{text("  "), text(""), {}}}
	a := newTestAgent(m, stubRetriever{}, Config{MaxIterations: 3})

	res, err := a.Run(context.Background(), Input{Question: "hello"})
	assert.ErrorIs(t, err, ErrParsing)
	assert.Equal(t, 3, res.Iterations)

	last := m.requests[2][len(m.requests[2])-1]
	assert.Equal(t, llms.ChatMessageTypeHuman, last.Role)
	assert.Equal(t, llms.TextContent{Text: correctionEmptyReply}, last.Parts[0])
}

type blockingModel struct{}

func (blockingModel) Generate(ctx context.Context, _ []llms.MessageContent, _ []llms.Tool) (*llms.ContentResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_Timeout(t *testing.T) {
	a := newTestAgent(blockingModel{}, stubRetriever{}, Config{Timeout: 20 * time.Millisecond})

	res, err := a.Run(context.Background(), Input{Question: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
}

func TestRun_CallerCancelIsNotATimeout(t *testing.T) {
	a := newTestAgent(blockingModel{}, stubRetriever{}, Config{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := a.Run(ctx, Input{Question: "slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	require.NotNil(t, res)
}

// replayLLM is a langchaingo model that replays replies in order.
type replayLLM struct {
	mu      sync.Mutex
	replies []*llms.ContentResponse
}

func (m *replayLLM) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *replayLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestRun_EmptyClientReplyGetsCorrection(t *testing.T) {
	model := &replayLLM{replies: []*llms.ContentResponse{{}, nil, text("Hello there.")}}
	a := newTestAgent(llm.NewClient(model), stubRetriever{}, Config{})

	res, err := a.Run(context.Background(), Input{Question: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", res.Answer)
	assert.Equal(t, 3, res.Iterations)
}

func TestRun_ModelError(t *testing.T) {
	m := &scriptedModel{err: errors.New("401 unauthorized")}
	a := newTestAgent(m, stubRetriever{}, Config{})

	res, err := a.Run(context.Background(), Input{Question: "q"})
	assert.ErrorIs(t, err, ErrModel)
	assert.Nil(t, res)
}

func TestRun_EmptyQuestion(t *testing.T) {
	a := newTestAgent(&scriptedModel{}, stubRetriever{}, Config{})
	_, err := a.Run(context.Background(), Input{Question: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestRun_MessagesIncludePolicyAndHistory(t *testing.T) {
	m := &scriptedModel{responses: []*llms.ContentResponse{text("Yes (page 3).")}}
	a := newTestAgent(m, stubRetriever{}, Config{})

	history := []session.Turn{
		{Question: "What is the title?", Answer: "Annual Report (page 1)."},
		{Question: "Costs?", Clarification: "Which year?"},
	}
	_, err := a.Run(context.Background(), Input{Question: "And 2023?", History: history})
	require.NoError(t, err)

	msgs := m.requests[0]
	require.Len(t, msgs, 6)

	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	policy := msgs[0].Parts[0].(llms.TextContent).Text
	for _, name := range []string{tools.DocumentSearchName, tools.MathToolName, tools.ClarificationName} {
		assert.Contains(t, policy, "- "+name+": ")
	}
	assert.Contains(t, policy, "page numbers")

	want := []struct {
		role llms.ChatMessageType
		text string
	}{
		{llms.ChatMessageTypeHuman, "What is the title?"},
		{llms.ChatMessageTypeAI, "Annual Report (page 1)."},
		{llms.ChatMessageTypeHuman, "Costs?"},
		{llms.ChatMessageTypeAI, "I need more information: Which year?"},
		{llms.ChatMessageTypeHuman, "And 2023?"},
	}
	for i, w := range want {
		assert.Equal(t, w.role, msgs[i+1].Role, "message %d", i+1)
		assert.Equal(t, llms.TextContent{Text: w.text}, msgs[i+1].Parts[0], "message %d", i+1)
	}
}
