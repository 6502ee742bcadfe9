// Package conversation answers questions within a session.
//
// Service.Ask resolves the session, holds its lock for the whole turn, runs
// the agent over the session history and records the new turn. Parsing
// failures from the agent are recovered with an apologetic answer; model
// failures and timeouts are returned to the caller.
//
// # Usage
//
//	svc := conversation.NewService(agent, sessions, logger, conversation.Config{})
//	resp, err := svc.Ask(ctx, conversation.Request{Question: "What was Q3 revenue?"})
//
// resp.Clarification is non-nil when the agent needs more input; resp.Answer
// is then empty.
package conversation
