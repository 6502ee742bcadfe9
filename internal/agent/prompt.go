package agent

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/docqa/internal/session"
	"github.com/fyrsmithlabs/docqa/internal/tools"
)

// SystemPolicy is sent as the system message of every run.
const SystemPolicy = `You answer questions about documents the user has uploaded.

Rules:
1. Before answering anything about the document's content, call ` + tools.DocumentSearchName + `. Never answer from memory.
2. Cite the page numbers your answer relies on, for example "(page 4)".
3. If the question is ambiguous or missing details, call ` + tools.ClarificationName + ` with a short question for the user instead of guessing.
4. Use ` + tools.MathToolName + ` only for calculations, including dates and durations.
5. If the searches return no relevant information, say that no relevant information was found in the document.

When you have enough information, reply with the final answer as plain text and call no tools.

Available tools:
%s`

const (
	correctionEmptyReply = "Your reply was empty. Call one of the tools or reply with the final answer."
	correctionInvalid    = "Invalid tool call: %v. Available tools: %s. Each tool takes a JSON object with one string argument."
)

func systemMessage(set *tools.Set) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(SystemPolicy, set.Describe()))
}

// historyMessages replays earlier turns as alternating human and ai messages.
func historyMessages(turns []session.Turn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, t.Question))

		reply := t.Answer
		if t.Clarification != "" {
			reply = "I need more information: " + t.Clarification
		}
		if reply == "" {
			continue
		}
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, reply))
	}
	return msgs
}

func invalidCallMessage(err error, set *tools.Set) string {
	return fmt.Sprintf(correctionInvalid, err, strings.Join(set.Names(), ", "))
}
