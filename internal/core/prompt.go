package core

import (
	"fmt"
	"strings"

	"acme.com/hr-assistant/internal/store"
)

const systemPrompt = `You are an AI assistant for Acme Corp's HR policies. Your role is to help employees understand company policies by answering questions based on the provided context.

Guidelines:
- Answer based ONLY on the provided context. You may refer to previous messages for clarity in case the user query is not clear.
- If information is not in the context, say "I don't have that information in the HR policy documents"
- Be concise and professional
- Use bullet points for lists
- Cite specific policy sections when relevant
- Reword the context properly so it looks more professional and less like copy-pasting

Remember: You are helpful, accurate, and only provide information from official HR documents.`

// PromptAssembler merges the grounding system prompt, a bounded slice of
// conversation history, fused evidence, and the current question into the
// ordered message sequence sent to the chat completion gateway.
type PromptAssembler struct {
	historyWindow int
}

func NewPromptAssembler(historyWindow int) *PromptAssembler {
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &PromptAssembler{historyWindow: historyWindow}
}

// Build assembles the prompt. The system message is always at index 0 and
// the final message is always a user message containing the evidence block
// and the literal question, so the result is well-formed even with zero
// evidence and zero history.
func (a *PromptAssembler) Build(query string, evidence []store.EvidenceChunk, history []store.Message) []store.Message {
	messages := []store.Message{{Role: store.RoleSystem, Content: systemPrompt}}

	if len(history) > a.historyWindow {
		history = history[len(history)-a.historyWindow:]
	}
	messages = append(messages, history...)

	// Size cap: drop the message right after the pinned system message until
	// only the most recent exchange remains. Keeping the trailing pair keeps
	// retained history alternating user/assistant with no orphaned role.
	// Deliberately minimal; see DESIGN.md for the truncation discussion.
	for len(messages) > 3 {
		messages = append(messages[:1], messages[2:]...)
	}

	userContent := fmt.Sprintf("Context from HR documents:\n%s\n\nQuestion: %s", FormatContext(evidence), query)
	messages = append(messages, store.Message{Role: store.RoleUser, Content: userContent})

	return messages
}

// FormatContext renders fused evidence as labeled sources in fusion order,
// separated by blank lines.
func FormatContext(evidence []store.EvidenceChunk) string {
	parts := make([]string, 0, len(evidence))
	for i, chunk := range evidence {
		section := chunk.Metadata.SectionTitle
		if section == "" {
			section = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("[Source %d - %s]\n%s", i+1, section, chunk.Text))
	}
	return strings.Join(parts, "\n\n")
}
