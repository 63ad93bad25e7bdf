// Package prompt builds the flattened completion prompt sent to the backend.
//
// DESIGN: The backend is a plain text-completion engine, so the conversation
// is flattened into one deterministic string: system context, prior turns
// labeled by role, then the current message with an open "Assistant: "
// continuation marker the model completes from.
package prompt

import (
	"strings"

	"github.com/lmstream/chatd/internal/history"
)

const (
	userLabel      = "User"
	assistantLabel = "Assistant"
)

// Build flattens the system context, prior turns and current user message into
// a single prompt. Pure function: equal inputs yield byte-identical output.
func Build(systemContext string, prior []history.Turn, current string) string {
	var b strings.Builder
	b.WriteString(systemContext)
	b.WriteString("\n\n")
	for _, t := range prior {
		b.WriteString(roleLabel(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	b.WriteString(userLabel)
	b.WriteString(": ")
	b.WriteString(current)
	b.WriteString("\n" + assistantLabel + ": ")
	return b.String()
}

// roleLabel maps a turn role to its prompt label. Anything that is not the
// user is labeled as the assistant.
func roleLabel(r history.Role) string {
	if r == history.RoleUser {
		return userLabel
	}
	return assistantLabel
}
