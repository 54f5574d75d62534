// Package ctxstrategy builds the message list sent to the LLM for a given
// (history, task, iteration), and merges new messages back into history
//. Strategies are pure except for an optional cache they own.
package ctxstrategy

import (
	"github.com/kadirpekel/agentloom/pkg/llm"
)

// Strategy selects which messages from history are sent for this
// iteration, and how new messages are folded back in.
type Strategy interface {
	// Select returns the message list to send, given the full history,
	// the task description, and the current iteration number.
	Select(history []llm.Message, task string, iteration int) []llm.Message

	// Append returns the new history after merging newMessages, with
	// optional deduplication.
	Append(history []llm.Message, newMessages []llm.Message) []llm.Message
}

// FullHistory is the default Strategy: it keeps and sends the complete
// history unmodified.
type FullHistory struct{}

func (FullHistory) Select(history []llm.Message, task string, iteration int) []llm.Message {
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out
}

func (FullHistory) Append(history []llm.Message, newMessages []llm.Message) []llm.Message {
	return dedupeAppend(history, newMessages)
}

// dedupeAppend appends newMessages to history, skipping any message that
// is an exact (role, content, toolCallID) duplicate of the immediately
// preceding message — the minimal deduplication every Append
// implementation is free to perform.
func dedupeAppend(history []llm.Message, newMessages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(history), len(history)+len(newMessages))
	copy(out, history)

	for _, m := range newMessages {
		if len(out) > 0 && isDuplicate(out[len(out)-1], m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func isDuplicate(a, b llm.Message) bool {
	return a.Role == b.Role && a.Content == b.Content && a.ToolCallID == b.ToolCallID
}

// Summarizing wraps another Strategy and collapses every message older
// than KeepRecent turns into a single synthetic system message, via
// Summarize. This is a pure transform over its input — Summarize must not
// perform I/O.
type Summarizing struct {
	KeepRecent int
	Summarize  func(older []llm.Message) string
}

func (s Summarizing) Select(history []llm.Message, task string, iteration int) []llm.Message {
	if len(history) <= s.KeepRecent {
		out := make([]llm.Message, len(history))
		copy(out, history)
		return out
	}

	cut := len(history) - s.KeepRecent
	older, recent := history[:cut], history[cut:]

	summary := llm.Message{Role: llm.RoleSystem, Content: s.Summarize(older)}
	out := make([]llm.Message, 0, 1+len(recent))
	out = append(out, summary)
	out = append(out, recent...)
	return out
}

func (s Summarizing) Append(history []llm.Message, newMessages []llm.Message) []llm.Message {
	return dedupeAppend(history, newMessages)
}
