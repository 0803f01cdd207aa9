// Package transcript maintains the ordered, append-only log of chat entries
// for a conversation session. Entries are never removed or reordered; the
// only entry that may change after creation is the assistant entry currently
// being streamed, which is always the last one in the log.
package transcript

import (
	"encoding/json"
	"sync"
	"time"
)

// Role identifies who (or what) produced a transcript entry.
type Role string

const (
	// RoleUser is a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant is a reply produced by the inference backend.
	RoleAssistant Role = "assistant"
	// RoleSystem is an informational notice (connection status, hints).
	RoleSystem Role = "system"
	// RoleError is a failure notice surfaced in the conversation flow.
	RoleError Role = "error"
)

// ToolRecord captures the result of one tool invocation, attached to the
// assistant entry that triggered it.
type ToolRecord struct {
	Name   string          `json:"tool_name"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Entry is a single item in the transcript.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Streaming is true while an assistant entry is still receiving
	// fragments. At most one entry has Streaming set, and it is always
	// the tail of the transcript.
	Streaming bool `json:"streaming,omitempty"`

	// MessageID is the client-generated correlation id for user entries.
	MessageID string `json:"message_id,omitempty"`

	// Tools holds results of tool invocations made while producing an
	// assistant entry, in arrival order.
	Tools []ToolRecord `json:"tools,omitempty"`

	// Trace holds the ordered step descriptions reported with the final
	// assistant message, when the backend provides them.
	Trace []string `json:"trace,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UserEntry builds a user entry with a correlation id.
func UserEntry(content, messageID string) Entry {
	return Entry{Role: RoleUser, Content: content, MessageID: messageID}
}

// SystemEntry builds an informational entry.
func SystemEntry(content string) Entry {
	return Entry{Role: RoleSystem, Content: content}
}

// ErrorEntry builds an error entry.
func ErrorEntry(content string) Entry {
	return Entry{Role: RoleError, Content: content}
}

// Transcript is the ordered log of entries for one session.
// It is safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds an entry at the tail and returns its index.
func (t *Transcript) Append(e Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(e)
}

func (t *Transcript) append(e Entry) int {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	t.entries = append(t.entries, e)
	return len(t.entries) - 1
}

// AppendOrExtendStreaming concatenates fragment to the in-progress assistant
// entry, creating one if no entry is currently streaming. A fragment that
// arrives before any explicit start of a reply therefore implicitly opens a
// new streaming entry rather than being dropped.
func (t *Transcript) AppendOrExtendStreaming(fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tail := t.tail(); tail != nil && tail.Role == RoleAssistant && tail.Streaming {
		tail.Content += fragment
		return
	}
	t.append(Entry{Role: RoleAssistant, Content: fragment, Streaming: true})
}

// FinalizeStreaming closes the in-progress assistant entry, replacing its
// locally accumulated content with the server-confirmed full text. The full
// text wins over the concatenation so that fragment loss or duplication
// during transport self-heals on completion. If no entry is streaming (all
// fragments were lost, e.g. across a reconnect) a finalized assistant entry
// is created from the full text.
func (t *Transcript) FinalizeStreaming(fullContent string, trace []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tail := t.tail()
	if tail == nil || tail.Role != RoleAssistant || !tail.Streaming {
		idx := t.append(Entry{Role: RoleAssistant, Content: fullContent})
		t.entries[idx].Trace = append([]string(nil), trace...)
		return
	}
	tail.Content = fullContent
	tail.Streaming = false
	if len(trace) > 0 {
		tail.Trace = append([]string(nil), trace...)
	}
}

// AttachToolResult records a tool invocation result on the tail assistant
// entry. If the tail is not an assistant entry (the result arrived before
// the first reply fragment) a streaming placeholder is created so the
// in-progress reply continues into it.
func (t *Transcript) AttachToolResult(toolName string, result json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tail := t.tail()
	if tail == nil || tail.Role != RoleAssistant {
		idx := t.append(Entry{Role: RoleAssistant, Streaming: true})
		tail = &t.entries[idx]
	}
	tail.Tools = append(tail.Tools, ToolRecord{
		Name:   toolName,
		Result: append(json.RawMessage(nil), result...),
	})
}

// Clear empties the transcript. Used on explicit history clearing and on
// context switches before re-hydration.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Entries returns a snapshot of the transcript. The returned entries are
// copies; mutating them does not affect the transcript.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e
		if len(e.Tools) > 0 {
			out[i].Tools = append([]ToolRecord(nil), e.Tools...)
		}
		if len(e.Trace) > 0 {
			out[i].Trace = append([]string(nil), e.Trace...)
		}
	}
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Streaming reports whether an assistant reply is currently in progress.
func (t *Transcript) Streaming() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tail := t.tail()
	return tail != nil && tail.Streaming
}

// tail returns a pointer to the last entry, or nil if the transcript is
// empty. Callers must hold t.mu.
func (t *Transcript) tail() *Entry {
	if len(t.entries) == 0 {
		return nil
	}
	return &t.entries[len(t.entries)-1]
}
