// Package protocol defines the message types exchanged over the live chat
// channel.
//
// # Live Channel Protocol Overview
//
// Each chat context (repository, system, agent profile) has its own
// WebSocket endpoint path, but all endpoints speak the same protocol.
// Every frame is a flat JSON object discriminated by its "type" field:
//
//	{ "type": "assistant_message_chunk", "chunk": "Hel" }
//
// One outbound type exists ("chat_message", plus a "ping" keepalive); the
// server responds with the MsgType* inbound kinds below.
package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// =============================================================================
// Client → Server Message Types
// =============================================================================

const (
	// MsgTypeChatMessage sends a user message to the backend.
	// Fields: message, conversation_id, model_id, message_id.
	MsgTypeChatMessage = "chat_message"

	// MsgTypePing is an application-level keepalive probe.
	// The server answers with a "pong" frame.
	MsgTypePing = "ping"
)

// =============================================================================
// Server → Client Message Types
// =============================================================================

const (
	// MsgTypeConversationCreated reports the server-assigned conversation
	// id for a first turn that started without one.
	// Fields: conversation_id.
	MsgTypeConversationCreated = "conversation_created"

	// MsgTypeAssistantTyping signals that reply generation started or
	// stopped. Fields: typing.
	MsgTypeAssistantTyping = "assistant_typing"

	// MsgTypeAssistantMessageChunk carries the next fragment of an
	// in-progress reply. Fields: chunk.
	MsgTypeAssistantMessageChunk = "assistant_message_chunk"

	// MsgTypeAssistantMessageComplete carries the authoritative final
	// reply text, which supersedes the concatenated fragments.
	// Fields: full_message, trace (optional).
	MsgTypeAssistantMessageComplete = "assistant_message_complete"

	// MsgTypeToolResult reports the result of a tool invocation made
	// while producing the current reply. Fields: tool_name, result.
	MsgTypeToolResult = "tool_result"

	// MsgTypeError reports a terminal or recoverable failure for the
	// current turn. The connection stays open. Fields: error.
	MsgTypeError = "error"

	// MsgTypePong acknowledges a ping. No other fields.
	MsgTypePong = "pong"
)

// ChatMessage is the outbound envelope carrying a user message.
// ConversationID and ModelID are nil until the server assigns them or the
// user picks a model; nil marshals as JSON null.
type ChatMessage struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
	ModelID        *int64 `json:"model_id"`
	MessageID      string `json:"message_id"`
}

// NewChatMessage builds an outbound chat message envelope.
// conversationID and modelID of 0 are treated as unset.
func NewChatMessage(message string, conversationID, modelID int64, messageID string) ChatMessage {
	m := ChatMessage{
		Type:      MsgTypeChatMessage,
		Message:   message,
		MessageID: messageID,
	}
	if conversationID != 0 {
		m.ConversationID = &conversationID
	}
	if modelID != 0 {
		m.ModelID = &modelID
	}
	return m
}

// Ping is the outbound keepalive envelope.
type Ping struct {
	Type string `json:"type"`
}

// NewPing builds a keepalive envelope.
func NewPing() Ping {
	return Ping{Type: MsgTypePing}
}

// ConversationCreated is the payload of a conversation_created frame.
type ConversationCreated struct {
	ConversationID int64 `json:"conversation_id"`
}

// AssistantTyping is the payload of an assistant_typing frame.
type AssistantTyping struct {
	Typing bool `json:"typing"`
}

// AssistantMessageChunk is the payload of an assistant_message_chunk frame.
type AssistantMessageChunk struct {
	Chunk string `json:"chunk"`
}

// AssistantMessageComplete is the payload of an assistant_message_complete
// frame.
type AssistantMessageComplete struct {
	FullMessage string   `json:"full_message"`
	Trace       []string `json:"trace,omitempty"`
}

// ToolResult is the payload of a tool_result frame. Result is kept raw;
// its shape depends on the tool.
type ToolResult struct {
	ToolName string          `json:"tool_name"`
	Result   json.RawMessage `json:"result"`
}

// ErrorMessage is the payload of an error frame.
type ErrorMessage struct {
	Error string `json:"error"`
}

// MessageType extracts the discriminator from a raw frame without decoding
// the rest of the payload.
func MessageType(frame []byte) (string, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &header); err != nil {
		return "", fmt.Errorf("parse frame: %w", err)
	}
	if header.Type == "" {
		return "", fmt.Errorf("parse frame: missing type")
	}
	return header.Type, nil
}

// =============================================================================
// Chat Contexts
// =============================================================================

// ChatKind identifies which kind of entity a chat session is scoped to.
// Each kind has its own endpoint path but the message protocol is identical.
type ChatKind string

const (
	KindRepository ChatKind = "repository"
	KindSystem     ChatKind = "system"
	KindAgent      ChatKind = "agent"
)

// Valid reports whether k is a known chat kind.
func (k ChatKind) Valid() bool {
	switch k {
	case KindRepository, KindSystem, KindAgent:
		return true
	}
	return false
}

// Context identifies what is being chatted with: one entity of one kind.
type Context struct {
	Kind ChatKind
	ID   int64
}

// String renders the context for logging.
func (c Context) String() string {
	return fmt.Sprintf("%s/%d", c.Kind, c.ID)
}

// SocketPath returns the WebSocket endpoint path for a context, relative to
// the server base URL.
func (c Context) SocketPath() string {
	return fmt.Sprintf("/ws/chat/%s/%d", url.PathEscape(string(c.Kind)), c.ID)
}

// ParseContext parses a "kind:id" reference such as "repository:42".
func ParseContext(s string) (Context, error) {
	kindStr, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return Context{}, fmt.Errorf("invalid chat context %q, expected kind:id", s)
	}

	kind := ChatKind(kindStr)
	if !kind.Valid() {
		return Context{}, fmt.Errorf("unknown chat kind %q", kindStr)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return Context{}, fmt.Errorf("invalid chat context id %q", idStr)
	}

	return Context{Kind: kind, ID: id}, nil
}
