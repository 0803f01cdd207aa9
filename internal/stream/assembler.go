// Package stream translates inbound live-channel frames into transcript
// mutations. It is the only writer of the transcript during a live session.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/transcript"
)

// Callbacks defines hooks for session-level side effects of inbound frames.
// All callbacks are optional; nil callbacks are ignored. They are invoked
// synchronously from HandleFrame.
type Callbacks struct {
	// OnConversationCreated is called when the server assigns a
	// conversation id for a turn that started without one.
	OnConversationCreated func(conversationID int64)

	// OnTypingChanged is called when the "assistant responding"
	// indicator turns on or off.
	OnTypingChanged func(typing bool)
}

// Assembler consumes inbound protocol frames in arrival order and applies
// them to a transcript. All failures are handled locally: a malformed or
// unknown frame is dropped and logged, never propagated.
type Assembler struct {
	transcript *transcript.Transcript
	callbacks  Callbacks
	logger     *slog.Logger

	mu     sync.Mutex
	typing bool
}

// New creates an assembler writing into tr.
func New(tr *transcript.Transcript, callbacks Callbacks, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		transcript: tr,
		callbacks:  callbacks,
		logger:     logger,
	}
}

// handlerFunc processes one decoded frame kind.
type handlerFunc func(a *Assembler, frame []byte) error

// handlers maps each inbound message type to its handler. Keeping the
// dispatch as data makes each handler independently testable and avoids one
// grown-together switch over frame types.
var handlers = map[string]handlerFunc{
	protocol.MsgTypeConversationCreated:      (*Assembler).handleConversationCreated,
	protocol.MsgTypeAssistantTyping:          (*Assembler).handleAssistantTyping,
	protocol.MsgTypeAssistantMessageChunk:    (*Assembler).handleAssistantMessageChunk,
	protocol.MsgTypeAssistantMessageComplete: (*Assembler).handleAssistantMessageComplete,
	protocol.MsgTypeToolResult:               (*Assembler).handleToolResult,
	protocol.MsgTypeError:                    (*Assembler).handleError,
	protocol.MsgTypePong:                     (*Assembler).handlePong,
}

// HandleFrame processes one raw frame received from the live channel.
// Frames are expected in arrival order; the transport guarantees ordering
// within a single connection.
func (a *Assembler) HandleFrame(frame []byte) {
	msgType, err := protocol.MessageType(frame)
	if err != nil {
		a.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	handler, ok := handlers[msgType]
	if !ok {
		a.logger.Debug("dropping frame of unknown type", "type", msgType)
		return
	}
	if err := handler(a, frame); err != nil {
		a.logger.Warn("dropping undecodable frame", "type", msgType, "error", err)
	}
}

// Typing reports whether the assistant is currently generating a reply.
func (a *Assembler) Typing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typing
}

// setTyping updates the indicator and fires the callback on transitions.
func (a *Assembler) setTyping(typing bool) {
	a.mu.Lock()
	changed := a.typing != typing
	a.typing = typing
	a.mu.Unlock()

	if changed && a.callbacks.OnTypingChanged != nil {
		a.callbacks.OnTypingChanged(typing)
	}
}

func (a *Assembler) handleConversationCreated(frame []byte) error {
	var data protocol.ConversationCreated
	if err := json.Unmarshal(frame, &data); err != nil {
		return err
	}
	a.logger.Debug("conversation assigned", "conversation_id", data.ConversationID)
	if a.callbacks.OnConversationCreated != nil {
		a.callbacks.OnConversationCreated(data.ConversationID)
	}
	return nil
}

func (a *Assembler) handleAssistantTyping(frame []byte) error {
	var data protocol.AssistantTyping
	if err := json.Unmarshal(frame, &data); err != nil {
		return err
	}
	a.setTyping(data.Typing)
	return nil
}

func (a *Assembler) handleAssistantMessageChunk(frame []byte) error {
	var data protocol.AssistantMessageChunk
	if err := json.Unmarshal(frame, &data); err != nil {
		return err
	}
	a.transcript.AppendOrExtendStreaming(data.Chunk)
	return nil
}

func (a *Assembler) handleAssistantMessageComplete(frame []byte) error {
	var data protocol.AssistantMessageComplete
	if err := json.Unmarshal(frame, &data); err != nil {
		return err
	}
	a.transcript.FinalizeStreaming(data.FullMessage, data.Trace)
	a.setTyping(false)
	return nil
}

func (a *Assembler) handleToolResult(frame []byte) error {
	var data protocol.ToolResult
	if err := json.Unmarshal(frame, &data); err != nil {
		return err
	}
	a.transcript.AttachToolResult(data.ToolName, data.Result)
	return nil
}

func (a *Assembler) handleError(frame []byte) error {
	var data protocol.ErrorMessage
	if err := json.Unmarshal(frame, &data); err != nil {
		return err
	}
	// An error ends the current turn but not the connection; the user can
	// send again once the typing indicator clears.
	a.transcript.Append(transcript.ErrorEntry(data.Error))
	a.setTyping(false)
	return nil
}

func (a *Assembler) handlePong(frame []byte) error {
	// Heartbeat acknowledgment; no transcript effect.
	return nil
}
