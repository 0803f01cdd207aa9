// Package session composes the transcript, history hydration, streaming
// assembly, and the live channel into one chat session per context. Each
// Controller owns its own connection and transcript; nothing in this package
// is shared between instances, so independent sessions (two open chat
// panels) cannot clobber each other.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/conn"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/transcript"
)

// Config configures a Controller.
type Config struct {
	// BaseURL is the backend address (e.g., "http://localhost:8080").
	// It serves both the history API and the WebSocket endpoints.
	BaseURL string

	// History is the persistence API client used for hydration.
	// If nil, a default client for BaseURL is created.
	History *history.Client

	// Dialer overrides the WebSocket dialer (used by tests).
	Dialer conn.Dialer

	// ReconnectDelay and PingPeriod are passed through to the connection
	// manager; zero values select its defaults.
	ReconnectDelay time.Duration
	PingPeriod     time.Duration

	// OnStateChange is notified of connection lifecycle transitions.
	OnStateChange func(state conn.State)

	// OnTypingChanged is notified when the assistant starts or stops
	// generating a reply.
	OnTypingChanged func(typing bool)

	// Logger overrides the loggers for every subsystem (used by tests).
	// When nil, each subsystem gets its own component logger so that
	// component filtering can single out the conn, history, stream, or
	// session layer.
	Logger *slog.Logger
}

// Controller binds one chat context to a transcript, a hydrator, and a live
// channel. It is the only component that switches context. Safe for
// concurrent use.
type Controller struct {
	cfg      Config
	hydrator *history.Hydrator

	logger       *slog.Logger
	connLogger   *slog.Logger
	streamLogger *slog.Logger

	mu         sync.Mutex
	generation int
	chatCtx    protocol.Context

	transcript *transcript.Transcript
	assembler  *stream.Assembler
	manager    *conn.Manager

	conversationID int64
	modelID        int64

	// lastMessageID is the correlation id of the most recent send. The
	// protocol does not echo it back yet; it is kept so a backend that
	// starts echoing can be adopted without a wire change.
	lastMessageID string
}

// NewController creates a controller with an empty transcript and no active
// context. Call SetContext to start a session.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	connLogger := cfg.Logger
	streamLogger := cfg.Logger
	historyLogger := cfg.Logger
	if cfg.Logger == nil {
		logger = logging.Session()
		connLogger = logging.Conn()
		streamLogger = logging.Stream()
		historyLogger = logging.History()
	}
	historyClient := cfg.History
	if historyClient == nil {
		historyClient = history.New(cfg.BaseURL)
	}
	return &Controller{
		cfg:          cfg,
		hydrator:     history.NewHydrator(historyClient, historyLogger),
		logger:       logger,
		connLogger:   connLogger,
		streamLogger: streamLogger,
		transcript:   transcript.New(),
	}
}

// SetContext switches the session to a new chat context: the previous
// channel is fully closed, the transcript cleared and re-seeded from
// persisted history, and only then is the new channel opened — so a live
// frame can never race the history seed.
func (c *Controller) SetContext(ctx context.Context, chatCtx protocol.Context) error {
	if !chatCtx.Kind.Valid() {
		return fmt.Errorf("set context: unknown chat kind %q", chatCtx.Kind)
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	previous := c.manager
	c.manager = nil
	c.assembler = nil
	c.chatCtx = chatCtx
	c.conversationID = 0
	c.modelID = 0
	c.lastMessageID = ""
	c.mu.Unlock()

	if previous != nil {
		// Await full closure so the old reconnect loop cannot outlive
		// its context.
		previous.Close(true)
	}
	c.transcript.Clear()

	seed := c.hydrator.Hydrate(ctx, chatCtx)

	c.mu.Lock()
	if gen != c.generation {
		// Another SetContext (or Close) superseded this one while
		// hydration was in flight; its seed must not touch the new
		// transcript.
		c.mu.Unlock()
		return nil
	}
	c.conversationID = seed.ConversationID
	c.modelID = seed.ModelID
	assembler := stream.New(c.transcript, stream.Callbacks{
		OnConversationCreated: func(id int64) { c.adoptConversation(gen, id) },
		OnTypingChanged:       c.cfg.OnTypingChanged,
	}, c.streamLogger)
	c.assembler = assembler
	// Seed while still holding the generation check; a newer SetContext
	// clearing the transcript concurrently must not interleave with these
	// appends.
	for _, e := range seed.Entries {
		c.transcript.Append(e)
	}
	c.mu.Unlock()

	wsURL, err := conn.SocketURL(c.cfg.BaseURL, chatCtx.SocketPath())
	if err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	manager := conn.NewManager(conn.Config{
		URL:            wsURL,
		Dialer:         c.cfg.Dialer,
		ReconnectDelay: c.cfg.ReconnectDelay,
		PingPeriod:     c.cfg.PingPeriod,
		OnMessage:      assembler.HandleFrame,
		OnStateChange:  c.cfg.OnStateChange,
		Logger:         c.connLogger,
	})

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		manager.Close(true)
		return nil
	}
	c.manager = manager
	c.mu.Unlock()

	c.logger.Info("session context set",
		"context", chatCtx.String(),
		"conversation_id", seed.ConversationID,
		"seeded_entries", len(seed.Entries))
	return manager.Open(ctx)
}

// adoptConversation stores a server-assigned conversation id, unless the
// context has changed since the frame's connection was opened.
func (c *Controller) adoptConversation(gen int, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.conversationID = id
}

// Send appends the user message optimistically and ships it over the live
// channel. It returns the client-generated correlation id. Sending requires
// an open channel; there is no outbound queue.
func (c *Controller) Send(text string) (string, error) {
	c.mu.Lock()
	manager := c.manager
	conversationID := c.conversationID
	modelID := c.modelID
	c.mu.Unlock()

	if manager == nil || manager.State() != conn.StateOpen {
		return "", conn.ErrNotConnected
	}

	messageID := uuid.NewString()
	c.transcript.Append(transcript.UserEntry(text, messageID))

	envelope := protocol.NewChatMessage(text, conversationID, modelID, messageID)
	if err := manager.Send(envelope); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	c.lastMessageID = messageID
	c.mu.Unlock()
	return messageID, nil
}

// SelectModel picks the inference model for subsequent sends.
func (c *Controller) SelectModel(modelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modelID = modelID
}

// Transcript exposes the session transcript for read-only observation.
func (c *Controller) Transcript() *transcript.Transcript {
	return c.transcript
}

// Context returns the active chat context.
func (c *Controller) Context() protocol.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatCtx
}

// ConversationID returns the current conversation id, 0 when the server has
// not assigned one yet.
func (c *Controller) ConversationID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// ModelID returns the selected inference model, 0 when unset.
func (c *Controller) ModelID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelID
}

// ConnState returns the live channel state.
func (c *Controller) ConnState() conn.State {
	c.mu.Lock()
	manager := c.manager
	c.mu.Unlock()
	if manager == nil {
		return conn.StateIdle
	}
	return manager.State()
}

// Typing reports whether the assistant is currently generating a reply.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	assembler := c.assembler
	c.mu.Unlock()
	if assembler == nil {
		return false
	}
	return assembler.Typing()
}

// ClearHistory empties the transcript without touching the connection or
// the conversation id.
func (c *Controller) ClearHistory() {
	c.transcript.Clear()
}

// Close tears the session down: the channel is closed, the reconnect loop
// stopped, and any hydration still in flight is invalidated. The transcript
// is left intact for a final read.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.generation++
	manager := c.manager
	c.manager = nil
	c.assembler = nil
	c.mu.Unlock()

	if manager != nil {
		return manager.Close(true)
	}
	return nil
}
