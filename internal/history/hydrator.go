package history

import (
	"context"
	"log/slog"

	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/transcript"
)

// Seed is the result of hydrating a session from persisted history.
// A zero Seed means no prior conversation exists (or history could not be
// read) and the session starts fresh.
type Seed struct {
	ConversationID int64
	ModelID        int64
	Entries        []transcript.Entry
}

// Empty reports whether the seed carries no prior conversation.
func (s Seed) Empty() bool {
	return s.ConversationID == 0 && len(s.Entries) == 0
}

// Hydrator seeds a fresh session's transcript from persisted history.
// History is best-effort: a failed read yields an empty seed, never an
// error, and the session proceeds without history.
type Hydrator struct {
	client *Client
	logger *slog.Logger
}

// NewHydrator creates a hydrator reading through client.
func NewHydrator(client *Client, logger *slog.Logger) *Hydrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{client: client, logger: logger}
}

// Hydrate fetches the most recent persisted conversation for a chat context.
// It performs at most two reads: the context's conversation list and, if the
// list entry lacks inlined messages, the conversation detail.
func (h *Hydrator) Hydrate(ctx context.Context, chatCtx protocol.Context) Seed {
	conversations, err := h.client.ListConversations(ctx, chatCtx)
	if err != nil {
		h.logger.Warn("history unavailable, starting fresh",
			"context", chatCtx.String(), "error", err)
		return Seed{}
	}
	if len(conversations) == 0 {
		return Seed{}
	}

	latest := conversations[0]
	seed := Seed{
		ConversationID: latest.ID,
		ModelID:        latest.LLMModel,
	}

	messages := latest.Messages
	if len(messages) == 0 {
		detail, err := h.client.GetConversation(ctx, latest.ID)
		if err != nil {
			h.logger.Warn("conversation detail unavailable, starting fresh",
				"conversation_id", latest.ID, "error", err)
			return Seed{}
		}
		messages = detail.Messages
		if detail.LLMModel != 0 {
			seed.ModelID = detail.LLMModel
		}
	}

	for _, m := range messages {
		seed.Entries = append(seed.Entries, EntryFromStored(m))
	}
	h.logger.Debug("hydrated session from history",
		"context", chatCtx.String(),
		"conversation_id", seed.ConversationID,
		"entries", len(seed.Entries))
	return seed
}

// EntryFromStored maps a persisted message to a transcript entry. Unknown
// roles are shown as informational entries rather than dropped.
func EntryFromStored(m StoredMessage) transcript.Entry {
	switch m.Role {
	case "user":
		return transcript.Entry{Role: transcript.RoleUser, Content: m.Content}
	case "assistant":
		return transcript.Entry{Role: transcript.RoleAssistant, Content: m.Content}
	case "error":
		return transcript.ErrorEntry(m.Content)
	default:
		return transcript.SystemEntry(m.Content)
	}
}
