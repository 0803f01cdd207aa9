package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/conn"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/transcript"
)

var (
	// Chat-specific flags
	chatContext string
	chatModelID int64
	oncePrompt  string
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session with a conversation backend",
	Long: `Start an interactive chat session scoped to one chat context.

The context selects what is being chatted with, as kind:id, where kind
is one of repository, system, or agent:
  parley chat --context repository:42

Past conversation history is loaded before the live socket opens, and
assistant replies stream into the terminal as they are generated.

Use --once to send a single message and exit:
  parley chat --context system:1 --once "What changed overnight?"

Commands (interactive mode only):
  /quit, /exit     - Exit the chat
  /context kind:id - Switch to another chat context
  /model <id>      - Select the inference model for following messages
  /clear           - Clear the local conversation history
  /status          - Show connection and conversation state
  /help            - Show available commands`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVarP(&chatContext, "context", "c", "", "Chat context as kind:id (e.g., repository:42)")
	chatCmd.Flags().Int64Var(&chatModelID, "model", 0, "Inference model id (0 lets the server choose)")
	chatCmd.Flags().StringVar(&oncePrompt, "once", "", "Send a single message and exit (non-interactive mode)")
	chatCmd.MarkFlagRequired("context")
}

func runChat(cmd *cobra.Command, args []string) error {
	chatCtx, err := protocol.ParseContext(chatContext)
	if err != nil {
		return err
	}

	// Determine if we're in once mode (non-interactive)
	isOnceMode := oncePrompt != ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		if !isOnceMode {
			fmt.Println("\n\n👋 Shutting down...")
		}
		cancel()
	}()

	ctrl := session.NewController(session.Config{
		BaseURL:        cfg.Server.BaseURL,
		History:        history.New(cfg.Server.BaseURL, history.WithAPIPrefix(cfg.Server.APIPrefix)),
		ReconnectDelay: cfg.Session.ReconnectDelay,
		PingPeriod:     cfg.Session.PingPeriod,
		OnStateChange: func(state conn.State) {
			if isOnceMode {
				return
			}
			switch state {
			case conn.StateConnecting:
				fmt.Println("🔌 Connecting...")
			case conn.StateOpen:
				fmt.Println("✅ Connected")
			}
		},
	})
	defer ctrl.Close()

	modelID := cfg.Session.ModelID
	if chatModelID != 0 {
		modelID = chatModelID
	}
	if modelID != 0 {
		ctrl.SelectModel(modelID)
	}

	if !isOnceMode || debug {
		fmt.Printf("🚀 Connecting to %s as %s\n", cfg.Server.BaseURL, chatCtx)
	}

	if err := ctrl.SetContext(ctx, chatCtx); err != nil {
		return fmt.Errorf("failed to open chat context: %w", err)
	}

	// Show hydrated history before the first prompt
	if !isOnceMode {
		printEntries(ctrl.Transcript().Entries())
	}

	if isOnceMode {
		return runOnceMode(ctx, ctrl, oncePrompt)
	}
	return runInteractiveLoop(ctx, ctrl)
}

// runOnceMode sends a single message and exits after the reply completes.
func runOnceMode(ctx context.Context, ctrl *session.Controller, prompt string) error {
	if err := waitForOpen(ctx, ctrl); err != nil {
		return err
	}

	baseline := ctrl.Transcript().Len()
	if _, err := ctrl.Send(prompt); err != nil {
		return fmt.Errorf("send error: %w", err)
	}

	if err := streamReply(ctx, ctrl, baseline+1); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit the chat"},
	{"/exit", "Exit the chat (alias)"},
	{"/q", "Exit the chat (alias)"},
	{"/context", "Switch to another chat context (kind:id)"},
	{"/model", "Select the inference model id"},
	{"/clear", "Clear the local conversation history"},
	{"/status", "Show connection and conversation state"},
}

func runInteractiveLoop(ctx context.Context, ctrl *session.Controller) error {
	// Create readline shell
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "parley> " })

	// Set up history
	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	// Set up tab completion for slash commands
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("\n📝 Type your message and press Enter. Use /help for commands. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Check for commands
		if strings.HasPrefix(line, "/") {
			if handled := handleCommand(ctx, ctrl, line); handled {
				continue
			}
		}

		baseline := ctrl.Transcript().Len()
		if _, err := ctrl.Send(line); err != nil {
			fmt.Printf("\n❌ Error: %v\n", err)
			continue
		}

		fmt.Println() // Add spacing before response
		if err := streamReply(ctx, ctrl, baseline+1); err != nil {
			fmt.Printf("\n❌ Error: %v\n", err)
		}
		fmt.Println() // Add spacing after response
	}
}

func handleCommand(ctx context.Context, ctrl *session.Controller, line string) bool {
	cmd := strings.TrimPrefix(line, "/")
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		os.Exit(0)
	case "context":
		if len(parts) != 2 {
			fmt.Println("❓ Usage: /context kind:id (e.g., /context repository:42)")
			return true
		}
		chatCtx, err := protocol.ParseContext(parts[1])
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return true
		}
		if err := ctrl.SetContext(ctx, chatCtx); err != nil {
			fmt.Printf("❌ Switch error: %v\n", err)
			return true
		}
		fmt.Printf("🔁 Switched to %s\n", chatCtx)
		printEntries(ctrl.Transcript().Entries())
	case "model":
		if len(parts) != 2 {
			fmt.Println("❓ Usage: /model <id>")
			return true
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id < 0 {
			fmt.Printf("❌ Invalid model id: %s\n", parts[1])
			return true
		}
		ctrl.SelectModel(id)
		fmt.Printf("🧠 Model set to %d\n", id)
	case "clear":
		ctrl.ClearHistory()
		fmt.Println("🧹 History cleared")
	case "status":
		fmt.Printf("Context:      %s\n", ctrl.Context())
		fmt.Printf("Connection:   %s\n", ctrl.ConnState())
		if id := ctrl.ConversationID(); id != 0 {
			fmt.Printf("Conversation: %d\n", id)
		} else {
			fmt.Println("Conversation: (none yet)")
		}
		if id := ctrl.ModelID(); id != 0 {
			fmt.Printf("Model:        %d\n", id)
		}
	case "help", "h", "?":
		printHelp()
	default:
		fmt.Printf("❓ Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return true
}

func printHelp() {
	fmt.Println(`
Available commands:
  /quit, /exit, /q  - Exit the chat
  /context kind:id  - Switch to another chat context
  /model <id>       - Select the inference model id
  /clear            - Clear the local conversation history
  /status           - Show connection and conversation state
  /help, /h, /?     - Show this help message

Tips:
  - Type your message and press Enter to send it
  - Use Ctrl+C to exit gracefully
  - Use up/down arrows for command history
  - Use Tab to autocomplete slash commands`)
}

// waitForOpen blocks until the socket is open, the timeout elapses, or the
// context is cancelled.
func waitForOpen(ctx context.Context, ctrl *session.Controller) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.NewTimer(30 * time.Second)
	defer deadline.Stop()

	for {
		if ctrl.ConnState() == conn.StateOpen {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for connection to %s", ctrl.Context())
		case <-ticker.C:
		}
	}
}

// streamReply prints transcript entries from index start onward as they
// arrive, returning once the assistant reply has completed.
func streamReply(ctx context.Context, ctrl *session.Controller, start int) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	// printed tracks how much of each entry's content is already on screen
	printed := make(map[int]int)
	sawReply := false

	for {
		entries := ctrl.Transcript().Entries()
		for i := start; i < len(entries); i++ {
			e := entries[i]
			if e.Role == transcript.RoleUser {
				continue
			}
			sawReply = true
			if done := printed[i]; len(e.Content) > done {
				if done == 0 {
					fmt.Print(rolePrefix(e.Role))
				}
				fmt.Print(e.Content[done:])
				printed[i] = len(e.Content)
			}
		}

		if sawReply && !ctrl.Typing() && !ctrl.Transcript().Streaming() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// printEntries renders a transcript snapshot, used when entering a context.
func printEntries(entries []transcript.Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("\n📜 %d earlier messages:\n\n", len(entries))
	for _, e := range entries {
		fmt.Printf("%s%s\n", rolePrefix(e.Role), e.Content)
	}
}

func rolePrefix(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "you: "
	case transcript.RoleAssistant:
		return ""
	case transcript.RoleError:
		return "❌ "
	default:
		return "ℹ️  "
	}
}

// completeInput provides tab completion for the chat input.
// It completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	// Get the text up to the cursor position
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	// Only complete if the line starts with "/"
	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	// Find matching commands
	var matches []string
	var descriptions []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			matches = append(matches, cmd.name)
			descriptions = append(descriptions, cmd.description)
		}
	}

	if len(matches) == 0 {
		return readline.Completions{}
	}

	// Build value-description pairs for CompleteValuesDescribed
	// Format: value1, desc1, value2, desc2, ...
	pairs := make([]string, 0, len(matches)*2)
	for i, match := range matches {
		pairs = append(pairs, match, descriptions[i])
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/') // Don't add space after completing partial command
}
