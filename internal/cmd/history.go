package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/appdir"
	"github.com/parleyhq/parley/internal/conversion"
	"github.com/parleyhq/parley/internal/fileutil"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/transcript"
)

var (
	// History-specific flags
	historyContext string
	exportOut      string
	exportJSON     bool
	renderOut      string
)

// historyCmd groups the conversation history subcommands.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect persisted conversations",
	Long: `List and export conversations persisted by the backend.

Conversations are scoped to a chat context (kind:id). The export
subcommand renders one conversation as a standalone HTML file with
assistant markdown converted and everything else escaped, or dumps the
raw record as JSON with --json. The render subcommand turns such a JSON
dump back into HTML offline, without contacting the backend.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted conversations for a chat context",
	RunE:  runHistoryList,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Export one conversation as HTML (or raw JSON)",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

var historyRenderCmd = &cobra.Command{
	Use:   "render <conversation.json>",
	Short: "Render a JSON conversation dump as HTML",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRender,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyRenderCmd)

	historyListCmd.Flags().StringVarP(&historyContext, "context", "c", "", "Chat context as kind:id (e.g., repository:42)")
	historyListCmd.MarkFlagRequired("context")

	historyExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file path (defaults to the Parley exports directory)")
	historyExportCmd.Flags().BoolVar(&exportJSON, "json", false, "Export the raw conversation record as JSON instead of HTML")

	historyRenderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "Output file path (defaults to the input path with an .html extension)")
}

func historyClient() *history.Client {
	return history.New(cfg.Server.BaseURL, history.WithAPIPrefix(cfg.Server.APIPrefix))
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	chatCtx, err := protocol.ParseContext(historyContext)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conversations, err := historyClient().ListConversations(ctx, chatCtx)
	if err != nil {
		return err
	}

	if len(conversations) == 0 {
		fmt.Printf("No conversations for %s\n", chatCtx)
		return nil
	}

	fmt.Printf("Conversations for %s (most recent first):\n\n", chatCtx)
	for _, conv := range conversations {
		title := conv.Title
		if title == "" {
			title = "(untitled)"
		}
		line := fmt.Sprintf("  %6d  %s", conv.ID, title)
		if conv.UpdatedAt != "" {
			line += "  [" + conv.UpdatedAt + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid conversation id %q", args[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	detail, err := historyClient().GetConversation(ctx, id)
	if err != nil {
		return err
	}

	if exportJSON {
		out := exportOut
		if out == "" {
			exportsDir, err := appdir.ExportsDir()
			if err != nil {
				return err
			}
			out = filepath.Join(exportsDir, fmt.Sprintf("conversation-%d.json", id))
		}
		if err := fileutil.WriteJSONAtomic(out, detail, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Printf("📄 Exported conversation %d (%d messages) to %s\n", id, len(detail.Messages), out)
		return nil
	}

	out := exportOut
	if out == "" {
		exportsDir, err := appdir.ExportsDir()
		if err != nil {
			return err
		}
		out = filepath.Join(exportsDir, fmt.Sprintf("conversation-%d.html", id))
	}

	if err := os.WriteFile(out, []byte(detailHTML(detail)), 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	fmt.Printf("📄 Exported conversation %d (%d messages) to %s\n", id, len(detail.Messages), out)
	return nil
}

func runHistoryRender(cmd *cobra.Command, args []string) error {
	in := args[0]

	var detail history.ConversationDetail
	if err := fileutil.ReadJSON(in, &detail); err != nil {
		return fmt.Errorf("failed to read conversation dump %s: %w", in, err)
	}

	out := renderOut
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + ".html"
	}

	if err := os.WriteFile(out, []byte(detailHTML(&detail)), 0o644); err != nil {
		return fmt.Errorf("failed to write render: %w", err)
	}

	fmt.Printf("📄 Rendered conversation %d (%d messages) to %s\n", detail.ID, len(detail.Messages), out)
	return nil
}

// detailHTML renders a conversation record as a standalone HTML document.
func detailHTML(detail *history.ConversationDetail) string {
	entries := make([]transcript.Entry, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		entries = append(entries, history.EntryFromStored(m))
	}

	body := conversion.DefaultConverter().RenderTranscript(entries)
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Conversation %d</title></head>\n<body>\n%s</body>\n</html>\n", detail.ID, body)
}
