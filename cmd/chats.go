package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/samsaffron/nvim-llm/internal/chat"
	"github.com/samsaffron/nvim-llm/internal/exitcode"
	"github.com/spf13/cobra"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage saved chats",
	Long: `List, search and inspect chats saved from the editor.

Examples:
  nvim-llm chats
  nvim-llm chats list --provider claude-bin
  nvim-llm chats search "connection pool"
  nvim-llm chats show 20240115-143012-a1b2c3`,
	RunE: runChatsList,
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chats",
	RunE:  runChatsList,
}

var chatsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search chat transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChatsSearch,
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsShow,
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a chat from the index",
	Long:  "Remove a chat from the search index. The files on disk are kept.",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsDelete,
}

var (
	chatsProvider string
	chatsTemplate string
	chatsLimit    int
	chatsJSON     bool
)

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(chatsListCmd, chatsSearchCmd, chatsShowCmd, chatsDeleteCmd)

	for _, c := range []*cobra.Command{chatsCmd, chatsListCmd} {
		c.Flags().StringVar(&chatsProvider, "provider", "", "Filter by provider")
		c.Flags().StringVar(&chatsTemplate, "template", "", "Filter by template")
		c.Flags().IntVar(&chatsLimit, "limit", 20, "Maximum number of chats to list")
	}
	chatsSearchCmd.Flags().IntVar(&chatsLimit, "limit", 20, "Maximum number of results")
	chatsShowCmd.Flags().BoolVar(&chatsJSON, "json", false, "Output as JSON")
}

func openChats() (*chat.LogStore, *chat.Index, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return openChatLogs(cfg)
}

func runChatsList(cmd *cobra.Command, args []string) error {
	_, idx, err := openChats()
	if err != nil {
		return err
	}
	defer idx.Close()

	entries, err := idx.List(cmd.Context(), chat.ListOptions{
		Provider: chatsProvider,
		Template: chatsTemplate,
		Limit:    chatsLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No saved chats found.")
		return nil
	}
	printChatTable(out, entries, false)
	return nil
}

func runChatsSearch(cmd *cobra.Command, args []string) error {
	_, idx, err := openChats()
	if err != nil {
		return err
	}
	defer idx.Close()

	query := strings.Join(args, " ")
	results, err := idx.Search(cmd.Context(), query, chatsLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results found for '%s'\n", query)
		return nil
	}
	printChatTable(out, results, true)
	return nil
}

func printChatTable(w io.Writer, entries []chat.IndexEntry, snippets bool) {
	fmt.Fprintf(w, "%-22s %-12s %-10s %-5s %s\n", "ID", "Provider", "Saved", "Msgs", "Title")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, e := range entries {
		title := runewidth.Truncate(strings.TrimSpace(e.Title), 40, "...")
		fmt.Fprintf(w, "%-22s %-12s %-10s %-5d %s\n",
			e.ID,
			runewidth.Truncate(e.Provider, 12, ""),
			formatRelativeTime(e.SavedAt),
			e.MessageCount,
			title)
		if snippets && e.Snippet != "" {
			fmt.Fprintf(w, "%23s%s\n", "", runewidth.Truncate(strings.ReplaceAll(e.Snippet, "\n", " "), 66, "..."))
		}
	}
}

func runChatsShow(cmd *cobra.Command, args []string) error {
	logs, idx, err := openChats()
	if err != nil {
		return err
	}
	defer idx.Close()

	rec, err := logs.Load(args[0])
	if errors.Is(err, chat.ErrNotFound) {
		return exitcode.Missing(fmt.Sprintf("chat not found: %s", args[0]))
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if chatsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	md, err := chat.RenderMarkdown(rec)
	if err != nil {
		return err
	}
	_, err = out.Write(md)
	return err
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	_, idx, err := openChats()
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return exitcode.Missing(fmt.Sprintf("chat not found: %s", args[0]))
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the index.\n", args[0])
	return nil
}

func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
