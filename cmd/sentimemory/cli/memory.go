package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/sentimemory/internal/memory"
	"github.com/spf13/cobra"
)

const memoryLongDesc = `Inspect and edit the memories stored for a persona.

Every subcommand works on one persona, selected with --persona (default:
the persona.default setting).

Examples:
  sentimemory memory list --persona friendly
  sentimemory memory search coffee
  sentimemory memory add "Has a dog named Rex" --category personal --importance 4 --tags pet,dog
  sentimemory memory update 12 --importance 5
  sentimemory memory delete 12
  sentimemory memory summary`

func newMemoryCmd(opts *globalOptions) *cobra.Command {
	var personaID string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage stored memories",
		Long:  memoryLongDesc,
	}
	cmd.PersistentFlags().StringVarP(&personaID, "persona", "p", "", "Persona whose memories to use")

	run := func(fn func(ctx context.Context, w *workspace, personaID string, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer w.Close()
			id, err := w.personaFlag(personaID)
			if err != nil {
				return err
			}
			return fn(ctx, w, id, cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(newMemoryListCmd(opts, run))
	cmd.AddCommand(newMemorySearchCmd(opts, run))
	cmd.AddCommand(newMemoryAddCmd(opts, run))
	cmd.AddCommand(newMemoryUpdateCmd(opts, run))
	cmd.AddCommand(newMemoryDeleteCmd(opts, run))
	cmd.AddCommand(newMemorySummaryCmd(opts, run))
	return cmd
}

type memoryRunner = func(fn func(ctx context.Context, w *workspace, personaID string, out io.Writer) error) func(*cobra.Command, []string) error

func newMemoryListCmd(opts *globalOptions, run memoryRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, most important first",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", -1, "Maximum records to show (default: memory.list_limit)")
	cmd.RunE = run(func(ctx context.Context, w *workspace, personaID string, out io.Writer) error {
		if limit < 0 {
			limit = w.settings.ListLimit
		}
		records, err := w.memories.List(ctx, personaID, limit)
		if err != nil {
			return fmt.Errorf("list memories: %w", err)
		}
		return printRecords(out, opts, records)
	})
	return cmd
}

func newMemorySearchCmd(opts *globalOptions, run memoryRunner) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find memories containing text, ignoring case",
		Args:  cobra.ExactArgs(1),
		PreRun: func(_ *cobra.Command, args []string) {
			text = args[0]
		},
	}
	cmd.RunE = run(func(ctx context.Context, w *workspace, personaID string, out io.Writer) error {
		records, err := w.memories.Search(ctx, personaID, text)
		if err != nil {
			return fmt.Errorf("search memories: %w", err)
		}
		return printRecords(out, opts, records)
	})
	return cmd
}

func newMemoryAddCmd(opts *globalOptions, run memoryRunner) *cobra.Command {
	var (
		content    string
		category   string
		importance int
		tags       []string
	)
	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory by hand",
		Args:  cobra.ExactArgs(1),
		PreRun: func(_ *cobra.Command, args []string) {
			content = args[0]
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", string(memory.CategoryGeneral), "Category")
	cmd.Flags().IntVarP(&importance, "importance", "i", memory.DefaultImportance, "Importance from 1 to 5")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Comma-separated tags")
	cmd.RunE = run(func(ctx context.Context, w *workspace, personaID string, out io.Writer) error {
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("memory content must not be empty")
		}
		id, err := w.memories.Add(ctx, personaID, memory.Record{
			Content:    content,
			Category:   memory.ParseCategory(category),
			Importance: importance,
			Tags:       memory.NewTags(tags...),
			Source:     memory.SourceManual,
		})
		if err != nil {
			return fmt.Errorf("add memory: %w", err)
		}
		if opts.json {
			return writeJSON(out, map[string]any{"id": id, "persona": personaID})
		}
		fmt.Fprintf(out, "Memory %d saved for %s\n", id, personaID)
		return nil
	})
	return cmd
}

func newMemoryUpdateCmd(opts *globalOptions, run memoryRunner) *cobra.Command {
	var (
		id         int64
		content    string
		category   string
		importance int
		tags       []string
		patch      memory.Patch
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a memory",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().StringVarP(&category, "category", "c", "", "New category")
	cmd.Flags().IntVarP(&importance, "importance", "i", 0, "New importance from 1 to 5")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Replacement tags")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		if id, err = parseID(args[0]); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("content") {
			patch.Content = &content
		}
		if flags.Changed("category") {
			c := memory.ParseCategory(category)
			patch.Category = &c
		}
		if flags.Changed("importance") {
			patch.Importance = &importance
		}
		if flags.Changed("tags") {
			t := memory.NewTags(tags...)
			patch.Tags = &t
		}
		if patch.Empty() {
			return fmt.Errorf("nothing to update: set --content, --category, --importance or --tags")
		}
		return nil
	}
	cmd.RunE = run(func(ctx context.Context, w *workspace, personaID string, out io.Writer) error {
		ok, err := w.memories.Update(ctx, personaID, id, patch)
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %d in %s", memory.ErrNotFound, id, personaID)
		}
		if opts.json {
			return writeJSON(out, map[string]any{"id": id, "updated": true})
		}
		fmt.Fprintf(out, "Memory %d updated\n", id)
		return nil
	})
	return cmd
}

func newMemoryDeleteCmd(opts *globalOptions, run memoryRunner) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a memory",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			var err error
			id, err = parseID(args[0])
			return err
		},
	}
	cmd.RunE = run(func(ctx context.Context, w *workspace, personaID string, out io.Writer) error {
		ok, err := w.memories.Delete(ctx, personaID, id)
		if err != nil {
			return fmt.Errorf("delete memory: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %d in %s", memory.ErrNotFound, id, personaID)
		}
		if opts.json {
			return writeJSON(out, map[string]any{"id": id, "deleted": true})
		}
		fmt.Fprintf(out, "Memory %d deleted\n", id)
		return nil
	})
	return cmd
}

func newMemorySummaryCmd(opts *globalOptions, run memoryRunner) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show memory counts per category and the latest records",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVar(&recent, "recent", -1, "Recent records to include (default: memory.summary_recent)")
	cmd.RunE = run(func(ctx context.Context, w *workspace, personaID string, out io.Writer) error {
		if recent < 0 {
			recent = w.settings.SummaryRecent
		}
		sum, err := w.memories.Summary(ctx, personaID, recent)
		if err != nil {
			return fmt.Errorf("summarise memories: %w", err)
		}
		if opts.json {
			return writeJSON(out, sum)
		}
		printSummary(out, personaID, sum)
		return nil
	})
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid memory id %q", s)
	}
	return id, nil
}

func printRecords(out io.Writer, opts *globalOptions, records []memory.Record) error {
	if opts.json {
		if records == nil {
			records = []memory.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No memories found.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintln(out, formatRecordLine(r))
	}
	return nil
}

func formatRecordLine(r memory.Record) string {
	line := fmt.Sprintf("#%d [%s/%d] %s", r.ID, r.Category, r.Importance, r.Content)
	if len(r.Tags) > 0 {
		line += " (tags: " + strings.Join(r.Tags, ", ") + ")"
	}
	return line
}

func printSummary(out io.Writer, personaID string, sum memory.Summary) {
	fmt.Fprintf(out, "%s: %d memories\n", personaID, sum.Total)
	for _, c := range memory.Categories() {
		if n := sum.Categories[c]; n > 0 {
			fmt.Fprintf(out, "  %-13s %d\n", c, n)
		}
	}
	if len(sum.Recent) > 0 {
		fmt.Fprintln(out, "Recent:")
		for _, r := range sum.Recent {
			fmt.Fprintln(out, "  "+formatRecordLine(r))
		}
	}
}
