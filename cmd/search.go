package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/index"
)

type searchFlags struct {
	mode   string
	fields []string
	limit  int
	pages  int
}

// newSearchCmd searches pages persisted by earlier crawls. It needs a durable
// store driver (sqlite or postgres); the memory store is empty at startup.
func newSearchCmd(_ *rootFlags) *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Searches pages stored by earlier crawls",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pages, err := appInstance.Pages().Load(cmd.Context(), flags.pages)
			if err != nil {
				return fmt.Errorf("load pages: %w", err)
			}
			appInstance.Logger().Debug("pages loaded for search", zap.Int("pages", len(pages)))
			ix := index.New()
			ix.Build(pages)
			return runQuery(cmd.OutOrStdout(), ix, strings.Join(args, " "), flags.mode, flags.fields, flags.limit, appInstance.Config().Index.Mode)
		},
	}
	cmd.Flags().StringVar(&flags.mode, "mode", "", "search mode: auto, token, or phrase")
	cmd.Flags().StringSliceVar(&flags.fields, "fields", nil, "fields to search: title, meta, text, alt")
	cmd.Flags().IntVar(&flags.limit, "limit", 20, "maximum results to print")
	cmd.Flags().IntVar(&flags.pages, "pages", 0, "maximum stored pages to index; 0 loads all")
	return cmd
}

// runQuery searches ix and prints a result table. An empty mode falls back to
// defaultMode from config.
func runQuery(w io.Writer, ix *index.Index, text, mode string, fieldNames []string, limit int, defaultMode string) error {
	if mode == "" {
		mode = defaultMode
	}
	m, err := index.ParseMode(mode)
	if err != nil {
		return err
	}
	fields, err := index.ParseFields(fieldNames)
	if err != nil {
		return err
	}
	results, err := ix.Search(index.Query{Text: text, Fields: fields, Mode: m, MaxResults: limit})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	fmt.Fprintf(w, "%d results for %q (%s)\n", len(results), text, m.Resolve(text))
	if len(results) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tURL\tTITLE\tSNIPPETS")
	for _, r := range results {
		title := r.Title
		if r.Field != "" {
			title = fmt.Sprintf("%s [%s]", title, r.Field)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Score, r.URL, title, r.Snippets)
	}
	return tw.Flush()
}
