package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/index"
	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/progress/sinks"
)

type crawlFlags struct {
	quiet   bool
	jsonOut bool
	output  string
	query   string
	mode    string
	fields  []string
	limit   int
}

// newCrawlCmd creates and configures the 'crawl' subcommand. It runs one
// crawl in the foreground, rendering progress to stderr, and optionally
// searches the result.
func newCrawlCmd(root *rootFlags) *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawls one site starting from the seed URL",
		Long: `Crawls pages reachable from the seed URL, staying on the seed's host unless
--same-domain=false. Progress is written to stderr; the crawl summary and any
--query results go to stdout. Ctrl-C stops the crawl and keeps what was fetched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args[0], flags)
		},
	}

	f := cmd.Flags()
	f.Int("max-pages", 100, "page budget; 0 means unlimited")
	f.Int("workers", 5, "concurrent fetch workers (1-50)")
	f.Duration("delay", 0, "politeness delay between requests of one worker")
	f.Bool("jitter", false, "randomize the politeness delay between 0.5x and 1.5x")
	f.Bool("respect-robots", true, "honor robots.txt")
	f.Bool("same-domain", true, "only follow links on the seed host")
	f.String("user-agent", engine.DefaultUserAgent, "User-Agent header and robots.txt agent")
	f.Duration("timeout", 15*time.Second, "per-request timeout")
	f.Int("retries", 2, "retries for network errors; 0 disables retries")
	root.bindFlag(cmd, "crawler.max_pages", "max-pages")
	root.bindFlag(cmd, "crawler.workers", "workers")
	root.bindFlag(cmd, "crawler.politeness_delay", "delay")
	root.bindFlag(cmd, "crawler.jitter", "jitter")
	root.bindFlag(cmd, "robots.respect", "respect-robots")
	root.bindFlag(cmd, "crawler.same_domain_only", "same-domain")
	root.bindFlag(cmd, "crawler.user_agent", "user-agent")
	root.bindFlag(cmd, "http.timeout", "timeout")
	root.bindFlag(cmd, "http.max_retries", "retries")

	f.BoolVarP(&flags.quiet, "quiet", "q", false, "suppress per-page progress lines")
	f.BoolVar(&flags.jsonOut, "json", false, "print the crawl summary as JSON")
	f.StringVarP(&flags.output, "output", "o", "", "write the full crawl snapshot as JSON to this file")
	f.StringVar(&flags.query, "query", "", "search the crawled pages once the crawl ends")
	f.StringVar(&flags.mode, "mode", "", "search mode: auto, token, or phrase")
	f.StringSliceVar(&flags.fields, "fields", nil, "fields to search: title, meta, text, alt")
	f.IntVar(&flags.limit, "limit", 20, "maximum search results to print")

	r := &progressRenderer{out: cmd.ErrOrStderr, quiet: &flags.quiet}
	root.sinks[cmd] = []progress.Sink{sinks.FuncSink(r.render)}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, seed string, flags *crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	opts := appInstance.CrawlOptions(normalizeSeed(seed))
	deps, err := appInstance.Deps(opts)
	if err != nil {
		return fmt.Errorf("crawl deps: %w", err)
	}
	ctrl, err := engine.New(opts, deps)
	if err != nil {
		return fmt.Errorf("init crawl: %w", err)
	}

	ctx := cmd.Context()
	// The crawl ignores ctx cancellation; a signal goes through Stop so the
	// snapshot is finalized as stopped.
	if err := ctrl.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		logger.Info("interrupt received; stopping crawl", zap.String("crawl_id", ctrl.ID().String()))
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*opts.StopTimeout)
		defer cancel()
		if err := ctrl.Stop(stopCtx); err != nil && !errors.Is(err, engine.ErrStopTimeout) {
			return fmt.Errorf("stop crawl: %w", err)
		}
		if err := ctrl.Wait(stopCtx); err != nil {
			logger.Warn("crawl did not wind down in time; reporting partial result", zap.Error(err))
		}
	}

	snap := ctrl.Result()
	uri, err := appInstance.Export(context.WithoutCancel(ctx), snap)
	if err != nil {
		logger.Warn("snapshot export failed", zap.Error(err))
	}
	if flags.output != "" {
		if err := writeSnapshot(flags.output, snap); err != nil {
			return err
		}
	}
	if err := printSummary(cmd.OutOrStdout(), snap, uri, flags.jsonOut); err != nil {
		return err
	}
	if flags.query != "" {
		ix := index.New()
		ix.Build(snap.SortedPages())
		if err := runQuery(cmd.OutOrStdout(), ix, flags.query, flags.mode, flags.fields, flags.limit, appInstance.Config().Index.Mode); err != nil {
			return err
		}
	}
	if snap.Error != "" {
		return errors.New(snap.Error)
	}
	return nil
}

// normalizeSeed prepends https:// to a seed typed without a scheme.
func normalizeSeed(seed string) string {
	seed = strings.TrimSpace(seed)
	if seed == "" || strings.Contains(seed, "://") {
		return seed
	}
	return "https://" + seed
}

func writeSnapshot(path string, snap crawler.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, snap crawler.Snapshot, uri string, asJSON bool) error {
	sum := snap.Summary()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			crawler.Summary
			ID        string `json:"id"`
			ExportURI string `json:"export_uri,omitempty"`
			Inserted  int    `json:"inserted"`
			Updated   int    `json:"updated"`
		}{sum, snap.ID, uri, snap.Store.Inserted, snap.Store.Updated})
	}
	failed := 0
	for _, p := range snap.Pages {
		if p.Failed() {
			failed++
		}
	}
	fmt.Fprintf(w, "crawl %s %s: %d pages (%d failed), %d discovered\n",
		snap.ID, sum.State, sum.Crawled, failed, sum.Discovered)
	if sum.Error != "" {
		fmt.Fprintf(w, "error: %s\n", sum.Error)
	}
	if uri != "" {
		fmt.Fprintf(w, "snapshot: %s\n", uri)
	}
	return nil
}

// progressRenderer prints one line per committed page and one per lifecycle
// change. out is resolved lazily so tests can swap the command's writer.
type progressRenderer struct {
	out   func() io.Writer
	quiet *bool
	mu    sync.Mutex
}

func (r *progressRenderer) render(evt progress.Event) {
	if r.quiet != nil && *r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.out()
	switch evt.Stage {
	case progress.StagePageDone:
		budget := "∞"
		if evt.MaxPages > 0 {
			budget = fmt.Sprint(evt.MaxPages)
		}
		line := fmt.Sprintf("[%d/%s] %d %s %s", evt.PagesCrawled, budget, evt.StatusCode, evt.URL, evt.Dur.Round(time.Millisecond))
		if evt.Note != "" {
			line += " (" + evt.Note + ")"
		}
		fmt.Fprintln(w, line)
	case progress.StageCrawlStart:
		fmt.Fprintf(w, "crawling %s\n", evt.URL)
	case progress.StageCrawlDone, progress.StageCrawlStopped, progress.StageCrawlError:
		line := fmt.Sprintf("%s after %s: %d pages, %d discovered", strings.ToLower(string(evt.Stage)), evt.Dur.Round(time.Millisecond), evt.PagesCrawled, evt.Discovered)
		if evt.Note != "" {
			line += " (" + evt.Note + ")"
		}
		fmt.Fprintln(w, line)
	default:
		fmt.Fprintln(w, strings.ToLower(string(evt.Stage)))
	}
}
