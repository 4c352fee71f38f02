// Package cmd defines and implements the CLI commands for the sitecrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawl/internal/app"
	"github.com/JakeFAU/sitecrawl/internal/config"
	"github.com/JakeFAU/sitecrawl/internal/crawler"
	"github.com/JakeFAU/sitecrawl/internal/engine"
	"github.com/JakeFAU/sitecrawl/internal/logging"
	"github.com/JakeFAU/sitecrawl/internal/progress"
	"github.com/JakeFAU/sitecrawl/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Config() config.Config
	Registry() *prometheus.Registry
	Pages() app.PageStore
	Runs() store.RunRepository
	CrawlOptions(seed string) engine.Options
	Deps(opts engine.Options) (engine.Deps, error)
	Export(ctx context.Context, snap crawler.Snapshot) (string, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	cfgFile  string
	logLevel string
	v        *viper.Viper
	// sinks are extra progress sinks a subcommand registers before the app is
	// built, e.g. the crawl progress renderer.
	sinks map[*cobra.Command][]progress.Sink
	// app is set once PersistentPreRunE has built it.
	app App
}

// newRootCmd creates and configures the root command.
func newRootCmd() (*cobra.Command, *rootFlags) {
	flags := &rootFlags{v: viper.New(), sinks: make(map[*cobra.Command][]progress.Sink)}
	cmd := &cobra.Command{
		Use:   "sitecrawl",
		Short: "A polite, domain-scoped web crawler with a built-in search index.",
		Long: `sitecrawl crawls a single site from a seed URL, honoring robots.txt and
a per-host politeness delay, and indexes every page it commits so the crawl can
be searched by title, meta description, body text, and image alt text.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE, so
		// bound flags take part in config resolution.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(flags.v, flags.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			var logOpts []logging.Option
			if flags.logLevel != "" {
				logOpts = append(logOpts, logging.WithLevel(flags.logLevel))
			}
			logger, err := logging.New(cfg.Logging.Development, logOpts...)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger, app.WithSinks(flags.sinks[cmd]...))
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			flags.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (YAML, JSON, or TOML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))

	return cmd, flags
}

// bindFlag ties a command flag to a config key so --flag beats file and env.
func (f *rootFlags) bindFlag(cmd *cobra.Command, key, flag string) {
	if err := f.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute is the main entry point.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, flags := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	// Close runs even when the command failed so progress sinks flush the
	// terminal event of a failed crawl.
	if flags.app != nil {
		logger := flags.app.Logger()
		if cerr := flags.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("closing application services", zap.Error(cerr))
		}
		_ = logger.Sync()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
