package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joschi/blueskyfeedbot/internal/bluesky"
	"github.com/joschi/blueskyfeedbot/internal/cache"
	"github.com/joschi/blueskyfeedbot/internal/config"
	"github.com/joschi/blueskyfeedbot/internal/feed"
	"github.com/joschi/blueskyfeedbot/internal/metrics"
	"github.com/joschi/blueskyfeedbot/internal/pipeline"
	"github.com/joschi/blueskyfeedbot/internal/render"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string

	// The fields below override collaborators for testing. Nil values use the
	// real implementations.
	Fetcher   pipeline.FeedFetcher
	Publisher pipeline.Publisher
	RunIDs    pipeline.RunIDGenerator
	Clock     func() time.Time
	LookupEnv func(string) (string, bool)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish new feed entries",
		Long: `Fetch the feed, publish entries that are not in the cache and record them.

Settings are read from, in increasing priority: built-in defaults, the file
given with --config, INPUT_* environment variables and command-line flags.
Environment variables use the flag name, e.g. INPUT_FEED-URL or INPUT_FEED_URL.

Example:
  blueskyfeedbot run --feed-url https://blog.example.com/index.xml \
    --template '{{item.title}} {{item.link}}' \
    --username bot.example.com --password "$APP_PASSWORD" \
    --cache-file cache.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, opts)
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML or TOML config file")
	f.String("feed-url", "", "URL of the RSS, Atom or JSON feed")
	f.String("rss-feed", "", "URL of the feed")
	f.String("template", "", "Handlebars template for the post text")
	f.String("service-url", defaults.ServiceURL, "Bluesky service URL")
	f.String("username", "", "Bluesky handle or email")
	f.String("password", "", "Bluesky app password")
	f.String("cache-file", "", "path of the cache file (.db, .sqlite or .sqlite3 selects SQLite)")
	f.Int("cache-limit", defaults.CacheLimit, "number of entries kept in the cache")
	f.Int("initial-post-limit", defaults.InitialPostLimit, "maximum posts on the first run, -1 for no limit")
	f.Int("post-limit", defaults.PostLimit, "maximum posts per run, -1 for no limit")
	f.Bool("dry-run", false, "record new entries without posting")
	f.Bool("disable-facets", false, "post plain text without links, mentions or tags")
	f.String("http-timeout", defaults.HTTPTimeoutRaw, "timeout for each HTTP request")
	f.String("user-agent", feed.DefaultUserAgent, "User-Agent sent when fetching the feed")
	f.String("metrics-file", "", "write Prometheus metrics to this file after each run")
	f.String("log-level", defaults.LogLevel, "log level (debug|info|warn|error)")
	f.String("log-format", defaults.LogFormat, "log format (text|json)")
	_ = f.MarkDeprecated("rss-feed", "use --feed-url instead")

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command, opts *RunOptions) (config.Config, error) {
	cfg := config.Default()

	if opts.ConfigFile != "" {
		if err := cfg.LoadFile(opts.ConfigFile); err != nil {
			return cfg, err
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	for _, name := range config.OptionNames() {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := cfg.Set(name, flag.Value.String()); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func runBot(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	logger.Debug("configuration loaded", "config", cfg)

	tpl, err := render.Compile(cfg.Template)
	if err != nil {
		return WrapExitError(ExitCommandError, "compiling template", err)
	}

	store, err := cache.Open(cfg.CacheFile, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening cache", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = feed.NewFetcher(httpClient, cfg.UserAgent)
	}

	publisher := opts.Publisher
	if publisher == nil && !cfg.DryRun {
		client, err := bluesky.NewClient(cfg.ServiceURL, httpClient, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "creating Bluesky client", err)
		}
		publisher = bluesky.NewPublisher(client, cfg.Username, cfg.Password, bluesky.WithLogger(logger))
	}

	pipelineOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.MetricsFile != "" {
		pipelineOpts = append(pipelineOpts, pipeline.WithMetrics(metrics.NewTextfile(cfg.MetricsFile, cfg.FeedURL)))
	}
	if opts.RunIDs != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithRunIDs(opts.RunIDs))
	}
	if opts.Clock != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithClock(opts.Clock))
	}

	p := pipeline.New(fetcher, store, tpl, publisher, cfg.Options(), pipelineOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := p.Run(ctx)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := writeReport(out, report, runErr); err != nil {
		logger.Error("writing report", "error", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return nil
}

func writeReport(out *OutputFormatter, r *pipeline.Report, runErr error) error {
	if !out.JSON() {
		printSummary(out.Writer, r)
		return nil
	}
	if runErr == nil {
		return out.Success(r)
	}
	code := "RUN_FAILED"
	var re *pipeline.RunError
	if errors.As(runErr, &re) {
		code = string(re.Code)
	}
	return out.Error(code, runErr.Error(), r)
}

func printSummary(w io.Writer, r *pipeline.Report) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	status := green.Sprint("done")
	if r.Err != nil {
		status = red.Sprint("failed")
	}
	mode := ""
	if r.DryRun {
		mode = yellow.Sprint(" (dry run)")
	}

	fmt.Fprintf(w, "%s %s%s in %s\n", bold.Sprint("run "+r.RunID), status, mode, r.Duration().Round(time.Millisecond))
	if r.FirstRun {
		yellow.Fprintln(w, "  first run, no cache existed")
	}
	fmt.Fprintf(w, "  fetched %d, new %d, posted %d, skipped %d, failed %d\n",
		r.Fetched, r.New, r.Posted, r.SkippedByLimit, len(r.Failures))
	fmt.Fprintf(w, "  cache %d -> %d entries, %d evicted\n", r.CacheBefore, r.CacheAfter, r.Evicted)
	for _, f := range r.Failures {
		red.Fprintf(w, "  ! %s\n", f.Error())
	}
	if r.Err != nil && !pipeline.IsEntriesError(r.Err) {
		red.Fprintf(w, "  error: %s\n", r.Error)
	}
}
