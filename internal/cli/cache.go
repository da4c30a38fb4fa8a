package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joschi/blueskyfeedbot/internal/cache"
	"github.com/joschi/blueskyfeedbot/internal/config"
	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	*RootOptions
	CacheFile string
	Check     string

	// LookupEnv overrides os.LookupEnv for testing.
	LookupEnv func(string) (string, bool)
}

// CacheSummary describes the content of a cache.
type CacheSummary struct {
	Path     string   `json:"path"`
	FirstRun bool     `json:"first_run"`
	Entries  int      `json:"entries"`
	Digests  []string `json:"digests"`
}

// CheckResult reports whether a link is recorded in a cache.
type CheckResult struct {
	Path     string `json:"path"`
	Link     string `json:"link"`
	Digest   string `json:"digest"`
	Recorded bool   `json:"recorded"`
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the cache of seen entries",
	}
	cmd.AddCommand(newCacheShowCommand(&CacheOptions{RootOptions: rootOpts}))
	return cmd
}

func newCacheShowCommand(opts *CacheOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the digests in a cache, oldest first",
		Long: `List the digests recorded in a cache, oldest first.

With --check, report whether the given entry link is recorded instead. The
command then exits with status 1 when it is not.

The cache path defaults to INPUT_CACHE-FILE, as for the run command.

Example:
  blueskyfeedbot cache show --cache-file cache.json
  blueskyfeedbot cache show --cache-file cache.db --check https://blog.example.com/posts/1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCache(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.CacheFile, "cache-file", "", "path of the cache file")
	cmd.Flags().StringVar(&opts.Check, "check", "", "entry link to look up")

	return cmd
}

func cachePath(cmd *cobra.Command, opts *CacheOptions) (string, error) {
	if cmd.Flags().Changed("cache-file") {
		return opts.CacheFile, nil
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		return "", err
	}
	return cfg.CacheFile, nil
}

func showCache(cmd *cobra.Command, opts *CacheOptions) error {
	path, err := cachePath(cmd, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	store, err := cache.Open(path, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening cache", err)
	}
	loaded, err := store.Load(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "loading cache", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.Check != "" {
		d, err := fingerprint.FromLink(opts.Check)
		if err != nil {
			return WrapExitError(ExitCommandError, "fingerprinting link", err)
		}
		result := CheckResult{
			Path:     store.Path(),
			Link:     opts.Check,
			Digest:   d.String(),
			Recorded: loaded.Cache.Contains(d),
		}
		if err := writeCheck(out, result); err != nil {
			return err
		}
		if !result.Recorded {
			return NewExitError(ExitFailure, "link not recorded")
		}
		return nil
	}

	summary := CacheSummary{
		Path:     store.Path(),
		FirstRun: loaded.FirstRun,
		Entries:  loaded.Cache.Len(),
		Digests:  make([]string, 0, loaded.Cache.Len()),
	}
	for _, d := range loaded.Cache.Digests() {
		summary.Digests = append(summary.Digests, d.String())
	}
	return writeSummary(out, summary)
}

func writeCheck(out *OutputFormatter, r CheckResult) error {
	if out.JSON() {
		return out.Success(r)
	}
	state := "not recorded"
	if r.Recorded {
		state = "recorded"
	}
	_, err := fmt.Fprintf(out.Writer, "%s %s (%s)\n", r.Link, state, r.Digest)
	return err
}

func writeSummary(out *OutputFormatter, s CacheSummary) error {
	if out.JSON() {
		return out.Success(s)
	}
	if s.FirstRun {
		_, err := fmt.Fprintf(out.Writer, "%s: no cache yet\n", s.Path)
		return err
	}
	fmt.Fprintf(out.Writer, "%s: %d entries\n", s.Path, s.Entries)
	for _, d := range s.Digests {
		fmt.Fprintf(out.Writer, "  %s\n", d)
	}
	return nil
}
