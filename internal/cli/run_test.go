package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joschi/blueskyfeedbot/internal/testutil"
)

func init() {
	color.NoColor = true
}

var runStart = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// runHarness runs the run command with fake collaborators.
type runHarness struct {
	opts      *RunOptions
	fetcher   *testutil.FakeFetcher
	publisher *testutil.FakePublisher
	env       map[string]string
	cacheFile string
	stdout    bytes.Buffer
	stderr    bytes.Buffer
}

func newRunHarness(t *testing.T, format string) *runHarness {
	t.Helper()
	h := &runHarness{
		fetcher: &testutil.FakeFetcher{Feed: testutil.NewFeed(
			testutil.Entry("https://example.com/a", "2024-05-01T10:00:00Z"),
			testutil.Entry("https://example.com/b", "2024-05-02T10:00:00Z"),
		)},
		publisher: &testutil.FakePublisher{},
		env:       map[string]string{},
		cacheFile: filepath.Join(t.TempDir(), "cache.json"),
	}
	h.opts = &RunOptions{
		RootOptions: &RootOptions{Format: format},
		Fetcher:     h.fetcher,
		Publisher:   h.publisher,
		RunIDs:      testutil.NewFixedRunIDGenerator("run-cli"),
		Clock:       testutil.NewClock(runStart, time.Second).Now,
		LookupEnv: func(k string) (string, bool) {
			v, ok := h.env[k]
			return v, ok
		},
	}
	return h
}

// baseArgs returns the flags for a valid live run.
func (h *runHarness) baseArgs() []string {
	return []string{
		"--feed-url", "https://example.com/feed.xml",
		"--template", "{{{item.title}}}",
		"--username", "bot.example.com",
		"--password", "app-password",
		"--cache-file", h.cacheFile,
	}
}

func (h *runHarness) run(args ...string) error {
	cmd := newRunCommand(h.opts)
	cmd.SetArgs(args)
	cmd.SetOut(&h.stdout)
	cmd.SetErr(&h.stderr)
	return cmd.Execute()
}

func (h *runHarness) cachedDigests(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.cacheFile)
	require.NoError(t, err)
	var digests []string
	require.NoError(t, json.Unmarshal(data, &digests))
	return digests
}

// TestRunPublishesNewEntries tests a first live run end to end.
func TestRunPublishesNewEntries(t *testing.T) {
	h := newRunHarness(t, "text")

	require.NoError(t, h.run(h.baseArgs()...))

	assert.Equal(t, []string{"Post https://example.com/a", "Post https://example.com/b"}, h.publisher.Texts())
	assert.Equal(t, 1, h.publisher.Logins())
	assert.Equal(t, []string{"https://example.com/feed.xml"}, h.fetcher.Calls())
	assert.Len(t, h.cachedDigests(t), 2)

	out := h.stdout.String()
	assert.Contains(t, out, "run run-cli done in 1s")
	assert.Contains(t, out, "first run, no cache existed")
	assert.Contains(t, out, "fetched 2, new 2, posted 2, skipped 0, failed 0")
	assert.Contains(t, out, "cache 0 -> 2 entries, 0 evicted")
}

// TestRunIsIdempotent tests that a second run over the same feed posts nothing.
func TestRunIsIdempotent(t *testing.T) {
	h := newRunHarness(t, "text")
	require.NoError(t, h.run(h.baseArgs()...))

	h.stdout.Reset()
	require.NoError(t, h.run(h.baseArgs()...))

	assert.Len(t, h.publisher.Texts(), 2)
	assert.Contains(t, h.stdout.String(), "new 0, posted 0")
}

// TestRunDryRunFromEnvironment tests configuration through INPUT_* variables
// and JSON output.
func TestRunDryRunFromEnvironment(t *testing.T) {
	h := newRunHarness(t, "json")
	h.opts.Publisher = nil
	h.env = map[string]string{
		"INPUT_FEED-URL":   "https://example.com/feed.xml",
		"INPUT_TEMPLATE":   "{{item.title}}",
		"INPUT_CACHE_FILE": h.cacheFile,
		"INPUT_DRY-RUN":    "true",
	}

	require.NoError(t, h.run())

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "done", resp.Data["state"])
	assert.Equal(t, true, resp.Data["dry_run"])
	assert.Equal(t, float64(2), resp.Data["new"])
	assert.Equal(t, float64(0), resp.Data["posted"])

	assert.Len(t, h.cachedDigests(t), 2, "dry run records entries")
}

// TestRunFlagsOverrideEnvironment tests that explicit flags win over INPUT_*.
func TestRunFlagsOverrideEnvironment(t *testing.T) {
	h := newRunHarness(t, "text")
	h.env = map[string]string{
		"INPUT_INITIAL-POST-LIMIT": "5",
		"INPUT_FEED-URL":           "https://ignored.example.com/feed.xml",
	}

	require.NoError(t, h.run(append(h.baseArgs(), "--initial-post-limit", "1")...))

	assert.Len(t, h.publisher.Texts(), 1)
	assert.Equal(t, []string{"https://example.com/feed.xml"}, h.fetcher.Calls())
	assert.Contains(t, h.stdout.String(), "posted 1, skipped 1")
}

// TestRunConfigFile tests loading settings from --config.
func TestRunConfigFile(t *testing.T) {
	h := newRunHarness(t, "text")
	path := filepath.Join(t.TempDir(), "bot.yaml")
	content := "feed_url: https://example.com/feed.xml\n" +
		"template: \"{{{item.link}}}\"\n" +
		"username: bot.example.com\n" +
		"password: app-password\n" +
		"cache_file: " + h.cacheFile + "\n" +
		"disable_facets: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, h.run("--config", path))

	posts := h.publisher.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, "https://example.com/a", posts[0].Text)
	assert.False(t, posts[0].DetectFacets)
}

// TestRunLegacyFeedFlag tests the deprecated --rss-feed flag.
func TestRunLegacyFeedFlag(t *testing.T) {
	h := newRunHarness(t, "text")
	args := []string{
		"--rss-feed", "https://legacy.example.com/rss",
		"--template", "{{item.title}}",
		"--cache-file", h.cacheFile,
		"--dry-run",
	}

	require.NoError(t, h.run(args...))
	assert.Equal(t, []string{"https://legacy.example.com/rss"}, h.fetcher.Calls())
}

// TestRunInvalidConfiguration tests that configuration problems are command
// errors and nothing is fetched.
func TestRunInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing feed url", []string{"--template", "x", "--cache-file", "c.json", "--dry-run"}, "feed_url"},
		{"missing credentials", []string{"--feed-url", "https://example.com", "--template", "x", "--cache-file", "c.json"}, "username"},
		{"bad limit", []string{"--feed-url", "https://example.com", "--template", "x", "--cache-file", "c.json", "--dry-run", "--cache-limit", "0"}, "cache_limit"},
		{"broken template", []string{"--feed-url", "https://example.com", "--template", "{{#if item.title}}open", "--cache-file", "c.json", "--dry-run"}, "compiling template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRunHarness(t, "text")
			err := h.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, h.fetcher.Calls())
			assert.NotContains(t, h.stdout.String(), "Usage:")
		})
	}
}

// TestRunBadEnvironmentValue tests that unparsable INPUT_* values are
// command errors.
func TestRunBadEnvironmentValue(t *testing.T) {
	h := newRunHarness(t, "text")
	h.env["INPUT_POST-LIMIT"] = "many"

	err := h.run(h.baseArgs()...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "INPUT_POST-LIMIT")
}

// TestRunFetchFailure tests the exit code and summary of a failed run.
func TestRunFetchFailure(t *testing.T) {
	h := newRunHarness(t, "text")
	h.fetcher.Err = errors.New("connection refused")

	err := h.run(h.baseArgs()...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := h.stdout.String()
	assert.Contains(t, out, "run run-cli failed")
	assert.Contains(t, out, "error: FETCH_FAILED")
	assert.NotContains(t, out, "Usage:")
	assert.NoFileExists(t, h.cacheFile)
}

// TestRunFailureJSON tests the JSON envelope of a failed run.
func TestRunFailureJSON(t *testing.T) {
	h := newRunHarness(t, "json")
	h.publisher.LoginErr = errors.New("invalid password")

	err := h.run(h.baseArgs()...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.NotContains(t, h.stdout.String(), "Usage:", "stdout holds only the JSON envelope")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "AUTH_FAILED", resp.Error.Code)
	assert.NotNil(t, resp.Data)
}

// TestRunEntryFailures tests that failed entries are listed and fail the run.
func TestRunEntryFailures(t *testing.T) {
	h := newRunHarness(t, "text")
	h.publisher.FailOn = map[string]error{
		"Post https://example.com/a": errors.New("rate limited"),
	}

	err := h.run(h.baseArgs()...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := h.stdout.String()
	assert.Contains(t, out, "posted 1, skipped 0, failed 1")
	assert.Contains(t, out, "! ENTRY_FAILED")
	assert.Contains(t, out, "rate limited")
	assert.Len(t, h.cachedDigests(t), 2, "failed entries are recorded")
}

// TestRunWritesMetrics tests the --metrics-file flag.
func TestRunWritesMetrics(t *testing.T) {
	h := newRunHarness(t, "text")
	metricsFile := filepath.Join(t.TempDir(), "metrics", "bot.prom")

	require.NoError(t, h.run(append(h.baseArgs(), "--metrics-file", metricsFile)...))

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "blueskyfeedbot_last_run_success")
}

// TestRunLogsWarnings tests that suspicious limits are logged.
func TestRunLogsWarnings(t *testing.T) {
	h := newRunHarness(t, "text")

	require.NoError(t, h.run(append(h.baseArgs(), "--cache-limit", "3", "--log-format", "json")...))

	assert.Contains(t, h.stderr.String(), `"level":"WARN"`)
	assert.Contains(t, h.stderr.String(), "initial-post-limit is greater than cache-limit")
}
