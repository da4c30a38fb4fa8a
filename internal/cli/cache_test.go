package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joschi/blueskyfeedbot/internal/fingerprint"
)

// writeCacheFile seeds a JSON cache with the digests of links.
func writeCacheFile(t *testing.T, links ...string) string {
	t.Helper()
	digests := make([]string, 0, len(links))
	for _, l := range links {
		digests = append(digests, fingerprint.Of(l).String())
	}
	data, err := json.Marshal(digests)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func executeCacheShow(t *testing.T, format string, env map[string]string, args ...string) (string, error) {
	t.Helper()
	opts := &CacheOptions{
		RootOptions: &RootOptions{Format: format},
		LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	}
	cmd := newCacheShowCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestCacheShow(t *testing.T) {
	path := writeCacheFile(t, "https://example.com/a", "https://example.com/b")

	out, err := executeCacheShow(t, "text", nil, "--cache-file", path)
	require.NoError(t, err)

	want := path + ": 2 entries\n" +
		"  " + fingerprint.Of("https://example.com/a").String() + "\n" +
		"  " + fingerprint.Of("https://example.com/b").String() + "\n"
	assert.Equal(t, want, out)
}

func TestCacheShowMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	out, err := executeCacheShow(t, "text", nil, "--cache-file", path)
	require.NoError(t, err)
	assert.Equal(t, path+": no cache yet\n", out)
	assert.NoFileExists(t, path)
}

func TestCacheShowJSON(t *testing.T) {
	path := writeCacheFile(t, "https://example.com/a")

	out, err := executeCacheShow(t, "json", nil, "--cache-file", path)
	require.NoError(t, err)

	var resp struct {
		Data CacheSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, path, resp.Data.Path)
	assert.False(t, resp.Data.FirstRun)
	assert.Equal(t, 1, resp.Data.Entries)
	assert.Equal(t, []string{fingerprint.Of("https://example.com/a").String()}, resp.Data.Digests)
}

func TestCacheShowPathFromEnvironment(t *testing.T) {
	path := writeCacheFile(t, "https://example.com/a")

	out, err := executeCacheShow(t, "text", map[string]string{"INPUT_CACHE-FILE": path})
	require.NoError(t, err)
	assert.Contains(t, out, path+": 1 entries")
}

func TestCacheShowWithoutPath(t *testing.T) {
	_, err := executeCacheShow(t, "text", nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCacheShowCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := executeCacheShow(t, "text", nil, "--cache-file", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCacheCheck(t *testing.T) {
	path := writeCacheFile(t, "https://example.com/a")
	digest := fingerprint.Of("https://example.com/a").String()

	out, err := executeCacheShow(t, "text", nil, "--cache-file", path, "--check", "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a recorded ("+digest+")\n", out)

	out, err = executeCacheShow(t, "text", nil, "--cache-file", path, "--check", "https://example.com/z")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "https://example.com/z not recorded ("+fingerprint.Of("https://example.com/z").String()+")\n", out)
}

func TestCacheCheckJSON(t *testing.T) {
	path := writeCacheFile(t, "https://example.com/a")

	out, err := executeCacheShow(t, "json", nil, "--cache-file", path, "--check", "https://example.com/a")
	require.NoError(t, err)

	var resp struct {
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Recorded)
	assert.Equal(t, "https://example.com/a", resp.Data.Link)
}
