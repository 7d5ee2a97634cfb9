package cmd

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sc2-map-indexer/internal/events"
)

func newDepotServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/asset.bin" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "5")
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, srv *httptest.Server) (string, string) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	dir := t.TempDir()
	cacheRoot := filepath.Join(dir, "cache")
	cfg := fmt.Sprintf(`
cache:
  root: %s
depot:
  port: %s
  hosts:
    us: %s
    eu: %s
  rate_per_second: 0
indexer:
  concurrency: 2
  resolve_retries: 0
ops:
  port: 0
logging:
  level: error
`, cacheRoot, port, host, host)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, cacheRoot
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFetchCommand(t *testing.T) {
	srv := newDepotServer(t)
	cfgPath, cacheRoot := writeConfig(t, srv)

	out, err := run(t, "", "--config", cfgPath, "fetch", "us", "asset.bin")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(path, cacheRoot))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestFetchCommandHeadOnly(t *testing.T) {
	srv := newDepotServer(t)
	cfgPath, _ := writeConfig(t, srv)

	out, err := run(t, "", "--config", cfgPath, "fetch", "--head", "us", "asset.bin")
	require.NoError(t, err)
	require.Contains(t, out, "size=5")
	require.Contains(t, out, "last_modified=2015-10-21T07:28:00Z")
}

func TestFetchCommandNotFound(t *testing.T) {
	srv := newDepotServer(t)
	cfgPath, _ := writeConfig(t, srv)

	_, err := run(t, "", "--config", cfgPath, "fetch", "us", "missing.bin")
	require.ErrorContains(t, err, "status 404")
}

func TestIndexCommandDryRun(t *testing.T) {
	srv := newDepotServer(t)
	cfgPath, _ := writeConfig(t, srv)

	input := strings.Join([]string{
		`{"kind":"revision","regionId":1,"mapId":7,"queriedAt":1700000000,"mapVersion":65536,"headerHash":"absent"}`,
		`{"kind":"bogus"}`,
	}, "\n")
	out, err := run(t, input, "--config", cfgPath, "index", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "maps=0 revisions=0 profiles=0 submitted=1 skipped=1")
}

func TestIndexCommandStopsOnUnreadableInput(t *testing.T) {
	srv := newDepotServer(t)
	cfgPath, _ := writeConfig(t, srv)

	input := `{"kind":"revision","regionId":1,"mapId":7,"queriedAt":1700000000,"mapVersion":65536,"headerHash":"absent"}` +
		"\n" + strings.Repeat("x", 2<<20) + "\n"

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := run(t, input, "--config", cfgPath, "index", "--dry-run")
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		require.ErrorIs(t, res.err, events.ErrStream)
		require.Contains(t, res.out, "submitted=1 skipped=0")
	case <-time.After(30 * time.Second):
		t.Fatal("index did not return after an oversized line")
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	srv := newDepotServer(t)
	cfgPath, _ := writeConfig(t, srv)

	_, err := run(t, "", "--config", cfgPath, "migrate")
	require.ErrorContains(t, err, "db.dsn is required")
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("indexer:\n  concurrency: 0\n"), 0o600))

	_, err := run(t, "", "--config", path, "migrate")
	require.ErrorContains(t, err, "indexer.concurrency")
}
