package llmbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divyekant/llm-bucket/internal/sources"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BUCKET_ID", "OCP_APIM_SUBSCRIPTION_KEY", "LLM_BUCKET_API_URL", "LLM_BUCKET_WORKERS",
		"LLM_BUCKET_RATE_LIMIT", "GITHUB_TOKEN", "CONFLUENCE_API_EMAIL", "CONFLUENCE_API_TOKEN",
		"CONFLUENCE_PAGE_LIMIT", "SLACK_TOKEN",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "--quiet", "--initial-branch=main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	run("add", ".")
	run("commit", "--quiet", "-m", "init")
	return dir
}

func writeConfig(t *testing.T, out string, repos ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "download:\n  output_dir: %s\n  sources:\n", out)
	for _, r := range repos {
		fmt.Fprintf(&b, "    - type: git\n      repo_url: %q\n", r)
	}
	b.WriteString("process:\n  kind: FlattenFiles\n")
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))
	return p
}

// fakeBucket accepts every call for bucket 3 and counts items.
type fakeBucket struct {
	mu      sync.Mutex
	deletes int
	items   int
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.HasPrefix(r.URL.Path, "/v1/buckets/3/external-sources") {
		http.NotFound(w, r)
		return
	}
	switch {
	case r.Method == http.MethodGet:
		json.NewEncoder(w).Encode([]map[string]any{{"external_source_id": 1, "external_source_name": "old"}})
	case r.Method == http.MethodDelete:
		f.deletes++
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/external-items"):
		f.items++
		json.NewEncoder(w).Encode(map[string]any{"external_item_id": f.items, "processing_state": "Submitted"})
	default:
		json.NewEncoder(w).Encode(map[string]any{"external_source_id": 2, "external_source_name": "new"})
	}
}

func TestSync_LocalOnly(t *testing.T) {
	clearEnv(t)
	repo := initRepo(t)
	out := filepath.Join(t.TempDir(), "exports")
	history := filepath.Join(t.TempDir(), "history.db")

	s, err := New(SyncOptions{ConfigPath: writeConfig(t, out, "file://"+repo), HistoryPath: history, Workers: 2})
	require.NoError(t, err)
	assert.False(t, s.UploadEnabled())
	require.Len(t, s.Sources(), 1)
	assert.Equal(t, out, s.OutputDir())

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Sources, 1)
	assert.True(t, report.OK())

	key := sources.NameFor(s.Sources()[0])
	assert.FileExists(t, filepath.Join(out, key, "README.md"))
	assert.FileExists(t, filepath.Join(out, key, "main.go"))
	assert.False(t, report.Sources[0].Uploaded)

	runs, err := History(context.Background(), history, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID.String(), runs[0].ID)
	require.Len(t, runs[0].Sources, 1)
	assert.Equal(t, key, runs[0].Sources[0].Key)
}

func TestSync_UploadAndEmptyBucket(t *testing.T) {
	clearEnv(t)
	repo := initRepo(t)
	api := &fakeBucket{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	t.Setenv("BUCKET_ID", "3")
	t.Setenv("OCP_APIM_SUBSCRIPTION_KEY", "k")
	t.Setenv("LLM_BUCKET_API_URL", srv.URL)

	report, err := Sync(context.Background(), SyncOptions{
		ConfigPath:  writeConfig(t, t.TempDir(), "file://"+repo),
		EmptyBucket: true,
	})
	require.NoError(t, err)
	require.True(t, report.OK(), "%+v", report.Sources)
	assert.True(t, report.Sources[0].Uploaded)

	api.mu.Lock()
	defer api.mu.Unlock()
	// only the emptying pass deletes; "old" never matches the upload name
	assert.Equal(t, 1, api.deletes)
	assert.Equal(t, 2, api.items)
}

func TestNew_EmptyBucketNeedsCredentials(t *testing.T) {
	clearEnv(t)
	_, err := New(SyncOptions{ConfigPath: writeConfig(t, t.TempDir()), EmptyBucket: true})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNew_ConfigErrors(t *testing.T) {
	clearEnv(t)

	_, err := New(SyncOptions{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(SyncOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorIs(t, err, ErrConfig)

	t.Setenv("BUCKET_ID", "x")
	_, err = New(SyncOptions{ConfigPath: writeConfig(t, t.TempDir())})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSync_FailedSourceInReport(t *testing.T) {
	clearEnv(t)
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	missing := "file://" + filepath.Join(t.TempDir(), "nope")

	report, err := Sync(context.Background(), SyncOptions{ConfigPath: writeConfig(t, t.TempDir(), missing)})
	require.NoError(t, err)
	require.Len(t, report.Sources, 1)
	assert.False(t, report.OK())
	assert.Len(t, report.Failures(), 1)
}
