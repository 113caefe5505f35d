package bucket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divyekant/llm-bucket/internal/manifest"
	"github.com/divyekant/llm-bucket/internal/processor"
)

// fakeAPI is an in-memory knowledge store for bucket 7 keyed by "secret".
type fakeAPI struct {
	mu      sync.Mutex
	nextID  int64
	sources map[int64]string
	items   map[int64][]NewItem
	deleted []int64
	state   string
	calls   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, sources: map[int64]string{}, items: map[int64][]NewItem{}, state: SubmittedState}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if r.Header.Get("Ocp-Apim-Subscription-Key") != "secret" {
		http.Error(w, `{"detail":"bad key"}`, http.StatusUnauthorized)
		return
	}

	const prefix = "/v1/buckets/7/external-sources"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.Split(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		out := []ExternalSource{}
		for id, name := range f.sources {
			out = append(out, ExternalSource{BucketID: 7, ID: id, Name: name})
		}
		json.NewEncoder(w).Encode(out)

	case rest == "" && r.Method == http.MethodPost:
		var body struct {
			Name string `json:"external_source_name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.nextID++
		f.sources[f.nextID] = body.Name
		json.NewEncoder(w).Encode(ExternalSource{BucketID: 7, ID: f.nextID, Name: body.Name})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		id, _ := strconv.ParseInt(parts[0], 10, 64)
		if _, ok := f.sources[id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(f.sources, id)
		delete(f.items, id)
		f.deleted = append(f.deleted, id)
		w.WriteHeader(http.StatusNoContent)

	case len(parts) == 2 && parts[1] == "external-items" && r.Method == http.MethodPost:
		sid, _ := strconv.ParseInt(parts[0], 10, 64)
		var item NewItem
		json.NewDecoder(r.Body).Decode(&item)
		f.items[sid] = append(f.items[sid], item)
		f.nextID++
		json.NewEncoder(w).Encode(ExternalItem{
			ID: f.nextID, SourceID: sid, ContentHash: item.ContentHash,
			ProcessingState: f.state, State: "Active", URL: item.URL,
		})

	case len(parts) == 3 && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "unexpected", http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/"})
}

var creds = Credentials{BucketID: 7, Key: "secret"}

func writeArtifact(t *testing.T, files map[string][]byte) *processor.Artifact {
	t.Helper()
	root := t.TempDir()
	art := &processor.Artifact{Root: root, Kind: processor.FlattenForIngestion}
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
		art.Files = append(art.Files, rel)
	}
	return art
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Nil(t, c.limiter)

	c = NewClient(Options{BaseURL: "https://api.example.com/", RateLimit: 5})
	assert.Equal(t, "https://api.example.com", c.baseURL)
	assert.NotNil(t, c.limiter)
}

func TestUpload_ReplacesSameNameSource(t *testing.T) {
	api := newFakeAPI()
	api.sources[1] = "git_repo_aaaa1111"
	api.sources[2] = "other_source"
	c := newTestClient(t, api)

	art := writeArtifact(t, map[string][]byte{
		"README.md":   []byte("# hi\n"),
		"src/main.go": []byte("package main\n"),
	})
	require.NoError(t, c.Upload(context.Background(), "git_repo_aaaa1111", art, creds))

	assert.Equal(t, []int64{1}, api.deleted)
	assert.Contains(t, api.sources, int64(2), "other sources untouched")

	var newID int64
	for id, name := range api.sources {
		if name == "git_repo_aaaa1111" {
			newID = id
		}
	}
	require.NotZero(t, newID)

	items := api.items[newID]
	require.Len(t, items, 2)
	byURL := map[string]NewItem{}
	for _, it := range items {
		byURL[it.URL] = it
	}
	assert.Equal(t, "# hi\n", byURL["README.md"].Content)
	assert.Equal(t, manifest.HashBytes([]byte("# hi\n")), byURL["README.md"].ContentHash)
	assert.Empty(t, byURL["README.md"].Encoding)
	assert.Equal(t, "package main\n", byURL["src/main.go"].Content)
}

func TestUpload_BinaryIsBase64(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)

	pdf := []byte("%PDF-1.3\n\xff\xfe\x00binary")
	art := writeArtifact(t, map[string][]byte{processor.ReadmeFile: pdf})
	require.NoError(t, c.Upload(context.Background(), "name", art, creds))

	var items []NewItem
	for _, v := range api.items {
		items = append(items, v...)
	}
	require.Len(t, items, 1)
	assert.Equal(t, "base64", items[0].Encoding)
	decoded, err := base64.StdEncoding.DecodeString(items[0].Content)
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)
	assert.Equal(t, manifest.HashBytes(pdf), items[0].ContentHash)
}

func TestUpload_NotSubmitted(t *testing.T) {
	api := newFakeAPI()
	api.state = "Failed"
	c := newTestClient(t, api)

	art := writeArtifact(t, map[string][]byte{"a.txt": []byte("a")})
	err := c.Upload(context.Background(), "name", art, creds)
	assert.ErrorIs(t, err, ErrServer)
}

func TestUpload_AuthRejected(t *testing.T) {
	c := newTestClient(t, newFakeAPI())
	art := writeArtifact(t, map[string][]byte{"a.txt": []byte("a")})

	err := c.Upload(context.Background(), "name", art, Credentials{BucketID: 7, Key: "wrong"})
	require.ErrorIs(t, err, ErrAuthRejected)

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnauthorized, ue.Status)
	assert.Equal(t, "AuthRejected", ue.ErrorKind())
}

func TestUpload_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	art := writeArtifact(t, map[string][]byte{"a.txt": []byte("a")})

	err := c.Upload(context.Background(), "name", art, creds)
	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ServerError, ue.Kind)
	assert.Equal(t, http.StatusBadGateway, ue.Status)
	assert.Contains(t, ue.Error(), "boom")
}

func TestUpload_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url})
	art := writeArtifact(t, map[string][]byte{"a.txt": []byte("a")})
	err := c.Upload(context.Background(), "name", art, creds)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestUpload_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(Options{BaseURL: srv.URL})
	art := writeArtifact(t, map[string][]byte{"a.txt": []byte("a")})
	err := c.Upload(ctx, "name", art, creds)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestUpload_MissingFile(t *testing.T) {
	c := newTestClient(t, newFakeAPI())
	art := &processor.Artifact{Root: t.TempDir(), Files: []string{"gone.txt"}}
	err := c.Upload(context.Background(), "name", art, creds)
	assert.ErrorIs(t, err, ErrIO)
}

func TestEmptyBucket(t *testing.T) {
	api := newFakeAPI()
	api.sources[1] = "a"
	api.sources[2] = "b"
	api.sources[3] = "c"
	s := newTestClient(t, api).Session(creds)

	n, err := s.EmptyBucket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, api.sources)

	n, err = s.EmptyBucket(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDelete_ToleratesMissing(t *testing.T) {
	s := newTestClient(t, newFakeAPI()).Session(creds)
	assert.NoError(t, s.DeleteSource(context.Background(), 999))
	assert.NoError(t, s.DeleteItem(context.Background(), 1, 2))
}

func TestStatusKind(t *testing.T) {
	assert.Equal(t, AuthRejected, statusKind(401))
	assert.Equal(t, AuthRejected, statusKind(403))
	assert.Equal(t, ServerError, statusKind(404))
	assert.Equal(t, ServerError, statusKind(500))
}
