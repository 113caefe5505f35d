package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/divyekant/llm-bucket/internal/gitclone"
)

const (
	defaultHTTPTimeout         = 30 * time.Second
	defaultConfluencePageLimit = 1000
	defaultSlackMessageLimit   = 1000
	maxResponseBytes           = 32 << 20
)

// Options holds credentials and limits for every source kind.
type Options struct {
	GitHubToken string
	// GitHubAPIURL overrides api.github.com for ref preflight.
	GitHubAPIURL string
	// GitDepth > 0 makes shallow clones.
	GitDepth int

	ConfluenceEmail     string
	ConfluenceToken     string
	ConfluencePageLimit int

	SlackToken        string
	SlackAPIURL       string
	SlackMessageLimit int

	// RateLimit caps HTTP requests per second across all API-backed
	// sources. Zero means unlimited.
	RateLimit float64

	HTTPClient *http.Client
}

// Fetcher materializes sources on local disk. It is safe for concurrent use.
type Fetcher struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	refs    *gitclone.RefResolver
}

// NewFetcher returns a fetcher configured with opts, filling defaults.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.ConfluencePageLimit <= 0 {
		opts.ConfluencePageLimit = defaultConfluencePageLimit
	}
	if opts.SlackMessageLimit <= 0 {
		opts.SlackMessageLimit = defaultSlackMessageLimit
	}
	if opts.SlackAPIURL == "" {
		opts.SlackAPIURL = "https://slack.com/api"
	}

	f := &Fetcher{opts: opts, http: opts.HTTPClient}
	if f.http == nil {
		f.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if opts.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if opts.GitHubToken != "" {
		refs, err := gitclone.NewRefResolver(opts.GitHubToken, opts.GitHubAPIURL)
		if err != nil {
			return nil, fmt.Errorf("sources: %w", err)
		}
		f.refs = refs
	}
	return f, nil
}

// Fetch materializes spec into dest. Anything already at dest is removed
// first, so reruns start from a clean directory. On failure dest is removed
// and the returned error is always a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, spec Spec, dest string) (*Snapshot, error) {
	if spec == nil {
		return nil, &FetchError{Kind: InvalidSpec, Err: fmt.Errorf("nil source spec")}
	}
	if err := os.RemoveAll(dest); err != nil {
		return nil, &FetchError{Kind: IOError, Source: spec.String(), Err: fmt.Errorf("clean %s: %w", dest, err)}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &FetchError{Kind: IOError, Source: spec.String(), Err: fmt.Errorf("create parent of %s: %w", dest, err)}
	}

	logger := log.With().Str("source", spec.String()).Str("stage", "fetch").Logger()
	logger.Debug().Str("dest", dest).Msg("fetching")

	var (
		revision string
		err      error
	)
	switch s := spec.(type) {
	case GitSpec:
		revision, err = f.fetchGit(ctx, s, dest)
	case ConfluenceSpec:
		err = f.fetchConfluence(ctx, s, dest)
	case SlackSpec:
		err = f.fetchSlack(ctx, s, dest)
	default:
		err = fetchErr(InvalidSpec, spec.String(), "unsupported source type %T", spec)
	}
	if err != nil {
		os.RemoveAll(dest)
		return nil, classify(ctx, spec, err)
	}

	logger.Debug().Str("revision", revision).Msg("fetched")
	return &Snapshot{Spec: spec, Dir: dest, Revision: revision}, nil
}

// get performs a rate-limited GET and maps HTTP failures to fetch error kinds.
func (f *Fetcher) get(ctx context.Context, source, rawURL string, auth func(*http.Request)) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: Timeout, Source: source, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: InvalidSpec, Source: source, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		auth(req)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if kind, failed := statusKind(resp.StatusCode); failed {
		return nil, fetchErr(kind, source, "%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

func statusKind(code int) (FetchErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return 0, false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return AuthFailure, true
	case code == http.StatusNotFound || code == http.StatusGone:
		return NotFound, true
	case code == http.StatusBadRequest:
		return InvalidSpec, true
	}
	return NetworkError, true
}

func writeFile(source, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &FetchError{Kind: IOError, Source: source, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &FetchError{Kind: IOError, Source: source, Err: err}
	}
	return nil
}
