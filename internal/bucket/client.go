// Package bucket talks to the knowledge-store REST API: external sources
// grouped in numbered buckets, each holding external items (documents).
package bucket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is used when no API URL is configured.
const DefaultBaseURL = "http://localhost:8000"

const keyHeader = "Ocp-Apim-Subscription-Key"

// Credentials select the bucket and authenticate against the API.
type Credentials struct {
	BucketID int64
	Key      string
}

// ExternalSource is a named group of items inside a bucket.
type ExternalSource struct {
	BucketID int64  `json:"bucket_id"`
	ID       int64  `json:"external_source_id"`
	Name     string `json:"external_source_name"`
	Updated  string `json:"updated_datetime,omitempty"`
}

// NewItem is the payload for CreateItem.
type NewItem struct {
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
	URL         string `json:"url"`
	// Encoding is "base64" when Content is not the raw UTF-8 text.
	Encoding string `json:"content_encoding,omitempty"`
}

// ExternalItem is an item as returned by the API.
type ExternalItem struct {
	ID              int64  `json:"external_item_id"`
	SourceID        int64  `json:"external_source_id"`
	ContentHash     string `json:"content_hash"`
	ProcessingState string `json:"processing_state"`
	State           string `json:"state"`
	URL             string `json:"url"`
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit  float64
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client, defaulting the base URL to DefaultBaseURL.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// Session binds the client to one bucket and key.
type Session struct {
	c     *Client
	creds Credentials
}

// Session returns a session for creds.
func (c *Client) Session(creds Credentials) *Session {
	return &Session{c: c, creds: creds}
}

func (s *Session) sourcesPath() string {
	return fmt.Sprintf("/v1/buckets/%d/external-sources", s.creds.BucketID)
}

// do sends one request and decodes a 2xx JSON body into out when non-nil.
// A 404 is tolerated when allowMissing is set.
func (s *Session) do(ctx context.Context, op, method, path string, body, out any, allowMissing bool) error {
	c := s.c
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &UploadError{Kind: Timeout, Op: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &UploadError{Kind: IOError, Op: op, Err: fmt.Errorf("marshal body: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &UploadError{Kind: NetworkError, Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(keyHeader, s.creds.Key)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return &UploadError{Kind: Timeout, Op: op, Err: err}
		}
		return &UploadError{Kind: NetworkError, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if allowMissing && resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &UploadError{
			Kind:   statusKind(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Err:    errors.New(strings.TrimSpace(string(text))),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &UploadError{Kind: Timeout, Op: op, Err: err}
		}
		return &UploadError{Kind: ServerError, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// ListSources returns every external source in the bucket.
func (s *Session) ListSources(ctx context.Context) ([]ExternalSource, error) {
	var out []ExternalSource
	if err := s.do(ctx, "list sources", http.MethodGet, s.sourcesPath(), nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSource creates an external source named name.
func (s *Session) CreateSource(ctx context.Context, name string) (*ExternalSource, error) {
	payload := struct {
		Name string `json:"external_source_name"`
	}{Name: name}

	var out ExternalSource
	if err := s.do(ctx, "create source", http.MethodPost, s.sourcesPath(), payload, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSource removes a source and its items. Tolerates 404 (already deleted).
func (s *Session) DeleteSource(ctx context.Context, id int64) error {
	path := fmt.Sprintf("%s/%d", s.sourcesPath(), id)
	return s.do(ctx, "delete source", http.MethodDelete, path, nil, nil, true)
}

// CreateItem adds an item to source sourceID.
func (s *Session) CreateItem(ctx context.Context, sourceID int64, item NewItem) (*ExternalItem, error) {
	path := fmt.Sprintf("%s/%d/external-items", s.sourcesPath(), sourceID)
	var out ExternalItem
	if err := s.do(ctx, "create item "+item.URL, http.MethodPost, path, item, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteItem removes one item. Tolerates 404 (already deleted).
func (s *Session) DeleteItem(ctx context.Context, sourceID, itemID int64) error {
	path := fmt.Sprintf("%s/%d/external-items/%d", s.sourcesPath(), sourceID, itemID)
	return s.do(ctx, "delete item", http.MethodDelete, path, nil, nil, true)
}

// EmptyBucket deletes every source in the bucket and returns how many were
// deleted. It stops at the first failure.
func (s *Session) EmptyBucket(ctx context.Context) (int, error) {
	sources, err := s.ListSources(ctx)
	if err != nil {
		return 0, err
	}
	for i, src := range sources {
		if err := s.DeleteSource(ctx, src.ID); err != nil {
			return i, err
		}
	}
	return len(sources), nil
}
