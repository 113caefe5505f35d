package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/divyekant/llm-bucket/internal/bucket"
	"github.com/divyekant/llm-bucket/internal/sources"
)

// Settings are the secrets and tunables read from the environment.
type Settings struct {
	// BucketID is zero when BUCKET_ID is unset.
	BucketID  int64
	APIKey    string
	APIURL    string
	Workers   int
	RateLimit float64

	GitHubToken         string
	ConfluenceEmail     string
	ConfluenceToken     string
	ConfluencePageLimit int
	SlackToken          string
}

// LoadEnv reads Settings from the environment after loading dotenv, if that
// file exists. Variables already set in the environment win over the file.
// A malformed BUCKET_ID is a *ConfigError.
func LoadEnv(dotenv string) (*Settings, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{Path: dotenv, Err: err}
		}
	}

	s := &Settings{
		APIKey:              strings.TrimSpace(os.Getenv("OCP_APIM_SUBSCRIPTION_KEY")),
		APIURL:              envOr("LLM_BUCKET_API_URL", bucket.DefaultBaseURL),
		Workers:             envOrInt("LLM_BUCKET_WORKERS", runtime.NumCPU()),
		RateLimit:           envOrFloat("LLM_BUCKET_RATE_LIMIT", 0),
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		ConfluenceEmail:     os.Getenv("CONFLUENCE_API_EMAIL"),
		ConfluenceToken:     os.Getenv("CONFLUENCE_API_TOKEN"),
		ConfluencePageLimit: envOrInt("CONFLUENCE_PAGE_LIMIT", 0),
		SlackToken:          os.Getenv("SLACK_TOKEN"),
	}

	if v := strings.TrimSpace(os.Getenv("BUCKET_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &ConfigError{Field: "BUCKET_ID", Err: fmt.Errorf("must be an integer, got %q", v)}
		}
		s.BucketID = id
	}
	return s, nil
}

// UploadEnabled reports whether both BUCKET_ID and the subscription key are set.
func (s *Settings) UploadEnabled() bool {
	return s.BucketID != 0 && s.APIKey != ""
}

// Credentials returns the upload credentials, or nil when upload is disabled.
func (s *Settings) Credentials() *bucket.Credentials {
	if !s.UploadEnabled() {
		return nil
	}
	return &bucket.Credentials{BucketID: s.BucketID, Key: s.APIKey}
}

// FetchOptions converts the settings for sources.NewFetcher.
func (s *Settings) FetchOptions(gitDepth int) sources.Options {
	return sources.Options{
		GitHubToken:         s.GitHubToken,
		GitDepth:            gitDepth,
		ConfluenceEmail:     s.ConfluenceEmail,
		ConfluenceToken:     s.ConfluenceToken,
		ConfluencePageLimit: s.ConfluencePageLimit,
		SlackToken:          s.SlackToken,
		RateLimit:           s.RateLimit,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}
