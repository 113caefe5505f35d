// Package config loads the sync configuration file (YAML or TOML) and the
// secrets that come from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/divyekant/llm-bucket/internal/processor"
	"github.com/divyekant/llm-bucket/internal/sources"
)

// ErrConfig matches every *ConfigError.
var ErrConfig = errors.New("config: invalid configuration")

// ConfigError reports a missing or malformed setting. Nothing has been
// synced when one is returned.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	if e.Path != "" {
		b.WriteString(e.Path + ": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field + ": ")
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ConfigError) Unwrap() error        { return e.Err }
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// ErrorKind names the failure class for reports.
func (e *ConfigError) ErrorKind() string { return "ConfigError" }

// Config is the static sync configuration. It holds no secrets.
type Config struct {
	Download DownloadConfig `yaml:"download" toml:"download"`
	Process  ProcessConfig  `yaml:"process" toml:"process"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`

	// Specs and Kind are resolved from the raw fields by Load.
	Specs []sources.Spec `yaml:"-" toml:"-"`
	Kind  processor.Kind `yaml:"-" toml:"-"`
	path  string
}

type DownloadConfig struct {
	OutputDir string        `yaml:"output_dir" toml:"output_dir"`
	WorkDir   string        `yaml:"work_dir" toml:"work_dir"`
	GitDepth  int           `yaml:"git_depth" toml:"git_depth"`
	Sources   []SourceEntry `yaml:"sources" toml:"sources"`
}

// SourceEntry is one item of download.sources. Type selects which of the
// remaining fields apply.
type SourceEntry struct {
	Type      string `yaml:"type" toml:"type"`
	RepoURL   string `yaml:"repo_url,omitempty" toml:"repo_url,omitempty"`
	Reference string `yaml:"reference,omitempty" toml:"reference,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	SpaceKey  string `yaml:"space_key,omitempty" toml:"space_key,omitempty"`
	ChannelID string `yaml:"channel_id,omitempty" toml:"channel_id,omitempty"`
}

type ProcessConfig struct {
	Kind             string   `yaml:"kind" toml:"kind"`
	Ignore           []string `yaml:"ignore" toml:"ignore"`
	RespectGitignore *bool    `yaml:"respect_gitignore" toml:"respect_gitignore"`
	SkipBinary       bool     `yaml:"skip_binary" toml:"skip_binary"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
	Path   string `yaml:"path" toml:"path"`
}

// DefaultIgnore is applied when process.ignore is absent.
var DefaultIgnore = []string{"target/"}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// ProcessorOptions converts the process section for processor.New.
func (c *Config) ProcessorOptions() processor.Options {
	return processor.Options{
		Ignore:           c.Process.Ignore,
		RespectGitignore: c.Process.RespectGitignore == nil || *c.Process.RespectGitignore,
		SkipBinary:       c.Process.SkipBinary,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// Load reads and validates the config at path. Files ending in .toml are
// parsed as TOML, everything else as YAML. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	cfg.path = path

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve applies defaults, expands paths and validates every field.
func (c *Config) resolve() error {
	fail := func(field string, format string, args ...any) error {
		return &ConfigError{Path: c.path, Field: field, Err: fmt.Errorf(format, args...)}
	}

	if c.Download.OutputDir == "" {
		return fail("download.output_dir", "is required")
	}
	c.Download.OutputDir = expandPath(c.Download.OutputDir)
	if c.Download.WorkDir != "" {
		c.Download.WorkDir = expandPath(c.Download.WorkDir)
	}
	if c.Download.GitDepth < 0 {
		return fail("download.git_depth", "must not be negative")
	}

	c.Specs = make([]sources.Spec, 0, len(c.Download.Sources))
	seen := make(map[string]int)
	for i, e := range c.Download.Sources {
		field := fmt.Sprintf("download.sources[%d]", i)
		spec, err := e.spec()
		if err != nil {
			return fail(field, "%w", err)
		}
		key := sources.NameFor(spec)
		if j, dup := seen[key]; dup {
			return fail(field, "duplicates download.sources[%d]", j)
		}
		seen[key] = i
		c.Specs = append(c.Specs, spec)
	}

	if c.Process.Kind == "" {
		return fail("process.kind", "is required")
	}
	kind, err := processor.ParseKind(c.Process.Kind)
	if err != nil {
		return fail("process.kind", "%w", err)
	}
	c.Kind = kind
	if c.Process.Ignore == nil {
		c.Process.Ignore = DefaultIgnore
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fail("logging.level", "%w", err)
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "console", "json":
	default:
		return fail("logging.format", "must be console or json, got %q", c.Logging.Format)
	}
	if c.Logging.Path != "" {
		c.Logging.Path = expandPath(c.Logging.Path)
	}
	return nil
}

func (e SourceEntry) spec() (sources.Spec, error) {
	switch strings.ToLower(e.Type) {
	case string(sources.KindGit):
		if e.RepoURL == "" {
			return nil, errors.New("git source needs repo_url")
		}
		return sources.NewGit(e.RepoURL, e.Reference), nil
	case string(sources.KindConfluence):
		if e.BaseURL == "" || e.SpaceKey == "" {
			return nil, errors.New("confluence source needs base_url and space_key")
		}
		return sources.ConfluenceSpec{BaseURL: strings.TrimRight(e.BaseURL, "/"), SpaceKey: e.SpaceKey}, nil
	case string(sources.KindSlack):
		if e.ChannelID == "" {
			return nil, errors.New("slack source needs channel_id")
		}
		return sources.SlackSpec{ChannelID: e.ChannelID}, nil
	case "":
		return nil, errors.New("type is required")
	}
	return nil, fmt.Errorf("unknown source type %q", e.Type)
}
