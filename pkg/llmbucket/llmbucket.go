// Package llmbucket provides a thin Go SDK for running llm-bucket syncs
// programmatically. It wraps the internal packages with a stable API.
package llmbucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/divyekant/llm-bucket/internal/bucket"
	"github.com/divyekant/llm-bucket/internal/config"
	"github.com/divyekant/llm-bucket/internal/pipeline"
	"github.com/divyekant/llm-bucket/internal/processor"
	"github.com/divyekant/llm-bucket/internal/runlog"
	"github.com/divyekant/llm-bucket/internal/sources"
)

// Report is the ordered outcome of one sync.
type Report = pipeline.RunReport

// ErrConfig matches every configuration error returned by New or Sync.
var ErrConfig = config.ErrConfig

// SyncOptions configures a sync.
type SyncOptions struct {
	ConfigPath string
	// EnvFile is loaded before reading the environment. Missing is fine.
	EnvFile string
	Workers int // overrides LLM_BUCKET_WORKERS when > 0
	Timeout time.Duration
	// EmptyBucket deletes every external source in the bucket before syncing.
	// Requires upload credentials.
	EmptyBucket bool
	// HistoryPath, if set, records the report in a SQLite run history.
	HistoryPath string
	ProgressFn  func(phase string, done, total int)
	StateFn     func(key string, s pipeline.State)
}

// Syncer holds a loaded configuration and the clients built from it.
type Syncer struct {
	opts     SyncOptions
	cfg      *config.Config
	env      *config.Settings
	fetcher  *sources.Fetcher
	proc     *processor.Processor
	uploader *bucket.Client
}

// New loads the config file and environment and builds the clients. Nothing
// touches the network until Run.
func New(opts SyncOptions) (*Syncer, error) {
	if opts.ConfigPath == "" {
		return nil, &config.ConfigError{Field: "config", Err: errors.New("path is required")}
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if opts.EmptyBucket && !env.UploadEnabled() {
		return nil, &config.ConfigError{
			Field: "empty-bucket",
			Err:   errors.New("requires BUCKET_ID and OCP_APIM_SUBSCRIPTION_KEY"),
		}
	}

	fetcher, err := sources.NewFetcher(env.FetchOptions(cfg.Download.GitDepth))
	if err != nil {
		return nil, &config.ConfigError{Path: cfg.Path(), Err: err}
	}

	s := &Syncer{
		opts:    opts,
		cfg:     cfg,
		env:     env,
		fetcher: fetcher,
		proc:    processor.New(cfg.ProcessorOptions()),
	}
	if env.UploadEnabled() {
		s.uploader = bucket.NewClient(bucket.Options{BaseURL: env.APIURL, RateLimit: env.RateLimit})
	}
	return s, nil
}

// Logging returns the logging section of the loaded config.
func (s *Syncer) Logging() config.LoggingConfig { return s.cfg.Logging }

// UploadEnabled reports whether artifacts will be sent to the bucket.
func (s *Syncer) UploadEnabled() bool { return s.uploader != nil }

// Sources returns the configured sources in order.
func (s *Syncer) Sources() []sources.Spec { return s.cfg.Specs }

// Kind returns the configured processing kind.
func (s *Syncer) Kind() processor.Kind { return s.cfg.Kind }

// OutputDir returns the resolved artifact directory.
func (s *Syncer) OutputDir() string { return s.cfg.Download.OutputDir }

// Run empties the bucket when asked, syncs every source and records the
// report in the run history. A non-nil error means the sync did not run;
// per-source failures are in the report.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	if s.opts.EmptyBucket {
		n, err := s.uploader.Session(*s.env.Credentials()).EmptyBucket(ctx)
		if err != nil {
			return nil, fmt.Errorf("llmbucket: empty bucket: %w", err)
		}
		log.Info().Int("sources", n).Int64("bucket", s.env.BucketID).Msg("bucket emptied")
	}

	workers := s.opts.Workers
	if workers <= 0 {
		workers = s.env.Workers
	}

	pc := pipeline.Config{
		OutputDir:  s.cfg.Download.OutputDir,
		WorkDir:    s.cfg.Download.WorkDir,
		Sources:    s.cfg.Specs,
		Kind:       s.cfg.Kind,
		Fetcher:    s.fetcher,
		Processor:  s.proc,
		MaxWorkers: workers,
		Timeout:    s.opts.Timeout,
		ProgressFn: s.opts.ProgressFn,
		StateFn:    s.opts.StateFn,
	}
	if s.uploader != nil {
		pc.Uploader = s.uploader
		pc.Credentials = s.env.Credentials()
	}

	report, err := pipeline.Run(ctx, pc)
	if err != nil {
		return nil, err
	}

	if s.opts.HistoryPath != "" {
		if err := record(ctx, s.opts.HistoryPath, report); err != nil {
			log.Warn().Err(err).Str("path", s.opts.HistoryPath).Msg("run history not recorded")
		}
	}
	return report, nil
}

// Sync is New followed by Run.
func Sync(ctx context.Context, opts SyncOptions) (*Report, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// History returns up to limit recorded runs from the database at path, most
// recent first, each with its per-source rows.
func History(ctx context.Context, path string, limit int) ([]HistoryEntry, error) {
	store, err := runlog.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(runs))
	for _, r := range runs {
		rows, err := store.Sources(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryEntry{Run: r, Sources: rows})
	}
	return out, nil
}

// HistoryEntry is one recorded run.
type HistoryEntry struct {
	runlog.Run
	Sources []runlog.SourceRow `json:"sources"`
}

func record(ctx context.Context, path string, report *Report) error {
	store, err := runlog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(ctx, report)
}
