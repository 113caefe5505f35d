// Package pipeline runs a sync: every configured source is named, fetched,
// processed and optionally uploaded, and the outcome of each is recorded in a
// RunReport. A failing source never stops the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/divyekant/llm-bucket/internal/bucket"
	"github.com/divyekant/llm-bucket/internal/manifest"
	"github.com/divyekant/llm-bucket/internal/processor"
	"github.com/divyekant/llm-bucket/internal/sources"
)

// Fetcher materializes a source into dest.
type Fetcher interface {
	Fetch(ctx context.Context, spec sources.Spec, dest string) (*sources.Snapshot, error)
}

// Processor turns a snapshot into an artifact at out.
type Processor interface {
	Process(snapshotDir string, kind processor.Kind, out string) (*processor.Artifact, error)
}

// Uploader sends an artifact to the knowledge store under name.
type Uploader interface {
	Upload(ctx context.Context, name string, art *processor.Artifact, creds bucket.Credentials) error
}

// Config holds everything a run needs.
type Config struct {
	// OutputDir receives one artifact directory per source, named by key.
	OutputDir string
	// WorkDir keeps snapshots between runs when set. Otherwise snapshots
	// go to a temporary directory that is removed after processing.
	WorkDir string
	Sources []sources.Spec
	Kind    processor.Kind

	Fetcher   Fetcher
	Processor Processor
	// Uploader and Credentials must both be set for the upload stage to run.
	Uploader    Uploader
	Credentials *bucket.Credentials

	MaxWorkers int
	// Timeout bounds the whole run. Zero means no limit.
	Timeout    time.Duration
	ProgressFn func(phase string, done, total int) // optional progress callback
	// StateFn, if set, observes every state transition.
	StateFn func(key string, s State)
}

// Run executes the sync. The returned error is non-nil only for an unusable
// Config, in which case no source has been attempted; every per-source
// failure is recorded in the report instead.
func Run(ctx context.Context, cfg Config) (*RunReport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	progress := cfg.ProgressFn
	if progress == nil {
		progress = func(string, int, int) {}
	}

	keys := make([]string, len(cfg.Sources))
	seen := make(map[string]int, len(cfg.Sources))
	for i, spec := range cfg.Sources {
		key := sources.NameFor(spec)
		if j, dup := seen[key]; dup {
			return nil, fmt.Errorf("pipeline: source %d (%s) duplicates source %d", i+1, spec, j+1)
		}
		seen[key] = i
		keys[i] = key
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	scratch := cfg.WorkDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "llm-bucket-*")
		if err != nil {
			return nil, fmt.Errorf("pipeline: create scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)
		scratch = dir
	}

	report := &RunReport{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Sources:   make([]SourceReport, len(cfg.Sources)),
	}
	upload := cfg.Uploader != nil && cfg.Credentials != nil

	log.Info().
		Str("run", report.ID.String()).
		Int("sources", len(cfg.Sources)).
		Stringer("kind", cfg.Kind).
		Bool("upload", upload).
		Int("workers", cfg.MaxWorkers).
		Msg("sync started")

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, cfg.MaxWorkers)
	progress("sync", 0, len(cfg.Sources))

	for i, spec := range cfg.Sources {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, spec sources.Spec) {
			defer wg.Done()
			defer func() { <-sem }()

			w := worker{cfg: &cfg, key: keys[idx], scratch: scratch, upload: upload}
			rep := w.sync(ctx, spec)

			mu.Lock()
			report.Sources[idx] = rep
			done++
			d := done
			mu.Unlock()
			progress("sync", d, len(cfg.Sources))
		}(i, spec)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	log.Info().
		Str("run", report.ID.String()).
		Int("failed", len(report.Failures())).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("sync finished")
	return report, nil
}

func (cfg *Config) validate() error {
	switch {
	case cfg.OutputDir == "":
		return errors.New("pipeline: output directory is required")
	case cfg.Fetcher == nil:
		return errors.New("pipeline: fetcher is required")
	case cfg.Processor == nil:
		return errors.New("pipeline: processor is required")
	case cfg.Kind != processor.FlattenForIngestion && cfg.Kind != processor.RenderReadmeDocument:
		return fmt.Errorf("pipeline: unsupported process kind %v", cfg.Kind)
	}
	for i, spec := range cfg.Sources {
		if spec == nil {
			return fmt.Errorf("pipeline: source %d is nil", i+1)
		}
	}
	return nil
}

// worker runs one source through the state machine.
type worker struct {
	cfg     *Config
	key     string
	scratch string
	upload  bool
}

func (w *worker) sync(ctx context.Context, spec sources.Spec) SourceReport {
	start := time.Now()
	rep := SourceReport{Spec: spec, Kind: spec.Kind(), Source: spec.String(), Key: w.key}
	logger := log.With().Str("source", spec.String()).Str("key", w.key).Logger()

	st := &tracker{}
	if w.cfg.StateFn != nil {
		st.onChange = func(s State) { w.cfg.StateFn(w.key, s) }
	}
	fail := func(stage Stage, err error) SourceReport {
		st.to(Failed)
		rep.Result = failure(stage, err)
		rep.Duration = time.Since(start)
		logger.Error().Err(err).Stringer("stage", stage).Str("kind", rep.Result.Failure.ErrorKind).Msg("source failed")
		return rep
	}

	if err := ctx.Err(); err != nil {
		return fail(StageFetch, &sources.FetchError{Kind: sources.Timeout, Source: spec.String(), Err: err})
	}

	st.to(Fetching)
	snapDir := filepath.Join(w.scratch, w.key)
	snap, err := w.cfg.Fetcher.Fetch(ctx, spec, snapDir)
	if err != nil {
		return fail(StageFetch, err)
	}
	if w.cfg.WorkDir == "" {
		defer os.RemoveAll(snapDir)
	}
	rep.Revision = snap.Revision
	logger.Info().Str("stage", "fetch").Str("revision", snap.Revision).Msg("fetched")

	st.to(Processing)
	out := filepath.Join(w.cfg.OutputDir, w.key)
	art, err := w.cfg.Processor.Process(snap.Dir, w.cfg.Kind, out)
	if err != nil {
		return fail(StageProcess, err)
	}
	rep.Files = len(art.Files)
	rep.Changes = w.recordManifest(logger, spec, snap, art)
	logger.Info().Str("stage", "process").Int("files", len(art.Files)).Msg("processed")

	if w.upload {
		st.to(Uploading)
		if err := w.cfg.Uploader.Upload(ctx, w.key, art, *w.cfg.Credentials); err != nil {
			return fail(StageUpload, err)
		}
		rep.Uploaded = true
	}

	st.to(Done)
	rep.Result = success(art.Root)
	rep.Duration = time.Since(start)
	return rep
}

// recordManifest diffs the new artifact against the previous run's manifest
// and saves the new one. Failures are logged, never fatal.
func (w *worker) recordManifest(logger zerolog.Logger, spec sources.Spec, snap *sources.Snapshot, art *processor.Artifact) *manifest.ChangeSet {
	prev, err := manifest.Load(w.cfg.OutputDir, w.key)
	if err != nil {
		logger.Warn().Err(err).Msg("previous manifest unreadable, starting fresh")
		prev = manifest.New(w.cfg.OutputDir, w.key)
	}

	cur, err := manifest.Build(w.cfg.OutputDir, w.key, art.Root, art.Files)
	if err != nil {
		logger.Warn().Err(err).Msg("manifest not updated")
		return nil
	}
	cur.Source = spec.String()
	cur.Kind = art.Kind.String()
	cur.Revision = snap.Revision

	changes := cur.Diff(prev)
	if err := cur.Save(); err != nil {
		logger.Warn().Err(err).Msg("manifest not saved")
	}
	if !changes.Empty() {
		logger.Info().
			Int("added", len(changes.Added)).
			Int("modified", len(changes.Modified)).
			Int("removed", len(changes.Removed)).
			Msg("artifact changed")
	}
	return changes
}
