// Package processor turns a fetched snapshot into the artifact that gets
// stored and uploaded. The processing kinds form a closed set dispatched in
// Processor.Process.
package processor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Kind selects a processing strategy. One kind applies to a whole run.
type Kind int

const (
	// FlattenForIngestion copies the snapshot minus VCS metadata and
	// ignored paths, preserving relative paths.
	FlattenForIngestion Kind = iota + 1
	// RenderReadmeDocument renders the snapshot's top-level README to a
	// paginated PDF.
	RenderReadmeDocument
)

// Canonical configuration names.
const (
	flattenName = "FlattenFiles"
	readmeName  = "ReadmeToPDF"
)

func (k Kind) String() string {
	switch k {
	case FlattenForIngestion:
		return flattenName
	case RenderReadmeDocument:
		return readmeName
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the canonical names and their historical aliases,
// case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flattenfiles", "flatten_files", "flatten":
		return FlattenForIngestion, nil
	case "readmetopdf", "readme_to_pdf", "readme2pdf":
		return RenderReadmeDocument, nil
	}
	return 0, fmt.Errorf("processor: unknown process kind %q (want %s or %s)", s, flattenName, readmeName)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Options configures both strategies.
type Options struct {
	// Ignore holds .gitignore-syntax patterns excluded from flattened output.
	Ignore []string
	// RespectGitignore applies the snapshot's root .gitignore when flattening.
	RespectGitignore bool
	// SkipBinary leaves binary files out of flattened output.
	SkipBinary bool
	// Layout is the README page geometry. The zero value means A4.
	Layout PageLayout
}

// Artifact is the processed output for one source.
type Artifact struct {
	Root string `json:"root"`
	Kind Kind   `json:"kind"`
	// Files lists the artifact's files relative to Root, slash-separated.
	Files []string `json:"files"`
}

// Processor applies a processing kind to snapshots. It holds no mutable
// state and is safe for concurrent use.
type Processor struct {
	opts Options
}

// New returns a processor configured with opts.
func New(opts Options) *Processor {
	if opts.Layout == (PageLayout{}) {
		opts.Layout = A4
	}
	return &Processor{opts: opts}
}

// Process builds the artifact for snapshotDir at out. The artifact is
// assembled in a staging directory next to out and swapped into place only
// on success, so a failed run never leaves partial output and never touches
// any path other than out.
func (p *Processor) Process(snapshotDir string, kind Kind, out string) (*Artifact, error) {
	if kind != FlattenForIngestion && kind != RenderReadmeDocument {
		return nil, &ProcessError{Kind: IOError, Err: fmt.Errorf("unsupported process kind %v", kind)}
	}
	if fi, err := os.Stat(snapshotDir); err != nil || !fi.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", snapshotDir)
		}
		return nil, &ProcessError{Kind: IOError, Err: fmt.Errorf("snapshot: %w", err)}
	}

	parent := filepath.Dir(out)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(out)+".staging-*")
	if err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0o755); err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}

	var files []string
	switch kind {
	case FlattenForIngestion:
		files, err = p.flatten(snapshotDir, staging)
	case RenderReadmeDocument:
		files, err = p.renderReadme(snapshotDir, staging)
	}
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(out); err != nil {
		return nil, &ProcessError{Kind: IOError, Err: fmt.Errorf("replace %s: %w", out, err)}
	}
	if err := os.Rename(staging, out); err != nil {
		return nil, &ProcessError{Kind: IOError, Err: fmt.Errorf("replace %s: %w", out, err)}
	}

	log.Debug().Str("out", out).Stringer("kind", kind).Int("files", len(files)).Msg("artifact written")
	return &Artifact{Root: out, Kind: kind, Files: files}, nil
}

// ProcessErrorKind classifies a processing failure.
type ProcessErrorKind int

const (
	IOError ProcessErrorKind = iota + 1
	EmptySource
	MissingReadme
	RenderError
)

func (k ProcessErrorKind) String() string {
	switch k {
	case IOError:
		return "IOError"
	case EmptySource:
		return "EmptySource"
	case MissingReadme:
		return "MissingReadme"
	case RenderError:
		return "RenderError"
	}
	return fmt.Sprintf("ProcessErrorKind(%d)", int(k))
}

// Sentinels for errors.Is against a *ProcessError.
var (
	ErrIO            = errors.New("processor: i/o error")
	ErrEmptySource   = errors.New("processor: no files left after filtering")
	ErrMissingReadme = errors.New("processor: no README found")
	ErrRender        = errors.New("processor: render failed")
)

// ProcessError is returned by Process for every failure.
type ProcessError struct {
	Kind ProcessErrorKind
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("processor: %s: %v", e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool {
	switch e.Kind {
	case IOError:
		return target == ErrIO
	case EmptySource:
		return target == ErrEmptySource
	case MissingReadme:
		return target == ErrMissingReadme
	case RenderError:
		return target == ErrRender
	}
	return false
}

// ErrorKind names the failure class for run reports.
func (e *ProcessError) ErrorKind() string { return e.Kind.String() }
