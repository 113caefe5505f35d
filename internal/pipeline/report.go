package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/divyekant/llm-bucket/internal/manifest"
	"github.com/divyekant/llm-bucket/internal/sources"
)

// Failure records which stage failed and why.
type Failure struct {
	Stage     Stage  `json:"stage"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"error"`
	Err       error  `json:"-"`
}

// SyncResult is either a success carrying the artifact path or a Failure.
// It is never modified once recorded.
type SyncResult struct {
	ArtifactPath string   `json:"artifact_path,omitempty"`
	Failure      *Failure `json:"failure,omitempty"`
}

// Success reports whether the source completed every stage.
func (r SyncResult) Success() bool { return r.Failure == nil }

func success(path string) SyncResult { return SyncResult{ArtifactPath: path} }

func failure(stage Stage, err error) SyncResult {
	return SyncResult{Failure: &Failure{
		Stage:     stage,
		ErrorKind: errorKind(err),
		Message:   err.Error(),
		Err:       err,
	}}
}

// errorKind extracts the kind name from the typed stage errors.
func errorKind(err error) string {
	var k interface{ ErrorKind() string }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return "Unknown"
}

// SourceReport is the outcome for one configured source.
type SourceReport struct {
	Spec     sources.Spec        `json:"spec"`
	Kind     sources.Kind        `json:"kind"`
	Source   string              `json:"source"`
	Key      string              `json:"key"`
	Result   SyncResult          `json:"result"`
	Revision string              `json:"revision,omitempty"`
	Files    int                 `json:"files,omitempty"`
	Uploaded bool                `json:"uploaded"`
	Changes  *manifest.ChangeSet `json:"changes,omitempty"`
	Duration time.Duration       `json:"duration_ns"`
}

// RunReport holds one SourceReport per configured source, in
// configuration order.
type RunReport struct {
	ID         uuid.UUID      `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
}

// Failures returns the failed sources in configuration order.
func (r *RunReport) Failures() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if !s.Result.Success() {
			out = append(out, s)
		}
	}
	return out
}

// OK reports whether every source succeeded.
func (r *RunReport) OK() bool { return len(r.Failures()) == 0 }
