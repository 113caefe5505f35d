package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divyekant/llm-bucket/internal/pipeline"
	"github.com/divyekant/llm-bucket/internal/sources"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(started time.Time) *pipeline.RunReport {
	git := sources.NewGit("https://example.com/a.git", "")
	slack := sources.SlackSpec{ChannelID: "C1"}
	return &pipeline.RunReport{
		ID:         uuid.New(),
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Sources: []pipeline.SourceReport{
			{
				Spec: git, Kind: git.Kind(), Source: git.String(), Key: sources.NameFor(git),
				Result:   pipeline.SyncResult{ArtifactPath: "/out/" + sources.NameFor(git)},
				Revision: "abc123", Files: 4, Uploaded: true,
			},
			{
				Spec: slack, Kind: slack.Kind(), Source: slack.String(), Key: sources.NameFor(slack),
				Result: pipeline.SyncResult{Failure: &pipeline.Failure{
					Stage: pipeline.StageFetch, ErrorKind: "AuthFailure", Message: "no token", Err: errors.New("no token"),
				}},
			},
		},
	}
}

func TestRecordAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	r := sampleReport(started)

	require.NoError(t, s.Record(ctx, r))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r.ID.String(), runs[0].ID)
	assert.True(t, runs[0].StartedAt.Equal(started))
	assert.Equal(t, 2, runs[0].Total)
	assert.Equal(t, 1, runs[0].Failed)

	rows, err := s.Sources(ctx, r.ID.String())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 0, rows[0].Position)
	assert.True(t, rows[0].Success)
	assert.True(t, rows[0].Uploaded)
	assert.Equal(t, "git", rows[0].Kind)
	assert.Equal(t, "abc123", rows[0].Revision)
	assert.Equal(t, 4, rows[0].Files)
	assert.Empty(t, rows[0].Stage)

	assert.False(t, rows[1].Success)
	assert.Equal(t, "Fetch", rows[1].Stage)
	assert.Equal(t, "AuthFailure", rows[1].ErrorKind)
	assert.Equal(t, "no token", rows[1].Error)
	assert.Empty(t, rows[1].ArtifactPath)
}

func TestRecent_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		r := sampleReport(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, s.Record(ctx, r))
		ids = append(ids, r.ID.String())
	}

	runs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[3], runs[1].ID)
	assert.Equal(t, ids[2], runs[2].ID)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var oldest string
	for i := 0; i < 3; i++ {
		r := sampleReport(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, s.Record(ctx, r))
		if i == 0 {
			oldest = r.ID.String()
		}
	}

	require.NoError(t, s.Prune(ctx, 2))
	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	rows, err := s.Sources(ctx, oldest)
	require.NoError(t, err)
	assert.Empty(t, rows, "source rows cascade with their run")
}

func TestRecord_Duplicate(t *testing.T) {
	s := openTestStore(t)
	r := sampleReport(time.Now())
	require.NoError(t, s.Record(context.Background(), r))
	assert.Error(t, s.Record(context.Background(), r))

	runs, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecord_Nil(t *testing.T) {
	assert.Error(t, openTestStore(t).Record(context.Background(), nil))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), sampleReport(time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
	runs, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
