package bucket

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/divyekant/llm-bucket/internal/manifest"
	"github.com/divyekant/llm-bucket/internal/processor"
)

// SubmittedState is the processing state the API reports for an accepted item.
const SubmittedState = "Submitted"

// Upload replaces the external source called name with the artifact's
// files: existing sources with that name are deleted, a new source is
// created and one item is created per file, keyed by its relative path.
// Every item must come back Submitted.
func (c *Client) Upload(ctx context.Context, name string, art *processor.Artifact, creds Credentials) error {
	s := c.Session(creds)
	logger := log.With().Str("source", name).Str("stage", "upload").Logger()

	existing, err := s.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, src := range existing {
		if src.Name != name {
			continue
		}
		if err := s.DeleteSource(ctx, src.ID); err != nil {
			return err
		}
		logger.Debug().Int64("external_source_id", src.ID).Msg("deleted previous external source")
	}

	src, err := s.CreateSource(ctx, name)
	if err != nil {
		return err
	}
	logger.Info().Int64("external_source_id", src.ID).Msg("created external source")

	for _, rel := range art.Files {
		item, err := newItem(art.Root, rel)
		if err != nil {
			return err
		}
		got, err := s.CreateItem(ctx, src.ID, item)
		if err != nil {
			return err
		}
		if got.ProcessingState != SubmittedState {
			return &UploadError{
				Kind: ServerError,
				Op:   "create item " + rel,
				Err:  fmt.Errorf("processing state %q, want %q", got.ProcessingState, SubmittedState),
			}
		}
		logger.Debug().Str("file", rel).Int64("external_item_id", got.ID).Msg("item submitted")
	}

	logger.Info().Int("items", len(art.Files)).Msg("upload complete")
	return nil
}

// newItem reads one artifact file. Content that is not valid UTF-8 (the
// rendered PDF) is sent base64-encoded; the hash is always over raw bytes.
func newItem(root, rel string) (NewItem, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return NewItem{}, &UploadError{Kind: IOError, Op: "read " + rel, Err: err}
	}
	item := NewItem{ContentHash: manifest.HashBytes(data), URL: rel}
	if utf8.Valid(data) {
		item.Content = string(data)
	} else {
		item.Content = base64.StdEncoding.EncodeToString(data)
		item.Encoding = "base64"
	}
	return item, nil
}
