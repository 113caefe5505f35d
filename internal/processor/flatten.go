package processor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/divyekant/llm-bucket/internal/scanner"
)

// flatten copies every kept file of the snapshot into dst under the same
// relative path. Output files get fixed permissions so identical input
// yields an identical tree.
func (p *Processor) flatten(snapshotDir, dst string) ([]string, error) {
	files, err := scanner.Walk(snapshotDir, scanner.Options{
		Ignore:           p.opts.Ignore,
		RespectGitignore: p.opts.RespectGitignore,
		SkipBinary:       p.opts.SkipBinary,
	})
	if err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}
	if len(files) == 0 {
		return nil, &ProcessError{Kind: EmptySource, Err: fmt.Errorf("%s has no files after filtering", snapshotDir)}
	}

	rels := make([]string, 0, len(files))
	for _, f := range files {
		target := filepath.Join(dst, filepath.FromSlash(f.RelPath))
		if err := copyFile(f.Path, target); err != nil {
			return nil, &ProcessError{Kind: IOError, Err: fmt.Errorf("copy %s: %w", f.RelPath, err)}
		}
		rels = append(rels, f.RelPath)
	}
	return rels, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
