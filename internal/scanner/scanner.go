// Package scanner walks a fetched snapshot and lists the files worth keeping:
// version-control metadata, ignored paths and (optionally) binary files are
// left out.
package scanner

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo holds metadata about a single scanned file.
type FileInfo struct {
	Path    string // absolute path
	RelPath string // slash-separated, relative to scan root
	Size    int64
}

// Options controls what Walk leaves out beyond VCS metadata.
type Options struct {
	// Ignore holds extra patterns in .gitignore syntax, applied after the
	// snapshot's own .gitignore.
	Ignore []string
	// RespectGitignore applies the root .gitignore of the snapshot.
	RespectGitignore bool
	// SkipBinary leaves out files detected as binary.
	SkipBinary bool
}

// Version-control metadata directories, skipped at any depth.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
	".bzr": true,
}

// binaryExtensions is a set of file extensions that are always considered binary.
var binaryExtensions = map[string]bool{
	".pyc": true, ".pyo": true, ".o": true, ".so": true, ".dylib": true,
	".dll": true, ".exe": true, ".wasm": true, ".class": true, ".jar": true,
	".war": true, ".onnx": true, ".bin": true, ".dat": true, ".db": true,
	".sqlite": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".ico": true, ".webp": true, ".pdf": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true,
	".pptx": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".7z": true, ".rar": true, ".mp3": true, ".mp4": true, ".avi": true,
	".mov": true, ".wav": true, ".ttf": true, ".woff": true, ".woff2": true,
	".eot": true,
}

// IsBinary reports whether a file looks binary. It checks the extension
// first, then looks for a NUL byte in the first 512 bytes of content.
func IsBinary(name string, content []byte) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if binaryExtensions[ext] {
		return true
	}
	check := content
	if len(check) > 512 {
		check = check[:512]
	}
	for _, b := range check {
		if b == 0 {
			return true
		}
	}
	return false
}

// readHeader reads up to n bytes from the beginning of a file.
func readHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	nr, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:nr], nil
}

// Walk returns the regular files under root in walk order, which is lexical
// within each directory, so the result is stable across runs. Symlinks and other non-regular files are skipped. Any
// error reading the tree is returned; a partial listing is never returned.
func Walk(root string, opts Options) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: %s is not a directory", root)
	}

	ignorer := &gitignorer{}
	if opts.RespectGitignore {
		if ignorer, err = loadGitignore(filepath.Join(root, ".gitignore")); err != nil {
			return nil, fmt.Errorf("scanner: %w", err)
		}
	}
	ignorer.add(opts.Ignore...)

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if vcsDirs[d.Name()] || ignorer.isIgnored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ignorer.isIgnored(rel, false) {
			return nil
		}

		if opts.SkipBinary {
			header, err := readHeader(path, 512)
			if err != nil {
				return err
			}
			if IsBinary(d.Name(), header) {
				return nil
			}
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: path, RelPath: rel, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", root, err)
	}
	return files, nil
}
