// Package manifest records the content of each produced artifact so reruns
// can report which files were added, modified or removed.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const version = "1"

// FileEntry tracks the hash and size of a single artifact file.
type FileEntry struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Manifest describes one artifact. It lives outside the artifact tree, at
// Path(outputDir, key).
type Manifest struct {
	Version     string               `json:"version"`
	Key         string               `json:"key"`
	Source      string               `json:"source"`
	Kind        string               `json:"kind"`
	Revision    string               `json:"revision,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
	Files       map[string]FileEntry `json:"files"` // keyed by slash-separated relative path
	path        string               // on-disk location (not serialized)
}

// ChangeSet describes what changed since the previous manifest.
type ChangeSet struct {
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// Empty reports whether nothing changed.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Removed) == 0
}

// Path returns where the manifest for key is stored under outputDir.
func Path(outputDir, key string) string {
	return filepath.Join(outputDir, ".llm-bucket", "manifests", key+".json")
}

// New returns an empty manifest for key.
func New(outputDir, key string) *Manifest {
	return &Manifest{
		Version: version,
		Key:     key,
		Files:   make(map[string]FileEntry),
		path:    Path(outputDir, key),
	}
}

// Build hashes the given files of the artifact rooted at root.
func Build(outputDir, key, root string, files []string) (*Manifest, error) {
	m := New(outputDir, key)
	for _, rel := range files {
		hash, size, err := HashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", rel, err)
		}
		m.Files[rel] = FileEntry{Hash: hash, Size: size}
	}
	return m, nil
}

// Load reads the manifest for key. A missing manifest yields an empty one,
// not an error.
func Load(outputDir, key string) (*Manifest, error) {
	p := Path(outputDir, key)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return New(outputDir, key), nil
		}
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal %s: %w", p, err)
	}
	m.path = p
	if m.Files == nil {
		m.Files = make(map[string]FileEntry)
	}
	return &m, nil
}

// Save writes the manifest as JSON, replacing any previous one atomically.
func (m *Manifest) Save() error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: create dir: %w", err)
	}

	m.GeneratedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+m.Key+".*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: write: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: write: %w", err)
	}
	return nil
}

// Diff compares m against the previous manifest. Lists are sorted.
func (m *Manifest) Diff(prev *Manifest) *ChangeSet {
	cs := &ChangeSet{}
	for rel, entry := range m.Files {
		old, ok := prev.Files[rel]
		switch {
		case !ok:
			cs.Added = append(cs.Added, rel)
		case old.Hash != entry.Hash:
			cs.Modified = append(cs.Modified, rel)
		}
	}
	for rel := range prev.Files {
		if _, ok := m.Files[rel]; !ok {
			cs.Removed = append(cs.Removed, rel)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Removed)
	return cs
}

// IsEmpty returns true if no files are tracked in the manifest.
func (m *Manifest) IsEmpty() bool {
	return len(m.Files) == 0
}

// HashFile returns the SHA-256 hex digest and size of the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
