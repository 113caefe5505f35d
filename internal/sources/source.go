// Package sources describes the external systems a sync run can pull from and
// materializes each of them as a local snapshot directory. The set of source
// kinds is closed: every variant of Spec is handled by an exhaustive switch in
// Fetcher.Fetch.
package sources

import "fmt"

// Kind tags a source variant.
type Kind string

const (
	KindGit        Kind = "git"
	KindConfluence Kind = "confluence"
	KindSlack      Kind = "slack"
)

// DefaultReference is checked out when a git source names no reference.
const DefaultReference = "main"

// Spec identifies one configured source. Implementations are immutable value
// types; the unexported method keeps the variant set closed to this package.
type Spec interface {
	Kind() Kind
	// Locator returns the fields that identify the source, in a fixed order.
	Locator() []string
	String() string
	sealed()
}

// GitSpec is a repository plus the reference (branch, tag or commit) to check out.
type GitSpec struct {
	RepoURL   string `json:"repo_url"`
	Reference string `json:"reference"`
}

// NewGit returns a git spec, defaulting the reference to DefaultReference.
func NewGit(repoURL, reference string) GitSpec {
	if reference == "" {
		reference = DefaultReference
	}
	return GitSpec{RepoURL: repoURL, Reference: reference}
}

func (GitSpec) Kind() Kind          { return KindGit }
func (s GitSpec) Locator() []string { return []string{s.RepoURL, s.ref()} }
func (s GitSpec) String() string    { return fmt.Sprintf("git %s@%s", s.RepoURL, s.ref()) }
func (GitSpec) sealed()             {}

func (s GitSpec) ref() string {
	if s.Reference == "" {
		return DefaultReference
	}
	return s.Reference
}

// ConfluenceSpec is a single Confluence space.
type ConfluenceSpec struct {
	BaseURL  string `json:"base_url"`
	SpaceKey string `json:"space_key"`
}

func (ConfluenceSpec) Kind() Kind          { return KindConfluence }
func (s ConfluenceSpec) Locator() []string { return []string{s.BaseURL, s.SpaceKey} }
func (s ConfluenceSpec) String() string    { return fmt.Sprintf("confluence %s/%s", s.BaseURL, s.SpaceKey) }
func (ConfluenceSpec) sealed()             {}

// SlackSpec is a single Slack channel.
type SlackSpec struct {
	ChannelID string `json:"channel_id"`
}

func (SlackSpec) Kind() Kind          { return KindSlack }
func (s SlackSpec) Locator() []string { return []string{s.ChannelID} }
func (s SlackSpec) String() string    { return "slack " + s.ChannelID }
func (SlackSpec) sealed()             {}

var (
	_ Spec = GitSpec{}
	_ Spec = ConfluenceSpec{}
	_ Spec = SlackSpec{}
)

// Snapshot is a source's raw content materialized under Dir. The pipeline
// stage holding it owns the directory.
type Snapshot struct {
	Spec Spec
	Dir  string
	// Revision identifies the fetched content when the source has one
	// (the resolved commit for git).
	Revision string
}
