// Package gitclone wraps the git command line: cloning a repository at a
// reference into a directory and classifying why git failed.
package gitclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Reason classifies a git failure.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNotFound
	ReasonAuth
	ReasonNetwork
	ReasonInvalid
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonAuth:
		return "authentication failed"
	case ReasonNetwork:
		return "network error"
	case ReasonInvalid:
		return "invalid input"
	}
	return "unknown"
}

// Error is returned when git (or the GitHub API) rejects an operation.
type Error struct {
	Op     string
	Reason Reason
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gitclone: %s: %s: %v", e.Op, e.Reason, e.Err)
	if line := lastLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CloneOptions configures a git clone operation.
type CloneOptions struct {
	URL string
	// Reference is a branch, tag or commit. Empty leaves the remote HEAD.
	Reference string
	Token     string
	// Depth > 0 makes a shallow clone of Reference, which must then be a
	// branch or tag.
	Depth int
	// Dest is the clone target. Empty clones into a fresh temp directory.
	Dest string
}

// CloneResult holds the result of a successful clone.
type CloneResult struct {
	Dir     string
	Commit  string
	Cleanup func()
}

// IsGitURL returns true if the input looks like a Git URL rather than a local path.
func IsGitURL(input string) bool {
	if input == "" {
		return false
	}
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://", "file://", "git@"} {
		if strings.HasPrefix(input, prefix) {
			return true
		}
	}
	return false
}

// ParseRepoName extracts the repository name from a Git URL.
func ParseRepoName(gitURL string) string {
	if strings.HasPrefix(gitURL, "git@") {
		parts := strings.SplitN(gitURL, ":", 2)
		if len(parts) == 2 {
			name := filepath.Base(parts[1])
			return strings.TrimSuffix(name, ".git")
		}
	}
	u, err := url.Parse(gitURL)
	if err != nil {
		return filepath.Base(gitURL)
	}
	name := filepath.Base(u.Path)
	return strings.TrimSuffix(name, ".git")
}

// ParseOwnerRepo extracts owner and repo name from a GitHub URL.
// Returns ("", "") if the URL is not a recognized GitHub URL.
func ParseOwnerRepo(gitURL string) (owner, repo string) {
	if strings.HasPrefix(gitURL, "git@github.com:") {
		path := strings.TrimPrefix(gitURL, "git@github.com:")
		path = strings.TrimSuffix(path, ".git")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return "", ""
	}
	u, err := url.Parse(gitURL)
	if err != nil || u.Host != "github.com" {
		return "", ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
		return parts[0], parts[1]
	}
	return "", ""
}

// Clone clones opts.URL and checks out opts.Reference. Dest, when set, must
// not exist or be empty.
func Clone(ctx context.Context, opts CloneOptions) (*CloneResult, error) {
	if opts.URL == "" {
		return nil, &Error{Op: "clone", Reason: ReasonInvalid, Err: errors.New("URL is required")}
	}
	if !IsGitURL(opts.URL) {
		return nil, &Error{Op: "clone", Reason: ReasonInvalid, Err: fmt.Errorf("not a git URL: %q", opts.URL)}
	}
	if strings.HasPrefix(opts.Reference, "-") {
		return nil, &Error{Op: "clone", Reason: ReasonInvalid, Err: fmt.Errorf("invalid reference %q", opts.Reference)}
	}

	dest := opts.Dest
	cleanup := func() {}
	if dest == "" {
		tmpDir, err := os.MkdirTemp("", "llm-bucket-clone-*")
		if err != nil {
			return nil, fmt.Errorf("gitclone: create temp dir: %w", err)
		}
		dest = tmpDir
		cleanup = func() { os.RemoveAll(tmpDir) }
	}

	args := []string{"clone", "--quiet"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
		if opts.Reference != "" {
			args = append(args, "--branch", opts.Reference)
		}
	}
	args = append(args, "--", withToken(opts.URL, opts.Token), dest)

	if _, err := git(ctx, "clone", "", opts.Token, args...); err != nil {
		cleanup()
		return nil, err
	}

	if opts.Depth == 0 && opts.Reference != "" {
		if _, err := git(ctx, "checkout", dest, opts.Token, "checkout", "--quiet", opts.Reference, "--"); err != nil {
			cleanup()
			return nil, err
		}
	}

	commit, err := git(ctx, "rev-parse", dest, opts.Token, "rev-parse", "HEAD")
	if err != nil {
		cleanup()
		return nil, err
	}

	return &CloneResult{Dir: dest, Commit: strings.TrimSpace(commit), Cleanup: cleanup}, nil
}

// withToken injects an access token into https URLs.
func withToken(rawURL, token string) string {
	if token == "" || !strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}

// git runs one git command. dir, when set, is passed as -C.
func git(ctx context.Context, op, dir, token string, args ...string) (string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("gitclone: git %s: %w", op, ctxErr)
		}
		msg := stderr.String()
		if token != "" {
			msg = strings.ReplaceAll(msg, token, "***")
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", &Error{Op: op, Reason: ReasonInvalid, Err: err}
		}
		return "", &Error{Op: op, Reason: Classify(msg), Stderr: msg, Err: err}
	}
	return stdout.String(), nil
}

var (
	authMarkers = []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"permission denied",
		"returned error: 401",
		"returned error: 403",
		"access denied",
	}
	notFoundMarkers = []string{
		"repository not found",
		"not found in upstream",
		"does not exist",
		"does not appear to be a git repository",
		"did not match any",
		"unknown revision",
		"couldn't find remote ref",
		"returned error: 404",
		"not a valid object name",
		"invalid reference",
	}
	networkMarkers = []string{
		"could not resolve host",
		"timed out",
		"connection refused",
		"connection reset",
		"unable to access",
		"early eof",
		"network is unreachable",
	}
)

// Classify maps git's stderr to a failure reason.
func Classify(stderr string) Reason {
	s := strings.ToLower(stderr)
	switch {
	case containsAny(s, authMarkers):
		return ReasonAuth
	case containsAny(s, notFoundMarkers):
		return ReasonNotFound
	case containsAny(s, networkMarkers):
		return ReasonNetwork
	}
	return ReasonUnknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
