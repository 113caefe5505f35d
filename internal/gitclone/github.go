package gitclone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// DefaultAPITimeout bounds a single GitHub API request.
const DefaultAPITimeout = 30 * time.Second

// RefResolver checks GitHub references through the REST API before cloning,
// so a missing repository or ref is reported precisely instead of being
// guessed from git's stderr.
type RefResolver struct {
	gh *gh.Client
}

// NewRefResolver returns a resolver authenticated with token. apiURL
// overrides the API endpoint (GitHub Enterprise or tests); empty uses
// api.github.com.
func NewRefResolver(token, apiURL string) (*RefResolver, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultAPITimeout
	client := gh.NewClient(tc)

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("gitclone: parse GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}
	return &RefResolver{gh: client}, nil
}

// Resolve returns the commit SHA that ref points to in the GitHub repository
// named by repoURL.
func (r *RefResolver) Resolve(ctx context.Context, repoURL, ref string) (string, error) {
	owner, repo := ParseOwnerRepo(repoURL)
	if owner == "" {
		return "", &Error{Op: "resolve", Reason: ReasonInvalid, Err: fmt.Errorf("not a GitHub repository URL: %q", repoURL)}
	}

	sha, resp, err := r.gh.Repositories.GetCommitSHA1(ctx, owner, repo, ref, "")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("gitclone: resolve %s/%s@%s: %w", owner, repo, ref, ctxErr)
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &Error{Op: "resolve", Reason: statusReason(status), Err: fmt.Errorf("%s/%s@%s: %w", owner, repo, ref, err)}
	}
	return sha, nil
}

func statusReason(status int) Reason {
	switch status {
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return ReasonNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuth
	}
	return ReasonNetwork
}
