package sources

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/divyekant/llm-bucket/internal/gitclone"
)

// fetchGit clones the repository into dest and checks out s.Reference.
// GitHub repositories are preflighted through the API when a
// token is configured. Returns the checked-out commit.
func (f *Fetcher) fetchGit(ctx context.Context, s GitSpec, dest string) (string, error) {
	if !gitclone.IsGitURL(s.RepoURL) {
		return "", fetchErr(InvalidSpec, s.String(), "repo_url %q is not a git URL", s.RepoURL)
	}
	ref := s.ref()

	var token string
	if owner, _ := gitclone.ParseOwnerRepo(s.RepoURL); owner != "" {
		token = f.opts.GitHubToken
		if f.refs != nil {
			sha, err := f.refs.Resolve(ctx, s.RepoURL, ref)
			if err != nil {
				return "", err
			}
			log.Debug().Str("source", s.String()).Str("sha", sha).Msg("reference resolved")
		}
	}

	res, err := gitclone.Clone(ctx, gitclone.CloneOptions{
		URL:       s.RepoURL,
		Reference: ref,
		Token:     token,
		Depth:     f.opts.GitDepth,
		Dest:      dest,
	})
	if err != nil {
		return "", err
	}
	return res.Commit, nil
}
