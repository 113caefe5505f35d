package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	confluenceBatchSize = 100
	maxPageNameLen      = 180
)

// --- Confluence API types ---

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Ancestors []struct {
		Title string `json:"title"`
	} `json:"ancestors"`
}

type confluenceContentResponse struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// fetchConfluence writes the space description to space.json and every page
// of the space to its own markdown file, named by the page's ancestor titles
// joined with "__".
func (f *Fetcher) fetchConfluence(ctx context.Context, s ConfluenceSpec, dest string) error {
	src := s.String()

	base, err := url.Parse(strings.TrimRight(s.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fetchErr(InvalidSpec, src, "base_url %q is not an http(s) URL", s.BaseURL)
	}
	if strings.TrimSpace(s.SpaceKey) == "" {
		return fetchErr(InvalidSpec, src, "space_key is required")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &FetchError{Kind: IOError, Source: src, Err: err}
	}
	root := base.String()
	auth := f.confluenceAuth()

	space, err := f.get(ctx, src, root+"/rest/api/space/"+url.PathEscape(s.SpaceKey), auth)
	if err != nil {
		return err
	}
	if err := writeFile(src, filepath.Join(dest, "space.json"), space); err != nil {
		return err
	}

	used := map[string]bool{"space.json": true}
	limit := f.opts.ConfluencePageLimit
	count := 0
	for start := 0; count < limit; {
		q := url.Values{}
		q.Set("spaceKey", s.SpaceKey)
		q.Set("type", "page")
		q.Set("limit", strconv.Itoa(min(confluenceBatchSize, limit-count)))
		q.Set("start", strconv.Itoa(start))
		q.Set("expand", "body.storage,ancestors")

		body, err := f.get(ctx, src, root+"/rest/api/content?"+q.Encode(), auth)
		if err != nil {
			return err
		}
		var resp confluenceContentResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fetchErr(NetworkError, src, "decode content page at %d: %v", start, err)
		}

		for _, p := range resp.Results {
			if count >= limit {
				break
			}
			name := uniquePageName(pageFileName(p), p.ID, used)
			if err := writeFile(src, filepath.Join(dest, name), renderPage(p)); err != nil {
				return err
			}
			count++
		}

		if len(resp.Results) == 0 || resp.Links.Next == "" {
			break
		}
		start += len(resp.Results)
	}

	log.Debug().Str("source", src).Int("pages", count).Msg("confluence space fetched")
	return nil
}

// confluenceAuth uses basic auth for Atlassian Cloud (email + API token) and
// a bearer token when only a personal access token is configured.
func (f *Fetcher) confluenceAuth() func(*http.Request) {
	email, token := f.opts.ConfluenceEmail, f.opts.ConfluenceToken
	switch {
	case email != "" && token != "":
		return func(r *http.Request) { r.SetBasicAuth(email, token) }
	case token != "":
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
	return nil
}

func pageFileName(p confluencePage) string {
	parts := make([]string, 0, len(p.Ancestors)+1)
	for _, a := range p.Ancestors {
		parts = append(parts, titleSegment(a.Title))
	}
	parts = append(parts, titleSegment(p.Title))
	name := strings.Join(parts, "__")
	if len(name) > maxPageNameLen {
		name = strings.TrimRight(name[:maxPageNameLen], "_")
	}
	return name
}

func titleSegment(title string) string {
	if s := sanitize(title); s != "" {
		return s
	}
	return "untitled"
}

// uniquePageName appends the page ID when two pages share a title path.
func uniquePageName(base, id string, used map[string]bool) string {
	name := base + ".md"
	if used[name] {
		name = base + "_" + sanitize(id) + ".md"
	}
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s_%s_%d.md", base, sanitize(id), i)
	}
	used[name] = true
	return name
}

func renderPage(p confluencePage) []byte {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(strings.TrimSpace(p.Title))
	b.WriteString("\n\n")
	if md := htmlToMarkdown(p.Body.Storage.Value); md != "" {
		b.WriteString(md)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
