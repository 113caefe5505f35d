package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConfluence serves one space with the given pages, paginated by the
// request's start/limit parameters.
func fakeConfluence(t *testing.T, pages []confluencePage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "me@example.com" || pass != "api-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/wiki/rest/api/space/ENG":
			fmt.Fprint(w, `{"key":"ENG","name":"Engineering"}`)
		case "/wiki/rest/api/content":
			assert.Equal(t, "ENG", r.URL.Query().Get("spaceKey"))
			start, _ := strconv.Atoi(r.URL.Query().Get("start"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			end := min(start+limit, len(pages))
			var resp confluenceContentResponse
			if start < len(pages) {
				resp.Results = pages[start:end]
			}
			resp.Size = len(resp.Results)
			if end < len(pages) {
				resp.Links.Next = fmt.Sprintf("/rest/api/content?start=%d", end)
			}
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func page(id, title, body string, ancestors ...string) confluencePage {
	var p confluencePage
	p.ID = id
	p.Title = title
	p.Body.Storage.Value = body
	for _, a := range ancestors {
		p.Ancestors = append(p.Ancestors, struct {
			Title string `json:"title"`
		}{Title: a})
	}
	return p
}

func TestFetch_Confluence(t *testing.T) {
	srv := fakeConfluence(t, []confluencePage{
		page("1", "Home", "<p>Welcome <strong>team</strong></p>"),
		page("2", "Runbooks", "<h2>On call</h2><ul><li>page</li><li>fix</li></ul>", "Home"),
		page("3", "Deploy: prod", "<p>steps</p>", "Home", "Runbooks"),
	})
	defer srv.Close()

	f := newTestFetcher(t, Options{ConfluenceEmail: "me@example.com", ConfluenceToken: "api-token"})
	dest := filepath.Join(t.TempDir(), "snap")

	_, err := f.Fetch(context.Background(), ConfluenceSpec{BaseURL: srv.URL + "/wiki/", SpaceKey: "ENG"}, dest)
	require.NoError(t, err)

	space, err := os.ReadFile(filepath.Join(dest, "space.json"))
	require.NoError(t, err)
	assert.Contains(t, string(space), "Engineering")

	home, err := os.ReadFile(filepath.Join(dest, "Home.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Home\n\nWelcome **team**\n", string(home))

	runbooks, err := os.ReadFile(filepath.Join(dest, "Home__Runbooks.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Runbooks\n\n## On call\n\n- page\n- fix\n", string(runbooks))

	assert.FileExists(t, filepath.Join(dest, "Home__Runbooks__Deploy_prod.md"))
}

func TestFetch_ConfluencePagination(t *testing.T) {
	var pages []confluencePage
	for i := 0; i < 250; i++ {
		pages = append(pages, page(strconv.Itoa(i), fmt.Sprintf("Page %03d", i), "<p>x</p>"))
	}
	srv := fakeConfluence(t, pages)
	defer srv.Close()

	spec := ConfluenceSpec{BaseURL: srv.URL + "/wiki", SpaceKey: "ENG"}

	t.Run("all pages", func(t *testing.T) {
		f := newTestFetcher(t, Options{ConfluenceEmail: "me@example.com", ConfluenceToken: "api-token"})
		dest := filepath.Join(t.TempDir(), "snap")
		_, err := f.Fetch(context.Background(), spec, dest)
		require.NoError(t, err)

		entries, err := os.ReadDir(dest)
		require.NoError(t, err)
		assert.Len(t, entries, 251) // pages + space.json
	})

	t.Run("page limit", func(t *testing.T) {
		f := newTestFetcher(t, Options{ConfluenceEmail: "me@example.com", ConfluenceToken: "api-token", ConfluencePageLimit: 120})
		dest := filepath.Join(t.TempDir(), "snap")
		_, err := f.Fetch(context.Background(), spec, dest)
		require.NoError(t, err)

		entries, err := os.ReadDir(dest)
		require.NoError(t, err)
		assert.Len(t, entries, 121)
		assert.FileExists(t, filepath.Join(dest, "Page_119.md"))
		assert.NoFileExists(t, filepath.Join(dest, "Page_120.md"))
	})
}

func TestFetch_ConfluenceErrors(t *testing.T) {
	srv := fakeConfluence(t, nil)
	defer srv.Close()

	good := Options{ConfluenceEmail: "me@example.com", ConfluenceToken: "api-token"}
	tests := []struct {
		name string
		opts Options
		spec ConfluenceSpec
		want error
	}{
		{"bad credentials", Options{ConfluenceEmail: "me@example.com", ConfluenceToken: "wrong"}, ConfluenceSpec{BaseURL: srv.URL + "/wiki", SpaceKey: "ENG"}, ErrAuthFailure},
		{"missing space", good, ConfluenceSpec{BaseURL: srv.URL + "/wiki", SpaceKey: "NOPE"}, ErrNotFound},
		{"bad base url", good, ConfluenceSpec{BaseURL: "ftp://wiki", SpaceKey: "ENG"}, ErrInvalidSpec},
		{"empty space key", good, ConfluenceSpec{BaseURL: srv.URL + "/wiki"}, ErrInvalidSpec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, tt.opts)
			dest := filepath.Join(t.TempDir(), "snap")
			_, err := f.Fetch(context.Background(), tt.spec, dest)
			assert.ErrorIs(t, err, tt.want)
			assert.NoDirExists(t, dest)
		})
	}
}

func TestUniquePageName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "FAQ.md", uniquePageName("FAQ", "10", used))
	assert.Equal(t, "FAQ_11.md", uniquePageName("FAQ", "11", used))
	assert.Equal(t, "FAQ_11_2.md", uniquePageName("FAQ", "11", used))
}

func TestHTMLToMarkdown(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"paragraphs", "<p>one</p><p>two</p>", "one\n\ntwo"},
		{"heading", "<h3>Title</h3><p>body</p>", "### Title\n\nbody"},
		{"ordered list", "<ol><li>a</li><li>b</li></ol>", "1. a\n2. b"},
		{"link", `<p>see <a href="https://x.test">docs</a></p>`, "see [docs](https://x.test)"},
		{"inline code", "<p>run <code>make</code></p>", "run `make`"},
		{"pre", "<pre>line 1\n  line 2</pre>", "```\nline 1\n  line 2\n```"},
		{"entities", "<p>a &amp; b &lt;c&gt;</p>", "a & b <c>"},
		{"script dropped", "<p>x</p><script>alert(1)</script>", "x"},
		{"macro text kept", `<ac:structured-macro ac:name="info"><ac:rich-text-body><p>note</p></ac:rich-text-body></ac:structured-macro>`, "note"},
		{"line break", "<p>a<br/>b</p>", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, htmlToMarkdown(tt.in))
		})
	}
}
