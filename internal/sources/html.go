package sources

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// htmlToMarkdown converts Confluence storage-format HTML into plain markdown.
// It covers headings, paragraphs, lists, emphasis, links, code and tables as
// rows of cells; unknown elements (including Confluence macros) contribute
// only their text.
func htmlToMarkdown(src string) string {
	nodes, err := html.ParseFragment(strings.NewReader(src), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(src)
	}

	c := &mdConverter{}
	for _, n := range nodes {
		c.node(n)
	}

	lines := strings.Split(c.b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

type mdConverter struct {
	b     strings.Builder
	last  byte
	lists []listState
	pre   int
}

type listState struct {
	ordered bool
	n       int
}

func (c *mdConverter) write(s string) {
	if s == "" {
		return
	}
	c.b.WriteString(s)
	c.last = s[len(s)-1]
}

func (c *mdConverter) block() { c.write("\n\n") }

func (c *mdConverter) children(n *html.Node) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.node(ch)
	}
}

func (c *mdConverter) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		c.text(n.Data)
		return
	case html.ElementNode:
	default:
		c.children(n)
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head:
		return
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		c.block()
		c.write(strings.Repeat("#", level) + " ")
		c.children(n)
		c.block()
	case atom.P, atom.Div, atom.Section, atom.Blockquote, atom.Table:
		c.block()
		c.children(n)
		c.block()
	case atom.Tr:
		c.write("\n|")
		c.children(n)
	case atom.Td, atom.Th:
		c.write(" ")
		c.children(n)
		c.write(" |")
	case atom.Br:
		c.write("\n")
	case atom.Hr:
		c.block()
		c.write("---")
		c.block()
	case atom.Ul, atom.Ol:
		c.lists = append(c.lists, listState{ordered: n.DataAtom == atom.Ol})
		c.write("\n")
		c.children(n)
		c.lists = c.lists[:len(c.lists)-1]
		c.write("\n")
	case atom.Li:
		c.listItem(n)
	case atom.Strong, atom.B:
		c.wrap(n, "**")
	case atom.Em, atom.I:
		c.wrap(n, "_")
	case atom.Code:
		if c.pre > 0 {
			c.children(n)
		} else {
			c.wrap(n, "`")
		}
	case atom.Pre:
		c.pre++
		c.block()
		c.write("```\n")
		c.children(n)
		c.write("\n```")
		c.block()
		c.pre--
	case atom.A:
		href := attr(n, "href")
		if href == "" {
			c.children(n)
			return
		}
		c.write("[")
		c.children(n)
		c.write("](" + href + ")")
	default:
		c.children(n)
	}
}

func (c *mdConverter) listItem(n *html.Node) {
	depth := len(c.lists)
	marker := "- "
	if depth > 0 {
		top := &c.lists[depth-1]
		if top.ordered {
			top.n++
			marker = strconv.Itoa(top.n) + ". "
		}
	} else {
		depth = 1
	}
	c.write("\n" + strings.Repeat("  ", depth-1) + marker)
	c.children(n)
}

func (c *mdConverter) wrap(n *html.Node, mark string) {
	c.write(mark)
	c.children(n)
	c.write(mark)
}

func (c *mdConverter) text(s string) {
	if c.pre > 0 {
		c.write(s)
		return
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			c.space()
		}
		return
	}
	if isSpace(s[0]) {
		c.space()
	}
	c.write(strings.Join(fields, " "))
	if isSpace(s[len(s)-1]) {
		c.write(" ")
	}
}

// space writes a single separator unless the output already ends in whitespace.
func (c *mdConverter) space() {
	if c.last == 0 || isSpace(c.last) {
		return
	}
	c.write(" ")
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
