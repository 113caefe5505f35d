package processor

import (
	"strings"
	"unicode/utf8"
)

// PageLayout is the fixed geometry of a rendered README page. Lengths are in
// millimetres, FontSize in points.
type PageLayout struct {
	PageWidth  float64
	PageHeight float64
	Margin     float64
	FontSize   float64
	LineHeight float64
}

// A4 portrait, 20 mm margins, Courier 10 pt on a 5 mm line pitch.
var A4 = PageLayout{
	PageWidth:  210,
	PageHeight: 297,
	Margin:     20,
	FontSize:   10,
	LineHeight: 5,
}

const tabWidth = 4

// UsableWidth is the text width between the left and right margins.
func (l PageLayout) UsableWidth() float64 { return l.PageWidth - 2*l.Margin }

// LinesPerPage is how many lines fit between the top and bottom margins.
func (l PageLayout) LinesPerPage() int {
	n := int((l.PageHeight - 2*l.Margin) / l.LineHeight)
	if n < 1 {
		return 1
	}
	return n
}

// wrapText breaks text into lines of at most width characters. Words are
// never split unless a single word is wider than a line, in which case it is
// broken at the width. Blank lines and leading indentation are kept; tabs
// expand to four spaces.
func wrapText(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\t", strings.Repeat(" ", tabWidth))
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		lines = append(lines, wrapLine(para, width)...)
	}
	return lines
}

func wrapLine(line string, width int) []string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{""}
	}

	indent := line[:len(line)-len(strings.TrimLeft(line, " "))]
	if utf8.RuneCountInString(indent) >= width/2 {
		indent = ""
	}
	indentLen := utf8.RuneCountInString(indent)

	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		out = append(out, cur.String())
		cur.Reset()
		curLen = 0
	}
	start := func() {
		cur.WriteString(indent)
		curLen = indentLen
	}

	start()
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		switch {
		case curLen > indentLen && curLen+1+wl <= width:
			cur.WriteByte(' ')
			cur.WriteString(w)
			curLen += 1 + wl
		case curLen == indentLen && curLen+wl <= width:
			cur.WriteString(w)
			curLen += wl
		default:
			if curLen > indentLen {
				flush()
				start()
			}
			// Hard-break a word that cannot fit on a line of its own.
			for indentLen+wl > width {
				cut := width - indentLen
				head, rest := splitRunes(w, cut)
				cur.WriteString(head)
				flush()
				start()
				w, wl = rest, wl-cut
			}
			cur.WriteString(w)
			curLen += wl
		}
	}
	if curLen > indentLen || len(out) == 0 {
		flush()
	}
	return out
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

// paginate groups lines into pages of at most perPage lines, keeping order.
// An empty document still yields one (blank) page.
func paginate(lines []string, perPage int) [][]string {
	if perPage < 1 {
		perPage = 1
	}
	if len(lines) == 0 {
		return [][]string{{}}
	}
	pages := make([][]string, 0, (len(lines)+perPage-1)/perPage)
	for len(lines) > 0 {
		n := min(perPage, len(lines))
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}
	return pages
}
