package processor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	pdflib "github.com/ledongthuc/pdf"
)

// ReadmeFile is the name of the rendered document inside the artifact.
const ReadmeFile = "README.pdf"

// maxPages caps the rendered document size.
const maxPages = 2000

// readmeNames lists the accepted top-level README names in priority order.
// Matching is case-insensitive.
var readmeNames = []string{"readme.md", "readme.markdown", "readme.txt", "readme.rst", "readme"}

// fixedDate is stamped into every document so renders are reproducible.
var fixedDate = time.Unix(0, 0).UTC()

// findReadme returns the path of the snapshot's top-level README, or "" when
// there is none.
func findReadme(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	byLower := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		lower := strings.ToLower(e.Name())
		// ReadDir is sorted, so the first spelling wins on case-only clashes.
		if _, seen := byLower[lower]; !seen {
			byLower[lower] = e.Name()
		}
	}
	for _, name := range readmeNames {
		if actual, ok := byLower[name]; ok {
			return filepath.Join(dir, actual), nil
		}
	}
	return "", nil
}

func (p *Processor) renderReadme(snapshotDir, dst string) ([]string, error) {
	path, err := findReadme(snapshotDir)
	if err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}
	if path == "" {
		return nil, &ProcessError{Kind: MissingReadme, Err: fmt.Errorf("no README in %s", snapshotDir)}
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}
	doc, err := RenderDocument(string(text), p.opts.Layout)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dst, ReadmeFile), doc, 0o644); err != nil {
		return nil, &ProcessError{Kind: IOError, Err: err}
	}
	return []string{ReadmeFile}, nil
}

// RenderDocument lays text out on pages of the given layout in a monospace
// font and returns the PDF bytes. The page count of the result is read back
// and checked against the layout before returning.
func RenderDocument(text string, layout PageLayout) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, &ProcessError{Kind: RenderError, Err: fmt.Errorf("document is not valid UTF-8")}
	}
	text = strings.TrimPrefix(text, "\ufeff")

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: layout.PageWidth, Ht: layout.PageHeight},
	})
	pdf.SetCreationDate(fixedDate)
	pdf.SetModificationDate(fixedDate)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(layout.Margin, layout.Margin, layout.Margin)
	pdf.SetAutoPageBreak(false, layout.Margin)
	pdf.SetFont("Courier", "", layout.FontSize)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	cols := int(layout.UsableWidth() / pdf.GetStringWidth("M"))
	pages := paginate(wrapText(text, cols), layout.LinesPerPage())
	if len(pages) > maxPages {
		return nil, &ProcessError{Kind: RenderError, Err: fmt.Errorf("document needs %d pages, limit is %d", len(pages), maxPages)}
	}

	// Baseline sits three quarters down each line box.
	baseline := layout.LineHeight * 0.75
	for _, page := range pages {
		pdf.AddPage()
		for i, line := range page {
			if line == "" {
				continue
			}
			pdf.Text(layout.Margin, layout.Margin+float64(i)*layout.LineHeight+baseline, tr(line))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, &ProcessError{Kind: RenderError, Err: err}
	}

	got, err := countPages(buf.Bytes())
	if err != nil {
		return nil, &ProcessError{Kind: RenderError, Err: fmt.Errorf("read back: %w", err)}
	}
	if got != len(pages) {
		return nil, &ProcessError{Kind: RenderError, Err: fmt.Errorf("rendered %d pages, laid out %d", got, len(pages))}
	}
	return buf.Bytes(), nil
}

// countPages parses a PDF and returns its page count.
func countPages(doc []byte) (int, error) {
	r, err := pdflib.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
