// Package citation renders model markdown to HTML, turning page references
// such as [3p] or [3페이지] and markdown footnote references into citation
// badges.
//
// Badges render as <sup class="citation"> wrapping a button (or an #page=N
// link) with a data-page attribute. When a LineIndex is supplied, each badge
// also carries the data-line key of the analysis line that cites the same
// page, so hovering a badge in chat can highlight its source line.
package citation

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"gwi.com/pdf-assistant/internal/store"
)

var ErrRender = errors.New("citation rendering failed")

type Citation struct {
	Page   int    `json:"page"`
	Source Source `json:"source"`
}

type RichContent struct {
	HTML      string     `json:"html"`
	Citations []Citation `json:"citations"`
}

// Pages returns the cited pages in order of appearance.
func (c RichContent) Pages() []int {
	pages := make([]int, len(c.Citations))
	for i, cit := range c.Citations {
		pages[i] = cit.Page
	}
	return pages
}

// LineIndex maps a page to the data-line key of the first analysis line citing it.
type LineIndex map[int]string

func (idx LineIndex) lookup(page int) string {
	if idx == nil {
		return ""
	}
	return idx[page]
}

func SummaryLineKey(summary, line int) string { return fmt.Sprintf("summary-%d-%d", summary, line) }
func IssueLineKey(line int) string            { return fmt.Sprintf("issue-%d", line) }

// IndexLines builds the page-to-line index for an analysis.
func IndexLines(data *store.AnalysisData) LineIndex {
	idx := LineIndex{}
	if data == nil {
		return idx
	}
	add := func(key string, pages []int) {
		for _, p := range pages {
			if _, ok := idx[p]; !ok {
				idx[p] = key
			}
		}
	}
	for i, s := range data.Summaries {
		for j, line := range s.Lines() {
			add(SummaryLineKey(i, j), line.Pages)
		}
	}
	for j, line := range data.IssueLines() {
		add(IssueLineKey(j), line.Pages)
	}
	return idx
}

type Option func(*Renderer)

// WithPageLinks renders badges as #page=N anchors instead of buttons.
func WithPageLinks() Option {
	return func(r *Renderer) { r.pageLinks = true }
}

type Renderer struct {
	md        goldmark.Markdown
	pageLinks bool
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	r.md = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			&badgeExtension{pageLinks: r.pageLinks},
		),
	)
	return r
}

// Render converts markdown into HTML with citation badges. Raw HTML in the
// input is not passed through.
func (r *Renderer) Render(markdown string, index LineIndex) (RichContent, error) {
	pc := parser.NewContext()
	if index != nil {
		pc.Set(lineIndexKey, index)
	}

	src := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(src), parser.WithContext(pc))

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, src, doc); err != nil {
		return RichContent{}, fmt.Errorf("%w: %v", ErrRender, err)
	}

	citations := []Citation{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if b, ok := n.(*CitationBadge); ok && entering {
			citations = append(citations, Citation{Page: b.Page, Source: b.Source})
		}
		return ast.WalkContinue, nil
	})
	return RichContent{HTML: buf.String(), Citations: citations}, nil
}

// RenderLines renders cited lines as hoverable rows. Each row and each of its
// badges carry the same data-line key. keyFn maps a line position to its key.
func (r *Renderer) RenderLines(lines []store.ReferenceLine, keyFn func(int) string) string {
	var b strings.Builder
	for i, line := range lines {
		key := keyFn(i)
		fmt.Fprintf(&b, `<div class="reference-line" data-line="%s">`, html.EscapeString(key))
		fmt.Fprintf(&b, `<span class="line-index">%d.</span> <span class="line-text">%s</span>`, i+1, html.EscapeString(line.Text))
		for j, page := range line.Pages {
			if j > 0 {
				b.WriteString(`<span class="citation-sep">,</span>`)
			}
			writeBadge(&b, page, key, r.pageLinks)
		}
		b.WriteString("</div>\n")
	}
	return b.String()
}

type RenderedSummary struct {
	Title string `json:"title"`
	HTML  string `json:"html"`
}

type RenderedAnalysis struct {
	Summaries []RenderedSummary `json:"summaries"`
	Issues    string            `json:"issues"`
}

// RenderAnalysis renders every summary and the issue list. Cited bodies
// become hoverable rows; prose bodies go through markdown rendering.
func (r *Renderer) RenderAnalysis(data *store.AnalysisData) (RenderedAnalysis, error) {
	out := RenderedAnalysis{Summaries: []RenderedSummary{}}
	if data == nil {
		return out, nil
	}
	index := IndexLines(data)
	for i, s := range data.Summaries {
		body, err := r.renderBody(s.Body, index, func(j int) string { return SummaryLineKey(i, j) })
		if err != nil {
			return RenderedAnalysis{}, err
		}
		out.Summaries = append(out.Summaries, RenderedSummary{Title: s.Title, HTML: body})
	}
	issues, err := r.renderBody(data.Issues, index, IssueLineKey)
	if err != nil {
		return RenderedAnalysis{}, err
	}
	out.Issues = issues
	return out, nil
}

func (r *Renderer) renderBody(body store.Body, index LineIndex, keyFn func(int) string) (string, error) {
	switch b := body.(type) {
	case store.Cited:
		return r.RenderLines(b, keyFn), nil
	case store.Prose:
		rich, err := r.Render(string(b), index)
		if err != nil {
			return "", err
		}
		return rich.HTML, nil
	}
	return "", nil
}

type stringWriter interface {
	WriteString(s string) (int, error)
}

func writeBadge(w stringWriter, page int, line string, pageLinks bool) {
	p := strconv.Itoa(page)
	attrs := ` class="citation-badge" data-page="` + p + `"`
	if line != "" {
		attrs += ` data-line="` + html.EscapeString(line) + `"`
	}
	_, _ = w.WriteString(`<sup class="citation">`)
	if pageLinks {
		_, _ = w.WriteString(`<a href="#page=` + p + `"` + attrs + `>` + p + `</a>`)
	} else {
		_, _ = w.WriteString(`<button type="button"` + attrs + `>` + p + `</button>`)
	}
	_, _ = w.WriteString(`</sup>`)
}
