package citation

import (
	"regexp"
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Source tells where a badge came from.
type Source string

const (
	SourceMarker   Source = "marker"   // inline [3p] / [3페이지] text
	SourceFootnote Source = "footnote" // markdown footnote reference
)

var KindCitationBadge = ast.NewNodeKind("CitationBadge")

// CitationBadge is an inline node standing in for a page reference.
type CitationBadge struct {
	ast.BaseInline
	Page   int
	Source Source
	// Line is the data-line key of the analysis line citing Page, if known.
	Line string
}

func (n *CitationBadge) Kind() ast.NodeKind { return KindCitationBadge }

func (n *CitationBadge) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Page":   strconv.Itoa(n.Page),
		"Source": string(n.Source),
		"Line":   n.Line,
	}, nil)
}

var markerPattern = regexp.MustCompile(`\[(\d+)(?:p|페이지)\]`)

var lineIndexKey = parser.NewContextKey()

// badgeTransformer rewrites page markers in text runs and footnote
// references into CitationBadge nodes.
type badgeTransformer struct{}

func (badgeTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	source := reader.Source()
	var index LineIndex
	if v := pc.Get(lineIndexKey); v != nil {
		index = v.(LineIndex)
	}

	var (
		parents   []ast.Node
		footnotes []*east.FootnoteLink
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindCodeSpan, ast.KindLink, ast.KindAutoLink, ast.KindImage, ast.KindRawHTML:
			return ast.WalkSkipChildren, nil
		case east.KindFootnoteLink:
			footnotes = append(footnotes, n.(*east.FootnoteLink))
			return ast.WalkSkipChildren, nil
		}
		if hasTextChild(n) {
			parents = append(parents, n)
		}
		return ast.WalkContinue, nil
	})

	for _, p := range parents {
		replaceMarkers(p, source, index)
	}
	for _, fn := range footnotes {
		badge := &CitationBadge{Page: fn.Index, Source: SourceFootnote, Line: index.lookup(fn.Index)}
		fn.Parent().ReplaceChild(fn.Parent(), fn, badge)
	}
}

func hasTextChild(n ast.Node) bool {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*ast.Text); ok {
			return true
		}
	}
	return false
}

// replaceMarkers merges runs of adjacent text siblings so markers split by the
// inline parser (goldmark breaks text at '[' and ']') can be matched.
func replaceMarkers(parent ast.Node, source []byte, index LineIndex) {
	var run []*ast.Text
	flush := func() {
		if len(run) > 0 {
			rewriteRun(parent, run, source, index)
		}
		run = nil
	}
	for c := parent.FirstChild(); c != nil; {
		next := c.NextSibling()
		t, ok := c.(*ast.Text)
		if !ok || t.IsRaw() {
			flush()
			c = next
			continue
		}
		if len(run) > 0 {
			last := run[len(run)-1]
			if last.Segment.Stop != t.Segment.Start || last.SoftLineBreak() || last.HardLineBreak() {
				flush()
			}
		}
		run = append(run, t)
		c = next
	}
	flush()
}

func rewriteRun(parent ast.Node, run []*ast.Text, source []byte, index LineIndex) {
	start, stop := run[0].Segment.Start, run[len(run)-1].Segment.Stop
	value := source[start:stop]
	matches := markerPattern.FindAllSubmatchIndex(value, -1)
	if matches == nil {
		return
	}

	var nodes []ast.Node
	cursor := 0
	for _, m := range matches {
		page, err := strconv.Atoi(string(value[m[2]:m[3]]))
		if err != nil || page <= 0 {
			// out of range; the literal text stays
			continue
		}
		if m[0] > cursor {
			nodes = append(nodes, ast.NewTextSegment(text.NewSegment(start+cursor, start+m[0])))
		}
		nodes = append(nodes, &CitationBadge{Page: page, Source: SourceMarker, Line: index.lookup(page)})
		cursor = m[1]
	}
	if len(nodes) == 0 {
		return
	}

	last := run[len(run)-1]
	tail := ast.NewTextSegment(text.NewSegment(start+cursor, stop))
	tail.SetSoftLineBreak(last.SoftLineBreak())
	tail.SetHardLineBreak(last.HardLineBreak())
	if cursor < len(value) || last.SoftLineBreak() || last.HardLineBreak() {
		nodes = append(nodes, tail)
	}

	for _, n := range nodes {
		parent.InsertBefore(parent, run[0], n)
	}
	for _, t := range run {
		parent.RemoveChild(parent, t)
	}
}

type badgeHTMLRenderer struct {
	pageLinks bool
}

func (r *badgeHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindCitationBadge, r.renderBadge)
}

func (r *badgeHTMLRenderer) renderBadge(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*CitationBadge)
	writeBadge(w, n.Page, n.Line, r.pageLinks)
	return ast.WalkContinue, nil
}

// badgeExtension wires the transformer and renderer into a goldmark instance.
type badgeExtension struct {
	pageLinks bool
}

func (e *badgeExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(badgeTransformer{}, 1000),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&badgeHTMLRenderer{pageLinks: e.pageLinks}, 500),
	))
}
