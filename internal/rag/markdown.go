package rag

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Title returns the plain text of the first heading in a markdown
// document, or "" when there is none.
func Title(source []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(source))

	var title strings.Builder
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		collectText(n, source, &title)
		found = true
		return ast.WalkStop, nil
	})
	if !found {
		return ""
	}
	return strings.TrimSpace(title.String())
}

func collectText(n ast.Node, source []byte, sb *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		default:
			collectText(c, source, sb)
		}
	}
}
