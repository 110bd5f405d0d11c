package talents

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Render converts markdown to plain text: one line per heading,
// paragraph or list item, with code blocks kept verbatim and emphasis,
// links and HTML markup dropped.
func Render(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))
	var lines []string
	renderBlocks(doc, src, &lines)
	return strings.Join(lines, "\n")
}

func renderBlocks(parent ast.Node, src []byte, lines *[]string) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch n := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
			if line := strings.TrimSpace(inlineText(n, src)); line != "" {
				*lines = append(*lines, line)
			}
		case *ast.List:
			renderList(n, src, lines)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			segs := n.Lines()
			for i := range segs.Len() {
				seg := segs.At(i)
				*lines = append(*lines, strings.TrimRight(string(seg.Value(src)), "\r\n"))
			}
		case *ast.Blockquote:
			renderBlocks(n, src, lines)
		}
	}
}

func renderList(list *ast.List, src []byte, lines *[]string) {
	num := list.Start
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		var sub []string
		renderBlocks(item, src, &sub)
		for i, l := range sub {
			if i == 0 {
				*lines = append(*lines, marker+l)
			} else {
				*lines = append(*lines, "  "+l)
			}
		}
	}
}

func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				sb.Write(c.Segment.Value(src))
				if c.SoftLineBreak() || c.HardLineBreak() {
					sb.WriteByte(' ')
				}
			case *ast.String:
				sb.Write(c.Value)
			case *ast.AutoLink:
				sb.Write(c.URL(src))
			case *ast.RawHTML:
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}
