package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// extractMarkdown strips markup and keeps every block as its own paragraph
func extractMarkdown(data []byte) ([]string, error) {
	doc := markdown.Parser().Parse(text.NewReader(data))

	var (
		out   strings.Builder
		block strings.Builder
	)
	closeBlock := func() {
		if b := strings.TrimSpace(block.String()); b != "" {
			if out.Len() > 0 {
				out.WriteString("\n\n")
			}
			out.WriteString(b)
		}
		block.Reset()
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				block.Write(node.Segment.Value(data))
				if node.SoftLineBreak() || node.HardLineBreak() {
					block.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				block.Write(node.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					block.Write(seg.Value(data))
				}
				closeBlock()
				return ast.WalkSkipChildren, nil
			}
		case *east.TableCell:
			if !entering {
				block.WriteString("\t")
			}
		case *east.TableRow, *east.TableHeader:
			if !entering {
				block.WriteString("\n")
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *east.Table:
			if !entering {
				closeBlock()
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	closeBlock()
	return []string{out.String()}, nil
}
