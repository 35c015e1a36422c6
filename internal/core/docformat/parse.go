package docformat

import (
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.TaskList),
)

// FromMarkdown parses markdown into blocks. Constructs without a block
// equivalent degrade to paragraphs holding their source text.
func FromMarkdown(md string) (blocks []Block) {
	if strings.TrimSpace(md) == "" {
		return []Block{}
	}

	defer func() {
		if r := recover(); r != nil {
			blocks = []Block{Paragraph(md)}
		}
	}()

	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))

	c := converter{src: src}
	blocks = c.blocks(doc)
	if len(blocks) == 0 {
		return []Block{Paragraph(md)}
	}
	return blocks
}

type converter struct {
	src []byte
}

func (c converter) blocks(parent ast.Node) []Block {
	out := []Block{}
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, c.block(n)...)
	}
	return out
}

func (c converter) block(n ast.Node) []Block {
	switch node := n.(type) {
	case *ast.Heading:
		return []Block{c.newBlock(TypeHeading, Props{Level: node.Level}, c.inlines(node, Styles{}))}
	case *ast.Paragraph, *ast.TextBlock:
		return []Block{c.newBlock(TypeParagraph, Props{}, c.inlines(node, Styles{}))}
	case *ast.List:
		return c.list(node)
	case *ast.Blockquote:
		var quotes []Block
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				quotes = append(quotes, c.newBlock(TypeQuote, Props{}, c.inlines(child, Styles{})))
			default:
				quotes = append(quotes, c.block(child)...)
			}
		}
		return quotes
	case *ast.FencedCodeBlock:
		return []Block{c.code(node, string(node.Language(c.src)))}
	case *ast.CodeBlock:
		return []Block{c.code(node, "")}
	case *ast.ThematicBreak:
		return nil
	default:
		raw := strings.TrimRight(c.lines(n), "\n")
		if raw == "" {
			return nil
		}
		return []Block{c.newBlock(TypeParagraph, Props{}, []Inline{{Type: InlineText, Text: raw}})}
	}
}

func (c converter) list(list *ast.List) []Block {
	var items []Block
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		kind := TypeBulletItem
		if list.IsOrdered() {
			kind = TypeNumberedItem
		}

		var (
			props    Props
			content  []Inline
			children []Block
		)
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				if content != nil {
					children = append(children, c.block(child)...)
					continue
				}
				if box, ok := child.FirstChild().(*extast.TaskCheckBox); ok {
					kind = TypeCheckItem
					props.Checked = box.IsChecked
				}
				content = c.inlines(child, Styles{})
				if content == nil {
					content = []Inline{}
				}
			default:
				children = append(children, c.block(child)...)
			}
		}

		b := c.newBlock(kind, props, content)
		b.Children = children
		items = append(items, b)
	}
	return items
}

func (c converter) code(n ast.Node, language string) Block {
	code := strings.TrimSuffix(c.lines(n), "\n")
	b := c.newBlock(TypeCodeBlock, Props{Language: language}, nil)
	if code != "" {
		b.Content = []Inline{{Type: InlineText, Text: code}}
	}
	return b
}

func (c converter) lines(n ast.Node) string {
	lines := n.Lines()
	if lines == nil {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(c.src))
	}
	return sb.String()
}

func (c converter) newBlock(kind string, props Props, content []Inline) Block {
	return Block{
		ID:      uuid.NewString(),
		Type:    kind,
		Props:   props,
		Content: content,
	}
}

func (c converter) inlines(parent ast.Node, st Styles) []Inline {
	var out []Inline
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = appendInlines(out, c.inline(n, st)...)
	}

	// Task list markers leave a separating space on the first run.
	if _, ok := parent.FirstChild().(*extast.TaskCheckBox); ok && len(out) > 0 && out[0].Type == InlineText {
		out[0].Text = strings.TrimLeft(out[0].Text, " ")
		if out[0].Text == "" {
			out = out[1:]
		}
	}
	return out
}

func (c converter) inline(n ast.Node, st Styles) []Inline {
	switch node := n.(type) {
	case *ast.Text:
		value := string(util.UnescapePunctuations(node.Segment.Value(c.src)))
		if node.SoftLineBreak() || node.HardLineBreak() {
			value += "\n"
		}
		return []Inline{{Type: InlineText, Text: value, Styles: st}}
	case *ast.String:
		return []Inline{{Type: InlineText, Text: string(node.Value), Styles: st}}
	case *ast.Emphasis:
		next := st
		if node.Level >= 2 {
			next.Bold = true
		} else {
			next.Italic = true
		}
		return c.inlines(node, next)
	case *extast.Strikethrough:
		next := st
		next.Strike = true
		return c.inlines(node, next)
	case *ast.CodeSpan:
		next := st
		next.Code = true
		var sb strings.Builder
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch t := child.(type) {
			case *ast.Text:
				sb.Write(t.Segment.Value(c.src))
			case *ast.String:
				sb.Write(t.Value)
			}
		}
		return []Inline{{Type: InlineText, Text: sb.String(), Styles: next}}
	case *ast.Link:
		return []Inline{{Type: InlineLink, Href: string(node.Destination), Content: c.inlines(node, st)}}
	case *ast.AutoLink:
		url := string(node.URL(c.src))
		return []Inline{{Type: InlineLink, Href: url, Content: []Inline{{Type: InlineText, Text: url, Styles: st}}}}
	case *ast.Image:
		return c.inlines(node, st)
	case *ast.RawHTML:
		var sb strings.Builder
		for i := 0; i < node.Segments.Len(); i++ {
			seg := node.Segments.At(i)
			sb.Write(seg.Value(c.src))
		}
		return []Inline{{Type: InlineText, Text: sb.String(), Styles: st}}
	case *extast.TaskCheckBox:
		return nil
	default:
		return c.inlines(n, st)
	}
}

// appendInlines merges adjacent text runs that carry the same styles.
func appendInlines(out []Inline, in ...Inline) []Inline {
	for _, i := range in {
		if i.Type == InlineText && i.Text == "" {
			continue
		}
		if n := len(out); n > 0 && i.Type == InlineText && out[n-1].Type == InlineText && out[n-1].Styles == i.Styles {
			out[n-1].Text += i.Text
			continue
		}
		out = append(out, i)
	}
	return out
}
