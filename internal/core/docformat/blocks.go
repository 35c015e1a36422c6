package docformat

import (
	"encoding/json"
	"strings"
)

// Block kinds.
const (
	TypeParagraph    = "paragraph"
	TypeHeading      = "heading"
	TypeBulletItem   = "bulletListItem"
	TypeNumberedItem = "numberedListItem"
	TypeCheckItem    = "checkListItem"
	TypeQuote        = "quote"
	TypeCodeBlock    = "codeBlock"
)

// Inline kinds.
const (
	InlineText = "text"
	InlineLink = "link"
)

// Block is one structured editor block.
type Block struct {
	ID       string   `json:"id,omitempty"`
	Type     string   `json:"type"`
	Props    Props    `json:"props,omitzero"`
	Content  []Inline `json:"content,omitempty"`
	Children []Block  `json:"children,omitempty"`
}

// Props carries the block attributes this package understands.
type Props struct {
	Level    int    `json:"level,omitempty"`
	Checked  bool   `json:"checked,omitempty"`
	Language string `json:"language,omitempty"`
}

// Inline is a run of text, or a link wrapping runs of text.
type Inline struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Styles  Styles   `json:"styles,omitzero"`
	Href    string   `json:"href,omitempty"`
	Content []Inline `json:"content,omitempty"`
}

// Styles are the inline marks.
type Styles struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
	Code   bool `json:"code,omitempty"`
	Strike bool `json:"strike,omitempty"`
}

// Text returns the plain text of the block's inline content.
func (b Block) Text() string {
	return inlineText(b.Content)
}

func inlineText(in []Inline) string {
	var sb strings.Builder
	for _, i := range in {
		if i.Type == InlineLink {
			sb.WriteString(inlineText(i.Content))
			continue
		}
		sb.WriteString(i.Text)
	}
	return sb.String()
}

// ParseBlocks decodes block JSON. Content that is not block JSON becomes a
// single paragraph holding the raw text.
func ParseBlocks(content string) []Block {
	if blocks, ok := decodeBlocks(content); ok {
		return blocks
	}
	return []Block{Paragraph(content)}
}

// EncodeBlocks serializes blocks to JSON.
func EncodeBlocks(blocks []Block) string {
	if blocks == nil {
		blocks = []Block{}
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Paragraph builds a paragraph holding unstyled text.
func Paragraph(text string) Block {
	b := Block{Type: TypeParagraph}
	if text != "" {
		b.Content = []Inline{{Type: InlineText, Text: text}}
	}
	return b
}

func decodeBlocks(content string) ([]Block, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, false
	}

	blocks := []Block{}
	if err := json.Unmarshal([]byte(trimmed), &blocks); err != nil {
		return nil, false
	}
	if !typed(blocks) {
		return nil, false
	}
	return blocks, true
}

func typed(blocks []Block) bool {
	for _, b := range blocks {
		if b.Type == "" {
			return false
		}
		if !typed(b.Children) {
			return false
		}
	}
	return true
}
