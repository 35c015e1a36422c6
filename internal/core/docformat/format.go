// Package docformat converts goal content between the structured block
// format used by the web editor and markdown.
//
// Content is classified by Detect: a string is structured when, after
// trimming whitespace, it is a JSON array that decodes into blocks that
// all name a type; "[]" is an empty structured document. Anything else, including the empty
// string and JSON that merely looks like an array, is markdown prose.
// Conversions never fail; input that cannot be interpreted becomes a
// single paragraph block holding the raw text.
package docformat

// Format identifies how a content string is encoded.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatBlocks   Format = "blocks"
)

// Detect classifies content as block JSON or markdown.
func Detect(content string) Format {
	if _, ok := decodeBlocks(content); ok {
		return FormatBlocks
	}
	return FormatMarkdown
}

// Project returns the markdown view of content in either format.
func Project(content string) string {
	blocks, ok := decodeBlocks(content)
	if !ok {
		return content
	}
	return ToMarkdown(blocks)
}

// Render converts markdown into the target format.
func Render(markdown string, target Format) string {
	if target != FormatBlocks {
		return markdown
	}
	return EncodeBlocks(FromMarkdown(markdown))
}
