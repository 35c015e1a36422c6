package docformat

import (
	"strconv"
	"strings"
)

// ToMarkdown renders blocks as markdown. Consecutive list items of the same
// kind form one tight list; other blocks are separated by a blank line.
func ToMarkdown(blocks []Block) string {
	var sb strings.Builder
	writeBlocks(&sb, blocks, "")
	return strings.TrimRight(sb.String(), "\n")
}

func writeBlocks(sb *strings.Builder, blocks []Block, indent string) {
	number := 0
	for i, b := range blocks {
		if i > 0 {
			if sameList(blocks[i-1], b) {
				sb.WriteString("\n")
			} else {
				sb.WriteString("\n\n")
			}
		}

		if b.Type == TypeNumberedItem {
			number++
		} else {
			number = 0
		}

		writeBlock(sb, b, indent, number)
	}
}

func sameList(prev, next Block) bool {
	if !isListItem(prev) || !isListItem(next) {
		return false
	}
	if prev.Type == next.Type {
		return true
	}
	// Bullets and checkboxes share the "-" marker.
	return prev.Type != TypeNumberedItem && next.Type != TypeNumberedItem
}

func isListItem(b Block) bool {
	switch b.Type {
	case TypeBulletItem, TypeNumberedItem, TypeCheckItem:
		return true
	}
	return false
}

func writeBlock(sb *strings.Builder, b Block, indent string, number int) {
	text := renderInlines(b.Content)

	switch b.Type {
	case TypeHeading:
		level := b.Props.Level
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		sb.WriteString(indent)
		sb.WriteString(strings.Repeat("#", level))
		sb.WriteString(" ")
		sb.WriteString(strings.ReplaceAll(text, "\n", " "))
	case TypeBulletItem, TypeNumberedItem, TypeCheckItem:
		marker := "- "
		switch b.Type {
		case TypeNumberedItem:
			marker = strconv.Itoa(max(number, 1)) + ". "
		case TypeCheckItem:
			if b.Props.Checked {
				marker = "- [x] "
			} else {
				marker = "- [ ] "
			}
		}
		childIndent := indent + strings.Repeat(" ", len(marker))
		if b.Type == TypeCheckItem {
			childIndent = indent + "  "
		}
		sb.WriteString(indent)
		sb.WriteString(marker)
		sb.WriteString(strings.ReplaceAll(text, "\n", "\n"+childIndent))
		if len(b.Children) > 0 {
			sb.WriteString("\n")
			writeBlocks(sb, b.Children, childIndent)
		}
		return
	case TypeQuote:
		sb.WriteString(indent)
		sb.WriteString("> ")
		sb.WriteString(strings.ReplaceAll(text, "\n", "\n"+indent+"> "))
	case TypeCodeBlock:
		code := b.Text()
		fence := codeFence(code)
		sb.WriteString(indent)
		sb.WriteString(fence)
		sb.WriteString(b.Props.Language)
		sb.WriteString("\n")
		for _, line := range strings.Split(code, "\n") {
			sb.WriteString(indent)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString(indent)
		sb.WriteString(fence)
	default:
		sb.WriteString(indent)
		sb.WriteString(strings.ReplaceAll(text, "\n", "\n"+indent))
	}

	if len(b.Children) > 0 {
		sb.WriteString("\n\n")
		writeBlocks(sb, b.Children, indent)
	}
}

func codeFence(code string) string {
	longest, run := 0, 0
	for _, r := range code {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}

func renderInlines(in []Inline) string {
	var sb strings.Builder
	for _, i := range in {
		if i.Type == InlineLink {
			sb.WriteString("[")
			sb.WriteString(renderInlines(i.Content))
			sb.WriteString("](")
			sb.WriteString(i.Href)
			sb.WriteString(")")
			continue
		}
		sb.WriteString(renderText(i.Text, i.Styles))
	}
	return escapeLineStarts(sb.String())
}

func renderText(text string, st Styles) string {
	if text == "" {
		return ""
	}

	core := strings.TrimSpace(text)
	if core == "" {
		return text
	}
	lead := text[:strings.Index(text, core)]
	trail := text[len(lead)+len(core):]

	if st.Code {
		core = codeSpan(core)
	} else {
		core = escapeInline(core)
	}
	if st.Italic {
		core = "*" + core + "*"
	}
	if st.Bold {
		core = "**" + core + "**"
	}
	if st.Strike {
		core = "~~" + core + "~~"
	}
	return lead + core + trail
}

func codeSpan(text string) string {
	if !strings.Contains(text, "`") {
		return "`" + text + "`"
	}
	return "`` " + text + " ``"
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"~", `\~`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
)

func escapeInline(text string) string {
	return inlineEscaper.Replace(text)
}

// escapeLineStarts keeps paragraph lines from being read as block syntax.
func escapeLineStarts(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = escapeLineStart(line)
	}
	return strings.Join(lines, "\n")
}

func escapeLineStart(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	pad := line[:len(line)-len(trimmed)]
	if trimmed == "" {
		return line
	}

	switch trimmed[0] {
	case '#', '>', '=':
		return pad + `\` + trimmed
	case '-', '+':
		if len(trimmed) == 1 || trimmed[1] == ' ' {
			return pad + `\` + trimmed
		}
		return line
	}

	digits := 0
	for digits < len(trimmed) && trimmed[digits] >= '0' && trimmed[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(trimmed) && (trimmed[digits] == '.' || trimmed[digits] == ')') {
		return pad + trimmed[:digits] + `\` + trimmed[digits:]
	}
	return line
}
