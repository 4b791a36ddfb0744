// Package outbound implements §4.I: chunking, markdown degradation, media
// delivery, and per-channel fallback policies.
package outbound

import (
	"regexp"
	"strings"
)

// Default per-channel chunk limits from §6.
const (
	DingTalkChunkLimit = 4000
	QQChunkLimit       = 1500
	WeComChunkLimit    = 2048
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	headingRe   = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)
	boldRe      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*`)
	strikeRe    = regexp.MustCompile(`~~([^~]+)~~`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	imageRe     = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]*)\)`)
	quoteRe     = regexp.MustCompile(`(?m)^>\s?(.*)$`)
	ruleRe      = regexp.MustCompile(`(?m)^(-{3,}|\*{3,}|_{3,})$`)

	tableRowRe = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)
	tableSepRe = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
)

// StripMarkdown degrades a Markdown document to plain text for
// WeCom-family and markdown-unsupported QQ accounts. The transform order
// (code → heading → emphasis → strike → lists → inline code → link →
// image → table → quote → rule → whitespace) is idempotent:
// StripMarkdown(StripMarkdown(x)) == StripMarkdown(x).
func StripMarkdown(text string) string {
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := codeBlockRe.FindStringSubmatch(m)
		lang, body := sub[1], sub[2]
		lines := strings.Split(strings.Trim(body, "\n"), "\n")
		label := ""
		if lang != "" {
			label = "[" + lang + "]\n"
		}
		indented := make([]string, len(lines))
		for i, l := range lines {
			indented[i] = "    " + l
		}
		return label + strings.Join(indented, "\n")
	})

	text = headingRe.ReplaceAllString(text, "【$2】")
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = strikeRe.ReplaceAllString(text, "$1")
	text = stripListMarkers(text)
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1 ($2)")
	text = imageRe.ReplaceAllString(text, "[image: $1]")
	text = convertTablesToPadded(text)
	text = quoteRe.ReplaceAllString(text, "$1")
	text = ruleRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var listMarkerRe = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
var orderedListRe = regexp.MustCompile(`(?m)^(\s*)\d+\.\s+`)

func stripListMarkers(text string) string {
	text = listMarkerRe.ReplaceAllString(text, "$1- ")
	text = orderedListRe.ReplaceAllString(text, "$1")
	return text
}

// convertTablesToPadded rewrites GFM tables as padded-column text, the
// "bullets"-adjacent degradation used when a platform cannot render
// Markdown tables at all.
func convertTablesToPadded(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	i := 0
	for i < len(lines) {
		if tableRowRe.MatchString(lines[i]) && i+1 < len(lines) && tableSepRe.MatchString(lines[i+1]) {
			start := i
			rows := [][]string{splitRow(lines[i])}
			i += 2
			for i < len(lines) && tableRowRe.MatchString(lines[i]) {
				rows = append(rows, splitRow(lines[i]))
				i++
			}
			out = append(out, renderPaddedTable(rows)...)
			_ = start
			continue
		}
		out = append(out, lines[i])
		i++
	}
	return strings.Join(out, "\n")
}

func splitRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	cells := strings.Split(trimmed, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func renderPaddedTable(rows [][]string) []string {
	widths := make([]int, 0)
	for _, row := range rows {
		for i, cell := range row {
			for len(widths) <= i {
				widths = append(widths, 0)
			}
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, cell := range row {
			parts[i] = padRight(cell, widths[i])
		}
		out = append(out, strings.Join(parts, "  "))
	}
	return out
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// BulletizeTables converts Markdown tables to bullet lists, the "bullets"
// chunk mode from §4.I used when a platform renders neither GFM tables nor
// padded columns usefully.
func BulletizeTables(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	i := 0
	for i < len(lines) {
		if tableRowRe.MatchString(lines[i]) && i+1 < len(lines) && tableSepRe.MatchString(lines[i+1]) {
			header := splitRow(lines[i])
			i += 2
			for i < len(lines) && tableRowRe.MatchString(lines[i]) {
				row := splitRow(lines[i])
				var b strings.Builder
				b.WriteString("- ")
				for j, cell := range row {
					if j > 0 {
						b.WriteString("; ")
					}
					label := ""
					if j < len(header) {
						label = header[j]
					}
					if label != "" {
						b.WriteString(label + ": ")
					}
					b.WriteString(cell)
				}
				out = append(out, b.String())
				i++
			}
			continue
		}
		out = append(out, lines[i])
		i++
	}
	return strings.Join(out, "\n")
}
