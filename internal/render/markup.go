package render

import (
	"html"
	"regexp"
	"strings"
)

var (
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	boldRe        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldAltRe     = regexp.MustCompile(`__([^_]+)__`)
	italicRe      = regexp.MustCompile(`(^|[\s(])\*([^*\n]+)\*`)
	italicAltRe   = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	zeroWidthRuns = strings.NewReplacer("\u200b", "", "\u200c", "", "\ufeff", "")
)

// ToHTML cleans engine text artifacts and converts the constrained Markdown
// subset (bold, italic, links) to Telegram HTML. All other characters are
// escaped, so the result is always safe to send with HTML parse mode.
func ToHTML(text string) string {
	text = cleanArtifacts(text)
	text = html.EscapeString(text)
	text = linkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldAltRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "$1<i>$2</i>")
	text = italicAltRe.ReplaceAllString(text, "$1<i>$2</i>")
	return strings.TrimSpace(text)
}

// cleanArtifacts normalizes line endings, strips zero-width characters the
// engine occasionally leaks into completions, and bounds blank runs.
func cleanArtifacts(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = zeroWidthRuns.Replace(text)
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return text
}
