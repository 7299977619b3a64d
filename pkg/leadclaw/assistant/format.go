// Package assistant – format.go post-processes agent replies for delivery.
// The remote agent emits lightweight Markdown plus bracketed citation
// markers; outgoing messages use Telegram-style HTML markup.
package assistant

import (
	"regexp"
)

var (
	// citationPattern matches the agent's inline citation markers, e.g.
	// 【4:0†source】. Stripped entirely before other transforms so marker
	// contents cannot interfere with link boundaries.
	citationPattern = regexp.MustCompile(`【.*?】`)

	// boldPattern matches **bold** spans.
	boldPattern = regexp.MustCompile(`\*\*(.*?)\*\*`)

	// linkPattern matches [label](url) spans.
	linkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^\)]+)\)`)
)

// FormatReply converts a raw agent reply into channel HTML.
// Citation stripping runs first; bold and link conversion are independent.
// Text outside the transformed spans passes through untouched.
func FormatReply(text string) string {
	text = citationPattern.ReplaceAllString(text, "")
	text = boldPattern.ReplaceAllString(text, "<b>$1</b>")
	text = linkPattern.ReplaceAllString(text, `<a href="$2">$1</a>`)
	return text
}
