package channels

import (
	"regexp"
	"strings"
)

var (
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	boldPattern     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	linkPattern     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	hrulePattern    = regexp.MustCompile(`(?m)^\s*(?:-\s*){3,}$|^\s*(?:\*\s*){3,}$|^\s*(?:_\s*){3,}$`)
	multiNewlines   = regexp.MustCompile(`\n{3,}`)
	numberedListFix = regexp.MustCompile(`(?m)^(\s*)(\d+)\.\s+`)
)

// NormalizeMarkdown flattens the agent's markdown output for chat surfaces
// that render plain text. Headings become bold-ish plain lines, links become
// "text (url)", and horizontal rules disappear.
func NormalizeMarkdown(s string) string {
	out := headingPattern.ReplaceAllString(s, "")
	out = boldPattern.ReplaceAllString(out, "$1")
	out = linkPattern.ReplaceAllStringFunc(out, func(m string) string {
		parts := linkPattern.FindStringSubmatch(m)
		if len(parts) != 3 || parts[1] == parts[2] {
			return parts[1]
		}
		return parts[1] + " (" + parts[2] + ")"
	})
	out = hrulePattern.ReplaceAllString(out, "")
	out = numberedListFix.ReplaceAllString(out, "$1$2. ")
	out = multiNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
