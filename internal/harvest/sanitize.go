package harvest

import "strings"

// Pagination artifacts left in captured output. Escape-prefixed forms come first
// so the bare forms never leave a stray ESC byte behind.
var artifacts = []string{
	"\x1b[0mMore: <space>,  Quit: q or CTRL+Z, One line: <return>",
	"[0mMore: <space>,  Quit: q or CTRL+Z, One line: <return>",
	"\x1b[42D",
	"[42D",
	"---- More ----",
}

// Sanitize strips pagination banners and cursor control fragments, collapses blank lines
// and trims the result. Sanitize(Sanitize(x)) == Sanitize(x) for every x.
func Sanitize(text string) string {
	for {
		out := sanitizeOnce(text)
		if out == text {
			return out
		}
		text = out
	}
}

func sanitizeOnce(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, a := range artifacts {
		text = strings.ReplaceAll(text, a, "")
	}
	for strings.Contains(text, "\n\n") {
		text = strings.ReplaceAll(text, "\n\n", "\n")
	}
	return strings.TrimSpace(text)
}
