package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameLength = 80

// asciiFold decomposes accented characters and strips the combining marks so
// probed titles collapse to plain ASCII before filesystem-unsafe characters
// are filtered out.
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// AttachmentFilename builds a Content-Disposition filename from a probed
// title. Characters outside a conservative allow list are dropped, whitespace
// becomes a single dash, and overly long titles are truncated. When nothing
// usable remains the fallback name is used instead.
func AttachmentFilename(title, fallback, ext string) string {
	folded, _, err := transform.String(asciiFold, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	lastDash := true
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == '-', r == '_', r == '.':
			if !lastDash {
				b.WriteRune(r)
				lastDash = false
			}
		case unicode.IsSpace(r):
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
		if b.Len() >= maxFilenameLength {
			break
		}
	}

	name := strings.Trim(b.String(), "-._")
	if name == "" {
		name = fallback
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}
