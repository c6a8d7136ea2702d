package media

import (
	"net/url"
	"strings"
)

const sourceDomain = "tiktok.com"

// IsSupportedURL reports whether the URL points at the supported source,
// accepting the canonical domain and its subdomain forms (www, vm, m, and
// region mirrors). It parses the URL rather than substring-matching so a
// hostile URL embedding the domain in its path or query does not pass.
func IsSupportedURL(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == sourceDomain {
		return true
	}
	return strings.HasSuffix(host, "."+sourceDomain)
}
