package registry

import (
	"net/url"
	"regexp"
	"strings"
)

const maxNameLength = 128

var unsafeNameChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// DeriveName picks a display name for an artifact URL. When the first "tree"
// or "blob" segment is followed by another segment, the segment before the
// marker wins. Otherwise it is the last path segment, then the host with dots
// replaced by hyphens. Strings that do not parse as URLs have each unsafe
// character replaced by a hyphen.
func DeriveName(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" && u.Host != "" {
		var parts []string
		for _, p := range strings.Split(u.Path, "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		for i, p := range parts {
			if p != "tree" && p != "blob" {
				continue
			}
			if i+1 < len(parts) {
				return parts[max(0, i-1)]
			}
			break
		}
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
		return strings.ReplaceAll(u.Hostname(), ".", "-")
	}

	name := unsafeNameChar.ReplaceAllString(raw, "-")
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	if name == "" {
		return "artifact"
	}
	return name
}
