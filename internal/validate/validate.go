package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// IdentRe matches valid identifiers used for scope names and section keys.
// Must start with alphanumeric, followed by alphanumeric, dots, hyphens, or underscores.
var IdentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MaxIdentLen is the maximum length for identifiers.
const MaxIdentLen = 128

// Ident validates a string as a valid identifier.
func Ident(s string) bool {
	return len(s) > 0 && len(s) <= MaxIdentLen && IdentRe.MatchString(s)
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty host
// to prevent file://, ftp://, or other schemes from reaching the probe path.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		// OK
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// InstanceURL trims whitespace, trailing path separators and any other trailing
// non-alphanumeric characters from a downstream application URL. Users paste
// addresses like "http://nas:8989/" or "http://nas:8989/#"; the backend expects
// the bare base.
func InstanceURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return strings.TrimRightFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
