// Package identity validates the session identifiers supplied by callers
// before they are used as store keys or file-name components.
package identity

import (
	"regexp"
	"strings"
)

// MaxSessionIDLength bounds accepted identifiers.
const MaxSessionIDLength = 128

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidSessionID reports whether id is non-empty, at most MaxSessionIDLength
// bytes, and made only of letters, digits and ". _ : -".
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// NormalizeSessionID trims surrounding whitespace and reports whether the
// result is valid.
func NormalizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	return id, ValidSessionID(id)
}
