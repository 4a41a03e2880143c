package content

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	markdown      = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like display names and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts message markdown to sanitized display HTML.
func Render(input string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		// Fall back to the sanitized raw text.
		return Sanitize(input)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
