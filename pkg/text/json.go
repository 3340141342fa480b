// Package text provides prompt normalization and extraction of structured
// JSON from free-form LLM responses.
package text

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNoJSON is returned when a response contains no balanced JSON value.
var ErrNoJSON = errors.New("no JSON value found in text")

var whitespaceRegex = regexp.MustCompile(`\s+`)

// ExtractJSONObject returns the first balanced JSON object in s. Models often
// wrap JSON in prose or markdown fences; the scanner skips everything up to
// the first '{' and tracks string and escape state so braces inside strings
// don't terminate the scan.
func ExtractJSONObject(s string) (string, error) {
	return extractBalanced(s, '{', '}')
}

// ExtractJSONArray returns the first balanced JSON array in s.
func ExtractJSONArray(s string) (string, error) {
	return extractBalanced(s, '[', ']')
}

// ExtractJSONValue returns the first balanced JSON object or array in s,
// whichever starts earlier.
func ExtractJSONValue(s string) (string, error) {
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	switch {
	case objStart == -1 && arrStart == -1:
		return "", ErrNoJSON
	case objStart == -1:
		return ExtractJSONArray(s)
	case arrStart == -1 || objStart < arrStart:
		return ExtractJSONObject(s)
	default:
		return ExtractJSONArray(s)
	}
}

func extractBalanced(s string, open, close byte) (string, error) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", ErrNoJSON
}

// NormalizePrompt canonicalizes a user mood prompt: NFKC normalization,
// collapsed whitespace, trimmed lines joined with single spaces.
func NormalizePrompt(s string) string {
	s = strings.TrimSpace(s)
	s = norm.NFKC.String(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}
