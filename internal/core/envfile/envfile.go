// Package envfile contains pure functions for parsing external key-value
// sources in NAME=value form. This is part of the Functional Core - the
// caller supplies the content, the package never touches the filesystem.
package envfile

import (
	"io"
	"strings"
)

// Parse reads NAME=value lines from r and returns the resulting map.
// The only possible error is a read failure; malformed content never fails.
func Parse(r io.Reader) (map[string]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseString(string(content)), nil
}

// ParseString parses NAME=value lines.
//
// Rules:
//   - blank lines and lines starting with # are skipped
//   - lines without = are malformed and ignored, never fatal
//   - a leading "export " is tolerated
//   - matching single or double quotes around the value are stripped
//   - when a key appears more than once, the last occurrence wins
func ParseString(content string) map[string]string {
	values := make(map[string]string)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}

		values[key] = unquote(strings.TrimSpace(value))
	}

	return values
}

// unquote strips one pair of matching single or double quotes.
func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first == last && (first == '"' || first == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
