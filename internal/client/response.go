package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPathNotFound is returned when a JSON path does not resolve to a value.
var ErrPathNotFound = errors.New("client: json path not found")

// ResponseParser extracts values from JSON response bodies using simple
// dotted paths ("$.data.token", "items[0].id").
type ResponseParser struct{}

// NewResponseParser creates a new response parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// JSONPath extracts the value at path from data.
func (p *ResponseParser) JSONPath(data []byte, path string) (any, error) {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil, fmt.Errorf("empty JSON path")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	current := doc
	for _, part := range strings.Split(path, ".") {
		field, index, hasIndex, err := splitIndex(part)
		if err != nil {
			return nil, err
		}
		if field != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, field)
			}
			current, ok = obj[field]
			if !ok || current == nil {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, field)
			}
		}
		if hasIndex {
			arr, ok := current.([]any)
			if !ok || index < 0 || index >= len(arr) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, part)
			}
			current = arr[index]
		}
	}

	return current, nil
}

// splitIndex splits "items[2]" into ("items", 2, true).
func splitIndex(part string) (string, int, bool, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 || !strings.HasSuffix(part, "]") {
		return part, 0, false, nil
	}
	index, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid array index in %q", part)
	}
	return part[:open], index, true, nil
}

// FirstString returns the first non-empty string found at any of paths.
func (p *ResponseParser) FirstString(data []byte, paths ...string) (string, bool) {
	for _, path := range paths {
		value, err := p.JSONPath(data, path)
		if err != nil {
			continue
		}
		if s, ok := value.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// ParseErrorResponse returns the most specific error message in data,
// falling back to the raw body.
func (p *ResponseParser) ParseErrorResponse(data []byte) string {
	if msg, ok := p.FirstString(data, "detail", "error", "message", "msg", "error.message"); ok {
		return msg
	}
	return string(data)
}
