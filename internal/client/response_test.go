package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseParser_JSONPath(t *testing.T) {
	parser := NewResponseParser()

	tests := []struct {
		name     string
		json     string
		path     string
		expected any
		wantErr  bool
	}{
		{name: "simple field", json: `{"token": "abc"}`, path: "$.token", expected: "abc"},
		{name: "without prefix", json: `{"token": "abc"}`, path: "token", expected: "abc"},
		{name: "nested field", json: `{"data": {"access_token": "x"}}`, path: "$.data.access_token", expected: "x"},
		{name: "array index", json: `{"items": [{"id": 1}, {"id": 2}]}`, path: "items[1].id", expected: float64(2)},
		{name: "top level array", json: `[10, 20]`, path: "[0]", expected: float64(10)},
		{name: "missing field", json: `{"a": 1}`, path: "b", wantErr: true},
		{name: "null field", json: `{"token": null}`, path: "token", wantErr: true},
		{name: "index out of range", json: `{"items": []}`, path: "items[0]", wantErr: true},
		{name: "bad index", json: `{"items": [1]}`, path: "items[x]", wantErr: true},
		{name: "field on scalar", json: `{"a": 1}`, path: "a.b", wantErr: true},
		{name: "invalid json", json: `not json`, path: "a", wantErr: true},
		{name: "empty path", json: `{}`, path: "$", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.JSONPath([]byte(tt.json), tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResponseParser_FirstString(t *testing.T) {
	parser := NewResponseParser()

	got, ok := parser.FirstString([]byte(`{"token": 5, "access_token": "t"}`), "token", "access_token")
	assert.True(t, ok)
	assert.Equal(t, "t", got)

	_, ok = parser.FirstString([]byte(`{}`), "token", "access_token")
	assert.False(t, ok)
}

func TestResponseParser_ParseErrorResponse(t *testing.T) {
	parser := NewResponseParser()

	assert.Equal(t, "Not authenticated", parser.ParseErrorResponse([]byte(`{"detail": "Not authenticated"}`)))
	assert.Equal(t, "bad", parser.ParseErrorResponse([]byte(`{"error": {"message": "bad"}}`)))
	assert.Equal(t, "plain text", parser.ParseErrorResponse([]byte(`plain text`)))
}
