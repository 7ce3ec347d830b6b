package validation

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["name", "count"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"count": {"type": "integer", "minimum": 1}
	}
}`

func newValidator() *RequestValidator {
	return NewRequestValidator(Rules{
		ContentTypes: []string{"application/json"},
		MaxBodySize:  64,
		Schema:       MustCompileSchema(testSchema),
	})
}

func post(body, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestReadBody_Valid(t *testing.T) {
	req := post(`{"name":"a","count":2}`, "application/json; charset=utf-8")

	body, err := newValidator().ReadBody(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","count":2}`, string(body))

	// body is still readable downstream
	again, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, again)
}

func TestReadBody_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		contains    string
	}{
		{"missing content type", `{"name":"a","count":1}`, "", "content-type"},
		{"wrong content type", `{"name":"a","count":1}`, "text/plain", "not allowed"},
		{"missing field", `{"name":"a"}`, "application/json", "count"},
		{"below minimum", `{"name":"a","count":0}`, "application/json", "count"},
		{"wrong type", `{"name":"a","count":"many"}`, "application/json", "count"},
		{"not json", `{`, "application/json", ""},
		{"too large", `{"name":"` + strings.Repeat("x", 100) + `","count":1}`, "application/json", "large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newValidator().ReadBody(post(tt.body, tt.contentType))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(`{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustCompileSchema(`not json`) })
}
