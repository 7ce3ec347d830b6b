// internal/validation/validator.go
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid request")

// Rules describes what an incoming body must look like
type Rules struct {
	ContentTypes []string
	MaxBodySize  int64
	Schema       *gojsonschema.Schema
}

// CompileSchema parses a JSON schema once for reuse across requests
func CompileSchema(schema string) (*gojsonschema.Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// MustCompileSchema is CompileSchema for package-level schemas
func MustCompileSchema(schema string) *gojsonschema.Schema {
	s, err := CompileSchema(schema)
	if err != nil {
		panic(err)
	}
	return s
}

// RequestValidator checks request bodies against Rules
type RequestValidator struct {
	rules Rules
}

// NewRequestValidator creates a validator for rules
func NewRequestValidator(rules Rules) *RequestValidator {
	return &RequestValidator{rules: rules}
}

// ValidateContentType validates the request content type
func (v *RequestValidator) ValidateContentType(r *http.Request) error {
	if len(v.rules.ContentTypes) == 0 {
		return nil
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return fmt.Errorf("%w: content-type header is required", ErrInvalid)
	}

	// Drop charset and other parameters
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	for _, ct := range v.rules.ContentTypes {
		if strings.EqualFold(contentType, ct) {
			return nil
		}
	}

	return fmt.Errorf("%w: content-type %s not allowed", ErrInvalid, contentType)
}

// ReadBody validates the request and returns its body. The request body is
// replaced so downstream handlers can read it again.
func (v *RequestValidator) ReadBody(r *http.Request) ([]byte, error) {
	if err := v.ValidateContentType(r); err != nil {
		return nil, err
	}

	reader := io.Reader(r.Body)
	if v.rules.MaxBodySize > 0 {
		if r.ContentLength > v.rules.MaxBodySize {
			return nil, fmt.Errorf("%w: body too large: %d bytes (max: %d)", ErrInvalid, r.ContentLength, v.rules.MaxBodySize)
		}
		reader = io.LimitReader(r.Body, v.rules.MaxBodySize+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrInvalid, err)
	}
	if v.rules.MaxBodySize > 0 && int64(len(body)) > v.rules.MaxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalid, v.rules.MaxBodySize)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := v.ValidateDocument(body); err != nil {
		return nil, err
	}
	return body, nil
}

// ValidateDocument checks a JSON document against the schema
func (v *RequestValidator) ValidateDocument(doc []byte) error {
	if v.rules.Schema == nil {
		return nil
	}

	result, err := v.rules.Schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	return nil
}
