package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchemaValidator checks request payloads against one compiled schema.
type JSONSchemaValidator struct {
	schema *jsonschema.Schema
}

func NewJSONSchemaValidator(schemaJSON string) (*JSONSchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, err
	}

	return &JSONSchemaValidator{schema: schema}, nil
}

// MustJSONSchemaValidator panics on an invalid schema; for package-level schemas.
func MustJSONSchemaValidator(schemaJSON string) *JSONSchemaValidator {
	v, err := NewJSONSchemaValidator(schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks an already decoded JSON value. Numbers should be
// json.Number or float64.
func (v *JSONSchemaValidator) Validate(payload any) error {
	return v.schema.Validate(payload)
}

// ValidateBytes decodes raw JSON and validates it.
func (v *JSONSchemaValidator) ValidateBytes(body []byte) error {
	var payload any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return &InvalidJSONError{Err: err}
	}
	return v.Validate(payload)
}

// InvalidJSONError reports a body that is not JSON at all.
type InvalidJSONError struct {
	Err error
}

func (e *InvalidJSONError) Error() string { return "invalid json: " + e.Err.Error() }
func (e *InvalidJSONError) Unwrap() error { return e.Err }

// SchemaErrorMessage flattens a schema failure into one readable line.
func SchemaErrorMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if leaf.InstanceLocation == "" {
		return leaf.Message
	}
	return leaf.InstanceLocation + ": " + leaf.Message
}

func (v *JSONSchemaValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
				return
			}
			WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}
		_ = r.Body.Close()

		if err := v.ValidateBytes(body); err != nil {
			var ije *InvalidJSONError
			if errors.As(err, &ije) {
				WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
				return
			}
			WriteJSONErrorResponse(w, r, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: SchemaErrorMessage(err),
			})
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
