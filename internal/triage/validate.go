package triage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidRequest is returned when a request fails schema validation.
// Nothing is routed or audited for such a request.
var ErrInvalidRequest = errors.New("invalid request")

const requestSchemaJSON = `{
	"type": "object",
	"required": ["event_text"],
	"properties": {
		"event_text": {"type": "string", "minLength": 5},
		"source": {"type": ["string", "null"]},
		"artifacts": {"type": ["object", "null"]}
	}
}`

const evidenceSchemaJSON = `{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"k": {"type": "integer", "minimum": 1, "maximum": 20},
		"category": {"enum": ["", "account_takeover", "bruteforce", "phishing", "unknown"]}
	}
}`

// MaxEvidenceK caps the number of hits one evidence request may ask for.
const MaxEvidenceK = 20

var (
	requestSchema  = mustSchema(requestSchemaJSON)
	evidenceSchema = mustSchema(evidenceSchemaJSON)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("triage: compile schema: %v", err))
	}
	return schema
}

func validate(schema *gojsonschema.Schema, doc gojsonschema.JSONLoader) error {
	result, err := schema.Validate(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(details, "; "))
}

// DecodeRequest validates raw JSON against the request schema and decodes it.
func DecodeRequest(raw []byte) (Request, error) {
	if err := validate(requestSchema, gojsonschema.NewBytesLoader(raw)); err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req, nil
}

// Validate checks r against the request schema.
func (r Request) Validate() error {
	return validate(requestSchema, gojsonschema.NewGoLoader(r))
}

// DecodeEvidenceRequest validates raw JSON against the evidence schema and
// decodes it.
func DecodeEvidenceRequest(raw []byte) (EvidenceRequest, error) {
	if err := validate(evidenceSchema, gojsonschema.NewBytesLoader(raw)); err != nil {
		return EvidenceRequest{}, err
	}
	var req EvidenceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return EvidenceRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req, nil
}

// Validate checks r against the evidence schema.
func (r EvidenceRequest) Validate() error {
	return validate(evidenceSchema, gojsonschema.NewGoLoader(r))
}
