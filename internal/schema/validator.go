// Package schema provides JSON schema validation for documents written to the content store.
// It ensures every metadata document conforms to its schema before it is uploaded,
// since an uploaded document can never be corrected in place.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
)

const (
	// KindMetadata is the schema for the per-video metadata document.
	KindMetadata = "vidverse.video.metadata"
	// KindComment is the schema for comment bodies accepted by the API.
	KindComment = "vidverse.video.comment"
)

// SchemaVersions maps document kinds to their current schema versions.
var SchemaVersions = map[string]string{
	KindMetadata: "1.0.0", // Metadata document schema version
	KindComment:  "1.0.0", // Comment body schema version
}

// metadataSchema requires the descriptor fields and constrains every content reference
// to the ipfs:// scheme. image, animation_url and content are optional.
const metadataSchema = `{
  "type": "object",
  "required": ["name", "description", "properties"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 256},
    "description": {"type": "string", "minLength": 1, "maxLength": 5000},
    "external_url": {"type": "string"},
    "image": {"type": "string", "pattern": "^ipfs://[^/]+(/[^/]+)?$"},
    "animation_url": {"type": "string", "pattern": "^ipfs://[^/]+(/[^/]+)?$"},
    "content": {
      "type": "object",
      "required": ["mime", "uri"],
      "properties": {
        "mime": {"type": "string", "minLength": 1},
        "uri": {"type": "string", "pattern": "^ipfs://[^/]+(/[^/]+)?$"}
      }
    },
    "properties": {
      "type": "object",
      "required": ["category", "location"],
      "properties": {
        "category": {"type": "string", "minLength": 1},
        "location": {"type": "string", "minLength": 1}
      }
    }
  }
}`

const commentSchema = `{"type":"object","required":["text"],"properties":{"text":{"type":"string","minLength":1,"maxLength":2048}}}`

// Validator validates documents against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of document kinds to JSON schemas
}

// NewValidator creates a new schema validator.
// It compiles all supported schemas up front.
// Returns:
//   - *Validator: Initialized validator instance
//   - error: Any error that occurred during schema compilation
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}

	if err := v.loadSchema(KindMetadata, metadataSchema); err != nil {
		return nil, fmt.Errorf("failed to load metadata schema: %w", err)
	}
	if err := v.loadSchema(KindComment, commentSchema); err != nil {
		return nil, fmt.Errorf("failed to load comment schema: %w", err)
	}
	return v, nil
}

// loadSchema parses and compiles a JSON schema for a document kind.
func (v *Validator) loadSchema(kind, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", kind, err)
	}
	v.schemas[kind] = schema
	return nil
}

// Validate validates a document against the schema registered for kind.
// The document may be any value that encodes to a JSON object.
// Parameters:
//   - kind: The document kind (e.g., KindMetadata)
//   - doc: The document to validate
//
// Returns:
//   - string: The schema version used for validation
//   - error: nil if valid, a VV_VALIDATION error listing every violation otherwise
func (v *Validator) Validate(kind string, doc interface{}) (string, error) {
	schema, ok := v.schemas[kind]
	if !ok {
		return "", fmt.Errorf("unsupported document kind: %s", kind)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return "", fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return "", errordefs.NewWithDetails(errordefs.VV_VALIDATION,
			fmt.Sprintf("%s document is invalid: %s", kind, strings.Join(errs, "; ")), "", errs)
	}

	version, ok := SchemaVersions[kind]
	if !ok {
		version = "1.0.0"
	}
	return version, nil
}
