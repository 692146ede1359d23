package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"finadvisor/backend/internal/apperr"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema validates model output before it is decoded into Go types.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document held in src.
func CompileSchema(name, src string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Violation is one schema failure at an instance location such as "/age".
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// Validate checks raw against the schema and reports the leaf violations.
func (s *Schema) Validate(raw json.RawMessage) ([]Violation, error) {
	doc, err := decodeAny(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExtractionParse, "model output is not JSON", err)
	}
	err = s.schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("failed to validate against %s: %w", s.name, err)
	}
	var out []Violation
	collectLeaves(ve, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Decode validates raw and unmarshals it into v. Violations come back as a
// VALIDATION error.
func (s *Schema) Decode(raw json.RawMessage, v any) error {
	violations, err := s.Validate(raw)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, vi := range violations {
			msgs[i] = vi.String()
		}
		return apperr.New(apperr.CodeValidation, s.name+": "+strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.CodeExtractionParse, "failed to decode "+s.name, err)
	}
	return nil
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		*out = append(*out, Violation{Path: ve.InstanceLocation, Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

func decodeAny(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// CompleteJSON asks c for a JSON reply, recovers the object from the text,
// validates it against schema and decodes it into out.
func CompleteJSON(ctx context.Context, c Client, req Request, schema *Schema, out any) error {
	req.JSON = true
	text, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return schema.Decode(raw, out)
}
