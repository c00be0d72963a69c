package restruct

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError is one validation or coercion problem.
type FieldError struct {
	Path    string // dotted path, empty for the whole value
	Value   any
	Message string
}

func (e FieldError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Value != nil {
		fmt.Fprintf(&b, " (got %v)", e.Value)
	}
	return b.String()
}

// FieldErrors lets a Validate method report several problems at once.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	msgs := make([]string, len(fe))
	for i, e := range fe {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Verdict is the outcome of validating one hydrated value.
type Verdict struct {
	Valid  bool
	Errors []FieldError
}

// ValidationFailure carries a failing verdict's errors.
type ValidationFailure struct {
	Errors []FieldError
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed: %s", FieldErrors(e.Errors).Error())
}

// Rule is a custom business rule. It returns nil when value is acceptable.
type Rule func(value any) []FieldError

// selfValidator is implemented by values that check their own invariants.
type selfValidator interface {
	Validate() error
}

// Validator checks hydrated values against shape constraints, custom rules
// and the value's own Validate method. Every check runs.
type Validator struct {
	rules []Rule
	log   *slog.Logger

	mu      sync.Mutex
	schemas map[*Shape]*gojsonschema.Schema
}

func NewValidator(log *slog.Logger, rules ...Rule) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{rules: rules, log: log, schemas: map[*Shape]*gojsonschema.Schema{}}
}

// Validate returns a verdict listing shape errors, then rule errors, then
// self-validation errors.
func (v *Validator) Validate(h *Hydrated, shape *Shape) Verdict {
	if h == nil {
		return Verdict{Errors: []FieldError{{Message: "no value"}}}
	}

	var errs []FieldError
	if shape != nil {
		errs = append(errs, v.shapeErrors(h, shape)...)
	}
	for _, rule := range v.rules {
		errs = append(errs, rule(h.Value)...)
	}
	if sv, ok := h.Value.(selfValidator); ok {
		if err := sv.Validate(); err != nil {
			var fe FieldErrors
			var one FieldError
			switch {
			case errors.As(err, &fe):
				errs = append(errs, fe...)
			case errors.As(err, &one):
				errs = append(errs, one)
			default:
				errs = append(errs, FieldError{Message: err.Error()})
			}
		}
	}

	v.log.Debug("Validated value", "shape", shapeName(shape), "errors", len(errs))
	return Verdict{Valid: len(errs) == 0, Errors: errs}
}

func (v *Validator) shapeErrors(h *Hydrated, shape *Shape) []FieldError {
	schema, err := v.schemaFor(shape)
	if err != nil {
		return []FieldError{{Message: fmt.Sprintf("schema for %s: %v", shape.Name, err)}}
	}

	doc := h.canonical
	if doc == nil {
		doc = h.Value
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return []FieldError{{Message: fmt.Sprintf("value cannot be encoded: %v", err)}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []FieldError{{Message: fmt.Sprintf("schema evaluation failed: %v", err)}}
	}
	if result.Valid() {
		return nil
	}

	out := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		path := re.Field()
		if path == "(root)" {
			path = ""
		}
		if re.Type() == "required" {
			if prop, ok := re.Details()["property"].(string); ok {
				path = joinKey(path, prop)
			}
		}
		out = append(out, FieldError{Path: path, Value: re.Value(), Message: re.Description()})
	}
	return out
}

// schemaFor compiles the shape's JSON Schema once per validator.
func (v *Validator) schemaFor(shape *Shape) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.schemas[shape]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(shape.JSONSchema()))
	if err != nil {
		return nil, err
	}
	v.schemas[shape] = s
	return s, nil
}

func shapeName(s *Shape) string {
	if s == nil {
		return ""
	}
	return s.Name
}
