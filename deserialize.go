package restruct

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
)

// DeserializationFailure reports a value that does not fit the target shape.
type DeserializationFailure struct {
	Path   string
	Reason string
	Value  any
}

func (e *DeserializationFailure) Error() string {
	if e.Path == "" {
		return "deserialize: " + e.Reason
	}
	return fmt.Sprintf("deserialize %s: %s", e.Path, e.Reason)
}

// Hydrated is a parsed value mapped onto a shape. Value is *T for shapes built
// by ShapeOf, map[string]any for raw map shapes, and the canonical tree for
// hand-built shapes. Errors holds non-fatal coercion problems on optional
// fields when the deserializer is lenient.
type Hydrated struct {
	Value  any
	Errors []FieldError

	canonical any // coerced JSON tree the value was built from
}

// DeserializerOption configures a Deserializer.
type DeserializerOption func(*Deserializer)

// WithLenient makes coercion failures on optional fields non-fatal.
func WithLenient() DeserializerOption {
	return func(d *Deserializer) { d.lenient = true }
}

// WithDeserializerLogger sets the logger used for debug output.
func WithDeserializerLogger(log *slog.Logger) DeserializerOption {
	return func(d *Deserializer) { d.log = log }
}

// Deserializer maps parsed values onto shapes. It holds no per-call state and
// is safe for concurrent use.
type Deserializer struct {
	lenient bool
	log     *slog.Logger
}

func NewDeserializer(opts ...DeserializerOption) *Deserializer {
	d := &Deserializer{}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// Deserialize hydrates value into shape. Keys the shape does not declare are
// ignored.
func (d *Deserializer) Deserialize(value any, shape *Shape) (*Hydrated, error) {
	if shape == nil {
		return nil, ErrNilShape
	}

	w := &walker{lenient: d.lenient}
	var canonical any
	switch shape.Kind {
	case KindMap:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, &DeserializationFailure{Reason: "expected object, got " + jsonKind(value), Value: value}
		}
		canonical = m
	case KindScalar:
		if value == nil {
			return nil, &DeserializationFailure{Reason: "value is null"}
		}
		v, err := w.coerce("", value, shape.Scalar)
		if err != nil {
			return nil, err
		}
		canonical = v
	default:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, &DeserializationFailure{Reason: "expected object, got " + jsonKind(value), Value: value}
		}
		obj, err := w.object("", m, shape)
		if err != nil {
			return nil, err
		}
		canonical = obj
	}

	d.log.Debug("Deserialized value",
		"shape", shape.Name,
		"kind", shape.Kind,
		"soft_errors", len(w.errs))

	if shape.goType == nil {
		return &Hydrated{Value: canonical, Errors: w.errs, canonical: canonical}, nil
	}
	typed, err := hydrate(canonical, shape.goType)
	if err != nil {
		return nil, err
	}
	return &Hydrated{Value: typed, Errors: w.errs, canonical: canonical}, nil
}

// hydrate writes the canonical tree into a fresh *T through encoding/json, so
// struct tags and custom unmarshalers apply as usual.
func hydrate(canonical any, rt reflect.Type) (any, error) {
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, &DeserializationFailure{Reason: fmt.Sprintf("encode canonical value: %v", err)}
	}
	ptr := reflect.New(rt)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		path := ""
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			path = ute.Field
		}
		return nil, &DeserializationFailure{Path: path, Reason: err.Error()}
	}
	return ptr.Interface(), nil
}

type walker struct {
	lenient bool
	errs    []FieldError
}

func (w *walker) object(path string, m map[string]any, shape *Shape) (map[string]any, error) {
	out := make(map[string]any, len(shape.Fields))
	for _, f := range shape.Fields {
		p := joinKey(path, f.Name)
		raw, present := m[f.Name]
		if !present || raw == nil {
			if !f.Optional {
				reason := "required field missing"
				if present {
					reason = "required field is null"
				}
				return nil, &DeserializationFailure{Path: p, Reason: reason}
			}
			if f.Default != nil {
				out[f.Name] = f.Default
			}
			continue
		}

		v, err := w.coerce(p, raw, f)
		if err != nil {
			if w.lenient && f.Optional {
				w.errs = append(w.errs, FieldError{Path: p, Value: raw, Message: reasonOf(err)})
				if f.Default != nil {
					out[f.Name] = f.Default
				}
				continue
			}
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (w *walker) coerce(path string, v any, f Field) (any, error) {
	switch f.Type {
	case TypeAny:
		return v, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case json.Number:
			return intNumber(path, n)
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return nil, &DeserializationFailure{Path: path, Reason: "expected int, got fractional number", Value: v}
			}
			return n, nil
		}
	case TypeFloat:
		switch n := v.(type) {
		case json.Number:
			if _, err := n.Float64(); err != nil {
				return nil, &DeserializationFailure{Path: path, Reason: "number out of range for float", Value: v}
			}
			return n, nil
		case float64:
			return n, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeEnum:
		return enumValue(path, v, f.Enum)
	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		if f.Shape == nil || f.Shape.Kind == KindMap {
			return m, nil
		}
		return w.object(path, m, f.Shape)
	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			break
		}
		if f.Elem == nil {
			return items, nil
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			p := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				if f.Elem.Optional || f.Elem.Type == TypeAny {
					out = append(out, nil)
					continue
				}
				return nil, &DeserializationFailure{Path: p, Reason: "element is null"}
			}
			c, err := w.coerce(p, item, *f.Elem)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, &DeserializationFailure{
		Path:   path,
		Reason: fmt.Sprintf("expected %s, got %s", f.Type, jsonKind(v)),
		Value:  v,
	}
}

// intNumber keeps the literal text of an integral number so values beyond
// 2^53 reach int64 and uint64 fields unrounded.
func intNumber(path string, n json.Number) (any, error) {
	if _, err := n.Int64(); err == nil {
		return n, nil
	}
	if _, err := strconv.ParseUint(string(n), 10, 64); err == nil {
		return n, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) {
		return nil, &DeserializationFailure{Path: path, Reason: "number out of range for int", Value: n}
	}
	if f != math.Trunc(f) {
		return nil, &DeserializationFailure{Path: path, Reason: "expected int, got fractional number", Value: n}
	}
	if math.Abs(f) >= 1<<63 {
		return nil, &DeserializationFailure{Path: path, Reason: "number out of range for int", Value: n}
	}
	// Integral but written with a fraction or exponent, such as 3.0 or 1e3.
	return json.Number(strconv.FormatInt(int64(f), 10)), nil
}

// enumValue accepts a string, or a number or bool whose text form is listed.
func enumValue(path string, v any, allowed []string) (any, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil, &DeserializationFailure{Path: path, Reason: "expected enum, got " + jsonKind(v), Value: v}
	}
	if len(allowed) == 0 {
		return s, nil
	}
	for _, a := range allowed {
		if a == s {
			return s, nil
		}
	}
	return nil, &DeserializationFailure{
		Path:   path,
		Reason: fmt.Sprintf("%q is not one of %v", s, allowed),
		Value:  v,
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "bool"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func reasonOf(err error) string {
	var df *DeserializationFailure
	if errors.As(err, &df) {
		return df.Reason
	}
	return err.Error()
}

// joinKey joins a parent path and a key with a dot.
func joinKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
