package restruct

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// FieldType is the primitive or composite type of a shape field.
type FieldType int

const (
	TypeAny FieldType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeObject
	TypeArray
	TypeEnum
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	case TypeEnum:
		return "enum"
	default:
		return "any"
	}
}

// ShapeKind says what the final result of a request is.
type ShapeKind int

const (
	KindObject ShapeKind = iota // named fields, hydrated into a struct or a coerced map
	KindMap                     // any JSON object, passed through as map[string]any
	KindScalar                  // a single value such as free text
)

// Field describes one expected key of an object shape.
type Field struct {
	Name        string
	Type        FieldType
	Optional    bool
	Default     any
	Enum        []string
	Description string
	Shape       *Shape // TypeObject
	Elem        *Field // TypeArray
}

// Shape describes the expected output of a request. Shapes are immutable once
// handed to an engine.
type Shape struct {
	Name   string
	Kind   ShapeKind
	Fields []Field
	Scalar Field // KindScalar: type of the single value

	goType reflect.Type // set by ShapeOf; hydration then yields *T
}

// ObjectShape builds an object shape by hand, for callers without a Go type.
func ObjectShape(name string, fields ...Field) *Shape {
	return &Shape{Name: name, Kind: KindObject, Fields: fields}
}

// MapShape accepts any JSON object unchanged.
func MapShape() *Shape {
	return &Shape{Name: "map", Kind: KindMap}
}

// ScalarShape expects a single value of type t.
func ScalarShape(t FieldType) *Shape {
	return &Shape{Name: t.String(), Kind: KindScalar, Scalar: Field{Type: t}}
}

// GoType returns the Go type the shape was reflected from, or nil.
func (s *Shape) GoType() reflect.Type { return s.goType }

// FieldNames lists the top-level keys in declaration order.
func (s *Shape) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a top-level field by name.
func (s *Shape) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Enumerator lets a named string type declare its allowed values instead of
// repeating them in every struct tag.
type Enumerator interface {
	EnumValues() []string
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	enumeratorType = reflect.TypeOf((*Enumerator)(nil)).Elem()
)

// ShapeOf reflects T into a Shape. Structs become object shapes keyed by their
// json names; map[string]any becomes a raw map shape; scalars become scalar
// shapes.
func ShapeOf[T any]() (*Shape, error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	s, err := shapeOfType(rt, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	s.goType = rt
	return s, nil
}

func shapeOfType(rt reflect.Type, visiting map[reflect.Type]bool) (*Shape, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	switch {
	case rt.Kind() == reflect.Map && rt.Key().Kind() == reflect.String:
		return &Shape{Name: typeName(rt), Kind: KindMap}, nil
	case isPureStruct(rt):
	default:
		f, err := fieldOfType(rt, visiting)
		if err != nil {
			return nil, err
		}
		return &Shape{Name: typeName(rt), Kind: KindScalar, Scalar: f}, nil
	}

	if visiting[rt] {
		return nil, fmt.Errorf("restruct: recursive type %s", rt)
	}
	visiting[rt] = true
	defer delete(visiting, rt)

	var fields []promoted
	if err := collectFields(rt, visiting, 0, &fields); err != nil {
		return nil, err
	}
	return &Shape{Name: typeName(rt), Kind: KindObject, Fields: dominantFields(fields)}, nil
}

// promoted is a field found at some embedding depth.
type promoted struct {
	Field
	depth int
}

// collectFields gathers rt's fields in declaration order. Untagged embedded
// structs contribute their own fields one level deeper, as encoding/json
// promotes them.
func collectFields(rt reflect.Type, visiting map[reflect.Type]bool, depth int, out *[]promoted) error {
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if sf.Anonymous {
			et := sf.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if strings.Split(tag, ",")[0] == "" && isPureStruct(et) {
				// encoding/json cannot allocate a pointer to an unexported struct.
				if !sf.IsExported() && sf.Type.Kind() == reflect.Pointer {
					continue
				}
				if visiting[et] {
					return fmt.Errorf("restruct: recursive type %s", et)
				}
				visiting[et] = true
				err := collectFields(et, visiting, depth+1, out)
				delete(visiting, et)
				if err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f, err := structField(rt, sf, visiting)
		if err != nil {
			return err
		}
		*out = append(*out, promoted{Field: f, depth: depth})
	}
	return nil
}

// dominantFields keeps, for each name, the shallowest field. Names declared
// more than once at that depth are dropped, matching encoding/json.
func dominantFields(fields []promoted) []Field {
	type best struct{ depth, count int }
	seen := make(map[string]best, len(fields))
	for _, f := range fields {
		b, ok := seen[f.Name]
		switch {
		case !ok || f.depth < b.depth:
			seen[f.Name] = best{depth: f.depth, count: 1}
		case f.depth == b.depth:
			b.count++
			seen[f.Name] = b
		}
	}

	var out []Field
	for _, f := range fields {
		if b := seen[f.Name]; b.depth == f.depth && b.count == 1 {
			out = append(out, f.Field)
		}
	}
	return out
}

func structField(rt reflect.Type, sf reflect.StructField, visiting map[reflect.Type]bool) (Field, error) {
	name, omitempty := jsonName(sf.Tag.Get("json"), sf.Name)

	f, err := fieldOfType(sf.Type, visiting)
	if err != nil {
		return Field{}, fmt.Errorf("%s.%s: %w", rt.Name(), sf.Name, err)
	}
	f.Name = name
	f.Optional = sf.Type.Kind() == reflect.Pointer || omitempty

	tp := parseRestructTag(sf.Tag.Get(restructTag))
	switch {
	case tp.required:
		f.Optional = false
	case tp.optional:
		f.Optional = true
	}
	if len(tp.enum) > 0 {
		f.Type = TypeEnum
		f.Enum = tp.enum
	}
	f.Description = tp.description
	if tp.hasDefault {
		def, err := parseDefault(f.Type, tp.def)
		if err != nil {
			return Field{}, fmt.Errorf("%s.%s: %w", rt.Name(), sf.Name, err)
		}
		f.Default = def
		f.Optional = true
	}
	return f, nil
}

func fieldOfType(rt reflect.Type, visiting map[reflect.Type]bool) (Field, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}

	if rt.Implements(enumeratorType) && rt.Kind() == reflect.String {
		values := reflect.Zero(rt).Interface().(Enumerator).EnumValues()
		return Field{Type: TypeEnum, Enum: values}, nil
	}

	switch rt.Kind() {
	case reflect.String:
		return Field{Type: TypeString}, nil
	case reflect.Bool:
		return Field{Type: TypeBool}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Field{Type: TypeInt}, nil
	case reflect.Float32, reflect.Float64:
		return Field{Type: TypeFloat}, nil
	case reflect.Slice, reflect.Array:
		elem, err := fieldOfType(rt.Elem(), visiting)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeArray, Elem: &elem}, nil
	case reflect.Struct:
		if rt == timeType {
			return Field{Type: TypeString}, nil
		}
		sub, err := shapeOfType(rt, visiting)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeObject, Shape: sub}, nil
	default:
		return Field{Type: TypeAny}, nil
	}
}

// ShapeFromJSONSchema builds a shape from a JSON Schema document. Properties
// keep their document order; a property is optional unless listed in
// "required" and its type does not admit null.
func ShapeFromJSONSchema(schema string) (*Shape, error) {
	if !gjson.Valid(schema) {
		return nil, fmt.Errorf("schema is not valid JSON")
	}
	root := gjson.Parse(schema)
	name := root.Get("title").String()
	if name == "" {
		name = "schema"
	}

	f, err := fieldFromSchema(root, "")
	if err != nil {
		return nil, err
	}
	switch {
	case f.Type == TypeObject && f.Shape != nil:
		s := *f.Shape
		s.Name = name
		return &s, nil
	case f.Type == TypeObject:
		return &Shape{Name: name, Kind: KindMap}, nil
	default:
		f.Optional = false
		return &Shape{Name: name, Kind: KindScalar, Scalar: f}, nil
	}
}

func fieldFromSchema(node gjson.Result, path string) (Field, error) {
	var f Field
	f.Description = node.Get("description").String()
	if d := node.Get("default"); d.Type == gjson.Number {
		f.Default = json.Number(d.Raw)
	} else if d.Exists() {
		f.Default = d.Value()
	}

	typ := node.Get("type")
	var typeName string
	if typ.IsArray() {
		for _, t := range typ.Array() {
			if t.String() == "null" {
				f.Optional = true
			} else if typeName == "" {
				typeName = t.String()
			}
		}
	} else {
		typeName = typ.String()
	}
	if typeName == "" && node.Get("properties").Exists() {
		typeName = "object"
	}

	switch typeName {
	case "string":
		f.Type = TypeString
	case "integer":
		f.Type = TypeInt
	case "number":
		f.Type = TypeFloat
	case "boolean":
		f.Type = TypeBool
	case "array":
		f.Type = TypeArray
		if items := node.Get("items"); items.IsObject() {
			elem, err := fieldFromSchema(items, path+"[]")
			if err != nil {
				return Field{}, err
			}
			f.Elem = &elem
		}
	case "object":
		f.Type = TypeObject
		props := node.Get("properties")
		if !props.IsObject() {
			break
		}
		required := map[string]bool{}
		for _, r := range node.Get("required").Array() {
			required[r.String()] = true
		}
		sub := &Shape{Name: path, Kind: KindObject}
		var err error
		props.ForEach(func(key, value gjson.Result) bool {
			var pf Field
			pf, err = fieldFromSchema(value, joinKey(path, key.String()))
			if err != nil {
				return false
			}
			pf.Name = key.String()
			if !required[pf.Name] || pf.Default != nil {
				pf.Optional = true
			}
			sub.Fields = append(sub.Fields, pf)
			return true
		})
		if err != nil {
			return Field{}, err
		}
		f.Shape = sub
	case "":
		f.Type = TypeAny
	default:
		return Field{}, fmt.Errorf("%s: unsupported schema type %q", path, typeName)
	}

	if enum := node.Get("enum"); enum.IsArray() {
		for _, v := range enum.Array() {
			// null and "" are how an optional enum says "unset".
			if v.Type == gjson.Null || v.String() == "" {
				f.Optional = true
				continue
			}
			f.Enum = append(f.Enum, v.String())
		}
		f.Type = TypeEnum
	}
	return f, nil
}

func parseDefault(t FieldType, raw string) (any, error) {
	switch t {
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int default %q: %w", raw, err)
		}
		return json.Number(strconv.FormatInt(n, 10)), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float default %q: %w", raw, err)
		}
		return f, nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool default %q: %w", raw, err)
		}
		return b, nil
	default:
		return raw, nil
	}
}

// JSONSchema renders the shape as a JSON Schema document. It is sent to
// providers in schema-guided and tool-call modes and drives shape-intrinsic
// validation.
func (s *Shape) JSONSchema() map[string]any {
	switch s.Kind {
	case KindMap:
		return map[string]any{"type": "object"}
	case KindScalar:
		return fieldSchema(s.Scalar)
	}

	props := make(map[string]any, len(s.Fields))
	required := []string{}
	for _, f := range s.Fields {
		props[f.Name] = fieldSchema(f)
		if !f.Optional {
			required = append(required, f.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// schemaText is the indented JSON form of the shape's schema, for prompts.
func schemaText(s *Shape) string {
	data, err := json.MarshalIndent(s.JSONSchema(), "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func fieldSchema(f Field) map[string]any {
	var out map[string]any
	switch f.Type {
	case TypeString:
		out = map[string]any{"type": "string"}
	case TypeInt:
		out = map[string]any{"type": "integer"}
	case TypeFloat:
		out = map[string]any{"type": "number"}
	case TypeBool:
		out = map[string]any{"type": "boolean"}
	case TypeEnum:
		values := make([]any, 0, len(f.Enum)+2)
		for _, v := range f.Enum {
			values = append(values, v)
		}
		if f.Optional {
			// An unset optional enum encodes as its zero value or null.
			values = append(values, "", nil)
		}
		out = map[string]any{"type": "string", "enum": values}
	case TypeObject:
		if f.Shape != nil {
			out = f.Shape.JSONSchema()
		} else {
			out = map[string]any{"type": "object"}
		}
	case TypeArray:
		out = map[string]any{"type": "array"}
		if f.Elem != nil {
			out["items"] = fieldSchema(*f.Elem)
		}
	default:
		return map[string]any{}
	}

	if f.Optional {
		out["type"] = []any{out["type"], "null"}
	}
	if f.Description != "" {
		out["description"] = f.Description
	}
	return out
}

// helpers
func typeName(rt reflect.Type) string {
	if rt.Name() != "" {
		return rt.Name()
	}
	return strings.TrimPrefix(rt.String(), "*")
}

func isPureStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType
}
