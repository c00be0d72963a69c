package restruct

import (
	"strings"
)

const restructTag = "restruct"

// tagParts holds what may appear in `restruct:"..."`.
type tagParts struct {
	optional    bool
	required    bool
	enum        []string
	def         string
	hasDefault  bool
	description string
}

// parseRestructTag splits the tag string into its items.
// Supported items, comma separated:
// - "optional" / "required" → override the inferred optionality
// - "enum=a|b|c" → the field only accepts the listed values
// - "default=value" → value used when an optional field is absent
// - "desc=text" → description carried into the JSON Schema
// Unknown items are ignored.
func parseRestructTag(tag string) (tp tagParts) {
	if tag == "" {
		return
	}

	for _, item := range strings.Split(tag, ",") {
		item = strings.TrimSpace(item)
		key, value, hasValue := strings.Cut(item, "=")
		switch {
		case item == "optional":
			tp.optional = true
		case item == "required":
			tp.required = true
		case key == "enum" && hasValue:
			for _, v := range strings.Split(value, "|") {
				if v = strings.TrimSpace(v); v != "" {
					tp.enum = append(tp.enum, v)
				}
			}
		case key == "default" && hasValue:
			tp.def = value
			tp.hasDefault = true
		case key == "desc" && hasValue:
			tp.description = value
		}
	}
	return
}

// jsonName returns the key a struct field is encoded under and whether the
// json tag marks it omitempty. An empty name means the field is skipped.
func jsonName(tag, fieldName string) (name string, omitempty bool) {
	if tag == "-" {
		return "", false
	}
	items := strings.Split(tag, ",")
	name = items[0]
	if name == "" {
		name = fieldName
	}
	for _, opt := range items[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitempty = true
		}
	}
	return name, omitempty
}
