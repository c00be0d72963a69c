package restruct

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParsedValue is the parser's view of a model response: a tree of
// map[string]any, []any, string, json.Number, bool and nil. Numbers keep
// their source text so large integers survive hydration.
type ParsedValue struct {
	Value any
	// Remainder holds unconsumed trailing text. It is non-empty only when the
	// input was malformed after the root value.
	Remainder string
	// Partial reports that the strict parse failed and the tolerant path
	// produced Value.
	Partial bool
}

// ParseFailure is returned when the input violates the grammar structurally
// rather than merely ending early.
type ParseFailure struct {
	Offset int
	Reason string
	Input  string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure at offset %d: %s", e.Offset, e.Reason)
}

// Parse decodes structured text. Well-formed input goes through encoding/json
// untouched; anything else is handed to the tolerant recursive-descent parser,
// which returns the longest value it can build.
func Parse(text string) (*ParsedValue, error) {
	if strict, err := decodeStrict(text); err == nil {
		return &ParsedValue{Value: strict}, nil
	}

	v, rest, err := parseTolerant(text)
	if err != nil {
		return nil, err
	}
	return &ParsedValue{Value: v, Remainder: strings.TrimSpace(rest), Partial: true}, nil
}

// decodeStrict decodes exactly one JSON value, numbers as json.Number.
func decodeStrict(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// parseTolerant runs the tolerant grammar only. It is split out so the
// no-drift property can be checked against the strict decoder.
func parseTolerant(text string) (any, string, error) {
	p := &tolerantParser{src: text}
	return p.value(text)
}

type tolerantParser struct {
	src string
}

func (p *tolerantParser) offset(s string) int { return len(p.src) - len(s) }

func (p *tolerantParser) fail(s, reason string) error {
	return &ParseFailure{Offset: p.offset(s), Reason: reason, Input: p.src}
}

func skipSpace(s string) string {
	return strings.TrimLeft(s, " \t\r\n")
}

func (p *tolerantParser) value(s string) (any, string, error) {
	s = skipSpace(s)
	if s == "" {
		return nil, "", p.fail(s, "unexpected end of input")
	}

	switch c := s[0]; {
	case c == '{':
		return p.object(s)
	case c == '[':
		return p.array(s)
	case c == '"':
		str, rest, _ := p.str(s)
		return str, rest, nil
	case c == 't' || c == 'f' || c == 'n':
		return p.literal(s)
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number(s)
	default:
		return nil, "", p.fail(s, fmt.Sprintf("unexpected character %q", c))
	}
}

// str consumes a quoted string. closed is false when the input ended before
// the closing quote, in which case the text after the opening quote is the value.
func (p *tolerantParser) str(s string) (value string, rest string, closed bool) {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			quoted := s[:i+1]
			var out string
			if err := json.Unmarshal([]byte(quoted), &out); err != nil {
				return s[1:i], s[i+1:], true
			}
			return out, s[i+1:], true
		}
	}

	body := s[1:]
	var out string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &out); err == nil {
		return out, "", false
	}
	return body, "", false
}

func (p *tolerantParser) number(s string) (any, string, error) {
	end := 0
	for end < len(s) && strings.IndexByte("0123456789+-.eE", s[end]) >= 0 {
		end++
	}
	span, rest := s[:end], s[end:]

	if span == "" || strings.ContainsAny(span[len(span)-1:], ".-+eE") {
		return span, rest, nil
	}
	if json.Valid([]byte(span)) {
		return json.Number(span), rest, nil
	}
	// Spans JSON rejects but strconv reads, such as "01".
	f, err := strconv.ParseFloat(span, 64)
	if err != nil {
		return span, rest, nil
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), rest, nil
}

var literals = []struct {
	word  string
	value any
}{
	{"true", true},
	{"false", false},
	{"null", nil},
}

func (p *tolerantParser) literal(s string) (any, string, error) {
	for _, lit := range literals {
		if strings.HasPrefix(s, lit.word) {
			return lit.value, s[len(lit.word):], nil
		}
		// Input ended inside the literal.
		if strings.HasPrefix(lit.word, s) {
			return lit.value, "", nil
		}
	}

	end := 0
	for end < len(s) && (s[end] >= 'a' && s[end] <= 'z' || s[end] >= 'A' && s[end] <= 'Z') {
		end++
	}
	return s[:end], s[end:], nil
}

func (p *tolerantParser) array(s string) (any, string, error) {
	items := []any{}
	s = s[1:]
	for {
		s = skipSpace(s)
		if s == "" {
			return items, "", nil
		}
		switch s[0] {
		case ']':
			return items, s[1:], nil
		case ',':
			s = s[1:]
			continue
		}

		v, rest, err := p.value(s)
		if err != nil {
			return nil, "", err
		}
		items = append(items, v)
		s = rest
	}
}

func (p *tolerantParser) object(s string) (any, string, error) {
	obj := map[string]any{}
	s = s[1:]
	for {
		s = skipSpace(s)
		if s == "" {
			return obj, "", nil
		}
		switch s[0] {
		case '}':
			return obj, s[1:], nil
		case ',':
			s = s[1:]
			continue
		case '"':
		default:
			return nil, "", p.fail(s, fmt.Sprintf("expected object key, found %q", s[0]))
		}

		key, rest, closed := p.str(s)
		rest = skipSpace(rest)
		if !closed || rest == "" || rest[0] != ':' {
			return nil, "", p.fail(rest, fmt.Sprintf("expected ':' after key %q", key))
		}

		rest = skipSpace(rest[1:])
		switch {
		case rest == "":
			obj[key] = nil
			return obj, "", nil
		case rest[0] == ',':
			obj[key] = nil
			s = rest[1:]
			continue
		case rest[0] == '}':
			obj[key] = nil
			return obj, rest[1:], nil
		}

		v, after, err := p.value(rest)
		if err != nil {
			return nil, "", err
		}
		obj[key] = v
		s = after
	}
}
