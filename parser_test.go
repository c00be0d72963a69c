package restruct

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse_WellFormed(t *testing.T) {
	pv, err := Parse(`{"name":"Ann","age":30,"tags":["a","b"],"ok":true,"note":null}`)
	require.NoError(t, err)

	assert.False(t, pv.Partial)
	assert.Empty(t, pv.Remainder)
	assert.Equal(t, map[string]any{
		"name": "Ann",
		"age":  json.Number("30"),
		"tags": []any{"a", "b"},
		"ok":   true,
		"note": nil,
	}, pv.Value)
}

func TestParse_Truncated(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"dangling key", `{"a":1,"b":`, map[string]any{"a": json.Number("1"), "b": nil}},
		{"unterminated string", `{"city":"Ber`, map[string]any{"city": "Ber"}},
		{"unterminated array", `[1, 2, 3`, []any{json.Number("1"), json.Number("2"), json.Number("3")}},
		{"nested open", `{"user":{"name":"Ann","tags":["x"`, map[string]any{
			"user": map[string]any{"name": "Ann", "tags": []any{"x"}},
		}},
		{"truncated literal", `{"ok":tr`, map[string]any{"ok": true}},
		{"truncated null", `[nu`, []any{nil}},
		{"truncated exponent", `{"n":1e`, map[string]any{"n": "1e"}},
		{"truncated exponent sign", `[2E+`, []any{"2E+"}},
		{"bare minus", `{"n":-`, map[string]any{"n": "-"}},
		{"trailing dot", `{"n":1.`, map[string]any{"n": "1."}},
		{"trailing dot in array", `[12.`, []any{"12."}},
		{"minus alone in array", `[-`, []any{"-"}},
		{"complete number before cut", `[12.5`, []any{json.Number("12.5")}},
		{"trailing comma", `{"a":1,`, map[string]any{"a": json.Number("1")}},
		{"empty value before close", `{"a":}`, map[string]any{"a": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pv, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, pv.Partial)
			assert.Equal(t, tt.want, pv.Value)
			assert.Empty(t, pv.Remainder)
		})
	}
}

func TestParse_LargeIntegersKeepTheirDigits(t *testing.T) {
	for _, input := range []string{
		`{"id":9007199254740993}`,
		`{"id":9007199254740993`,
	} {
		pv, err := Parse(input)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": json.Number("9007199254740993")}, pv.Value, input)
	}

	pv, err := Parse(`{"a":1} {"b":2}`)
	require.NoError(t, err)
	assert.True(t, pv.Partial, "a second document is not strict JSON")
	assert.Equal(t, `{"b":2}`, pv.Remainder)
}

func TestParse_Remainder(t *testing.T) {
	pv, err := Parse(`{"a":1} and then some prose`)
	require.NoError(t, err)

	assert.True(t, pv.Partial)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, pv.Value)
	assert.Equal(t, "and then some prose", pv.Remainder)
}

func TestParse_StructuralFailure(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		offset int
	}{
		{"missing colon", `{"a" 1}`, 5},
		{"bare key", `{a:1}`, 1},
		{"unexpected character", `@`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pv, err := Parse(tt.input)
			assert.Nil(t, pv)

			var pf *ParseFailure
			require.ErrorAs(t, err, &pf)
			assert.Equal(t, tt.offset, pf.Offset)
			assert.Equal(t, tt.input, pf.Input)
			assert.Contains(t, err.Error(), "parse failure at offset")
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, input := range []string{"", "   \n\t"} {
		_, err := Parse(input)
		var pf *ParseFailure
		require.ErrorAs(t, err, &pf)
		assert.Equal(t, "unexpected end of input", pf.Reason)
	}
}

func TestParse_EscapedStrings(t *testing.T) {
	pv, err := Parse(`{"q":"say \"hi\"\n","u":"café"`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "say \"hi\"\n", "u": "café"}, pv.Value)
}

// jsonValue generates arbitrary JSON trees of the kinds a json.Decoder with
// UseNumber decodes into.
func jsonValue(depth int) *rapid.Generator[any] {
	scalars := []*rapid.Generator[any]{
		rapid.Just[any](nil),
		rapid.Map(rapid.Bool(), func(b bool) any { return b }),
		rapid.Map(rapid.Int64(), func(n int64) any { return json.Number(strconv.FormatInt(n, 10)) }),
		rapid.Map(rapid.Float64Range(-1e6, 1e6), func(f float64) any {
			return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
		}),
		rapid.Map(rapid.String(), func(s string) any { return s }),
	}
	if depth <= 0 {
		return rapid.OneOf(scalars...)
	}
	inner := jsonValue(depth - 1)
	return rapid.OneOf(append(scalars,
		rapid.Map(rapid.SliceOfN(inner, 0, 4), func(items []any) any {
			if items == nil {
				return []any{}
			}
			return items
		}),
		rapid.Map(rapid.MapOfN(rapid.StringMatching(`[a-z]{1,6}`), inner, 0, 4), func(m map[string]any) any {
			return m
		}),
	)...)
}

func TestParseTolerant_AgreesWithStrictDecoder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := jsonValue(3).Draw(t, "value")
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		strict, err := decodeStrict(string(data))
		if err != nil {
			t.Fatalf("strict: %v", err)
		}
		got, rest, err := parseTolerant(string(data))
		if err != nil {
			t.Fatalf("tolerant parse of %s: %v", data, err)
		}
		if rest != "" {
			t.Fatalf("unexpected remainder %q for %s", rest, data)
		}
		if !assert.ObjectsAreEqual(strict, got) {
			t.Fatalf("tolerant %#v != strict %#v for %s", got, strict, data)
		}
	})
}

func TestParseTolerant_PrefixesNeverPanic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := jsonValue(3).Draw(t, "value")
		data, _ := json.Marshal(v)
		cut := rapid.IntRange(1, len(data)).Draw(t, "cut")

		// Any prefix of valid JSON is either parsed or rejected with a
		// ParseFailure.
		_, err := Parse(string(data[:cut]))
		if err != nil {
			if _, ok := err.(*ParseFailure); !ok {
				t.Fatalf("unexpected error type %T for %q", err, data[:cut])
			}
		}
	})
}
