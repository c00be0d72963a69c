package restruct

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ContentBuffer accumulates a streamed response and answers "what structured
// value do we have so far". It is append-only and meant for a single
// producer; parse results are cached until more content arrives.
type ContentBuffer struct {
	mode     Mode
	toolName string

	raw       strings.Builder
	calls     []ToolCall
	callBytes int

	extracted    *ExtractedContent
	extractErr   error
	extractedGen int

	parsed    *ParsedValue
	parseErr  error
	parsedGen int
}

func NewContentBuffer(mode Mode) *ContentBuffer {
	return &ContentBuffer{mode: mode, extractedGen: -1, parsedGen: -1}
}

// WithToolName restricts tool-call extraction to calls with this name.
func (b *ContentBuffer) WithToolName(name string) *ContentBuffer {
	b.toolName = name
	b.extractedGen, b.parsedGen = -1, -1
	return b
}

// Mode is fixed for the buffer's lifetime.
func (b *ContentBuffer) Mode() Mode { return b.mode }

// Append adds a text delta.
func (b *ContentBuffer) Append(delta string) *ContentBuffer {
	b.raw.WriteString(delta)
	return b
}

// AppendToolCall adds a streamed tool-call fragment. A fragment with the ID of
// a known call extends that call. A fragment without an ID extends the last
// call when it has no name, or when it repeats the last call's name and those
// arguments are still incomplete JSON. Anything else starts a new call, so
// providers that stream whole calls without IDs keep them apart.
func (b *ContentBuffer) AppendToolCall(tc ToolCall) *ContentBuffer {
	idx := -1
	switch {
	case tc.ID != "":
		for i := range b.calls {
			if b.calls[i].ID == tc.ID {
				idx = i
				break
			}
		}
	case len(b.calls) > 0:
		last := &b.calls[len(b.calls)-1]
		if tc.Name == "" || (tc.Name == last.Name && !gjson.Valid(last.Arguments)) {
			idx = len(b.calls) - 1
		}
	}

	if idx < 0 {
		b.calls = append(b.calls, tc)
		b.callBytes += len(tc.Arguments) + 1
		return b
	}
	c := &b.calls[idx]
	if c.Name == "" {
		c.Name = tc.Name
	}
	c.Arguments += tc.Arguments
	b.callBytes += len(tc.Arguments)
	return b
}

func (b *ContentBuffer) generation() int { return b.raw.Len() + b.callBytes }

func (b *ContentBuffer) Raw() string { return b.raw.String() }

// ToolCalls returns a copy of the accumulated tool calls.
func (b *ContentBuffer) ToolCalls() []ToolCall {
	out := make([]ToolCall, len(b.calls))
	copy(out, b.calls)
	return out
}

// IsEmpty reports whether nothing but whitespace has arrived.
func (b *ContentBuffer) IsEmpty() bool {
	return strings.TrimSpace(b.raw.String()) == "" && len(b.calls) == 0
}

// Normalized is the text the parser should see: trimmed, and for the
// schema-guided, fenced and tool-call modes the output of the extraction
// chain when it finds something.
func (b *ContentBuffer) Normalized() string {
	switch b.mode {
	case ModeSchemaGuidedJSON, ModeMarkdownFencedJSON, ModeToolCall:
		if ext, err := b.Extracted(); err == nil {
			return ext.Text
		}
	}
	return strings.TrimSpace(b.raw.String())
}

// Extracted runs the strategy chain for the buffer's mode over its content.
func (b *ContentBuffer) Extracted() (*ExtractedContent, error) {
	if gen := b.generation(); gen != b.extractedGen {
		b.extracted, b.extractErr = ExtractContent(b.raw.String(), b.calls, b.mode, b.toolName)
		b.extractedGen = gen
	}
	return b.extracted, b.extractErr
}

// Parsed parses the normalized content. In free-text mode the text itself is
// the value.
func (b *ContentBuffer) Parsed() (*ParsedValue, error) {
	if gen := b.generation(); gen != b.parsedGen {
		text := b.Normalized()
		if b.mode == ModeFreeText {
			b.parsed, b.parseErr = &ParsedValue{Value: text}, nil
		} else {
			b.parsed, b.parseErr = Parse(text)
		}
		b.parsedGen = gen
	}
	return b.parsed, b.parseErr
}
