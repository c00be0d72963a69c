package restruct

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Mode selects which extraction strategies and buffer normalization apply to
// a request. It is fixed for the lifetime of one request.
type Mode int

const (
	ModePlainJSON Mode = iota
	ModeSchemaGuidedJSON
	ModeMarkdownFencedJSON
	ModeToolCall
	ModeFreeText
)

func (m Mode) String() string {
	switch m {
	case ModePlainJSON:
		return "json"
	case ModeSchemaGuidedJSON:
		return "json_schema"
	case ModeMarkdownFencedJSON:
		return "markdown_json"
	case ModeToolCall:
		return "tool_call"
	case ModeFreeText:
		return "text"
	default:
		return "unknown"
	}
}

// Strategy is one rule for isolating a structured span from model output.
type Strategy int

const (
	StrategyDirect Strategy = iota
	StrategyFenced
	StrategyBracket
	StrategyToolCall
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyFenced:
		return "fenced"
	case StrategyBracket:
		return "bracket"
	case StrategyToolCall:
		return "tool_call"
	default:
		return "unknown"
	}
}

// StrategiesFor returns the fixed strategy order for a mode.
func StrategiesFor(mode Mode) []Strategy {
	switch mode {
	case ModeMarkdownFencedJSON:
		return []Strategy{StrategyFenced, StrategyDirect, StrategyBracket}
	case ModeToolCall:
		return []Strategy{StrategyToolCall, StrategyDirect, StrategyFenced, StrategyBracket}
	case ModeFreeText:
		return []Strategy{StrategyDirect}
	default:
		return []Strategy{StrategyDirect, StrategyFenced, StrategyBracket}
	}
}

// ExtractedContent is a candidate structured span and the strategy that found it.
type ExtractedContent struct {
	Text     string
	Strategy Strategy
}

// ExtractionFailure is returned when no strategy located structured content.
type ExtractionFailure struct {
	Tried []Strategy
	Raw   string
}

func (e *ExtractionFailure) Error() string {
	names := make([]string, len(e.Tried))
	for i, s := range e.Tried {
		names[i] = s.String()
	}
	return fmt.Sprintf("no structured content found (tried %s)", strings.Join(names, ", "))
}

// extractInput is what a strategy looks at.
type extractInput struct {
	raw       string
	toolCalls []ToolCall
	toolName  string
	mode      Mode
}

// Extract runs the strategy chain for mode over raw text.
func Extract(raw string, mode Mode) (*ExtractedContent, error) {
	return ExtractContent(raw, nil, mode, "")
}

// ExtractContent runs the strategy chain for mode over a response's text and
// tool calls. toolName, when set, restricts the tool-call strategy to calls
// with that name. The first strategy that succeeds wins.
func ExtractContent(raw string, calls []ToolCall, mode Mode, toolName string) (*ExtractedContent, error) {
	in := extractInput{raw: raw, toolCalls: calls, toolName: toolName, mode: mode}
	chain := StrategiesFor(mode)
	for _, s := range chain {
		if text, ok := s.apply(in); ok {
			return &ExtractedContent{Text: text, Strategy: s}, nil
		}
	}
	return nil, &ExtractionFailure{Tried: chain, Raw: raw}
}

func (s Strategy) apply(in extractInput) (string, bool) {
	switch s {
	case StrategyDirect:
		return extractDirect(in.raw, in.mode == ModeFreeText)
	case StrategyFenced:
		return extractFenced(in.raw)
	case StrategyBracket:
		return extractBracket(in.raw)
	case StrategyToolCall:
		return extractToolCall(in.raw, in.toolCalls, in.toolName)
	default:
		return "", false
	}
}

func extractDirect(raw string, unchecked bool) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if unchecked || s[0] == '{' || s[0] == '[' {
		return s, true
	}
	// A bare JSON scalar is still well-behaved output for scalar targets.
	if json.Valid([]byte(s)) {
		return s, true
	}
	return "", false
}

var fenceOpen = regexp.MustCompile("```[ \t]*([A-Za-z0-9_+.-]*)[ \t]*\r?\n?")

func extractFenced(raw string) (string, bool) {
	loc := fenceOpen.FindStringIndex(raw)
	if loc == nil {
		return "", false
	}
	body := raw[loc[1]:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	// An opened fence that has not closed yet still yields its interior so a
	// streaming buffer can parse what has arrived.
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	return body, true
}

func extractBracket(raw string) (string, bool) {
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	// Still open: hand back everything from the opener on.
	return strings.TrimSpace(raw[start:]), true
}

// envelopePaths are gjson paths where providers put tool-call arguments when
// a response is relayed as a raw JSON envelope instead of structured calls.
var envelopePaths = []string{
	"choices.0.message.tool_calls.0.function.arguments",
	"tool_calls.0.function.arguments",
	"function_call.arguments",
	"content.#(type==\"tool_use\").input",
	"candidates.0.content.parts.0.functionCall.args",
	"functionCall.args",
}

func extractToolCall(raw string, calls []ToolCall, name string) (string, bool) {
	for _, c := range calls {
		if name != "" && c.Name != name {
			continue
		}
		if args := strings.TrimSpace(c.Arguments); args != "" {
			return args, true
		}
	}

	s := strings.TrimSpace(raw)
	if s == "" || !gjson.Valid(s) {
		return "", false
	}
	for _, path := range envelopePaths {
		r := gjson.Get(s, path)
		if !r.Exists() {
			continue
		}
		// OpenAI-style envelopes carry arguments as an encoded string.
		if r.Type == gjson.String {
			if args := strings.TrimSpace(r.Str); args != "" {
				return args, true
			}
			continue
		}
		if r.IsObject() || r.IsArray() {
			return r.Raw, true
		}
	}
	return "", false
}
