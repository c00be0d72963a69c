// Package restruct extracts typed, validated values from free-form model
// output, and repairs bad output by asking the model again.
//
// Models rarely reply with exactly the structure you asked for. Replies come
// wrapped in prose, inside markdown fences, cut off mid-object, as tool-call
// arguments, or with a field of the wrong type. restruct treats each reply as
// one attempt of a bounded loop:
//
//  1. request: the conversation goes to the Model
//  2. extract: a fixed strategy chain for the Mode isolates the structured span
//  3. parse: strict JSON first, then a tolerant parser for truncated input
//  4. deserialize: the value is mapped onto the target Shape
//  5. validate: JSON Schema checks, custom Rules and the value's own Validate
//
// A failure at any stage is recorded, the failed reply and a critique listing
// every error are appended to the conversation, and the model is asked again
// until the value passes or the retry budget is spent.
//
// # Basic Usage
//
//	type Person struct {
//	    Name  string `json:"name"`
//	    Age   int    `json:"age"`
//	    Email string `json:"email,omitempty"`
//	}
//
//	x := restruct.New[Person](client, nil)
//	person, history, err := x.ExtractFromText(ctx,
//	    "Ann is thirty and can be reached at ann@example.com",
//	    restruct.WithModel("gemini-2.0-flash"),
//	    restruct.WithRetry(2),
//	)
//
// The AttemptHistory is returned on success and on failure. It records every
// attempt, and TotalUsage sums token usage across all of them.
//
// # Shapes
//
// ShapeOf reflects a Go type into a Shape. Fields are keyed by their json
// names; pointer and omitempty fields are optional. The restruct tag adjusts
// the inference:
//
//	Status string `json:"status" restruct:"enum=open|closed,default=open"`
//	Note   string `json:"note" restruct:"optional,desc=free-form remark"`
//
// A named string type can list its values once by implementing Enumerator.
// Shapes can also be built by hand with ObjectShape, or loaded from a JSON
// Schema document with ShapeFromJSONSchema for use with DynamicExtractor.
//
// # Output Modes
//
// The Mode fixes the extraction strategy order and, for the GenAI adapter, the
// request configuration:
//
//	ModePlainJSON          direct > fenced > bracket; JSON mime type
//	ModeSchemaGuidedJSON   direct > fenced > bracket; response JSON Schema
//	ModeMarkdownFencedJSON fenced > direct > bracket
//	ModeToolCall           tool call > direct > fenced > bracket; forced function call
//	ModeFreeText           the trimmed reply is the value
//
// # Streaming
//
// With WithStreaming and a StreamingModel, deltas accumulate in a
// ContentBuffer and WithOnPartial receives every prefix that parses.
// Extractor.Stream hands out best-effort partial *T values.
//
// # Models
//
// Model is a single method interface. GenAIModel adapts the Google GenAI SDK;
// ScriptedModel replays canned responses for tests. Any other provider can be
// plugged in with ModelFunc.
//
// # Observability
//
// Components log with log/slog at debug level. NewMetrics registers
// Prometheus collectors for attempts, tokens and request outcomes. Plan and
// Explain describe a request without calling the model.
package restruct
