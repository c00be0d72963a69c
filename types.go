package restruct

import (
	"context"
	"iter"
	"time"
)

// ToolCall is a structured call returned by a provider instead of prose.
// Arguments holds the raw JSON argument payload.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Response is what the model collaborator returns for one request. When
// streaming, each yielded Response is a delta.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Model is the model collaborator. It receives the whole conversation and
// returns the raw response; transport concerns stay behind it.
type Model interface {
	Generate(ctx context.Context, conversation []*Message) (*Response, error)
}

// StreamingModel is a Model that can also deliver a response incrementally.
type StreamingModel interface {
	Model
	GenerateStream(ctx context.Context, conversation []*Message) iter.Seq2[*Response, error]
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, conversation []*Message) (*Response, error)

func (f ModelFunc) Generate(ctx context.Context, conversation []*Message) (*Response, error) {
	return f(ctx, conversation)
}

// Runner lets the batch API schedule work with any concurrency model.
type Runner interface {
	Go(fn func() error) // schedule
	Wait() error        // join / propagate first err
}

// PromptProvider should return the prompt template text for the given tag
type PromptProvider interface {
	GetPrompt(tag string, version int) (string, error)
}

// PromptContext is what an instruction template may refer to.
type PromptContext struct {
	Keys     []string // top-level field names of the target shape
	Schema   string   // the shape's JSON Schema, indented
	Mode     Mode
	Document string // first text part of the input, if any
}

// ContextualPromptProvider extends PromptProvider to support template variables.
type ContextualPromptProvider interface {
	PromptProvider
	GetPromptWithContext(tag string, version int, pc PromptContext) (string, error)
}

// Options represents functional options for extraction
type Options struct {
	Model            string
	Timeout          time.Duration
	Runner           Runner             // nil → DefaultRunner
	Mode             Mode               // zero → ModePlainJSON
	Streaming        bool               // opt-in, needs a StreamingModel
	MaxRetries       int                // 0 → single shot
	TransportRetries int                // genai adapter only
	Backoff          time.Duration      // backoff between transport retries
	Rules            []Rule             // custom business rules
	Metrics          *Metrics           // nil → no metrics
	InstructionLabel string             // prompt tag rendered as the system instruction
	FeedbackTemplate string             // Twig template for corrective feedback
	ToolName         string             // tool-call mode: function name to declare/accept
	Parameters       map[string]string  // temperature, topK, topP, maxOutputTokens
	LenientOptional  bool               // coercion errors on optional fields are not fatal
	OnPartial        func(*ParsedValue) // streaming: every successfully parsed prefix
	OnAttempt        func(Attempt)      // after each attempt is recorded
	Shape            *Shape             // overrides the reflected shape (dynamic extraction)
}

// Functional option constructors
func WithModel(name string) func(*Options) {
	return func(o *Options) { o.Model = name }
}

func WithTimeout(d time.Duration) func(*Options) {
	return func(o *Options) { o.Timeout = d }
}

func WithRunner(r Runner) func(*Options) {
	return func(o *Options) { o.Runner = r }
}

func WithMode(m Mode) func(*Options) {
	return func(o *Options) { o.Mode = m }
}

func WithStreaming() func(*Options) {
	return func(o *Options) { o.Streaming = true }
}

// WithRetry bounds the number of corrective re-queries after the first attempt.
func WithRetry(max int) func(*Options) {
	return func(o *Options) { o.MaxRetries = max }
}

// WithTransportRetry retries transient model-call errors inside the genai
// adapter with exponential backoff. These retries do not count as attempts.
func WithTransportRetry(max int, backoff time.Duration) func(*Options) {
	return func(o *Options) {
		o.TransportRetries = max
		o.Backoff = backoff
	}
}

func WithRules(rules ...Rule) func(*Options) {
	return func(o *Options) { o.Rules = append(o.Rules, rules...) }
}

func WithMetrics(m *Metrics) func(*Options) {
	return func(o *Options) { o.Metrics = m }
}

// WithInstructionPrompt renders the named prompt from the PromptProvider and
// sends it as the system instruction.
func WithInstructionPrompt(label string) func(*Options) {
	return func(o *Options) { o.InstructionLabel = label }
}

func WithFeedbackTemplate(tpl string) func(*Options) {
	return func(o *Options) { o.FeedbackTemplate = tpl }
}

func WithToolName(name string) func(*Options) {
	return func(o *Options) { o.ToolName = name }
}

func WithParameters(params map[string]string) func(*Options) {
	return func(o *Options) { o.Parameters = params }
}

func WithLenientOptional() func(*Options) {
	return func(o *Options) { o.LenientOptional = true }
}

func WithOnPartial(fn func(*ParsedValue)) func(*Options) {
	return func(o *Options) { o.OnPartial = fn }
}

func WithOnAttempt(fn func(Attempt)) func(*Options) {
	return func(o *Options) { o.OnAttempt = fn }
}

// WithShape replaces the shape reflected from the target type.
func WithShape(s *Shape) func(*Options) {
	return func(o *Options) { o.Shape = s }
}
