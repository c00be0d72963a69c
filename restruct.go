package restruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"google.golang.org/genai"
)

var (
	ErrEmptyAssets  = errors.New("no assets provided")
	ErrModelMissing = errors.New("model not specified")
	ErrNilModel     = errors.New("model is nil")
	ErrNilShape     = errors.New("shape is nil")
	// ErrStreamStopped is returned by Stream when the update callback asked to stop.
	ErrStreamStopped = errors.New("stream stopped by callback")
)

// Extractor produces *T values from assets.
type Extractor[T any] struct {
	model   Model         // fixed collaborator; nil → GenAIModel per request
	client  *genai.Client // used when model is nil
	prompts PromptProvider
	log     *slog.Logger
}

// New returns an Extractor backed by the GenAI client that logs with
// slog.Default().
func New[T any](client *genai.Client, p PromptProvider) *Extractor[T] {
	return NewWithLogger[T](client, p, slog.Default())
}

// NewWithLogger lets the caller supply their own logger.
func NewWithLogger[T any](client *genai.Client, p PromptProvider, log *slog.Logger) *Extractor[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor[T]{client: client, prompts: p, log: log}
}

// NewWithModel uses m for every request instead of the GenAI client.
func NewWithModel[T any](m Model, p PromptProvider, log *slog.Logger) *Extractor[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor[T]{model: m, prompts: p, log: log}
}

// Extract runs one request over assets. The attempt history is returned
// whenever the request reached the model, successful or not.
func (x *Extractor[T]) Extract(
	ctx context.Context,
	assets []Asset,
	optFns ...func(*Options),
) (*T, *AttemptHistory, error) {
	x.log.Debug("=== EXTRACT STARTED ===",
		"assets_count", len(assets),
		"options_count", len(optFns),
		"prompt_provider_type", fmt.Sprintf("%T", x.prompts))

	if len(assets) == 0 {
		return nil, nil, fmt.Errorf("extract: %w", ErrEmptyAssets)
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	engine, conv, err := x.prepare(ctx, assets, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("extract: %w", err)
	}

	h, history, err := engine.Run(ctx, conv)
	if err != nil {
		return nil, history, err
	}
	out, ok := h.Value.(*T)
	if !ok {
		return nil, history, fmt.Errorf("extract: hydrated %T, want *%s", h.Value, reflect.TypeFor[T]())
	}
	return out, history, nil
}

// ExtractFromText is Extract over a single text document.
func (x *Extractor[T]) ExtractFromText(
	ctx context.Context,
	document string,
	optFns ...func(*Options),
) (*T, *AttemptHistory, error) {
	return x.Extract(ctx, []Asset{NewTextAsset(document)}, optFns...)
}

// Stream runs a streaming request. onUpdate receives a best-effort *T each
// time more of the response parses; returning false stops the request, and
// Stream then returns the last partial value with ErrStreamStopped.
func (x *Extractor[T]) Stream(
	ctx context.Context,
	assets []Asset,
	onUpdate func(partial *T) bool,
	optFns ...func(*Options),
) (*T, *AttemptHistory, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt := reflect.TypeFor[T]()
	var (
		last    *T
		stopped bool
	)
	partial := func(pv *ParsedValue) {
		if stopped {
			return
		}
		v, err := hydrate(pv.Value, rt)
		if err != nil {
			return
		}
		last = v.(*T)
		if !onUpdate(last) {
			stopped = true
			cancel()
		}
	}

	optFns = append(optFns, WithStreaming(), chainPartial(partial))
	out, history, err := x.Extract(ctx, assets, optFns...)
	if stopped {
		return last, history, ErrStreamStopped
	}
	return out, history, err
}

// chainPartial adds fn after any partial callback already configured.
func chainPartial(fn func(*ParsedValue)) func(*Options) {
	return func(o *Options) {
		prev := o.OnPartial
		o.OnPartial = func(pv *ParsedValue) {
			if prev != nil {
				prev(pv)
			}
			fn(pv)
		}
	}
}

// prepare resolves the shape, the model and the opening conversation.
func (x *Extractor[T]) prepare(ctx context.Context, assets []Asset, opts Options) (*Engine, []*Message, error) {
	if opts.MaxRetries < 0 {
		return nil, nil, fmt.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}
	shape, err := x.shape(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("shape analysis failed: %w", err)
	}
	model, err := x.modelFor(opts, shape)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := conversationFrom(ctx, assets, x.log)
	if err != nil {
		return nil, nil, err
	}
	instruction, err := x.instruction(opts, shape, firstText(msgs))
	if err != nil {
		return nil, nil, err
	}
	conv := append([]*Message{NewSystemMessage(NewTextPart(instruction))}, msgs...)

	x.log.Debug("Options configured",
		"model", opts.Model,
		"mode", opts.Mode,
		"max_retries", opts.MaxRetries,
		"streaming", opts.Streaming,
		"shape", shape.Name,
		"fields", len(shape.Fields))

	return newEngine(model, shape, x.log, opts), conv, nil
}

func (x *Extractor[T]) shape(opts Options) (*Shape, error) {
	rt := reflect.TypeFor[T]()
	if opts.Shape == nil {
		return ShapeOf[T]()
	}
	s := *opts.Shape
	s.goType = rt
	return &s, nil
}

func (x *Extractor[T]) modelFor(opts Options, shape *Shape) (Model, error) {
	if x.model != nil {
		return x.model, nil
	}
	if x.client == nil {
		return nil, ErrNilModel
	}
	if opts.Model == "" {
		return nil, ErrModelMissing
	}
	return NewGenAIModel(x.client, x.log,
		WithModelName(opts.Model),
		WithResponseShape(opts.Mode, shape),
		WithFunctionName(opts.ToolName),
		WithGenerateParameters(opts.Parameters),
		WithCallRetry(opts.TransportRetries, opts.Backoff),
	), nil
}

// instruction renders the system instruction: the named prompt when one is
// configured, otherwise a short default for the mode.
func (x *Extractor[T]) instruction(opts Options, shape *Shape, document string) (string, error) {
	label := opts.InstructionLabel
	if label == "" {
		return defaultInstruction(opts.Mode, opts.ToolName, shape), nil
	}
	if x.prompts == nil {
		return "", fmt.Errorf("instruction prompt %q set but no prompt provider", label)
	}

	if cp, ok := x.prompts.(ContextualPromptProvider); ok {
		x.log.Debug("Using ContextualPromptProvider", "provider_type", fmt.Sprintf("%T", cp), "label", label)
		return cp.GetPromptWithContext(label, 1, PromptContext{
			Keys:     shape.FieldNames(),
			Schema:   schemaText(shape),
			Mode:     opts.Mode,
			Document: document,
		})
	}

	tpl, err := x.prompts.GetPrompt(label, 1)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(tpl, "{{.Keys}}", strings.Join(shape.FieldNames(), ",")), nil
}

func defaultInstruction(mode Mode, toolName string, shape *Shape) string {
	schema := schemaText(shape)
	switch mode {
	case ModeFreeText:
		return "Answer with plain text only."
	case ModeToolCall:
		if toolName == "" {
			toolName = defaultToolName
		}
		return fmt.Sprintf("Extract the requested data from the input and call %s with it.", toolName)
	case ModeMarkdownFencedJSON:
		return "Extract the requested data from the input. Reply with a single ```json fenced block matching this JSON Schema:\n" + schema
	default:
		return "Extract the requested data from the input. Reply with JSON only, matching this JSON Schema:\n" + schema
	}
}

// DynamicExtractor extracts into plain maps, for callers that know the shape
// only at run time.
type DynamicExtractor struct {
	*Extractor[map[string]any]
}

func NewDynamic(client *genai.Client, p PromptProvider, log *slog.Logger) *DynamicExtractor {
	return &DynamicExtractor{Extractor: NewWithLogger[map[string]any](client, p, log)}
}

func NewDynamicWithModel(m Model, p PromptProvider, log *slog.Logger) *DynamicExtractor {
	return &DynamicExtractor{Extractor: NewWithModel[map[string]any](m, p, log)}
}

// ExtractDynamic extracts doc against a JSON Schema document. An empty schema
// accepts any object.
func (d *DynamicExtractor) ExtractDynamic(
	ctx context.Context,
	doc string,
	schema string,
	optFns ...func(*Options),
) (map[string]any, *AttemptHistory, error) {
	if doc == "" {
		return nil, nil, fmt.Errorf("extract dynamic: %w", ErrEmptyDocument)
	}
	shape := MapShape()
	if schema != "" {
		var err error
		if shape, err = ShapeFromJSONSchema(schema); err != nil {
			return nil, nil, fmt.Errorf("extract dynamic: %w", err)
		}
	}

	out, history, err := d.ExtractFromText(ctx, doc, append(optFns, WithShape(shape))...)
	if err != nil {
		return nil, history, err
	}
	d.log.Debug("Extraction completed successfully", "result_keys", len(*out))
	return *out, history, nil
}
