package restruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Engine runs the request / extract / parse / deserialize / validate loop for
// one target shape, re-querying the model with feedback until a value passes
// or the retry budget is spent. An Engine holds configuration only; each Run
// owns its conversation and history, so one Engine may serve concurrent runs.
type Engine struct {
	model      Model
	shape      *Shape
	mode       Mode
	maxRetries int
	streaming  bool
	toolName   string

	deserializer *Deserializer
	validator    *Validator
	feedback     *FeedbackBuilder
	metrics      *Metrics
	onPartial    func(*ParsedValue)
	onAttempt    func(Attempt)
	log          *slog.Logger
}

// NewEngine builds an engine from the same options the extractors take.
func NewEngine(model Model, shape *Shape, log *slog.Logger, optFns ...func(*Options)) (*Engine, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if shape == nil {
		return nil, ErrNilShape
	}
	if log == nil {
		log = slog.Default()
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}
	return newEngine(model, shape, log, opts), nil
}

func newEngine(model Model, shape *Shape, log *slog.Logger, opts Options) *Engine {
	dopts := []DeserializerOption{WithDeserializerLogger(log)}
	if opts.LenientOptional {
		dopts = append(dopts, WithLenient())
	}
	return &Engine{
		model:        model,
		shape:        shape,
		mode:         opts.Mode,
		maxRetries:   opts.MaxRetries,
		streaming:    opts.Streaming,
		toolName:     opts.ToolName,
		deserializer: NewDeserializer(dopts...),
		validator:    NewValidator(log, opts.Rules...),
		feedback:     NewFeedbackBuilder(opts.FeedbackTemplate, shape, log),
		metrics:      opts.Metrics,
		onPartial:    opts.OnPartial,
		onAttempt:    opts.OnAttempt,
		log:          log,
	}
}

// Run drives attempts until one succeeds or maxRetries+1 attempts have
// failed. A cancelled context fails each remaining attempt at the request
// stage without calling the model. The history is returned in both cases. The
// caller's conversation slice is not modified.
func (e *Engine) Run(ctx context.Context, conversation []*Message) (*Hydrated, *AttemptHistory, error) {
	history := newAttemptHistory()
	conv := slices.Clone(conversation)

	e.log.Debug("=== RUN STARTED ===",
		"request_id", history.ID(),
		"shape", e.shape.Name,
		"mode", e.mode,
		"max_retries", e.maxRetries,
		"messages", len(conv))

	for i := 0; i <= e.maxRetries; i++ {
		a := e.attempt(ctx, i, conv)
		if a.Err == nil {
			a.Finalized = true
		}
		history.record(a)
		e.metrics.observeAttempt(e.mode, a)
		if e.onAttempt != nil {
			e.onAttempt(a)
		}

		if a.Err == nil {
			e.metrics.observeRequest(e.mode, history, true)
			e.log.Info("Extraction succeeded",
				"request_id", history.ID(),
				"attempts", history.Len(),
				"strategy", a.Extracted.Strategy,
				"total_tokens", history.TotalUsage().TotalTokens)
			return a.Hydrated, history, nil
		}

		e.log.Debug("Attempt failed",
			"request_id", history.ID(),
			"attempt", i,
			"stage", a.Stage,
			"error", a.Err)

		if i < e.maxRetries {
			conv = append(conv, e.feedback.Build(a)...)
		}
	}

	e.metrics.observeRequest(e.mode, history, false)
	failure := newAggregateFailure(history)
	e.log.Info("Extraction failed", "request_id", history.ID(), "attempts", history.Len())
	return nil, history, failure
}

func (e *Engine) attempt(ctx context.Context, index int, conv []*Message) (a Attempt) {
	a = Attempt{Index: index, Request: slices.Clone(conv), Started: time.Now()}
	defer func() { a.Duration = time.Since(a.Started) }()

	resp, err := e.request(ctx, conv)
	if resp != nil {
		a.Raw, a.ToolCalls, a.Usage = resp.Text, resp.ToolCalls, resp.Usage
	}
	if err != nil {
		a.Stage, a.Err = StageRequesting, err
		return a
	}

	ext, err := ExtractContent(a.Raw, a.ToolCalls, e.mode, e.toolName)
	if err != nil {
		a.Stage, a.Err = StageExtracting, err
		return a
	}
	a.Extracted = ext

	if e.mode == ModeFreeText {
		a.Parsed = &ParsedValue{Value: ext.Text}
	} else {
		pv, err := Parse(ext.Text)
		if err != nil {
			a.Stage, a.Err = StageParsing, err
			return a
		}
		a.Parsed = pv
	}

	h, err := e.deserializer.Deserialize(a.Parsed.Value, e.shape)
	if err != nil {
		a.Stage, a.Err = StageDeserializing, err
		return a
	}
	a.Hydrated = h

	verdict := e.validator.Validate(h, e.shape)
	a.Verdict = &verdict
	if !verdict.Valid {
		a.Stage, a.Err = StageValidating, &ValidationFailure{Errors: verdict.Errors}
		return a
	}

	a.Stage = StageSucceeded
	return a
}

// request performs the model call. A streaming model is read through a
// ContentBuffer; whatever arrived before a stream error is still returned.
func (e *Engine) request(ctx context.Context, conv []*Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.streaming {
		if sm, ok := e.model.(StreamingModel); ok {
			return e.stream(ctx, sm, conv)
		}
		e.log.Debug("Model does not stream, using a single call")
	}

	resp, err := e.model.Generate(ctx, conv)
	if err != nil {
		return resp, fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return nil, errors.New("generate: model returned no response")
	}
	return resp, nil
}

func (e *Engine) stream(ctx context.Context, sm StreamingModel, conv []*Message) (*Response, error) {
	buf := NewContentBuffer(e.mode).WithToolName(e.toolName)
	var usage Usage
	collected := func() *Response {
		return &Response{Text: buf.Raw(), ToolCalls: buf.ToolCalls(), Usage: usage}
	}

	for delta, err := range sm.GenerateStream(ctx, conv) {
		if err != nil {
			return collected(), fmt.Errorf("stream: %w", err)
		}
		if delta == nil {
			continue
		}
		buf.Append(delta.Text)
		for _, tc := range delta.ToolCalls {
			buf.AppendToolCall(tc)
		}
		// Providers report cumulative usage on stream chunks.
		if !delta.Usage.IsZero() {
			usage = delta.Usage
		}
		if e.onPartial != nil && !buf.IsEmpty() {
			if pv, err := buf.Parsed(); err == nil {
				e.onPartial(pv)
			}
		}
	}
	return collected(), nil
}
