package restruct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultModelName = "gemini-1.5-pro"
	defaultToolName  = "emit_result"
)

// GenAIModel is a StreamingModel backed by the Google GenAI SDK.
type GenAIModel struct {
	client *genai.Client
	cfg    generateConfig
	log    *slog.Logger
}

var _ StreamingModel = (*GenAIModel)(nil)

func NewGenAIModel(client *genai.Client, log *slog.Logger, opts ...GenerateOption) *GenAIModel {
	if log == nil {
		log = slog.Default()
	}
	var cfg generateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModelName
	}
	return &GenAIModel{client: client, cfg: cfg, log: log}
}

// Generate sends the conversation and returns the first candidate.
func (m *GenAIModel) Generate(ctx context.Context, conversation []*Message) (*Response, error) {
	contents, config, err := m.prepare(conversation)
	if err != nil {
		return nil, err
	}

	m.log.Debug("Generating content", "model", m.cfg.ModelName, "content_count", len(contents), "mode", m.cfg.Mode)

	var resp *genai.GenerateContentResponse
	err = retryable(ctx, func() error {
		var genErr error
		resp, genErr = m.client.Models.GenerateContent(ctx, m.cfg.ModelName, contents, config)
		return genErr
	}, m.cfg.Retries, m.cfg.Backoff, m.log)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	out, err := fromGenAIResponse(resp)
	if err != nil {
		return nil, err
	}
	m.log.Debug("Generated content",
		"response_length", len(out.Text),
		"tool_calls", len(out.ToolCalls),
		"total_tokens", out.Usage.TotalTokens)
	return out, nil
}

// GenerateStream yields one Response per streamed chunk.
func (m *GenAIModel) GenerateStream(ctx context.Context, conversation []*Message) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		contents, config, err := m.prepare(conversation)
		if err != nil {
			yield(nil, err)
			return
		}

		m.log.Debug("Streaming content", "model", m.cfg.ModelName, "content_count", len(contents))
		for chunk, err := range m.client.Models.GenerateContentStream(ctx, m.cfg.ModelName, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("failed to stream content: %w", err))
				return
			}
			delta, err := chunkResponse(chunk)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

func (m *GenAIModel) prepare(conversation []*Message) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if m.client == nil {
		return nil, nil, errors.New("client not initialized")
	}
	contents, system := toGenAIContents(conversation, m.log)
	if len(contents) == 0 {
		return nil, nil, errors.New("no valid content provided")
	}
	config, err := buildConfig(m.cfg, system)
	if err != nil {
		return nil, nil, err
	}
	return contents, config, nil
}

// toGenAIContents converts the conversation. System messages are joined into
// the system instruction; the rest keep their order and role.
func toGenAIContents(conversation []*Message, log *slog.Logger) ([]*genai.Content, *genai.Content) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, msg := range conversation {
		if msg == nil {
			continue
		}
		if msg.Role == RoleSystem {
			if t := msg.Text(); t != "" {
				system = append(system, t)
			}
			continue
		}

		var parts []*genai.Part
		for _, part := range msg.Parts {
			switch part.Type {
			case "text":
				parts = append(parts, genai.NewPartFromText(part.Text))
			case "image", "data":
				parts = append(parts, genai.NewPartFromBytes(part.Data, part.MimeType))
			case "file":
				file := genai.File{URI: part.FileURI, MIMEType: part.MimeType}
				log.Debug("Created genai file part", "uri", file.URI, "mime_type", file.MIMEType)
				parts = append(parts, genai.NewPartFromFile(file))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}

// buildConfig maps the output mode onto the request: JSON mime type, response
// schema, or a single forced function declaration.
func buildConfig(cfg generateConfig, system *genai.Content) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{SystemInstruction: system}

	switch cfg.Mode {
	case ModePlainJSON:
		config.ResponseMIMEType = "application/json"
	case ModeSchemaGuidedJSON:
		config.ResponseMIMEType = "application/json"
		if cfg.Shape != nil {
			config.ResponseJsonSchema = cfg.Shape.JSONSchema()
		}
	case ModeToolCall:
		name := cfg.ToolName
		if name == "" {
			name = defaultToolName
		}
		decl := &genai.FunctionDeclaration{
			Name:        name,
			Description: "Return the extracted result.",
		}
		if cfg.Shape != nil {
			decl.ParametersJsonSchema = cfg.Shape.JSONSchema()
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{decl}}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{name},
			},
		}
	}

	if err := applyParameters(config, cfg.Parameters); err != nil {
		return nil, err
	}
	return config, nil
}

func applyParameters(config *genai.GenerateContentConfig, params map[string]string) error {
	if temp, exists := params["temperature"]; exists {
		tempFloat, err := strconv.ParseFloat(temp, 32)
		if err != nil {
			return fmt.Errorf("invalid temperature parameter '%s': %w", temp, err)
		}
		if tempFloat < 0 || tempFloat > 1 {
			return fmt.Errorf("temperature parameter '%v' must be between 0.0 and 1.0", tempFloat)
		}
		val := float32(tempFloat)
		config.Temperature = &val
	}
	if topK, exists := params["topK"]; exists {
		topKFloat, err := strconv.ParseFloat(topK, 32)
		if err != nil {
			return fmt.Errorf("invalid topK parameter '%s': %w", topK, err)
		}
		if topKFloat <= 0 {
			return fmt.Errorf("topK parameter '%v' must be greater than 0", topKFloat)
		}
		val := float32(topKFloat)
		config.TopK = &val
	}
	if topP, exists := params["topP"]; exists {
		topPFloat, err := strconv.ParseFloat(topP, 32)
		if err != nil {
			return fmt.Errorf("invalid topP parameter '%s': %w", topP, err)
		}
		if topPFloat < 0 || topPFloat > 1 {
			return fmt.Errorf("topP parameter '%v' must be between 0.0 and 1.0", topPFloat)
		}
		val := float32(topPFloat)
		config.TopP = &val
	}
	for _, key := range []string{"maxTokens", "maxOutputTokens"} {
		raw, exists := params[key]
		if !exists {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s parameter '%s': %w", key, raw, err)
		}
		if n <= 0 {
			return fmt.Errorf("%s parameter '%d' must be greater than 0", key, n)
		}
		config.MaxOutputTokens = int32(n)
	}
	return nil
}

func fromGenAIResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, errors.New("no parts in candidate content")
	}
	return chunkResponse(resp)
}

// chunkResponse converts a response or stream chunk without requiring content.
func chunkResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	out := &Response{}
	if resp == nil {
		return out, nil
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("encode function call args: %w", err)
				}
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				})
			case part.Text != "" && !part.Thought:
				text.WriteString(part.Text)
			}
		}
		out.Text = text.String()
	}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = Usage{
			InputTokens:  int(um.PromptTokenCount),
			OutputTokens: int(um.CandidatesTokenCount),
			TotalTokens:  int(um.TotalTokenCount),
		}
	}
	return out, nil
}

// retryable executes a function with exponential backoff retry logic. The
// wait between tries ends early when ctx is done.
func retryable(ctx context.Context, call func() error, max int, backoff time.Duration, log *slog.Logger) error {
	if max <= 0 {
		return call()
	}

	delay := backoff
	var err error
	for i := 0; i <= max; i++ {
		if err = call(); err == nil {
			if i > 0 {
				log.Debug("Call succeeded", "try", i+1)
			}
			return nil
		}
		if i == max {
			break
		}
		log.Debug("Call failed, retrying", "try", i+1, "error", err, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
		delay *= 2
	}
	log.Debug("Final try failed", "tries", max+1, "error", err)
	return err
}
