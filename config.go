package restruct

import "time"

// GenerateOption configures a GenAIModel.
type GenerateOption func(*generateConfig)

type generateConfig struct {
	ModelName  string
	Mode       Mode
	Shape      *Shape
	ToolName   string
	Parameters map[string]string // temperature, topK, topP, maxTokens, maxOutputTokens
	Retries    int
	Backoff    time.Duration
}

// WithModelName sets the model name
func WithModelName(name string) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.ModelName = name
	}
}

// WithResponseShape makes requests ask for output in mode, constrained by
// shape where the mode supports it.
func WithResponseShape(mode Mode, shape *Shape) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.Mode = mode
		cfg.Shape = shape
	}
}

// WithFunctionName names the function declared in tool-call mode.
func WithFunctionName(name string) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.ToolName = name
	}
}

// WithGenerateParameters sets sampling parameters.
func WithGenerateParameters(params map[string]string) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.Parameters = params
	}
}

// WithCallRetry retries failed API calls with exponential backoff.
func WithCallRetry(max int, backoff time.Duration) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.Retries = max
		cfg.Backoff = backoff
	}
}
