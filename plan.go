package restruct

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// PlanNodeType defines the type of operation a node represents.
type PlanNodeType string

const (
	RequestType     PlanNodeType = "Request"
	AttemptType     PlanNodeType = "Attempt"
	ExtractType     PlanNodeType = "Extract"
	ParseType       PlanNodeType = "Parse"
	DeserializeType PlanNodeType = "Deserialize"
	ValidateType    PlanNodeType = "Validate"
	RetryType       PlanNodeType = "Retry"
)

// PlanNode is one step of an extraction plan.
type PlanNode struct {
	Type         PlanNodeType   `json:"type"`
	Label        string         `json:"label,omitempty"`
	Model        string         `json:"model,omitempty"`
	Mode         string         `json:"mode,omitempty"`
	Fields       []string       `json:"fields,omitempty"`
	Strategies   []string       `json:"strategies,omitempty"`
	InputTokens  int            `json:"inputTokens,omitempty"`
	OutputTokens int            `json:"outputTokens,omitempty"`
	Children     []*PlanNode    `json:"children,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// FormatType represents different output formats for a plan.
type FormatType string

const (
	FormatText FormatType = "text"
	FormatJSON FormatType = "json"
)

// feedbackOverhead approximates the tokens of one critique message.
const feedbackOverhead = 60

// Plan describes what Extract would do with these inputs without calling the
// model: the stages, the strategy order, the retry budget and token
// estimates for the first attempt and for the worst case.
func (x *Extractor[T]) Plan(
	ctx context.Context,
	assets []Asset,
	optFns ...func(*Options),
) (*PlanNode, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("plan: %w", ErrEmptyAssets)
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	shape, err := x.shape(opts)
	if err != nil {
		return nil, fmt.Errorf("shape analysis failed: %w", err)
	}
	if x.model == nil && opts.Model == "" {
		return nil, fmt.Errorf("plan: %w", ErrModelMissing)
	}

	msgs, err := conversationFrom(ctx, assets, x.log)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	instruction, err := x.instruction(opts, shape, firstText(msgs))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	in := EstimateTokensFromText(instruction)
	for _, m := range msgs {
		in += EstimateTokensFromText(m.Text())
	}
	out := estimateOutputTokens(shape)

	model := opts.Model
	if x.model != nil {
		model = fmt.Sprintf("%T", x.model)
	}
	strategies := make([]string, 0, 4)
	for _, s := range StrategiesFor(opts.Mode) {
		strategies = append(strategies, s.String())
	}

	attempt := &PlanNode{
		Type:         AttemptType,
		Label:        "attempt 0",
		InputTokens:  in,
		OutputTokens: out,
		Children: []*PlanNode{
			{Type: ExtractType, Strategies: strategies},
			{Type: ParseType, Label: parseLabel(opts.Mode)},
			{Type: DeserializeType, Label: shape.Name, Fields: requiredFields(shape)},
			{Type: ValidateType, Metadata: map[string]any{
				"rules":         len(opts.Rules),
				"self_validate": reflect.PointerTo(reflect.TypeFor[T]()).Implements(reflect.TypeFor[selfValidator]()),
			}},
		},
	}

	root := &PlanNode{
		Type:         RequestType,
		Model:        model,
		Mode:         opts.Mode.String(),
		Fields:       shape.FieldNames(),
		InputTokens:  in,
		OutputTokens: out,
		Children:     []*PlanNode{attempt},
		Metadata:     map[string]any{"max_attempts": opts.MaxRetries + 1, "streaming": opts.Streaming},
	}

	if opts.MaxRetries > 0 {
		// Retry k resends the conversation plus k rounds of output and critique.
		worstIn := 0
		for k := 0; k <= opts.MaxRetries; k++ {
			worstIn += in + k*(out+feedbackOverhead)
		}
		root.Children = append(root.Children, &PlanNode{
			Type:         RetryType,
			Label:        fmt.Sprintf("up to %d corrective re-queries", opts.MaxRetries),
			InputTokens:  worstIn - in,
			OutputTokens: opts.MaxRetries * out,
		})
		root.Metadata["worst_case_input_tokens"] = worstIn
		root.Metadata["worst_case_output_tokens"] = (opts.MaxRetries + 1) * out
	}

	x.log.Debug("Plan built", "input_tokens", in, "output_tokens", out, "max_retries", opts.MaxRetries)
	return root, nil
}

// Explain returns Plan formatted as a text tree.
func (x *Extractor[T]) Explain(
	ctx context.Context,
	assets []Asset,
	optFns ...func(*Options),
) (string, error) {
	plan, err := x.Plan(ctx, assets, optFns...)
	if err != nil {
		return "", err
	}
	return FormatPlan(plan, FormatText)
}

// ExplainFromText is Explain over a single text document.
func (x *Extractor[T]) ExplainFromText(ctx context.Context, document string, optFns ...func(*Options)) (string, error) {
	return x.Explain(ctx, []Asset{NewTextAsset(document)}, optFns...)
}

// FormatPlan renders a plan in the requested format.
func FormatPlan(plan *PlanNode, format FormatType) (string, error) {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FormatText, "":
		var sb strings.Builder
		sb.WriteString("Extraction Plan (estimated)\n")
		formatNodeAsText(plan, "", true, &sb)
		return sb.String(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func formatNodeAsText(node *PlanNode, prefix string, isLast bool, sb *strings.Builder) {
	connector := "├─ "
	if isLast {
		connector = "└─ "
	}
	if prefix == "" {
		connector = ""
	}
	fmt.Fprintf(sb, "%s%s%s\n", prefix, connector, formatNodeInfo(node))

	childPrefix := "  "
	if prefix != "" {
		if isLast {
			childPrefix = prefix + "   "
		} else {
			childPrefix = prefix + "│  "
		}
	}
	for i, child := range node.Children {
		formatNodeAsText(child, childPrefix, i == len(node.Children)-1, sb)
	}
}

func formatNodeInfo(node *PlanNode) string {
	parts := []string{string(node.Type)}
	if node.Label != "" {
		parts = append(parts, fmt.Sprintf("%q", node.Label))
	}

	var details []string
	if node.Model != "" {
		details = append(details, "model="+node.Model)
	}
	if node.Mode != "" {
		details = append(details, "mode="+node.Mode)
	}
	if node.InputTokens > 0 || node.OutputTokens > 0 {
		details = append(details, fmt.Sprintf("tokens(in=%d,out=%d)", node.InputTokens, node.OutputTokens))
	}
	if len(node.Strategies) > 0 {
		details = append(details, "order="+strings.Join(node.Strategies, ">"))
	}
	if len(node.Fields) > 0 {
		details = append(details, fmt.Sprintf("fields=%v", node.Fields))
	}
	if n, ok := node.Metadata["max_attempts"]; ok {
		details = append(details, fmt.Sprintf("attempts<=%v", n))
	}
	if n, ok := node.Metadata["rules"]; ok {
		details = append(details, fmt.Sprintf("rules=%v", n))
	}
	if len(details) > 0 {
		parts = append(parts, "("+strings.Join(details, ", ")+")")
	}
	return strings.Join(parts, " ")
}

func parseLabel(mode Mode) string {
	if mode == ModeFreeText {
		return "text as-is"
	}
	return "strict, then tolerant"
}

func requiredFields(s *Shape) []string {
	var out []string
	for _, f := range s.Fields {
		if !f.Optional {
			out = append(out, f.Name)
		}
	}
	return out
}

// estimateOutputTokens guesses the size of a reply for the shape.
func estimateOutputTokens(s *Shape) int {
	switch s.Kind {
	case KindMap:
		return 50
	case KindScalar:
		return fieldTokens(s.Scalar)
	}
	tokens := 2
	for _, f := range s.Fields {
		tokens += EstimateTokensFromText(f.Name) + 2 + fieldTokens(f)
	}
	return tokens
}

func fieldTokens(f Field) int {
	switch f.Type {
	case TypeInt, TypeFloat, TypeBool:
		return 3
	case TypeEnum:
		return 4
	case TypeObject:
		if f.Shape != nil {
			return estimateOutputTokens(f.Shape)
		}
		return 30
	case TypeArray:
		if f.Elem != nil {
			return 3 * fieldTokens(*f.Elem)
		}
		return 30
	default:
		return 15
	}
}

// EstimateTokensFromText provides a rough token estimate from text length.
func EstimateTokensFromText(text string) int {
	// ~4 characters per token for English text
	return (len(text) + 3) / 4
}
