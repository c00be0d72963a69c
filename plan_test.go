package restruct

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestExtractor_Plan(t *testing.T) {
	x, m := NewForTesting[person](nil)

	plan, err := x.Plan(context.Background(), AssetsFrom("Ann is forty years old."))
	require.NoError(t, err)
	assert.Zero(t, m.Calls(), "planning never calls the model")

	assert.Equal(t, RequestType, plan.Type)
	assert.Equal(t, "*restruct.ScriptedModel", plan.Model)
	assert.Equal(t, "json", plan.Mode)
	assert.Equal(t, []string{"name", "age"}, plan.Fields)
	assert.Equal(t, 1, plan.Metadata["max_attempts"])
	assert.Positive(t, plan.InputTokens)
	assert.Positive(t, plan.OutputTokens)

	require.Len(t, plan.Children, 1)
	attempt := plan.Children[0]
	assert.Equal(t, AttemptType, attempt.Type)

	var types []PlanNodeType
	for _, c := range attempt.Children {
		types = append(types, c.Type)
	}
	assert.Equal(t, []PlanNodeType{ExtractType, ParseType, DeserializeType, ValidateType}, types)
	assert.Equal(t, []string{"direct", "fenced", "bracket"}, attempt.Children[0].Strategies)
	assert.Equal(t, "strict, then tolerant", attempt.Children[1].Label)
	assert.Equal(t, []string{"name", "age"}, attempt.Children[2].Fields)
	assert.Equal(t, false, attempt.Children[3].Metadata["self_validate"])
}

func TestExtractor_PlanRetries(t *testing.T) {
	x, _ := NewForTesting[person](nil)

	plan, err := x.Plan(context.Background(), AssetsFrom("Ann"), WithRetry(2), WithMode(ModeToolCall))
	require.NoError(t, err)
	require.Len(t, plan.Children, 2)

	retry := plan.Children[1]
	assert.Equal(t, RetryType, retry.Type)
	assert.Equal(t, "up to 2 corrective re-queries", retry.Label)
	assert.Equal(t, 2*plan.OutputTokens, retry.OutputTokens)

	in, out := plan.InputTokens, plan.OutputTokens
	assert.Equal(t, 3*in+3*(out+feedbackOverhead), plan.Metadata["worst_case_input_tokens"])
	assert.Equal(t, 3*out, plan.Metadata["worst_case_output_tokens"])
	assert.Equal(t, 3, plan.Metadata["max_attempts"])
	assert.Equal(t, []string{"tool_call", "direct", "fenced", "bracket"}, plan.Children[0].Children[0].Strategies)
}

func TestExtractor_PlanSelfValidation(t *testing.T) {
	x, _ := NewForTesting[booking](nil)

	plan, err := x.Plan(context.Background(), AssetsFrom("two nights"), WithRules(func(any) []FieldError { return nil }))
	require.NoError(t, err)

	validate := plan.Children[0].Children[3]
	assert.Equal(t, true, validate.Metadata["self_validate"])
	assert.Equal(t, 1, validate.Metadata["rules"])
}

func TestExtractor_PlanErrors(t *testing.T) {
	ctx := context.Background()

	x, _ := NewForTesting[person](nil)
	_, err := x.Plan(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyAssets)

	_, err = x.Plan(ctx, AssetsFrom(""))
	assert.ErrorIs(t, err, ErrEmptyDocument)

	client := New[person](&genai.Client{}, nil)
	_, err = client.Plan(ctx, AssetsFrom("Ann"))
	assert.ErrorIs(t, err, ErrModelMissing)

	plan, err := client.Plan(ctx, AssetsFrom("Ann"), WithModel("gemini-2.0-flash"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", plan.Model)
}

func TestExtractor_Explain(t *testing.T) {
	x, _ := NewForTesting[person](nil)

	text, err := x.ExplainFromText(context.Background(), "Ann is forty.", WithRetry(1))
	require.NoError(t, err)

	assert.Contains(t, text, "Extraction Plan (estimated)\n")
	assert.Contains(t, text, "Request (model=*restruct.ScriptedModel, mode=json")
	assert.Contains(t, text, "attempts<=2")
	assert.Contains(t, text, "order=direct>fenced>bracket")
	assert.Contains(t, text, `Retry "up to 1 corrective re-queries"`)
	assert.Contains(t, text, "└─ ")
}

func TestFormatPlan(t *testing.T) {
	plan := &PlanNode{
		Type:  RequestType,
		Model: "m",
		Children: []*PlanNode{
			{Type: AttemptType, Label: "attempt 0", InputTokens: 10, OutputTokens: 4},
		},
	}

	t.Run("text", func(t *testing.T) {
		out, err := FormatPlan(plan, FormatText)
		require.NoError(t, err)
		assert.Equal(t, "Extraction Plan (estimated)\nRequest (model=m)\n  └─ Attempt \"attempt 0\" (tokens(in=10,out=4))\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := FormatPlan(plan, FormatJSON)
		require.NoError(t, err)

		var back PlanNode
		require.NoError(t, json.Unmarshal([]byte(out), &back))
		assert.Equal(t, *plan, back)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := FormatPlan(plan, "dot")
		assert.ErrorContains(t, err, "unsupported format: dot")
	})
}

func TestEstimateTokensFromText(t *testing.T) {
	assert.Equal(t, 0, EstimateTokensFromText(""))
	assert.Equal(t, 1, EstimateTokensFromText("a"))
	assert.Equal(t, 1, EstimateTokensFromText("abcd"))
	assert.Equal(t, 2, EstimateTokensFromText("abcde"))
}

func TestEstimateOutputTokens(t *testing.T) {
	assert.Equal(t, 50, estimateOutputTokens(MapShape()))
	assert.Equal(t, 3, estimateOutputTokens(ScalarShape(TypeInt)))

	// {"name": string, "age": int} → 2 + (1+2+15) + (1+2+3)
	assert.Equal(t, 26, estimateOutputTokens(mustShape[person](t)))
}
