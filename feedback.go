package restruct

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tyler-sommer/stick"
)

// DefaultFeedbackTemplate is the Twig template for the corrective message sent
// after a failed attempt. It sees stage, attempt (1-based), errors and
// shape (the target's JSON Schema).
const DefaultFeedbackTemplate = `Your previous reply could not be used: it failed while {{ stage }} (attempt {{ attempt }}).
{% for e in errors %}- {{ e }}
{% endfor %}Reply again with only the corrected output in the required structure.`

// FeedbackBuilder turns a failed attempt into the messages appended to the
// conversation before the next attempt.
type FeedbackBuilder struct {
	env      *stick.Env
	template string
	shape    *Shape
	log      *slog.Logger
}

func NewFeedbackBuilder(template string, shape *Shape, log *slog.Logger) *FeedbackBuilder {
	if template == "" {
		template = DefaultFeedbackTemplate
	}
	if log == nil {
		log = slog.Default()
	}
	return &FeedbackBuilder{env: stick.New(nil), template: template, shape: shape, log: log}
}

// Build replays the failed output as a model message and adds a user message
// listing every error of the failing stage.
func (b *FeedbackBuilder) Build(a Attempt) []*Message {
	var msgs []*Message
	if prior := priorOutput(a); prior != "" {
		msgs = append(msgs, NewModelMessage(NewTextPart(prior)))
	}

	lines := describeErrors(a.Err)
	critique, err := b.render(a, lines)
	if err != nil {
		b.log.Debug("Feedback template failed, using plain text", "error", err)
		critique = plainFeedback(a, lines)
	}
	return append(msgs, NewUserMessage(NewTextPart(critique)))
}

func (b *FeedbackBuilder) render(a Attempt, lines []string) (string, error) {
	vars := map[string]stick.Value{
		"stage":   a.Stage.String(),
		"attempt": a.Index + 1,
		"errors":  lines,
	}
	if b.shape != nil {
		vars["shape"] = schemaText(b.shape)
	}
	var out strings.Builder
	if err := b.env.Execute(b.template, &out, vars); err != nil {
		return "", fmt.Errorf("execute feedback: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

func plainFeedback(a Attempt, lines []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your previous reply could not be used: it failed while %s.\n", a.Stage)
	for _, l := range lines {
		sb.WriteString("- ")
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString("Reply again with only the corrected output in the required structure.")
	return sb.String()
}

// priorOutput is what the model said last time, text first, then tool
// arguments.
func priorOutput(a Attempt) string {
	if strings.TrimSpace(a.Raw) != "" {
		return a.Raw
	}
	for _, c := range a.ToolCalls {
		if c.Arguments != "" {
			return c.Arguments
		}
	}
	return ""
}

// describeErrors lists every error of the failing stage, one per line.
func describeErrors(err error) []string {
	if err == nil {
		return nil
	}
	var vf *ValidationFailure
	if errors.As(err, &vf) && len(vf.Errors) > 0 {
		lines := make([]string, len(vf.Errors))
		for i, fe := range vf.Errors {
			lines[i] = fe.Error()
		}
		return lines
	}
	return []string{err.Error()}
}
