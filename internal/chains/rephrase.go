// Package chains holds the two free-text generation steps that bracket every
// retrieval: turning a follow-up into a standalone question, and turning
// evidence into an answer.
package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
	"go.uber.org/zap"
)

const noHistory = "No history"

const rephrasePrompt = `Given the following conversation and a follow-up question, rephrase the
follow-up question to be a standalone question. Keep every company name,
emissions scope term and year from the conversation that the follow-up relies on.
If the follow-up is already standalone, return it unchanged.
Return only the question, without commentary.

Chat History:
%s

Follow-up question: %s

Standalone question:`

// Rephraser rewrites a follow-up into a self-contained question.
type Rephraser struct {
	llm agent.Generator
	log *zap.Logger
}

func NewRephraser(llm agent.Generator) *Rephraser {
	return &Rephraser{llm: llm, log: logger.Named("rephraser")}
}

// Rephrase makes exactly one generation call. Generation errors are returned
// as-is; an empty completion falls back to the original input.
func (r *Rephraser) Rephrase(ctx context.Context, input string, history []agent.Exchange) (string, error) {
	prompt := fmt.Sprintf(rephrasePrompt, FormatHistory(history), input)

	out, err := r.llm.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	question := strings.TrimSpace(out)
	if question == "" {
		r.log.Warn("Empty rephrase completion, using input", zap.String("input", input))
		return strings.TrimSpace(input), nil
	}
	return question, nil
}

// FormatHistory renders exchanges oldest first as "Human:"/"AI:" lines.
func FormatHistory(history []agent.Exchange) string {
	if len(history) == 0 {
		return noHistory
	}

	var b strings.Builder
	for i, ex := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Human: %s\nAI: %s", ex.Input, ex.Output)
	}
	return b.String()
}
