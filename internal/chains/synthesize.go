package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
	"go.uber.org/zap"
)

// DontKnow is returned without a generation call when there is no evidence.
const DontKnow = "I don't know. I could not find evidence for that in the knowledge base. " +
	"Tell me which company, emissions scope term (for example Efficiency or Sustainability) " +
	"and reporting year you are interested in and I will look again."

const answerPrompt = `You are a Scope 3 emissions analyst answering questions about corporate
emissions disclosures.
Use only the information in the context below to answer the question.
If the context does not contain the answer, say you don't know and ask the user
for the missing company, emissions scope term or year.
Do not fabricate values, years, units or sources.
Quote numeric values with their unit exactly as they appear in the context.
Include links or sources from the context when they are available.

Context:
%s

Question: %s

Answer:`

// Synthesizer produces the final answer from serialized evidence.
type Synthesizer struct {
	llm agent.Generator
	log *zap.Logger
}

func NewSynthesizer(llm agent.Generator) *Synthesizer {
	return &Synthesizer{llm: llm, log: logger.Named("synthesizer")}
}

// Answer makes one generation call over the given context. An empty context
// yields DontKnow with no call at all, so no number can be invented.
func (s *Synthesizer) Answer(ctx context.Context, question, evidence string) (string, error) {
	if strings.TrimSpace(evidence) == "" {
		s.log.Debug("No evidence for question", zap.String("question", question))
		return DontKnow, nil
	}

	out, err := s.llm.Generate(ctx, fmt.Sprintf(answerPrompt, evidence, question))
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(out)
	if answer == "" {
		return DontKnow, nil
	}
	return answer, nil
}
