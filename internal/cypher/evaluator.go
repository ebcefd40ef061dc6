package cypher

import (
	"context"
	"fmt"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
)

const evaluationPrompt = `You are a Neo4j Cypher expert. Given a graph schema, a user question, a Cypher query,
and any database error messages, produce a corrected Cypher query if needed.

Rules:
- Use labels, relationship types, and properties exactly as defined in the schema.
- Use elementId(n) instead of id(n).
- Never return more than %d rows.
- Do NOT include explanations. Return ONLY valid JSON.
- If the input Cypher is valid, return it unchanged with an empty errors list.
- If you cannot correct it, return the original Cypher and include at least one error describing why.

Return JSON:
{
  "cypher": "<corrected or original cypher>",
  "errors": ["<empty if none, else list of issues>"]
}

Schema:
%s

Question:
%s

Current Cypher:
%s

Errors (if any):
%s

JSON:`

// Evaluation is one request to check or repair a query.
type Evaluation struct {
	Question string
	Query    string
	Schema   string
	Errors   []string
}

// Evaluator validates a query against the schema and proposes a repair.
type Evaluator struct {
	llm    agent.StructuredGenerator
	rowCap int
}

func NewEvaluator(llm agent.StructuredGenerator, rowCap int) *Evaluator {
	return &Evaluator{llm: llm, rowCap: rowCap}
}

// Evaluate makes one structured generation call. The returned candidate always
// has a non-nil Errors slice and never an empty query: a blank proposal keeps
// the input query and reports why.
func (e *Evaluator) Evaluate(ctx context.Context, in Evaluation) (agent.QueryCandidate, error) {
	prompt := fmt.Sprintf(evaluationPrompt, e.rowCap, in.Schema, in.Question, in.Query, formatErrors(in.Errors))

	out, err := e.llm.GenerateStructured(ctx, prompt)
	if err != nil {
		return agent.QueryCandidate{}, fmt.Errorf("failed to evaluate cypher: %w", err)
	}

	if out.Errors == nil {
		out.Errors = []string{}
	}

	proposed := StripFences(out.Query)
	switch {
	case proposed == "":
		return agent.QueryCandidate{
			Query:  in.Query,
			Errors: append(out.Errors, "evaluator returned an empty query"),
		}, nil
	case len(out.Errors) == 0 && collapse(proposed) == collapse(in.Query):
		// Same query modulo whitespace: keep the caller's text.
		return agent.QueryCandidate{Query: in.Query, Errors: out.Errors}, nil
	}
	return agent.QueryCandidate{Query: proposed, Errors: out.Errors}, nil
}

func formatErrors(errs []string) string {
	if len(errs) == 0 {
		return "None"
	}
	return "- " + strings.Join(errs, "\n- ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
