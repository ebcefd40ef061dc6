package cypher

import (
	"context"
	"fmt"

	"github.com/scope3-agent/backend/internal/agent"
)

const generationPrompt = `You are an expert in Neo4j Cypher.
Generate a single valid read-only Cypher query for the question using the provided graph schema.

Rules:
- Use labels, relationship types and properties exactly as shown in the schema.
- Use elementId(n) instead of id(n), and n.prop IS NOT NULL instead of exists(n.prop).
- Return elementId(n) AS _id for every node whose text or values you return.
- Never return more than %d rows; always end with a LIMIT clause.
- Return only the Cypher query, no explanation or markdown fences.

Schema:
%s

Question:
%s

Cypher:`

// Generator drafts a Cypher query for a question.
type Generator struct {
	llm    agent.Generator
	rowCap int
}

func NewGenerator(llm agent.Generator, rowCap int) *Generator {
	return &Generator{llm: llm, rowCap: rowCap}
}

// Generate makes one generation call against the given schema and returns the
// query with any code fence removed.
func (g *Generator) Generate(ctx context.Context, question, schema string) (string, error) {
	out, err := g.llm.Generate(ctx, fmt.Sprintf(generationPrompt, g.rowCap, schema, question))
	if err != nil {
		return "", fmt.Errorf("failed to generate cypher: %w", err)
	}
	return StripFences(out), nil
}
