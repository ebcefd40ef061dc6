package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scope3-agent/backend/internal/agent"
)

// Runner executes parameterized Cypher. The Neo4j client satisfies it.
type Runner interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]agent.Record, error)
	Write(ctx context.Context, cypher string, params map[string]any) ([]agent.Record, error)
}

// The new response becomes LAST_RESPONSE of its session, the previous one
// points to it through NEXT, and it links to every evidence node by element id.
// The SET takes the session's write lock before LAST_RESPONSE is read.
const appendTurnQuery = `MERGE (session:Session {id: $sessionId})
SET session.updatedAt = $createdAt
CREATE (response:Response {
  id: $id,
  createdAt: $createdAt,
  input: $input,
  rephrasedQuestion: $rephrasedQuestion,
  output: $output,
  source: $source,
  cypher: $cypher,
  ids: $ids
})
CREATE (session)-[:HAS_RESPONSE]->(response)
WITH session, response
CALL {
  WITH session, response
  MATCH (session)-[lrel:LAST_RESPONSE]->(last)
  DELETE lrel
  CREATE (last)-[:NEXT]->(response)
}
CREATE (session)-[:LAST_RESPONSE]->(response)
WITH response
CALL {
  WITH response
  UNWIND $ids AS id
  MATCH (context) WHERE elementId(context) = id
  CREATE (response)-[:CONTEXT]->(context)
}
RETURN response.id AS id`

const lastTurnsQuery = `MATCH (:Session {id: $sessionId})-[:HAS_RESPONSE]->(r:Response)
RETURN r.id AS id,
  r.input AS input,
  r.rephrasedQuestion AS rephrasedQuestion,
  r.output AS output,
  r.source AS source,
  r.cypher AS cypher,
  coalesce(r.ids, [(r)-[:CONTEXT]->(c) | elementId(c)]) AS ids,
  r.createdAt AS createdAt
ORDER BY r.createdAt DESC`

// GraphStore keeps history in the knowledge graph itself so responses link to
// the nodes they were grounded on.
type GraphStore struct {
	runner Runner
}

func NewGraphStore(runner Runner) *GraphStore {
	return &GraphStore{runner: runner}
}

func (s *GraphStore) Append(ctx context.Context, sessionID string, turn agent.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	ids := turn.EvidenceIDs
	if ids == nil {
		ids = []string{}
	}

	_, err := s.runner.Write(ctx, appendTurnQuery, map[string]any{
		"sessionId":         sessionID,
		"id":                turn.ID,
		"createdAt":         turn.CreatedAt,
		"input":             turn.Input,
		"rephrasedQuestion": turn.RephrasedQuestion,
		"output":            turn.Output,
		"source":            turn.Strategy.String(),
		"cypher":            nullable(turn.GeneratedQuery),
		"ids":               ids,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to save response: %w", agent.ErrPersistence, err)
	}
	return nil
}

func (s *GraphStore) LastTurns(ctx context.Context, sessionID string, limit int) ([]agent.Turn, error) {
	query := lastTurnsQuery
	params := map[string]any{"sessionId": sessionID}
	if limit > 0 {
		query += "\nLIMIT $limit"
		params["limit"] = limit
	}

	rows, err := s.runner.Read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	turns := make([]agent.Turn, len(rows))
	for i, row := range rows {
		// rows are newest first
		turns[len(rows)-1-i] = turnFromRow(row)
	}
	return turns, nil
}

func turnFromRow(row agent.Record) agent.Turn {
	t := agent.Turn{
		ID:                str(row["id"]),
		Input:             str(row["input"]),
		RephrasedQuestion: str(row["rephrasedQuestion"]),
		Output:            str(row["output"]),
		Strategy:          agent.Strategy(str(row["source"])),
		GeneratedQuery:    str(row["cypher"]),
		EvidenceIDs:       []string{},
	}

	if ids, ok := row["ids"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				t.EvidenceIDs = append(t.EvidenceIDs, s)
			}
		}
	}

	switch v := row["createdAt"].(type) {
	case time.Time:
		t.CreatedAt = v
	case string:
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
