package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
)

// The enrichment joins an indexed passage to the emission it describes, the
// company it is about and the scope category it falls under.
const enrichment = `
OPTIONAL MATCH (node)-[:DESCRIBES|MENTIONS]->(e:Emission)
OPTIONAL MATCH (e)-[:OF]->(c)
OPTIONAL MATCH (e)-[:CLASSIFIES]->(cat:Emissionscope)
WITH node, score, head(collect(e)) AS e, head(collect(c)) AS c, head(collect(cat)) AS cat
RETURN
  coalesce(node.text, node.summary, '') AS text,
  score,
  {
    _id: elementId(node),
    company: coalesce(c.name, c.id, 'N/A'),
    scope: coalesce(cat.name, cat.id, 'N/A'),
    year: coalesce(e.year, node.year, 'N/A'),
    value: coalesce(e.value, node.value, 'N/A'),
    unit: coalesce(e.unit, node.unit, 'N/A'),
    source: coalesce(node.source, node.url, 'N/A')
  } AS metadata
ORDER BY score DESC`

const vectorSearchQuery = `CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score` + enrichment

const enrichByIDQuery = `UNWIND $hits AS hit
MATCH (node) WHERE elementId(node) = hit.id
WITH node, hit.score AS score` + enrichment

// VectorIndex searches a Neo4j vector index over passage nodes.
type VectorIndex struct {
	client    *Client
	indexName string
}

func NewVectorIndex(client *Client, indexName string) *VectorIndex {
	return &VectorIndex{client: client, indexName: indexName}
}

func (v *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]agent.Match, error) {
	rows, err := v.client.Read(ctx, vectorSearchQuery, map[string]any{
		"index":  v.indexName,
		"k":      k,
		"vector": toFloat64s(vector),
	})
	if err != nil {
		if IsMissingIndex(err) {
			logger.Warn("Vector index not found", zap.String("index", v.indexName))
			return nil, fmt.Errorf("%w: %s: %w", agent.ErrIndexUnavailable, v.indexName, err)
		}
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	return MatchesFromRows(rows), nil
}

// Enrich attaches graph context to hits from an external vector index,
// keeping the hit order by score.
func (c *Client) Enrich(ctx context.Context, hits []agent.Hit) ([]agent.Match, error) {
	if len(hits) == 0 {
		return []agent.Match{}, nil
	}

	params := make([]map[string]any, len(hits))
	for i, h := range hits {
		params[i] = map[string]any{"id": h.ID, "score": h.Score}
	}

	rows, err := c.Read(ctx, enrichByIDQuery, map[string]any{"hits": params})
	if err != nil {
		return nil, fmt.Errorf("failed to enrich vector hits: %w", err)
	}
	return MatchesFromRows(rows), nil
}

// MatchesFromRows converts rows of {text, score, metadata}.
func MatchesFromRows(rows []agent.Record) []agent.Match {
	out := make([]agent.Match, 0, len(rows))
	for _, r := range rows {
		m := agent.Match{Metadata: map[string]any{}}
		m.Text, _ = r["text"].(string)
		switch s := r["score"].(type) {
		case float64:
			m.Score = s
		case int64:
			m.Score = float64(s)
		}
		if md, ok := r["metadata"].(map[string]any); ok {
			m.Metadata = md
		}
		out = append(out, m)
	}
	return out
}

// IsMissingIndex reports the server error for an unknown vector index.
func IsMissingIndex(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		if neoErr.Code == "Neo.ClientError.Schema.IndexNotFound" {
			return true
		}
		msg := strings.ToLower(neoErr.Msg)
		return strings.Contains(msg, "index") &&
			(strings.Contains(msg, "no such") || strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"))
	}
	return false
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
