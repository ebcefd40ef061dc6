package milvus

import (
	"context"
	"fmt"

	"github.com/scope3-agent/backend/internal/agent"
)

type searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]agent.Hit, error)
}

// Enricher attaches graph context to raw hits.
type Enricher interface {
	Enrich(ctx context.Context, hits []agent.Hit) ([]agent.Match, error)
}

// Index is an agent.VectorIndex backed by Milvus for similarity and by the
// graph for passage text and metadata.
type Index struct {
	searcher searcher
	enricher Enricher
}

func NewIndex(c *Client, enricher Enricher) *Index {
	return &Index{searcher: c, enricher: enricher}
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]agent.Match, error) {
	hits, err := i.searcher.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []agent.Match{}, nil
	}

	matches, err := i.enricher.Enrich(ctx, hits)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich milvus hits: %w", err)
	}
	return matches, nil
}
