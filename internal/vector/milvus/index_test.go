package milvus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/scope3-agent/backend/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	hits []agent.Hit
	err  error
}

func (f *fakeSearcher) Search(context.Context, []float32, int) ([]agent.Hit, error) {
	return f.hits, f.err
}

type fakeEnricher struct {
	got []agent.Hit
}

func (f *fakeEnricher) Enrich(_ context.Context, hits []agent.Hit) ([]agent.Match, error) {
	f.got = hits
	out := make([]agent.Match, len(hits))
	for i, h := range hits {
		out[i] = agent.Match{Text: "passage " + h.ID, Score: h.Score, Metadata: map[string]any{"_id": h.ID}}
	}
	return out, nil
}

func TestIndexEnrichesHits(t *testing.T) {
	enricher := &fakeEnricher{}
	idx := &Index{
		searcher: &fakeSearcher{hits: []agent.Hit{{ID: "4:db:1", Score: 0.9}, {ID: "4:db:2", Score: 0.7}}},
		enricher: enricher,
	}

	got, err := idx.Search(context.Background(), []float32{0.1}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "passage 4:db:1", got[0].Text)
	assert.Len(t, enricher.got, 2)
}

func TestIndexPassesThroughUnavailable(t *testing.T) {
	idx := &Index{
		searcher: &fakeSearcher{err: fmt.Errorf("%w: collection scope3_chunks does not exist", agent.ErrIndexUnavailable)},
		enricher: &fakeEnricher{},
	}

	_, err := idx.Search(context.Background(), []float32{0.1}, 2)
	assert.ErrorIs(t, err, agent.ErrIndexUnavailable)
}

func TestIndexNoHitsSkipsEnrichment(t *testing.T) {
	enricher := &fakeEnricher{}
	idx := &Index{searcher: &fakeSearcher{hits: []agent.Hit{}}, enricher: enricher}

	got, err := idx.Search(context.Background(), []float32{0.1}, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Nil(t, enricher.got)
}

func TestHitsFromResults(t *testing.T) {
	results := []client.SearchResult{{
		ResultCount: 2,
		Fields:      client.ResultSet{entity.NewColumnVarChar(idField, []string{"4:db:1", "4:db:2"})},
		Scores:      []float32{0.5, 0.25},
	}}

	hits, err := hitsFromResults(results)
	require.NoError(t, err)
	assert.Equal(t, []agent.Hit{{ID: "4:db:1", Score: 0.5}, {ID: "4:db:2", Score: 0.25}}, hits)

	_, err = hitsFromResults([]client.SearchResult{{ResultCount: 1, Scores: []float32{1}}})
	assert.Error(t, err)
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	c := &Client{vectorDim: 3}
	_, err := c.Search(context.Background(), []float32{0.1}, 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, agent.ErrIndexUnavailable))
}
