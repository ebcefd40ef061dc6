package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
)

const (
	idField        = "chunk_id"
	embeddingField = "embedding"
)

type Config struct {
	Endpoint   string
	APIKey     string
	Collection string
	VectorDim  int
	NProbe     int
}

// Client searches a Milvus collection of passage embeddings keyed by the
// element id of the passage node in the graph.
type Client struct {
	client     client.Client
	collection string
	vectorDim  int
	nprobe     int
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if cfg.NProbe <= 0 {
		cfg.NProbe = 16
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.Collection),
	)

	return &Client{
		client:     c,
		collection: cfg.Collection,
		vectorDim:  cfg.VectorDim,
		nprobe:     cfg.NProbe,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// Search returns up to k passage ids by inner-product similarity. A missing or
// unloaded collection is reported as agent.ErrIndexUnavailable.
func (m *Client) Search(ctx context.Context, vector []float32, k int) ([]agent.Hit, error) {
	if m.vectorDim > 0 && len(vector) != m.vectorDim {
		return nil, fmt.Errorf("query vector has %d dimensions, collection expects %d", len(vector), m.vectorDim)
	}

	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return nil, fmt.Errorf("%w: collection %s does not exist", agent.ErrIndexUnavailable, m.collection)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(m.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		"",
		[]string{idField},
		[]entity.Vector{entity.FloatVector(vector)},
		embeddingField,
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not loaded") {
			return nil, fmt.Errorf("%w: %w", agent.ErrIndexUnavailable, err)
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits, err := hitsFromResults(results)
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed", zap.Int("topK", k), zap.Int("results", len(hits)))
	return hits, nil
}

func hitsFromResults(results []client.SearchResult) ([]agent.Hit, error) {
	hits := []agent.Hit{}
	for _, sr := range results {
		col := sr.Fields.GetColumn(idField)
		if col == nil {
			return nil, fmt.Errorf("search result is missing %s", idField)
		}
		for i := 0; i < sr.ResultCount; i++ {
			v, err := col.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", idField, err)
			}
			id, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s has type %T, want string", idField, v)
			}
			hits = append(hits, agent.Hit{ID: id, Score: float64(sr.Scores[i])})
		}
	}
	return hits, nil
}
