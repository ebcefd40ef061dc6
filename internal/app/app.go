// Package app builds the service graph shared by the API server and the
// evaluation command.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	rediscache "github.com/scope3-agent/backend/internal/cache/redis"
	"github.com/scope3-agent/backend/internal/chains"
	"github.com/scope3-agent/backend/internal/cypher"
	"github.com/scope3-agent/backend/internal/history"
	"github.com/scope3-agent/backend/internal/kg/neo4j"
	"github.com/scope3-agent/backend/internal/llm"
	"github.com/scope3-agent/backend/internal/query"
	"github.com/scope3-agent/backend/internal/semantic"
	"github.com/scope3-agent/backend/internal/storage/sqlite"
	"github.com/scope3-agent/backend/internal/vector/milvus"
	"github.com/scope3-agent/backend/pkg/config"
	"github.com/scope3-agent/backend/pkg/logger"
)

type Stack struct {
	Config   *config.Config
	Neo4j    *neo4j.Client
	SQLite   *sqlite.Client
	Redis    *rediscache.Client
	Milvus   *milvus.Client
	LLM      *llm.Client
	Embedder agent.Embedder
	History  agent.HistoryStore
	Recorder *history.Recorder
	Engine   *query.Engine
}

func Build(ctx context.Context, cfg *config.Config) (*Stack, error) {
	s := &Stack{Config: cfg}

	neo, err := neo4j.NewClient(neo4j.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j client: %w", err)
	}
	s.Neo4j = neo

	s.SQLite, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	if err := s.SQLite.InitSchema(); err != nil {
		s.Close()
		return nil, err
	}

	s.LLM = llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbeddingDim:   cfg.LLM.EmbeddingDim,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	s.Embedder = s.LLM

	if cfg.Redis.Enabled {
		rc, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, embeddings will not be cached", zap.Error(err))
		} else {
			s.Redis = rc
			s.Embedder = llm.NewCachedEmbedder(s.LLM, rc, cfg.LLM.EmbeddingModel, cfg.Redis.TTL())
		}
	}

	var index agent.VectorIndex
	switch cfg.Vector.Provider {
	case "milvus":
		s.Milvus, err = milvus.NewClient(ctx, milvus.Config{
			Endpoint:   cfg.Milvus.Endpoint,
			APIKey:     cfg.Milvus.APIKey,
			Collection: cfg.Milvus.CollectionName,
			VectorDim:  cfg.Milvus.VectorDim,
			NProbe:     cfg.Milvus.SearchNProbe,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create Milvus client: %w", err)
		}
		index = milvus.NewIndex(s.Milvus, neo)
	default:
		index = neo4j.NewVectorIndex(neo, cfg.Vector.IndexName)
	}

	switch cfg.History.Backend {
	case "sqlite":
		s.History = s.SQLite
	default:
		s.History = history.NewGraphStore(neo)
	}
	s.Recorder = history.NewRecorder(s.History, cfg.History.Backend, cfg.History.WriteTimeout())

	synth := chains.NewSynthesizer(s.LLM.SingleAttempt())

	structured := cypher.NewRetriever(neo, s.LLM, synth, s.Recorder, cypher.Options{
		Vocabulary: cypher.Vocabulary{
			TopicKeywords:        cfg.Retrieval.TopicKeywords,
			CountableLabels:      cfg.Retrieval.CountableLabels,
			EvidenceLabel:        cfg.Retrieval.EvidenceLabel,
			TopicLabel:           cfg.Retrieval.TopicLabel,
			EvidenceRelationship: cfg.Retrieval.EvidenceRelationship,
			UnitToken:            cfg.Retrieval.UnitToken,
			RowCap:               cfg.Retrieval.RowCap,
		},
		MaxRepairAttempts:    cfg.Retrieval.MaxRepairAttempts,
		DeterministicAnswers: cfg.Retrieval.DeterministicAnswers,
	})
	vector := semantic.NewRetriever(s.Embedder, index, synth, s.Recorder, cfg.Retrieval.TopK)

	var router query.Router
	switch cfg.Router.Mode {
	case "structured":
		router = query.NewFixedRouter(agent.StrategyStructured)
	case "semantic":
		router = query.NewFixedRouter(agent.StrategySemantic)
	default:
		router = query.NewLLMRouter(s.LLM)
	}

	s.Engine = query.NewEngine(s.History, chains.NewRephraser(s.LLM.SingleAttempt()), router, structured, vector, query.Options{
		HistoryLimit: cfg.Retrieval.HistoryLimit,
		Timeout:      cfg.Retrieval.PipelineTimeout(),
	})

	logger.Info("Service stack ready",
		zap.String("vector_provider", cfg.Vector.Provider),
		zap.String("history_backend", cfg.History.Backend),
		zap.String("router", cfg.Router.Mode),
		zap.Bool("embedding_cache", s.Redis != nil),
	)
	return s, nil
}

// Close waits for pending history writes and releases every connection.
func (s *Stack) Close() {
	if s.Recorder != nil {
		s.Recorder.Wait()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if s.Milvus != nil {
		if err := s.Milvus.Close(); err != nil {
			logger.Warn("Failed to close Milvus client", zap.Error(err))
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			logger.Warn("Failed to close SQLite client", zap.Error(err))
		}
	}
	if s.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Neo4j.Close(ctx); err != nil {
			logger.Warn("Failed to close Neo4j client", zap.Error(err))
		}
	}
}
