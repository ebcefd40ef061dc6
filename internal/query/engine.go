// Package query runs one chat turn: read history, rephrase, route, retrieve.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/pkg/logger"
)

var tracer = otel.Tracer("github.com/scope3-agent/backend/internal/query")

type Rephraser interface {
	Rephrase(ctx context.Context, input string, history []agent.Exchange) (string, error)
}

type Options struct {
	// HistoryLimit bounds the turns handed to the rephraser; <= 0 means all.
	HistoryLimit int
	// Timeout is the deadline of the whole pipeline; <= 0 means none.
	Timeout time.Duration
}

type Engine struct {
	history    agent.HistoryStore
	rephraser  Rephraser
	router     Router
	retrievers map[agent.Strategy]agent.Retriever
	opts       Options
	log        *zap.Logger
}

func NewEngine(history agent.HistoryStore, rephraser Rephraser, router Router, structured, semantic agent.Retriever, opts Options) *Engine {
	return &Engine{
		history:   history,
		rephraser: rephraser,
		router:    router,
		retrievers: map[agent.Strategy]agent.Retriever{
			agent.StrategyStructured: structured,
			agent.StrategySemantic:   semantic,
		},
		opts: opts,
		log:  logger.Named("engine"),
	}
}

// Ask answers one message of a session.
func (e *Engine) Ask(ctx context.Context, sessionID, message string) (*agent.Result, error) {
	start := time.Now()

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "query.Ask")
	defer span.End()

	turns, err := e.history.LastTurns(ctx, sessionID, e.opts.HistoryLimit)
	if err != nil {
		e.log.Warn("Failed to load history, continuing without it",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		turns = nil
	}

	rephrased, err := e.rephraser.Rephrase(ctx, message, agent.Exchanges(turns))
	if err != nil {
		return nil, e.fail(ctx, "rephrase", err)
	}

	strategy := e.router.Route(ctx, rephrased)
	span.SetAttributes(
		attribute.String("query.strategy", strategy.String()),
		attribute.Int("query.history", len(turns)),
	)

	in := agent.Input{SessionID: sessionID, Question: message, RephrasedQuestion: rephrased}
	result, err := e.retrieve(ctx, strategy, in)
	if err == nil && result.Advisory && strategy != agent.StrategyStructured {
		e.log.Info("Vector index unavailable, re-dispatching to structured retrieval",
			zap.String("session_id", sessionID),
		)
		strategy = agent.StrategyStructured
		result, err = e.retrieve(ctx, strategy, in)
	}

	metrics.PipelineDuration.WithLabelValues(strategy.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(strategy.String(), "error").Inc()
		span.RecordError(err)
		return nil, e.fail(ctx, "retrieve", err)
	}
	metrics.TurnsTotal.WithLabelValues(strategy.String(), "ok").Inc()

	e.log.Info("Turn answered",
		zap.String("session_id", sessionID),
		zap.String("strategy", strategy.String()),
		zap.Int("evidence", len(result.EvidenceIDs)),
		zap.Duration("latency", time.Since(start)),
	)
	return result, nil
}

// History returns every stored turn of a session, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]agent.Turn, error) {
	turns, err := e.history.LastTurns(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return turns, nil
}

func (e *Engine) retrieve(ctx context.Context, strategy agent.Strategy, in agent.Input) (*agent.Result, error) {
	r, ok := e.retrievers[strategy]
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: no retriever for strategy %q", agent.ErrRetrieval, strategy)
	}
	return r.Retrieve(ctx, in)
}

// fail reports pipeline deadline expiry as a retrieval failure.
func (e *Engine) fail(ctx context.Context, stage string, err error) error {
	e.log.Error("Turn failed", zap.String("stage", stage), zap.Error(err))
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, agent.ErrRetrieval) {
		return fmt.Errorf("%w: %w", agent.ErrRetrieval, ctxErr)
	}
	return err
}
