// Package evaluation replays scripted conversations through the engine and
// scores the answers.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/storage/models"
	"github.com/scope3-agent/backend/pkg/logger"
)

const DefaultCosineThreshold = 0.8

type Asker interface {
	Ask(ctx context.Context, sessionID, message string) (*agent.Result, error)
}

// Sink stores finished runs. The SQLite client satisfies it.
type Sink interface {
	SaveEvaluation(ctx context.Context, run *models.EvaluationRun, results []models.EvaluationResult) error
}

type Config struct {
	Concurrency     int
	CosineThreshold float64
}

type Evaluator struct {
	engine   Asker
	history  agent.HistoryStore
	embedder agent.Embedder
	sink     Sink
	cfg      Config
}

type Report struct {
	RunID     string
	Dataset   string
	Cases     int
	Passed    int
	Failed    int
	AvgRecall float64
	AvgCosine float64
	Duration  time.Duration
	Results   []models.EvaluationResult
}

// NewEvaluator wires the run. embedder and sink may be nil; cosine scoring and
// persistence are skipped then.
func NewEvaluator(engine Asker, history agent.HistoryStore, embedder agent.Embedder, sink Sink, cfg Config) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CosineThreshold <= 0 {
		cfg.CosineThreshold = DefaultCosineThreshold
	}
	return &Evaluator{
		engine:   engine,
		history:  history,
		embedder: embedder,
		sink:     sink,
		cfg:      cfg,
	}
}

func (e *Evaluator) Run(ctx context.Context, ds *Dataset) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()

	logger.Info("Running dataset evaluation",
		zap.String("run_id", runID),
		zap.String("dataset", ds.Name),
		zap.Int("cases", len(ds.Cases)),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	results := make([]models.EvaluationResult, len(ds.Cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, c := range ds.Cases {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.EvaluateCase(gctx, runID, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to run evaluation: %w", err)
	}

	report := summarize(runID, ds.Name, results)
	report.Duration = time.Since(started)

	if e.sink != nil {
		run := &models.EvaluationRun{
			ID:         runID,
			Dataset:    ds.Name,
			Cases:      report.Cases,
			Passed:     report.Passed,
			AvgRecall:  report.AvgRecall,
			AvgCosine:  report.AvgCosine,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		if err := e.sink.SaveEvaluation(ctx, run, results); err != nil {
			logger.Warn("Failed to store evaluation", zap.String("run_id", runID), zap.Error(err))
		}
	}

	logger.Info("Dataset evaluation completed",
		zap.String("run_id", runID),
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// EvaluateCase runs one case in a fresh session seeded with its history.
func (e *Evaluator) EvaluateCase(ctx context.Context, runID string, c Case) models.EvaluationResult {
	result := models.EvaluationResult{
		RunID:     runID,
		CaseID:    c.ID,
		Question:  c.Question,
		CreatedAt: time.Now(),
	}

	sessionID := "eval-" + uuid.NewString()
	for _, ex := range c.History {
		err := e.history.Append(ctx, sessionID, agent.Turn{
			Input:             ex.Input,
			RephrasedQuestion: ex.Input,
			Output:            ex.Output,
			Strategy:          agent.StrategyStructured,
			EvidenceIDs:       []string{},
		})
		if err != nil {
			result.Error = fmt.Sprintf("failed to seed history: %v", err)
			return result
		}
	}

	start := time.Now()
	res, err := e.engine.Ask(ctx, sessionID, c.Question)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		logger.Warn("Evaluation case failed", zap.String("case_id", c.ID), zap.Error(err))
		return result
	}

	result.Answer = res.Answer
	result.Strategy = res.Strategy.String()
	result.TokenRecall = TokenRecall(c.Expect, res.Answer)
	result.Passed = result.TokenRecall == 1

	if c.GroundTruth != "" && e.embedder != nil {
		cosine, err := e.similarity(ctx, res.Answer, c.GroundTruth)
		if err != nil {
			logger.Warn("Failed to calculate cosine similarity", zap.String("case_id", c.ID), zap.Error(err))
		} else {
			result.Cosine = cosine
			result.Passed = result.Passed && cosine >= e.cfg.CosineThreshold
		}
	}

	return result
}

func (e *Evaluator) similarity(ctx context.Context, a, b string) (float64, error) {
	emb1, err := e.embedder.Embed(ctx, a)
	if err != nil {
		return 0, err
	}

	emb2, err := e.embedder.Embed(ctx, b)
	if err != nil {
		return 0, err
	}

	return CosineSimilarity(emb1, emb2), nil
}

// TokenRecall is the share of expected tokens found in the answer, ignoring
// case. No expectations count as full recall.
func TokenRecall(expect []string, answer string) float64 {
	if len(expect) == 0 {
		return 1
	}

	lower := strings.ToLower(answer)
	found := 0
	for _, token := range expect {
		if strings.Contains(lower, strings.ToLower(token)) {
			found++
		}
	}
	return float64(found) / float64(len(expect))
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func summarize(runID, dataset string, results []models.EvaluationResult) *Report {
	report := &Report{
		RunID:   runID,
		Dataset: dataset,
		Cases:   len(results),
		Results: results,
	}

	var totalRecall, totalCosine float64
	for _, r := range results {
		if r.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		totalRecall += r.TokenRecall
		totalCosine += r.Cosine
	}

	if report.Cases > 0 {
		report.AvgRecall = totalRecall / float64(report.Cases)
		report.AvgCosine = totalCosine / float64(report.Cases)
	}
	return report
}

func (r *Report) PassRate() float64 {
	if r.Cases == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Cases) * 100
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Evaluation Report
=================

Run: %s
Dataset: %s
Cases: %d
Passed: %d (%.1f%%)
Failed: %d

Average token recall: %.2f
Average cosine similarity: %.3f
Duration: %s
`,
		r.RunID, r.Dataset, r.Cases,
		r.Passed, r.PassRate(), r.Failed,
		r.AvgRecall, r.AvgCosine, r.Duration.Round(time.Millisecond),
	)

	for _, res := range r.Results {
		if res.Passed {
			continue
		}
		detail := res.Error
		if detail == "" {
			detail = fmt.Sprintf("recall %.2f, cosine %.3f: %s", res.TokenRecall, res.Cosine, res.Answer)
		}
		fmt.Fprintf(&b, "\nFAIL %s: %s\n  %s\n", res.CaseID, res.Question, detail)
	}
	return b.String()
}
