package sqlite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/storage/models"
	"github.com/scope3-agent/backend/pkg/logger"
)

// SaveEvaluation stores a finished evaluation run and its per-case results.
func (c *Client) SaveEvaluation(ctx context.Context, run *models.EvaluationRun, results []models.EvaluationResult) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluation_runs (id, dataset, cases, passed, avg_recall, avg_cosine, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Dataset,
		run.Cases,
		run.Passed,
		run.AvgRecall,
		run.AvgCosine,
		run.StartedAt.Unix(),
		run.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation run: %w", err)
	}

	for _, r := range results {
		passed := 0
		if r.Passed {
			passed = 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO evaluation_results (run_id, case_id, question, answer, strategy, token_recall, cosine,
				passed, latency_ms, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			r.CaseID,
			r.Question,
			r.Answer,
			r.Strategy,
			r.TokenRecall,
			r.Cosine,
			passed,
			r.LatencyMS,
			r.Error,
			r.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert evaluation result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation: %w", err)
	}

	logger.Info("Evaluation stored",
		zap.String("run_id", run.ID),
		zap.Int("cases", run.Cases),
		zap.Int("passed", run.Passed),
	)
	return nil
}

// EvaluationResults returns the stored results of a run in insertion order.
func (c *Client) EvaluationResults(ctx context.Context, runID string) ([]models.EvaluationResult, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, run_id, case_id, question, answer, strategy, token_recall, cosine, passed, latency_ms, error, created_at
		FROM evaluation_results
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation results: %w", err)
	}
	defer rows.Close()

	var results []models.EvaluationResult
	for rows.Next() {
		var r models.EvaluationResult
		var passed int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.RunID, &r.CaseID, &r.Question, &r.Answer, &r.Strategy,
			&r.TokenRecall, &r.Cosine, &passed, &r.LatencyMS, &r.Error, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Passed = passed == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		results = append(results, r)
	}

	return results, rows.Err()
}
