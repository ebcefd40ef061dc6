package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/pkg/logger"
)

// Append stores a turn and its evidence ids, creating the session on first use.
func (c *Client) Append(ctx context.Context, sessionID string, turn agent.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	now := turn.CreatedAt.UnixMilli()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", agent.ErrPersistence, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert session: %w", agent.ErrPersistence, err)
	}

	var generated sql.NullString
	if turn.GeneratedQuery != "" {
		generated = sql.NullString{String: turn.GeneratedQuery, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, input, rephrased_question, output, strategy, generated_query, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		sessionID,
		turn.Input,
		turn.RephrasedQuestion,
		turn.Output,
		turn.Strategy.String(),
		generated,
		now,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert turn: %w", agent.ErrPersistence, err)
	}

	for i, id := range turn.EvidenceIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turn_evidence (turn_id, position, evidence_id) VALUES (?, ?, ?)`,
			turn.ID, i, id,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to insert evidence: %w", agent.ErrPersistence, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET last_turn_id = ?, turn_count = turn_count + 1 WHERE id = ?`,
		turn.ID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update session: %w", agent.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit turn: %w", agent.ErrPersistence, err)
	}

	logger.Debug("Turn recorded",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turn.ID),
		zap.Int("evidence", len(turn.EvidenceIDs)),
	)
	return nil
}

// LastTurns returns up to limit turns of the session, oldest first. limit <= 0
// returns all of them.
func (c *Client) LastTurns(ctx context.Context, sessionID string, limit int) ([]agent.Turn, error) {
	query := `
		SELECT id, input, rephrased_question, output, strategy, generated_query, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY seq DESC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}

	var turns []agent.Turn
	for rows.Next() {
		var t agent.Turn
		var rephrased, output, generated sql.NullString
		var strategy string
		var createdAt int64

		if err := rows.Scan(&t.ID, &t.Input, &rephrased, &output, &strategy, &generated, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		t.RephrasedQuestion = rephrased.String
		t.Output = output.String
		t.GeneratedQuery = generated.String
		t.Strategy = agent.Strategy(strategy)
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		turns = append(turns, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	out := make([]agent.Turn, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		t.EvidenceIDs, err = c.evidenceIDs(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) evidenceIDs(ctx context.Context, turnID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT evidence_id FROM turn_evidence WHERE turn_id = ? ORDER BY position`,
		turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
