// Package history persists finished turns and reads back the recent ones a
// session needs for rephrasing.
package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/pkg/logger"
)

const DefaultWriteTimeout = 10 * time.Second

// Recorder writes turns in the background so a slow or failing store never
// delays or fails the answer. Writes outlive the request context but are
// bounded by their own timeout. Writes for one session run one at a time, in
// the order they were recorded.
type Recorder struct {
	store   agent.HistoryStore
	backend string
	timeout time.Duration
	wg      sync.WaitGroup
	log     *zap.Logger

	mu   sync.Mutex
	tail map[string]chan struct{}
}

func NewRecorder(store agent.HistoryStore, backend string, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Recorder{
		store:   store,
		backend: backend,
		timeout: timeout,
		log:     logger.Named("history"),
		tail:    make(map[string]chan struct{}),
	}
}

func (r *Recorder) Record(ctx context.Context, sessionID string, turn agent.Turn) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if turn.EvidenceIDs == nil {
		turn.EvidenceIDs = []string{}
	}

	done := make(chan struct{})
	r.mu.Lock()
	prev := r.tail[sessionID]
	r.tail[sessionID] = done
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(sessionID, done)

		if prev != nil {
			<-prev
		}

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.store.Append(wctx, sessionID, turn); err != nil {
			metrics.HistoryWriteFailures.WithLabelValues(r.backend).Inc()
			r.log.Warn("Failed to persist turn",
				zap.String("session_id", sessionID),
				zap.String("strategy", turn.Strategy.String()),
				zap.Error(err),
			)
			return
		}

		metrics.EvidenceCount.WithLabelValues(turn.Strategy.String()).Observe(float64(len(turn.EvidenceIDs)))
		r.log.Debug("Turn persisted",
			zap.String("session_id", sessionID),
			zap.Int("evidence", len(turn.EvidenceIDs)),
		)
	}()
}

func (r *Recorder) release(sessionID string, done chan struct{}) {
	close(done)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tail[sessionID] == done {
		delete(r.tail, sessionID)
	}
}

// Wait blocks until every pending write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
