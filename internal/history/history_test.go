package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	params  []map[string]any
	rows    []agent.Record
	err     error
}

func (f *fakeRunner) Read(_ context.Context, cypher string, params map[string]any) ([]agent.Record, error) {
	return f.run(cypher, params)
}

func (f *fakeRunner) Write(_ context.Context, cypher string, params map[string]any) ([]agent.Record, error) {
	return f.run(cypher, params)
}

func (f *fakeRunner) run(cypher string, params map[string]any) ([]agent.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, cypher)
	f.params = append(f.params, params)
	return f.rows, f.err
}

type fakeStore struct {
	mu     sync.Mutex
	turns  []agent.Turn
	err    error
	ctxErr error
}

func (f *fakeStore) Append(ctx context.Context, _ string, turn agent.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeStore) LastTurns(context.Context, string, int) ([]agent.Turn, error) {
	return f.turns, nil
}

func TestGraphStoreAppendLinksEvidence(t *testing.T) {
	runner := &fakeRunner{}
	store := NewGraphStore(runner)

	err := store.Append(context.Background(), "s-1", agent.Turn{
		Input:             "what about 2023?",
		RephrasedQuestion: "What were the Efficiency emissions in 2023?",
		Output:            "1.3 MtCO2e",
		Strategy:          agent.StrategyStructured,
		GeneratedQuery:    "MATCH (d:Chunk) RETURN d LIMIT 10",
		EvidenceIDs:       []string{"4:db:1", "4:db:2"},
	})
	require.NoError(t, err)

	require.Len(t, runner.queries, 1)
	assert.Contains(t, runner.queries[0], "MERGE (session:Session {id: $sessionId})\nSET session.updatedAt = $createdAt")
	assert.Contains(t, runner.queries[0], "CREATE (last)-[:NEXT]->(response)")
	assert.Contains(t, runner.queries[0], "CREATE (response)-[:CONTEXT]->(context)")

	p := runner.params[0]
	assert.Equal(t, "s-1", p["sessionId"])
	assert.Equal(t, "structured", p["source"])
	assert.Equal(t, []string{"4:db:1", "4:db:2"}, p["ids"])
	assert.NotEmpty(t, p["id"])
	assert.IsType(t, time.Time{}, p["createdAt"])
}

func TestGraphStoreAppendOmitsEmptyQuery(t *testing.T) {
	runner := &fakeRunner{}
	store := NewGraphStore(runner)

	require.NoError(t, store.Append(context.Background(), "s-1", agent.Turn{Strategy: agent.StrategySemantic}))

	p := runner.params[0]
	assert.Nil(t, p["cypher"])
	assert.Equal(t, []string{}, p["ids"])
}

func TestGraphStoreAppendReportsPersistenceError(t *testing.T) {
	store := NewGraphStore(&fakeRunner{err: errors.New("connection refused")})

	err := store.Append(context.Background(), "s-1", agent.Turn{})
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrPersistence)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGraphStoreLastTurnsOldestFirst(t *testing.T) {
	newer := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Minute)
	runner := &fakeRunner{rows: []agent.Record{
		{"id": "r2", "input": "what about 2023?", "output": "1.3", "source": "structured",
			"ids": []any{"4:db:9"}, "createdAt": newer.Format(time.RFC3339Nano)},
		{"id": "r1", "input": "emissions in 2022?", "output": "1.2", "source": "semantic",
			"cypher": nil, "ids": []any{}, "createdAt": older},
	}}
	store := NewGraphStore(runner)

	turns, err := store.LastTurns(context.Background(), "s-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, "r1", turns[0].ID)
	assert.Equal(t, agent.StrategySemantic, turns[0].Strategy)
	assert.Equal(t, older, turns[0].CreatedAt)
	assert.Equal(t, []string{}, turns[0].EvidenceIDs)

	assert.Equal(t, "r2", turns[1].ID)
	assert.Equal(t, []string{"4:db:9"}, turns[1].EvidenceIDs)
	assert.True(t, newer.Equal(turns[1].CreatedAt))

	assert.Contains(t, runner.queries[0], "LIMIT $limit")
	assert.Equal(t, 2, runner.params[0]["limit"])
}

func TestGraphStoreLastTurnsUnbounded(t *testing.T) {
	runner := &fakeRunner{}
	store := NewGraphStore(runner)

	turns, err := store.LastTurns(context.Background(), "s-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.NotContains(t, runner.queries[0], "LIMIT")
	assert.NotContains(t, runner.params[0], "limit")
}

func TestRecorderPersistsDetachedFromRequest(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, "test", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Record(ctx, "s-1", agent.Turn{Input: "q", Strategy: agent.StrategyStructured})
	cancel()
	rec.Wait()

	require.Len(t, store.turns, 1)
	assert.NoError(t, store.ctxErr)
	assert.False(t, store.turns[0].CreatedAt.IsZero())
	assert.NotNil(t, store.turns[0].EvidenceIDs)
}

type overlapStore struct {
	mu      sync.Mutex
	active  map[string]int
	overlap bool
	order   map[string][]string
}

func (s *overlapStore) Append(_ context.Context, sessionID string, turn agent.Turn) error {
	s.mu.Lock()
	s.active[sessionID]++
	if s.active[sessionID] > 1 {
		s.overlap = true
	}
	s.order[sessionID] = append(s.order[sessionID], turn.Input)
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.active[sessionID]--
	s.mu.Unlock()
	return nil
}

func (s *overlapStore) LastTurns(context.Context, string, int) ([]agent.Turn, error) {
	return nil, nil
}

func TestRecorderSerializesSessionWrites(t *testing.T) {
	store := &overlapStore{active: map[string]int{}, order: map[string][]string{}}
	rec := NewRecorder(store, "test", time.Second)

	inputs := []string{"q1", "q2", "q3", "q4", "q5"}
	for _, in := range inputs {
		rec.Record(context.Background(), "s-1", agent.Turn{Input: in})
		rec.Record(context.Background(), "s-2", agent.Turn{Input: in})
	}
	rec.Wait()

	assert.False(t, store.overlap)
	assert.Equal(t, inputs, store.order["s-1"])
	assert.Equal(t, inputs, store.order["s-2"])
	assert.Empty(t, rec.tail)
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	rec := NewRecorder(store, "test", 0)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), "s-1", agent.Turn{Strategy: agent.StrategySemantic})
		rec.Wait()
	})
	assert.Empty(t, store.turns)
}
