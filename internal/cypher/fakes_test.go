package cypher

import (
	"context"
	"errors"
	"sync"

	"github.com/scope3-agent/backend/internal/agent"
)

type fakeLLM struct {
	mu sync.Mutex

	generated []string
	genErr    error

	evaluations []agent.QueryCandidate
	evalErrs    []error

	genPrompts  []string
	evalPrompts []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.genPrompts = append(f.genPrompts, prompt)
	if f.genErr != nil {
		return "", f.genErr
	}
	if len(f.generated) == 0 {
		return "", errors.New("no generation scripted")
	}
	i := min(len(f.genPrompts)-1, len(f.generated)-1)
	return f.generated[i], nil
}

func (f *fakeLLM) GenerateStructured(_ context.Context, prompt string) (agent.QueryCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evalPrompts = append(f.evalPrompts, prompt)
	i := len(f.evalPrompts) - 1
	if i < len(f.evalErrs) && f.evalErrs[i] != nil {
		return agent.QueryCandidate{}, f.evalErrs[i]
	}
	if len(f.evaluations) == 0 {
		return agent.QueryCandidate{}, errors.New("no evaluation scripted")
	}
	return f.evaluations[min(i, len(f.evaluations)-1)], nil
}

type fakeStore struct {
	mu sync.Mutex

	schema    string
	schemaErr error
	handler   func(ctx context.Context, query string) ([]agent.Record, error)

	queries     []string
	schemaCalls int
}

func (f *fakeStore) Query(ctx context.Context, query string) ([]agent.Record, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.handler == nil {
		return []agent.Record{}, nil
	}
	return f.handler(ctx, query)
}

func (f *fakeStore) DescribeSchema(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.schemaCalls++
	return f.schema, f.schemaErr
}

type fakeSynth struct {
	contexts []string
	answer   string
}

func (f *fakeSynth) Answer(_ context.Context, _ string, evidence string) (string, error) {
	f.contexts = append(f.contexts, evidence)
	if f.answer == "" {
		return "synthesized", nil
	}
	return f.answer, nil
}

type fakeRecorder struct {
	sessions []string
	turns    []agent.Turn
}

func (f *fakeRecorder) Record(_ context.Context, sessionID string, turn agent.Turn) {
	f.sessions = append(f.sessions, sessionID)
	f.turns = append(f.turns, turn)
}
