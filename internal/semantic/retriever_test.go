package semantic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	texts []string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return []float32{0.1, 0.2}, f.err
}

type fakeIndex struct {
	matches []agent.Match
	err     error
	k       int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]agent.Match, error) {
	f.k = k
	return f.matches, f.err
}

type fakeSynth struct {
	contexts []string
}

func (f *fakeSynth) Answer(_ context.Context, _ string, evidence string) (string, error) {
	f.contexts = append(f.contexts, evidence)
	return "Acme reported 1.3 MtCO2e of Efficiency emissions in 2023.", nil
}

type fakeRecorder struct {
	turns []agent.Turn
}

func (f *fakeRecorder) Record(_ context.Context, _ string, turn agent.Turn) {
	f.turns = append(f.turns, turn)
}

func TestRetrieveAnswersFromMatches(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndex{matches: []agent.Match{
		{
			Text:  "<p>Efficiency emissions (2023):\n 1.3 MtCO2e</p>",
			Score: 0.92,
			Metadata: map[string]any{
				"_id": "4:db:7", "company": "Acme", "scope": "Efficiency",
				"year": int64(2023), "value": 1.3, "unit": "MtCO2e", "source": nil,
			},
		},
		{Text: "Sustainability overview", Score: 0.81, Metadata: map[string]any{"_id": "4:db:8"}},
		{Text: "duplicate", Score: 0.5, Metadata: map[string]any{"_id": "4:db:7"}},
	}}
	synth := &fakeSynth{}
	rec := &fakeRecorder{}

	r := NewRetriever(emb, idx, synth, rec, 3)
	res, err := r.Retrieve(context.Background(), agent.Input{
		SessionID:         "s-1",
		Question:          "and Acme?",
		RephrasedQuestion: "What were Acme's Efficiency emissions in 2023?",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"What were Acme's Efficiency emissions in 2023?"}, emb.texts)
	assert.Equal(t, 3, idx.k)
	assert.Equal(t, agent.StrategySemantic, res.Strategy)
	assert.False(t, res.Advisory)
	assert.Equal(t, []string{"4:db:7", "4:db:8"}, res.EvidenceIDs)

	require.Len(t, synth.contexts, 1)
	assert.Contains(t, synth.contexts[0], `"text":"Efficiency emissions (2023): 1.3 MtCO2e"`)
	assert.Contains(t, synth.contexts[0], `"source":"N/A"`)

	require.Len(t, rec.turns, 1)
	assert.Equal(t, "and Acme?", rec.turns[0].Input)
	assert.Equal(t, agent.StrategySemantic, rec.turns[0].Strategy)
	assert.Equal(t, res.EvidenceIDs, rec.turns[0].EvidenceIDs)
	assert.Empty(t, rec.turns[0].GeneratedQuery)
}

func TestRetrieveIndexUnavailableIsAdvisory(t *testing.T) {
	idx := &fakeIndex{err: fmt.Errorf("%w: doc-embeddings", agent.ErrIndexUnavailable)}
	synth := &fakeSynth{}
	rec := &fakeRecorder{}

	res, err := NewRetriever(&fakeEmbedder{}, idx, synth, rec, 0).Retrieve(context.Background(), agent.Input{Question: "q"})
	require.NoError(t, err)

	assert.True(t, res.Advisory)
	assert.Equal(t, Advisory, res.Answer)
	assert.NotNil(t, res.EvidenceIDs)
	assert.Empty(t, synth.contexts)
	assert.Empty(t, rec.turns)
	assert.Equal(t, DefaultTopK, idx.k)
}

func TestRetrieveSearchErrorIsRetrievalError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("connection reset")}
	rec := &fakeRecorder{}

	_, err := NewRetriever(&fakeEmbedder{}, idx, &fakeSynth{}, rec, 3).Retrieve(context.Background(), agent.Input{Question: "q"})
	assert.ErrorIs(t, err, agent.ErrRetrieval)
	assert.Empty(t, rec.turns)
}

func TestRetrieveEmbedErrorPropagates(t *testing.T) {
	boom := fmt.Errorf("%w: quota", agent.ErrGeneration)
	_, err := NewRetriever(&fakeEmbedder{err: boom}, &fakeIndex{}, &fakeSynth{}, &fakeRecorder{}, 3).
		Retrieve(context.Background(), agent.Input{Question: "q"})
	assert.ErrorIs(t, err, agent.ErrGeneration)
}

func TestRetrieveNoMatchesSynthesizesFromEmptyContext(t *testing.T) {
	synth := &fakeSynth{}
	res, err := NewRetriever(&fakeEmbedder{}, &fakeIndex{matches: []agent.Match{}}, synth, &fakeRecorder{}, 3).
		Retrieve(context.Background(), agent.Input{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, synth.contexts)
	assert.Empty(t, res.EvidenceIDs)
}

func TestRecordsFillsMissingMetadata(t *testing.T) {
	got := Records([]agent.Match{{Text: " a  b ", Score: 0.4}})
	require.Len(t, got, 1)
	assert.Equal(t, "a b", got[0]["text"])
	assert.Equal(t, map[string]any{
		"company": "N/A", "scope": "N/A", "year": "N/A",
		"value": "N/A", "unit": "N/A", "source": "N/A",
	}, got[0]["metadata"])
}
