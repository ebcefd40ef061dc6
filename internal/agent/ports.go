// Package agent holds the types shared by every stage of the question-answering
// pipeline and the interfaces of the services the pipeline consumes.
//
// The pipeline depends only on these interfaces. Adapters for OpenAI, Neo4j,
// Milvus, Redis and SQLite live in their own packages and implement them.
package agent

import "context"

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StructuredGenerator produces a query candidate from a prompt that asks for
// {"query": ..., "errors": [...]}. Implementations must return a non-nil Errors slice.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, prompt string) (QueryCandidate, error)
}

// LanguageModel is the full generation service contract.
type LanguageModel interface {
	Generator
	StructuredGenerator
}

// Datastore runs structured queries and describes its own schema.
// Query errors carry the server message verbatim; it is fed back to the evaluator.
type Datastore interface {
	Query(ctx context.Context, query string) ([]Record, error)
	DescribeSchema(ctx context.Context) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex returns the k nearest passages. A missing or misconfigured index
// must be reported as ErrIndexUnavailable.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
}

// HistoryStore persists turns per session. LastTurns returns turns oldest first;
// limit <= 0 means all.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, turn Turn) error
	LastTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// Synthesizer answers a question strictly from serialized evidence.
type Synthesizer interface {
	Answer(ctx context.Context, question, evidence string) (string, error)
}

// Recorder persists a finished turn without holding up the answer.
type Recorder interface {
	Record(ctx context.Context, sessionID string, turn Turn)
}

// Retriever is one retrieval strategy: it answers a rephrased question and
// records the turn.
type Retriever interface {
	Retrieve(ctx context.Context, in Input) (*Result, error)
}
