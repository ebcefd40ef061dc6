// Package semantic answers questions from the passages nearest to the
// question embedding.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/evidence"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/pkg/logger"
)

// Advisory is the whole answer when no vector index is configured. The turn
// is not persisted.
const Advisory = "Vector index is not available in this database. Try the structured graph retrieval tool instead."

const (
	DefaultTopK  = 5
	notAvailable = "N/A"
)

var metadataFields = []string{"company", "scope", "year", "value", "unit", "source"}

var tracer = otel.Tracer("github.com/scope3-agent/backend/internal/semantic")

type Retriever struct {
	embedder    agent.Embedder
	index       agent.VectorIndex
	synthesizer agent.Synthesizer
	recorder    agent.Recorder
	topK        int
	log         *zap.Logger
}

func NewRetriever(embedder agent.Embedder, index agent.VectorIndex, synth agent.Synthesizer, recorder agent.Recorder, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		synthesizer: synth,
		recorder:    recorder,
		topK:        topK,
		log:         logger.Named("semantic"),
	}
}

func (r *Retriever) Retrieve(ctx context.Context, in agent.Input) (*agent.Result, error) {
	ctx, span := tracer.Start(ctx, "semantic.Retrieve")
	defer span.End()

	question := strings.TrimSpace(in.RephrasedQuestion)
	if question == "" {
		question = strings.TrimSpace(in.Question)
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	matches, err := r.index.Search(ctx, vector, r.topK)
	if err != nil {
		if errors.Is(err, agent.ErrIndexUnavailable) {
			metrics.VectorIndexUnavailable.Inc()
			r.log.Warn("Vector index unavailable, answering with advisory", zap.Error(err))
			span.SetAttributes(attribute.Bool("semantic.advisory", true))
			return &agent.Result{
				Answer:      Advisory,
				Strategy:    agent.StrategySemantic,
				EvidenceIDs: []string{},
				Advisory:    true,
			}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("%w: vector search failed: %w", agent.ErrRetrieval, err)
	}

	bundle, err := evidence.NewBundle(Records(matches))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", agent.ErrRetrieval, err)
	}
	span.SetAttributes(attribute.Int("semantic.matches", len(matches)))

	answer, err := r.synthesizer.Answer(ctx, question, bundle.Context)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.recorder.Record(ctx, in.SessionID, agent.Turn{
		Input:             in.Question,
		RephrasedQuestion: question,
		Output:            answer,
		Strategy:          agent.StrategySemantic,
		EvidenceIDs:       bundle.IDs,
	})

	return &agent.Result{
		Answer:      answer,
		Strategy:    agent.StrategySemantic,
		EvidenceIDs: bundle.IDs,
	}, nil
}

// Records turns matches into evidence records: cleaned text, score, and the
// metadata with "N/A" for every missing field.
func Records(matches []agent.Match) []agent.Record {
	out := make([]agent.Record, 0, len(matches))
	for _, m := range matches {
		md := make(map[string]any, len(m.Metadata)+len(metadataFields))
		for k, v := range m.Metadata {
			md[k] = v
		}
		for _, f := range metadataFields {
			if v, ok := md[f]; !ok || v == nil || v == "" {
				md[f] = notAvailable
			}
		}

		out = append(out, agent.Record{
			"text":     evidence.CleanText(m.Text),
			"score":    m.Score,
			"metadata": md,
		})
	}
	return out
}
