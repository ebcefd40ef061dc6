package cypher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/evidence"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultMaxRepairAttempts bounds the proactive evaluate-and-repair loop.
const DefaultMaxRepairAttempts = 5

var tracer = otel.Tracer("github.com/scope3-agent/backend/internal/cypher")

type Options struct {
	Vocabulary           Vocabulary
	MaxRepairAttempts    int
	DeterministicAnswers bool
}

// Plan is the query chosen for a question before execution.
type Plan struct {
	Query  string
	Intent Intent
	// Source is "count", "generated" or "fallback".
	Source string
}

// Execution is the query that finally produced Rows.
type Execution struct {
	Query string
	Rows  []agent.Record
}

// Retriever answers questions from the graph through generated Cypher.
type Retriever struct {
	store       agent.Datastore
	generator   *Generator
	evaluator   *Evaluator
	analyzer    *Analyzer
	synthesizer agent.Synthesizer
	recorder    agent.Recorder
	opts        Options
	log         *zap.Logger
}

func NewRetriever(store agent.Datastore, llm agent.LanguageModel, synth agent.Synthesizer, recorder agent.Recorder, opts Options) *Retriever {
	if opts.MaxRepairAttempts <= 0 {
		opts.MaxRepairAttempts = DefaultMaxRepairAttempts
	}
	if opts.Vocabulary.RowCap <= 0 {
		opts.Vocabulary.RowCap = DefaultVocabulary().RowCap
	}

	return &Retriever{
		store:       store,
		generator:   NewGenerator(llm, opts.Vocabulary.RowCap),
		evaluator:   NewEvaluator(llm, opts.Vocabulary.RowCap),
		analyzer:    NewAnalyzer(opts.Vocabulary),
		synthesizer: synth,
		recorder:    recorder,
		opts:        opts,
		log:         logger.Named("cypher"),
	}
}

// Retrieve runs the full structured pipeline for one turn and hands the turn
// to the recorder before returning.
func (r *Retriever) Retrieve(ctx context.Context, in agent.Input) (*agent.Result, error) {
	ctx, span := tracer.Start(ctx, "cypher.Retrieve")
	defer span.End()

	question := strings.TrimSpace(in.RephrasedQuestion)
	if question == "" {
		question = strings.TrimSpace(in.Question)
	}

	plan, err := r.BuildQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("cypher.plan_source", plan.Source))

	exec, err := r.Execute(ctx, question, plan)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	bundle, err := evidence.NewBundle(exec.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize rows: %w", agent.ErrRetrieval, err)
	}
	span.SetAttributes(attribute.Int("cypher.rows", len(exec.Rows)), attribute.Int("cypher.evidence", len(bundle.IDs)))

	answer, err := r.answer(ctx, question, plan.Intent, exec.Rows, bundle)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.recorder.Record(ctx, in.SessionID, agent.Turn{
		Input:             in.Question,
		RephrasedQuestion: question,
		Output:            answer,
		Strategy:          agent.StrategyStructured,
		GeneratedQuery:    exec.Query,
		EvidenceIDs:       bundle.IDs,
	})

	return &agent.Result{
		Answer:         answer,
		Strategy:       agent.StrategyStructured,
		EvidenceIDs:    bundle.IDs,
		GeneratedQuery: exec.Query,
	}, nil
}

// BuildQuery picks the query to run: a hand-written count query, or a
// generated query that has been through the repair loop, the fixups and the
// evidence augmentation.
func (r *Retriever) BuildQuery(ctx context.Context, question string) (Plan, error) {
	vocab := r.opts.Vocabulary
	intent := r.analyzer.Analyze(question)

	if intent.Kind == IntentCount {
		metrics.ShortCircuits.WithLabelValues(intent.Kind.String()).Inc()
		return Plan{
			Query:  Sanitize(vocab.CountQuery(intent.CountLabel), vocab.RowCap),
			Intent: intent,
			Source: "count",
		}, nil
	}

	schema, err := r.store.DescribeSchema(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: failed to describe schema: %w", agent.ErrRetrieval, err)
	}

	draft, err := r.generator.Generate(ctx, question, schema)
	if err != nil {
		return Plan{}, err
	}

	candidate := r.repair(ctx, question, schema, agent.QueryCandidate{Query: draft, Errors: []string{}})
	query := Sanitize(candidate.Query, vocab.RowCap)

	if intent.NeedsEvidence() && !vocab.TargetsEvidence(query) {
		metrics.FallbackQueries.WithLabelValues("augment").Inc()
		r.log.Debug("Replacing query that ignores evidence nodes", zap.String("query", query))
		return Plan{Query: vocab.FallbackQuery(intent), Intent: intent, Source: "fallback"}, nil
	}

	return Plan{Query: query, Intent: intent, Source: "generated"}, nil
}

// repair calls the evaluator until it reports no errors or the attempt budget
// runs out. Evaluator failures are logged and count as spent attempts.
func (r *Retriever) repair(ctx context.Context, question, schema string, candidate agent.QueryCandidate) agent.QueryCandidate {
	attempts := 0
	for attempts < r.opts.MaxRepairAttempts {
		if ctx.Err() != nil {
			break
		}
		attempts++

		next, err := r.evaluator.Evaluate(ctx, Evaluation{
			Question: question,
			Query:    candidate.Query,
			Schema:   schema,
			Errors:   candidate.Errors,
		})
		if err != nil {
			metrics.RepairErrors.Inc()
			r.log.Warn("Cypher evaluation failed", zap.Int("attempt", attempts), zap.Error(err))
			continue
		}

		candidate = next
		if candidate.Valid() {
			break
		}
	}

	metrics.RepairIterations.Observe(float64(attempts))
	if !candidate.Valid() {
		r.log.Debug("Repair budget spent with open errors", zap.Strings("errors", candidate.Errors))
	}
	return candidate
}

// Execute runs the plan, repairs it once on a datastore error, and re-runs the
// fallback when an evidence question came back without usable rows.
func (r *Retriever) Execute(ctx context.Context, question string, plan Plan) (Execution, error) {
	vocab := r.opts.Vocabulary
	query := plan.Query

	rows, err := r.store.Query(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return Execution{}, fmt.Errorf("%w: %w", agent.ErrRetrieval, err)
		}
		r.log.Warn("Cypher execution failed, attempting repair", zap.String("query", query), zap.Error(err))

		query, rows, err = r.reactiveRepair(ctx, question, query, err)
		if err != nil {
			return Execution{}, err
		}
	}

	if plan.Source != "count" {
		if reason := r.insufficient(plan.Intent, rows); reason != "" {
			fallback := vocab.FallbackQuery(plan.Intent)
			if fallback != query {
				metrics.FallbackQueries.WithLabelValues(reason).Inc()

				fbRows, fbErr := r.store.Query(ctx, fallback)
				if fbErr != nil {
					r.log.Warn("Fallback query failed, keeping original rows", zap.String("reason", reason), zap.Error(fbErr))
				} else {
					query, rows = fallback, fbRows
				}
			}
		}
	}

	return Execution{Query: query, Rows: rows}, nil
}

func (r *Retriever) reactiveRepair(ctx context.Context, question, query string, cause error) (string, []agent.Record, error) {
	schema, err := r.store.DescribeSchema(ctx)
	if err != nil {
		r.log.Warn("Schema unavailable for repair", zap.Error(err))
	}

	fixed, err := r.evaluator.Evaluate(ctx, Evaluation{
		Question: question,
		Query:    query,
		Schema:   schema,
		Errors:   []string{cause.Error()},
	})
	if err != nil {
		metrics.ReactiveRepairs.WithLabelValues("evaluator_error").Inc()
		return "", nil, fmt.Errorf("%w: %w", agent.ErrExecution, cause)
	}

	repaired := Sanitize(fixed.Query, r.opts.Vocabulary.RowCap)
	rows, err := r.store.Query(ctx, repaired)
	if err != nil {
		metrics.ReactiveRepairs.WithLabelValues("failed").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", nil, fmt.Errorf("%w: %w", agent.ErrRetrieval, err)
		}
		return "", nil, fmt.Errorf("%w: %w", agent.ErrExecution, err)
	}

	metrics.ReactiveRepairs.WithLabelValues("recovered").Inc()
	return repaired, rows, nil
}

// insufficient names why rows cannot back an evidence answer, or returns "".
func (r *Retriever) insufficient(in Intent, rows []agent.Record) string {
	if !in.NeedsEvidence() {
		return ""
	}
	if len(rows) == 0 {
		return "empty"
	}

	hasID := len(evidence.ExtractIDs(rows)) > 0
	hasUnit := false
	unit := strings.ToLower(r.opts.Vocabulary.UnitToken)
	for _, row := range rows {
		if u, ok := row["unit"].(string); ok && u != "" {
			hasUnit = true
		}
		if t, ok := row["text"].(string); ok && unit != "" && strings.Contains(strings.ToLower(t), unit) {
			hasUnit = true
		}
	}

	switch {
	case !hasID:
		return "missing_ids"
	case in.Emissions && !hasUnit:
		return "missing_unit"
	}
	return ""
}

func (r *Retriever) answer(ctx context.Context, question string, in Intent, rows []agent.Record, bundle evidence.Bundle) (string, error) {
	if r.opts.DeterministicAnswers {
		if answer, kind, ok := DirectAnswer(in, rows, r.opts.Vocabulary); ok {
			metrics.DeterministicAnswers.WithLabelValues(kind).Inc()
			return answer, nil
		}
	}
	return r.synthesizer.Answer(ctx, question, bundle.Context)
}
