package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/pkg/logger"
)

// Router picks the retrieval strategy for a standalone question.
type Router interface {
	Route(ctx context.Context, question string) agent.Strategy
}

type Tool struct {
	Name        string
	Description string
	Strategy    agent.Strategy
}

var Tools = []Tool{
	{
		Name:        "graph-cypher-retrieval",
		Description: "For retrieving Scope 3 emissions facts from the graph (Emissionscope terms, Chunk text, year/value/unit, counts, etc.).",
		Strategy:    agent.StrategyStructured,
	},
	{
		Name:        "graph-vector-retrieval",
		Description: "For semantic search over Scope 3 documents/chunks (find relevant passages and related emissions content).",
		Strategy:    agent.StrategySemantic,
	},
}

const routePrompt = `You are routing a question about Scope 3 emissions to exactly one retrieval tool.

Tools:
%s
Reply with the tool name only.

Question: %s`

// FixedRouter always answers with the same strategy.
type FixedRouter struct {
	strategy agent.Strategy
}

func NewFixedRouter(strategy agent.Strategy) *FixedRouter {
	return &FixedRouter{strategy: strategy}
}

func (r *FixedRouter) Route(_ context.Context, _ string) agent.Strategy {
	metrics.RouteDecisions.WithLabelValues(r.strategy.String(), "fixed").Inc()
	return r.strategy
}

// LLMRouter asks the model to choose between the tool descriptions. Failures
// and replies naming no tool route to structured retrieval.
type LLMRouter struct {
	llm agent.Generator
	log *zap.Logger
}

func NewLLMRouter(llm agent.Generator) *LLMRouter {
	return &LLMRouter{llm: llm, log: logger.Named("router")}
}

func (r *LLMRouter) Route(ctx context.Context, question string) agent.Strategy {
	var tools strings.Builder
	for _, t := range Tools {
		fmt.Fprintf(&tools, "- %s: %s\n", t.Name, t.Description)
	}

	strategy := agent.StrategyStructured
	reply, err := r.llm.Generate(ctx, fmt.Sprintf(routePrompt, tools.String(), question))
	if err != nil {
		r.log.Warn("Routing failed, using structured retrieval", zap.Error(err))
	} else {
		strategy = ParseRoute(reply)
	}

	metrics.RouteDecisions.WithLabelValues(strategy.String(), "llm").Inc()
	return strategy
}

// ParseRoute maps a model reply to a strategy.
func ParseRoute(reply string) agent.Strategy {
	lower := strings.ToLower(reply)
	for _, t := range Tools {
		if strings.Contains(lower, t.Name) {
			return t.Strategy
		}
	}
	switch {
	case strings.Contains(lower, "vector"), strings.Contains(lower, "semantic"):
		return agent.StrategySemantic
	default:
		return agent.StrategyStructured
	}
}
