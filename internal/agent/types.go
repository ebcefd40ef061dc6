package agent

import (
	"fmt"
	"strings"
	"time"
)

// IDField is the result field that carries a record's stable identifier.
const IDField = "_id"

// Record is one row returned by the datastore.
type Record = map[string]any

type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategySemantic   Strategy = "semantic"
)

func (s Strategy) String() string { return string(s) }

func ParseStrategy(v string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(v))) {
	case StrategyStructured:
		return StrategyStructured, nil
	case StrategySemantic:
		return StrategySemantic, nil
	}
	return "", fmt.Errorf("unknown strategy %q", v)
}

// Turn is one persisted question/answer exchange.
type Turn struct {
	ID                string
	Input             string
	RephrasedQuestion string
	Output            string
	Strategy          Strategy
	GeneratedQuery    string
	EvidenceIDs       []string
	CreatedAt         time.Time
}

// Exchange is the {input, output} view of a turn used for rephrasing.
type Exchange struct {
	Input  string
	Output string
}

func Exchanges(turns []Turn) []Exchange {
	out := make([]Exchange, 0, len(turns))
	for _, t := range turns {
		out = append(out, Exchange{Input: t.Input, Output: t.Output})
	}
	return out
}

// Input is what the router hands to a retriever.
type Input struct {
	SessionID         string
	Question          string
	RephrasedQuestion string
}

type Result struct {
	Answer         string
	Strategy       Strategy
	EvidenceIDs    []string
	GeneratedQuery string
	// Advisory is set when the retriever could not run and Answer only tells the
	// caller to try another strategy.
	Advisory bool
}

// QueryCandidate is a structured query in flight between generation, evaluation
// and execution. Empty Errors means the query is considered valid.
type QueryCandidate struct {
	Query  string
	Errors []string
}

func (c QueryCandidate) Valid() bool {
	return len(c.Errors) == 0
}

// Match is one nearest-neighbour passage.
type Match struct {
	Text     string
	Score    float64
	Metadata map[string]any
}

// Hit is a raw nearest-neighbour result from an external index, keyed by the
// element id of the passage node.
type Hit struct {
	ID    string
	Score float64
}
