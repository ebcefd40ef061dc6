package cypher

import (
	"fmt"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
)

// DirectAnswer forms an answer straight from rows for count questions and for
// emissions questions that ask for a figure. It returns the answer kind, or
// false when the rows do not settle the question and the synthesizer must run.
// The answer names the year of the row it quotes, which is the newest row
// when the year asked for is not present.
func DirectAnswer(in Intent, rows []agent.Record, v Vocabulary) (string, string, bool) {
	if in.Kind == IntentCount {
		if len(rows) != 1 {
			return "", "", false
		}
		n, ok := toInt(rows[0]["count"])
		if !ok {
			return "", "", false
		}
		return fmt.Sprintf("There are %d %s in the database.", n, plural(in.CountLabel)), "count", true
	}

	if !in.Emissions || in.MultiYear || !in.AsksValue() {
		return "", "", false
	}

	row, ok := SelectRow(rows, in.Year)
	if !ok {
		return "", "", false
	}

	value, unit := measurement(row, v.UnitToken)
	if value == "" {
		return "", "", false
	}

	year, ok := toInt(row["year"])
	if !ok || year == 0 {
		return "", "", false
	}

	subject := "Scope 3 emissions"
	if in.Topic != "" {
		subject = fmt.Sprintf("Scope 3 %s emissions", in.Topic)
	}

	answer := fmt.Sprintf("%s in %d were %s %s.", subject, year, value, unit)
	if src, _ := row["source"].(string); strings.TrimSpace(src) != "" {
		answer += " Source: " + strings.TrimSpace(src)
	}
	return answer, "emissions", true
}

// measurement prefers the row's value and unit fields and falls back to the
// first "<number> <unit>" in its text.
func measurement(row agent.Record, unitToken string) (string, string) {
	unit, _ := row["unit"].(string)
	unit = strings.TrimSpace(unit)
	if value, ok := formatNumber(row["value"]); ok && unit != "" {
		return value, unit
	}

	text, _ := row["text"].(string)
	if value, ok := ExtractMeasurement(text, unitToken); ok {
		return value, unitToken
	}
	return "", ""
}

func plural(label string) string {
	if strings.HasSuffix(strings.ToLower(label), "s") {
		return label
	}
	return label + "s"
}
