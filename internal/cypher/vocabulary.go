// Package cypher implements structured retrieval: it turns a standalone
// question into a bounded Cypher query, repairs it against the live schema,
// runs it, and answers from the returned rows.
package cypher

import (
	"fmt"
	"regexp"
	"strings"
)

// FallbackRowLimit bounds the heuristic evidence query independently of the
// general row cap.
const FallbackRowLimit = 10

// Vocabulary names the graph labels and domain terms the heuristics rely on.
type Vocabulary struct {
	TopicKeywords        []string
	CountableLabels      []string
	EvidenceLabel        string
	TopicLabel           string
	EvidenceRelationship string
	UnitToken            string
	RowCap               int
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		TopicKeywords:        []string{"Efficiency", "Sustainability", "Asia", "Africa", "Global Economy"},
		CountableLabels:      []string{"Emissionscope"},
		EvidenceLabel:        "Chunk",
		TopicLabel:           "Emissionscope",
		EvidenceRelationship: "HAS_ENTITY",
		UnitToken:            "MtCO2e",
		RowCap:               10,
	}
}

// CountQuery counts the nodes of label that carry a name.
func (v Vocabulary) CountQuery(label string) string {
	return fmt.Sprintf("MATCH (n:%s) WHERE n.name IS NOT NULL RETURN count(n) AS count", quoteIdent(label))
}

// FallbackQuery returns evidence passages linked to the question's topic and
// year, newest first, each with its element id.
func (v Vocabulary) FallbackQuery(in Intent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (d:%s)-[:%s]->(c:%s)\n",
		quoteIdent(v.EvidenceLabel), quoteIdent(v.EvidenceRelationship), quoteIdent(v.TopicLabel))
	b.WriteString("WHERE d.text IS NOT NULL")

	if in.Topic != "" {
		t := quoteString(strings.ToLower(in.Topic))
		fmt.Fprintf(&b, "\n  AND ((c.name IS NOT NULL AND toLower(c.name) = %s) OR (c.id IS NOT NULL AND toLower(toString(c.id)) = %s))", t, t)
	}
	if in.Year != 0 {
		fmt.Fprintf(&b, "\n  AND (d.year = %d OR '%d' IN split(d.text, ' '))", in.Year, in.Year)
	}

	b.WriteString("\nRETURN d.text AS text, d.year AS year, d.value AS value, d.unit AS unit, ")
	b.WriteString("coalesce(d.source, d.url) AS source, elementId(d) AS _id")
	b.WriteString("\nORDER BY coalesce(d.year, 0) DESC, elementId(d) DESC")
	fmt.Fprintf(&b, "\nLIMIT %d", v.fallbackLimit())
	return b.String()
}

// TargetsEvidence reports whether a query already matches evidence nodes.
func (v Vocabulary) TargetsEvidence(query string) bool {
	label := regexp.QuoteMeta(v.EvidenceLabel)
	re := regexp.MustCompile(`:\s*(` + label + `\b|` + "`" + label + "`" + `)`)
	return re.MatchString(query)
}

func (v Vocabulary) fallbackLimit() int {
	if v.RowCap > 0 && v.RowCap < FallbackRowLimit {
		return v.RowCap
	}
	return FallbackRowLimit
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
