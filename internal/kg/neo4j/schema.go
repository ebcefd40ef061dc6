package neo4j

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scope3-agent/backend/internal/agent"
)

const (
	nodePropertiesQuery = `CALL db.schema.nodeTypeProperties()
YIELD nodeLabels, propertyName, propertyTypes
RETURN nodeLabels, propertyName, propertyTypes`

	relPropertiesQuery = `CALL db.schema.relTypeProperties()
YIELD relType, propertyName, propertyTypes
RETURN relType, propertyName, propertyTypes`

	patternsQuery = `CALL db.schema.visualization() YIELD nodes, relationships
UNWIND relationships AS rel
RETURN DISTINCT labels(startNode(rel))[0] AS start, type(rel) AS type, labels(endNode(rel))[0] AS end`
)

// PropertyRow is one row of db.schema.*TypeProperties.
type PropertyRow struct {
	Owner string
	Name  string
	Types []string
}

// Pattern is one (start)-[type]->(end) triple.
type Pattern struct {
	Start string
	Type  string
	End   string
}

// DescribeSchema renders node properties, relationship properties and
// relationship patterns of the live database. It is read fresh on every call.
func (c *Client) DescribeSchema(ctx context.Context) (string, error) {
	nodeRows, err := c.Read(ctx, nodePropertiesQuery, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read node properties: %w", err)
	}
	relRows, err := c.Read(ctx, relPropertiesQuery, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read relationship properties: %w", err)
	}
	patternRows, err := c.Read(ctx, patternsQuery, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read relationship patterns: %w", err)
	}

	return FormatSchema(nodePropertyRows(nodeRows), relPropertyRows(relRows), patterns(patternRows)), nil
}

// FormatSchema lays the schema out the way the generation prompts expect:
//
//	Node properties:
//	Chunk {text: STRING, year: INTEGER}
//	Relationship properties:
//	HAS_ENTITY {confidence: FLOAT}
//	The relationships:
//	(:Chunk)-[:HAS_ENTITY]->(:Emissionscope)
func FormatSchema(nodes, rels []PropertyRow, pats []Pattern) string {
	var b strings.Builder

	b.WriteString("Node properties:\n")
	writeProperties(&b, nodes)

	b.WriteString("Relationship properties:\n")
	writeProperties(&b, rels)

	b.WriteString("The relationships:\n")
	sorted := append([]Pattern(nil), pats...)
	sort.Slice(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if a.Start != c.Start {
			return a.Start < c.Start
		}
		if a.Type != c.Type {
			return a.Type < c.Type
		}
		return a.End < c.End
	})
	for _, p := range sorted {
		fmt.Fprintf(&b, "(:%s)-[:%s]->(:%s)\n", p.Start, p.Type, p.End)
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeProperties(b *strings.Builder, rows []PropertyRow) {
	owners := []string{}
	props := map[string][]string{}

	for _, r := range rows {
		if _, ok := props[r.Owner]; !ok {
			owners = append(owners, r.Owner)
			props[r.Owner] = []string{}
		}
		if r.Name == "" || r.Name == "embedding" {
			continue
		}
		props[r.Owner] = append(props[r.Owner], fmt.Sprintf("%s: %s", r.Name, propertyType(r.Types)))
	}

	sort.Strings(owners)
	for _, owner := range owners {
		list := props[owner]
		sort.Strings(list)
		fmt.Fprintf(b, "%s {%s}\n", owner, strings.Join(list, ", "))
	}
}

func propertyType(types []string) string {
	if len(types) == 0 {
		return "ANY"
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = strings.ToUpper(strings.TrimSuffix(t, "Array")) + arraySuffix(t)
	}
	return strings.Join(out, " | ")
}

func arraySuffix(t string) string {
	if strings.HasSuffix(t, "Array") {
		return "[]"
	}
	return ""
}

func nodePropertyRows(rows []agent.Record) []PropertyRow {
	out := make([]PropertyRow, 0, len(rows))
	for _, r := range rows {
		labels := stringList(r["nodeLabels"])
		if len(labels) == 0 {
			continue
		}
		out = append(out, PropertyRow{
			Owner: strings.Join(labels, ":"),
			Name:  stringValue(r["propertyName"]),
			Types: stringList(r["propertyTypes"]),
		})
	}
	return out
}

func relPropertyRows(rows []agent.Record) []PropertyRow {
	out := make([]PropertyRow, 0, len(rows))
	for _, r := range rows {
		relType := strings.Trim(strings.TrimPrefix(stringValue(r["relType"]), ":"), "`")
		if relType == "" {
			continue
		}
		out = append(out, PropertyRow{
			Owner: relType,
			Name:  stringValue(r["propertyName"]),
			Types: stringList(r["propertyTypes"]),
		})
	}
	return out
}

func patterns(rows []agent.Record) []Pattern {
	out := make([]Pattern, 0, len(rows))
	for _, r := range rows {
		p := Pattern{Start: stringValue(r["start"]), Type: stringValue(r["type"]), End: stringValue(r["end"])}
		if p.Start == "" || p.Type == "" || p.End == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
