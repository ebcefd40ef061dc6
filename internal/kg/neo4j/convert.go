package neo4j

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/scope3-agent/backend/internal/agent"
)

func convertRecords(records []*neo4j.Record) []agent.Record {
	rows := make([]agent.Record, 0, len(records))
	for _, record := range records {
		row := make(agent.Record, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = convertValue(record.Values[i])
		}
		rows = append(rows, row)
	}
	return rows
}

// convertValue turns driver values into plain JSON-friendly values. Nodes and
// relationships become their property maps plus the element id under "_id".
func convertValue(v any) any {
	switch t := v.(type) {
	case dbtype.Node:
		return entityMap(t.ElementId, t.Props)
	case dbtype.Relationship:
		m := entityMap(t.ElementId, t.Props)
		m["_type"] = t.Type
		return m
	case dbtype.Path:
		out := make([]any, 0, len(t.Nodes)+len(t.Relationships))
		for i, n := range t.Nodes {
			out = append(out, convertValue(n))
			if i < len(t.Relationships) {
				out = append(out, convertValue(t.Relationships[i]))
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = convertValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = convertValue(item)
		}
		return out
	case dbtype.Date:
		return t.String()
	case dbtype.LocalDateTime:
		return t.String()
	case dbtype.LocalTime:
		return t.String()
	case dbtype.Time:
		return t.String()
	case dbtype.Duration:
		return t.String()
	case dbtype.Point2D:
		return t.String()
	case dbtype.Point3D:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return v
}

func entityMap(elementID string, props map[string]any) map[string]any {
	m := make(map[string]any, len(props)+1)
	for k, v := range props {
		if k == "embedding" {
			continue
		}
		m[k] = convertValue(v)
	}
	m[agent.IDField] = elementID
	return m
}
