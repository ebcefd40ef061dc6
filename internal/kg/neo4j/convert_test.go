package neo4j

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertRecordsNodes(t *testing.T) {
	node := dbtype.Node{
		ElementId: "4:db:7",
		Labels:    []string{"Chunk"},
		Props: map[string]any{
			"text":      "Efficiency emissions (2023): 1.3 MtCO2e",
			"year":      int64(2023),
			"embedding": []any{0.1, 0.2},
		},
	}
	records := []*neo4j.Record{{Keys: []string{"d", "score"}, Values: []any{node, 0.93}}}

	rows := convertRecords(records)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.93, rows[0]["score"])
	assert.Equal(t, map[string]any{
		"_id":  "4:db:7",
		"text": "Efficiency emissions (2023): 1.3 MtCO2e",
		"year": int64(2023),
	}, rows[0]["d"])
}

func TestConvertValueNested(t *testing.T) {
	rel := dbtype.Relationship{ElementId: "5:db:1", Type: "HAS_ENTITY", Props: map[string]any{}}
	got := convertValue([]any{
		map[string]any{"n": dbtype.Node{ElementId: "4:db:1", Props: map[string]any{"name": "Efficiency"}}},
		rel,
	})

	assert.Equal(t, []any{
		map[string]any{"n": map[string]any{"_id": "4:db:1", "name": "Efficiency"}},
		map[string]any{"_id": "5:db:1", "_type": "HAS_ENTITY"},
	}, got)
}

func TestConvertValuePath(t *testing.T) {
	a := dbtype.Node{ElementId: "a", Props: map[string]any{}}
	b := dbtype.Node{ElementId: "b", Props: map[string]any{}}
	r := dbtype.Relationship{ElementId: "r", Type: "NEXT", Props: map[string]any{}}

	got := convertValue(dbtype.Path{Nodes: []dbtype.Node{a, b}, Relationships: []dbtype.Relationship{r}})
	assert.Equal(t, []any{
		map[string]any{"_id": "a"},
		map[string]any{"_id": "r", "_type": "NEXT"},
		map[string]any{"_id": "b"},
	}, got)
}

func TestConvertValueTemporalIsSerializable(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := convertValue(map[string]any{
		"createdAt": ts,
		"day":       dbtype.Date(ts),
	})

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"createdAt":"2024-05-01T12:00:00Z"`)
	assert.Contains(t, string(data), `"day":"2024-05-01"`)
}
