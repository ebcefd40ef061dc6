package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	assert.Equal(t, "MATCH (n) RETURN n", StripFences("```cypher\nMATCH (n) RETURN n\n```"))
	assert.Equal(t, "MATCH (n) RETURN n", StripFences("```\nMATCH (n) RETURN n```"))
	assert.Equal(t, "MATCH (n) RETURN n", StripFences("  MATCH (n) RETURN n \n"))
}

func TestReplaceInternalIDs(t *testing.T) {
	got := ReplaceInternalIDs("MATCH (n) WHERE id(n) = 5 RETURN (id(n)), elementId(m), n.id(x)")
	assert.Equal(t, "MATCH (n) WHERE elementId(n) = 5 RETURN (elementId(n)), elementId(m), n.id(x)", got)

	assert.Equal(t, "RETURN elementId(n)", ReplaceInternalIDs("RETURN ID(n)"))
	assert.Equal(t, "elementId(n)", ReplaceInternalIDs("id(n)"))
}

func TestReplaceExists(t *testing.T) {
	assert.Equal(t,
		"MATCH (n) WHERE n.name IS NOT NULL AND d.year IS NOT NULL RETURN n",
		ReplaceExists("MATCH (n) WHERE exists(n.name) AND EXISTS( d.year ) RETURN n"))

	pattern := "MATCH (a) WHERE exists((a)-[:HAS_ENTITY]->()) RETURN a"
	assert.Equal(t, pattern, ReplaceExists(pattern))
}

func TestEnforceLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"missing", "MATCH (n) RETURN n", "MATCH (n) RETURN n\nLIMIT 10"},
		{"within cap", "MATCH (n) RETURN n LIMIT 5;", "MATCH (n) RETURN n LIMIT 5"},
		{"above cap", "MATCH (n) RETURN n limit 100", "MATCH (n) RETURN n LIMIT 10"},
		{"parameter", "MATCH (n) RETURN n LIMIT $n", "MATCH (n) RETURN n LIMIT 10"},
		{"only inner limit", "MATCH (n) WITH n LIMIT 3 MATCH (n)--(m) RETURN m", "MATCH (n) WITH n LIMIT 3 MATCH (n)--(m) RETURN m\nLIMIT 10"},
		{"empty", "  ", ""},
		{
			"subquery brace kept",
			"CALL { MATCH (n:Chunk) RETURN n LIMIT 50} RETURN n.text AS text LIMIT 5",
			"CALL { MATCH (n:Chunk) RETURN n LIMIT 10} RETURN n.text AS text LIMIT 5",
		},
		{
			"union wrapped",
			"MATCH (a:Chunk) RETURN a.text AS text LIMIT 10 UNION MATCH (b:Chunk) RETURN b.text AS text",
			"CALL {\nMATCH (a:Chunk) RETURN a.text AS text LIMIT 10 UNION MATCH (b:Chunk) RETURN b.text AS text\n}\nRETURN *\nLIMIT 10",
		},
		{
			"union inside subquery",
			"CALL { MATCH (a:Chunk) RETURN a AS n UNION MATCH (b:Chunk) RETURN b AS n } RETURN n.text AS text",
			"CALL { MATCH (a:Chunk) RETURN a AS n UNION MATCH (b:Chunk) RETURN b AS n } RETURN n.text AS text\nLIMIT 10",
		},
		{"union in string literal", "MATCH (n) WHERE n.text = 'a UNION b' RETURN n", "MATCH (n) WHERE n.text = 'a UNION b' RETURN n\nLIMIT 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnforceLimit(tt.query, 10))
		})
	}
}

func TestSanitizeBoundedAndIdempotent(t *testing.T) {
	inputs := []string{
		"```cypher\nMATCH (n:Company) WHERE exists(n.name) RETURN id(n) AS _id\n```",
		"MATCH (n) RETURN n LIMIT 1000",
		"MATCH (n) RETURN count(n) AS count",
		"MATCH (d:Chunk) WITH d LIMIT 50 RETURN d.text AS text LIMIT 20;",
		"MATCH (a:Chunk) RETURN a.text AS text LIMIT 50 UNION ALL MATCH (b:Chunk) RETURN b.text AS text",
		DefaultVocabulary().FallbackQuery(Intent{Topic: "Efficiency", Year: 2023}),
	}

	for _, q := range inputs {
		once := Sanitize(q, 10)
		assert.Equal(t, once, Sanitize(once, 10), q)

		n, ok := LimitOf(once)
		require.True(t, ok, once)
		assert.LessOrEqual(t, n, 10, once)
		assert.NotContains(t, once, "exists(")
		assert.NotRegexp(t, `(^|[^\w.])id\(`, once)
	}
}

func TestLimitOf(t *testing.T) {
	_, ok := LimitOf("MATCH (n) RETURN n")
	assert.False(t, ok)

	n, ok := LimitOf("MATCH (n) WITH n LIMIT 50 RETURN n LIMIT 3")
	require.True(t, ok)
	assert.Equal(t, 3, n)
}
