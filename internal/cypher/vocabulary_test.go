package cypher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountQuery(t *testing.T) {
	v := DefaultVocabulary()
	assert.Equal(t, "MATCH (n:Emissionscope) WHERE n.name IS NOT NULL RETURN count(n) AS count", v.CountQuery("Emissionscope"))
	assert.Equal(t, "MATCH (n:`Emission Scope`) WHERE n.name IS NOT NULL RETURN count(n) AS count", v.CountQuery("Emission Scope"))
}

func TestFallbackQuery(t *testing.T) {
	v := DefaultVocabulary()

	q := v.FallbackQuery(Intent{Topic: "Efficiency", Year: 2023, Emissions: true})
	assert.True(t, strings.HasPrefix(q, "MATCH (d:Chunk)-[:HAS_ENTITY]->(c:Emissionscope)\nWHERE d.text IS NOT NULL"))
	assert.Contains(t, q, "toLower(c.name) = 'efficiency'")
	assert.Contains(t, q, "toLower(toString(c.id)) = 'efficiency'")
	assert.Contains(t, q, "(d.year = 2023 OR '2023' IN split(d.text, ' '))")
	assert.Contains(t, q, "elementId(d) AS _id")
	assert.Contains(t, q, "ORDER BY coalesce(d.year, 0) DESC, elementId(d) DESC")
	assert.True(t, strings.HasSuffix(q, "LIMIT 10"))

	bare := v.FallbackQuery(Intent{Documents: true})
	assert.NotContains(t, bare, "AND")
	assert.True(t, v.TargetsEvidence(bare))
}

func TestFallbackQueryEscapesTopic(t *testing.T) {
	q := DefaultVocabulary().FallbackQuery(Intent{Topic: `O'Brien\`})
	assert.Contains(t, q, `= 'o\'brien\\'`)
}

func TestFallbackQueryRespectsSmallerRowCap(t *testing.T) {
	v := DefaultVocabulary()
	v.RowCap = 5
	assert.True(t, strings.HasSuffix(v.FallbackQuery(Intent{Year: 2020}), "LIMIT 5"))

	v.RowCap = 50
	assert.True(t, strings.HasSuffix(v.FallbackQuery(Intent{Year: 2020}), "LIMIT 10"))
}

func TestTargetsEvidence(t *testing.T) {
	v := DefaultVocabulary()
	assert.True(t, v.TargetsEvidence("MATCH (d:Chunk) RETURN d"))
	assert.True(t, v.TargetsEvidence("MATCH (d: Chunk) RETURN d"))
	assert.True(t, v.TargetsEvidence("MATCH (d:`Chunk`) RETURN d"))
	assert.False(t, v.TargetsEvidence("MATCH (c:ChunkSet) RETURN c"))
	assert.False(t, v.TargetsEvidence("MATCH (n:Company) RETURN n"))
}
