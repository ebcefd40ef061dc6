package cypher

import (
	"testing"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/stretchr/testify/assert"
)

func TestDirectAnswerCount(t *testing.T) {
	in := Intent{Kind: IntentCount, CountLabel: "Emissionscope"}

	got, kind, ok := DirectAnswer(in, []agent.Record{{"count": int64(5)}}, DefaultVocabulary())
	assert.True(t, ok)
	assert.Equal(t, "count", kind)
	assert.Equal(t, "There are 5 Emissionscopes in the database.", got)

	_, _, ok = DirectAnswer(in, []agent.Record{}, DefaultVocabulary())
	assert.False(t, ok)

	_, _, ok = DirectAnswer(in, []agent.Record{{"total": 5}}, DefaultVocabulary())
	assert.False(t, ok)
}

func TestDirectAnswerEmissions(t *testing.T) {
	v := DefaultVocabulary()
	rows := []agent.Record{
		{"text": "Efficiency emissions (2022): 0.9 MtCO2e", "year": int64(2022), "_id": "4:db:1"},
		{"text": "Efficiency overview", "year": int64(2023), "value": 1.3, "unit": "MtCO2e", "source": "https://example.org/acme-2023.pdf", "_id": "4:db:2"},
	}

	got, kind, ok := DirectAnswer(Intent{Topic: "Efficiency", Year: 2023, Emissions: true}, rows, v)
	assert.True(t, ok)
	assert.Equal(t, "emissions", kind)
	assert.Equal(t, "Scope 3 Efficiency emissions in 2023 were 1.3 MtCO2e. Source: https://example.org/acme-2023.pdf", got)

	got, _, ok = DirectAnswer(Intent{Topic: "Efficiency", Year: 2022, Emissions: true}, rows, v)
	assert.True(t, ok)
	assert.Equal(t, "Scope 3 Efficiency emissions in 2022 were 0.9 MtCO2e.", got)

	got, _, ok = DirectAnswer(Intent{Emissions: true, Quantity: true}, rows, v)
	assert.True(t, ok)
	assert.Equal(t, "Scope 3 emissions in 2023 were 1.3 MtCO2e. Source: https://example.org/acme-2023.pdf", got)
}

func TestDirectAnswerLabelsNewestRowWhenYearMissing(t *testing.T) {
	rows := []agent.Record{
		{"text": "Efficiency emissions (2022): 0.9 MtCO2e", "year": int64(2022)},
		{"text": "Efficiency emissions (2023): 1.3 MtCO2e", "year": int64(2023)},
	}

	got, _, ok := DirectAnswer(Intent{Topic: "Efficiency", Year: 2024, Emissions: true}, rows, DefaultVocabulary())
	assert.True(t, ok)
	assert.Equal(t, "Scope 3 Efficiency emissions in 2023 were 1.3 MtCO2e.", got)
}

func TestDirectAnswerDefersToSynthesis(t *testing.T) {
	v := DefaultVocabulary()
	rows := []agent.Record{{"text": "Efficiency emissions (2022): 0.9 MtCO2e", "year": int64(2022)}}

	tests := []struct {
		name string
		in   Intent
		rows []agent.Record
	}{
		{"not asking for a figure", Intent{Topic: "Efficiency", Emissions: true}, rows},
		{"year range", Intent{Year: 2021, MultiYear: true, Emissions: true}, rows},
		{"not about emissions", Intent{Year: 2022}, rows},
		{"no measurement", Intent{Emissions: true, Quantity: true}, []agent.Record{{"text": "No figures reported", "year": int64(2022)}}},
		{"no year anywhere", Intent{Emissions: true, Quantity: true}, []agent.Record{{"text": "1.0 MtCO2e"}}},
		{"no rows", Intent{Emissions: true, Quantity: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := DirectAnswer(tt.in, tt.rows, v)
			assert.False(t, ok)
		})
	}
}
