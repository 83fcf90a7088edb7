package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "lowercases words",
			input:  "Portugal Cement",
			expect: []string{"portugal", "cement"},
		},
		{
			name:   "splits unit compounds",
			input:  "EUR/ton",
			expect: []string{"eur", "ton"},
		},
		{
			name:   "keeps period tokens whole",
			input:  "Q3 FY24 Aug-25",
			expect: []string{"q3", "fy24", "aug", "25"},
		},
		{
			name:   "keeps decimal numbers",
			input:  "value 23.2",
			expect: []string{"value", "23.2"},
		},
		{
			name:   "drops thousands separators",
			input:  "1,250 and 1,250.5",
			expect: []string{"1250", "and", "1250.5"},
		},
		{
			name:   "treats lone comma as decimal comma",
			input:  "23,5",
			expect: []string{"23.5"},
		},
		{
			name:   "drops single letters but keeps single digits",
			input:  "a 5 b",
			expect: []string{"5"},
		},
		{
			name:   "strips punctuation",
			input:  "EBITDA (margin%)",
			expect: []string{"ebitda", "margin"},
		},
		{
			name:   "empty input",
			input:  "",
			expect: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Tokenize(tt.input))
		})
	}
}

func TestFilterStopWords_KeepsFinancialTerms(t *testing.T) {
	// Given: a question tokenized with the default stop list
	stop := BuildStopWordMap(DefaultStopWords)
	tokens := Tokenize("What was the variable cost per ton")

	// When: filtering
	got := FilterStopWords(tokens, stop)

	// Then: question words go, "per" and units stay
	assert.Equal(t, []string{"variable", "cost", "per", "ton"}, got)
}

func TestBuildStopWordMap_Lowercases(t *testing.T) {
	m := BuildStopWordMap([]string{"The", "OF"})

	_, hasThe := m["the"]
	_, hasOf := m["of"]
	assert.True(t, hasThe)
	assert.True(t, hasOf)
}
