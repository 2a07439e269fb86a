package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil stays nil", input: nil, expected: nil},
		{name: "empty stays empty", input: []string{}, expected: []string{}},
		{
			name:     "broker list from env with padding",
			input:    []string{"kafka-1:9092", " kafka-2:9092"},
			expected: []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:     "repeats keep first position",
			input:    []string{"b:9092", "a:9092", "b:9092 "},
			expected: []string{"b:9092", "a:9092"},
		},
		{
			name:     "blank entries dropped",
			input:    []string{"", "  ", "a:9092", ""},
			expected: []string{"a:9092"},
		},
		{
			name:     "all blank",
			input:    []string{" ", ""},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
