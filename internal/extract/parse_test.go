package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/school-intel/internal/model"
)

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here is the data:\n{\"a\":1}\nHope this helps.", `{"a":1}`},
		{"no object", "sorry", "sorry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseResponse_StrictKeepsKeyOrder(t *testing.T) {
	t.Parallel()

	obj, lenient, err := parseResponse(`{"tuition": {"grade_level_costs": {"Nursery": "50,000", "Grade 1": "85,000", "Grade 10": "95,000"}}}`)
	require.NoError(t, err)
	assert.False(t, lenient)

	costs := obj.vals["tuition"].(*object).vals["grade_level_costs"].(*object)
	assert.Equal(t, []string{"Nursery", "Grade 1", "Grade 10"}, costs.keys)
}

func TestParseResponse_Json5Fallback(t *testing.T) {
	t.Parallel()

	text := "```json\n{\n  // model comment\n  'contact': {'email': 'info@school.edu.ph', 'phone_numbers': ['8123-4567',],},\n  'events': {},\n}\n```"
	obj, lenient, err := parseResponse(text)
	require.NoError(t, err)
	assert.True(t, lenient)
	assert.Equal(t, []string{"contact", "events"}, obj.keys)
	assert.Equal(t, []string{"email", "phone_numbers"}, obj.vals["contact"].(*object).keys)
}

func TestParseResponse_Unparseable(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "I could not find anything.", `{"a": `, `["tuition"]`} {
		_, _, err := parseResponse(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, model.ErrExtractionParse, in)
	}
}
