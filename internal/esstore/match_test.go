package esstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTextExact(t *testing.T) {
	text := "KeyError: 'account' for profile acme-user@example.com"
	assert.Equal(t, text, matchText(text, MatchExact))
}

func TestMatchTextSimilarStripsFinalToken(t *testing.T) {
	assert.Equal(t,
		"KeyError: 'account' for profile",
		matchText("KeyError: 'account' for profile acme-user@example.com", MatchSimilar))

	// Newlines are whitespace too; a multi-line traceback loses only
	// its final token.
	assert.Equal(t,
		"Traceback (most recent call last): AssertionError:",
		matchText("Traceback (most recent call last):\nAssertionError: bad_profile", MatchSimilar))

	// A single-token text is left alone.
	assert.Equal(t, "AssertionError", matchText("AssertionError", MatchSimilar))
}

func TestMatchTextUnknownLevelPanics(t *testing.T) {
	assert.Panics(t, func() { matchText("x", MatchLevel(7)) })
}

func TestPhraseMatchQueryShape(t *testing.T) {
	query := phraseMatchQuery("some error text", MatchExact, "description_filtered", "comments_filtered")
	multiMatch := query["query"].(map[string]any)["multi_match"].(map[string]any)

	assert.Equal(t, "some error text", multiMatch["query"])
	assert.Equal(t, "phrase", multiMatch["type"])
	assert.Equal(t, []string{"description_filtered", "comments_filtered"}, multiMatch["fields"])
}

func TestRangeQueryBodyDayRounding(t *testing.T) {
	start := time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)
	end := time.Date(2024, 5, 3, 2, 0, 0, 0, time.UTC)

	query := rangeQueryBody(&start, &end)
	bounds := query["query"].(map[string]any)["range"].(map[string]any)["origin_timestamp"].(map[string]any)
	assert.Equal(t, "2024-05-01||/d", bounds["gte"])
	assert.Equal(t, "2024-05-03||/d", bounds["lte"])

	open := rangeQueryBody(nil, nil)
	_, isMatchAll := open["query"].(map[string]any)["match_all"]
	assert.True(t, isMatchAll)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultQueryLimit, clampLimit(0))
	assert.Equal(t, 5, clampLimit(5))
	assert.Equal(t, maxQueryLimit, clampLimit(maxQueryLimit+1))
}

func TestHashTextStable(t *testing.T) {
	require.Equal(t, hashText("abc"), hashText("abc"))
	assert.NotEqual(t, hashText("abc"), hashText("abd"))
	assert.Len(t, hashText("anything at all"), 16)
}
