package esstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// hashText digests query text into a short stable cache-key component.
// Traceback texts run to kilobytes; the digest keeps redis keys sane.
func hashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// MatchLevel selects how strictly text matching treats the query text.
type MatchLevel int

const (
	// MatchExact phrase-matches the full text.
	MatchExact MatchLevel = iota
	// MatchSimilar strips the final whitespace token before matching.
	// The last token of a traceback is typically a per-hit identifier
	// (an email, a profile name); dropping it groups otherwise
	// identical tracebacks.
	MatchSimilar
)

func (l MatchLevel) String() string {
	switch l {
	case MatchExact:
		return "exact"
	case MatchSimilar:
		return "similar"
	}
	return fmt.Sprintf("MatchLevel(%d)", int(l))
}

// matchText returns the query text for the level. Any level outside the
// two defined ones is a programming error.
func matchText(text string, level MatchLevel) string {
	switch level {
	case MatchExact:
		return text
	case MatchSimilar:
		tokens := strings.Fields(text)
		if len(tokens) <= 1 {
			return text
		}
		return strings.Join(tokens[:len(tokens)-1], " ")
	}
	panic(fmt.Sprintf("unknown match level %d", int(level)))
}

// phraseMatchQuery builds the multi_match phrase query body both
// traceback and ticket matching share.
func phraseMatchQuery(text string, level MatchLevel, fields ...string) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  matchText(text, level),
				"type":   "phrase",
				"fields": fields,
			},
		},
	}
}
