package entity

import (
	"fmt"
	"strings"
	"time"
)

// esTimeLayout is the timestamp format stored in the search index,
// e.g. "2018-03-21T15:04:05-0400".
const esTimeLayout = "2006-01-02T15:04:05Z0700"

// Timestamp is a time.Time that marshals to the search index's
// timestamp format.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", t.Format(esTimeLayout))), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{esTimeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
