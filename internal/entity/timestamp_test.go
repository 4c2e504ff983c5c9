package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	loc := time.FixedZone("", -4*60*60)
	ts := NewTimestamp(time.Date(2018, 3, 21, 15, 4, 5, 0, loc))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2018-03-21T15:04:05-0400"`, string(data))

	var back Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, ts.Equal(back.Time))
}

func TestTimestampUnmarshalUTC(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2018-03-21T15:04:05Z"`), &ts))
	assert.Equal(t, time.Date(2018, 3, 21, 15, 4, 5, 0, time.UTC), ts.Time)
}

func TestTimestampUnmarshalGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}
