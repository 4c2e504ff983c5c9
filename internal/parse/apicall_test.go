package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func timingRecord(message string) string {
	return record(700594297938165774, "i-2ee330b7", "manager.debug", message)
}

func TestExtractApiCall(t *testing.T) {
	raw := timingRecord("pid 12345/Worker2#acme-user@example.com request done: get_accounts (GET) took 123 milliseconds to complete")
	call, ok := ExtractApiCall(raw)
	require.True(t, ok)

	assert.Equal(t, "700594297938165774", call.PapertrailID)
	assert.Equal(t, "i-2ee330b7", call.InstanceID)
	assert.Equal(t, "manager.debug", call.ProgramName)
	assert.Equal(t, "acme", call.ProfileName)
	assert.Equal(t, "user@example.com", call.Username)
	assert.Equal(t, "get_accounts", call.ApiName)
	assert.Equal(t, "GET", call.Method)
	assert.Equal(t, 123, call.DurationMS)
	assert.Nil(t, call.MemoryFinalMB)
	assert.Nil(t, call.MemoryDeltaMB)
}

func TestExtractApiCallMemoryStats(t *testing.T) {
	raw := timingRecord("pid 12345/Worker2#acme-user@example.com request done: save_campaign (POST) took 456 milliseconds to complete and final memory 1024MB (delta -12MB)")
	call, ok := ExtractApiCall(raw)
	require.True(t, ok)

	assert.Equal(t, "save_campaign", call.ApiName)
	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, 456, call.DurationMS)
	require.NotNil(t, call.MemoryFinalMB)
	require.NotNil(t, call.MemoryDeltaMB)
	assert.Equal(t, 1024, *call.MemoryFinalMB)
	assert.Equal(t, -12, *call.MemoryDeltaMB)
}

func TestExtractApiCallPrefilter(t *testing.T) {
	// Worker threads are not request timings.
	raw := timingRecord("pid 12345/MainThread#acme-user@example.com request done: get_accounts (GET) took 123 milliseconds to complete")
	_, ok := ExtractApiCall(raw)
	assert.False(t, ok)

	// Only whitelisted programs count.
	other := record(1, "i-A", "billing.debug", "pid 12345/Worker2#acme-user@example.com request done: get_accounts (GET) took 123 milliseconds to complete")
	_, ok = ExtractApiCall(other)
	assert.False(t, ok)

	// Timing phrase absent.
	_, ok = ExtractApiCall(timingRecord("nothing interesting here"))
	assert.False(t, ok)
}

func TestParseApiCallsStream(t *testing.T) {
	lines := []string{
		timingRecord("pid 12345/Worker2#acme-user@example.com request done: get_accounts (GET) took 123 milliseconds to complete"),
		record(2, "i-A", "manager.debug", "plain log line"),
		timingRecord("pid 12345/Worker2#beta-someone@example.com request done: list_ads (GET) took 9 milliseconds to complete"),
	}
	calls, err := ParseApiCalls(strings.NewReader(strings.Join(lines, "\n")), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "get_accounts", calls[0].ApiName)
	assert.Equal(t, "list_ads", calls[1].ApiName)
}
