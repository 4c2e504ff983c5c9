package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/topher200/assertion-context/internal/entity"
)

func tracebackWithContext(program string, contextLines ...string) entity.Traceback {
	lines := append([]string{}, contextLines...)
	lines = append(lines,
		"Traceback (most recent call last):",
		`  File "server.py", line 10, in handle`,
		"AssertionError",
	)
	return entity.Traceback{
		ProgramName: program,
		RawFullText: strings.Join(lines, "\n"),
	}
}

func TestEnrichProfileNameUpdater(t *testing.T) {
	tb := tracebackWithContext("account-update.debug",
		"Aug 11 23:18:39 i-A account-update.debug:  ERROR #upd:acmeprofile: update failed")
	got, changed := EnrichProfileName(tb)
	assert.True(t, changed)
	assert.Equal(t, "acmeprofile", got.ProfileName)
	assert.Empty(t, got.Username)
}

func TestEnrichProfileNameUpdaterEmailIsUsername(t *testing.T) {
	tb := tracebackWithContext("account-update.debug",
		"Aug 11 23:18:39 i-A account-update.debug:  ERROR #upd:someone@example.com: update failed")
	got, changed := EnrichProfileName(tb)
	assert.True(t, changed)
	assert.Empty(t, got.ProfileName)
	assert.Equal(t, "someone@example.com", got.Username)
}

func TestEnrichProfileNameActivityWorker(t *testing.T) {
	tb := tracebackWithContext("ads-activity-worker",
		"Aug 11 23:18:39 i-A ads-activity-worker:  :acmeprofile: ERROR while processing")
	got, changed := EnrichProfileName(tb)
	assert.True(t, changed)
	assert.Equal(t, "acmeprofile", got.ProfileName)
}

func TestEnrichProfileNameEnginePIDBackscan(t *testing.T) {
	tb := tracebackWithContext("engine.server.debug",
		"Aug 11 23:18:10 i-A engine.server.debug:  pid 4242/WS#acme-user@example.com : handling request",
		"Aug 11 23:18:20 i-A engine.server.debug:  some other line",
		"Aug 11 23:18:39 i-A engine.server.debug:  ERROR in 4242/MainThread")
	got, changed := EnrichProfileName(tb)
	assert.True(t, changed)
	assert.Equal(t, "acme", got.ProfileName)
	assert.Equal(t, "user@example.com", got.Username)
}

func TestEnrichProfileNameEnginePIDBackscanStopsAtLatestHit(t *testing.T) {
	// The latest prior line carrying the PID is a bare status line; an
	// older identity line for the same PID belongs to an earlier request
	// and must not be used.
	tb := tracebackWithContext("engine.server.debug",
		"Aug 11 23:17:50 i-A engine.server.debug:  pid 4242/WS#stale-old@example.com : handling request",
		"Aug 11 23:18:20 i-A engine.server.debug:  pid 4242/MainThread : starting memory 605MB",
		"Aug 11 23:18:39 i-A engine.server.debug:  ERROR in 4242/MainThread")
	got, changed := EnrichProfileName(tb)
	assert.False(t, changed)
	assert.Empty(t, got.ProfileName)
	assert.Empty(t, got.Username)
}

func TestEnrichProfileNameNoErrorLine(t *testing.T) {
	tb := tracebackWithContext("engine.server.debug", "just context")
	got, changed := EnrichProfileName(tb)
	assert.False(t, changed)
	assert.Empty(t, got.ProfileName)
}

func TestEnrichProfileNameNeverClobbers(t *testing.T) {
	tb := tracebackWithContext("account-update.debug",
		"Aug 11 23:18:39 i-A account-update.debug:  ERROR #upd:other: update failed")
	tb.ProfileName = "existing"
	got, changed := EnrichProfileName(tb)
	assert.False(t, changed)
	assert.Equal(t, "existing", got.ProfileName)
}
