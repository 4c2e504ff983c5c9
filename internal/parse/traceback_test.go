package parse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestContainsErrorMarker(t *testing.T) {
	positives := []string{
		"\nAssertionError",
		"\nAssertionError: join a child process",
		"\nKeyError",
		"\nKeyError: i broke it",
		"\nValueError",
		"\nValueError: sdf",
		"\nNotImplementedError",
		"\nNotImplementedError: sdf",
	}
	for _, s := range positives {
		assert.True(t, ContainsErrorMarker(s), "%q", s)
	}

	negatives := []string{
		"",
		"asdf details = AssertionError fdsa",
		"\nAssertionError: can only join a child process",
		"\nKeyError: threading.pyc",
		"\nKeyError: args:[",
		"\nValueE",
		"\nupdate: Facebook report failed due to ValueError",
		"no errors here",
	}
	for _, s := range negatives {
		assert.False(t, ContainsErrorMarker(s), "%q", s)
	}
}

// record builds an archive-format line for the given origin fields.
func record(id int64, instance, program, message string) string {
	return fmt.Sprintf("%d\t2016-08-12T03:18:39Z\t2016-08-12T03:18:39Z\t407484803\t%s\t107.21.188.48\tUser\tNotice\t%s\t%s",
		id, instance, program, message)
}

func TestAssembleTracebackWithContext(t *testing.T) {
	var lines []string
	lines = append(lines,
		record(100000000000000001, "i-B", "other.program", "unrelated line one"),
		record(100000000000000002, "i-B", "other.program", "unrelated line two"),
	)
	// 50 lines from the origin's instance and program; the marker sits
	// on the 48th, frames follow.
	var id int64 = 200000000000000000
	for i := 1; i <= 47; i++ {
		id++
		lines = append(lines, record(id, "i-A", "manager.debug", fmt.Sprintf("context line %d", i)))
	}
	id++
	lines = append(lines, record(id, "i-A", "manager.debug", "Traceback (most recent call last):"))
	id++
	lines = append(lines, record(id, "i-A", "manager.debug", `  File "server.py", line 10, in handle`))
	id++
	lines = append(lines, record(id, "i-A", "manager.debug", "    check(account)"))
	lines = append(lines, record(700594297938165774, "i-A", "manager.debug", "AssertionError"))

	tracebacks, err := ParseTracebacks(strings.NewReader(strings.Join(lines, "\n")), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, tracebacks, 1)

	tb := tracebacks[0]
	assert.Equal(t, "700594297938165774", tb.OriginPapertrailID)
	assert.Equal(t, "i-A", tb.InstanceID)
	assert.Equal(t, "manager.debug", tb.ProgramName)

	assert.True(t, strings.HasPrefix(tb.TracebackText, "Traceback (most recent call last):"))
	assert.True(t, strings.HasSuffix(tb.TracebackText, "AssertionError"))
	assert.NotContains(t, tb.TracebackText, "unrelated")
	assert.NotContains(t, tb.RawFullText, "unrelated")

	// plus-context carries at most 3 lines ahead of the marker.
	extra := strings.Split(tb.TracebackPlusContextText, "\n")
	marker := 0
	for i, line := range extra {
		if strings.HasPrefix(line, TracebackMarker) {
			marker = i
			break
		}
	}
	assert.LessOrEqual(t, marker, 3)
	assert.Contains(t, tb.TracebackPlusContextText, "context line 47")

	// raw variants carry the metadata stamp.
	assert.Contains(t, tb.RawTracebackText, "i-A manager.debug:")
	assert.True(t, strings.HasPrefix(tb.RawTracebackText, TracebackMarker) ||
		strings.Contains(tb.RawFullText, tb.RawTracebackText))
}

func TestAssemblerIgnoresQuotedErrorClass(t *testing.T) {
	// A chatter line naming an exception class mid-message is not an
	// origin line, even with a real traceback sitting in the ring.
	lines := []string{
		record(1, "i-A", "manager.debug", "Traceback (most recent call last):"),
		record(2, "i-A", "manager.debug", `  File "report.py", line 5, in run`),
		record(3, "i-A", "manager.debug", "update: Facebook report failed due to ValueError"),
	}
	tracebacks, err := ParseTracebacks(strings.NewReader(strings.Join(lines, "\n")), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, tracebacks)
}

func TestAssemblerNoMarkerEmitsNothing(t *testing.T) {
	lines := []string{
		record(1, "i-A", "manager.debug", "just some context"),
		record(2, "i-A", "manager.debug", "AssertionError"),
	}
	tracebacks, err := ParseTracebacks(strings.NewReader(strings.Join(lines, "\n")), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, tracebacks)
}

func TestAssemblerContextWindowCap(t *testing.T) {
	assembler := NewTracebackAssembler(zaptest.NewLogger(t))
	var id int64 = 300000000000000000
	for i := 0; i < contextWindow+20; i++ {
		id++
		message := "filler"
		if i == 0 {
			message = "Traceback (most recent call last):"
		}
		_, ok := assembler.Feed(record(id, "i-A", "manager.debug", message))
		assert.False(t, ok)
	}
	// The marker fell out of the 50-line context window, so the origin
	// line assembles nothing.
	_, ok := assembler.Feed(record(400000000000000001, "i-A", "manager.debug", "AssertionError"))
	assert.False(t, ok)
}

func TestAssemblerSkipsMalformedOrigin(t *testing.T) {
	assembler := NewTracebackAssembler(zaptest.NewLogger(t))
	_, ok := assembler.Feed("not\ttab\tdelimited\tAssertionError")
	assert.False(t, ok)
	assert.Equal(t, 1, assembler.SkippedLines())
}

func TestRingEviction(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.push(fmt.Sprintf("line %d", i))
	}
	var got []string
	r.walkNewestFirst(func(line string) bool {
		got = append(got, line)
		return true
	})
	assert.Equal(t, []string{"line 4", "line 3", "line 2"}, got)
}
