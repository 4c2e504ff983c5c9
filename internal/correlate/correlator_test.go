package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/esstore"
)

// fakeStore matches tickets to tracebacks by exact text equality, and
// similar matches by equality minus the final token, mirroring the real
// matcher closely enough for filter logic.
type fakeStore struct {
	tracebacks []entity.Traceback
	tickets    map[string][]entity.Ticket // traceback_text → tickets
}

func (f *fakeStore) GetTracebacks(_ context.Context, _, _ *time.Time, _ int) ([]entity.Traceback, error) {
	return f.tracebacks, nil
}

func (f *fakeStore) GetMatchingTracebacks(_ context.Context, text string, _ esstore.MatchLevel, _ int) ([]entity.Traceback, error) {
	var out []entity.Traceback
	for _, tb := range f.tracebacks {
		if tb.TracebackText == text {
			out = append(out, tb)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMatchingTickets(_ context.Context, text string, level esstore.MatchLevel) ([]entity.Ticket, error) {
	if level == esstore.MatchExact {
		return f.tickets[text], nil
	}
	// similar: any text sharing the same ticket list entry
	seen := map[string]struct{}{}
	var out []entity.Ticket
	for _, tickets := range f.tickets {
		for _, ticket := range tickets {
			if _, dup := seen[ticket.Key]; !dup {
				seen[ticket.Key] = struct{}{}
				out = append(out, ticket)
			}
		}
	}
	return out, nil
}

func tb(id, text string) entity.Traceback {
	return entity.Traceback{OriginPapertrailID: id, TracebackText: text}
}

func ticket(key string, updated time.Time, status string) entity.Ticket {
	return entity.Ticket{Key: key, Status: status, Updated: entity.NewTimestamp(updated)}
}

func newTestCorrelator(t *testing.T, store Store, now time.Time) *Correlator {
	c := New(store, zaptest.NewLogger(t))
	c.now = func() time.Time { return now }
	return c
}

func TestCorrelateSplitsSimilarFromExact(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		tracebacks: []entity.Traceback{tb("1", "KeyError: profile acme")},
		tickets: map[string][]entity.Ticket{
			"KeyError: profile acme":  {ticket("PROJ-1", now, "Open")},
			"KeyError: profile other": {ticket("PROJ-2", now, "Open")},
		},
	}
	c := newTestCorrelator(t, store, now)

	result, err := c.Correlate(context.Background(), store.tracebacks[0])
	require.NoError(t, err)
	require.Len(t, result.JiraIssues, 1)
	assert.Equal(t, "PROJ-1", result.JiraIssues[0].Key)
	require.Len(t, result.SimilarJiraIssues, 1)
	assert.Equal(t, "PROJ-2", result.SimilarJiraIssues[0].Key)
	require.Len(t, result.SimilarTracebacks, 1)
}

// Three tracebacks on the day, two matching a ticket last updated 30
// days ago: "No Recent Ticket" keeps all three.
func TestCorrelateDayNoRecentTicket(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	staleTicket := ticket("PROJ-9", now.Add(-30*24*time.Hour), "Open")
	store := &fakeStore{
		tracebacks: []entity.Traceback{
			tb("1", "AssertionError: a"),
			tb("2", "AssertionError: a"),
			tb("3", "ValueError: b"),
		},
		tickets: map[string][]entity.Ticket{
			"AssertionError: a": {staleTicket},
		},
	}
	c := newTestCorrelator(t, store, now)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	results, err := c.CorrelateDay(context.Background(), day, FilterNoRecentTicket, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// A fresh update flips the two ticketed entries out of the view.
	store.tickets["AssertionError: a"] = []entity.Ticket{ticket("PROJ-9", now.Add(-24*time.Hour), "Open")}
	results, err = c.CorrelateDay(context.Background(), day, FilterNoRecentTicket, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

// "Has Ticket" and "No Ticket" partition "All Tracebacks".
func TestCorrelateDayFilterDisjointness(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		tracebacks: []entity.Traceback{
			tb("1", "AssertionError: a"),
			tb("2", "ValueError: b"),
			tb("3", "KeyError: c"),
			tb("4", "NotImplementedError: d"),
		},
		tickets: map[string][]entity.Ticket{
			"ValueError: b": {ticket("PROJ-1", now, "Open")},
			"KeyError: c":   {ticket("PROJ-2", now, "Closed")},
		},
	}
	c := newTestCorrelator(t, store, now)
	day := time.Now()

	all, err := c.CorrelateDay(context.Background(), day, FilterAll, nil)
	require.NoError(t, err)
	has, err := c.CorrelateDay(context.Background(), day, FilterHasTicket, nil)
	require.NoError(t, err)
	none, err := c.CorrelateDay(context.Background(), day, FilterNoTicket, nil)
	require.NoError(t, err)

	assert.Len(t, all, 4)
	assert.Len(t, has, 2)
	assert.Len(t, none, 2)

	ids := map[string]int{}
	for _, r := range append(has, none...) {
		ids[r.Traceback.OriginPapertrailID]++
	}
	for _, r := range all {
		assert.Equal(t, 1, ids[r.Traceback.OriginPapertrailID])
	}
}

func TestCorrelateDayHasOpenTicket(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		tracebacks: []entity.Traceback{
			tb("1", "ValueError: open"),
			tb("2", "KeyError: closed"),
		},
		tickets: map[string][]entity.Ticket{
			"ValueError: open": {ticket("PROJ-1", now, "In Progress")},
			"KeyError: closed": {ticket("PROJ-2", now, "Closed")},
		},
	}
	c := newTestCorrelator(t, store, now)

	results, err := c.CorrelateDay(context.Background(), time.Now(), FilterHasOpenTicket, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].Traceback.OriginPapertrailID)
}

func TestCorrelateDayHiddenIDsExcluded(t *testing.T) {
	store := &fakeStore{
		tracebacks: []entity.Traceback{
			tb("1", "AssertionError: a"),
			tb("2", "ValueError: b"),
		},
		tickets: map[string][]entity.Ticket{},
	}
	c := newTestCorrelator(t, store, time.Now())

	hidden := map[string]struct{}{"1": {}}
	results, err := c.CorrelateDay(context.Background(), time.Now(), FilterAll, hidden)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].Traceback.OriginPapertrailID)
}

func TestCorrelateDayUnknownFilter(t *testing.T) {
	store := &fakeStore{tracebacks: []entity.Traceback{tb("1", "AssertionError: a")}}
	c := newTestCorrelator(t, store, time.Now())

	_, err := c.CorrelateDay(context.Background(), time.Now(), Filter("Bogus"), nil)
	assert.Error(t, err)
}

func TestCorrelateDayCap(t *testing.T) {
	store := &fakeStore{tickets: map[string][]entity.Ticket{}}
	for i := 0; i < dayResultCap+50; i++ {
		store.tracebacks = append(store.tracebacks, tb(string(rune('a'+i%26))+string(rune('0'+i%10)), "AssertionError: x"))
	}
	c := newTestCorrelator(t, store, time.Now())

	results, err := c.CorrelateDay(context.Background(), time.Now(), FilterAll, nil)
	require.NoError(t, err)
	assert.Len(t, results, dayResultCap)
}
