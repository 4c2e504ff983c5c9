// Package correlate joins tracebacks to their prior occurrences and to
// the tickets that mention them.
package correlate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/esstore"
)

// Filter names the day-view subsets the triage page offers.
type Filter string

const (
	FilterAll            Filter = "All Tracebacks"
	FilterHasTicket      Filter = "Has Ticket"
	FilterNoTicket       Filter = "No Ticket"
	FilterNoRecentTicket Filter = "No Recent Ticket"
	FilterHasOpenTicket  Filter = "Has Open Ticket"
)

// recentTicketWindow is how far back a ticket update still counts as
// "recent" for the No Recent Ticket filter.
const recentTicketWindow = 14 * 24 * time.Hour

// dayResultCap bounds the triage page and the chat digest.
const dayResultCap = 100

// Store is the slice of the search index the correlator reads.
type Store interface {
	GetTracebacks(ctx context.Context, startDate, endDate *time.Time, limit int) ([]entity.Traceback, error)
	GetMatchingTracebacks(ctx context.Context, text string, level esstore.MatchLevel, limit int) ([]entity.Traceback, error)
	GetMatchingTickets(ctx context.Context, text string, level esstore.MatchLevel) ([]entity.Ticket, error)
}

// Result is one traceback with everything we know about it.
type Result struct {
	Traceback entity.Traceback

	// JiraIssues match the traceback text exactly.
	JiraIssues []entity.Ticket
	// SimilarJiraIssues match up to the final token, minus the exact
	// matches.
	SimilarJiraIssues []entity.Ticket
	// SimilarTracebacks are prior occurrences of the same text.
	SimilarTracebacks []entity.Traceback
}

type Correlator struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func New(store Store, log *zap.Logger) *Correlator {
	return &Correlator{store: store, log: log, now: time.Now}
}

// Correlate resolves tickets and prior occurrences for one traceback.
func (c *Correlator) Correlate(ctx context.Context, tb entity.Traceback) (Result, error) {
	result := Result{Traceback: tb}

	jiraIssues, err := c.store.GetMatchingTickets(ctx, tb.TracebackText, esstore.MatchExact)
	if err != nil {
		return result, fmt.Errorf("matching tickets: %w", err)
	}
	result.JiraIssues = jiraIssues

	similar, err := c.store.GetMatchingTickets(ctx, tb.TracebackText, esstore.MatchSimilar)
	if err != nil {
		return result, fmt.Errorf("similar tickets: %w", err)
	}
	result.SimilarJiraIssues = subtractByKey(similar, jiraIssues)

	result.SimilarTracebacks, err = c.store.GetMatchingTracebacks(ctx, tb.TracebackText, esstore.MatchExact, dayResultCap)
	if err != nil {
		return result, fmt.Errorf("similar tracebacks: %w", err)
	}
	return result, nil
}

// CorrelateDay builds the triage view for one calendar day.
func (c *Correlator) CorrelateDay(ctx context.Context, day time.Time, filter Filter, hiddenIDs map[string]struct{}) ([]Result, error) {
	tracebacks, err := c.store.GetTracebacks(ctx, &day, &day, 10000)
	if err != nil {
		return nil, fmt.Errorf("tracebacks for %s: %w", day.Format("2006-01-02"), err)
	}

	results := make([]Result, 0, len(tracebacks))
	for _, tb := range tracebacks {
		if _, hidden := hiddenIDs[tb.OriginPapertrailID]; hidden {
			continue
		}
		result := Result{Traceback: tb}

		jiraIssues, err := c.store.GetMatchingTickets(ctx, tb.TracebackText, esstore.MatchExact)
		if err != nil {
			return nil, fmt.Errorf("matching tickets: %w", err)
		}
		result.JiraIssues = jiraIssues

		similar, err := c.store.GetMatchingTickets(ctx, tb.TracebackText, esstore.MatchSimilar)
		if err != nil {
			return nil, fmt.Errorf("similar tickets: %w", err)
		}
		result.SimilarJiraIssues = subtractByKey(similar, jiraIssues)

		keep, err := c.matchesFilter(filter, jiraIssues)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		results = append(results, result)
		if len(results) == dayResultCap {
			break
		}
	}

	// Only the survivors are worth the extra occurrence lookups.
	for i := range results {
		results[i].SimilarTracebacks, err = c.store.GetMatchingTracebacks(
			ctx, results[i].Traceback.TracebackText, esstore.MatchExact, dayResultCap)
		if err != nil {
			return nil, fmt.Errorf("similar tracebacks: %w", err)
		}
	}
	return results, nil
}

func (c *Correlator) matchesFilter(filter Filter, jiraIssues []entity.Ticket) (bool, error) {
	switch filter {
	case FilterAll, "":
		return true, nil
	case FilterHasTicket:
		return len(jiraIssues) > 0, nil
	case FilterNoTicket:
		return len(jiraIssues) == 0, nil
	case FilterNoRecentTicket:
		cutoff := c.now().Add(-recentTicketWindow)
		for _, ticket := range jiraIssues {
			if ticket.Updated.After(cutoff) {
				return false, nil
			}
		}
		return true, nil
	case FilterHasOpenTicket:
		for _, ticket := range jiraIssues {
			if ticket.Open() {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown filter %q", filter)
}

func subtractByKey(tickets, exclude []entity.Ticket) []entity.Ticket {
	excluded := make(map[string]struct{}, len(exclude))
	for _, ticket := range exclude {
		excluded[ticket.Key] = struct{}{}
	}
	out := make([]entity.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		if _, drop := excluded[ticket.Key]; !drop {
			out = append(out, ticket)
		}
	}
	return out
}
