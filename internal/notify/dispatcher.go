package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/parse"
	"github.com/topher200/assertion-context/internal/slack"
)

// correlator is the slice of correlate.Correlator the dispatcher needs.
type correlator interface {
	CorrelateDay(ctx context.Context, day time.Time, filter correlate.Filter, hiddenIDs map[string]struct{}) ([]correlate.Result, error)
}

// poster is the slice of slack.Poster the dispatcher needs.
type poster interface {
	PostTraceback(ctx context.Context, msg slack.Message, tracebackText string) error
}

// seenFlags guards the at-most-once posting per origin id.
type seenFlags interface {
	MarkIfNew(ctx context.Context, originID string) (bool, error)
}

// Dispatcher owns the scheduled chat digest: every traceback from today
// that has no recently-updated ticket gets posted once.
type Dispatcher struct {
	correlator correlator
	poster     poster
	seen       seenFlags
	log        *zap.Logger
	now        func() time.Time
}

func NewDispatcher(c correlator, p poster, seen seenFlags, log *zap.Logger) *Dispatcher {
	return &Dispatcher{correlator: c, poster: p, seen: seen, log: log, now: time.Now}
}

// PostUnticketedTracebacks posts today's unticketed tracebacks to chat,
// oldest first, skipping anything already posted within the seen TTL.
func (d *Dispatcher) PostUnticketedTracebacks(ctx context.Context) error {
	today := d.now().In(parse.DisplayZone)

	entries, err := d.correlator.CorrelateDay(ctx, today, correlate.FilterNoRecentTicket, nil)
	if err != nil {
		return fmt.Errorf("correlate today: %w", err)
	}

	// Day views come newest-first; post oldest first so the channel
	// reads chronologically.
	posted := 0
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		originID := entry.Traceback.OriginPapertrailID

		fresh, err := d.seen.MarkIfNew(ctx, originID)
		if err != nil {
			return fmt.Errorf("seen flag for %s: %w", originID, err)
		}
		if !fresh {
			continue
		}
		msg := slack.BuildTracebackMessage(entry)
		if err := d.poster.PostTraceback(ctx, msg, entry.Traceback.TracebackText); err != nil {
			d.log.Error("posting traceback to chat failed",
				zap.String("origin_id", originID), zap.Error(err))
			continue
		}
		posted++
	}
	d.log.Info("posted unticketed tracebacks", zap.Int("posted", posted), zap.Int("candidates", len(entries)))
	return nil
}
