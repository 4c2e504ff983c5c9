package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/parse"
	"github.com/topher200/assertion-context/internal/sched"
	"github.com/topher200/assertion-context/internal/slack"
	"github.com/topher200/assertion-context/internal/triage"
)

// Ingestor runs the two log feeds.
type Ingestor interface {
	IngestArchive(ctx context.Context, bucket, key string) (bool, error)
	RealtimeUpdate(ctx context.Context, start, end time.Time) error
}

// TriageService is the use-case surface the handlers call.
type TriageService interface {
	UpdateTicket(ctx context.Context, key string, invalidateCache bool) error
	UpdateAllTickets(ctx context.Context) error
	CreateTicket(ctx context.Context, originID, team string, rejectIfExists bool) (string, error)
	CommentOnTicket(ctx context.Context, key, originID string) error
}

// ChatDispatcher posts the unticketed digest.
type ChatDispatcher interface {
	PostUnticketedTracebacks(ctx context.Context) error
}

// DayCorrelator warms the cache by running the day view.
type DayCorrelator interface {
	CorrelateDay(ctx context.Context, day time.Time, filter correlate.Filter, hiddenIDs map[string]struct{}) ([]correlate.Result, error)
}

// RealUserPoster posts chat messages under a user token.
type RealUserPoster interface {
	PostAsRealUser(ctx context.Context, channel, text string) error
}

// Deps is everything the task handlers reach into.
type Deps struct {
	Ingestor   Ingestor
	Triage     TriageService
	Dispatcher ChatDispatcher
	Correlator DayCorrelator
	Poster     RealUserPoster
	// JiraServerURL links created ticket keys in chat announcements.
	JiraServerURL string
	Log           *zap.Logger
}

// RegisterAll binds every catalog task to its handler on the worker.
func RegisterAll(w *sched.Worker, deps Deps) {
	for task, handler := range handlerMap(deps) {
		w.Register(task, handler)
	}
}

func handlerMap(deps Deps) map[string]sched.Handler {
	handlers := map[string]sched.Handler{}

	handlers[TaskParseLogFile] = func(ctx context.Context, payload []byte) error {
		var p ParseLogFilePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", TaskParseLogFile, err)
		}
		_, err := deps.Ingestor.IngestArchive(ctx, p.Bucket, p.Key)
		return err
	}

	handlers[TaskRealtimeUpdate] = func(ctx context.Context, payload []byte) error {
		var p RealtimeUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", TaskRealtimeUpdate, err)
		}
		return deps.Ingestor.RealtimeUpdate(ctx, p.Start, p.End)
	}

	handlers[TaskUpdateTicket] = func(ctx context.Context, payload []byte) error {
		var p UpdateTicketPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", TaskUpdateTicket, err)
		}
		return deps.Triage.UpdateTicket(ctx, p.Key, p.InvalidateCache)
	}

	handlers[TaskUpdateAllTickets] = func(ctx context.Context, _ []byte) error {
		return deps.Triage.UpdateAllTickets(ctx)
	}

	handlers[TaskCreateTicket] = func(ctx context.Context, payload []byte) error {
		var p CreateTicketPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", TaskCreateTicket, err)
		}
		key, err := deps.Triage.CreateTicket(ctx, p.OriginID, p.AssignTo, p.RejectIfExists)
		if errors.Is(err, triage.ErrTicketExists) {
			// Surface the duplicate in chat instead of failing quietly;
			// the user asked from chat in the first place.
			return deps.Poster.PostAsRealUser(ctx, "tracebacks",
				fmt.Sprintf("Didn't create a new ticket: %v", err))
		}
		if err != nil {
			return err
		}
		return deps.Poster.PostAsRealUser(ctx, "tracebacks",
			slack.TicketCreatedText(key, deps.JiraServerURL))
	}

	handlers[TaskCommentOnTicket] = func(ctx context.Context, payload []byte) error {
		var p CommentOnTicketPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", TaskCommentOnTicket, err)
		}
		return deps.Triage.CommentOnTicket(ctx, p.Key, p.OriginID)
	}

	handlers[TaskPostUnticketed] = func(ctx context.Context, _ []byte) error {
		return deps.Dispatcher.PostUnticketedTracebacks(ctx)
	}

	handlers[TaskHydrateCache] = func(ctx context.Context, _ []byte) error {
		today := time.Now().In(parse.DisplayZone)
		_, err := deps.Correlator.CorrelateDay(ctx, today, correlate.FilterHasTicket, nil)
		if err != nil {
			return fmt.Errorf("cache warm-up: %w", err)
		}
		deps.Log.Debug("cache warmed for today")
		return nil
	}

	handlers[TaskTellChat] = func(ctx context.Context, payload []byte) error {
		var p TellChatPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", TaskTellChat, err)
		}
		return deps.Poster.PostAsRealUser(ctx, p.Channel, p.Message)
	}

	return handlers
}
