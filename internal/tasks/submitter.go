package tasks

import (
	"context"
	"time"

	"github.com/topher200/assertion-context/internal/sched"
)

// scheduler is the slice of sched.Scheduler we enqueue through.
type scheduler interface {
	Enqueue(ctx context.Context, task string, payload any, opts ...sched.EnqueueOption) error
}

// Submitter is the typed enqueue surface. Everything that dispatches
// background work goes through here so payload shapes stay in one
// place.
type Submitter struct {
	sched scheduler
}

func NewSubmitter(s scheduler) *Submitter {
	return &Submitter{sched: s}
}

func (s *Submitter) SubmitParseLogFile(ctx context.Context, bucket, key string) error {
	return s.sched.Enqueue(ctx, TaskParseLogFile, ParseLogFilePayload{Bucket: bucket, Key: key})
}

func (s *Submitter) SubmitUpdateTicket(ctx context.Context, key string, invalidateCache bool) error {
	return s.sched.Enqueue(ctx, TaskUpdateTicket,
		UpdateTicketPayload{Key: key, InvalidateCache: invalidateCache})
}

func (s *Submitter) SubmitUpdateAllTickets(ctx context.Context) error {
	return s.sched.Enqueue(ctx, TaskUpdateAllTickets, struct{}{})
}

func (s *Submitter) SubmitRealtimeUpdate(ctx context.Context, start, end time.Time) error {
	return s.sched.Enqueue(ctx, TaskRealtimeUpdate,
		RealtimeUpdatePayload{Start: start, End: end},
		sched.WithExpiresIn(shortTaskTTL))
}

// SubmitHydrateCache coalesces: repeated invalidation waves inside the
// dedupe window trigger one warm-up.
func (s *Submitter) SubmitHydrateCache(ctx context.Context) error {
	return s.sched.Enqueue(ctx, TaskHydrateCache, struct{}{},
		sched.WithExpiresIn(shortTaskTTL),
		sched.WithDedupeID(TaskHydrateCache))
}

func (s *Submitter) SubmitPostUnticketed(ctx context.Context) error {
	return s.sched.Enqueue(ctx, TaskPostUnticketed, struct{}{})
}

func (s *Submitter) SubmitCreateTicket(ctx context.Context, originID, assignTo string, rejectIfExists bool) error {
	return s.sched.Enqueue(ctx, TaskCreateTicket,
		CreateTicketPayload{OriginID: originID, AssignTo: assignTo, RejectIfExists: rejectIfExists})
}

func (s *Submitter) SubmitCommentOnTicket(ctx context.Context, key, originID string) error {
	return s.sched.Enqueue(ctx, TaskCommentOnTicket,
		CommentOnTicketPayload{Key: key, OriginID: originID})
}

func (s *Submitter) SubmitTellChat(ctx context.Context, channel, message string) error {
	return s.sched.Enqueue(ctx, TaskTellChat, TellChatPayload{Channel: channel, Message: message})
}
