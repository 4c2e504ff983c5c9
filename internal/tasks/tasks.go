// Package tasks names the background task catalog and binds handlers
// for it. Each task is a JetStream subject; payloads are JSON.
package tasks

import "time"

const (
	TaskParseLogFile     = "parse_log_file"
	TaskUpdateTicket     = "update_ticket"
	TaskUpdateAllTickets = "update_all_tickets"
	TaskRealtimeUpdate   = "realtime_update"
	TaskHydrateCache     = "hydrate_cache"
	TaskPostUnticketed   = "post_unticketed_tracebacks_to_chat"
	TaskCreateTicket     = "create_ticket"
	TaskCommentOnTicket  = "create_comment_on_existing_ticket"
	TaskTellChat         = "tell_chat"
)

// Short-lived tasks are dropped rather than run stale: a missed minute
// of realtime is cheaper than a backlog stampede, and a cache warm-up
// for an already-invalidated wave is wasted work.
const shortTaskTTL = 60 * time.Second

type ParseLogFilePayload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type UpdateTicketPayload struct {
	Key             string `json:"key"`
	InvalidateCache bool   `json:"invalidate_cache"`
}

type RealtimeUpdatePayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type CreateTicketPayload struct {
	OriginID       string `json:"origin_id"`
	AssignTo       string `json:"assign_to"`
	RejectIfExists bool   `json:"reject_if_exists"`
}

type CommentOnTicketPayload struct {
	Key      string `json:"key"`
	OriginID string `json:"origin_id"`
}

// TellChatPayload is posted to chat as a real user rather than a bot,
// so the tracker's chat bridge picks the message up.
type TellChatPayload struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}
