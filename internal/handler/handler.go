// Package handler is the HTTP boundary: request parsing, session
// plumbing, and status codes. Everything substantive happens in the
// triage service.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/esstore"
	"github.com/topher200/assertion-context/internal/slack"
)

const (
	dateLayout = "2006-01-02"

	healthTimeout = time.Second

	typeAheadLimit = 30
)

// triageService is the use-case surface the routes call.
type triageService interface {
	ListDay(ctx context.Context, daysAgo int, filter correlate.Filter, hiddenIDs map[string]struct{}) ([]correlate.Result, error)
	CreateTicket(ctx context.Context, originID, team string, rejectIfExists bool) (string, error)
	CommentOnTicket(ctx context.Context, key, originID string) error
	JiraFormattedList(ctx context.Context, originID string) (string, error)
	IngestArchive(ctx context.Context, bucket, key string) error
	IngestDay(ctx context.Context, date time.Time) error
	IngestDateRange(ctx context.Context, start, end time.Time) error
	EnqueueRealtime(ctx context.Context, endTime *time.Time) error
}

// hitResolver turns hidden traceback texts back into origin ids.
type hitResolver interface {
	GetMatchingTracebacks(ctx context.Context, text string, level esstore.MatchLevel, limit int) ([]entity.Traceback, error)
}

// ticketSearcher feeds the chat type-ahead.
type ticketSearcher interface {
	SearchTickets(ctx context.Context, phrase string, limit int) ([]entity.Ticket, error)
}

// taskSubmitter dispatches the async routes.
type taskSubmitter interface {
	SubmitUpdateTicket(ctx context.Context, key string, invalidateCache bool) error
	SubmitUpdateAllTickets(ctx context.Context) error
	SubmitCreateTicket(ctx context.Context, originID, assignTo string, rejectIfExists bool) error
	SubmitCommentOnTicket(ctx context.Context, key, originID string) error
}

type sessionStore interface {
	HiddenTexts(ctx context.Context, sessionID string) ([]string, error)
	Hide(ctx context.Context, sessionID, tracebackText string) error
	Clear(ctx context.Context, sessionID string) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, region string) error
	InvalidateAll(ctx context.Context) error
}

type queuePurger interface {
	PurgeTasks() error
}

// Pinger is a reachability check with a deadline.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger adapts a redis client to Pinger.
type RedisPinger struct {
	Rdb *redis.Client
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Rdb.Ping(ctx).Err()
}

// Health bundles the dependency checks behind /healthz.
type Health struct {
	Index   Pinger
	KV      Pinger
	QueueUp func() bool
}

// Links are the external URLs the triage page hands to its frontend.
type Links struct {
	KibanaRedirectURL string `json:"kibana_redirect_url,omitempty"`
	ProductURL        string `json:"product_url,omitempty"`
}

type Handler struct {
	svc      triageService
	sessions sessionStore
	resolver hitResolver
	search   ticketSearcher
	submit   taskSubmitter
	cache    cacheInvalidator
	purger   queuePurger
	health   Health
	links    Links
	log      *zap.Logger
}

func New(svc triageService, sessions sessionStore, resolver hitResolver, search ticketSearcher,
	submit taskSubmitter, cacheCoordinator cacheInvalidator, purger queuePurger,
	health Health, links Links, log *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sessions,
		resolver: resolver,
		search:   search,
		submit:   submit,
		cache:    cacheCoordinator,
		purger:   purger,
		health:   health,
		links:    links,
		log:      log,
	}
}

// Register binds every route on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.listDay)
	e.POST("/api/parse_s3", h.parseS3)
	e.POST("/api/parse_s3_day", h.parseS3Day)
	e.POST("/api/parse_s3_date_range", h.parseS3DateRange)
	e.POST("/realtime_update", h.realtimeUpdate)
	e.POST("/hide_traceback", h.hideTraceback)
	e.POST("/restore_all", h.restoreAll)
	e.POST("/create_jira_ticket", h.createJiraTicket)
	e.POST("/jira_comment", h.jiraComment)
	e.GET("/jira_formatted_list/:id", h.jiraFormattedList)
	e.POST("/slack-callback", h.slackCallback)
	e.PUT("/api/update_jira_db", h.updateJiraDB)
	e.PUT("/api/invalidate_cache", h.invalidateCache)
	e.PUT("/api/invalidate_cache/:name", h.invalidateCache)
	e.PUT("/api/purge_queue", h.purgeQueue)
	e.GET("/healthz", h.healthz)
}

func validFilter(f correlate.Filter) bool {
	switch f {
	case "", correlate.FilterAll, correlate.FilterHasTicket, correlate.FilterNoTicket,
		correlate.FilterNoRecentTicket, correlate.FilterHasOpenTicket:
		return true
	}
	return false
}

func (h *Handler) listDay(c echo.Context) error {
	ctx := c.Request().Context()

	daysAgo := 0
	if raw := c.QueryParam("days_ago"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.String(http.StatusBadRequest, "days_ago must be a non-negative integer")
		}
		daysAgo = parsed
	}
	filter := correlate.Filter(c.QueryParam("filter"))
	if !validFilter(filter) {
		return c.String(http.StatusBadRequest, fmt.Sprintf("unknown filter %q", filter))
	}

	hiddenIDs, err := h.hiddenIDs(ctx, sessionID(c))
	if err != nil {
		return err
	}
	results, err := h.svc.ListDay(ctx, daysAgo, filter, hiddenIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dayPage{Tracebacks: results, Links: h.links})
}

// dayPage is the triage page payload: the day's correlated tracebacks
// plus the external links the frontend renders.
type dayPage struct {
	Tracebacks []correlate.Result `json:"tracebacks"`
	Links      Links              `json:"links"`
}

// hiddenIDs resolves the session's dismissed texts to origin ids with a
// similar-match query, so every variant of a dismissed traceback stays
// hidden.
func (h *Handler) hiddenIDs(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	texts, err := h.sessions.HiddenTexts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session hidden set: %w", err)
	}
	hidden := map[string]struct{}{}
	for _, text := range texts {
		matches, err := h.resolver.GetMatchingTracebacks(ctx, text, esstore.MatchSimilar, 10000)
		if err != nil {
			return nil, fmt.Errorf("resolve hidden traceback: %w", err)
		}
		for _, match := range matches {
			hidden[match.OriginPapertrailID] = struct{}{}
		}
	}
	return hidden, nil
}

func (h *Handler) parseS3(c echo.Context) error {
	var req struct {
		Bucket string `json:"bucket"`
		Key    string `json:"key"`
	}
	if err := c.Bind(&req); err != nil || req.Bucket == "" || req.Key == "" {
		return c.String(http.StatusBadRequest, "bucket and key are required")
	}
	if err := h.svc.IngestArchive(c.Request().Context(), req.Bucket, req.Key); err != nil {
		return err
	}
	return c.String(http.StatusAccepted, "queued")
}

func (h *Handler) parseS3Day(c echo.Context) error {
	var req struct {
		Date string `json:"date"`
	}
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "date is required")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return c.String(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if err := h.svc.IngestDay(c.Request().Context(), date); err != nil {
		return err
	}
	return c.String(http.StatusAccepted, "queued")
}

func (h *Handler) parseS3DateRange(c echo.Context) error {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "start_date and end_date are required")
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return c.String(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return c.String(http.StatusBadRequest, "end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return c.String(http.StatusBadRequest, "end_date is before start_date")
	}
	if err := h.svc.IngestDateRange(c.Request().Context(), start, end); err != nil {
		return err
	}
	return c.String(http.StatusAccepted, "queued")
}

func (h *Handler) realtimeUpdate(c echo.Context) error {
	var req struct {
		EndTime string `json:"end_time"`
	}
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "malformed body")
	}
	var endTime *time.Time
	if req.EndTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return c.String(http.StatusBadRequest, "end_time must be RFC 3339")
		}
		endTime = &parsed
	}
	if err := h.svc.EnqueueRealtime(c.Request().Context(), endTime); err != nil {
		return err
	}
	return c.String(http.StatusAccepted, "queued")
}

func (h *Handler) hideTraceback(c echo.Context) error {
	var req struct {
		TracebackText string `json:"traceback_text"`
	}
	if err := c.Bind(&req); err != nil || req.TracebackText == "" {
		return c.String(http.StatusBadRequest, "traceback_text is required")
	}
	if err := h.sessions.Hide(c.Request().Context(), sessionID(c), req.TracebackText); err != nil {
		return err
	}
	return c.String(http.StatusOK, "hidden")
}

func (h *Handler) restoreAll(c echo.Context) error {
	if err := h.sessions.Clear(c.Request().Context(), sessionID(c)); err != nil {
		return err
	}
	return c.String(http.StatusOK, "restored")
}

func (h *Handler) createJiraTicket(c echo.Context) error {
	var req struct {
		OriginPapertrailID string `json:"origin_papertrail_id"`
	}
	if err := c.Bind(&req); err != nil || req.OriginPapertrailID == "" {
		return c.String(http.StatusBadRequest, "origin_papertrail_id is required")
	}
	key, err := h.svc.CreateTicket(c.Request().Context(), req.OriginPapertrailID, "", false)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, key)
}

func (h *Handler) jiraComment(c echo.Context) error {
	var req struct {
		OriginPapertrailID string `json:"origin_papertrail_id"`
		IssueKey           string `json:"issue_key"`
	}
	if err := c.Bind(&req); err != nil || req.OriginPapertrailID == "" || req.IssueKey == "" {
		return c.String(http.StatusBadRequest, "origin_papertrail_id and issue_key are required")
	}
	if err := h.svc.CommentOnTicket(c.Request().Context(), req.IssueKey, req.OriginPapertrailID); err != nil {
		return err
	}
	return c.String(http.StatusOK, req.IssueKey)
}

func (h *Handler) jiraFormattedList(c echo.Context) error {
	out, err := h.svc.JiraFormattedList(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, out)
}

func (h *Handler) slackCallback(c echo.Context) error {
	ctx := c.Request().Context()
	payload, err := slack.ParseCallbackPayload(c.FormValue("payload"))
	if err != nil {
		return c.String(http.StatusBadRequest, "malformed callback payload")
	}

	if payload.IsOptionLoad() {
		tickets, err := h.search.SearchTickets(ctx, payload.Value, typeAheadLimit)
		if err != nil {
			return err
		}
		options := make([]slack.Option, len(tickets))
		for i, ticket := range tickets {
			options[i] = slack.Option{
				Text:  fmt.Sprintf("%s: %s", ticket.Key, ticket.Summary),
				Value: ticket.Key,
			}
		}
		return c.JSON(http.StatusOK, slack.OptionsResponse{Options: options})
	}

	action, value, err := payload.SelectedValue()
	if err != nil {
		return c.String(http.StatusBadRequest, "callback carries no selected option")
	}
	switch action {
	case slack.ActionCreateTicket:
		if err := h.submit.SubmitCreateTicket(ctx, payload.CallbackID, value, true); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, slack.AcknowledgeMessage("Creating a ticket for this traceback..."))
	case slack.ActionAddToExistingTicket:
		if err := h.submit.SubmitCommentOnTicket(ctx, value, payload.CallbackID); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, slack.AcknowledgeMessage(
			fmt.Sprintf("Adding the latest hits to %s...", value)))
	}
	return c.String(http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
}

func (h *Handler) updateJiraDB(c echo.Context) error {
	var req struct {
		IssueKey string `json:"issue_key"`
		All      bool   `json:"all"`
	}
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "malformed body")
	}
	if req.All == (req.IssueKey != "") {
		return c.String(http.StatusBadRequest, "provide either issue_key or all, not both")
	}
	ctx := c.Request().Context()
	if req.All {
		if err := h.submit.SubmitUpdateAllTickets(ctx); err != nil {
			return err
		}
	} else {
		if err := h.submit.SubmitUpdateTicket(ctx, req.IssueKey, true); err != nil {
			return err
		}
	}
	return c.String(http.StatusAccepted, "queued")
}

func (h *Handler) invalidateCache(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")
	switch name {
	case "":
		if err := h.cache.InvalidateAll(ctx); err != nil {
			return err
		}
	case cache.RegionTraceback, cache.RegionJira:
		if err := h.cache.Invalidate(ctx, name); err != nil {
			return err
		}
	default:
		return c.String(http.StatusBadRequest, fmt.Sprintf("unknown cache region %q", name))
	}
	return c.String(http.StatusOK, "invalidated")
}

func (h *Handler) purgeQueue(c echo.Context) error {
	if err := h.purger.PurgeTasks(); err != nil {
		return err
	}
	return c.String(http.StatusOK, "purged")
}

func (h *Handler) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	var failing []string
	if err := h.health.Index.Ping(ctx); err != nil {
		failing = append(failing, "index")
	}
	if err := h.health.KV.Ping(ctx); err != nil {
		failing = append(failing, "kv")
	}
	if !h.health.QueueUp() {
		failing = append(failing, "queue")
	}
	if len(failing) > 0 {
		return c.String(http.StatusServiceUnavailable, "unhealthy: "+strings.Join(failing, ", "))
	}
	return c.String(http.StatusOK, "ok")
}
