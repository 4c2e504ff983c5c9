// Package triage is the use-case layer: everything the HTTP surface and
// the task handlers do goes through here.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/entity"
	"github.com/topher200/assertion-context/internal/esstore"
	"github.com/topher200/assertion-context/internal/ingest"
	"github.com/topher200/assertion-context/internal/jira"
	"github.com/topher200/assertion-context/internal/parse"
)

// ErrTicketExists is returned by CreateTicket when reject-if-exists is
// set and a ticket already matches the traceback text.
var ErrTicketExists = errors.New("a matching ticket already exists")

// store is the slice of esstore.Store the service reads and writes.
type store interface {
	GetTraceback(ctx context.Context, originID string) (*entity.Traceback, error)
	GetMatchingTracebacks(ctx context.Context, text string, level esstore.MatchLevel, limit int) ([]entity.Traceback, error)
	GetMatchingTickets(ctx context.Context, text string, level esstore.MatchLevel) ([]entity.Ticket, error)
	SaveTicket(ctx context.Context, ticket entity.Ticket) error
	RemoveTicket(ctx context.Context, key string) error
}

// tracker is the slice of jira.Client the service calls.
type tracker interface {
	GetIssueWithRetries(ctx context.Context, key string) (*entity.Ticket, error)
	CreateIssue(ctx context.Context, title, description, team string) (string, error)
	AddComment(ctx context.Context, key, body string) error
	ListProjectKeys(ctx context.Context) ([]string, error)
}

type dayCorrelator interface {
	CorrelateDay(ctx context.Context, day time.Time, filter correlate.Filter, hiddenIDs map[string]struct{}) ([]correlate.Result, error)
}

// submitter dispatches background tasks; implemented by tasks.Submitter.
type submitter interface {
	SubmitParseLogFile(ctx context.Context, bucket, key string) error
	SubmitUpdateTicket(ctx context.Context, key string, invalidateCache bool) error
	SubmitRealtimeUpdate(ctx context.Context, start, end time.Time) error
}

// Config carries the archive location the ingestion fan-out targets.
type Config struct {
	S3Bucket    string
	S3KeyPrefix string
}

type Service struct {
	store      store
	tracker    tracker
	correlator dayCorrelator
	submit     submitter
	cache      *cache.Coordinator
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
}

func NewService(store store, tracker tracker, correlator dayCorrelator, submit submitter,
	cacheCoordinator *cache.Coordinator, cfg Config, log *zap.Logger) *Service {
	return &Service{
		store:      store,
		tracker:    tracker,
		correlator: correlator,
		submit:     submit,
		cache:      cacheCoordinator,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// ListDay builds the triage view for today minus daysAgo, in the
// display zone.
func (s *Service) ListDay(ctx context.Context, daysAgo int, filter correlate.Filter, hiddenIDs map[string]struct{}) ([]correlate.Result, error) {
	day := s.now().In(parse.DisplayZone).AddDate(0, 0, -daysAgo)
	return s.correlator.CorrelateDay(ctx, day, filter, hiddenIDs)
}

// CreateTicket opens a tracker issue for the traceback, describing every
// stored occurrence of its text. With rejectIfExists the call fails with
// ErrTicketExists when a matching ticket is already on file, so the chat
// flow can surface "already exists" instead of filing a duplicate.
func (s *Service) CreateTicket(ctx context.Context, originID, team string, rejectIfExists bool) (string, error) {
	tb, err := s.store.GetTraceback(ctx, originID)
	if err != nil {
		return "", err
	}
	if tb == nil {
		return "", fmt.Errorf("no traceback with origin id %s", originID)
	}

	if rejectIfExists {
		existing, err := s.store.GetMatchingTickets(ctx, tb.TracebackText, esstore.MatchExact)
		if err != nil {
			return "", err
		}
		if len(existing) > 0 {
			return "", fmt.Errorf("%w: %s", ErrTicketExists, existing[0].Key)
		}
	}

	hits, err := s.store.GetMatchingTracebacks(ctx, tb.TracebackText, esstore.MatchExact, 0)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		hits = []entity.Traceback{*tb}
	}

	key, err := s.tracker.CreateIssue(ctx,
		jira.CreateTitle(tb.TracebackText),
		jira.CreateDescription(hits),
		team)
	if err != nil {
		return "", err
	}
	if err := s.submit.SubmitUpdateTicket(ctx, key, true); err != nil {
		s.log.Error("enqueue mirror update for new ticket failed",
			zap.String("key", key), zap.Error(err))
	}
	return key, nil
}

// CommentOnTicket comments on an existing issue with the occurrences
// newer than whatever the issue already links. Papertrail ids are
// ordered, so "newer" is an id comparison against the latest referenced
// one.
func (s *Service) CommentOnTicket(ctx context.Context, key, originID string) error {
	ticket, err := s.tracker.GetIssueWithRetries(ctx, key)
	if err != nil {
		return err
	}
	if ticket == nil {
		return fmt.Errorf("issue %s not found", key)
	}

	tb, err := s.store.GetTraceback(ctx, originID)
	if err != nil {
		return err
	}
	if tb == nil {
		return fmt.Errorf("no traceback with origin id %s", originID)
	}

	hits, err := s.store.GetMatchingTracebacks(ctx, tb.TracebackText, esstore.MatchExact, 0)
	if err != nil {
		return err
	}
	if latest, found := jira.LatestReferencedID(*ticket); found {
		hits = hitsAfter(hits, latest)
	}
	if len(hits) == 0 {
		s.log.Info("issue already references every hit, skipping comment",
			zap.String("key", key))
		return nil
	}

	if err := s.tracker.AddComment(ctx, key, jira.CreateCommentWithHits(hits)); err != nil {
		return err
	}
	if err := s.submit.SubmitUpdateTicket(ctx, key, true); err != nil {
		s.log.Error("enqueue mirror update after comment failed",
			zap.String("key", key), zap.Error(err))
	}
	return nil
}

func hitsAfter(hits []entity.Traceback, latest int64) []entity.Traceback {
	out := make([]entity.Traceback, 0, len(hits))
	for _, hit := range hits {
		id, err := strconv.ParseInt(hit.OriginPapertrailID, 10, 64)
		if err != nil || id > latest {
			out = append(out, hit)
		}
	}
	return out
}

// UpdateTicket refreshes one issue's mirror from the tracker. An issue
// the tracker no longer has is dropped from the mirror.
func (s *Service) UpdateTicket(ctx context.Context, key string, invalidateCache bool) error {
	ticket, err := s.tracker.GetIssueWithRetries(ctx, key)
	if err != nil {
		return err
	}
	if ticket == nil {
		s.log.Info("issue gone from tracker, removing mirror", zap.String("key", key))
		err = s.store.RemoveTicket(ctx, key)
	} else {
		err = s.store.SaveTicket(ctx, *ticket)
	}
	if err != nil {
		return err
	}
	if invalidateCache {
		return s.cache.Invalidate(ctx, cache.RegionJira)
	}
	return nil
}

// UpdateAllTickets fans the whole project out as per-issue tasks, then
// invalidates once rather than per save.
func (s *Service) UpdateAllTickets(ctx context.Context) error {
	keys, err := s.tracker.ListProjectKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.submit.SubmitUpdateTicket(ctx, key, false); err != nil {
			return fmt.Errorf("enqueue update for %s: %w", key, err)
		}
	}
	s.log.Info("enqueued full ticket mirror refresh", zap.Int("issues", len(keys)))
	return s.cache.Invalidate(ctx, cache.RegionJira)
}

// JiraFormattedList renders every stored occurrence of a traceback as
// ready-to-paste ticket markup.
func (s *Service) JiraFormattedList(ctx context.Context, originID string) (string, error) {
	tb, err := s.store.GetTraceback(ctx, originID)
	if err != nil {
		return "", err
	}
	if tb == nil {
		return "", fmt.Errorf("no traceback with origin id %s", originID)
	}
	hits, err := s.store.GetMatchingTracebacks(ctx, tb.TracebackText, esstore.MatchExact, 0)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(hits))
	for i, hit := range hits {
		lines[i] = jira.FormattedHit(hit)
	}
	return strings.Join(lines, "\n"), nil
}

// IngestArchive enqueues a single archive parse.
func (s *Service) IngestArchive(ctx context.Context, bucket, key string) error {
	return s.submit.SubmitParseLogFile(ctx, bucket, key)
}

// IngestDay fans out one parse task per hour of the day's archives.
func (s *Service) IngestDay(ctx context.Context, date time.Time) error {
	for hour := 0; hour < 24; hour++ {
		key := ingest.ArchiveKey(s.cfg.S3KeyPrefix, date, hour)
		if err := s.submit.SubmitParseLogFile(ctx, s.cfg.S3Bucket, key); err != nil {
			return fmt.Errorf("enqueue %s: %w", key, err)
		}
	}
	return nil
}

// IngestDateRange runs IngestDay over an inclusive day range.
func (s *Service) IngestDateRange(ctx context.Context, start, end time.Time) error {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := s.IngestDay(ctx, day); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueRealtime schedules one realtime window pull. A nil endTime
// means the most recently settled minute.
func (s *Service) EnqueueRealtime(ctx context.Context, endTime *time.Time) error {
	start, end := ingest.RealtimeWindow(endTime, s.now())
	return s.submit.SubmitRealtimeUpdate(ctx, start, end)
}
