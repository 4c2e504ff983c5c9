package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/entity"
)

// dayFormat feeds Elasticsearch date math: "<day>||/d" rounds the
// bound to the enclosing calendar day, which makes both range ends
// inclusive by day.
const dayFormat = "2006-01-02"

// SaveTraceback upserts by origin id and invalidates the traceback
// cache region.
func (s *Store) SaveTraceback(ctx context.Context, tb entity.Traceback) error {
	ctx, span := s.tracer.Start(ctx, "esstore.SaveTraceback")
	defer span.End()

	if tb.OriginPapertrailID == "" {
		panic("traceback without origin id")
	}
	body, err := json.Marshal(tb)
	if err != nil {
		return fmt.Errorf("marshal traceback: %w", err)
	}
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Index(indexTracebacks, bytes.NewReader(body),
			s.es.Index.WithDocumentID(tb.OriginPapertrailID),
			s.es.Index.WithContext(ctx),
		)
	})
	if err != nil {
		return fmt.Errorf("save traceback %s: %w", tb.OriginPapertrailID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("save traceback %s: %s", tb.OriginPapertrailID, res.Status())
	}
	return s.cache.Invalidate(ctx, cache.RegionTraceback)
}

// GetTraceback is a point read by origin id. Missing documents come
// back as (nil, nil).
func (s *Store) GetTraceback(ctx context.Context, originID string) (*entity.Traceback, error) {
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Get(indexTracebacks, originID, s.es.Get.WithContext(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("get traceback %s: %w", originID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get traceback %s: %s", originID, res.Status())
	}
	var doc struct {
		Source entity.Traceback `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode traceback %s: %w", originID, err)
	}
	return &doc.Source, nil
}

// GetTracebacks lists tracebacks between two days (inclusive, display
// zone), newest first. Cached by argument tuple.
func (s *Store) GetTracebacks(ctx context.Context, startDate, endDate *time.Time, limit int) ([]entity.Traceback, error) {
	limit = clampLimit(limit)
	cacheKey := fmt.Sprintf("get_tracebacks:%s:%s:%d", dayKey(startDate), dayKey(endDate), limit)

	var out []entity.Traceback
	err := s.cache.Get(ctx, cache.RegionTraceback, cacheKey, &out, func(ctx context.Context) (any, error) {
		return s.queryTracebacks(ctx, rangeQueryBody(startDate, endDate), limit)
	})
	return out, err
}

// GetMatchingTracebacks phrase-matches traceback_text, newest first.
// Cached.
func (s *Store) GetMatchingTracebacks(ctx context.Context, text string, level MatchLevel, limit int) ([]entity.Traceback, error) {
	limit = clampLimit(limit)
	cacheKey := fmt.Sprintf("get_matching_tracebacks:%s:%s:%d", hashText(text), level, limit)

	var out []entity.Traceback
	err := s.cache.Get(ctx, cache.RegionTraceback, cacheKey, &out, func(ctx context.Context) (any, error) {
		return s.queryTracebacks(ctx, phraseMatchQuery(text, level, "traceback_text"), limit)
	})
	return out, err
}

func (s *Store) queryTracebacks(ctx context.Context, query map[string]any, limit int) ([]entity.Traceback, error) {
	ctx, span := s.tracer.Start(ctx, "esstore.queryTracebacks")
	defer span.End()

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal traceback query: %w", err)
	}
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Search(
			s.es.Search.WithContext(ctx),
			s.es.Search.WithIndex(indexTracebacks),
			s.es.Search.WithBody(bytes.NewReader(body)),
			s.es.Search.WithSize(limit),
			s.es.Search.WithSort("origin_timestamp:desc"),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("search tracebacks: %w", err)
	}
	defer res.Body.Close()
	if s.handleMissingIndex(res, indexTracebacks) {
		return []entity.Traceback{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search tracebacks: %s", res.Status())
	}
	return decodeHits[entity.Traceback](res.Body)
}

// rangeQueryBody builds the day-bounded range query. Nil bounds are
// open ends.
func rangeQueryBody(startDate, endDate *time.Time) map[string]any {
	bounds := map[string]any{}
	if startDate != nil {
		bounds["gte"] = fmt.Sprintf("%s||/d", startDate.Format(dayFormat))
	}
	if endDate != nil {
		bounds["lte"] = fmt.Sprintf("%s||/d", endDate.Format(dayFormat))
	}
	if len(bounds) == 0 {
		return map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	}
	bounds["format"] = "yyyy-MM-dd"
	return map[string]any{
		"query": map[string]any{
			"range": map[string]any{"origin_timestamp": bounds},
		},
	}
}

func dayKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dayFormat)
}
