package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/entity"
)

// SaveTicket upserts the ticket mirror by key and invalidates the jira
// cache region.
func (s *Store) SaveTicket(ctx context.Context, ticket entity.Ticket) error {
	ctx, span := s.tracer.Start(ctx, "esstore.SaveTicket")
	defer span.End()

	body, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", ticket.Key, err)
	}
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Index(indexTickets, bytes.NewReader(body),
			s.es.Index.WithDocumentID(ticket.Key),
			s.es.Index.WithContext(ctx),
		)
	})
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", ticket.Key, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("save ticket %s: %s", ticket.Key, res.Status())
	}
	return s.cache.Invalidate(ctx, cache.RegionJira)
}

// RemoveTicket deletes the mirror for a ticket gone from the tracker.
// Deleting a ticket that was never mirrored succeeds silently.
func (s *Store) RemoveTicket(ctx context.Context, key string) error {
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Delete(indexTickets, key, s.es.Delete.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("remove ticket %s: %w", key, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("remove ticket %s: %s", key, res.Status())
	}
	return s.cache.Invalidate(ctx, cache.RegionJira)
}

// GetTicket is a point read by issue key; (nil, nil) when unmirrored.
func (s *Store) GetTicket(ctx context.Context, key string) (*entity.Ticket, error) {
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Get(indexTickets, key, s.es.Get.WithContext(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", key, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get ticket %s: %s", key, res.Status())
	}
	var doc struct {
		Source entity.Ticket `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", key, err)
	}
	return &doc.Source, nil
}

// GetMatchingTickets phrase-matches the filtered description and
// comments fields. Cached.
func (s *Store) GetMatchingTickets(ctx context.Context, text string, level MatchLevel) ([]entity.Ticket, error) {
	cacheKey := fmt.Sprintf("get_matching_tickets:%s:%s", hashText(text), level)

	var out []entity.Ticket
	err := s.cache.Get(ctx, cache.RegionJira, cacheKey, &out, func(ctx context.Context) (any, error) {
		query := phraseMatchQuery(text, level, "description_filtered", "comments_filtered")
		return s.queryTickets(ctx, query, defaultQueryLimit)
	})
	return out, err
}

// SearchTickets is relevance-ranked full text over the whole mirror,
// with the key and summary boosted. Feeds the chat type-ahead.
func (s *Store) SearchTickets(ctx context.Context, phrase string, limit int) ([]entity.Ticket, error) {
	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query": phrase,
				"fields": []string{
					"key^3", "summary^2",
					"description", "description_filtered",
					"comments", "comments_filtered",
				},
			},
		},
	}
	return s.queryTickets(ctx, query, clampLimit(limit))
}

func (s *Store) queryTickets(ctx context.Context, query map[string]any, limit int) ([]entity.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "esstore.queryTickets")
	defer span.End()

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket query: %w", err)
	}
	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Search(
			s.es.Search.WithContext(ctx),
			s.es.Search.WithIndex(indexTickets),
			s.es.Search.WithBody(bytes.NewReader(body)),
			s.es.Search.WithSize(limit),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("search tickets: %w", err)
	}
	defer res.Body.Close()
	if s.handleMissingIndex(res, indexTickets) {
		return []entity.Ticket{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search tickets: %s", res.Status())
	}
	return decodeHits[entity.Ticket](res.Body)
}
