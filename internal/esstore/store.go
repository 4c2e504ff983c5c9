// Package esstore is the system of record: an Elasticsearch-backed
// store for assembled tracebacks, api call timings, and mirrored
// tickets, with the phrase-match queries the correlator runs on top.
package esstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/sched"
)

const (
	indexTracebacks = "traceback-index"
	indexTickets    = "jira-issue-index"
	// apiCallIndexTemplate expands to one index per calendar month.
	apiCallIndexTemplate = "api-call-%04d-%02d"
	apiCallIndexPattern  = "api-call-*"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 10000
)

// Store wraps the Elasticsearch client. All list reads come back empty
// when the index has not been created yet, with a single warning.
type Store struct {
	es     *elasticsearch.Client
	cache  *cache.Coordinator
	log    *zap.Logger
	tracer trace.Tracer

	warnMissingOnce sync.Map
}

func NewStore(cfg elasticsearch.Config, cacheCoordinator *cache.Coordinator, log *zap.Logger) (*Store, error) {
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Store{
		es:     es,
		cache:  cacheCoordinator,
		log:    log,
		tracer: otel.Tracer("esstore"),
	}, nil
}

// Ping checks index reachability for healthchecks.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

// Refresh forces a refresh so freshly written documents are searchable.
// Ingestion calls this before invalidating caches.
func (s *Store) Refresh(ctx context.Context) error {
	res, err := s.es.Indices.Refresh(s.es.Indices.Refresh.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// retryTransport wraps an index round trip in the standard retry
// ladder. Only transport-level failures retry; HTTP-level errors come
// back through the response and are handled by the caller.
func (s *Store) retryTransport(ctx context.Context, op func() (*esapi.Response, error)) (*esapi.Response, error) {
	var res *esapi.Response
	err := sched.Retry(ctx, sched.RetryPolicy{}, func() error {
		var err error
		res, err = op() //nolint:bodyclose // closed by the caller
		return err
	})
	return res, err
}

// clampLimit applies the default and ceiling for list reads.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// searchHits is the slice of the search response we care about.
type searchHits struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// decodeHits unmarshals each hit's source into a T.
func decodeHits[T any](body io.Reader) ([]T, error) {
	var parsed searchHits
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]T, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		var item T
		if err := json.Unmarshal(hit.Source, &item); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", hit.ID, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// handleMissingIndex maps index-not-found to an empty result, warning
// once per index.
func (s *Store) handleMissingIndex(res *esapi.Response, index string) bool {
	if res.StatusCode != 404 {
		return false
	}
	if _, warned := s.warnMissingOnce.LoadOrStore(index, true); !warned {
		s.log.Warn("index does not exist yet, returning empty results", zap.String("index", index))
	}
	return true
}
