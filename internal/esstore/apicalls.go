package esstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/topher200/assertion-context/internal/entity"
)

// BulkSaveApiCalls writes a batch of api calls, each to the monthly
// partition its timestamp falls in. Upserts by papertrail id, so
// re-ingesting an archive is a no-op.
func (s *Store) BulkSaveApiCalls(ctx context.Context, calls []entity.ApiCall) error {
	if len(calls) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "esstore.BulkSaveApiCalls")
	defer span.End()

	var buf bytes.Buffer
	for _, call := range calls {
		index := fmt.Sprintf(apiCallIndexTemplate, call.Timestamp.Year(), int(call.Timestamp.Month()))
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": call.PapertrailID},
		})
		if err != nil {
			return fmt.Errorf("marshal bulk action: %w", err)
		}
		doc, err := json.Marshal(call)
		if err != nil {
			return fmt.Errorf("marshal api call %s: %w", call.PapertrailID, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	res, err := s.retryTransport(ctx, func() (*esapi.Response, error) {
		return s.es.Bulk(bytes.NewReader(buf.Bytes()), s.es.Bulk.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("bulk save api calls: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk save api calls: %s", res.Status())
	}
	return nil
}
