// internal/store/interactions.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/models"
)

const interactionMapping = `{
	"mappings": {
		"properties": {
			"leadId": {"type": "keyword"},
			"kind": {"type": "keyword"},
			"channel": {"type": "keyword"},
			"content": {"type": "text"},
			"timestamp": {"type": "date"},
			"success": {"type": "boolean"},
			"providerMessageId": {"type": "keyword"},
			"failureReason": {"type": "text"}
		}
	}
}`

// InteractionStore keeps the append-only engagement history in Elasticsearch.
type InteractionStore struct {
	client *elasticsearch.Client
	index  string
}

func NewInteractionStore(client *elasticsearch.Client, index string) *InteractionStore {
	if index == "" {
		index = "interactions"
	}
	return &InteractionStore{client: client, index: index}
}

// EnsureIndex creates the interactions index with its mapping when missing.
func (s *InteractionStore) EnsureIndex(ctx context.Context) error {
	existsReq := esapi.IndicesExistsRequest{Index: []string{s.index}}
	res, err := existsReq.Do(ctx, s.client)
	if err != nil {
		return errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	createReq := esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(interactionMapping),
	}
	createRes, err := createReq.Do(ctx, s.client)
	if err != nil {
		return errors.NewElasticsearchConnectionFailedError(err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return errors.NewSearchQueryFailedError("create index", fmt.Errorf("%s", createRes.String()))
	}
	return nil
}

// Record writes one event. Documents refresh immediately so rate checks see
// the event on the next read.
func (s *InteractionStore) Record(ctx context.Context, event *models.InteractionEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return errors.NewValidationError("marshal event: " + err.Error())
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: event.ID,
		Body:       strings.NewReader(string(body)),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewSearchQueryFailedError("index event", fmt.Errorf("%s", res.String()))
	}
	return nil
}

type searchEnvelope struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// RecentByLead returns the newest events for a lead, most recent first.
func (s *InteractionStore) RecentByLead(ctx context.Context, leadID string, limit int) ([]*models.InteractionEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"leadId": leadID},
					},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	return s.search(ctx, queryBody, limit)
}

// EventsSince returns a lead's events of the given kinds at or after the
// cutoff. An empty kinds filter matches every kind.
func (s *InteractionStore) EventsSince(ctx context.Context, leadID string, kinds []models.ActionKind, since time.Time) ([]*models.InteractionEvent, error) {
	filters := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"leadId": leadID},
		},
		map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]interface{}{"gte": since.UTC().Format(time.RFC3339)},
			},
		},
	}
	if len(kinds) > 0 {
		values := make([]string, len(kinds))
		for i, k := range kinds {
			values[i] = string(k)
		}
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"kind": values},
		})
	}

	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	return s.search(ctx, queryBody, 1000)
}

// CountSince counts a lead's events of the given kinds at or after the
// cutoff. A zero cutoff counts over the whole history.
func (s *InteractionStore) CountSince(ctx context.Context, leadID string, kinds []models.ActionKind, since time.Time) (int64, error) {
	filters := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"leadId": leadID},
		},
	}
	if !since.IsZero() {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]interface{}{"gte": since.UTC().Format(time.RFC3339)},
			},
		})
	}
	if len(kinds) > 0 {
		values := make([]string, len(kinds))
		for i, k := range kinds {
			values[i] = string(k)
		}
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"kind": values},
		})
	}

	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
	}
	body, _ := json.Marshal(queryBody)

	req := esapi.CountRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, errors.NewSearchQueryFailedError("count events", fmt.Errorf("%s", res.String()))
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, errors.NewSearchQueryFailedError("count events", err)
	}
	return out.Count, nil
}

func (s *InteractionStore) search(ctx context.Context, queryBody map[string]interface{}, size int) ([]*models.InteractionEvent, error) {
	body, _ := json.Marshal(queryBody)

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewSearchQueryFailedError("search events", fmt.Errorf("%s", res.String()))
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, errors.NewSearchQueryFailedError("search events", err)
	}

	events := make([]*models.InteractionEvent, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		var event models.InteractionEvent
		if err := json.Unmarshal(hit.Source, &event); err != nil {
			return nil, errors.NewSearchQueryFailedError("decode event", err)
		}
		events = append(events, &event)
	}
	return events, nil
}
