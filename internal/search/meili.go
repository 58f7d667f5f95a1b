package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxDisputes = "governor_disputes"
	idxReviews  = "governor_reviews"
)

// Meili implements Backend via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is logged and retried by the health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
		sortable   []string
	}{
		{
			uid:        idxDisputes,
			filterable: []string{"communityId", "disputedCommunityId", "status", "kind", "postId"},
			searchable: []string{"reasons"},
			sortable:   []string{"createdAt"},
		},
		{
			uid:        idxReviews,
			filterable: []string{"communityId", "disputeId", "reviewerId", "status"},
			searchable: []string{"action"},
			sortable:   []string{"createdAt"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSortableAttributes(&idx.sortable); err != nil {
			log.Printf("search: update sortable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) IndexDisputes(_ context.Context, disputes []DisputeRecord) error {
	if len(disputes) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDisputes).AddDocuments(disputes, nil)
	return err
}

func (m *Meili) IndexReviews(_ context.Context, reviews []ReviewRecord) error {
	if len(reviews) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReviews).AddDocuments(reviews, nil)
	return err
}

// SearchDisputes returns the newest matching disputes first.
func (m *Meili) SearchDisputes(_ context.Context, q Query) ([]DisputeRecord, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{disputeRequest(q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var out []DisputeRecord
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			rec, err := decodeDispute(hit)
			if err != nil {
				log.Printf("search: decode dispute hit: %v", err)
				continue
			}
			out = append(out, rec)
		}
	}
	return out, total, nil
}

func disputeRequest(q Query) *meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID: idxDisputes,
		Query:    q.Text,
		Limit:    limit,
		Offset:   int64(q.Offset),
		Sort:     []string{"createdAt:desc"},
	}
	if filters := disputeFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}
	return sr
}

func disputeFilters(q Query) []string {
	var filters []string
	if q.CommunityID != 0 {
		filters = append(filters, fmt.Sprintf("(communityId = %d OR disputedCommunityId = %d)", q.CommunityID, q.CommunityID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", string(q.Status)))
	}
	return filters
}

func decodeDispute(hit meili.Hit) (DisputeRecord, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return DisputeRecord{}, err
	}
	var rec DisputeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return DisputeRecord{}, err
	}
	return rec, nil
}
