package search

import (
	"context"
	"log"

	"agora/governance/internal/store"
)

// Service feeds the moderation queue. Indexing failures are logged and
// never reach the caller; a missing or unhealthy backend is skipped.
type Service struct {
	backend Backend
}

// NewService creates a search service. backend may be nil if no search
// engine is configured.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

func (s *Service) available() bool {
	return s != nil && s.backend != nil && s.backend.Healthy()
}

func (s *Service) IndexDispute(ctx context.Context, d store.Dispute, communityID int64) {
	if !s.available() {
		return
	}
	if err := s.backend.IndexDisputes(ctx, []DisputeRecord{disputeRecord(d, communityID)}); err != nil {
		log.Printf("search: index dispute %d: %v", d.ID, err)
	}
}

func (s *Service) IndexReview(ctx context.Context, r store.Review, communityID int64) {
	if !s.available() {
		return
	}
	if err := s.backend.IndexReviews(ctx, []ReviewRecord{reviewRecord(r, communityID)}); err != nil {
		log.Printf("search: index review %d: %v", r.ID, err)
	}
}

// Queue searches the moderation queue. It returns an empty result when no
// backend is available.
func (s *Service) Queue(ctx context.Context, q Query) ([]DisputeRecord, int) {
	if !s.available() {
		return []DisputeRecord{}, 0
	}
	records, total, err := s.backend.SearchDisputes(ctx, q)
	if err != nil {
		log.Printf("search: moderation queue: %v", err)
		return []DisputeRecord{}, 0
	}
	if records == nil {
		records = []DisputeRecord{}
	}
	return records, total
}
