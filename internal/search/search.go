// Package search mirrors disputes and reviews into a moderation queue
// index so moderators can find open work by community.
package search

import (
	"context"

	"agora/governance/internal/store"
)

// DisputeRecord is the data we index for a dispute. CommunityID is the
// community the post lives in; DisputedCommunityID is the side or bridge
// the dispute was raised against.
type DisputeRecord struct {
	ID                  int64    `json:"id"`
	PostID              int64    `json:"postId"`
	CommunityID         int64    `json:"communityId"`
	DisputedCommunityID int64    `json:"disputedCommunityId"`
	Kind                string   `json:"kind"`
	Status              string   `json:"status"`
	Outcome             string   `json:"outcome,omitempty"`
	DisputerID          int64    `json:"disputerId"`
	Reasons             []string `json:"reasons"`
	CreatedAt           int64    `json:"createdAt"`
}

// ReviewRecord is the data we index for a review.
type ReviewRecord struct {
	ID          int64  `json:"id"`
	DisputeID   int64  `json:"disputeId"`
	CommunityID int64  `json:"communityId"`
	ReviewerID  int64  `json:"reviewerId"`
	Status      string `json:"status"`
	Action      string `json:"action,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

func disputeRecord(d store.Dispute, communityID int64) DisputeRecord {
	reasons := make([]string, 0, len(d.Metadata.Reason.Hits)+1)
	if d.Metadata.Reason.Comment != "" {
		reasons = append(reasons, d.Metadata.Reason.Comment)
	}
	reasons = append(reasons, d.Metadata.Reason.Hits...)
	return DisputeRecord{
		ID:                  d.ID,
		PostID:              d.PostID,
		CommunityID:         communityID,
		DisputedCommunityID: d.Metadata.CommunityID,
		Kind:                string(d.Metadata.Kind),
		Status:              string(d.Status),
		Outcome:             string(d.Outcome),
		DisputerID:          d.DisputerID,
		Reasons:             reasons,
		CreatedAt:           d.CreatedAt.Unix(),
	}
}

func reviewRecord(r store.Review, communityID int64) ReviewRecord {
	rec := ReviewRecord{
		ID:          r.ID,
		DisputeID:   r.DisputeID,
		CommunityID: communityID,
		ReviewerID:  r.ReviewerID,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Unix(),
	}
	if r.Submission != nil {
		rec.Action = string(r.Submission.Action)
	}
	return rec
}

// Query selects disputes from the moderation queue.
type Query struct {
	Text        string
	CommunityID int64
	Status      store.DisputeStatus // empty = any status
	Limit       int
	Offset      int
}

// Backend is a search engine that holds the moderation queue.
type Backend interface {
	IndexDisputes(ctx context.Context, disputes []DisputeRecord) error
	IndexReviews(ctx context.Context, reviews []ReviewRecord) error
	SearchDisputes(ctx context.Context, q Query) ([]DisputeRecord, int, error)
	Healthy() bool
}
