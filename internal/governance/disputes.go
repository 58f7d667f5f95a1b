package governance

import (
	"context"
	"fmt"

	"agora/governance/internal/store"
)

// AIPersonaID is the synthetic MOD-BOT persona that files automated disputes.
const AIPersonaID int64 = -1000000

const (
	ProcessingDoneWithAuthorReview    = "done_with_author_review"
	ProcessingDoneWithModeratorReview = "done_with_moderator_review"
)

type CreateDispute struct {
	PostID               int64
	DisputerID           int64
	Metadata             store.DisputeMetadata
	RequestModReviews    bool
	RequestAuthorReviews bool
}

// disputeScope is everything dispute handling needs about a post.
type disputeScope struct {
	post      store.Post
	community view
}

func (t *txn) scopeForPost(ctx context.Context, postID int64) (disputeScope, error) {
	post, err := t.GetPost(ctx, postID)
	if err != nil {
		return disputeScope{}, err
	}
	v, err := t.view(ctx, post.CommunityID)
	if err != nil {
		return disputeScope{}, err
	}
	return disputeScope{post: post, community: v}, nil
}

// normalizeMetadata fills the community id for a plain dispute and rejects
// tags that do not fit the post's community.
func normalizeMetadata(md store.DisputeMetadata, v view) (store.DisputeMetadata, error) {
	switch md.Kind {
	case store.ContentSingle:
		if md.CommunityID == 0 {
			md.CommunityID = v.ID
		}
		if md.CommunityID != v.ID && !v.hasSide(md.CommunityID) {
			return md, invalid("dispute_community_mismatch", fmt.Sprintf("community %d is not part of community %d", md.CommunityID, v.ID))
		}
	case store.ContentBridged:
		if !v.bridged() {
			return md, invalid("bridged_dispute_outside_bridge", "an \"ab\" dispute needs a bridged community")
		}
		if md.CommunityID == 0 {
			md.CommunityID = v.ID
		}
		if md.CommunityID != v.ID {
			return md, invalid("dispute_community_mismatch", "an \"ab\" dispute is raised against the bridge itself")
		}
	default:
		return md, invalid("unknown_content_kind", string(md.Kind))
	}
	return md, nil
}

// Create files a pending dispute, hides the post in the disputed community
// and optionally requests reviews.
func (e *Engine) Create(ctx context.Context, in CreateDispute) (store.Dispute, error) {
	var created store.Dispute
	err := e.run(ctx, "create dispute", func(ctx context.Context, t *txn) error {
		var err error
		created, err = t.createDispute(ctx, in)
		return err
	})
	return created, err
}

func (t *txn) createDispute(ctx context.Context, in CreateDispute) (store.Dispute, error) {
	if _, err := t.gate(ctx, PostOperand{PostID: in.PostID}, GateForbid); err != nil {
		return store.Dispute{}, err
	}
	scope, err := t.scopeForPost(ctx, in.PostID)
	if err != nil {
		return store.Dispute{}, err
	}
	md, err := normalizeMetadata(in.Metadata, scope.community)
	if err != nil {
		return store.Dispute{}, err
	}
	d, err := t.InsertDispute(ctx, store.Dispute{
		PostID:     in.PostID,
		DisputerID: in.DisputerID,
		Status:     store.DisputePending,
		Metadata:   md,
		CreatedAt:  t.now,
	})
	if err != nil {
		return store.Dispute{}, err
	}
	if err := t.SetPostVisibility(ctx, scope.post.ID, md.CommunityID, store.VisibilityHide); err != nil {
		return store.Dispute{}, err
	}
	if in.RequestModReviews {
		if _, err := t.requestModReviews(ctx, d, scope); err != nil {
			return store.Dispute{}, err
		}
	}
	if in.RequestAuthorReviews {
		if _, err := t.requestReview(ctx, d, scope, scope.post.AuthorID); err != nil {
			return store.Dispute{}, err
		}
	}
	t.indexDispute(d, scope)
	return d, nil
}

// TriggerCreation files one dispute per metadata entry.
func (e *Engine) TriggerCreation(ctx context.Context, in CreateDispute, metadata []store.DisputeMetadata) ([]store.Dispute, error) {
	out := make([]store.Dispute, 0, len(metadata))
	err := e.run(ctx, "trigger dispute creation", func(ctx context.Context, t *txn) error {
		for _, md := range metadata {
			req := in
			req.Metadata = md
			d, err := t.createDispute(ctx, req)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AICreate files disputes on behalf of the automated reviewer.
func (e *Engine) AICreate(ctx context.Context, postID int64, metadata []store.DisputeMetadata, requestModReviews, requestAuthorReviews bool) ([]store.Dispute, error) {
	return e.TriggerCreation(ctx, CreateDispute{
		PostID:               postID,
		DisputerID:           AIPersonaID,
		RequestModReviews:    requestModReviews,
		RequestAuthorReviews: requestAuthorReviews,
	}, metadata)
}

// PersonaCreate files a dispute reported by a person with a free-text
// comment.
func (e *Engine) PersonaCreate(ctx context.Context, postID, disputerID int64, comment string, kind store.ContentKind, communityID int64, requestModReviews, requestAuthorReviews bool) (store.Dispute, error) {
	disputes, err := e.TriggerCreation(ctx, CreateDispute{
		PostID:               postID,
		DisputerID:           disputerID,
		RequestModReviews:    requestModReviews,
		RequestAuthorReviews: requestAuthorReviews,
	}, []store.DisputeMetadata{{Kind: kind, Reason: store.Reason{Comment: comment}, CommunityID: communityID}})
	if err != nil {
		return store.Dispute{}, err
	}
	return disputes[0], nil
}

func (e *Engine) RequestModReviews(ctx context.Context, disputeID int64) ([]store.Review, error) {
	var reviews []store.Review
	err := e.run(ctx, "request moderator reviews", func(ctx context.Context, t *txn) error {
		if _, err := t.gate(ctx, DisputeOperand{DisputeID: disputeID}, GateForbid); err != nil {
			return err
		}
		d, scope, err := t.disputeWithScope(ctx, disputeID)
		if err != nil {
			return err
		}
		reviews, err = t.requestModReviews(ctx, d, scope)
		return err
	})
	return reviews, err
}

func (e *Engine) RequestAuthorReviews(ctx context.Context, disputeID int64) ([]store.Review, error) {
	var reviews []store.Review
	err := e.run(ctx, "request author review", func(ctx context.Context, t *txn) error {
		if _, err := t.gate(ctx, DisputeOperand{DisputeID: disputeID}, GateForbid); err != nil {
			return err
		}
		d, scope, err := t.disputeWithScope(ctx, disputeID)
		if err != nil {
			return err
		}
		r, err := t.requestReview(ctx, d, scope, scope.post.AuthorID)
		if err != nil {
			return err
		}
		if r != nil {
			reviews = append(reviews, *r)
		}
		return nil
	})
	return reviews, err
}

func (t *txn) disputeWithScope(ctx context.Context, disputeID int64) (store.Dispute, disputeScope, error) {
	d, err := t.GetDispute(ctx, disputeID)
	if err != nil {
		return store.Dispute{}, disputeScope{}, err
	}
	scope, err := t.scopeForPost(ctx, d.PostID)
	if err != nil {
		return store.Dispute{}, disputeScope{}, err
	}
	return d, scope, nil
}

// reviewCommunities picks whose moderators review a dispute. In a bridge
// the side named by the dispute reviews it; a bridge-wide dispute goes to
// both sides.
func reviewCommunities(d store.Dispute, v view) []int64 {
	if v.bridged() && v.hasSide(d.Metadata.CommunityID) {
		return []int64{d.Metadata.CommunityID}
	}
	return v.ids()
}

func (t *txn) requestModReviews(ctx context.Context, d store.Dispute, scope disputeScope) ([]store.Review, error) {
	modIDs, err := t.moderatorIDs(ctx, reviewCommunities(d, scope.community))
	if err != nil {
		return nil, err
	}
	out := make([]store.Review, 0, len(modIDs))
	for _, id := range modIDs {
		if id == scope.post.AuthorID {
			continue
		}
		r, err := t.requestReview(ctx, d, scope, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// requestReview creates a requested review unless the reviewer already
// has one for this dispute, open or submitted. Escalation never reopens a
// vote that was already cast.
func (t *txn) requestReview(ctx context.Context, d store.Dispute, scope disputeScope, reviewerID int64) (*store.Review, error) {
	existing, err := t.ListReviews(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		if r.ReviewerID == reviewerID {
			return nil, nil
		}
	}
	r, err := t.InsertReview(ctx, store.Review{
		DisputeID:  d.ID,
		ReviewerID: reviewerID,
		Status:     store.ReviewRequested,
		CreatedAt:  t.now,
	})
	if err != nil {
		return nil, err
	}
	t.indexReview(r, scope)
	return &r, nil
}

// AssignPendingDisputes asks a moderator to review every pending dispute in
// the community they are not already reviewing.
func (e *Engine) AssignPendingDisputes(ctx context.Context, moderatorID, communityID int64) ([]store.Review, error) {
	var out []store.Review
	err := e.run(ctx, "assign pending disputes", func(ctx context.Context, t *txn) error {
		if _, err := t.gate(ctx, PersonaOperand{PersonaID: moderatorID, Context: GovernanceContext{CommunityID: communityID}}, GateForbid); err != nil {
			return err
		}
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		mods, err := t.moderatorIDs(ctx, v.ids())
		if err != nil {
			return err
		}
		if !containsID(mods, moderatorID) {
			return &Error{Kind: KindAuthorization, Code: "not_a_moderator", Message: "persona does not moderate this community",
				Details: map[string]any{"persona_id": moderatorID, "community_id": communityID}}
		}
		disputes, err := t.ListDisputes(ctx, store.DisputeFilter{CommunityID: communityID, Status: store.DisputePending})
		if err != nil {
			return err
		}
		for _, d := range disputes {
			scope, err := t.scopeForPost(ctx, d.PostID)
			if err != nil {
				return err
			}
			if scope.post.AuthorID == moderatorID {
				continue
			}
			r, err := t.requestReview(ctx, d, scope, moderatorID)
			if err != nil {
				return err
			}
			if r != nil {
				out = append(out, *r)
			}
		}
		return nil
	})
	return out, err
}

func (e *Engine) Disputes(ctx context.Context, filter store.DisputeFilter) ([]store.Dispute, error) {
	var out []store.Dispute
	err := e.run(ctx, "list disputes", func(ctx context.Context, t *txn) error {
		var err error
		out, err = t.ListDisputes(ctx, filter)
		return err
	})
	return out, err
}

func (e *Engine) Reviews(ctx context.Context, disputeID int64) ([]store.Review, error) {
	var out []store.Review
	err := e.run(ctx, "list reviews", func(ctx context.Context, t *txn) error {
		if _, err := t.GetDispute(ctx, disputeID); err != nil {
			return err
		}
		var err error
		out, err = t.ListReviews(ctx, disputeID)
		return err
	})
	return out, err
}

func (t *txn) indexDispute(d store.Dispute, scope disputeScope) {
	communityID := scope.community.ID
	t.afterCommit(func(ctx context.Context) { t.indexer.IndexDispute(ctx, d, communityID) })
}

func (t *txn) indexReview(r store.Review, scope disputeScope) {
	communityID := scope.community.ID
	t.afterCommit(func(ctx context.Context) { t.indexer.IndexReview(ctx, r, communityID) })
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// ReviewQueue lists the reviews still waiting on the reviewer, oldest first.
func (e *Engine) ReviewQueue(ctx context.Context, reviewerID int64) ([]store.Review, error) {
	var out []store.Review
	err := e.run(ctx, "review queue", func(ctx context.Context, t *txn) error {
		var err error
		out, err = t.ListReviewsByReviewer(ctx, reviewerID, store.ReviewRequested)
		return err
	})
	return out, err
}
