package governance

import (
	"context"

	"agora/governance/internal/store"
)

type ReviewOutcome struct {
	Review  store.Review
	Dispute store.Dispute
	// Resolved is true when this submission resolved the dispute.
	Resolved bool
	// Skipped is true when the gate declined the submission under
	// GateDefault.
	Skipped bool
}

// SubmitReview records the reviewer's action and applies its consequences.
// The dispute row is locked for the whole evaluation so concurrent
// reviewers see each other's votes.
func (e *Engine) SubmitReview(ctx context.Context, reviewID int64, action store.ReviewAction) (ReviewOutcome, error) {
	if !action.Action.Valid() {
		return ReviewOutcome{}, invalid("unknown_review_action", string(action.Action))
	}
	var out ReviewOutcome
	err := e.run(ctx, "submit review", func(ctx context.Context, t *txn) error {
		var err error
		out, err = t.submit(ctx, reviewID, action, GateForbid)
		return err
	})
	return out, err
}

func (t *txn) submit(ctx context.Context, reviewID int64, action store.ReviewAction, policy GatePolicy) (ReviewOutcome, error) {
	r, err := t.GetReview(ctx, reviewID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	allowed, err := t.gate(ctx, ReviewOperand{ReviewID: reviewID}, policy)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if !allowed {
		return ReviewOutcome{Skipped: true}, nil
	}
	d, err := t.LockDispute(ctx, r.DisputeID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	// Re-read under the dispute lock.
	r, err = t.GetReview(ctx, reviewID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if r.Status == store.ReviewResolved {
		return ReviewOutcome{}, &Error{
			Kind:    KindConflict,
			Code:    "review_already_resolved",
			Message: "review has already been submitted",
			Details: map[string]any{"review_id": r.ID, "dispute_id": d.ID},
		}
	}
	scope, err := t.scopeForPost(ctx, d.PostID)
	if err != nil {
		return ReviewOutcome{}, err
	}

	if d.Status == store.DisputeResolved {
		r, err = t.resolveReview(ctx, r, action, scope)
		return ReviewOutcome{Review: r, Dispute: d}, err
	}
	if r.ReviewerID == scope.post.AuthorID {
		return t.authorReview(ctx, r, d, action, scope)
	}
	return t.moderatorReview(ctx, r, d, action, scope)
}

func (t *txn) resolveReview(ctx context.Context, r store.Review, action store.ReviewAction, scope disputeScope) (store.Review, error) {
	ok, err := t.ResolveReview(ctx, r.ID, action, t.now)
	if err != nil {
		return r, err
	}
	if !ok {
		return r, conflict("review_already_resolved", "review has already been submitted")
	}
	now := t.now
	r.Status = store.ReviewResolved
	r.Submission = &action
	r.ResolvedAt = &now
	t.indexReview(r, scope)
	return r, nil
}

func (t *txn) resolveDispute(ctx context.Context, d store.Dispute, outcome store.Action, processing string, scope disputeScope) (store.Dispute, bool, error) {
	ok, err := t.ResolveDispute(ctx, d.ID, outcome, t.now)
	if err != nil || !ok {
		return d, false, err
	}
	if err := t.SetPostProcessingStatus(ctx, d.PostID, processing); err != nil {
		return d, false, err
	}
	now := t.now
	d.Status = store.DisputeResolved
	d.Outcome = outcome
	d.ResolvedAt = &now
	t.indexDispute(d, scope)
	return d, true, nil
}

// authorReview: an author may only take their content down or send the
// dispute on to the moderators.
func (t *txn) authorReview(ctx context.Context, r store.Review, d store.Dispute, action store.ReviewAction, scope disputeScope) (ReviewOutcome, error) {
	r, err := t.resolveReview(ctx, r, action, scope)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if action.Action == store.ActionRelease {
		if _, err := t.requestModReviews(ctx, d, scope); err != nil {
			return ReviewOutcome{}, err
		}
		return ReviewOutcome{Review: r, Dispute: d}, nil
	}

	if err := t.SetPostRemoved(ctx, d.PostID, true); err != nil {
		return ReviewOutcome{}, err
	}
	if err := t.SetPostVisibility(ctx, d.PostID, d.Metadata.CommunityID, store.VisibilityHide); err != nil {
		return ReviewOutcome{}, err
	}
	d, resolved, err := t.resolveDispute(ctx, d, store.ActionRemove, ProcessingDoneWithAuthorReview, scope)
	if err != nil {
		return ReviewOutcome{}, err
	}
	return ReviewOutcome{Review: r, Dispute: d, Resolved: resolved}, nil
}

func (t *txn) moderatorReview(ctx context.Context, r store.Review, d store.Dispute, action store.ReviewAction, scope disputeScope) (ReviewOutcome, error) {
	r, err := t.resolveReview(ctx, r, action, scope)
	if err != nil {
		return ReviewOutcome{}, err
	}

	outcome := action.Action
	switch {
	case !scope.community.bridged():
		if err := t.SetPostRemoved(ctx, d.PostID, outcome == store.ActionRemove); err != nil {
			return ReviewOutcome{}, err
		}
	case d.Metadata.Kind == store.ContentBridged:
		var reached bool
		outcome, reached, err = t.bridgedOutcome(ctx, d, scope.community)
		if err != nil {
			return ReviewOutcome{}, err
		}
		if !reached {
			return ReviewOutcome{Review: r, Dispute: d}, nil
		}
	}
	// A bridged community never flips the aggregate removed flag; only the
	// disputed community's visibility entry changes.

	if err := t.SetPostVisibility(ctx, d.PostID, d.Metadata.CommunityID, visibilityFor(outcome)); err != nil {
		return ReviewOutcome{}, err
	}
	d, resolved, err := t.resolveDispute(ctx, d, outcome, ProcessingDoneWithModeratorReview, scope)
	if err != nil {
		return ReviewOutcome{}, err
	}
	return ReviewOutcome{Review: r, Dispute: d, Resolved: resolved}, nil
}

func (t *txn) bridgedOutcome(ctx context.Context, d store.Dispute, v view) (store.Action, bool, error) {
	reviews, err := t.ListReviews(ctx, d.ID)
	if err != nil {
		return "", false, err
	}
	sideA, err := t.moderatorIDs(ctx, []int64{v.sides[0].ID})
	if err != nil {
		return "", false, err
	}
	sideB, err := t.moderatorIDs(ctx, []int64{v.sides[1].ID})
	if err != nil {
		return "", false, err
	}
	outcome, ok := bridgedConsensus(reviews, sideA, sideB)
	return outcome, ok, nil
}

func visibilityFor(a store.Action) store.Visibility {
	if a == store.ActionRemove {
		return store.VisibilityHide
	}
	return store.VisibilityShow
}

// FasttrackToModerators submits "release" for every open author review on
// the post's pending disputes, which hands them to the moderators.
// Disputes in communities without moderator actions are skipped.
func (e *Engine) FasttrackToModerators(ctx context.Context, postID int64) ([]ReviewOutcome, error) {
	action := store.ReviewAction{
		Action:     store.ActionRelease,
		SubActions: map[string]string{"with note": "fasttrack task"},
	}
	var out []ReviewOutcome
	err := e.run(ctx, "fasttrack disputes", func(ctx context.Context, t *txn) error {
		post, err := t.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		disputes, err := t.ListDisputes(ctx, store.DisputeFilter{PostID: postID, Status: store.DisputePending})
		if err != nil {
			return err
		}
		for _, d := range disputes {
			reviews, err := t.ListReviews(ctx, d.ID)
			if err != nil {
				return err
			}
			for _, r := range reviews {
				if r.ReviewerID != post.AuthorID || r.Status != store.ReviewRequested {
					continue
				}
				result, err := t.submit(ctx, r.ID, action, GateDefault)
				if err != nil {
					return err
				}
				if !result.Skipped {
					out = append(out, result)
				}
			}
		}
		return nil
	})
	return out, err
}
