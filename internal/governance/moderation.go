package governance

import (
	"context"
	"fmt"

	"agora/governance/internal/store"
)

// ModerateWithReviewer classifies the post against every policy of its
// community and files one automated dispute per violated policy. It does
// nothing when moderation is disabled for the community or no reviewer is
// configured.
func (e *Engine) ModerateWithReviewer(ctx context.Context, postID int64, requestModReviews, requestAuthorReviews bool) ([]store.Dispute, error) {
	if e.reviewer == nil {
		return nil, nil
	}
	return Guard(ctx, e, PostOperand{PostID: postID}, GateDefault, []store.Dispute(nil), func(ctx context.Context) ([]store.Dispute, error) {
		var (
			post     store.Post
			policies []BehaviorPolicy
		)
		err := e.run(ctx, "load moderation policies", func(ctx context.Context, t *txn) error {
			scope, err := t.scopeForPost(ctx, postID)
			if err != nil {
				return err
			}
			post = scope.post
			policies = policiesOf(scope.community)
			return nil
		})
		if err != nil {
			return nil, err
		}

		metadata := make([]store.DisputeMetadata, 0)
		for _, policy := range policies {
			result, err := e.reviewer.Classify(ctx, policy, post.Text)
			if err != nil {
				return nil, fmt.Errorf("classify post %d for community %d: %w", postID, policy.CommunityID, err)
			}
			if len(result.ViolationHits) == 0 {
				continue
			}
			metadata = append(metadata, store.DisputeMetadata{
				Kind:        policy.Kind,
				Reason:      store.Reason{Hits: result.ViolationHits},
				CommunityID: policy.CommunityID,
			})
		}
		if len(metadata) == 0 {
			return nil, nil
		}
		return e.AICreate(ctx, postID, metadata, requestModReviews, requestAuthorReviews)
	})
}

// Lens is what readers of one community see of a disputed post.
type Lens struct {
	Action  store.Visibility
	Reasons []string
}

// DisplayLenses returns one lens per community in the post's visibility
// map, with the reasons of the resolved disputes filed in that community.
func (e *Engine) DisplayLenses(ctx context.Context, postID int64) (map[int64]Lens, error) {
	lenses := make(map[int64]Lens)
	err := e.run(ctx, "display lenses", func(ctx context.Context, t *txn) error {
		post, err := t.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		disputes, err := t.ListDisputes(ctx, store.DisputeFilter{PostID: postID, Status: store.DisputeResolved})
		if err != nil {
			return err
		}
		reasons := make(map[int64][]string)
		for _, d := range disputes {
			cid := d.Metadata.CommunityID
			if d.Metadata.Reason.Comment != "" {
				reasons[cid] = append(reasons[cid], d.Metadata.Reason.Comment)
			}
			reasons[cid] = append(reasons[cid], d.Metadata.Reason.Hits...)
		}
		for cid, v := range post.Visibility {
			lenses[cid] = Lens{Action: v, Reasons: dedupeStrings(reasons[cid])}
		}
		return nil
	})
	return lenses, err
}
