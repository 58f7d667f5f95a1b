package governance

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"agora/governance/internal/store"
	"agora/governance/internal/store/storetest"
)

const (
	author   int64 = 5
	reporter int64 = 6
)

type bridgeFixture struct {
	a, b, bridge store.Community
	post         store.Post
	modsA, modsB []int64
}

func seedBridge(h *harness) bridgeFixture {
	var f bridgeFixture
	f.modsA = []int64{11, 12}
	f.modsB = []int64{21, 22}
	h.store.Seed(func(sd *storetest.Seeder) {
		f.a = sd.Community("a", FlagModeratorActions)
		f.b = sd.Community("b", FlagModeratorActions)
		f.bridge = sd.Bridge("ab", f.a.ID, f.b.ID)
		sd.Member(author, f.a.ID)
		for _, id := range f.modsA {
			sd.Member(id, f.a.ID, "moderator")
		}
		for _, id := range f.modsB {
			sd.Member(id, f.b.ID, "moderator")
		}
		f.post = sd.Post(f.bridge.ID, author, "hello from both sides")
	})
	return f
}

type plainFixture struct {
	community store.Community
	post      store.Post
	mods      []int64
}

func seedPlain(h *harness, flags ...string) plainFixture {
	var f plainFixture
	f.mods = []int64{31, 32}
	h.store.Seed(func(sd *storetest.Seeder) {
		f.community = sd.Community("garden", flags...)
		sd.Member(author, f.community.ID)
		for _, id := range f.mods {
			sd.Member(id, f.community.ID, "moderator")
		}
		f.post = sd.Post(f.community.ID, author, "hello")
	})
	return f
}

func reviewFor(t *testing.T, h *harness, disputeID, reviewerID int64) store.Review {
	t.Helper()
	var found *store.Review
	for _, r := range h.store.Reviews(disputeID) {
		if r.ReviewerID == reviewerID {
			r := r
			found = &r
		}
	}
	if found == nil {
		t.Fatalf("no review for reviewer %d on dispute %d", reviewerID, disputeID)
	}
	return *found
}

func reviewerIDs(reviews []store.Review) []int64 {
	ids := make([]int64, 0, len(reviews))
	for _, r := range reviews {
		ids = append(ids, r.ReviewerID)
	}
	return ids
}

func submit(t *testing.T, h *harness, disputeID, reviewerID int64, action store.Action) ReviewOutcome {
	t.Helper()
	r := reviewFor(t, h, disputeID, reviewerID)
	out, err := h.engine.SubmitReview(context.Background(), r.ID, store.ReviewAction{Action: action})
	if err != nil {
		t.Fatalf("SubmitReview(reviewer %d, %s) error = %v", reviewerID, action, err)
	}
	return out
}

func TestBridgedDisputeNeedsBothSides(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	ctx := context.Background()

	d, err := h.engine.Create(ctx, CreateDispute{
		PostID:            f.post.ID,
		DisputerID:        reporter,
		Metadata:          store.DisputeMetadata{Kind: store.ContentBridged, Reason: store.Reason{Comment: "rude"}},
		RequestModReviews: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.Metadata.CommunityID != f.bridge.ID {
		t.Fatalf("Metadata.CommunityID = %d, want bridge %d", d.Metadata.CommunityID, f.bridge.ID)
	}
	if got, want := reviewerIDs(h.store.Reviews(d.ID)), []int64{11, 12, 21, 22}; !reflect.DeepEqual(got, want) {
		t.Fatalf("requested reviewers = %v, want %v", got, want)
	}

	for _, mod := range []int64{11, 12} {
		out := submit(t, h, d.ID, mod, store.ActionRemove)
		if out.Resolved || out.Review.Status != store.ReviewResolved {
			t.Fatalf("after moderator %d: resolved=%v review=%s", mod, out.Resolved, out.Review.Status)
		}
		if got := h.store.Dispute(d.ID).Status; got != store.DisputePending {
			t.Fatalf("dispute status after moderator %d = %s, want pending", mod, got)
		}
		if got := h.store.Post(f.post.ID).Visibility[f.bridge.ID]; got != store.VisibilityHide {
			t.Fatalf("visibility after moderator %d = %s, want hide", mod, got)
		}
	}

	out := submit(t, h, d.ID, 21, store.ActionRemove)
	if !out.Resolved {
		t.Fatalf("dispute not resolved once both sides agree")
	}
	got := h.store.Dispute(d.ID)
	if got.Status != store.DisputeResolved || got.Outcome != store.ActionRemove {
		t.Fatalf("dispute = %s/%s, want resolved/remove", got.Status, got.Outcome)
	}

	out = submit(t, h, d.ID, 22, store.ActionRelease)
	if out.Resolved {
		t.Fatalf("late review re-resolved the dispute")
	}
	post := h.store.Post(f.post.ID)
	if post.Visibility[f.bridge.ID] != store.VisibilityHide || post.Removed {
		t.Fatalf("post after late review = %+v, want hidden and not removed", post)
	}
	if h.store.Dispute(d.ID).Outcome != store.ActionRemove {
		t.Fatalf("late review changed the outcome")
	}
	if post.ProcessingStatus != ProcessingDoneWithModeratorReview {
		t.Fatalf("ProcessingStatus = %q", post.ProcessingStatus)
	}
}

func TestBridgedDisputeStaysPendingWithoutUnanimity(t *testing.T) {
	tests := []struct {
		name  string
		votes map[int64]store.Action
	}{
		{"side a split", map[int64]store.Action{11: store.ActionRemove, 12: store.ActionRelease, 21: store.ActionRemove, 22: store.ActionRemove}},
		{"sides disagree", map[int64]store.Action{11: store.ActionRelease, 12: store.ActionRelease, 21: store.ActionRemove}},
		{"side b silent", map[int64]store.Action{11: store.ActionRelease, 12: store.ActionRelease}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			f := seedBridge(h)
			d, err := h.engine.Create(context.Background(), CreateDispute{
				PostID:            f.post.ID,
				DisputerID:        reporter,
				Metadata:          store.DisputeMetadata{Kind: store.ContentBridged, CommunityID: f.bridge.ID},
				RequestModReviews: true,
			})
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			for _, mod := range []int64{11, 12, 21, 22} {
				if action, ok := tc.votes[mod]; ok {
					submit(t, h, d.ID, mod, action)
				}
			}
			if got := h.store.Dispute(d.ID).Status; got != store.DisputePending {
				t.Fatalf("dispute status = %s, want pending", got)
			}
			if got := h.store.Post(f.post.ID).Visibility[f.bridge.ID]; got != store.VisibilityHide {
				t.Fatalf("visibility = %s, want hide", got)
			}
		})
	}
}

func TestAuthorEscalationKeepsCastVotes(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	d, err := h.engine.Create(context.Background(), CreateDispute{
		PostID:               f.post.ID,
		DisputerID:           reporter,
		Metadata:             store.DisputeMetadata{Kind: store.ContentBridged, CommunityID: f.bridge.ID},
		RequestModReviews:    true,
		RequestAuthorReviews: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before := len(h.store.Reviews(d.ID))

	submit(t, h, d.ID, 11, store.ActionRemove)
	if out := submit(t, h, d.ID, author, store.ActionRelease); out.Resolved {
		t.Fatalf("author release resolved the dispute")
	}

	reviews := h.store.Reviews(d.ID)
	if len(reviews) != before {
		t.Fatalf("reviews after escalation = %d, want %d", len(reviews), before)
	}
	var mine []store.Review
	for _, r := range reviews {
		if r.ReviewerID == 11 {
			mine = append(mine, r)
		}
	}
	if len(mine) != 1 || mine[0].Status != store.ReviewResolved {
		t.Fatalf("reviews for moderator 11 = %+v, want the one resolved vote", mine)
	}
}

func TestBridgedReleaseShowsPost(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	d, err := h.engine.Create(context.Background(), CreateDispute{
		PostID:            f.post.ID,
		DisputerID:        reporter,
		Metadata:          store.DisputeMetadata{Kind: store.ContentBridged},
		RequestModReviews: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	submit(t, h, d.ID, 12, store.ActionRelease)
	out := submit(t, h, d.ID, 22, store.ActionRelease)
	if !out.Resolved || out.Dispute.Outcome != store.ActionRelease {
		t.Fatalf("outcome = %+v, want resolved release", out.Dispute)
	}
	if got := h.store.Post(f.post.ID).Visibility[f.bridge.ID]; got != store.VisibilityShow {
		t.Fatalf("visibility = %s, want show", got)
	}
}

func TestSingleSideDisputeInBridge(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	d, err := h.engine.PersonaCreate(context.Background(), f.post.ID, reporter, "off topic", store.ContentSingle, f.b.ID, true, false)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	if got, want := reviewerIDs(h.store.Reviews(d.ID)), f.modsB; !reflect.DeepEqual(got, want) {
		t.Fatalf("requested reviewers = %v, want side b moderators %v", got, want)
	}
	out := submit(t, h, d.ID, 21, store.ActionRemove)
	if !out.Resolved {
		t.Fatalf("single-side dispute did not resolve on one moderator")
	}
	post := h.store.Post(f.post.ID)
	if post.Removed {
		t.Fatalf("single-side dispute flipped the removed flag")
	}
	if post.Visibility[f.b.ID] != store.VisibilityHide {
		t.Fatalf("visibility = %v, want side b hidden", post.Visibility)
	}
	if _, ok := post.Visibility[f.a.ID]; ok {
		t.Fatalf("visibility gained an entry for an undisputed side: %v", post.Visibility)
	}
}

func TestSingleModeratorResolvesPlainDispute(t *testing.T) {
	for _, action := range []store.Action{store.ActionRemove, store.ActionRelease} {
		t.Run(string(action), func(t *testing.T) {
			h := newHarness(t, nil)
			f := seedPlain(h, FlagModeratorActions)
			d, err := h.engine.PersonaCreate(context.Background(), f.post.ID, reporter, "spam", store.ContentSingle, 0, true, false)
			if err != nil {
				t.Fatalf("PersonaCreate() error = %v", err)
			}
			out := submit(t, h, d.ID, 32, action)
			if !out.Resolved || out.Dispute.Outcome != action {
				t.Fatalf("outcome = %+v, want resolved %s", out.Dispute, action)
			}
			post := h.store.Post(f.post.ID)
			if post.Removed != (action == store.ActionRemove) {
				t.Fatalf("Removed = %v for %s", post.Removed, action)
			}
			if post.Visibility[f.community.ID] != visibilityFor(action) {
				t.Fatalf("visibility = %v for %s", post.Visibility, action)
			}

			other := submit(t, h, d.ID, 31, store.ActionRemove)
			if other.Resolved || h.store.Dispute(d.ID).Outcome != action {
				t.Fatalf("second moderator changed a resolved dispute")
			}
			if h.store.Post(f.post.ID).Visibility[f.community.ID] != visibilityFor(action) {
				t.Fatalf("second moderator changed visibility")
			}
		})
	}
}

func TestAuthorReviewPath(t *testing.T) {
	h := newHarness(t, nil)
	f := seedPlain(h, FlagModeratorActions)
	ctx := context.Background()

	d, err := h.engine.Create(ctx, CreateDispute{
		PostID:               f.post.ID,
		DisputerID:           reporter,
		Metadata:             store.DisputeMetadata{Kind: store.ContentSingle},
		RequestAuthorReviews: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := reviewerIDs(h.store.Reviews(d.ID)); !reflect.DeepEqual(got, []int64{author}) {
		t.Fatalf("requested reviewers = %v, want author only", got)
	}
	out := submit(t, h, d.ID, author, store.ActionRelease)
	if out.Resolved {
		t.Fatalf("author release resolved the dispute")
	}
	if got, want := reviewerIDs(h.store.Reviews(d.ID)), []int64{author, 31, 32}; !reflect.DeepEqual(got, want) {
		t.Fatalf("reviewers after escalation = %v, want %v", got, want)
	}

	second, err := h.engine.Create(ctx, CreateDispute{
		PostID:               f.post.ID,
		DisputerID:           reporter,
		Metadata:             store.DisputeMetadata{Kind: store.ContentSingle},
		RequestAuthorReviews: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	out = submit(t, h, second.ID, author, store.ActionRemove)
	if !out.Resolved || out.Dispute.Outcome != store.ActionRemove {
		t.Fatalf("author remove = %+v, want resolved remove", out.Dispute)
	}
	post := h.store.Post(f.post.ID)
	if !post.Removed || post.Visibility[f.community.ID] != store.VisibilityHide {
		t.Fatalf("post after author remove = %+v", post)
	}
	if post.ProcessingStatus != ProcessingDoneWithAuthorReview {
		t.Fatalf("ProcessingStatus = %q, want %q", post.ProcessingStatus, ProcessingDoneWithAuthorReview)
	}
}

func TestModeratorAuthorIsNotAskedToModerate(t *testing.T) {
	h := newHarness(t, nil)
	var community store.Community
	var post store.Post
	h.store.Seed(func(sd *storetest.Seeder) {
		community = sd.Community("garden", FlagModeratorActions)
		sd.Member(31, community.ID, "moderator")
		sd.Member(32, community.ID, "moderator")
		post = sd.Post(community.ID, 31, "my own post")
	})
	d, err := h.engine.PersonaCreate(context.Background(), post.ID, reporter, "rude", store.ContentSingle, community.ID, true, false)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	if got := reviewerIDs(h.store.Reviews(d.ID)); !reflect.DeepEqual(got, []int64{32}) {
		t.Fatalf("reviewers = %v, want [32]", got)
	}
}

func TestSubmitReviewErrors(t *testing.T) {
	h := newHarness(t, nil)
	f := seedPlain(h, FlagModeratorActions)
	ctx := context.Background()
	d, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "spam", store.ContentSingle, 0, true, false)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	r := reviewFor(t, h, d.ID, 31)

	if _, err := h.engine.SubmitReview(ctx, r.ID, store.ReviewAction{Action: "escalate"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("SubmitReview(escalate) error = %v, want ErrInvalid", err)
	}
	if _, err := h.engine.SubmitReview(ctx, 999, store.ReviewAction{Action: store.ActionRemove}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SubmitReview(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := h.engine.SubmitReview(ctx, r.ID, store.ReviewAction{Action: store.ActionRemove}); err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	if _, err := h.engine.SubmitReview(ctx, r.ID, store.ReviewAction{Action: store.ActionRelease}); !errors.Is(err, ErrConflict) {
		t.Fatalf("SubmitReview() twice error = %v, want ErrConflict", err)
	}
	if got := h.store.Post(f.post.ID).Visibility[f.community.ID]; got != store.VisibilityHide {
		t.Fatalf("visibility after rejected resubmission = %s, want hide", got)
	}
}

func TestCreateDisputeErrors(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	off := seedPlain(h)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateDispute
		want error
	}{
		{"moderation disabled", CreateDispute{PostID: off.post.ID, Metadata: store.DisputeMetadata{Kind: store.ContentSingle}}, ErrAuthorization},
		{"missing post", CreateDispute{PostID: 999, Metadata: store.DisputeMetadata{Kind: store.ContentSingle}}, ErrAuthorization},
		{"unknown kind", CreateDispute{PostID: f.post.ID, Metadata: store.DisputeMetadata{Kind: "abc"}}, ErrInvalid},
		{"foreign community", CreateDispute{PostID: f.post.ID, Metadata: store.DisputeMetadata{Kind: store.ContentSingle, CommunityID: off.community.ID}}, ErrInvalid},
		{"bridged kind on side", CreateDispute{PostID: f.post.ID, Metadata: store.DisputeMetadata{Kind: store.ContentBridged, CommunityID: f.a.ID}}, ErrInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.engine.Create(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("Create() error = %v, want %v", err, tc.want)
			}
		})
	}
	if disputes, _ := h.engine.Disputes(ctx, store.DisputeFilter{}); len(disputes) != 0 {
		t.Fatalf("failed creates left disputes behind: %v", disputes)
	}
}

func TestAssignPendingDisputes(t *testing.T) {
	h := newHarness(t, nil)
	f := seedPlain(h, FlagModeratorActions)
	ctx := context.Background()
	first, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "spam", store.ContentSingle, 0, false, false)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	if _, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "rude", store.ContentSingle, 0, true, false); err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}

	reviews, err := h.engine.AssignPendingDisputes(ctx, 31, f.community.ID)
	if err != nil {
		t.Fatalf("AssignPendingDisputes() error = %v", err)
	}
	if len(reviews) != 1 || reviews[0].DisputeID != first.ID {
		t.Fatalf("AssignPendingDisputes() = %+v, want one review on dispute %d", reviews, first.ID)
	}
	if _, err := h.engine.AssignPendingDisputes(ctx, author, f.community.ID); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("AssignPendingDisputes(non-moderator) error = %v, want ErrAuthorization", err)
	}

	queue, err := h.engine.ReviewQueue(ctx, 31)
	if err != nil {
		t.Fatalf("ReviewQueue() error = %v", err)
	}
	if len(queue) != 2 || queue[1].DisputeID != first.ID {
		t.Fatalf("ReviewQueue() = %+v, want two open reviews ending with dispute %d", queue, first.ID)
	}
	if _, err := h.engine.SubmitReview(ctx, queue[0].ID, store.ReviewAction{Action: store.ActionRelease}); err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	queue, err = h.engine.ReviewQueue(ctx, 31)
	if err != nil || len(queue) != 1 || queue[0].DisputeID != first.ID {
		t.Fatalf("ReviewQueue() after submit = %+v, %v, want only dispute %d", queue, err, first.ID)
	}
	if queue, err := h.engine.ReviewQueue(ctx, reporter); err != nil || len(queue) != 0 {
		t.Fatalf("ReviewQueue(reporter) = %+v, %v, want empty", queue, err)
	}
}

func TestFasttrackToModerators(t *testing.T) {
	h := newHarness(t, nil)
	f := seedPlain(h, FlagModeratorActions)
	ctx := context.Background()
	d, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "spam", store.ContentSingle, 0, false, true)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}

	outcomes, err := h.engine.FasttrackToModerators(ctx, f.post.ID)
	if err != nil {
		t.Fatalf("FasttrackToModerators() error = %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("FasttrackToModerators() = %d outcomes, want 1", len(outcomes))
	}
	r := reviewFor(t, h, d.ID, author)
	if r.Status != store.ReviewResolved || r.Submission.SubActions["with note"] != "fasttrack task" {
		t.Fatalf("author review = %+v", r)
	}
	if got, want := reviewerIDs(h.store.Reviews(d.ID)), []int64{author, 31, 32}; !reflect.DeepEqual(got, want) {
		t.Fatalf("reviewers = %v, want %v", got, want)
	}

	outcomes, err = h.engine.FasttrackToModerators(ctx, f.post.ID)
	if err != nil || len(outcomes) != 0 {
		t.Fatalf("FasttrackToModerators() again = %d, %v, want nothing to do", len(outcomes), err)
	}
}

func TestModerateWithReviewer(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	h.engine.reviewer = &fakeReviewer{classifyFn: func(_ context.Context, policy BehaviorPolicy, text string) (Classification, error) {
		if !strings.Contains(text, "both sides") {
			t.Fatalf("Classify() text = %q", text)
		}
		if policy.Kind == store.ContentBridged || policy.CommunityID == f.a.ID {
			return Classification{ViolationHits: []string{"1. Disrespectful content"}}, nil
		}
		return Classification{EncouragedHits: []string{"1. Be polite"}}, nil
	}}
	ctx := context.Background()

	disputes, err := h.engine.ModerateWithReviewer(ctx, f.post.ID, true, false)
	if err != nil {
		t.Fatalf("ModerateWithReviewer() error = %v", err)
	}
	if len(disputes) != 2 {
		t.Fatalf("ModerateWithReviewer() = %d disputes, want 2", len(disputes))
	}
	for _, d := range disputes {
		if d.DisputerID != AIPersonaID {
			t.Fatalf("DisputerID = %d, want %d", d.DisputerID, AIPersonaID)
		}
	}
	if disputes[0].Metadata.CommunityID != f.a.ID || disputes[1].Metadata.Kind != store.ContentBridged {
		t.Fatalf("dispute metadata = %+v / %+v", disputes[0].Metadata, disputes[1].Metadata)
	}

	quiet := seedPlain(h)
	disputes, err = h.engine.ModerateWithReviewer(ctx, quiet.post.ID, true, false)
	if err != nil || disputes != nil {
		t.Fatalf("ModerateWithReviewer(moderation disabled) = %v, %v, want nil, nil", disputes, err)
	}
}

func TestDisplayLenses(t *testing.T) {
	h := newHarness(t, nil)
	f := seedBridge(h)
	ctx := context.Background()
	d, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "off topic", store.ContentSingle, f.a.ID, true, false)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	if _, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "shouting", store.ContentSingle, f.b.ID, false, false); err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	submit(t, h, d.ID, 11, store.ActionRemove)

	lenses, err := h.engine.DisplayLenses(ctx, f.post.ID)
	if err != nil {
		t.Fatalf("DisplayLenses() error = %v", err)
	}
	want := map[int64]Lens{
		f.a.ID: {Action: store.VisibilityHide, Reasons: []string{"off topic"}},
		f.b.ID: {Action: store.VisibilityHide, Reasons: []string{}},
	}
	if !reflect.DeepEqual(lenses, want) {
		t.Fatalf("DisplayLenses() = %+v, want %+v", lenses, want)
	}
}

func TestDisputesAndReviewsAreIndexed(t *testing.T) {
	h := newHarness(t, nil)
	f := seedPlain(h, FlagModeratorActions)
	ctx := context.Background()
	d, err := h.engine.PersonaCreate(ctx, f.post.ID, reporter, "spam", store.ContentSingle, 0, true, false)
	if err != nil {
		t.Fatalf("PersonaCreate() error = %v", err)
	}
	submit(t, h, d.ID, 31, store.ActionRelease)

	h.indexer.mu.Lock()
	defer h.indexer.mu.Unlock()
	if len(h.indexer.disputes) != 2 || h.indexer.disputes[1].Status != store.DisputeResolved {
		t.Fatalf("indexed disputes = %+v, want created then resolved", h.indexer.disputes)
	}
	if len(h.indexer.reviews) != 3 {
		t.Fatalf("indexed reviews = %d, want 2 requests and 1 submission", len(h.indexer.reviews))
	}
}
