package storetest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"agora/governance/internal/store"
)

type memTx struct {
	st    *state
	owner *Store
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) GetCommunity(_ context.Context, id int64) (store.Community, error) {
	c, ok := t.st.communities[id]
	if !ok {
		return store.Community{}, notFound("community", id)
	}
	c.Flags = append([]string{}, c.Flags...)
	c.BridgeIDs = append([]int64(nil), c.BridgeIDs...)
	return c, nil
}

func (t *memTx) LockCommunity(ctx context.Context, id int64) (store.Community, error) {
	return t.GetCommunity(ctx, id)
}

func (t *memTx) ListCommunities(ctx context.Context) ([]store.Community, error) {
	ids := make([]int64, 0, len(t.st.communities))
	for id := range t.st.communities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]store.Community, 0, len(ids))
	for _, id := range ids {
		c, _ := t.GetCommunity(ctx, id)
		out = append(out, c)
	}
	return out, nil
}

func (t *memTx) InsertCommunity(_ context.Context, c store.Community) (store.Community, error) {
	if len(c.BridgeIDs) != 0 && (len(c.BridgeIDs) != 2 || c.BridgeIDs[0] == c.BridgeIDs[1]) {
		return store.Community{}, fmt.Errorf("insert community: malformed bridge %v", c.BridgeIDs)
	}
	c.ID = t.st.id()
	if c.Flags == nil {
		c.Flags = []string{}
	}
	t.st.communities[c.ID] = c
	return c, nil
}

func (t *memTx) UpdateCommunityFlags(_ context.Context, id int64, flags []string) error {
	c, ok := t.st.communities[id]
	if !ok {
		return notFound("community", id)
	}
	c.Flags = append([]string{}, flags...)
	t.st.communities[id] = c
	return nil
}

func (t *memTx) UpdateCommunityBehaviors(_ context.Context, id int64, behaviors store.Behaviors) error {
	c, ok := t.st.communities[id]
	if !ok {
		return notFound("community", id)
	}
	c.Behaviors = behaviors
	t.st.communities[id] = c
	return nil
}

func (t *memTx) GetMembership(_ context.Context, personaID, communityID int64) (store.Membership, error) {
	for _, m := range t.st.memberships {
		if m.PersonaID == personaID && m.CommunityID == communityID {
			return m, nil
		}
	}
	return store.Membership{}, fmt.Errorf("membership of persona %d in %d: %w", personaID, communityID, store.ErrNotFound)
}

func (t *memTx) InsertMembership(ctx context.Context, personaID, communityID int64) (store.Membership, error) {
	if _, err := t.GetMembership(ctx, personaID, communityID); err == nil {
		return store.Membership{}, conflict("insert membership")
	}
	if _, ok := t.st.communities[communityID]; !ok {
		return store.Membership{}, notFound("community", communityID)
	}
	m := store.Membership{ID: t.st.id(), PersonaID: personaID, CommunityID: communityID}
	t.st.memberships[m.ID] = m
	return m, nil
}

func (t *memTx) DeleteMembership(_ context.Context, id int64) error {
	if _, ok := t.st.memberships[id]; !ok {
		return notFound("membership", id)
	}
	delete(t.st.memberships, id)
	for k := range t.st.roles {
		if k.membershipID == id {
			delete(t.st.roles, k)
		}
	}
	for k := range t.st.patches {
		if k.membershipID == id {
			delete(t.st.patches, k)
		}
	}
	return nil
}

func (t *memTx) ListMemberIDs(_ context.Context, communityIDs []int64) ([]int64, error) {
	seen := map[int64]bool{}
	out := make([]int64, 0)
	for _, m := range t.st.memberships {
		if contains(communityIDs, m.CommunityID) && !seen[m.PersonaID] {
			seen[m.PersonaID] = true
			out = append(out, m.PersonaID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) SharesCommunity(_ context.Context, a, b int64, communityIDs []int64) (bool, error) {
	of := func(persona int64) map[int64]bool {
		set := map[int64]bool{}
		for _, m := range t.st.memberships {
			if m.PersonaID == persona && contains(communityIDs, m.CommunityID) && !t.st.communities[m.CommunityID].IsBridge() {
				set[m.CommunityID] = true
			}
		}
		return set
	}
	left, right := of(a), of(b)
	for id := range left {
		if right[id] {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ListRoles(_ context.Context, membershipID int64) ([]string, error) {
	type entry struct {
		role string
		seq  int64
	}
	var entries []entry
	for k, seq := range t.st.roles {
		if k.membershipID == membershipID {
			entries = append(entries, entry{k.role, seq})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.role)
	}
	return out, nil
}

func (t *memTx) InsertRole(_ context.Context, membershipID int64, role string) error {
	if _, ok := t.st.memberships[membershipID]; !ok {
		return notFound("membership", membershipID)
	}
	key := roleKey{membershipID, role}
	if _, ok := t.st.roles[key]; !ok {
		t.st.roles[key] = t.st.tick()
	}
	return nil
}

func (t *memTx) DeleteRole(_ context.Context, membershipID int64, role string) (bool, error) {
	key := roleKey{membershipID, role}
	if _, ok := t.st.roles[key]; !ok {
		return false, nil
	}
	delete(t.st.roles, key)
	return true, nil
}

func (t *memTx) ListPersonaIDsWithRole(_ context.Context, communityIDs []int64, role string) ([]int64, error) {
	seen := map[int64]bool{}
	out := make([]int64, 0)
	for k := range t.st.roles {
		if k.role != role {
			continue
		}
		m := t.st.memberships[k.membershipID]
		if contains(communityIDs, m.CommunityID) && !seen[m.PersonaID] {
			seen[m.PersonaID] = true
			out = append(out, m.PersonaID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) ListPatches(_ context.Context, membershipID int64) ([]store.Patch, error) {
	out := make([]store.Patch, 0)
	for k, p := range t.st.patches {
		if k.membershipID == membershipID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission < out[j].Permission })
	return out, nil
}

func (t *memTx) InsertPatch(_ context.Context, p store.Patch) error {
	if t.owner.FailInsertPatch > 0 {
		t.owner.FailInsertPatch--
		return conflict("insert patch")
	}
	key := patchKey{p.MembershipID, p.Permission}
	if _, ok := t.st.patches[key]; ok {
		return conflict("insert patch")
	}
	t.st.patches[key] = p
	return nil
}

func (t *memTx) DeletePatch(_ context.Context, membershipID int64, permission string) (bool, error) {
	key := patchKey{membershipID, permission}
	if _, ok := t.st.patches[key]; !ok {
		return false, nil
	}
	delete(t.st.patches, key)
	return true, nil
}

func (t *memTx) GetPost(_ context.Context, id int64) (store.Post, error) {
	p, ok := t.st.posts[id]
	if !ok {
		return store.Post{}, notFound("post", id)
	}
	return clonePost(p), nil
}

func (t *memTx) SetPostVisibility(_ context.Context, postID, communityID int64, v store.Visibility) error {
	p, ok := t.st.posts[postID]
	if !ok {
		return notFound("post", postID)
	}
	p = clonePost(p)
	p.Visibility[communityID] = v
	t.st.posts[postID] = p
	return nil
}

func (t *memTx) SetPostRemoved(_ context.Context, postID int64, removed bool) error {
	p, ok := t.st.posts[postID]
	if !ok {
		return notFound("post", postID)
	}
	p.Removed = removed
	t.st.posts[postID] = p
	return nil
}

func (t *memTx) SetPostProcessingStatus(_ context.Context, postID int64, status string) error {
	p, ok := t.st.posts[postID]
	if !ok {
		return notFound("post", postID)
	}
	p.ProcessingStatus = status
	t.st.posts[postID] = p
	return nil
}

func (t *memTx) InsertDispute(_ context.Context, d store.Dispute) (store.Dispute, error) {
	if _, ok := t.st.posts[d.PostID]; !ok {
		return store.Dispute{}, notFound("post", d.PostID)
	}
	d.ID = t.st.id()
	if d.Status == "" {
		d.Status = store.DisputePending
	}
	t.st.disputes[d.ID] = d
	return d, nil
}

func (t *memTx) GetDispute(_ context.Context, id int64) (store.Dispute, error) {
	d, ok := t.st.disputes[id]
	if !ok {
		return store.Dispute{}, notFound("dispute", id)
	}
	return d, nil
}

func (t *memTx) LockDispute(ctx context.Context, id int64) (store.Dispute, error) {
	return t.GetDispute(ctx, id)
}

func (t *memTx) ListDisputes(_ context.Context, filter store.DisputeFilter) ([]store.Dispute, error) {
	out := make([]store.Dispute, 0)
	for _, d := range t.st.disputes {
		if filter.PostID != 0 && d.PostID != filter.PostID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.CommunityID != 0 && t.st.posts[d.PostID].CommunityID != filter.CommunityID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ResolveDispute(_ context.Context, id int64, outcome store.Action, at time.Time) (bool, error) {
	d, ok := t.st.disputes[id]
	if !ok || d.Status == store.DisputeResolved {
		return false, nil
	}
	d.Status = store.DisputeResolved
	d.Outcome = outcome
	d.ResolvedAt = &at
	t.st.disputes[id] = d
	return true, nil
}

func (t *memTx) InsertReview(_ context.Context, r store.Review) (store.Review, error) {
	if _, ok := t.st.disputes[r.DisputeID]; !ok {
		return store.Review{}, notFound("dispute", r.DisputeID)
	}
	r.ID = t.st.id()
	if r.Status == "" {
		r.Status = store.ReviewRequested
	}
	t.st.reviews[r.ID] = r
	return r, nil
}

func (t *memTx) GetReview(_ context.Context, id int64) (store.Review, error) {
	r, ok := t.st.reviews[id]
	if !ok {
		return store.Review{}, notFound("review", id)
	}
	return r, nil
}

func (t *memTx) ListReviews(_ context.Context, disputeID int64) ([]store.Review, error) {
	return t.st.reviewsFor(disputeID), nil
}

func (t *memTx) ListReviewsByReviewer(_ context.Context, reviewerID int64, status store.ReviewStatus) ([]store.Review, error) {
	out := make([]store.Review, 0)
	for _, r := range t.st.reviews {
		if r.ReviewerID == reviewerID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ResolveReview(_ context.Context, id int64, action store.ReviewAction, at time.Time) (bool, error) {
	r, ok := t.st.reviews[id]
	if !ok || r.Status == store.ReviewResolved {
		return false, nil
	}
	r.Status = store.ReviewResolved
	r.Submission = &action
	r.ResolvedAt = &at
	t.st.reviews[id] = r
	return true, nil
}

func (t *memTx) GetRound(_ context.Context, id int64) (store.Round, error) {
	r, ok := t.st.rounds[id]
	if !ok {
		return store.Round{}, notFound("round", id)
	}
	return r, nil
}

func (t *memTx) LockRound(ctx context.Context, id int64) (store.Round, error) {
	return t.GetRound(ctx, id)
}

func (t *memTx) ListRounds(_ context.Context, communityID int64) ([]store.Round, error) {
	out := make([]store.Round, 0)
	for _, r := range t.st.rounds {
		if r.CommunityID == communityID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListActiveRounds(ctx context.Context, communityID int64, now time.Time) ([]store.Round, error) {
	all, _ := t.ListRounds(ctx, communityID)
	out := make([]store.Round, 0)
	for _, r := range all {
		if active(r, now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) checkExclusion(r store.Round) error {
	for _, other := range t.st.rounds {
		if other.ID != r.ID && other.CommunityID == r.CommunityID && overlaps(r, other) {
			return conflict(fmt.Sprintf("round %d overlaps round %d", r.ID, other.ID))
		}
	}
	return nil
}

func (t *memTx) InsertRound(_ context.Context, r store.Round) (store.Round, error) {
	if err := t.checkExclusion(r); err != nil {
		return store.Round{}, err
	}
	r.ID = t.st.id()
	t.st.rounds[r.ID] = r
	return r, nil
}

func (t *memTx) UpdateRoundTimes(_ context.Context, r store.Round) error {
	existing, ok := t.st.rounds[r.ID]
	if !ok {
		return notFound("round", r.ID)
	}
	if err := t.checkExclusion(r); err != nil {
		return err
	}
	existing.StartTime = r.StartTime
	existing.CompletionTime = r.CompletionTime
	existing.EndTime = r.EndTime
	t.st.rounds[r.ID] = existing
	return nil
}

func (t *memTx) MarkRoundNotified(_ context.Context, id int64, kind store.RoundNotification) (bool, error) {
	r, ok := t.st.rounds[id]
	if !ok {
		return false, nil
	}
	switch kind {
	case store.NotifyStarted:
		if r.StartNotifSent {
			return false, nil
		}
		r.StartNotifSent = true
	case store.NotifyClosed:
		if r.CompletionNotifSent {
			return false, nil
		}
		r.CompletionNotifSent = true
	default:
		return false, fmt.Errorf("mark round notified: unknown notification %q", kind)
	}
	t.st.rounds[id] = r
	return true, nil
}

func (t *memTx) NextPrompt(_ context.Context, communityID int64) (store.Prompt, error) {
	var best *store.Prompt
	for _, p := range t.st.prompts {
		if p.CommunityID != communityID || p.Status != store.PromptEligible {
			continue
		}
		if best == nil || p.Priority < best.Priority || (p.Priority == best.Priority && p.ID < best.ID) {
			candidate := p
			best = &candidate
		}
	}
	if best == nil {
		return store.Prompt{}, fmt.Errorf("next prompt for community %d: %w", communityID, store.ErrNotFound)
	}
	return *best, nil
}

func (t *memTx) SetPromptStatus(_ context.Context, id int64, status store.PromptStatus) error {
	p, ok := t.st.prompts[id]
	if !ok {
		return notFound("prompt", id)
	}
	p.Status = status
	t.st.prompts[id] = p
	return nil
}
