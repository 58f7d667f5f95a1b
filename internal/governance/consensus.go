package governance

import (
	"sort"

	"agora/governance/internal/store"
)

// bridgedConsensus decides a bridge-wide dispute from its resolved reviews.
// Each side reaches consensus on an action when at least one of its
// moderators voted and every one of its moderators who voted chose that
// action. Only a reviewer's latest submission counts. The dispute is
// decided only when both sides agree; release is checked first, and once
// the dispute resolves later submissions have no effect on it.
func bridgedConsensus(reviews []store.Review, sideA, sideB []int64) (store.Action, bool) {
	latest := latestVotes(reviews)
	a := sideConsensus(latest, sideA)
	b := sideConsensus(latest, sideB)
	for _, action := range []store.Action{store.ActionRelease, store.ActionRemove} {
		if a[action] && b[action] {
			return action, true
		}
	}
	return "", false
}

func latestVotes(reviews []store.Review) map[int64]store.Action {
	resolved := make([]store.Review, 0, len(reviews))
	for _, r := range reviews {
		if r.Status == store.ReviewResolved && r.Submission != nil && r.Submission.Action.Valid() {
			resolved = append(resolved, r)
		}
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		ri, rj := resolved[i].ResolvedAt, resolved[j].ResolvedAt
		if ri != nil && rj != nil && !ri.Equal(*rj) {
			return ri.Before(*rj)
		}
		return resolved[i].ID < resolved[j].ID
	})
	votes := make(map[int64]store.Action, len(resolved))
	for _, r := range resolved {
		votes[r.ReviewerID] = r.Submission.Action
	}
	return votes
}

// sideConsensus returns the set of actions the side agrees on: empty when
// nobody voted or the votes are split, otherwise exactly one action.
func sideConsensus(votes map[int64]store.Action, moderators []int64) map[store.Action]bool {
	counts := make(map[store.Action]int)
	voted := 0
	for _, id := range moderators {
		action, ok := votes[id]
		if !ok {
			continue
		}
		voted++
		counts[action]++
	}
	out := make(map[store.Action]bool, 1)
	for action, n := range counts {
		if n > 0 && n == voted {
			out[action] = true
		}
	}
	return out
}
