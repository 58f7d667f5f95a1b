package governance

import (
	"context"
	"fmt"
	"log"
	"time"

	"agora/governance/internal/store"
)

type RoundStatus int

// Statuses are ordered; a round only ever moves to a larger value.
const (
	RoundEligible RoundStatus = iota + 1
	RoundAcceptAnswers
	RoundCompleted
	RoundArchived
)

func (s RoundStatus) String() string {
	switch s {
	case RoundEligible:
		return "eligible"
	case RoundAcceptAnswers:
		return "accept_answers"
	case RoundCompleted:
		return "completed"
	case RoundArchived:
		return "archived"
	}
	return fmt.Sprintf("RoundStatus(%d)", int(s))
}

func passed(ts *time.Time, now time.Time) bool {
	return ts != nil && !ts.After(now)
}

// StatusAt derives a round's status from its timestamps. A round whose
// timestamps have passed out of order is erroneous and reported as an
// invariant violation.
func StatusAt(r store.Round, now time.Time) (RoundStatus, error) {
	started := passed(r.StartTime, now)
	completed := passed(r.CompletionTime, now)
	archived := passed(r.EndTime, now)

	erroneous := func(reason string) (RoundStatus, error) {
		return 0, invariant("erroneous_round", reason, map[string]any{
			"round_id":     r.ID,
			"community_id": r.CommunityID,
		})
	}
	switch {
	case archived:
		if !started || !completed {
			return erroneous("end time passed before start and completion")
		}
		return RoundArchived, nil
	case completed:
		if !started {
			return erroneous("completion time passed before start")
		}
		return RoundCompleted, nil
	case started:
		return RoundAcceptAnswers, nil
	}
	return RoundEligible, nil
}

func isActive(s RoundStatus) bool {
	return s == RoundAcceptAnswers || s == RoundCompleted
}

func (e *Engine) RoundStatus(ctx context.Context, roundID int64) (RoundStatus, error) {
	var status RoundStatus
	err := e.run(ctx, "round status", func(ctx context.Context, t *txn) error {
		r, err := t.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		status, err = StatusAt(r, t.now)
		return err
	})
	return status, err
}

// ActiveRound returns the community's round that is accepting answers or
// completed, if any.
func (e *Engine) ActiveRound(ctx context.Context, communityID int64) (store.Round, bool, error) {
	var (
		round store.Round
		found bool
	)
	err := e.run(ctx, "active round", func(ctx context.Context, t *txn) error {
		r, ok, err := t.activeRound(ctx, communityID)
		round, found = r, ok
		return err
	})
	return round, found, err
}

func (t *txn) activeRound(ctx context.Context, communityID int64) (store.Round, bool, error) {
	rounds, err := t.ListActiveRounds(ctx, communityID, t.now)
	if err != nil {
		return store.Round{}, false, err
	}
	switch len(rounds) {
	case 0:
		return store.Round{}, false, nil
	case 1:
		if _, err := StatusAt(rounds[0], t.now); err != nil {
			return store.Round{}, false, err
		}
		return rounds[0], true, nil
	}
	return store.Round{}, false, invariant("multiple_active_rounds", "community has more than one active round", map[string]any{
		"community_id": communityID,
		"round_ids":    roundIDs(rounds),
	})
}

// CloseNow stops the round from accepting answers. It returns false when
// the round was already completed or archived.
func (e *Engine) CloseNow(ctx context.Context, roundID int64) (bool, error) {
	var closed bool
	err := e.run(ctx, "close round", func(ctx context.Context, t *txn) error {
		r, err := t.LockRound(ctx, roundID)
		if err != nil {
			return err
		}
		closed, _, err = t.close(ctx, r)
		return err
	})
	return closed, err
}

func (t *txn) close(ctx context.Context, r store.Round) (bool, store.Round, error) {
	status, err := StatusAt(r, t.now)
	if err != nil {
		return false, r, err
	}
	if status >= RoundCompleted {
		// A round that completed on its own still owes its closed
		// notification until the scheduler or an archive sends it.
		if status == RoundCompleted && !r.CompletionNotifSent {
			if err := t.notifyClosed(ctx, r); err != nil {
				return false, r, err
			}
		}
		return false, r, nil
	}
	now := t.now
	if status == RoundEligible {
		r.StartTime = &now
	}
	r.CompletionTime = &now
	if err := t.UpdateRoundTimes(ctx, r); err != nil {
		return false, r, err
	}
	if err := t.notifyClosed(ctx, r); err != nil {
		return false, r, err
	}
	return true, r, nil
}

// ArchiveNow closes the round if needed and ends it. It returns false when
// the round was already archived.
func (e *Engine) ArchiveNow(ctx context.Context, roundID int64) (bool, error) {
	var archived bool
	err := e.run(ctx, "archive round", func(ctx context.Context, t *txn) error {
		r, err := t.LockRound(ctx, roundID)
		if err != nil {
			return err
		}
		archived, err = t.archive(ctx, r)
		return err
	})
	return archived, err
}

func (t *txn) archive(ctx context.Context, r store.Round) (bool, error) {
	status, err := StatusAt(r, t.now)
	if err != nil {
		return false, err
	}
	if status == RoundArchived {
		return false, nil
	}
	_, r, err = t.close(ctx, r)
	if err != nil {
		return false, err
	}
	now := t.now
	r.EndTime = &now
	if err := t.UpdateRoundTimes(ctx, r); err != nil {
		return false, err
	}
	return true, nil
}

func (t *txn) notifyClosed(ctx context.Context, r store.Round) error {
	flipped, err := t.MarkRoundNotified(ctx, r.ID, store.NotifyClosed)
	if err != nil || !flipped {
		return err
	}
	c, err := t.GetCommunity(ctx, r.CommunityID)
	if err != nil {
		return err
	}
	t.afterCommit(func(ctx context.Context) { t.notifier.RoundClosed(ctx, r, c) })
	return nil
}

type MoveOptions struct {
	// Force archives an active round instead of failing.
	Force bool
	// Duration overrides the wall-clock completion time when positive.
	Duration time.Duration
}

// MoveToNextRound starts a round on the community's next eligible prompt.
// Archiving the previous round and activating the new one commit together.
func (e *Engine) MoveToNextRound(ctx context.Context, communityID int64, opts MoveOptions) (store.Round, error) {
	var round store.Round
	err := e.run(ctx, "move to next round", func(ctx context.Context, t *txn) error {
		var err error
		round, err = e.moveToNextRound(ctx, t, communityID, opts)
		return err
	})
	return round, err
}

func (e *Engine) moveToNextRound(ctx context.Context, t *txn, communityID int64, opts MoveOptions) (store.Round, error) {
	community, err := t.LockCommunity(ctx, communityID)
	if err != nil {
		return store.Round{}, err
	}
	prompt, err := t.NextPrompt(ctx, communityID)
	if err != nil {
		if isNotFound(err) {
			return store.Round{}, notFound("no_eligible_prompt", fmt.Sprintf("community %d has no eligible prompt", communityID))
		}
		return store.Round{}, err
	}

	current, ok, err := t.activeRound(ctx, communityID)
	if err != nil {
		return store.Round{}, err
	}
	if ok {
		if !opts.Force {
			return store.Round{}, &Error{
				Kind:    KindConflict,
				Code:    "active_round_exists",
				Message: "would overwrite active round",
				Details: map[string]any{"community_id": communityID, "round_id": current.ID},
			}
		}
		if _, err := t.archive(ctx, current); err != nil {
			return store.Round{}, err
		}
		remaining, err := t.ListActiveRounds(ctx, communityID, t.now)
		if err != nil {
			return store.Round{}, err
		}
		if len(remaining) > 0 {
			return store.Round{}, invariant("active_round_after_archive", "community still has an active round after archiving", map[string]any{
				"community_id":     communityID,
				"archived_round":   current.ID,
				"remaining_rounds": roundIDs(remaining),
			})
		}
	}

	start := t.now
	completion := e.completionAfter(start)
	if opts.Duration > 0 {
		completion = start.Add(opts.Duration)
	}
	end := start.Add(24 * time.Hour)
	if completion.After(end) {
		end = completion
	}
	created, err := t.InsertRound(ctx, store.Round{
		CommunityID:    communityID,
		PromptID:       prompt.ID,
		CreationTime:   start,
		StartTime:      &start,
		CompletionTime: &completion,
		EndTime:        &end,
	})
	if err != nil {
		return store.Round{}, err
	}
	if err := t.SetPromptStatus(ctx, prompt.ID, store.PromptUsed); err != nil {
		return store.Round{}, err
	}
	flipped, err := t.MarkRoundNotified(ctx, created.ID, store.NotifyStarted)
	if err != nil {
		return store.Round{}, err
	}
	if flipped {
		created.StartNotifSent = true
		notified := created
		t.afterCommit(func(ctx context.Context) { t.notifier.RoundStarted(ctx, notified, community) })
	}
	return created, nil
}

// completionAfter is the nearer of today or tomorrow at the configured
// wall-clock hour that is still in the future.
func (e *Engine) completionAfter(now time.Time) time.Time {
	local := now.In(e.location)
	at := time.Date(local.Year(), local.Month(), local.Day(), e.completionHour, 0, 0, 0, e.location)
	if !at.After(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, e.completionHour, 0, 0, 0, e.location)
	}
	return at
}

type AdvanceResult struct {
	ClosedNotified bool
	Started        *store.Round
}

// AdvanceCommunity is one scheduler step for a community: announce a
// round that completed on its own, then start a new round if none is
// active. A community without eligible prompts is left alone.
func (e *Engine) AdvanceCommunity(ctx context.Context, communityID int64) (AdvanceResult, error) {
	var result AdvanceResult
	err := e.run(ctx, "advance community", func(ctx context.Context, t *txn) error {
		current, ok, err := t.activeRound(ctx, communityID)
		if err != nil {
			return err
		}
		if ok {
			status, err := StatusAt(current, t.now)
			if err != nil {
				return err
			}
			if status == RoundCompleted && !current.CompletionNotifSent {
				if err := t.notifyClosed(ctx, current); err != nil {
					return err
				}
				result.ClosedNotified = true
			}
			return nil
		}
		created, err := e.moveToNextRound(ctx, t, communityID, MoveOptions{})
		if err != nil {
			if hasCode(err, "no_eligible_prompt") {
				log.Printf("rounds: community %d has no eligible prompt", communityID)
				return nil
			}
			return err
		}
		result.Started = &created
		return nil
	})
	return result, err
}

// CommunityIDs lists every community the scheduler should advance.
func (e *Engine) CommunityIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := e.run(ctx, "list communities", func(ctx context.Context, t *txn) error {
		communities, err := t.ListCommunities(ctx)
		if err != nil {
			return err
		}
		ids = make([]int64, 0, len(communities))
		for _, c := range communities {
			ids = append(ids, c.ID)
		}
		return nil
	})
	return ids, err
}

func roundIDs(rounds []store.Round) []int64 {
	ids := make([]int64, 0, len(rounds))
	for _, r := range rounds {
		ids = append(ids, r.ID)
	}
	return ids
}
