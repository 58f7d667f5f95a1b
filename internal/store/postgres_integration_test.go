package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedPersonas(t *testing.T, ctx context.Context, s *PostgresStore, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		var id int64
		if err := s.DB().QueryRowContext(ctx, `INSERT INTO personas (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
			t.Fatalf("seed persona %s: %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestPostgresMembershipAndPatchConstraints(t *testing.T) {
	db := openTestDatabase(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	personas := seedPersonas(t, ctx, s, "ada")

	var community Community
	var membership Membership
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		community, err = tx.InsertCommunity(ctx, Community{Name: "garden", Flags: []string{"enable_bridged_round"}, Behaviors: DefaultBehaviors()})
		if err != nil {
			return err
		}
		membership, err = tx.InsertMembership(ctx, personas[0], community.ID)
		if err != nil {
			return err
		}
		return tx.InsertPatch(ctx, Patch{MembershipID: membership.ID, Permission: "community.edit", Mode: PatchGrant})
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.InsertMembership(ctx, personas[0], community.ID)
		return err
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate membership error = %v, want ErrConflict", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertPatch(ctx, Patch{MembershipID: membership.ID, Permission: "community.edit", Mode: PatchRevoke})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate patch error = %v, want ErrConflict", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.GetCommunity(ctx, community.ID)
		if err != nil {
			return err
		}
		if len(got.Flags) != 1 || got.Flags[0] != "enable_bridged_round" {
			t.Fatalf("GetCommunity().Flags = %v", got.Flags)
		}
		if err := tx.DeleteMembership(ctx, membership.ID); err != nil {
			return err
		}
		patches, err := tx.ListPatches(ctx, membership.ID)
		if err != nil {
			return err
		}
		if len(patches) != 0 {
			t.Fatalf("patches survived membership delete: %v", patches)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify tx: %v", err)
	}
}

func TestPostgresActiveRoundExclusion(t *testing.T) {
	db := openTestDatabase(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	var community Community
	var prompt Prompt
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		community, err = tx.InsertCommunity(ctx, Community{Name: "rounds", Behaviors: DefaultBehaviors()})
		if err != nil {
			return err
		}
		prompt, err = tx.(*pgTx).InsertPrompt(ctx, Prompt{CommunityID: community.ID, Text: "first", Priority: 1})
		if err != nil {
			return err
		}
		start, completion, end := now.Add(-time.Hour), now.Add(time.Hour), now.Add(23*time.Hour)
		_, err = tx.InsertRound(ctx, Round{CommunityID: community.ID, PromptID: prompt.ID, CreationTime: start, StartTime: &start, CompletionTime: &completion, EndTime: &end})
		return err
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		start, end := now, now.Add(24*time.Hour)
		_, err := tx.InsertRound(ctx, Round{CommunityID: community.ID, PromptID: prompt.ID, CreationTime: now, StartTime: &start, CompletionTime: &start, EndTime: &end})
		return err
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("overlapping round error = %v, want ErrConflict", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		active, err := tx.ListActiveRounds(ctx, community.ID, now)
		if err != nil {
			return err
		}
		if len(active) != 1 {
			t.Fatalf("ListActiveRounds() = %d rounds, want 1", len(active))
		}
		flipped, err := tx.MarkRoundNotified(ctx, active[0].ID, NotifyClosed)
		if err != nil || !flipped {
			t.Fatalf("MarkRoundNotified() first = %v, %v", flipped, err)
		}
		flipped, err = tx.MarkRoundNotified(ctx, active[0].ID, NotifyClosed)
		if err != nil || flipped {
			t.Fatalf("MarkRoundNotified() second = %v, %v", flipped, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify tx: %v", err)
	}
}

func TestPostgresDisputeResolutionIsConditional(t *testing.T) {
	db := openTestDatabase(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	personas := seedPersonas(t, ctx, s, "author", "reporter")
	now := time.Now().UTC()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		community, err := tx.InsertCommunity(ctx, Community{Name: "disputes", Behaviors: DefaultBehaviors()})
		if err != nil {
			return err
		}
		post, err := tx.(*pgTx).InsertPost(ctx, Post{CommunityID: community.ID, AuthorID: personas[0], Text: "hello"})
		if err != nil {
			return err
		}
		dispute, err := tx.InsertDispute(ctx, Dispute{
			PostID:     post.ID,
			DisputerID: personas[1],
			CreatedAt:  now,
			Metadata:   DisputeMetadata{Kind: ContentSingle, CommunityID: community.ID, Reason: Reason{Comment: "rude"}},
		})
		if err != nil {
			return err
		}
		if err := tx.SetPostVisibility(ctx, post.ID, community.ID, VisibilityHide); err != nil {
			return err
		}
		if err := tx.SetPostVisibility(ctx, post.ID, community.ID, VisibilityHide); err != nil {
			return err
		}

		first, err := tx.ResolveDispute(ctx, dispute.ID, ActionRemove, now)
		if err != nil || !first {
			t.Fatalf("ResolveDispute() first = %v, %v", first, err)
		}
		second, err := tx.ResolveDispute(ctx, dispute.ID, ActionRelease, now)
		if err != nil || second {
			t.Fatalf("ResolveDispute() second = %v, %v", second, err)
		}

		got, err := tx.GetDispute(ctx, dispute.ID)
		if err != nil {
			return err
		}
		if got.Outcome != ActionRemove || got.Metadata.Reason.Comment != "rude" {
			t.Fatalf("GetDispute() = %+v", got)
		}
		reloaded, err := tx.GetPost(ctx, post.ID)
		if err != nil {
			return err
		}
		if len(reloaded.Visibility) != 1 || reloaded.Visibility[community.ID] != VisibilityHide {
			t.Fatalf("post visibility = %v", reloaded.Visibility)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
