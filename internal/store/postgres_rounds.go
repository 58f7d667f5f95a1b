package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const roundColumns = `id, community_id, prompt_id, creation_time, start_time, completion_time, end_time, start_notif_sent, completion_notif_sent`

func scanRound(row rowScanner) (Round, error) {
	var (
		item                         Round
		start, completion, finishing sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.CommunityID,
		&item.PromptID,
		&item.CreationTime,
		&start,
		&completion,
		&finishing,
		&item.StartNotifSent,
		&item.CompletionNotifSent,
	); err != nil {
		return Round{}, err
	}
	item.StartTime = timePtr(start)
	item.CompletionTime = timePtr(completion)
	item.EndTime = timePtr(finishing)
	return item, nil
}

func (t *pgTx) GetRound(ctx context.Context, id int64) (Round, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id=$1`, id)
	item, err := scanRound(row)
	if err != nil {
		return Round{}, fmt.Errorf("get round %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) LockRound(ctx context.Context, id int64) (Round, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id=$1 FOR UPDATE`, id)
	item, err := scanRound(row)
	if err != nil {
		return Round{}, fmt.Errorf("lock round %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) ListRounds(ctx context.Context, communityID int64) ([]Round, error) {
	return t.listRounds(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE community_id=$1
		ORDER BY creation_time, id
	`, communityID)
}

func (t *pgTx) ListActiveRounds(ctx context.Context, communityID int64, now time.Time) ([]Round, error) {
	return t.listRounds(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE community_id=$1
		  AND start_time IS NOT NULL AND start_time <= $2
		  AND (end_time IS NULL OR end_time > $2)
		ORDER BY start_time, id
	`, communityID, now)
}

func (t *pgTx) listRounds(ctx context.Context, query string, args ...any) ([]Round, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	items := make([]Round, 0)
	for rows.Next() {
		item, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertRound(ctx context.Context, r Round) (Round, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO rounds (community_id, prompt_id, creation_time, start_time, completion_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+roundColumns,
		r.CommunityID, r.PromptID, r.CreationTime, nullTime(r.StartTime), nullTime(r.CompletionTime), nullTime(r.EndTime),
	)
	item, err := scanRound(row)
	if err != nil {
		return Round{}, fmt.Errorf("insert round: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) UpdateRoundTimes(ctx context.Context, r Round) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE rounds
		SET start_time=$2, completion_time=$3, end_time=$4
		WHERE id=$1
	`, r.ID, nullTime(r.StartTime), nullTime(r.CompletionTime), nullTime(r.EndTime))
	if err != nil {
		return fmt.Errorf("update round times: %w", mapError(err))
	}
	return requireRow(result, "update round times")
}

// MarkRoundNotified flips the notification flag for kind and reports
// whether this call was the one that flipped it.
func (t *pgTx) MarkRoundNotified(ctx context.Context, id int64, kind RoundNotification) (bool, error) {
	var query string
	switch kind {
	case NotifyStarted:
		query = `UPDATE rounds SET start_notif_sent=TRUE WHERE id=$1 AND NOT start_notif_sent`
	case NotifyClosed:
		query = `UPDATE rounds SET completion_notif_sent=TRUE WHERE id=$1 AND NOT completion_notif_sent`
	default:
		return false, fmt.Errorf("mark round notified: unknown notification %q", kind)
	}
	result, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark round notified: %w", mapError(err))
	}
	return affected(result, "mark round notified")
}

func (t *pgTx) NextPrompt(ctx context.Context, communityID int64) (Prompt, error) {
	var item Prompt
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, community_id, text, priority, status, created_at
		FROM prompts
		WHERE community_id=$1 AND status='eligible'
		ORDER BY priority, id
		LIMIT 1
		FOR UPDATE
	`, communityID).Scan(&item.ID, &item.CommunityID, &item.Text, &item.Priority, &item.Status, &item.CreatedAt)
	if err != nil {
		return Prompt{}, fmt.Errorf("next prompt: %w", mapError(err))
	}
	return item, nil
}

// InsertPrompt is used by seeding and integration tests.
func (t *pgTx) InsertPrompt(ctx context.Context, p Prompt) (Prompt, error) {
	if p.Status == "" {
		p.Status = PromptEligible
	}
	var item Prompt
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO prompts (community_id, text, priority, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, community_id, text, priority, status, created_at
	`, p.CommunityID, p.Text, p.Priority, string(p.Status)).Scan(&item.ID, &item.CommunityID, &item.Text, &item.Priority, &item.Status, &item.CreatedAt)
	if err != nil {
		return Prompt{}, fmt.Errorf("insert prompt: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) SetPromptStatus(ctx context.Context, id int64, status PromptStatus) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE prompts SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set prompt status: %w", mapError(err))
	}
	return requireRow(result, "set prompt status")
}
