package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const postColumns = `id, community_id, author_id, text, removed, visibility::text, processing_status, created_at`

func scanPost(row rowScanner) (Post, error) {
	var (
		item          Post
		visibilityRaw string
	)
	if err := row.Scan(
		&item.ID,
		&item.CommunityID,
		&item.AuthorID,
		&item.Text,
		&item.Removed,
		&visibilityRaw,
		&item.ProcessingStatus,
		&item.CreatedAt,
	); err != nil {
		return Post{}, err
	}
	visibility, err := decodeVisibility(visibilityRaw)
	if err != nil {
		return Post{}, err
	}
	item.Visibility = visibility
	return item, nil
}

func decodeVisibility(raw string) (map[int64]Visibility, error) {
	var byKey map[string]Visibility
	if err := json.Unmarshal([]byte(raw), &byKey); err != nil {
		return nil, fmt.Errorf("decode visibility: %w", err)
	}
	out := make(map[int64]Visibility, len(byKey))
	for key, value := range byKey {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode visibility key %q: %w", key, err)
		}
		out[id] = value
	}
	return out, nil
}

func (t *pgTx) GetPost(ctx context.Context, id int64) (Post, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, id)
	item, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("get post %d: %w", id, mapError(err))
	}
	return item, nil
}

// InsertPost is used by seeding and integration tests; posts are otherwise
// written by the content service.
func (t *pgTx) InsertPost(ctx context.Context, p Post) (Post, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO posts (community_id, author_id, text)
		VALUES ($1, $2, $3)
		RETURNING `+postColumns,
		p.CommunityID, p.AuthorID, p.Text,
	)
	item, err := scanPost(row)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) SetPostVisibility(ctx context.Context, postID, communityID int64, v Visibility) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE posts
		SET visibility = visibility || jsonb_build_object($2::text, $3::text)
		WHERE id=$1
	`, postID, strconv.FormatInt(communityID, 10), string(v))
	if err != nil {
		return fmt.Errorf("set post visibility: %w", mapError(err))
	}
	return requireRow(result, "set post visibility")
}

func (t *pgTx) SetPostRemoved(ctx context.Context, postID int64, removed bool) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE posts SET removed=$2 WHERE id=$1`, postID, removed)
	if err != nil {
		return fmt.Errorf("set post removed: %w", mapError(err))
	}
	return requireRow(result, "set post removed")
}

func (t *pgTx) SetPostProcessingStatus(ctx context.Context, postID int64, status string) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE posts SET processing_status=$2 WHERE id=$1`, postID, status)
	if err != nil {
		return fmt.Errorf("set post processing status: %w", mapError(err))
	}
	return requireRow(result, "set post processing status")
}

const disputeColumns = `d.id, d.post_id, d.disputer_id, d.status, COALESCE(d.outcome, ''), d.metadata::text, d.created_at, d.resolved_at`

func scanDispute(row rowScanner) (Dispute, error) {
	var (
		item        Dispute
		metadataRaw string
		resolvedAt  sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.PostID,
		&item.DisputerID,
		&item.Status,
		&item.Outcome,
		&metadataRaw,
		&item.CreatedAt,
		&resolvedAt,
	); err != nil {
		return Dispute{}, err
	}
	if err := json.Unmarshal([]byte(metadataRaw), &item.Metadata); err != nil {
		return Dispute{}, fmt.Errorf("decode dispute metadata: %w", err)
	}
	item.ResolvedAt = timePtr(resolvedAt)
	return item, nil
}

func (t *pgTx) InsertDispute(ctx context.Context, d Dispute) (Dispute, error) {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return Dispute{}, fmt.Errorf("encode dispute metadata: %w", err)
	}
	if d.Status == "" {
		d.Status = DisputePending
	}
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO disputes AS d (post_id, disputer_id, status, metadata, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING `+disputeColumns,
		d.PostID, d.DisputerID, string(d.Status), string(metadata), d.CreatedAt,
	)
	item, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("insert dispute: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) GetDispute(ctx context.Context, id int64) (Dispute, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes d WHERE d.id=$1`, id)
	item, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("get dispute %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) LockDispute(ctx context.Context, id int64) (Dispute, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes d WHERE d.id=$1 FOR UPDATE`, id)
	item, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("lock dispute %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) ListDisputes(ctx context.Context, filter DisputeFilter) ([]Dispute, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes d
		JOIN posts p ON p.id = d.post_id
		WHERE ($1=0 OR p.community_id=$1)
		  AND ($2=0 OR d.post_id=$2)
		  AND ($3='' OR d.status=$3)
		ORDER BY d.id
	`, filter.CommunityID, filter.PostID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	items := make([]Dispute, 0)
	for rows.Next() {
		item, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disputes: %w", err)
	}
	return items, nil
}

func (t *pgTx) ResolveDispute(ctx context.Context, id int64, outcome Action, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE disputes
		SET status='resolved', outcome=NULLIF($2, ''), resolved_at=$3
		WHERE id=$1 AND status <> 'resolved'
	`, id, string(outcome), at)
	if err != nil {
		return false, fmt.Errorf("resolve dispute: %w", mapError(err))
	}
	return affected(result, "resolve dispute")
}

const reviewColumns = `id, dispute_id, reviewer_id, status, COALESCE(metadata::text, ''), created_at, resolved_at`

func scanReview(row rowScanner) (Review, error) {
	var (
		item        Review
		metadataRaw string
		resolvedAt  sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.DisputeID,
		&item.ReviewerID,
		&item.Status,
		&metadataRaw,
		&item.CreatedAt,
		&resolvedAt,
	); err != nil {
		return Review{}, err
	}
	if metadataRaw != "" && metadataRaw != "null" {
		var submission ReviewAction
		if err := json.Unmarshal([]byte(metadataRaw), &submission); err != nil {
			return Review{}, fmt.Errorf("decode review metadata: %w", err)
		}
		item.Submission = &submission
	}
	item.ResolvedAt = timePtr(resolvedAt)
	return item, nil
}

func (t *pgTx) InsertReview(ctx context.Context, r Review) (Review, error) {
	if r.Status == "" {
		r.Status = ReviewRequested
	}
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO reviews (dispute_id, reviewer_id, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+reviewColumns,
		r.DisputeID, r.ReviewerID, string(r.Status), r.CreatedAt,
	)
	item, err := scanReview(row)
	if err != nil {
		return Review{}, fmt.Errorf("insert review: %w", mapError(err))
	}
	return item, nil
}

func (t *pgTx) GetReview(ctx context.Context, id int64) (Review, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=$1`, id)
	item, err := scanReview(row)
	if err != nil {
		return Review{}, fmt.Errorf("get review %d: %w", id, mapError(err))
	}
	return item, nil
}

func (t *pgTx) ListReviews(ctx context.Context, disputeID int64) ([]Review, error) {
	return t.listReviews(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE dispute_id=$1 ORDER BY id`, disputeID)
}

func (t *pgTx) ListReviewsByReviewer(ctx context.Context, reviewerID int64, status ReviewStatus) ([]Review, error) {
	return t.listReviews(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE reviewer_id=$1 AND ($2='' OR status=$2)
		ORDER BY id
	`, reviewerID, string(status))
}

func (t *pgTx) listReviews(ctx context.Context, query string, args ...any) ([]Review, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

func (t *pgTx) ResolveReview(ctx context.Context, id int64, action ReviewAction, at time.Time) (bool, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return false, fmt.Errorf("encode review metadata: %w", err)
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE reviews
		SET status='resolved', metadata=$2::jsonb, resolved_at=$3
		WHERE id=$1 AND status <> 'resolved'
	`, id, string(payload), at)
	if err != nil {
		return false, fmt.Errorf("resolve review: %w", mapError(err))
	}
	return affected(result, "resolve review")
}
