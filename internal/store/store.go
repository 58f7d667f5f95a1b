package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store runs fn inside one transaction: committed when fn returns nil,
// rolled back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx is the storage surface the governance engine works against. Every
// method runs inside the enclosing transaction.
type Tx interface {
	GetCommunity(ctx context.Context, id int64) (Community, error)
	LockCommunity(ctx context.Context, id int64) (Community, error)
	ListCommunities(ctx context.Context) ([]Community, error)
	InsertCommunity(ctx context.Context, c Community) (Community, error)
	UpdateCommunityFlags(ctx context.Context, id int64, flags []string) error
	UpdateCommunityBehaviors(ctx context.Context, id int64, behaviors Behaviors) error

	GetMembership(ctx context.Context, personaID, communityID int64) (Membership, error)
	InsertMembership(ctx context.Context, personaID, communityID int64) (Membership, error)
	DeleteMembership(ctx context.Context, id int64) error
	ListMemberIDs(ctx context.Context, communityIDs []int64) ([]int64, error)
	SharesCommunity(ctx context.Context, a, b int64, communityIDs []int64) (bool, error)

	ListRoles(ctx context.Context, membershipID int64) ([]string, error)
	InsertRole(ctx context.Context, membershipID int64, role string) error
	DeleteRole(ctx context.Context, membershipID int64, role string) (bool, error)
	ListPersonaIDsWithRole(ctx context.Context, communityIDs []int64, role string) ([]int64, error)

	ListPatches(ctx context.Context, membershipID int64) ([]Patch, error)
	InsertPatch(ctx context.Context, p Patch) error
	DeletePatch(ctx context.Context, membershipID int64, permission string) (bool, error)

	GetPost(ctx context.Context, id int64) (Post, error)
	SetPostVisibility(ctx context.Context, postID, communityID int64, v Visibility) error
	SetPostRemoved(ctx context.Context, postID int64, removed bool) error
	SetPostProcessingStatus(ctx context.Context, postID int64, status string) error

	InsertDispute(ctx context.Context, d Dispute) (Dispute, error)
	GetDispute(ctx context.Context, id int64) (Dispute, error)
	LockDispute(ctx context.Context, id int64) (Dispute, error)
	ListDisputes(ctx context.Context, filter DisputeFilter) ([]Dispute, error)
	ResolveDispute(ctx context.Context, id int64, outcome Action, at time.Time) (bool, error)

	InsertReview(ctx context.Context, r Review) (Review, error)
	GetReview(ctx context.Context, id int64) (Review, error)
	ListReviews(ctx context.Context, disputeID int64) ([]Review, error)
	ListReviewsByReviewer(ctx context.Context, reviewerID int64, status ReviewStatus) ([]Review, error)
	ResolveReview(ctx context.Context, id int64, action ReviewAction, at time.Time) (bool, error)

	GetRound(ctx context.Context, id int64) (Round, error)
	LockRound(ctx context.Context, id int64) (Round, error)
	ListRounds(ctx context.Context, communityID int64) ([]Round, error)
	ListActiveRounds(ctx context.Context, communityID int64, now time.Time) ([]Round, error)
	InsertRound(ctx context.Context, r Round) (Round, error)
	UpdateRoundTimes(ctx context.Context, r Round) error
	MarkRoundNotified(ctx context.Context, id int64, kind RoundNotification) (bool, error)

	NextPrompt(ctx context.Context, communityID int64) (Prompt, error)
	SetPromptStatus(ctx context.Context, id int64, status PromptStatus) error
}

// mapError folds driver errors into ErrNotFound and ErrConflict so callers
// never inspect SQLSTATE codes themselves.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23P01", "40001", "40P01":
			return &conflictError{constraint: pgErr.ConstraintName, err: err}
		}
	}
	return err
}

type conflictError struct {
	constraint string
	err        error
}

func (e *conflictError) Error() string {
	if e.constraint != "" {
		return "store: conflict on " + e.constraint + ": " + e.err.Error()
	}
	return "store: conflict: " + e.err.Error()
}

func (e *conflictError) Is(target error) bool { return target == ErrConflict }
func (e *conflictError) Unwrap() error        { return e.err }
