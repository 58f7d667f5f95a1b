package governance

import (
	"context"
	"fmt"
	"log"
)

// GatePolicy selects what a call site does when moderation is disabled for
// the operand's community.
type GatePolicy int

const (
	// GateForbid rejects the operation with an authorization error.
	GateForbid GatePolicy = iota
	// GateVerbose logs and lets the operation proceed.
	GateVerbose
	// GateDefault skips the operation and returns the caller's default.
	GateDefault
)

func (p GatePolicy) String() string {
	switch p {
	case GateForbid:
		return "forbid"
	case GateVerbose:
		return "verbose"
	case GateDefault:
		return "default"
	}
	return fmt.Sprintf("GatePolicy(%d)", int(p))
}

// Operand is anything the gate can resolve to a community.
type Operand interface {
	operand()
}

// GovernanceContext names the community explicitly.
type GovernanceContext struct {
	CommunityID int64
}

type PostOperand struct{ PostID int64 }

// AudioOperand is an audio clip attached to a post.
type AudioOperand struct {
	ClipID int64
	PostID int64
}

// PersonaOperand is a persona acting inside an explicit community.
type PersonaOperand struct {
	PersonaID int64
	Context   GovernanceContext
}

type DisputeOperand struct{ DisputeID int64 }
type ReviewOperand struct{ ReviewID int64 }

func (GovernanceContext) operand() {}
func (PostOperand) operand()       {}
func (AudioOperand) operand()      {}
func (PersonaOperand) operand()    {}
func (DisputeOperand) operand()    {}
func (ReviewOperand) operand()     {}

// communityOf resolves the operand's community id. ok is false when an
// entity on the path does not exist.
func (t *txn) communityOf(ctx context.Context, op Operand) (id int64, ok bool, err error) {
	postCommunity := func(postID int64) (int64, bool, error) {
		post, err := t.GetPost(ctx, postID)
		if err != nil {
			if isNotFound(err) {
				return 0, false, nil
			}
			return 0, false, err
		}
		return post.CommunityID, true, nil
	}
	disputeCommunity := func(disputeID int64) (int64, bool, error) {
		d, err := t.GetDispute(ctx, disputeID)
		if err != nil {
			if isNotFound(err) {
				return 0, false, nil
			}
			return 0, false, err
		}
		return postCommunity(d.PostID)
	}

	switch o := op.(type) {
	case GovernanceContext:
		return o.CommunityID, o.CommunityID != 0, nil
	case PersonaOperand:
		return o.Context.CommunityID, o.Context.CommunityID != 0, nil
	case PostOperand:
		return postCommunity(o.PostID)
	case AudioOperand:
		return postCommunity(o.PostID)
	case DisputeOperand:
		return disputeCommunity(o.DisputeID)
	case ReviewOperand:
		r, err := t.GetReview(ctx, o.ReviewID)
		if err != nil {
			if isNotFound(err) {
				return 0, false, nil
			}
			return 0, false, err
		}
		return disputeCommunity(r.DisputeID)
	case nil:
		return 0, false, nil
	}
	return 0, false, invariant("unresolvable_operand", fmt.Sprintf("gate cannot resolve a community from %T", op), nil)
}

// gate reports whether the operation may proceed. A false result with a
// nil error means the caller should return its default.
func (t *txn) gate(ctx context.Context, op Operand, policy GatePolicy) (bool, error) {
	communityID, ok, err := t.communityOf(ctx, op)
	if err != nil {
		return false, err
	}
	enabled := false
	if ok {
		v, err := t.view(ctx, communityID)
		switch {
		case err == nil:
			enabled = v.hasFlag(FlagModeratorActions)
		case isNotFound(err):
		default:
			return false, err
		}
	}
	if enabled {
		return true, nil
	}

	switch policy {
	case GateVerbose:
		log.Printf("governance: moderator actions disabled for %T in community %d; proceeding", op, communityID)
		return true, nil
	case GateDefault:
		return false, nil
	}
	return false, &Error{
		Kind:    KindAuthorization,
		Code:    "moderation_disabled",
		Message: "moderator actions are not enabled for this community",
		Details: map[string]any{"community_id": communityID},
	}
}

// Check runs the gate in its own transaction.
func (e *Engine) Check(ctx context.Context, op Operand, policy GatePolicy) (bool, error) {
	var allowed bool
	err := e.run(ctx, "governance gate", func(ctx context.Context, t *txn) error {
		var err error
		allowed, err = t.gate(ctx, op, policy)
		return err
	})
	return allowed, err
}

// Guard runs fn when the gate allows it and returns def when the policy is
// GateDefault and moderation is disabled.
func Guard[T any](ctx context.Context, e *Engine, op Operand, policy GatePolicy, def T, fn func(context.Context) (T, error)) (T, error) {
	allowed, err := e.Check(ctx, op, policy)
	if err != nil {
		return def, err
	}
	if !allowed {
		return def, nil
	}
	return fn(ctx)
}
