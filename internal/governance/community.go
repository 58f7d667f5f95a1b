package governance

import (
	"context"
	"sort"

	"agora/governance/internal/rbac"
	"agora/governance/internal/store"
)

const (
	FlagDisplayBehaviors        = "enable_display_community_behaviors"
	FlagCreateCommunity         = "enable_create_new_community"
	FlagModeratorActions        = "enable_content_moderation_moderator_actions"
	FlagPersonaModerationAction = "enable_content_moderation_persona_actions"
	FlagBridgedRound            = "enable_bridged_round"
)

var knownFlags = map[string]bool{
	FlagDisplayBehaviors:        true,
	FlagCreateCommunity:         true,
	FlagModeratorActions:        true,
	FlagPersonaModerationAction: true,
	FlagBridgedRound:            true,
}

func IsKnownFlag(flag string) bool { return knownFlags[flag] }

// view is a community together with the two sides it composes when it is
// a bridge. Plain communities have no sides.
type view struct {
	store.Community
	sides []store.Community
}

func (v view) bridged() bool { return len(v.sides) == 2 }

// ids lists the non-bridge communities that membership and roles are
// stored against.
func (v view) ids() []int64 {
	if !v.bridged() {
		return []int64{v.ID}
	}
	return []int64{v.sides[0].ID, v.sides[1].ID}
}

func (v view) hasSide(id int64) bool {
	for _, side := range v.sides {
		if side.ID == id {
			return true
		}
	}
	return false
}

// flags of a bridge are the flags both sides have enabled.
func (v view) flags() []string {
	if !v.bridged() {
		return sortedCopy(v.Flags)
	}
	inB := make(map[string]bool, len(v.sides[1].Flags))
	for _, f := range v.sides[1].Flags {
		inB[f] = true
	}
	out := make([]string, 0)
	for _, f := range v.sides[0].Flags {
		if inB[f] {
			out = append(out, f)
			delete(inB, f)
		}
	}
	sort.Strings(out)
	return out
}

func (v view) hasFlag(flag string) bool {
	for _, f := range v.flags() {
		if f == flag {
			return true
		}
	}
	return false
}

func (t *txn) view(ctx context.Context, id int64) (view, error) {
	c, err := t.GetCommunity(ctx, id)
	if err != nil {
		return view{}, err
	}
	return t.compose(ctx, c)
}

func (t *txn) compose(ctx context.Context, c store.Community) (view, error) {
	if !c.IsBridge() {
		return view{Community: c}, nil
	}
	malformed := func(reason string) error {
		return invariant("malformed_bridge", reason, map[string]any{
			"community_id": c.ID,
			"bridge_ids":   append([]int64(nil), c.BridgeIDs...),
		})
	}
	if len(c.BridgeIDs) != 2 || c.BridgeIDs[0] == c.BridgeIDs[1] {
		return view{}, malformed("bridge must reference exactly two distinct communities")
	}
	v := view{Community: c}
	for _, sideID := range c.BridgeIDs {
		side, err := t.GetCommunity(ctx, sideID)
		if err != nil {
			if isNotFound(err) {
				return view{}, malformed("bridge side does not exist")
			}
			return view{}, err
		}
		if side.IsBridge() {
			return view{}, malformed("bridge side is itself a bridge")
		}
		v.sides = append(v.sides, side)
	}
	return v, nil
}

func (e *Engine) CreateCommunity(ctx context.Context, creatorID int64, name string, flags []string) (store.Community, error) {
	for _, f := range flags {
		if !IsKnownFlag(f) {
			return store.Community{}, invalid("unknown_flag", f)
		}
	}
	var created store.Community
	err := e.run(ctx, "create community", func(ctx context.Context, t *txn) error {
		c, err := t.InsertCommunity(ctx, store.Community{Name: name, Flags: dedupeStrings(flags), Behaviors: store.DefaultBehaviors()})
		if err != nil {
			return err
		}
		m, err := t.InsertMembership(ctx, creatorID, c.ID)
		if err != nil {
			return err
		}
		if err := t.InsertRole(ctx, m.ID, string(rbac.RoleOwner)); err != nil {
			return err
		}
		created = c
		return nil
	})
	return created, err
}

// CreateBridge composes two existing plain communities.
func (e *Engine) CreateBridge(ctx context.Context, name string, sideA, sideB int64) (store.Community, error) {
	if sideA == sideB {
		return store.Community{}, invalid("bridge_sides_equal", "a bridge needs two different communities")
	}
	var created store.Community
	err := e.run(ctx, "create bridge", func(ctx context.Context, t *txn) error {
		for _, id := range []int64{sideA, sideB} {
			side, err := t.GetCommunity(ctx, id)
			if err != nil {
				return err
			}
			if side.IsBridge() {
				return invalid("bridge_of_bridge", "a bridge side must be a plain community")
			}
		}
		c, err := t.InsertCommunity(ctx, store.Community{Name: name, Behaviors: store.DefaultBehaviors(), BridgeIDs: []int64{sideA, sideB}})
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	return created, err
}

// Members is the deduplicated union of both sides' members for a bridge.
func (e *Engine) Members(ctx context.Context, communityID int64) ([]int64, error) {
	var ids []int64
	err := e.run(ctx, "list members", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		ids, err = t.ListMemberIDs(ctx, v.ids())
		ids = dedupeIDs(ids)
		return err
	})
	return ids, err
}

func (e *Engine) Flags(ctx context.Context, communityID int64) ([]string, error) {
	var flags []string
	err := e.run(ctx, "community flags", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		flags = v.flags()
		return nil
	})
	return flags, err
}

func (t *txn) moderatorIDs(ctx context.Context, communityIDs []int64) ([]int64, error) {
	ids, err := t.ListPersonaIDsWithRole(ctx, communityIDs, string(rbac.RoleModerator))
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

func (e *Engine) ModeratorIDs(ctx context.Context, communityID int64) ([]int64, error) {
	var ids []int64
	err := e.run(ctx, "list moderators", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		ids, err = t.moderatorIDs(ctx, v.ids())
		return err
	})
	return ids, err
}

// KnowEachOther reports whether a and b are the same persona or share a
// membership in one of the community's underlying plain communities.
func (e *Engine) KnowEachOther(ctx context.Context, communityID, a, b int64) (bool, error) {
	if a == b {
		return true, nil
	}
	var known bool
	err := e.run(ctx, "know each other", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		known, err = t.SharesCommunity(ctx, a, b, v.ids())
		return err
	})
	return known, err
}

// Policies lists the behavior policies content in a community is held to.
// A bridge has three: each side's own policy and the bridge's shared one.
func (e *Engine) Policies(ctx context.Context, communityID int64) ([]BehaviorPolicy, error) {
	var out []BehaviorPolicy
	err := e.run(ctx, "community policies", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		out = policiesOf(v)
		return nil
	})
	return out, err
}

func policiesOf(v view) []BehaviorPolicy {
	if !v.bridged() {
		return []BehaviorPolicy{{CommunityID: v.ID, Kind: store.ContentSingle, Behaviors: v.Behaviors}}
	}
	return []BehaviorPolicy{
		{CommunityID: v.sides[0].ID, Kind: store.ContentSingle, Behaviors: v.sides[0].Behaviors},
		{CommunityID: v.sides[1].ID, Kind: store.ContentSingle, Behaviors: v.sides[1].Behaviors},
		{CommunityID: v.ID, Kind: store.ContentBridged, Behaviors: v.Behaviors},
	}
}

// SetFlag turns a flag on or off. Bridge flags are derived from the sides
// and cannot be set directly.
func (e *Engine) SetFlag(ctx context.Context, actorID, communityID int64, flag string, enabled bool) error {
	if !IsKnownFlag(flag) {
		return invalid("unknown_flag", flag)
	}
	perm := rbac.PermFlagAdd
	if !enabled {
		perm = rbac.PermFlagDelete
	}
	return e.run(ctx, "set flag", func(ctx context.Context, t *txn) error {
		c, err := t.LockCommunity(ctx, communityID)
		if err != nil {
			return err
		}
		if c.IsBridge() {
			return invalid("bridge_flags_derived", "bridge flags follow the flags of both sides")
		}
		if err := t.authorize(ctx, actorID, view{Community: c}, perm); err != nil {
			return err
		}
		flags := make([]string, 0, len(c.Flags)+1)
		for _, f := range c.Flags {
			if f != flag {
				flags = append(flags, f)
			}
		}
		if enabled {
			flags = append(flags, flag)
		}
		sort.Strings(flags)
		return t.UpdateCommunityFlags(ctx, c.ID, flags)
	})
}

func (e *Engine) SetBehaviors(ctx context.Context, actorID, communityID int64, behaviors store.Behaviors) error {
	return e.run(ctx, "set behaviors", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		if err := t.authorize(ctx, actorID, v, rbac.PermCommunityEdit); err != nil {
			return err
		}
		return t.UpdateCommunityBehaviors(ctx, v.ID, behaviors)
	})
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func dedupeIDs(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
