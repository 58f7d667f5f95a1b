package governance

import (
	"context"
	"log"

	"agora/governance/internal/rbac"
	"agora/governance/internal/store"
)

// access is what a persona holds in a community: roles plus the patches of
// every membership that contributed them.
type access struct {
	roles   []rbac.Role
	patches []rbac.Patch
}

func (a access) effective(g *rbac.Graph) rbac.Set {
	return rbac.Effective(g.Basal(a.roles), a.patches)
}

func (t *txn) access(ctx context.Context, personaID int64, v view) (access, error) {
	isMember := false
	var explicit []rbac.Role
	var patches []rbac.Patch
	for _, id := range v.ids() {
		m, err := t.GetMembership(ctx, personaID, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return access{}, err
		}
		isMember = true
		roles, err := t.ListRoles(ctx, m.ID)
		if err != nil {
			return access{}, err
		}
		for _, r := range roles {
			explicit = append(explicit, rbac.Role(r))
		}
		stored, err := t.ListPatches(ctx, m.ID)
		if err != nil {
			return access{}, err
		}
		for _, p := range stored {
			patches = append(patches, rbac.Patch{Permission: rbac.Permission(p.Permission), Mode: rbac.Mode(p.Mode)})
		}
	}
	return access{roles: t.graph.RolesFor(isMember, explicit), patches: patches}, nil
}

func (t *txn) authorize(ctx context.Context, personaID int64, v view, perm rbac.Permission) error {
	a, err := t.access(ctx, personaID, v)
	if err != nil {
		return err
	}
	if a.effective(t.graph).Has(perm) {
		return nil
	}
	return &Error{
		Kind:    KindAuthorization,
		Code:    "permission_denied",
		Message: string(perm),
		Details: map[string]any{"persona_id": personaID, "community_id": v.ID, "permission": string(perm)},
	}
}

// RolesIn lists the persona's roles, including the implicit base and member
// roles. For a bridge, roles held in either side count.
func (e *Engine) RolesIn(ctx context.Context, personaID, communityID int64) ([]rbac.Role, error) {
	var roles []rbac.Role
	err := e.run(ctx, "list roles", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		a, err := t.access(ctx, personaID, v)
		roles = a.roles
		return err
	})
	return roles, err
}

func (e *Engine) EffectivePermissions(ctx context.Context, personaID, communityID int64) (rbac.Set, error) {
	var perms rbac.Set
	err := e.run(ctx, "effective permissions", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		a, err := t.access(ctx, personaID, v)
		if err != nil {
			return err
		}
		perms = a.effective(t.graph)
		return nil
	})
	return perms, err
}

func (e *Engine) HasPermission(ctx context.Context, personaID, communityID int64, perm rbac.Permission) (bool, error) {
	perms, err := e.EffectivePermissions(ctx, personaID, communityID)
	if err != nil {
		return false, err
	}
	return perms.Has(perm), nil
}

// Authorize returns an authorization error unless the persona currently
// holds perm in the community.
func (e *Engine) Authorize(ctx context.Context, personaID, communityID int64, perm rbac.Permission) error {
	return e.run(ctx, "authorize", func(ctx context.Context, t *txn) error {
		v, err := t.view(ctx, communityID)
		if err != nil {
			return err
		}
		return t.authorize(ctx, personaID, v, perm)
	})
}

func (e *Engine) Join(ctx context.Context, personaID, communityID int64) (store.Membership, error) {
	var m store.Membership
	err := e.run(ctx, "join community", func(ctx context.Context, t *txn) error {
		c, err := t.GetCommunity(ctx, communityID)
		if err != nil {
			return err
		}
		if c.IsBridge() {
			return invalid("bridge_registration", "personas join the communities a bridge is made of")
		}
		m, err = t.InsertMembership(ctx, personaID, communityID)
		return err
	})
	return m, err
}

// Leave deletes the membership together with its roles and patches.
func (e *Engine) Leave(ctx context.Context, personaID, communityID int64) error {
	return e.run(ctx, "leave community", func(ctx context.Context, t *txn) error {
		m, err := t.GetMembership(ctx, personaID, communityID)
		if err != nil {
			return err
		}
		return t.DeleteMembership(ctx, m.ID)
	})
}

func (t *txn) plainMembership(ctx context.Context, personaID, communityID int64) (store.Membership, error) {
	c, err := t.GetCommunity(ctx, communityID)
	if err != nil {
		return store.Membership{}, err
	}
	if c.IsBridge() {
		return store.Membership{}, invalid("bridge_membership", "roles and patches are held in the communities a bridge is made of")
	}
	m, err := t.GetMembership(ctx, personaID, communityID)
	if err != nil {
		if isNotFound(err) {
			return store.Membership{}, notFound("membership_not_found", "persona is not a member of this community")
		}
		return store.Membership{}, err
	}
	return m, nil
}

// AddRole assigns role and drops grant patches the role now covers.
func (e *Engine) AddRole(ctx context.Context, personaID, communityID int64, role rbac.Role) error {
	if !e.Graph().IsAssignable(role) {
		return invalid("role_not_assignable", string(role))
	}
	return e.run(ctx, "add role", func(ctx context.Context, t *txn) error {
		m, err := t.plainMembership(ctx, personaID, communityID)
		if err != nil {
			return err
		}
		if err := t.InsertRole(ctx, m.ID, string(role)); err != nil {
			return err
		}
		return t.refreshPatches(ctx, m)
	})
}

func (t *txn) refreshPatches(ctx context.Context, m store.Membership) error {
	roles, err := t.ListRoles(ctx, m.ID)
	if err != nil {
		return err
	}
	explicit := make([]rbac.Role, 0, len(roles))
	for _, r := range roles {
		explicit = append(explicit, rbac.Role(r))
	}
	basal := t.graph.Basal(t.graph.RolesFor(true, explicit))
	patches, err := t.ListPatches(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, p := range patches {
		if p.Mode == store.PatchGrant && basal.Has(rbac.Permission(p.Permission)) {
			if _, err := t.DeletePatch(ctx, m.ID, p.Permission); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) RemoveRole(ctx context.Context, personaID, communityID int64, role rbac.Role) error {
	if !e.Graph().IsAssignable(role) {
		return invalid("role_not_assignable", string(role))
	}
	return e.run(ctx, "remove role", func(ctx context.Context, t *txn) error {
		m, err := t.plainMembership(ctx, personaID, communityID)
		if err != nil {
			return err
		}
		removed, err := t.DeleteRole(ctx, m.ID, string(role))
		if err != nil {
			return err
		}
		if !removed {
			return notFound("role_not_held", string(role))
		}
		return nil
	})
}

// GrantPermission makes perm effective for the persona. It reports whether
// any patch changed.
func (e *Engine) GrantPermission(ctx context.Context, personaID, communityID int64, perm rbac.Permission) (bool, error) {
	return e.patch(ctx, personaID, communityID, perm, store.PatchGrant)
}

// RevokePermission removes perm from the persona's effective set. A revoke
// of a role-derived permission persists across later role changes until
// the permission is granted again.
func (e *Engine) RevokePermission(ctx context.Context, personaID, communityID int64, perm rbac.Permission) (bool, error) {
	return e.patch(ctx, personaID, communityID, perm, store.PatchRevoke)
}

func (e *Engine) patch(ctx context.Context, personaID, communityID int64, perm rbac.Permission, mode store.PatchMode) (bool, error) {
	if !e.Graph().HasPermission(perm) {
		return false, invalid("unknown_permission", string(perm))
	}
	var changed bool
	var err error
	for attempt := 1; attempt <= e.patchRetries; attempt++ {
		err = e.run(ctx, "write permission patch", func(ctx context.Context, t *txn) error {
			m, err := t.plainMembership(ctx, personaID, communityID)
			if err != nil {
				return err
			}
			changed, err = t.writePatch(ctx, m, perm, mode)
			return err
		})
		if err == nil || !isConflict(err) {
			return changed, err
		}
		log.Printf("governance: permission patch conflict for membership of persona %d in community %d (attempt %d/%d)", personaID, communityID, attempt, e.patchRetries)
	}
	return false, err
}

// writePatch leaves at most one patch for (membership, perm). Any write is
// a delete followed by an insert.
func (t *txn) writePatch(ctx context.Context, m store.Membership, perm rbac.Permission, mode store.PatchMode) (bool, error) {
	roles, err := t.ListRoles(ctx, m.ID)
	if err != nil {
		return false, err
	}
	explicit := make([]rbac.Role, 0, len(roles))
	for _, r := range roles {
		explicit = append(explicit, rbac.Role(r))
	}
	inRole := t.graph.Basal(t.graph.RolesFor(true, explicit)).Has(perm)

	var current *store.PatchMode
	patches, err := t.ListPatches(ctx, m.ID)
	if err != nil {
		return false, err
	}
	for _, p := range patches {
		if p.Permission == string(perm) {
			pm := p.Mode
			current = &pm
		}
	}

	var want *store.PatchMode
	switch {
	case mode == store.PatchGrant && !inRole:
		want = &mode
	case mode == store.PatchRevoke && inRole:
		want = &mode
	}

	if samePatch(current, want) {
		return false, nil
	}
	if current != nil {
		if _, err := t.DeletePatch(ctx, m.ID, string(perm)); err != nil {
			return false, err
		}
	}
	if want != nil {
		if err := t.InsertPatch(ctx, store.Patch{MembershipID: m.ID, Permission: string(perm), Mode: *want}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func samePatch(a, b *store.PatchMode) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
