package rbac

import (
	"fmt"
	"sort"
	"strings"
)

type Role string
type Permission string

const (
	RoleOwner       Role = "owner"
	RoleModerator   Role = "moderator"
	RoleTrustee     Role = "trustee"
	RoleFacilitator Role = "facilitator"
	RoleMember      Role = "member"
	RolePersona     Role = "persona"
)

// All expands to every group when listed under a role and to every
// permission when listed under a group.
const All = "__all__"

const groupDelimiter = "__"

type Mode string

const (
	ModeGrant  Mode = "grant"
	ModeRevoke Mode = "revoke"
)

type Patch struct {
	Permission Permission
	Mode       Mode
}

// Definition is the unexpanded role -> group -> permission graph as it is
// written in configuration.
type Definition struct {
	Version         string              `yaml:"version,omitempty"`
	BaseRole        string              `yaml:"base_role"`
	MemberRole      string              `yaml:"member_role"`
	AssignableRoles []string            `yaml:"assignable_roles"`
	Roles           map[string][]string `yaml:"roles"`
	Groups          map[string][]string `yaml:"groups"`
	Permissions     []string            `yaml:"permissions"`
}

type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("permission graph: %s: %s", e.Subject, e.Reason)
}

// Graph is an expanded, validated permission graph. It is never mutated
// after Expand returns; a reload builds a new Graph.
type Graph struct {
	version     string
	base        Role
	member      Role
	assignable  map[Role]bool
	roles       map[Role]Set
	roleGroups  map[Role][]string
	permissions Set
}

func Expand(def Definition) (*Graph, error) {
	permissions := make(Set, len(def.Permissions))
	for _, name := range def.Permissions {
		if name == "" || IsGroupName(name) {
			return nil, &ConfigurationError{Subject: name, Reason: "permission names must not be empty or namespaced"}
		}
		permissions[Permission(name)] = struct{}{}
	}

	groups := make(map[string]Set, len(def.Groups))
	for name, members := range def.Groups {
		if !IsGroupName(name) || name == All {
			return nil, &ConfigurationError{Subject: name, Reason: "group names must be wrapped in " + groupDelimiter}
		}
		set := make(Set)
		for _, perm := range members {
			if perm == All {
				for p := range permissions {
					set[p] = struct{}{}
				}
				continue
			}
			if !permissions.Has(Permission(perm)) {
				return nil, &ConfigurationError{Subject: name, Reason: fmt.Sprintf("references undefined permission %q", perm)}
			}
			set[Permission(perm)] = struct{}{}
		}
		groups[name] = set
	}

	allGroups := make([]string, 0, len(groups))
	for name := range groups {
		allGroups = append(allGroups, name)
	}
	sort.Strings(allGroups)

	g := &Graph{
		version:     def.Version,
		base:        Role(def.BaseRole),
		member:      Role(def.MemberRole),
		assignable:  make(map[Role]bool, len(def.AssignableRoles)),
		roles:       make(map[Role]Set, len(def.Roles)),
		roleGroups:  make(map[Role][]string, len(def.Roles)),
		permissions: permissions,
	}
	for name, refs := range def.Roles {
		var expanded []string
		for _, ref := range refs {
			if ref == All {
				expanded = append(expanded, allGroups...)
				continue
			}
			if _, ok := groups[ref]; !ok {
				return nil, &ConfigurationError{Subject: name, Reason: fmt.Sprintf("references undefined group %q", ref)}
			}
			expanded = append(expanded, ref)
		}
		expanded = dedupe(expanded)
		set := make(Set)
		for _, group := range expanded {
			for p := range groups[group] {
				set[p] = struct{}{}
			}
		}
		g.roles[Role(name)] = set
		g.roleGroups[Role(name)] = expanded
	}

	for _, required := range []Role{g.base, g.member} {
		if _, ok := g.roles[required]; !ok {
			return nil, &ConfigurationError{Subject: string(required), Reason: "base and member roles must be defined"}
		}
	}
	for _, name := range def.AssignableRoles {
		if _, ok := g.roles[Role(name)]; !ok {
			return nil, &ConfigurationError{Subject: name, Reason: "assignable role is not defined"}
		}
		g.assignable[Role(name)] = true
	}
	return g, nil
}

func MustExpand(def Definition) *Graph {
	g, err := Expand(def)
	if err != nil {
		panic(err)
	}
	return g
}

func IsGroupName(name string) bool {
	return len(name) > 2*len(groupDelimiter) &&
		strings.HasPrefix(name, groupDelimiter) &&
		strings.HasSuffix(name, groupDelimiter)
}

func (g *Graph) Version() string { return g.version }
func (g *Graph) BaseRole() Role  { return g.base }
func (g *Graph) MemberRole() Role {
	return g.member
}

func (g *Graph) IsAssignable(role Role) bool { return g.assignable[role] }

func (g *Graph) HasRole(role Role) bool {
	_, ok := g.roles[role]
	return ok
}

func (g *Graph) HasPermission(p Permission) bool { return g.permissions.Has(p) }

func (g *Graph) Groups(role Role) []string {
	return append([]string(nil), g.roleGroups[role]...)
}

// Basal is the union of permissions reachable from roles. Roles unknown to
// this graph contribute nothing.
func (g *Graph) Basal(roles []Role) Set {
	out := make(Set)
	for _, role := range roles {
		for p := range g.roles[role] {
			out[p] = struct{}{}
		}
	}
	return out
}

// RolesFor lists a persona's roles in a community: the base role always,
// the member role for any membership, then the explicit roles.
func (g *Graph) RolesFor(isMember bool, explicit []Role) []Role {
	roles := []Role{g.base}
	if !isMember {
		return roles
	}
	roles = append(roles, g.member)
	for _, role := range explicit {
		if role == g.base || role == g.member {
			continue
		}
		roles = append(roles, role)
	}
	return dedupe(roles)
}

// Effective returns (basal + grants) - revokes.
func Effective(basal Set, patches []Patch) Set {
	out := basal.Clone()
	for _, patch := range patches {
		if patch.Mode == ModeGrant {
			out[patch.Permission] = struct{}{}
		}
	}
	for _, patch := range patches {
		if patch.Mode == ModeRevoke {
			delete(out, patch.Permission)
		}
	}
	return out
}

type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupe[T comparable](items []T) []T {
	seen := make(map[T]bool, len(items))
	out := items[:0:0]
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
