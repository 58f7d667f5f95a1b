package rbac

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBasal(t *testing.T) {
	g := Default()
	cases := []struct {
		name  string
		roles []Role
		perm  Permission
		allow bool
	}{
		{name: "persona views pkh", roles: []Role{RolePersona}, perm: PermViewPKH, allow: true},
		{name: "persona cannot post", roles: []Role{RolePersona}, perm: PermPostAdd, allow: false},
		{name: "member posts", roles: []Role{RolePersona, RoleMember}, perm: PermPostAdd, allow: true},
		{name: "member cannot review", roles: []Role{RoleMember}, perm: PermReviewDisputes, allow: false},
		{name: "moderator reviews", roles: []Role{RoleModerator}, perm: PermReviewDisputes, allow: true},
		{name: "trustee swaps", roles: []Role{RoleTrustee}, perm: PermPersonaSwap, allow: true},
		{name: "facilitator has nothing", roles: []Role{RoleFacilitator}, perm: PermCommunityEdit, allow: false},
		{name: "owner expands all groups", roles: []Role{RoleOwner}, perm: PermMembersPKHRead, allow: true},
		{name: "owner creates", roles: []Role{RoleOwner}, perm: PermCommunityCreate, allow: true},
		{name: "unknown role", roles: []Role{"janitor"}, perm: PermViewPKH, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.Basal(tc.roles).Has(tc.perm); got != tc.allow {
				t.Fatalf("Basal(%v).Has(%q) = %v, want %v", tc.roles, tc.perm, got, tc.allow)
			}
		})
	}
}

func TestRolesFor(t *testing.T) {
	g := Default()
	cases := []struct {
		name     string
		isMember bool
		explicit []Role
		want     []Role
	}{
		{name: "no membership", isMember: false, explicit: nil, want: []Role{RolePersona}},
		{name: "no membership ignores explicit", isMember: false, explicit: []Role{RoleModerator}, want: []Role{RolePersona}},
		{name: "bare membership", isMember: true, explicit: nil, want: []Role{RolePersona, RoleMember}},
		{name: "moderator", isMember: true, explicit: []Role{RoleModerator}, want: []Role{RolePersona, RoleMember, RoleModerator}},
		{name: "duplicates collapse", isMember: true, explicit: []Role{RoleMember, RoleTrustee, RoleTrustee}, want: []Role{RolePersona, RoleMember, RoleTrustee}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := g.RolesFor(tc.isMember, tc.explicit)
			if len(got) != len(tc.want) {
				t.Fatalf("RolesFor() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("RolesFor() = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestEffectiveRevokeWinsAndGrantAdds(t *testing.T) {
	basal := NewSet(PermPostAdd, PermPromptAdd)
	got := Effective(basal, []Patch{
		{Permission: PermPostAdd, Mode: ModeRevoke},
		{Permission: PermReviewDisputes, Mode: ModeGrant},
	})
	if got.Has(PermPostAdd) {
		t.Fatal("revoked role permission still present")
	}
	if !got.Has(PermReviewDisputes) {
		t.Fatal("granted permission missing")
	}
	if !got.Has(PermPromptAdd) {
		t.Fatal("untouched role permission missing")
	}
	if !basal.Has(PermPostAdd) {
		t.Fatal("Effective mutated its input")
	}
}

func TestEffectiveMonotonic(t *testing.T) {
	g := Default()
	perms := g.Basal([]Role{RoleOwner}).Sorted()
	basal := g.Basal([]Role{RolePersona, RoleMember})
	for _, perm := range perms {
		before := Effective(basal, nil)
		granted := Effective(basal, []Patch{{Permission: perm, Mode: ModeGrant}})
		for p := range before {
			if !granted.Has(p) {
				t.Fatalf("grant of %q removed %q", perm, p)
			}
		}
		revoked := Effective(basal, []Patch{{Permission: perm, Mode: ModeRevoke}})
		for p := range revoked {
			if !before.Has(p) {
				t.Fatalf("revoke of %q added %q", perm, p)
			}
		}
	}
}

func TestExpandRejectsMalformedGraphs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{name: "undefined group", mutate: func(d *Definition) { d.Roles["moderator"] = []string{"__ghost__"} }},
		{name: "undefined permission", mutate: func(d *Definition) { d.Groups["__member__"] = []string{"persona.fly"} }},
		{name: "group not namespaced", mutate: func(d *Definition) { d.Groups["member"] = []string{} }},
		{name: "group half namespaced", mutate: func(d *Definition) { d.Groups["__member"] = []string{} }},
		{name: "missing base role", mutate: func(d *Definition) { d.BaseRole = "nobody" }},
		{name: "undefined assignable", mutate: func(d *Definition) { d.AssignableRoles = append(d.AssignableRoles, "king") }},
		{name: "namespaced permission", mutate: func(d *Definition) { d.Permissions = append(d.Permissions, "__x__") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := DefaultDefinition()
			tc.mutate(&def)
			_, err := Expand(def)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expand() error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestGroupAllExpandsToEveryPermission(t *testing.T) {
	def := DefaultDefinition()
	def.Groups["__everything__"] = []string{All}
	def.Roles["root"] = []string{"__everything__"}
	g, err := Expand(def)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got, want := len(g.Basal([]Role{"root"})), len(def.Permissions); got != want {
		t.Fatalf("len(Basal(root)) = %d, want %d", got, want)
	}
}

func TestYAMLRoundTripThroughFile(t *testing.T) {
	def := DefaultDefinition()
	def.Version = ""
	data, err := MarshalYAML(def)
	if err != nil {
		t.Fatalf("MarshalYAML() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	g, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if g.Version() != path {
		t.Fatalf("Version() = %q, want %q", g.Version(), path)
	}
	if !g.IsAssignable(RoleModerator) || g.IsAssignable(RoleMember) {
		t.Fatal("assignable roles not preserved")
	}
	if !g.Basal([]Role{RoleModerator}).Has(PermReviewDisputes) {
		t.Fatal("moderator lost review permission after reload")
	}
}
