package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	PermForceNextRound        Permission = "community.round.force_next_round"
	PermForceStopCurrentRound Permission = "community.round.force_stop_current_round"
	PermReviewDisputes        Permission = "community.mod.disputes.review"
	PermCommunityEdit         Permission = "community.edit"
	PermPersonaAdd            Permission = "community.persona.add"
	PermPersonaDelete         Permission = "community.persona.delete"
	PermPersonaSwap           Permission = "community.persona.swap"
	PermMembersPKHRead        Permission = "community.members.pkh.read"
	PermPromptAdd             Permission = "persona.community.prompt.add"
	PermPromptDelete          Permission = "persona.community.prompt.delete"
	PermPostAdd               Permission = "persona.community.post.add"
	PermViewPKH               Permission = "persona.view_pkh"
	PermViewPKHQR             Permission = "persona.view_pkh_qr"
	PermCommunityCreate       Permission = "community.create"
	PermFlagAdd               Permission = "community.flag.add"
	PermFlagDelete            Permission = "community.flag.delete"
	PermRoleAdd               Permission = "community.persona.role.add"
	PermRoleDelete            Permission = "community.persona.role.delete"
	PermPermissionGrant       Permission = "community.persona.permission.grant"
	PermPermissionRevoke      Permission = "community.persona.permission.revoke"
)

// DefaultDefinition is the graph the platform ships with.
func DefaultDefinition() Definition {
	return Definition{
		Version:         "builtin",
		BaseRole:        string(RolePersona),
		MemberRole:      string(RoleMember),
		AssignableRoles: []string{"owner", "moderator", "trustee", "facilitator"},
		Roles: map[string][]string{
			"owner":       {All, "__community_creator__"},
			"moderator":   {"__moderator__"},
			"trustee":     {"__trustee__"},
			"facilitator": {"__facilitator__"},
			"member":      {"__member__"},
			"persona":     {"__persona__"},
		},
		Groups: map[string][]string{
			"__moderator__": {
				string(PermForceNextRound),
				string(PermForceStopCurrentRound),
				string(PermReviewDisputes),
				string(PermCommunityEdit),
			},
			"__trustee__": {
				string(PermPersonaAdd),
				string(PermPersonaDelete),
				string(PermPersonaSwap),
				string(PermMembersPKHRead),
			},
			"__facilitator__": {},
			"__member__": {
				string(PermPromptAdd),
				string(PermPromptDelete),
				string(PermPostAdd),
			},
			"__persona__": {
				string(PermViewPKH),
				string(PermViewPKHQR),
			},
			"__community_creator__": {
				string(PermCommunityCreate),
				string(PermFlagAdd),
				string(PermFlagDelete),
				string(PermCommunityEdit),
			},
		},
		Permissions: []string{
			string(PermForceNextRound),
			string(PermForceStopCurrentRound),
			string(PermReviewDisputes),
			string(PermCommunityEdit),
			string(PermPersonaAdd),
			string(PermPersonaDelete),
			string(PermPersonaSwap),
			string(PermMembersPKHRead),
			string(PermPromptAdd),
			string(PermPromptDelete),
			string(PermPostAdd),
			string(PermViewPKH),
			string(PermViewPKHQR),
			string(PermCommunityCreate),
			string(PermFlagAdd),
			string(PermFlagDelete),
			string(PermRoleAdd),
			string(PermRoleDelete),
			string(PermPermissionGrant),
			string(PermPermissionRevoke),
		},
	}
}

func Default() *Graph {
	return MustExpand(DefaultDefinition())
}

func ParseYAML(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("decode permission graph: %w", err)
	}
	return def, nil
}

func MarshalYAML(def Definition) ([]byte, error) {
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode permission graph: %w", err)
	}
	return data, nil
}

func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission graph: %w", err)
	}
	def, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	if def.Version == "" {
		def.Version = path
	}
	return Expand(def)
}
