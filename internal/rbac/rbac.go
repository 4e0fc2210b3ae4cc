package rbac

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleTeamAdmin Role = "team_admin"
	RoleOrgAdmin  Role = "org_admin"
)

const (
	ActionReadOwn   Action = "read_own"
	ActionWriteOwn  Action = "write_own"
	ActionReadTeam  Action = "read_team"
	ActionWriteTeam Action = "write_team"
	ActionReadOrg   Action = "read_org"
	ActionWriteOrg  Action = "write_org"
)

// Can reports whether role permits action. Team actions additionally require
// membership of the team, which callers check separately.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOrgAdmin:
		return true
	case RoleTeamAdmin:
		return action != ActionWriteOrg
	case RoleMember:
		return action == ActionReadOwn || action == ActionWriteOwn || action == ActionReadTeam || action == ActionReadOrg
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleTeamAdmin, RoleOrgAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
