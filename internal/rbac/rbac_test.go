package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member own write", role: RoleMember, action: ActionWriteOwn, allow: true},
		{name: "member org read", role: RoleMember, action: ActionReadOrg, allow: true},
		{name: "member team read", role: RoleMember, action: ActionReadTeam, allow: true},
		{name: "member team write", role: RoleMember, action: ActionWriteTeam, allow: false},
		{name: "member org write", role: RoleMember, action: ActionWriteOrg, allow: false},
		{name: "team admin team write", role: RoleTeamAdmin, action: ActionWriteTeam, allow: true},
		{name: "team admin org write", role: RoleTeamAdmin, action: ActionWriteOrg, allow: false},
		{name: "org admin org write", role: RoleOrgAdmin, action: ActionWriteOrg, allow: true},
		{name: "org admin team write", role: RoleOrgAdmin, action: ActionWriteTeam, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionReadOwn, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("org_admin"); got != RoleOrgAdmin {
		t.Fatalf("Normalize(org_admin) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleMember {
		t.Fatalf("Normalize(superuser) = %q, want member", got)
	}
}
