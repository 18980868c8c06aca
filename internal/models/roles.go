package models

// Role names known to the personnel application
const (
	RoleSuperAdmin    = "super_admin"
	RoleAdministrator = "administrator"
	RoleInstructor    = "instructor"
	RoleGameMaster    = "game_master"
	RoleMember        = "member"
)

// RolePriority orders roles from most to least privileged.
// Every caller that needs a single role for an account goes through PrimaryRole.
var RolePriority = []string{
	RoleSuperAdmin,
	RoleAdministrator,
	RoleInstructor,
	RoleGameMaster,
	RoleMember,
}

// PrimaryRole picks the highest-priority role from roles. When none of the
// known roles is present the first role is returned; an account without any
// role is treated as a member.
func PrimaryRole(roles []string) string {
	if len(roles) == 0 {
		return RoleMember
	}

	held := make(map[string]bool, len(roles))
	for _, r := range roles {
		held[r] = true
	}

	for _, r := range RolePriority {
		if held[r] {
			return r
		}
	}

	return roles[0]
}

// AdminRoles may use the admin tooling endpoints
var AdminRoles = []string{RoleSuperAdmin, RoleAdministrator}
