package authn

import "strings"

// Role is an internal authorization role. Providers report arbitrary
// role names; MapRoles normalizes them into this enumeration.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
	RoleMember    Role = "member"
)

// DefaultRole is assigned when a provider reports no mappable roles
const DefaultRole = RoleMember

// roleAliases maps normalized provider role names to internal roles
var roleAliases = map[string]Role{
	"admin":         RoleAdmin,
	"administrator": RoleAdmin,
	"owner":         RoleAdmin,
	"developer":     RoleDeveloper,
	"dev":           RoleDeveloper,
	"engineer":      RoleDeveloper,
	"viewer":        RoleViewer,
	"readonly":      RoleViewer,
	"auditor":       RoleViewer,
	"member":        RoleMember,
	"user":          RoleMember,
}

// NormalizeRoleName lowercases a role name and strips separators so
// "Read-Only", "read_only", and "readonly" compare equal
func NormalizeRoleName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, " ", "")
	return name
}

// MapRoles converts raw provider role names into the internal role set.
// Unrecognized names are dropped, duplicates collapse, and an empty
// result falls back to DefaultRole so every user has at least one role.
func MapRoles(raw []string) []Role {
	seen := make(map[Role]bool)
	roles := make([]Role, 0, len(raw))
	for _, name := range raw {
		role, ok := roleAliases[NormalizeRoleName(name)]
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		roles = append(roles, DefaultRole)
	}
	return roles
}
