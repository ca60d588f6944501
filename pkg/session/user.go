package session

import "github.com/platinummonkey/gatekeeper/pkg/authn"

// EnterpriseUser is an authenticated user bound to a live session. It is
// what handlers see after middleware validation.
type EnterpriseUser struct {
	UserID           string       `json:"user_id"`
	Email            string       `json:"email"`
	DisplayName      string       `json:"display_name,omitempty"`
	OrganizationID   string       `json:"organization_id,omitempty"`
	OrganizationName string       `json:"organization_name,omitempty"`
	Roles            []authn.Role `json:"roles"`
	Groups           []string     `json:"groups,omitempty"`
	AuthProviderID   string       `json:"auth_provider_id"`

	Session Metadata `json:"session"`
}

// HasRole reports whether the user holds the given role
func (u *EnterpriseUser) HasRole(role authn.Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user holds the admin role
func (u *EnterpriseUser) IsAdmin() bool {
	return u.HasRole(authn.RoleAdmin)
}
