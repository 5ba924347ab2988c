package domain

// RoleUser is granted to every registered account.
const RoleUser = "user"

// DefaultRoles returns the roles placed in access tokens. Accounts carry no
// stored roles yet, so every user gets the same set.
func DefaultRoles() []string {
	return []string{RoleUser}
}
