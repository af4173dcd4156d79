package domain

// Role controls access levels. Every wallet holder is a RoleUser; operator
// roles gate the backoffice.
type Role string

const (
	RoleUser     Role = "user"     // bidder or seller
	RoleAdmin    Role = "admin"    // full back-office access
	RoleOps      Role = "ops"      // on-demand sweeps, reconciliation
	RoleReadOnly Role = "readonly" // read-only back-office access
)

// IsValid returns true for a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOps, RoleReadOnly:
		return true
	}
	return false
}

// CanAccessBackoffice returns true for any operator role.
func (r Role) CanAccessBackoffice() bool {
	return r == RoleAdmin || r == RoleOps || r == RoleReadOnly
}

// CanOperate returns true for roles allowed to trigger state changes from the
// backoffice.
func (r Role) CanOperate() bool {
	return r == RoleAdmin || r == RoleOps
}
