package rbac

type Role string
type Action string

const (
	RoleResident Role = "resident"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionMessage Action = "message"
	ActionWrite   Action = "write"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return action == ActionRead || action == ActionMessage || action == ActionWrite
	case RoleResident:
		return action == ActionRead || action == ActionMessage
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleResident, RoleStaff, RoleAdmin:
		return Role(role)
	default:
		return RoleResident
	}
}

// IsAdmin reports whether the role gets the admin view of messaging: one
// thread per ticket author and the right to broadcast announcements.
func IsAdmin(role string) bool {
	normalized := Normalize(role)
	return normalized == RoleAdmin || normalized == RoleStaff
}
