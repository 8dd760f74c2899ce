package rbac

type Role string
type Action string

const (
	RoleStudent   Role = "STUDENT"
	RoleModerator Role = "MODERATOR"
)

const (
	ActionRead           Action = "read"
	ActionPost           Action = "post"
	ActionLock           Action = "lock"
	ActionViewReports    Action = "view_reports"
	ActionResolveReports Action = "resolve_reports"
	ActionDeleteAny      Action = "delete_any"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleModerator:
		return true
	case RoleStudent:
		return action == ActionRead || action == ActionPost
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleModerator:
		return Role(role)
	default:
		return RoleStudent
	}
}
