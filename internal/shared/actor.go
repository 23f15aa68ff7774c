package shared

import "context"

// Role is the closed set of user roles. Role checks are exhaustive switches,
// never raw string comparisons.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleManager   Role = "MANAGER"
	RoleUser      Role = "USER"
	RolePurchaser Role = "PURCHASER"
	RoleFinance   Role = "FINANCE"
)

// ParseRole validates a stored role value.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleAdmin, RoleManager, RoleUser, RolePurchaser, RoleFinance:
		return Role(value), true
	default:
		return "", false
	}
}

// Actor identifies the authenticated user performing an operation.
type Actor struct {
	ID           int64
	Username     string
	Role         Role
	DepartmentID int64
	Active       bool
}

// CanApproveForDepartment reports whether the actor may act as approving
// manager for the given department. Admins are not department-scoped.
func (a Actor) CanApproveForDepartment(departmentID int64) bool {
	if !a.Active {
		return false
	}
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		return a.DepartmentID == departmentID
	case RoleUser, RolePurchaser, RoleFinance:
		return false
	default:
		return false
	}
}

// IsPurchaser reports whether the actor may run purchasing operations.
func (a Actor) IsPurchaser() bool {
	if !a.Active {
		return false
	}
	switch a.Role {
	case RoleAdmin, RolePurchaser:
		return true
	case RoleManager, RoleUser, RoleFinance:
		return false
	default:
		return false
	}
}

// IsFinance reports whether the actor may run finance operations.
func (a Actor) IsFinance() bool {
	if !a.Active {
		return false
	}
	switch a.Role {
	case RoleAdmin, RoleFinance:
		return true
	case RoleManager, RoleUser, RolePurchaser:
		return false
	default:
		return false
	}
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. ok is false when the
// request is unauthenticated.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != 0
}
