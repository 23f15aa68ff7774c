package identity

import (
	"time"

	"github.com/procurehub/procurehub/internal/shared"
)

// User is an account that can sign in. Deactivated users keep their rows for
// audit lineage but can no longer authenticate or act.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         shared.Role
	DepartmentID int64
	Active       bool
	LastLogin    time.Time
	CreatedAt    time.Time
}

// Actor projects the user into the authorization context.
func (u User) Actor() shared.Actor {
	return shared.Actor{
		ID:           u.ID,
		Username:     u.Username,
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
		Active:       u.Active,
	}
}

// Department groups requesters under one approving manager.
type Department struct {
	ID        int64
	Name      string
	Code      string
	Active    bool
	CreatedAt time.Time
}
