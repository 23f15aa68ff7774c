package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/procurehub/procurehub/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, u User) (int64, error)
	UpdateUser(ctx context.Context, u User) error
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	ListUsers(ctx context.Context) ([]User, error)

	GetDepartment(ctx context.Context, id int64) (Department, error)
	CreateDepartment(ctx context.Context, d Department) (int64, error)
	SetDepartmentActive(ctx context.Context, id int64, active bool) error
	ListDepartments(ctx context.Context) ([]Department, error)
}

// AuditPort records mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages accounts, departments and authentication.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the identity service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

const minPasswordLength = 8

// Authenticate verifies credentials and stamps the last login. Unknown
// usernames, wrong passwords and deactivated accounts are indistinguishable
// to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrInvalidCredentials
		}
		return User{}, err
	}
	if !u.Active {
		return User{}, shared.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	now := s.now()
	if err := s.repo.TouchLastLogin(ctx, u.ID, now); err != nil {
		return User{}, err
	}
	u.LastLogin = now
	return u, nil
}

// GetUser loads a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers lists all accounts. Admin only.
func (s *Service) ListUsers(ctx context.Context, actor shared.Actor) ([]User, error) {
	if actor.Role != shared.RoleAdmin {
		return nil, shared.ErrPermissionDenied
	}
	return s.repo.ListUsers(ctx)
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Username     string
	Email        string
	Password     string
	Role         string
	DepartmentID int64
}

// CreateUser registers an account. Admin only.
func (s *Service) CreateUser(ctx context.Context, actor shared.Actor, input CreateUserInput) (User, error) {
	if actor.Role != shared.RoleAdmin {
		return User{}, shared.ErrPermissionDenied
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return User{}, fmt.Errorf("username required: %w", shared.ErrValidation)
	}
	if len(input.Password) < minPasswordLength {
		return User{}, fmt.Errorf("password must have at least %d characters: %w", minPasswordLength, shared.ErrValidation)
	}
	role, ok := shared.ParseRole(input.Role)
	if !ok {
		return User{}, fmt.Errorf("unknown role %q: %w", input.Role, shared.ErrValidation)
	}
	if role == shared.RoleUser || role == shared.RoleManager {
		if input.DepartmentID == 0 {
			return User{}, fmt.Errorf("role %s requires a department: %w", role, shared.ErrValidation)
		}
		dept, err := s.repo.GetDepartment(ctx, input.DepartmentID)
		if err != nil {
			return User{}, err
		}
		if !dept.Active {
			return User{}, fmt.Errorf("department %s is inactive: %w", dept.Code, shared.ErrValidation)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	u := User{
		Username:     username,
		Email:        strings.TrimSpace(input.Email),
		PasswordHash: string(hash),
		Role:         role,
		DepartmentID: input.DepartmentID,
		Active:       true,
	}
	id, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return User{}, err
	}
	u.ID = id
	s.recordAudit(ctx, actor, "USER_CREATE", "users", id, map[string]any{"username": username, "role": string(role)})
	return u, nil
}

// UpdateUserInput carries mutable account fields.
type UpdateUserInput struct {
	Email        *string
	Role         *string
	DepartmentID *int64
	Active       *bool
}

// UpdateUser mutates an account. Admin only. Deactivation is the soft
// delete: the row stays for audit lineage.
func (s *Service) UpdateUser(ctx context.Context, actor shared.Actor, id int64, input UpdateUserInput) (User, error) {
	if actor.Role != shared.RoleAdmin {
		return User{}, shared.ErrPermissionDenied
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if input.Email != nil {
		u.Email = strings.TrimSpace(*input.Email)
	}
	if input.Role != nil {
		role, ok := shared.ParseRole(*input.Role)
		if !ok {
			return User{}, fmt.Errorf("unknown role %q: %w", *input.Role, shared.ErrValidation)
		}
		u.Role = role
	}
	if input.DepartmentID != nil {
		u.DepartmentID = *input.DepartmentID
	}
	if input.Active != nil {
		if !*input.Active && u.ID == actor.ID {
			return User{}, fmt.Errorf("cannot deactivate yourself: %w", shared.ErrValidation)
		}
		u.Active = *input.Active
	}
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor, "USER_UPDATE", "users", id, map[string]any{"role": string(u.Role), "active": u.Active})
	return u, nil
}

// ChangePassword lets a user rotate their own password, or an admin reset
// anyone's.
func (s *Service) ChangePassword(ctx context.Context, actor shared.Actor, userID int64, password string) error {
	if actor.ID != userID && actor.Role != shared.RoleAdmin {
		return shared.ErrPermissionDenied
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must have at least %d characters: %w", minPasswordLength, shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, userID, string(hash)); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "USER_PASSWORD", "users", userID, nil)
	return nil
}

// CreateDepartment registers a department. Admin only.
func (s *Service) CreateDepartment(ctx context.Context, actor shared.Actor, name, code string) (Department, error) {
	if actor.Role != shared.RoleAdmin {
		return Department{}, shared.ErrPermissionDenied
	}
	name = strings.TrimSpace(name)
	code = strings.ToUpper(strings.TrimSpace(code))
	if name == "" || code == "" {
		return Department{}, fmt.Errorf("name and code required: %w", shared.ErrValidation)
	}
	d := Department{Name: name, Code: code, Active: true}
	id, err := s.repo.CreateDepartment(ctx, d)
	if err != nil {
		return Department{}, err
	}
	d.ID = id
	s.recordAudit(ctx, actor, "DEPARTMENT_CREATE", "departments", id, map[string]any{"code": code})
	return d, nil
}

// SetDepartmentActive toggles a department. Admin only.
func (s *Service) SetDepartmentActive(ctx context.Context, actor shared.Actor, id int64, active bool) error {
	if actor.Role != shared.RoleAdmin {
		return shared.ErrPermissionDenied
	}
	if err := s.repo.SetDepartmentActive(ctx, id, active); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "DEPARTMENT_ACTIVE", "departments", id, map[string]any{"active": active})
	return nil
}

// ListDepartments lists departments; any signed-in user may read them.
func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	return s.repo.ListDepartments(ctx)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity string, entityID int64, after map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		After:    after,
		At:       time.Now().UTC(),
	})
}
