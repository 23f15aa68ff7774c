package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/procurehub/procurehub/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]*User
	departments map[int64]*Department
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[int64]*User), departments: make(map[int64]*Department)}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) GetUser(ctx context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return *u, nil
}

func (m *memoryRepo) GetUserByUsername(ctx context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return *u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (m *memoryRepo) CreateUser(ctx context.Context, u User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return 0, shared.ErrConflict
		}
	}
	u.ID = m.id()
	u.CreatedAt = time.Now()
	m.users[u.ID] = &u
	return u.ID, nil
}

func (m *memoryRepo) UpdateUser(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[u.ID]
	if !ok {
		return shared.ErrNotFound
	}
	*stored = u
	return nil
}

func (m *memoryRepo) SetPassword(ctx context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memoryRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.LastLogin = at
	return nil
}

func (m *memoryRepo) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memoryRepo) GetDepartment(ctx context.Context, id int64) (Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[id]
	if !ok {
		return Department{}, shared.ErrNotFound
	}
	return *d, nil
}

func (m *memoryRepo) CreateDepartment(ctx context.Context, d Department) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.departments {
		if existing.Code == d.Code {
			return 0, shared.ErrConflict
		}
	}
	d.ID = m.id()
	d.CreatedAt = time.Now()
	m.departments[d.ID] = &d
	return d.ID, nil
}

func (m *memoryRepo) SetDepartmentActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[id]
	if !ok {
		return shared.ErrNotFound
	}
	d.Active = active
	return nil
}

func (m *memoryRepo) ListDepartments(ctx context.Context) ([]Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Department
	for _, d := range m.departments {
		out = append(out, *d)
	}
	return out, nil
}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

var admin = shared.Actor{ID: 100, Username: "root", Role: shared.RoleAdmin, Active: true}

func seedUser(t *testing.T, repo *memoryRepo, username, password string, role shared.Role, active bool) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	id, err := repo.CreateUser(context.Background(), User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       active,
	})
	require.NoError(t, err)
	return id
}

func TestAuthenticate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, noopAudit{})
	seedUser(t, repo, "ana", "correct-horse", shared.RoleUser, true)
	seedUser(t, repo, "gone", "correct-horse", shared.RoleUser, false)

	ctx := context.Background()

	u, err := svc.Authenticate(ctx, "ana", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "ana", u.Username)
	require.False(t, u.LastLogin.IsZero())

	_, err = svc.Authenticate(ctx, "ana", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	// Deactivated accounts fail the same way as bad passwords.
	_, err = svc.Authenticate(ctx, "gone", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestCreateUserValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, noopAudit{})
	ctx := context.Background()

	deptID, err := repo.CreateDepartment(ctx, Department{Name: "Facilities", Code: "FAC", Active: true})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, shared.Actor{ID: 1, Role: shared.RoleManager, Active: true}, CreateUserInput{
		Username: "x", Password: "long-enough", Role: "USER", DepartmentID: deptID,
	})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.CreateUser(ctx, admin, CreateUserInput{Username: "x", Password: "short", Role: "USER", DepartmentID: deptID})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateUser(ctx, admin, CreateUserInput{Username: "x", Password: "long-enough", Role: "WIZARD"})
	require.ErrorIs(t, err, shared.ErrValidation)

	// Department-scoped roles need a department.
	_, err = svc.CreateUser(ctx, admin, CreateUserInput{Username: "x", Password: "long-enough", Role: "MANAGER"})
	require.ErrorIs(t, err, shared.ErrValidation)

	u, err := svc.CreateUser(ctx, admin, CreateUserInput{
		Username: "ana", Password: "long-enough", Role: "USER", DepartmentID: deptID,
	})
	require.NoError(t, err)
	require.True(t, u.Active)
	require.Equal(t, shared.RoleUser, u.Role)

	// Duplicate usernames surface as a conflict.
	_, err = svc.CreateUser(ctx, admin, CreateUserInput{
		Username: "ana", Password: "long-enough", Role: "USER", DepartmentID: deptID,
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateUserDeactivation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, noopAudit{})
	ctx := context.Background()
	id := seedUser(t, repo, "ana", "correct-horse", shared.RoleUser, true)

	inactive := false
	u, err := svc.UpdateUser(ctx, admin, id, UpdateUserInput{Active: &inactive})
	require.NoError(t, err)
	require.False(t, u.Active)
	require.False(t, u.Actor().IsPurchaser())

	// The row survives the soft delete.
	stored, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "ana", stored.Username)

	// Admins cannot lock themselves out.
	adminID := seedUser(t, repo, "root2", "correct-horse", shared.RoleAdmin, true)
	self := shared.Actor{ID: adminID, Role: shared.RoleAdmin, Active: true}
	_, err = svc.UpdateUser(ctx, self, adminID, UpdateUserInput{Active: &inactive})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestChangePassword(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, noopAudit{})
	ctx := context.Background()
	id := seedUser(t, repo, "ana", "old-password-1", shared.RoleUser, true)
	owner := shared.Actor{ID: id, Role: shared.RoleUser, Active: true}

	require.ErrorIs(t, svc.ChangePassword(ctx, owner, id, "short"), shared.ErrValidation)

	other := shared.Actor{ID: id + 50, Role: shared.RoleUser, Active: true}
	require.ErrorIs(t, svc.ChangePassword(ctx, other, id, "new-password-1"), shared.ErrPermissionDenied)

	require.NoError(t, svc.ChangePassword(ctx, owner, id, "new-password-1"))
	_, err := svc.Authenticate(ctx, "ana", "new-password-1")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "ana", "old-password-1")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestDepartmentLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, noopAudit{})
	ctx := context.Background()

	d, err := svc.CreateDepartment(ctx, admin, "Facilities", "fac")
	require.NoError(t, err)
	require.Equal(t, "FAC", d.Code)

	_, err = svc.CreateDepartment(ctx, admin, "Facilities II", "FAC")
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, svc.SetDepartmentActive(ctx, admin, d.ID, false))

	// New users can no longer join the inactive department.
	_, err = svc.CreateUser(ctx, admin, CreateUserInput{
		Username: "ana", Password: "long-enough", Role: "USER", DepartmentID: d.ID,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
