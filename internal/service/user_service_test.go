package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

type userStoreStub struct {
	users   map[string]*models.User
	byEmail map[string]*models.User
	total   int
}

func newUserStoreStub() *userStoreStub {
	return &userStoreStub{users: map[string]*models.User{}, byEmail: map[string]*models.User{}}
}

func (s *userStoreStub) List(_ context.Context, _ models.UserFilter) ([]models.User, int, error) {
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	total := s.total
	if total == 0 {
		total = len(out)
	}
	return out, total, nil
}

func (s *userStoreStub) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userStoreStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := s.byEmail[email]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userStoreStub) Create(_ context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "user-" + user.Email
	}
	s.users[user.ID] = user
	s.byEmail[user.Email] = user
	return nil
}

func (s *userStoreStub) Update(_ context.Context, user *models.User) error {
	s.users[user.ID] = user
	return nil
}

func (s *userStoreStub) Delete(_ context.Context, id string) error {
	if u, ok := s.users[id]; ok {
		u.Active = false
	}
	return nil
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestUserServiceCreateHashesPassword(t *testing.T) {
	store := newUserStoreStub()
	audit := &auditStub{}
	svc := NewUserService(store, audit, nil, nil)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Ana@School.Example",
		FullName: "Ana Reyes",
		Role:     models.RoleAnalyst,
		Active:   true,
		Password: "sekrit1",
	}, adminClaims())
	require.NoError(t, err)
	require.Equal(t, "ana@school.example", user.Email)
	require.NotEqual(t, "sekrit1", user.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("sekrit1")))
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionUserCreate, audit.logs[0].Action)
}

func TestUserServiceCreateRejectsDuplicateEmail(t *testing.T) {
	store := newUserStoreStub()
	svc := NewUserService(store, nil, nil, nil)

	req := CreateUserRequest{Email: "ana@school.example", FullName: "Ana", Role: models.RoleTeacher, Password: "sekrit1"}
	_, err := svc.Create(context.Background(), req, adminClaims())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), req, adminClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateRejectsUnknownRole(t *testing.T) {
	svc := NewUserService(newUserStoreStub(), nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "ana@school.example",
		FullName: "Ana",
		Role:     models.UserRole("JANITOR"),
		Password: "sekrit1",
	}, adminClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateChangesRole(t *testing.T) {
	store := newUserStoreStub()
	svc := NewUserService(store, nil, nil, nil)

	created, err := svc.Create(context.Background(), CreateUserRequest{
		Email: "ana@school.example", FullName: "Ana", Role: models.RoleAnalyst, Active: true, Password: "sekrit1",
	}, adminClaims())
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(context.Background(), created.ID, UpdateUserRequest{
		FullName: "Ana Reyes",
		Role:     models.RoleCoordinator,
		Active:   &inactive,
	}, adminClaims())
	require.NoError(t, err)
	require.Equal(t, models.RoleCoordinator, updated.Role)
	require.False(t, updated.Active)
}

func TestUserServiceDeactivateUnknownUser(t *testing.T) {
	svc := NewUserService(newUserStoreStub(), nil, nil, nil)

	err := svc.Deactivate(context.Background(), "missing", adminClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceListPaginationDefaults(t *testing.T) {
	store := newUserStoreStub()
	store.total = 42
	svc := NewUserService(store, nil, nil, nil)

	_, pagination, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, pagination.Page)
	require.Equal(t, 20, pagination.PageSize)
	require.Equal(t, 42, pagination.TotalCount)
}
