package users

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	mu       sync.Mutex
	users    []User
	inserts  int
	promoted []uuid.UUID
	orgs     []Organization
}

func (f *fakeRepo) FindSystemUser(_ context.Context, orgID uuid.UUID, email string) (User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var match *User
	for i := range f.users {
		u := &f.users[i]
		if u.OrganizationID != orgID || !(u.IsSystem || strings.EqualFold(u.Email, email)) {
			continue
		}
		if match == nil || (u.IsSystem && !match.IsSystem) {
			match = u
		}
	}
	if match == nil {
		return User{}, false, nil
	}
	return *match, true, nil
}

func (f *fakeRepo) PromoteSystemUser(_ context.Context, orgID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].ID == userID && f.users[i].OrganizationID == orgID {
			f.users[i].IsSystem = true
			f.users[i].Status = UserStatusActive
			f.promoted = append(f.promoted, userID)
		}
	}
	return nil
}

func (f *fakeRepo) InsertUser(_ context.Context, user User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.OrganizationID == user.OrganizationID && strings.EqualFold(u.Email, user.Email) {
			return ErrUserExists
		}
	}
	f.inserts++
	f.users = append(f.users, user)
	return nil
}

func (f *fakeRepo) ListOrganizations(context.Context) ([]Organization, error) {
	return f.orgs, nil
}

func TestSystemActorProvisionsOncePerOrg(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, "", nil)
	org := uuid.New()

	first, err := svc.SystemActorID(context.Background(), org)
	require.NoError(t, err)
	second, err := svc.SystemActorID(context.Background(), org)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.inserts)

	user := repo.users[0]
	require.True(t, user.IsSystem)
	require.Equal(t, UserStatusActive, user.Status)
	require.Equal(t, DefaultSystemEmail, user.Email)
	require.NotEmpty(t, user.PasswordHash)
	require.Error(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("")))

	other, err := svc.SystemActorID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotEqual(t, first, other)
	require.Equal(t, 2, repo.inserts)
}

func TestSystemActorReusesAndPromotesExistingUser(t *testing.T) {
	org := uuid.New()
	legacy := User{ID: uuid.New(), OrganizationID: org, Email: "SYSTEM@odyssey.local", Status: UserStatusDisabled}
	repo := &fakeRepo{users: []User{legacy}}
	svc := NewService(repo, "system@odyssey.local", nil)

	id, err := svc.SystemActorID(context.Background(), org)
	require.NoError(t, err)
	require.Equal(t, legacy.ID, id)
	require.Zero(t, repo.inserts)
	require.Equal(t, []uuid.UUID{legacy.ID}, repo.promoted)
	require.True(t, repo.users[0].IsSystem)
}

func TestSystemActorConcurrentResolutionYieldsOneUser(t *testing.T) {
	repo := &fakeRepo{}
	org := uuid.New()
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 4)
	errs := make([]error, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc := NewService(repo, "", nil)
			ids[i], errs[i] = svc.SystemActorID(context.Background(), org)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, repo.inserts)
	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, repo.users[0].ID, id)
	}
}
