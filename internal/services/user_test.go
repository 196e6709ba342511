package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/accountd/apiserver/internal/auth"
	"github.com/accountd/apiserver/internal/logging"
	"github.com/accountd/apiserver/internal/mocks"
	"github.com/accountd/apiserver/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *UserService
	repo     *mocks.UserRepository
	notifier *mocks.Notifier
	avatars  *mocks.ObjectStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := mocks.NewUserRepository()
	notifier := &mocks.Notifier{}
	avatars := mocks.NewObjectStore()
	svc := NewUserService(repo, mocks.PlainHasher{}, auth.OwnerOrAdmin{}, logging.Discard(),
		WithNotifier(notifier),
		WithAvatarStore(avatars),
	)
	return fixture{svc: svc, repo: repo, notifier: notifier, avatars: avatars}
}

func (f fixture) mustCreate(t *testing.T, email string, actor *types.User, role types.Role) types.User {
	t.Helper()
	user, err := f.svc.Create(context.Background(), types.CreateUserInput{
		Email:    email,
		Password: "plaintext-password",
		Name:     "Name " + email,
		Role:     role,
	}, actor)
	require.NoError(t, err)
	return user
}

func ptr[T any](v T) *T { return &v }

func TestCreate_PersistsHashedPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.mustCreate(t, "a@x.com", nil, "")

	found, err := f.svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", found.Email)
	assert.NotEqual(t, "plaintext-password", found.PasswordHash)
	assert.NotEmpty(t, found.PasswordHash)
	assert.Equal(t, types.RoleUser, found.Role)
	assert.Equal(t, created, found, "create returns the persisted record")
}

func TestCreate_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustCreate(t, "a@x.com", nil, "")

	_, err := f.svc.Create(ctx, types.CreateUserInput{Email: "a@x.com", Password: "other"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)

	var conflict *EmailAlreadyExistsError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a@x.com", conflict.Email)
	assert.Equal(t, 1, f.repo.Count())

	users, err := f.svc.List(ctx, types.PageOptions{Limit: 100})
	require.NoError(t, err)
	matches := 0
	for _, u := range users {
		if u.Email == "a@x.com" {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
}

func TestCreate_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)
	const attempts = 16

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), types.CreateUserInput{
				Email:    "race@x.com",
				Password: "pw",
			}, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrEmailAlreadyExists)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.repo.Count())
}

func TestCreate_StoreFailureIsOpaque(t *testing.T) {
	f := newFixture(t)
	f.repo.CreateErr = errors.New(`pq: relation "users" does not exist`)

	_, err := f.svc.Create(context.Background(), types.CreateUserInput{Email: "a@x.com", Password: "pw"}, nil)
	require.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "relation")
}

func TestCreate_HashFailure(t *testing.T) {
	repo := mocks.NewUserRepository()
	svc := NewUserService(repo, mocks.PlainHasher{Err: errors.New("boom")}, auth.OwnerOrAdmin{}, logging.Discard())

	_, err := svc.Create(context.Background(), types.CreateUserInput{Email: "a@x.com", Password: "pw"}, nil)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Zero(t, repo.Count())
}

func TestCreate_RolePolicy(t *testing.T) {
	f := newFixture(t)
	admin := f.mustCreate(t, "root@x.com", nil, "")
	admin.Role = types.RoleAdmin
	f.repo.Put(admin)
	regular := f.mustCreate(t, "plain@x.com", nil, "")

	byAdmin := f.mustCreate(t, "new-admin@x.com", &admin, types.RoleAdmin)
	assert.Equal(t, types.RoleAdmin, byAdmin.Role)

	byRegular := f.mustCreate(t, "sneaky@x.com", &regular, types.RoleAdmin)
	assert.Equal(t, types.RoleUser, byRegular.Role)

	anonymous := f.mustCreate(t, "anon@x.com", nil, types.RoleAdmin)
	assert.Equal(t, types.RoleUser, anonymous.Role)
}

func TestCreate_PublishesNotification(t *testing.T) {
	f := newFixture(t)
	created := f.mustCreate(t, "a@x.com", nil, "")

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, types.NotificationUserCreated, sent[0].Kind)
	assert.Equal(t, created.ID, sent[0].UserID)
	assert.Equal(t, "a@x.com", sent[0].Email)
}

func TestCreate_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errors.New("broker down")

	_, err := f.svc.Create(context.Background(), types.CreateUserInput{Email: "a@x.com", Password: "pw"}, nil)
	assert.NoError(t, err)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.GetByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByEmail_Found(t *testing.T) {
	f := newFixture(t)
	created := f.mustCreate(t, "a@x.com", nil, "")
	f.mustCreate(t, "b@x.com", nil, "")

	found, err := f.svc.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestGet_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.repo.Err = errors.New("connection refused")

	_, err := f.svc.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrInternal)
}

func TestList_SkipAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var emails []string
	for i := 0; i < 7; i++ {
		email := fmt.Sprintf("u%d@x.com", i)
		emails = append(emails, email)
		f.mustCreate(t, email, nil, "")
	}

	page, err := f.svc.List(ctx, types.PageOptions{Skip: 2, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, emails[2], page[0].Email)
	assert.Equal(t, emails[4], page[2].Email)

	desc, err := f.svc.List(ctx, types.PageOptions{Skip: 0, Limit: 2, Order: types.OrderDesc})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, emails[6], desc[0].Email)

	byPage, err := f.svc.List(ctx, types.PageOptions{Page: 3, Limit: 3})
	require.NoError(t, err)
	require.Len(t, byPage, 1)
	assert.Equal(t, emails[6], byPage[0].Email)

	beyond, err := f.svc.List(ctx, types.PageOptions{Skip: 50, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestList_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.Err = errors.New("timeout")

	_, err := f.svc.List(context.Background(), types.PageOptions{})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestUpdate_NonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, "a@x.com", nil, "")
	b := f.mustCreate(t, "b@x.com", nil, "")

	_, err := f.svc.Update(ctx, b.ID, types.UserPatch{Name: ptr("hijacked")}, a)
	require.ErrorIs(t, err, ErrForbidden)

	unchanged, err := f.svc.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, unchanged)
}

func TestUpdate_OwnerMergesOnlySuppliedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, "a@x.com", nil, "")

	updated, err := f.svc.Update(ctx, a.ID, types.UserPatch{Name: ptr("Alice")}, a)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)
	assert.Equal(t, a.Email, updated.Email)
	assert.Equal(t, a.PasswordHash, updated.PasswordHash)
	assert.Equal(t, a.Role, updated.Role)
	assert.Equal(t, a.CreatedAt, updated.CreatedAt)

	stored, err := f.svc.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestUpdate_AdminMayEditOthers(t *testing.T) {
	f := newFixture(t)
	admin := f.mustCreate(t, "root@x.com", nil, "")
	admin.Role = types.RoleAdmin
	f.repo.Put(admin)
	b := f.mustCreate(t, "b@x.com", nil, "")

	updated, err := f.svc.Update(context.Background(), b.ID, types.UserPatch{Role: ptr(types.RoleAdmin)}, admin)
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, updated.Role)
}

func TestUpdate_OwnerCannotEscalateRole(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")

	_, err := f.svc.Update(context.Background(), a.ID, types.UserPatch{Role: ptr(types.RoleAdmin)}, a)
	assert.ErrorIs(t, err, ErrForbidden)

	same, err := f.svc.Update(context.Background(), a.ID, types.UserPatch{Role: ptr(types.RoleUser)}, a)
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, same.Role)
}

func TestUpdate_HashesPassword(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")

	updated, err := f.svc.Update(context.Background(), a.ID, types.UserPatch{Password: ptr("new-secret")}, a)
	require.NoError(t, err)
	assert.NotEqual(t, "new-secret", updated.PasswordHash)

	_, err = f.svc.Authenticate(context.Background(), "a@x.com", "new-secret")
	assert.NoError(t, err)

	sent := f.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, types.NotificationPasswordChanged, sent[1].Kind)
}

func TestUpdate_EmailConflict(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")
	f.mustCreate(t, "b@x.com", nil, "")

	_, err := f.svc.Update(context.Background(), a.ID, types.UserPatch{Email: ptr("b@x.com")}, a)
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)
	actor := f.mustCreate(t, "a@x.com", nil, "")

	_, err := f.svc.Update(context.Background(), uuid.New(), types.UserPatch{Name: ptr("x")}, actor)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_ReportsAffected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, "a@x.com", nil, "")

	affected, err := f.svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	affected, err = f.svc.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, affected)

	_, err = f.svc.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	f.mustCreate(t, "a@x.com", nil, "")
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "a@x.com", "plaintext-password")
	assert.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@x.com", "plaintext-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAvatar_SetReplaceAndOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, "a@x.com", nil, "")

	first, err := f.svc.SetAvatar(ctx, a.ID, a, strings.NewReader("png-1"), 5, "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.AvatarKey, "avatars/"+a.ID.String()+"/"))

	second, err := f.svc.SetAvatar(ctx, a.ID, a, strings.NewReader("png-2"), 5, "image/png")
	require.NoError(t, err)
	assert.NotEqual(t, first.AvatarKey, second.AvatarKey)
	assert.Equal(t, []string{second.AvatarKey}, f.avatars.Keys(), "previous object removed")

	rc, err := f.svc.OpenAvatar(ctx, a.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-2", string(data))
}

func TestAvatar_Forbidden(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")
	b := f.mustCreate(t, "b@x.com", nil, "")

	_, err := f.svc.SetAvatar(context.Background(), b.ID, a, strings.NewReader("x"), 1, "image/png")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.avatars.Keys())
}

func TestAvatar_MissingAndDisabled(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")

	_, err := f.svc.OpenAvatar(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	bare := NewUserService(f.repo, mocks.PlainHasher{}, auth.OwnerOrAdmin{}, logging.Discard())
	_, err = bare.OpenAvatar(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = bare.SetAvatar(context.Background(), a.ID, a, strings.NewReader("x"), 1, "image/png")
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestAvatar_UploadFailure(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")
	f.avatars.PutErr = errors.New("bucket gone")

	_, err := f.svc.SetAvatar(context.Background(), a.ID, a, strings.NewReader("x"), 1, "image/png")
	assert.ErrorIs(t, err, ErrInternal)

	stored, err := f.svc.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AvatarKey)
}

func TestAvatar_DanglingKey(t *testing.T) {
	f := newFixture(t)
	a := f.mustCreate(t, "a@x.com", nil, "")
	a.AvatarKey = "avatars/" + a.ID.String() + "/gone"
	f.repo.Put(a)

	_, err := f.svc.OpenAvatar(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
