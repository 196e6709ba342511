package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/accountd/apiserver/internal/auth"
	"github.com/accountd/apiserver/internal/storage"
	"github.com/accountd/apiserver/internal/store"
	"github.com/accountd/apiserver/types"
	"github.com/google/uuid"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context, offset, limit int, order types.Order) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id uuid.UUID) (int64, error)
}

// PasswordHasher turns plaintext passwords into salted hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashed, password string) error
}

// Notifier hands account events to the mail pipeline.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// AvatarStore is the subset of object storage used for profile pictures.
type AvatarStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// UserService is the user directory: every read and write of accounts goes
// through it. It holds no state between calls.
type UserService struct {
	repo     UserRepository
	hasher   PasswordHasher
	authz    auth.Authorizer
	notifier Notifier
	avatars  AvatarStore
	logger   *slog.Logger
}

// Option customizes optional collaborators.
type Option func(*UserService)

// WithNotifier publishes account events through n.
func WithNotifier(n Notifier) Option {
	return func(s *UserService) { s.notifier = n }
}

// WithAvatarStore enables profile pictures.
func WithAvatarStore(a AvatarStore) Option {
	return func(s *UserService) { s.avatars = a }
}

func NewUserService(repo UserRepository, hasher PasswordHasher, authz auth.Authorizer, logger *slog.Logger, opts ...Option) *UserService {
	s := &UserService{
		repo:   repo,
		hasher: hasher,
		authz:  authz,
		logger: logger.With("component", "user_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create hashes the password, applies the role policy and persists the
// account. actor is nil for anonymous registration. The returned value is
// re-read from the store.
func (s *UserService) Create(ctx context.Context, input types.CreateUserInput, actor *types.User) (types.User, error) {
	hashed, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", "error", err)
		return types.User{}, ErrInternal
	}

	var actorRole types.Role
	if actor != nil {
		actorRole = actor.Role
	}

	user := types.User{
		ID:           uuid.New(),
		Email:        input.Email,
		Name:         input.Name,
		Role:         EffectiveRole(input.Role, actorRole),
		PasswordHash: hashed,
	}

	if _, err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.logger.DebugContext(ctx, "attempted to create user with existing email",
				"email", input.Email)
			return types.User{}, &EmailAlreadyExistsError{Email: input.Email}
		}
		s.logger.ErrorContext(ctx, "failed to save user",
			"error", err,
			"email", input.Email)
		return types.User{}, ErrInternal
	}

	created, err := s.GetByID(ctx, user.ID)
	if err != nil {
		return types.User{}, err
	}

	s.logger.InfoContext(ctx, "user created",
		"user_id", created.ID,
		"role", created.Role)
	s.notify(ctx, types.NotificationUserCreated, created)

	return created, nil
}

// List returns one page of users. Running past the end yields an empty slice.
func (s *UserService) List(ctx context.Context, opts types.PageOptions) ([]types.User, error) {
	opts = opts.Normalize()
	users, err := s.repo.List(ctx, opts.Skip, opts.Limit, opts.Order)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list users",
			"error", err,
			"skip", opts.Skip,
			"limit", opts.Limit)
		return nil, ErrInternal
	}
	return users, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, s.lookupError(ctx, err, "user_id", id)
	}
	return user, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, s.lookupError(ctx, err, "email", email)
	}
	return user, nil
}

func (s *UserService) lookupError(ctx context.Context, err error, key string, value any) error {
	if errors.Is(err, store.ErrNotFound) {
		s.logger.DebugContext(ctx, "user not found", key, value)
		return ErrNotFound
	}
	s.logger.ErrorContext(ctx, "failed to retrieve user", "error", err, key, value)
	return ErrInternal
}

// Update merges patch over the stored account. The actor must own the
// account or be granted access by the authorizer; changing the role
// additionally requires an admin actor. A supplied password is hashed.
func (s *UserService) Update(ctx context.Context, id uuid.UUID, patch types.UserPatch, actor types.User) (types.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if !s.authz.CanAct(user.ID, actor) {
		s.logger.DebugContext(ctx, "update denied",
			"user_id", id,
			"actor_id", actor.ID)
		return types.User{}, ErrForbidden
	}
	if patch.Role != nil && *patch.Role != user.Role && !actor.IsAdmin() {
		s.logger.DebugContext(ctx, "role change denied",
			"user_id", id,
			"actor_id", actor.ID)
		return types.User{}, ErrForbidden
	}

	merged := user
	if patch.Email != nil {
		merged.Email = *patch.Email
	}
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Role != nil {
		merged.Role = *patch.Role
	}
	passwordChanged := false
	if patch.Password != nil {
		hashed, err := s.hasher.Hash(*patch.Password)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to hash password", "error", err)
			return types.User{}, ErrInternal
		}
		merged.PasswordHash = hashed
		passwordChanged = true
	}

	updated, err := s.save(ctx, merged)
	if err != nil {
		return types.User{}, err
	}

	s.logger.InfoContext(ctx, "user updated",
		"user_id", updated.ID,
		"actor_id", actor.ID)
	if passwordChanged {
		s.notify(ctx, types.NotificationPasswordChanged, updated)
	}
	return updated, nil
}

func (s *UserService) save(ctx context.Context, user types.User) (types.User, error) {
	updated, err := s.repo.Update(ctx, user)
	if err == nil {
		return updated, nil
	}
	switch {
	case errors.Is(err, store.ErrDuplicate):
		s.logger.DebugContext(ctx, "attempted to update to an existing email",
			"user_id", user.ID,
			"email", user.Email)
		return types.User{}, &EmailAlreadyExistsError{Email: user.Email}
	case errors.Is(err, store.ErrNotFound):
		return types.User{}, ErrNotFound
	default:
		s.logger.ErrorContext(ctx, "failed to update user",
			"error", err,
			"user_id", user.ID)
		return types.User{}, ErrInternal
	}
}

// Delete removes the account and reports the rows affected by the store.
// Zero means there was nothing to delete.
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to delete user",
			"error", err,
			"user_id", id)
		return 0, ErrInternal
	}
	if affected > 0 {
		s.logger.InfoContext(ctx, "user deleted", "user_id", id)
	}
	return affected, nil
}

// Authenticate verifies an email/password pair.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// SetAvatar uploads a new profile picture for id and replaces the old one.
func (s *UserService) SetAvatar(ctx context.Context, id uuid.UUID, actor types.User, content io.Reader, size int64, contentType string) (types.User, error) {
	if s.avatars == nil {
		return types.User{}, ErrStorageDisabled
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if !s.authz.CanAct(user.ID, actor) {
		return types.User{}, ErrForbidden
	}

	key := fmt.Sprintf("avatars/%s/%s", user.ID, uuid.NewString())
	if err := s.avatars.Put(ctx, key, content, size, contentType); err != nil {
		s.logger.ErrorContext(ctx, "failed to upload avatar",
			"error", err,
			"user_id", user.ID)
		return types.User{}, ErrInternal
	}

	previous := user.AvatarKey
	user.AvatarKey = key
	updated, err := s.save(ctx, user)
	if err != nil {
		s.removeObject(ctx, key)
		return types.User{}, err
	}
	if previous != "" {
		s.removeObject(ctx, previous)
	}
	return updated, nil
}

// OpenAvatar streams the stored profile picture of id. The caller closes it.
func (s *UserService) OpenAvatar(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if s.avatars == nil {
		return nil, ErrStorageDisabled
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.AvatarKey == "" {
		return nil, ErrNotFound
	}
	rc, err := s.avatars.Get(ctx, user.AvatarKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.WarnContext(ctx, "avatar object missing",
			"user_id", user.ID,
			"key", user.AvatarKey)
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to open avatar",
			"error", err,
			"user_id", user.ID)
		return nil, ErrInternal
	}
	return rc, nil
}

func (s *UserService) removeObject(ctx context.Context, key string) {
	if err := s.avatars.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to remove avatar object",
			"error", err,
			"key", key)
	}
}

// notify is best effort: a publish failure is logged and never fails the
// operation that triggered it.
func (s *UserService) notify(ctx context.Context, kind types.NotificationKind, user types.User) {
	if s.notifier == nil {
		return
	}
	n := types.Notification{
		Kind:       kind,
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.Name,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "failed to publish notification",
			"error", err,
			"kind", kind,
			"user_id", user.ID)
	}
}
