// Package mocks holds in-memory fakes of the service collaborators for tests.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/accountd/apiserver/internal/store"
	"github.com/accountd/apiserver/types"
	"github.com/google/uuid"
)

// UserRepository is an in-memory store with the same uniqueness and
// not-found semantics as the Postgres repository.
type UserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]userRecord
	seq   int

	// Err, when set, is returned by every operation.
	Err error
	// CreateErr, when set, is returned by Create only.
	CreateErr error
}

type userRecord struct {
	user types.User
	seq  int
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[uuid.UUID]userRecord)}
}

func (r *UserRepository) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return types.User{}, r.Err
	}
	rec, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return rec.user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return types.User{}, r.Err
	}
	for _, rec := range r.users {
		if rec.user.Email == email {
			return rec.user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(_ context.Context, offset, limit int, order types.Order) ([]types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d", offset)
	}

	records := make([]userRecord, 0, len(r.users))
	for _, rec := range r.users {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if order == types.OrderDesc {
			return records[i].seq > records[j].seq
		}
		return records[i].seq < records[j].seq
	})

	users := make([]types.User, 0, limit)
	for i := offset; i < len(records) && len(users) < limit; i++ {
		users = append(users, records[i].user)
	}
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return types.User{}, r.Err
	}
	if r.CreateErr != nil {
		return types.User{}, r.CreateErr
	}
	if r.emailTaken(user.Email, uuid.Nil) {
		return types.User{}, store.ErrDuplicate
	}
	if _, exists := r.users[user.ID]; exists {
		return types.User{}, store.ErrDuplicate
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.seq++
	r.users[user.ID] = userRecord{user: user, seq: r.seq}
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return types.User{}, r.Err
	}
	rec, ok := r.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if r.emailTaken(user.Email, user.ID) {
		return types.User{}, store.ErrDuplicate
	}
	user.CreatedAt = rec.user.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = userRecord{user: user, seq: rec.seq}
	return user, nil
}

func (r *UserRepository) Delete(_ context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	if _, ok := r.users[id]; !ok {
		return 0, nil
	}
	delete(r.users, id)
	return 1, nil
}

// Count returns the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// Put stores user as-is, bypassing uniqueness checks. Useful for fixtures.
func (r *UserRepository) Put(user types.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.users[user.ID] = userRecord{user: user, seq: r.seq}
}

func (r *UserRepository) emailTaken(email string, except uuid.UUID) bool {
	for id, rec := range r.users {
		if id != except && rec.user.Email == email {
			return true
		}
	}
	return false
}
