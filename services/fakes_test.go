package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[int64]*models.User
	err   error
	gets  int
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{users: make(map[int64]*models.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = int64(len(f.users) + 1)
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", pkg.ErrNotFound, id)
	}
	return u, nil
}

func (f *fakeUsers) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func testUser(id int64, name string) *models.User {
	return &models.User{ID: id, Username: name, FullName: name, IsActive: true}
}
