// Package repository holds the persistence interfaces consumed by the
// services and their SQLite implementations.
//
// Interfaces are kept small so services can depend on just the lookups
// they need and tests can substitute fakes.
package repository

import (
	"context"

	"github.com/serofero/server/models"
)

// UserRepository reads user accounts.
type UserRepository interface {
	// Create inserts a user and fills in ID and CreatedAt.
	// Duplicate email or username returns pkg.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) error

	// GetByID returns pkg.ErrNotFound when no such user exists.
	GetByID(ctx context.Context, id int64) (*models.User, error)
}
