package repository

import (
	"context"
	"fmt"

	"github.com/serofero/server/database"
	"github.com/serofero/server/pkg"
)

type sqliteFriendshipRepo struct {
	db database.TxQuerier
}

// NewSQLiteFriendshipRepo returns a FriendshipRepository backed by db.
func NewSQLiteFriendshipRepo(db database.TxQuerier) FriendshipRepository {
	return &sqliteFriendshipRepo{db: db}
}

func (r *sqliteFriendshipRepo) Create(ctx context.Context, userID, friendID int64) error {
	if userID == friendID {
		return fmt.Errorf("%w: cannot befriend yourself", pkg.ErrBadRequest)
	}

	ok, err := r.AreFriends(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: already friends", pkg.ErrAlreadyExists)
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO friendships (user_id, friend_id) VALUES (?, ?)`, userID, friendID,
	); err != nil {
		return fmt.Errorf("friendship create: %w", err)
	}
	return nil
}

func (r *sqliteFriendshipRepo) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)
		)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, a, b, b, a).Scan(&exists); err != nil {
		return false, fmt.Errorf("friendship lookup: %w", err)
	}
	return exists, nil
}
