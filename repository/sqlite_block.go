package repository

import (
	"context"
	"fmt"

	"github.com/serofero/server/database"
	"github.com/serofero/server/pkg"
)

type sqliteBlockRepo struct {
	db database.TxQuerier
}

// NewSQLiteBlockRepo returns a BlockRepository backed by db.
func NewSQLiteBlockRepo(db database.TxQuerier) BlockRepository {
	return &sqliteBlockRepo{db: db}
}

func (r *sqliteBlockRepo) Create(ctx context.Context, blockerID, blockedID int64) error {
	if blockerID == blockedID {
		return fmt.Errorf("%w: cannot block yourself", pkg.ErrBadRequest)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocks (blocker_id, blocked_id) VALUES (?, ?)`, blockerID, blockedID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user already blocked", pkg.ErrAlreadyExists)
		}
		return fmt.Errorf("block create: %w", err)
	}
	return nil
}

func (r *sqliteBlockRepo) Delete(ctx context.Context, blockerID, blockedID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("block delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: block", pkg.ErrNotFound)
	}
	return nil
}

func (r *sqliteBlockRepo) IsBlocked(ctx context.Context, a, b int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM blocks
			WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)
		)`

	var blocked bool
	if err := r.db.QueryRowContext(ctx, query, a, b, b, a).Scan(&blocked); err != nil {
		return false, fmt.Errorf("block lookup: %w", err)
	}
	return blocked, nil
}
