package repository

import "context"

// BlockRepository manages user blocks. A block is directional when stored
// but IsBlocked treats it as mutual: either side blocking forbids contact.
type BlockRepository interface {
	Create(ctx context.Context, blockerID, blockedID int64) error
	Delete(ctx context.Context, blockerID, blockedID int64) error

	// IsBlocked reports whether a blocked b or b blocked a.
	IsBlocked(ctx context.Context, a, b int64) (bool, error)
}
