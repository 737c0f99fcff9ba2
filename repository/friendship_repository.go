package repository

import "context"

// FriendshipRepository answers friendship questions. Rows are stored in one
// direction; lookups match either direction.
type FriendshipRepository interface {
	// Create records an accepted friendship between the two users.
	Create(ctx context.Context, userID, friendID int64) error

	AreFriends(ctx context.Context, a, b int64) (bool, error)
}
