package repository

import (
	"context"

	"github.com/serofero/server/models"
)

// MessageRepository persists direct messages.
type MessageRepository interface {
	// Create inserts msg and fills in ID and CreatedAt.
	Create(ctx context.Context, msg *models.Message) error

	// GetByID returns pkg.ErrNotFound when the message does not exist.
	GetByID(ctx context.Context, id int64) (*models.Message, error)

	// UpdateDelivery records a finished upload: media URL, final type and status.
	UpdateDelivery(ctx context.Context, id int64, mediaURL string, msgType models.MessageType, status models.MessageStatus) error

	UpdateStatus(ctx context.Context, id int64, status models.MessageStatus) error
}

// MessageTx runs several message operations as one unit of work. fn gets a
// MessageRepository bound to the transaction; returning an error rolls
// every statement back.
//
//	err := tx.WithMessageTx(ctx, func(repo MessageRepository) error {
//	    if err := repo.UpdateDelivery(ctx, id, url, t, status); err != nil {
//	        return err
//	    }
//	    stored, err = repo.GetByID(ctx, id)
//	    return err
//	})
type MessageTx interface {
	WithMessageTx(ctx context.Context, fn func(repo MessageRepository) error) error
}
