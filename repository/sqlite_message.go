package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/serofero/server/database"
	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

type sqliteMessageRepo struct {
	db database.TxQuerier
}

// NewSQLiteMessageRepo returns a MessageRepository backed by db.
func NewSQLiteMessageRepo(db database.TxQuerier) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

type sqliteMessageTx struct {
	db *sql.DB
}

// NewSQLiteMessageTx returns a MessageTx that opens a transaction on db and
// hands fn a repository bound to it.
func NewSQLiteMessageTx(db *sql.DB) MessageTx {
	return &sqliteMessageTx{db: db}
}

func (t *sqliteMessageTx) WithMessageTx(ctx context.Context, fn func(repo MessageRepository) error) error {
	return database.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		return fn(NewSQLiteMessageRepo(tx))
	})
}

func (r *sqliteMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (content, sender_id, receiver_id, message_type, media_url, status, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		msg.Content,
		msg.SenderID,
		msg.ReceiverID,
		msg.MessageType,
		msg.MediaURL,
		msg.Status,
		msg.IsRead,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("message create: %w", err)
	}
	return nil
}

func (r *sqliteMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, content, sender_id, receiver_id, message_type, media_url, status, is_read, created_at
		FROM messages WHERE id = ?`

	var m models.Message
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Content, &m.SenderID, &m.ReceiverID, &m.MessageType,
		&m.MediaURL, &m.Status, &m.IsRead, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %d", pkg.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("message get by id: %w", err)
	}
	return &m, nil
}

func (r *sqliteMessageRepo) UpdateDelivery(ctx context.Context, id int64, mediaURL string, msgType models.MessageType, status models.MessageStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET media_url = ?, message_type = ?, status = ? WHERE id = ?`,
		mediaURL, msgType, status, id)
	if err != nil {
		return fmt.Errorf("message update delivery: %w", err)
	}
	return requireAffected(res, "message", id)
}

func (r *sqliteMessageRepo) UpdateStatus(ctx context.Context, id int64, status models.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("message update status: %w", err)
	}
	return requireAffected(res, "message", id)
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", entity, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", pkg.ErrNotFound, entity, id)
	}
	return nil
}
