package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Insert appends the message and touches the conversation's last-activity
// timestamp in the same transaction.
func (r *MessageRepo) Insert(ctx context.Context, m model.Message) (out model.Message, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Message{}, storageErr("insert message", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = storageErr("insert message", e)
		}
	}()

	const ins = `INSERT INTO messages (id, conversation_id, sender_id, content, content_type, media_ref)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`
	const touch = `UPDATE conversations SET last_activity=now() WHERE id=$1`

	out = m
	if err = tx.QueryRow(ctx, ins,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.ContentType, m.MediaRef,
	).Scan(&out.CreatedAt); err != nil {
		return model.Message{}, storageErr("insert message", err)
	}
	if _, err = tx.Exec(ctx, touch, m.ConversationID); err != nil {
		return model.Message{}, storageErr("insert message", err)
	}
	return out, nil
}

// Get returns a single message by id.
func (r *MessageRepo) Get(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	const q = `
SELECT id, conversation_id, sender_id, content, content_type, media_ref, deleted, created_at
FROM messages WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, messageID)
	var m model.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
		&m.ContentType, &m.MediaRef, &m.Deleted, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("get message", err)
	}
	return &m, nil
}

// SoftDelete swaps content for the placeholder and sets the tombstone.
// A second call is a no-op that returns the already-deleted row.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID uuid.UUID) (model.Message, error) {
	const q = `
UPDATE messages SET content=$2, media_ref='', deleted=true
WHERE id=$1
RETURNING id, conversation_id, sender_id, content, content_type, media_ref, deleted, created_at`
	row := r.db.Pool.QueryRow(ctx, q, messageID, model.DeletedPlaceholder)
	var m model.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
		&m.ContentType, &m.MediaRef, &m.Deleted, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, errs.ErrNotFound
		}
		return model.Message{}, storageErr("soft delete", err)
	}
	return m, nil
}

// AddReaction inserts a reaction row; reports false when it already existed.
func (r *MessageRepo) AddReaction(ctx context.Context, re model.Reaction) (bool, error) {
	const q = `INSERT INTO reactions (message_id, principal_id, symbol)
VALUES ($1,$2,$3) ON CONFLICT (message_id, principal_id, symbol) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q, re.MessageID, re.PrincipalID, re.Symbol)
	if err != nil {
		return false, storageErr("add reaction", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveReaction deletes a reaction row; reports false when none existed.
func (r *MessageRepo) RemoveReaction(ctx context.Context, re model.Reaction) (bool, error) {
	const q = `DELETE FROM reactions WHERE message_id=$1 AND principal_id=$2 AND symbol=$3`
	tag, err := r.db.Pool.Exec(ctx, q, re.MessageID, re.PrincipalID, re.Symbol)
	if err != nil {
		return false, storageErr("remove reaction", err)
	}
	return tag.RowsAffected() > 0, nil
}
