package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
)

// ConversationRepo implements ConversationRepository using PostgreSQL.
type ConversationRepo struct{ db *DB }

// NewConversationRepo constructs a conversation repository.
func NewConversationRepo(db *DB) *ConversationRepo { return &ConversationRepo{db: db} }

// directKey normalizes a principal pair so (a,b) and (b,a) map to one key.
func directKey(a, b uuid.UUID) string {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

const convCols = `id, type, name, created_by, last_activity, created_at`

func scanConversation(row pgx.Row) (model.Conversation, error) {
	var c model.Conversation
	var createdBy *uuid.UUID
	err := row.Scan(&c.ID, &c.Type, &c.Name, &createdBy, &c.LastActivity, &c.CreatedAt)
	if err != nil {
		return model.Conversation{}, err
	}
	if createdBy != nil {
		c.CreatedBy = *createdBy
	}
	return c, nil
}

// Get returns a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	q := `SELECT ` + convCols + ` FROM conversations WHERE id=$1`
	c, err := scanConversation(r.db.Pool.QueryRow(ctx, q, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("get conversation", err)
	}
	return &c, nil
}

// CreateDirect returns the unique direct conversation for the pair, creating
// it (with both immutable member rows) on first request. A lost insert race
// falls back to the winner's row.
func (r *ConversationRepo) CreateDirect(ctx context.Context, a, b uuid.UUID) (model.Conversation, error) {
	if a == b {
		return model.Conversation{}, fmt.Errorf("direct conversation with self: %w", errs.ErrValidationFailed)
	}
	key := directKey(a, b)

	sel := `SELECT ` + convCols + ` FROM conversations WHERE direct_key=$1`
	conv, err := scanConversation(r.db.Pool.QueryRow(ctx, sel, key))
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, storageErr("create direct", err)
	}

	conv, err = r.insertDirect(ctx, key, a, b)
	if err == nil {
		return conv, nil
	}
	if !isUniqueViolation(err) {
		return model.Conversation{}, storageErr("create direct", err)
	}

	// lost the insert race; the winner's row is committed and visible
	conv, err = scanConversation(r.db.Pool.QueryRow(ctx, sel, key))
	if err != nil {
		return model.Conversation{}, storageErr("create direct", err)
	}
	return conv, nil
}

// insertDirect creates the conversation plus both member rows in one tx.
// Errors come back unwrapped so the caller can detect a unique-key race.
func (r *ConversationRepo) insertDirect(ctx context.Context, key string, a, b uuid.UUID) (conv model.Conversation, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Conversation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	id, err := uuid.NewV7()
	if err != nil {
		return model.Conversation{}, err
	}
	ins := `INSERT INTO conversations (id, type, direct_key) VALUES ($1,'direct',$2) RETURNING ` + convCols
	conv, err = scanConversation(tx.QueryRow(ctx, ins, id, key))
	if err != nil {
		return model.Conversation{}, err
	}

	const mem = `INSERT INTO memberships (conversation_id, principal_id, role) VALUES ($1,$2,'member')`
	for _, p := range []uuid.UUID{a, b} {
		if _, err = tx.Exec(ctx, mem, id, p); err != nil {
			return model.Conversation{}, err
		}
	}
	return conv, nil
}

// CreateGroup creates a group conversation with the creator as first member.
func (r *ConversationRepo) CreateGroup(ctx context.Context, name string, creator uuid.UUID) (conv model.Conversation, err error) {
	if name == "" {
		return model.Conversation{}, fmt.Errorf("empty group name: %w", errs.ErrValidationFailed)
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Conversation{}, storageErr("create group", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = storageErr("create group", e)
		}
	}()

	id, err := uuid.NewV7()
	if err != nil {
		return model.Conversation{}, err
	}
	ins := `INSERT INTO conversations (id, type, name, created_by) VALUES ($1,'group',$2,$3) RETURNING ` + convCols
	conv, err = scanConversation(tx.QueryRow(ctx, ins, id, name, creator))
	if err != nil {
		return model.Conversation{}, storageErr("create group", err)
	}
	const mem = `INSERT INTO memberships (conversation_id, principal_id, role) VALUES ($1,$2,'creator')`
	if _, err = tx.Exec(ctx, mem, id, creator); err != nil {
		return model.Conversation{}, storageErr("create group", err)
	}
	return conv, nil
}

// Rename updates a group conversation's name.
func (r *ConversationRepo) Rename(ctx context.Context, conversationID uuid.UUID, name string) error {
	if name == "" {
		return fmt.Errorf("empty group name: %w", errs.ErrValidationFailed)
	}
	const q = `UPDATE conversations SET name=$2 WHERE id=$1 AND type='group'`
	tag, err := r.db.Pool.Exec(ctx, q, conversationID, name)
	if err != nil {
		return storageErr("rename conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the conversation; memberships, messages and reactions go
// with it via ON DELETE CASCADE.
func (r *ConversationRepo) Delete(ctx context.Context, conversationID uuid.UUID) error {
	const q = `DELETE FROM conversations WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, conversationID)
	if err != nil {
		return storageErr("delete conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
