package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avolkov/wirechat/internal/errs"
	"github.com/avolkov/wirechat/internal/model"
)

// MembershipRepo implements MembershipRepository using PostgreSQL.
type MembershipRepo struct{ db *DB }

// NewMembershipRepo constructs a membership repository.
func NewMembershipRepo(db *DB) *MembershipRepo { return &MembershipRepo{db: db} }

// Role returns the principal's role; errs.ErrNotFound when not a member.
func (r *MembershipRepo) Role(ctx context.Context, conversationID, principalID uuid.UUID) (model.Role, error) {
	const q = `SELECT role FROM memberships WHERE conversation_id=$1 AND principal_id=$2`
	var role model.Role
	if err := r.db.Pool.QueryRow(ctx, q, conversationID, principalID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", storageErr("membership role", err)
	}
	return role, nil
}

// ListMembers returns all member principal IDs of a conversation.
func (r *MembershipRepo) ListMembers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT principal_id FROM memberships WHERE conversation_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, storageErr("list members", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, storageErr("list members", err)
		}
		out = append(out, id)
	}
	return out, storageErr("list members", rows.Err())
}

// ListConversations returns every conversation the principal belongs to.
func (r *MembershipRepo) ListConversations(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT conversation_id FROM memberships WHERE principal_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, principalID)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, storageErr("list conversations", err)
		}
		out = append(out, id)
	}
	return out, storageErr("list conversations", rows.Err())
}

// Add inserts a membership if absent. The member count is checked under
// FOR UPDATE of the conversation row so two concurrent adds cannot both
// slip past the cap.
func (r *MembershipRepo) Add(
	ctx context.Context, conversationID, principalID uuid.UUID, role model.Role,
) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("add member", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = storageErr("add member", e)
		}
	}()

	const lock = `SELECT type FROM conversations WHERE id=$1 FOR UPDATE`
	const cnt = `SELECT COUNT(*) FROM memberships WHERE conversation_id=$1`
	const ins = `INSERT INTO memberships (conversation_id, principal_id, role)
VALUES ($1,$2,$3) ON CONFLICT (conversation_id, principal_id) DO NOTHING`

	var ctype model.ConversationType
	if err = tx.QueryRow(ctx, lock, conversationID).Scan(&ctype); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return storageErr("add member", err)
	}
	if ctype == model.ConversationDirect {
		return fmt.Errorf("direct conversation membership is immutable: %w", errs.ErrValidationFailed)
	}

	var n int
	if err = tx.QueryRow(ctx, cnt, conversationID).Scan(&n); err != nil {
		return storageErr("add member", err)
	}
	if n >= model.MaxGroupMembers {
		return fmt.Errorf("member limit %d reached: %w", model.MaxGroupMembers, errs.ErrValidationFailed)
	}

	if _, err = tx.Exec(ctx, ins, conversationID, principalID, role); err != nil {
		return storageErr("add member", err)
	}
	return nil
}

// Remove deletes a membership row; no error if it was already gone.
func (r *MembershipRepo) Remove(ctx context.Context, conversationID, principalID uuid.UUID) error {
	const q = `DELETE FROM memberships WHERE conversation_id=$1 AND principal_id=$2`
	if _, err := r.db.Pool.Exec(ctx, q, conversationID, principalID); err != nil {
		return storageErr("remove member", err)
	}
	return nil
}
