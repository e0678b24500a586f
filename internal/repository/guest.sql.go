package repository

import (
	"context"

	"github.com/google/uuid"
)

const lockGuestConversations = `-- name: LockGuestConversations :many
SELECT id FROM guest_conversations
WHERE session_hash = $1
ORDER BY id
FOR UPDATE
`

// LockGuestConversations row-locks the staging conversations of a session.
// A concurrent migration of the same session blocks here and, once the
// first one commits, sees no rows.
func (q *Queries) LockGuestConversations(ctx context.Context, sessionHash string) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, lockGuestConversations, sessionHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const copyGuestConversations = `-- name: CopyGuestConversations :execrows
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
SELECT id, $2::uuid, title, created_at, updated_at
FROM guest_conversations
WHERE session_hash = $1
`

type CopyGuestConversationsParams struct {
	SessionHash string
	UserID      uuid.UUID
}

func (q *Queries) CopyGuestConversations(ctx context.Context, arg CopyGuestConversationsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, copyGuestConversations, arg.SessionHash, arg.UserID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const moveGuestMessages = `-- name: MoveGuestMessages :execrows
WITH moved AS (
    DELETE FROM guest_messages
    WHERE session_hash = $1
    RETURNING id, conversation_id, role, content, created_at
)
INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
SELECT id, conversation_id, $2::uuid, role, content, created_at
FROM moved
`

type MoveGuestMessagesParams struct {
	SessionHash string
	UserID      uuid.UUID
}

func (q *Queries) MoveGuestMessages(ctx context.Context, arg MoveGuestMessagesParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, moveGuestMessages, arg.SessionHash, arg.UserID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteGuestConversations = `-- name: DeleteGuestConversations :execrows
DELETE FROM guest_conversations WHERE session_hash = $1
`

func (q *Queries) DeleteGuestConversations(ctx context.Context, sessionHash string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteGuestConversations, sessionHash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
