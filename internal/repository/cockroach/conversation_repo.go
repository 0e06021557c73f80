package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
)

// ConversationRepository resolves conversation membership for group calls
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// GetMemberIDs returns the user ids belonging to a conversation.
// An unknown conversation returns NOT_FOUND.
func (r *ConversationRepository) GetMemberIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE conversation_id = $1)`,
		conversationID,
	).Scan(&exists)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to check conversation: %w", err))
	}
	if !exists {
		return nil, apperrors.NotFoundError("conversation")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`,
		conversationID,
	)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get conversation members: %w", err))
	}
	defer rows.Close()

	var memberIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to scan member: %w", err))
		}
		memberIDs = append(memberIDs, id)
	}

	return memberIDs, rows.Err()
}
