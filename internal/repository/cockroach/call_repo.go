package cockroach

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
)

// CallRepository persists call session records.
//
// Schema (calls table): session_id UUID PK, call_type, conversation_id,
// initiated_by, status, media_session_id, participants JSONB (inverted index
// for membership queries), started_at, ended_at, version INT. The version
// column guards every read-modify-write.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a new call record at version 1
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	participants, err := json.Marshal(call.Participants)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to marshal participants: %w", err))
	}

	query := `
		INSERT INTO calls (
			session_id, call_type, conversation_id, initiated_by, status,
			media_session_id, participants, started_at, ended_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
	`

	_, err = r.pool.Exec(ctx, query,
		call.SessionID,
		call.CallType,
		call.ConversationID,
		call.InitiatedBy,
		call.Status,
		call.MediaSessionID,
		participants,
		call.StartedAt,
		call.EndedAt,
	)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to create call: %w", err))
	}

	call.Version = 1
	return nil
}

// GetBySessionID retrieves a call by its session id
func (r *CallRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT session_id, call_type, conversation_id, initiated_by, status,
		       media_session_id, participants, started_at, ended_at, version
		FROM calls
		WHERE session_id = $1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFoundError("call")
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get call: %w", err))
	}

	return call, nil
}

// UpdateVersioned writes the call only if the stored version still equals
// expectedVersion, bumping the version on success. A lost race returns a
// CONFLICT error and the caller re-reads and retries.
func (r *CallRepository) UpdateVersioned(ctx context.Context, call *domain.Call, expectedVersion int64) error {
	participants, err := json.Marshal(call.Participants)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to marshal participants: %w", err))
	}

	query := `
		UPDATE calls
		SET status = $2,
		    media_session_id = $3,
		    participants = $4,
		    ended_at = $5,
		    version = version + 1
		WHERE session_id = $1 AND version = $6
	`

	tag, err := r.pool.Exec(ctx, query,
		call.SessionID,
		call.Status,
		call.MediaSessionID,
		participants,
		call.EndedAt,
		expectedVersion,
	)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to update call: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ConflictError("call record was modified concurrently")
	}

	call.Version = expectedVersion + 1
	return nil
}

// GetUserCalls retrieves calls the user initiated or participated in,
// newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	membership, err := json.Marshal([]map[string]string{{"user_id": userID.String()}})
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	query := `
		SELECT session_id, call_type, conversation_id, initiated_by, status,
		       media_session_id, participants, started_at, ended_at, version
		FROM calls
		WHERE initiated_by = $1 OR participants @> $2::JSONB
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, userID, string(membership), limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get user calls: %w", err))
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to scan call: %w", err))
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	var participants []byte

	err := row.Scan(
		&call.SessionID,
		&call.CallType,
		&call.ConversationID,
		&call.InitiatedBy,
		&call.Status,
		&call.MediaSessionID,
		&participants,
		&call.StartedAt,
		&call.EndedAt,
		&call.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(participants, &call.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}

	return call, nil
}
