package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Jywan/PBX/internal/database/models"
	"github.com/google/uuid"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

// EnsureCall inserts a new calls row unless one exists. Concurrent inserts
// for the same id collapse into a single row.
func (r *callRepo) EnsureCall(ctx context.Context, id uuid.UUID, callerExten, calleeExten, callerChannelID *string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (id, created_at, caller_exten, callee_exten, caller_channel_id,
		 started_at, direction, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		id, now, callerExten, calleeExten, callerChannelID,
		now, models.DirectionInternal, models.CallStatusNew,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// AddEvent appends one event row.
func (r *callRepo) AddEvent(ctx context.Context, ev *models.CallEvent) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_events (call_id, ts, type, channel_id, bridge_id, raw, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.CallID, ev.TS, ev.Type, ev.ChannelID, ev.BridgeID, ev.Raw, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting call event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// MarkBridged moves the call to "up".
func (r *callRepo) MarkBridged(ctx context.Context, id uuid.UUID, bridgeID, callerChannelID, calleeChannelID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET bridge_id = $2, caller_channel_id = $3, callee_channel_id = $4,
		 status = $5, answered_at = $6
		 WHERE id = $1`,
		id, bridgeID, callerChannelID, calleeChannelID, models.CallStatusUp, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("marking call bridged: %w", err)
	}
	return nil
}

// MarkFailed moves the call to "failed".
func (r *callRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = $2, hangup_reason = $3, ended_at = $4
		 WHERE id = $1`,
		id, models.CallStatusFailed, reason, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("marking call failed: %w", err)
	}
	return nil
}

// MarkEnded moves the call to "ended". Nil cause/reason leave the stored
// values untouched so a repeated hangup cannot erase them.
func (r *callRepo) MarkEnded(ctx context.Context, id uuid.UUID, endedAt *time.Time, cause *int, reason *string) error {
	at := time.Now()
	if endedAt != nil {
		at = *endedAt
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status = $2, ended_at = $3,
		 hangup_cause = COALESCE($4, hangup_cause),
		 hangup_reason = COALESCE($5, hangup_reason)
		 WHERE id = $1`,
		id, models.CallStatusEnded, at, cause, reason,
	)
	if err != nil {
		return fmt.Errorf("marking call ended: %w", err)
	}
	return nil
}

const callColumns = `id, created_at, caller_exten, callee_exten, caller_channel_id,
	 callee_channel_id, bridge_id, started_at, answered_at, ended_at,
	 hangup_cause, hangup_reason, direction, status`

// GetCall returns a call by id, or nil if it does not exist.
func (r *callRepo) GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id)

	c, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return c, nil
}

// ListRecentCalls returns the most recently created calls up to limit.
func (r *callRepo) ListRecentCalls(ctx context.Context, limit int) ([]models.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, nil
}

// ListEventsByCall returns the audit log of one call in append order.
func (r *callRepo) ListEventsByCall(ctx context.Context, id uuid.UUID) ([]models.CallEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, ts, type, channel_id, bridge_id, raw, created_at
		 FROM call_events WHERE call_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("listing call events: %w", err)
	}
	defer rows.Close()

	var events []models.CallEvent
	for rows.Next() {
		var ev models.CallEvent
		var callID uuid.NullUUID
		if err := rows.Scan(&ev.ID, &callID, &ev.TS, &ev.Type, &ev.ChannelID,
			&ev.BridgeID, &ev.Raw, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call event row: %w", err)
		}
		if callID.Valid {
			ev.CallID = &callID.UUID
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call event rows: %w", err)
	}

	return events, nil
}

// CountByStatus returns call counts grouped by status.
func (r *callRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}

	return counts, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCall(s scanner) (*models.Call, error) {
	var c models.Call
	err := s.Scan(&c.ID, &c.CreatedAt, &c.CallerExten, &c.CalleeExten,
		&c.CallerChannelID, &c.CalleeChannelID, &c.BridgeID,
		&c.StartedAt, &c.AnsweredAt, &c.EndedAt,
		&c.HangupCause, &c.HangupReason, &c.Direction, &c.Status)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
