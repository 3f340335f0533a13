package database

import (
	"context"
	"time"

	"github.com/Jywan/PBX/internal/database/models"
	"github.com/google/uuid"
)

// CallRepository manages calls and their raw event log. Every operation is
// one short statement on the shared pool and is safe to call concurrently.
type CallRepository interface {
	// EnsureCall inserts a new calls row with status "new" unless a row
	// with that id already exists.
	EnsureCall(ctx context.Context, id uuid.UUID, callerExten, calleeExten, callerChannelID *string) error

	// AddEvent appends one call_events row. Rows are never updated.
	AddEvent(ctx context.Context, ev *models.CallEvent) error

	// MarkBridged records a successful two-party bridge: both channel ids,
	// the bridge id, status "up" and answered_at.
	MarkBridged(ctx context.Context, id uuid.UUID, bridgeID, callerChannelID, calleeChannelID string) error

	// MarkFailed records a bridge-setup failure.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// MarkEnded records the hangup. A nil endedAt defaults to now; nil
	// cause/reason keep whatever the row already holds.
	MarkEnded(ctx context.Context, id uuid.UUID, endedAt *time.Time, cause *int, reason *string) error

	GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error)
	ListRecentCalls(ctx context.Context, limit int) ([]models.Call, error)
	ListEventsByCall(ctx context.Context, id uuid.UUID) ([]models.CallEvent, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
