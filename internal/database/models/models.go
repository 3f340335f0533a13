// Package models holds the persisted call-record types.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Call statuses. A call starts as new, moves to up on a successful
// two-party bridge, and terminates as ended or failed.
const (
	CallStatusNew    = "new"
	CallStatusUp     = "up"
	CallStatusEnded  = "ended"
	CallStatusFailed = "failed"
)

// DirectionInternal marks an extension-to-extension call.
const DirectionInternal = "internal"

// Call is one logical internal call. Nullable columns are pointers.
type Call struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	CallerExten     *string
	CalleeExten     *string
	CallerChannelID *string
	CalleeChannelID *string
	BridgeID        *string
	StartedAt       *time.Time
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	HangupCause     *int
	HangupReason    *string
	Direction       string
	Status          string
}

// CallEvent is one appended row of the raw event audit log. CallID is nil
// for events that arrive before or after a channel mapping exists.
type CallEvent struct {
	ID        int64
	CallID    *uuid.UUID
	TS        *time.Time
	Type      *string
	ChannelID *string
	BridgeID  *string
	Raw       string // opaque JSON as received
	CreatedAt time.Time
}
