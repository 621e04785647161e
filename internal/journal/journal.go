// Package journal keeps a local record of bridge activity in SQLite: the
// direct methods served for a device and the reported-state snapshots
// pushed to the cloud.
package journal

import (
	"context"
	"time"
)

// Reported state sources.
const (
	// SourceChange marks a push triggered by a subscription notification.
	SourceChange = "change"
	// SourceDesired marks a push that follows a desired-state write.
	SourceDesired = "desired"
)

// CommandEntry is one served direct method.
type CommandEntry struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Method    string    `json:"method"`
	RequestID string    `json:"request_id,omitempty"`
	Status    int       `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandFilter controls which command entries to return.
type CommandFilter struct {
	Device string // optional
	Method string // optional
	Limit  int    // default 50, max 200
	Offset int
}

// CommandList is a page of command entries.
type CommandList struct {
	Commands []CommandEntry `json:"commands"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// ReportedEntry is one reported-state snapshot.
type ReportedEntry struct {
	ID        int64          `json:"id"`
	Device    string         `json:"device"`
	State     map[string]any `json:"state"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// Repository stores and retrieves bridge activity.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	// RecordCommand inserts a command entry. ID and CreatedAt are filled
	// when empty.
	RecordCommand(ctx context.Context, entry *CommandEntry) error

	// ListCommands returns command entries, newest first.
	ListCommands(ctx context.Context, filter CommandFilter) (*CommandList, error)

	// RecordReported stores a reported-state snapshot for device.
	RecordReported(ctx context.Context, device string, state map[string]any, source string) error

	// History returns the most recent reported-state snapshots for device,
	// newest first.
	History(ctx context.Context, device string, limit int) ([]ReportedEntry, error)
}
