package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timestampLayout has a fixed-width fraction so stored values sort
	// lexically in time order.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

	// legacyTimestampLayout is the layout SQLite's strftime default produces.
	legacyTimestampLayout = "2006-01-02T15:04:05Z"
)

// ErrDeviceRequired is returned when an operation is missing its device.
var ErrDeviceRequired = errors.New("journal: device is required")

// SQLiteRepository implements Repository on the command_log and
// reported_state tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RecordCommand inserts a command entry.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, entry *CommandEntry) error {
	if entry.Device == "" {
		return ErrDeviceRequired
	}
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device, method, request_id, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Device, entry.Method,
		nullableString(entry.RequestID), entry.Status, nullableString(entry.Error),
		entry.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListCommands returns command entries matching filter, newest first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, filter CommandFilter) (*CommandList, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.Method != "" {
		conditions = append(conditions, "method = ?")
		args = append(args, filter.Method)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, device, method, request_id, status, error, created_at FROM command_log %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	commands := []CommandEntry{}
	for rows.Next() {
		var entry CommandEntry
		var requestID, errText sql.NullString
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Device, &entry.Method,
			&requestID, &entry.Status, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		entry.RequestID = requestID.String
		entry.Error = errText.String

		if entry.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		commands = append(commands, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &CommandList{
		Commands: commands,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

// RecordReported stores a reported-state snapshot.
func (r *SQLiteRepository) RecordReported(ctx context.Context, device string, state map[string]any, source string) error {
	if device == "" {
		return ErrDeviceRequired
	}
	if source == "" {
		source = SourceChange
	}
	if state == nil {
		state = map[string]any{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO reported_state (device, state, source, created_at) VALUES (?, ?, ?, ?)",
		device, string(stateJSON), source,
		r.now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting reported state: %w", err)
	}
	return nil
}

// History returns recent reported-state snapshots for device.
func (r *SQLiteRepository) History(ctx context.Context, device string, limit int) ([]ReportedEntry, error) {
	if device == "" {
		return nil, ErrDeviceRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device, state, source, created_at
		 FROM reported_state
		 WHERE device = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		device, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying reported state: %w", err)
	}
	defer rows.Close()

	entries := make([]ReportedEntry, 0, limit)
	for rows.Next() {
		var entry ReportedEntry
		var stateJSON, createdAt string

		if err := rows.Scan(&entry.ID, &entry.Device, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reported state: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		if entry.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reported state: %w", err)
	}

	return entries, nil
}

// Prune deletes entries of both tables older than the retention window.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)

	var removed int64
	for _, table := range []string{"command_log", "reported_state"} {
		result, err := r.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE created_at < ?", //nolint:gosec // table name is a constant
			cutoff,
		)
		if err != nil {
			return removed, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("checking rows affected: %w", err)
		}
		removed += n
	}
	return removed, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// parseTimestamp parses a created_at column.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return t, nil
	}
	if fallback, fallbackErr := time.Parse(legacyTimestampLayout, value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
