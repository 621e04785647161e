package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/domo4/IoT23-s/internal/infrastructure/database"
	_ "github.com/domo4/IoT23-s/migrations"
)

// setupJournal opens a migrated database in a temp directory.
func setupJournal(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestRecordCommand_FillsIDAndTimestamp(t *testing.T) {
	repo := setupJournal(t)
	ctx := context.Background()

	entry := &CommandEntry{Device: "Device 1", Method: "EmergencyStop", RequestID: "7", Status: 0}
	if err := repo.RecordCommand(ctx, entry); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}
	if len(entry.ID) != len("cmd-")+8 {
		t.Errorf("ID = %q, want cmd- prefix with 8 chars", entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt not filled")
	}

	list, err := repo.ListCommands(ctx, CommandFilter{})
	if err != nil {
		t.Fatalf("ListCommands() error = %v", err)
	}
	if list.Total != 1 || len(list.Commands) != 1 {
		t.Fatalf("total = %d, len = %d, want 1", list.Total, len(list.Commands))
	}
	got := list.Commands[0]
	if got.ID != entry.ID || got.Method != "EmergencyStop" || got.RequestID != "7" {
		t.Errorf("entry = %+v", got)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want empty", got.Error)
	}
	if list.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", list.Limit, defaultLimit)
	}
}

func TestRecordCommand_RequiresDevice(t *testing.T) {
	repo := setupJournal(t)
	err := repo.RecordCommand(context.Background(), &CommandEntry{Method: "EmergencyStop"})
	if !errors.Is(err, ErrDeviceRequired) {
		t.Errorf("error = %v, want ErrDeviceRequired", err)
	}
}

func TestListCommands_FilterAndOrder(t *testing.T) {
	repo := setupJournal(t)
	repo.now = steppingClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	entries := []*CommandEntry{
		{Device: "Device 1", Method: "EmergencyStop"},
		{Device: "Device 1", Method: "ResetErrorStatus", Status: 500, Error: "call failed"},
		{Device: "Device 2", Method: "EmergencyStop"},
	}
	for _, e := range entries {
		if err := repo.RecordCommand(ctx, e); err != nil {
			t.Fatalf("RecordCommand() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  CommandFilter
		total   int
		methods []string
	}{
		{"all newest first", CommandFilter{}, 3, []string{"EmergencyStop", "ResetErrorStatus", "EmergencyStop"}},
		{"by device", CommandFilter{Device: "Device 1"}, 2, []string{"ResetErrorStatus", "EmergencyStop"}},
		{"by method", CommandFilter{Method: "EmergencyStop"}, 2, []string{"EmergencyStop", "EmergencyStop"}},
		{"paged", CommandFilter{Limit: 1, Offset: 1}, 3, []string{"ResetErrorStatus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.ListCommands(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListCommands() error = %v", err)
			}
			if list.Total != tt.total {
				t.Errorf("Total = %d, want %d", list.Total, tt.total)
			}
			if len(list.Commands) != len(tt.methods) {
				t.Fatalf("len = %d, want %d", len(list.Commands), len(tt.methods))
			}
			for i, m := range tt.methods {
				if list.Commands[i].Method != m {
					t.Errorf("Commands[%d].Method = %q, want %q", i, list.Commands[i].Method, m)
				}
			}
		})
	}

	list, err := repo.ListCommands(ctx, CommandFilter{Method: "ResetErrorStatus"})
	if err != nil {
		t.Fatalf("ListCommands() error = %v", err)
	}
	if got := list.Commands[0]; got.Status != 500 || got.Error != "call failed" {
		t.Errorf("failed entry = %+v", got)
	}
}

func TestRecordReported_History(t *testing.T) {
	repo := setupJournal(t)
	repo.now = steppingClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := repo.RecordReported(ctx, "Device 1", map[string]any{"DeviceError": 0, "ProductionRate": 50}, SourceChange); err != nil {
		t.Fatalf("RecordReported() error = %v", err)
	}
	if err := repo.RecordReported(ctx, "Device 1", map[string]any{"ProductionRate": 75}, SourceDesired); err != nil {
		t.Fatalf("RecordReported() error = %v", err)
	}
	if err := repo.RecordReported(ctx, "Device 2", nil, ""); err != nil {
		t.Fatalf("RecordReported() error = %v", err)
	}

	history, err := repo.History(ctx, "Device 1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
	if history[0].Source != SourceDesired {
		t.Errorf("newest source = %q, want %q", history[0].Source, SourceDesired)
	}
	if rate, _ := history[0].State["ProductionRate"].(float64); rate != 75 {
		t.Errorf("ProductionRate = %v, want 75", history[0].State["ProductionRate"])
	}
	if !history[0].CreatedAt.After(history[1].CreatedAt) {
		t.Error("history not ordered newest first")
	}

	other, err := repo.History(ctx, "Device 2", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(other) != 1 || other[0].Source != SourceChange || len(other[0].State) != 0 {
		t.Errorf("defaults not applied: %+v", other)
	}

	if _, err := repo.History(ctx, "", 10); !errors.Is(err, ErrDeviceRequired) {
		t.Errorf("error = %v, want ErrDeviceRequired", err)
	}
}

func TestPrune(t *testing.T) {
	repo := setupJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return base.Add(-48 * time.Hour) }
	if err := repo.RecordReported(ctx, "Device 1", map[string]any{"ProductionRate": 10}, SourceChange); err != nil {
		t.Fatalf("RecordReported() error = %v", err)
	}
	if err := repo.RecordCommand(ctx, &CommandEntry{Device: "Device 1", Method: "EmergencyStop"}); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}

	repo.now = func() time.Time { return base }
	if err := repo.RecordReported(ctx, "Device 1", map[string]any{"ProductionRate": 20}, SourceChange); err != nil {
		t.Fatalf("RecordReported() error = %v", err)
	}

	removed, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"2026-10-01T12:00:00.000000000Z", false},
		{"2026-10-01T12:00:00Z", false},
		{"", true},
		{"yesterday", true},
	}
	for _, tt := range tests {
		_, err := parseTimestamp(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimestamp(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}
