package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/domo4/IoT23-s/internal/api"
	"github.com/domo4/IoT23-s/internal/bridge"
	"github.com/domo4/IoT23-s/internal/infrastructure/config"
	"github.com/domo4/IoT23-s/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_MissingConfig verifies a missing file prints guidance and exits cleanly.
func TestRun_MissingConfig(t *testing.T) {
	var out bytes.Buffer
	opts := &cliOptions{configPath: "/nonexistent/path/config.yaml"}

	if err := run(context.Background(), opts, strings.NewReader(""), &out); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if !strings.Contains(out.String(), "/nonexistent/path/config.yaml") {
		t.Errorf("guidance should name the missing file, got %q", out.String())
	}
}

func TestRun_MissingLegacyConfig(t *testing.T) {
	var out bytes.Buffer
	opts := &cliOptions{configPath: defaultConfigPath, legacyPath: "/nonexistent/legacy.txt"}

	if err := run(context.Background(), opts, strings.NewReader(""), &out); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if !strings.Contains(out.String(), "/nonexistent/legacy.txt") {
		t.Errorf("guidance should name the legacy file, got %q", out.String())
	}
}

func TestRun_MissingDevicesFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.txt")
	path := writeConfig(t, "config.yaml", "devices_file: \""+missing+"\"\n")

	var out bytes.Buffer
	err := run(context.Background(), &cliOptions{configPath: path}, strings.NewReader(""), &out)
	if !errors.Is(err, config.ErrDevicesFile) {
		t.Fatalf("run() error = %v, want ErrDevicesFile", err)
	}
	if strings.Contains(out.String(), "No configuration found") {
		t.Errorf("missing devices file printed setup guidance: %q", out.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", "bridge:\n  selection: random\n")

	err := run(context.Background(), &cliOptions{configPath: path}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() should fail with an invalid config")
	}
	if !strings.Contains(err.Error(), "bridge.selection") {
		t.Errorf("error = %v, want mention of bridge.selection", err)
	}
}

func TestLoadConfig_DeviceFlag(t *testing.T) {
	path := writeConfig(t, "legacy.txt", "Device 1:HostName=h;DeviceId=d1;SharedAccessKey=k\n")

	cfg, err := loadConfig(&cliOptions{legacyPath: path, device: "Device 1"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Bridge.Device != "Device 1" || cfg.Bridge.Selection != config.SelectionConfigured {
		t.Errorf("bridge = %+v, want configured Device 1", cfg.Bridge)
	}
	if _, ok := cfg.Credential("Device 1"); !ok {
		t.Error("credential for Device 1 missing")
	}
}

func TestDevicesCommand_Credentials(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bridge:
  device_list: credentials
devices:
  "Device 2": "HostName=h;DeviceId=d2;SharedAccessKey=k"
  "Device 1": "HostName=h;DeviceId=d1;SharedAccessKey=k"
logging:
  level: error
  format: text
`)

	var out bytes.Buffer
	cmd := newRootCommand(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"devices", "--config", path})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("devices error = %v", err)
	}
	if got := out.String(); got != "Device 1\nDevice 2\n" {
		t.Errorf("output = %q, want sorted device list", got)
	}
}

type fakeBrowser struct {
	children   []string
	connectErr error
	closed     bool
}

func (b *fakeBrowser) Connect(context.Context) error { return b.connectErr }

func (b *fakeBrowser) Close(context.Context) error {
	b.closed = true
	return nil
}

func (b *fakeBrowser) ListChildren(_ context.Context, root string) ([]string, error) {
	if root != "" {
		return nil, fmt.Errorf("unexpected root %q", root)
	}
	return b.children, nil
}

func TestBrowseDevices(t *testing.T) {
	b := &fakeBrowser{children: []string{"Server", "Device 1", "Device 2"}}

	got, err := browseDevices(context.Background(), b)
	if err != nil {
		t.Fatalf("browseDevices() error = %v", err)
	}
	if strings.Join(got, ",") != "Device 1,Device 2" {
		t.Errorf("devices = %v", got)
	}
	if !b.closed {
		t.Error("endpoint should be closed after browsing")
	}
}

func TestBrowseDevices_ConnectFailure(t *testing.T) {
	b := &fakeBrowser{connectErr: errors.New("connection refused")}
	if _, err := browseDevices(context.Background(), b); err == nil {
		t.Error("browseDevices() should fail when connect fails")
	}
}

func TestHandleStartupFailure(t *testing.T) {
	connErr := fmt.Errorf("%w: dial tcp: connection refused", bridge.ErrConnection)
	cfgErr := fmt.Errorf("%w: no credential for device", bridge.ErrConfig)

	tests := []struct {
		name    string
		mode    string
		err     error
		wantErr bool
	}{
		{"connection failure exits", config.OnConnectFailureExit, connErr, true},
		{"connection failure idles", config.OnConnectFailureIdle, connErr, false},
		{"config failure never idles", config.OnConnectFailureIdle, cfgErr, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := handleStartupFailure(ctx, tt.mode, logging.Discard(), tt.err)
			if (err != nil) != tt.wantErr {
				t.Errorf("handleStartupFailure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBridgeOptions(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bridge:
  device: "Device 3"
  selection: configured
telemetry:
  interval: 1500
router:
  workers: 2
  queue_size: 8
commands:
  report_failures: true
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	opts := bridgeOptions(cfg)
	if opts.Selection != bridge.SelectConfigured || opts.Device != "Device 3" {
		t.Errorf("selection = %q device = %q", opts.Selection, opts.Device)
	}
	if opts.TelemetryInterval.Milliseconds() != 1500 {
		t.Errorf("TelemetryInterval = %v, want 1.5s", opts.TelemetryInterval)
	}
	if opts.RouterWorkers != 2 || opts.RouterQueue != 8 || !opts.ReportCommandFailures {
		t.Errorf("router/commands options = %+v", opts)
	}
	if !opts.TelemetryEnabled || !opts.TwinSyncEnabled {
		t.Error("telemetry and twin sync should default to enabled")
	}
}

func TestTokenCommand(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	path := writeConfig(t, "config.yaml", "api:\n  jwt_secret: \""+secret+"\"\n")

	var out bytes.Buffer
	cmd := newRootCommand(strings.NewReader(""), &out)
	cmd.SetArgs([]string{"token", "--config", path, "--subject", "grafana", "--ttl", "1h"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := api.ParseToken(strings.TrimSpace(out.String()), secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "grafana" {
		t.Errorf("subject = %q, want grafana", claims.Subject)
	}
}

func TestTokenCommand_NoSecret(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: error\n")

	cmd := newRootCommand(strings.NewReader(""), &bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", path})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("token should fail without api.jwt_secret")
	}
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := writeConfig(t, "config.yaml", fmt.Sprintf("database:\n  enabled: true\n  path: %q\n", dbPath))

	migrate := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := newRootCommand(strings.NewReader(""), &out)
		cmd.SetArgs(append([]string{"migrate", "--config", path}, args...))
		if err := cmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("migrate %v error = %v", args, err)
		}
		return out.String()
	}

	up := migrate()
	if strings.Contains(up, "pending") || strings.Count(up, "applied") != 2 {
		t.Errorf("after migrate:\n%s", up)
	}

	down := migrate("--down")
	if strings.Count(down, "applied") != 1 || !strings.Contains(down, "pending  20261001_091500  create_reported_state") {
		t.Errorf("after migrate --down:\n%s", down)
	}
}

func TestMigrateCommand_DatabaseDisabled(t *testing.T) {
	path := writeConfig(t, "config.yaml", "database:\n  enabled: false\n")

	cmd := newRootCommand(strings.NewReader(""), &bytes.Buffer{})
	cmd.SetArgs([]string{"migrate", "--config", path})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("migrate should fail when the database is disabled")
	}
}
