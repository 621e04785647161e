package config

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadLegacy_Positional(t *testing.T) {
	content := `# bridge settings
opc.tcp://192.168.0.10:4840/
3000
250
# devices
Device 1:HostName=hub.azure-devices.net;DeviceId=dev1;SharedAccessKey=a2V5==
Device 2:HostName=hub.azure-devices.net;DeviceId=dev2;SharedAccessKey=b2V5==
`
	cfg, err := LoadLegacy(writeFile(t, "config.txt", content))
	if err != nil {
		t.Fatalf("LoadLegacy() error = %v", err)
	}

	if cfg.OPCUA.Endpoint != "opc.tcp://192.168.0.10:4840/" {
		t.Errorf("Endpoint = %q", cfg.OPCUA.Endpoint)
	}
	if cfg.Telemetry.Interval != 3000 {
		t.Errorf("Telemetry.Interval = %d, want 3000", cfg.Telemetry.Interval)
	}
	if cfg.Subscription.PublishingInterval != 250 {
		t.Errorf("PublishingInterval = %d, want 250", cfg.Subscription.PublishingInterval)
	}

	cred, ok := cfg.Credential("Device 1")
	if !ok {
		t.Fatal("Device 1 missing")
	}
	if cred != "HostName=hub.azure-devices.net;DeviceId=dev1;SharedAccessKey=a2V5==" {
		t.Errorf("credential was not split on the first colon only: %q", cred)
	}
}

func TestLoadLegacy_Keyed(t *testing.T) {
	content := `address=opc.tcp://plc:4840/
telemetry_interval=1000
publishing_interval=100
Line A:HostName=h;DeviceId=a;SharedAccessKey=k
`
	cfg, err := LoadLegacy(writeFile(t, "config.txt", content))
	if err != nil {
		t.Fatalf("LoadLegacy() error = %v", err)
	}
	if cfg.OPCUA.Endpoint != "opc.tcp://plc:4840/" || cfg.Telemetry.Interval != 1000 || cfg.Subscription.PublishingInterval != 100 {
		t.Errorf("unexpected header values: %+v %+v %+v", cfg.OPCUA, cfg.Telemetry, cfg.Subscription)
	}
}

func TestLoadLegacy_DevicesOnlyKeepsDefaults(t *testing.T) {
	cfg, err := LoadLegacy(writeFile(t, "config.txt", "Device 1:HostName=h;DeviceId=d;SharedAccessKey=k\n"))
	if err != nil {
		t.Fatalf("LoadLegacy() error = %v", err)
	}
	if cfg.OPCUA.Endpoint != "opc.tcp://localhost:4840/" {
		t.Errorf("Endpoint = %q, want default", cfg.OPCUA.Endpoint)
	}
	if cfg.Telemetry.Interval != 2000 {
		t.Errorf("Telemetry.Interval = %d, want default 2000", cfg.Telemetry.Interval)
	}
}

func TestLoadLegacy_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"malformed device line", "just-a-name\n", "line 1"},
		{"empty credential", "Device 1:\n", "line 1"},
		{"too many numbers", "1\n2\n3\nD:c\n", "line 3"},
		{"bad keyed interval", "telemetry_interval=fast\nD:c\n", "line 1"},
		{"no devices", "# nothing\n", "no device entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadLegacy(writeFile(t, "config.txt", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadLegacy() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadLegacy_MissingFile(t *testing.T) {
	_, err := LoadLegacy("/nonexistent/config.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadLegacy() error = %v, want ErrNotFound", err)
	}
}
