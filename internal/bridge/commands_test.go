package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/domo4/IoT23-s/internal/iothub"
)

func newTestDispatcher(t *testing.T, ep *mockEndpoint, reportFailures bool, j Journal, sleep SleepFunc) *CommandDispatcher {
	t.Helper()
	d, err := NewCommandDispatcher(CommandDispatcherConfig{
		Device:         testDevice,
		Endpoint:       ep,
		ReportFailures: reportFailures,
		Journal:        j,
		Sleep:          sleep,
	})
	if err != nil {
		t.Fatalf("NewCommandDispatcher() error = %v", err)
	}
	return d
}

func TestCommandDispatcher_InvokesDeviceMethod(t *testing.T) {
	tests := []struct {
		method     string
		wantMethod string
	}{
		{MethodEmergencyStop, "Device 1/EmergencyStop"},
		{MethodResetErrorStatus, "Device 1/ResetErrorStatus"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			ep := newMockEndpoint()
			cloud := newMockCloud()
			j := &mockJournal{}
			d := newTestDispatcher(t, ep, false, j, nil)
			d.Register(cloud)

			handler := cloud.methods[tt.method]
			if handler == nil {
				t.Fatalf("no handler registered for %s", tt.method)
			}
			resp := handler(context.Background(), iothub.MethodRequest{Name: tt.method, RequestID: "1"})

			if resp.Status != StatusAccepted {
				t.Errorf("Status = %d, want 0", resp.Status)
			}
			invokes := ep.getInvokes()
			if len(invokes) != 1 {
				t.Fatalf("invokes = %d, want 1", len(invokes))
			}
			if invokes[0].objectID != testDevice || invokes[0].methodID != tt.wantMethod {
				t.Errorf("invoke = %+v", invokes[0])
			}

			records := j.getCommands()
			if len(records) != 1 || records[0].Method != tt.method || records[0].RequestID != "1" {
				t.Errorf("journal = %+v", records)
			}
		})
	}
}

func TestCommandDispatcher_FailurePolicy(t *testing.T) {
	tests := []struct {
		name           string
		reportFailures bool
		wantStatus     int
		wantPayload    bool
	}{
		{"acknowledged by default", false, StatusAccepted, false},
		{"reported when enabled", true, StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := newMockEndpoint()
			ep.invokeErr = errors.New("BadMethodInvalid")
			j := &mockJournal{}
			d := newTestDispatcher(t, ep, tt.reportFailures, j, nil)

			resp := d.EmergencyStop(context.Background(), iothub.MethodRequest{Name: MethodEmergencyStop, RequestID: "9"})

			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if tt.wantPayload {
				var body map[string]string
				if err := json.Unmarshal(resp.Payload, &body); err != nil {
					t.Fatalf("payload %q: %v", resp.Payload, err)
				}
				if body["error"] == "" {
					t.Error("payload has no error message")
				}
			} else if resp.Payload != nil {
				t.Errorf("Payload = %s, want none", resp.Payload)
			}

			records := j.getCommands()
			if len(records) != 1 || records[0].Error == "" || records[0].Status != tt.wantStatus {
				t.Errorf("journal = %+v", records)
			}
			if d.metrics.Snapshot().CommandsFailed != 1 {
				t.Error("failed command not counted")
			}
		})
	}
}

func TestCommandDispatcher_DefaultHandler(t *testing.T) {
	ep := newMockEndpoint()
	cloud := newMockCloud()
	sleeper := &recordingSleep{}
	d := newTestDispatcher(t, ep, false, nil, sleeper.sleep)
	d.Register(cloud)

	if cloud.defaultHandler == nil {
		t.Fatal("no default handler registered")
	}
	resp := cloud.defaultHandler(context.Background(), iothub.MethodRequest{Name: "Calibrate", RequestID: "3"})

	if resp.Status != StatusAccepted {
		t.Errorf("Status = %d, want 0", resp.Status)
	}
	if sleeper.count() != 1 || sleeper.calls[0] != time.Second {
		t.Errorf("sleeps = %v, want one of 1s", sleeper.calls)
	}
	if len(ep.getInvokes()) != 0 {
		t.Error("unknown method must not reach the device")
	}
}

func TestCommandDispatcher_DefaultHandlerAnswersOnCancel(t *testing.T) {
	d := newTestDispatcher(t, newMockEndpoint(), false, nil, nil)
	d.defaultDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan iothub.MethodResponse, 1)
	go func() { done <- d.Default(ctx, iothub.MethodRequest{Name: "Unknown"}) }()

	select {
	case resp := <-done:
		if resp.Status != StatusAccepted {
			t.Errorf("Status = %d, want 0", resp.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("default handler ignored cancellation")
	}
}

func TestNewCommandDispatcher_Validation(t *testing.T) {
	if _, err := NewCommandDispatcher(CommandDispatcherConfig{Endpoint: newMockEndpoint()}); !errors.Is(err, ErrConfig) {
		t.Errorf("missing device: error = %v", err)
	}
	if _, err := NewCommandDispatcher(CommandDispatcherConfig{Device: testDevice}); !errors.Is(err, ErrConfig) {
		t.Errorf("missing endpoint: error = %v", err)
	}
}
