package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/domo4/IoT23-s/internal/infrastructure/config"
)

// fakeWriter records points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

type fakePinger struct {
	healthy bool
	err     error
}

func (p fakePinger) Ping(_ context.Context) (bool, error) { return p.healthy, p.err }

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:59999",
		Token:   "token",
		Org:     "org",
		Bucket:  "telemetry",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteTelemetry(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, fakePinger{healthy: true})
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	c.WriteTelemetry("Device 1", map[string]any{
		"ProductionStatus": int32(1),
		"WorkorderId":      "wo-42",
		"GoodCount":        int64(10),
		"BadCount":         uint32(2),
		"Temperature":      float32(21.5),
	}, at)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != "telemetry" {
		t.Errorf("measurement = %q, want telemetry", p.Name())
	}
	if !p.Time().Equal(at) {
		t.Errorf("time = %v, want %v", p.Time(), at)
	}

	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "device" || tags[0].Value != "Device 1" {
		t.Errorf("tags = %+v", tags)
	}

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if len(fields) != 4 {
		t.Errorf("fields = %v, want 4 numeric fields", fields)
	}
	if _, ok := fields["WorkorderId"]; ok {
		t.Error("string reading must not become a field")
	}
	if fields["Temperature"] != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", fields["Temperature"])
	}
}

func TestWriteTelemetry_SkipsEmptyAndDisconnected(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, fakePinger{healthy: true})

	c.WriteTelemetry("Device 1", map[string]any{"WorkorderId": "wo-1"}, time.Now())
	if len(w.points) != 0 {
		t.Errorf("points = %d, want 0 for a snapshot without numeric fields", len(w.points))
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 on close", w.flushes)
	}

	c.WriteTelemetry("Device 1", map[string]any{"GoodCount": 1}, time.Now())
	c.Flush()
	if len(w.points) != 0 || w.flushes != 1 {
		t.Error("writes after Close must be dropped")
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		pinger  fakePinger
		wantErr bool
	}{
		{"healthy", fakePinger{healthy: true}, false},
		{"unhealthy", fakePinger{healthy: false}, true},
		{"ping error", fakePinger{err: errors.New("refused")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(&fakeWriter{}, tt.pinger)
			err := c.HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	c := newClient(&fakeWriter{}, fakePinger{healthy: true})
	c.Close() //nolint:errcheck
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c := newClient(&fakeWriter{}, fakePinger{healthy: true})

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("401 unauthorized")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
