package iothub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/domo4/IoT23-s/internal/infrastructure/mqtt"
)

const testConnString = "HostName=myhub.azure-devices.net;DeviceId=dev1;SharedAccessKey=c2VjcmV0LWtleS0xMjM0NQ=="

type mockPublish struct {
	topic   string
	payload []byte
}

// MockTransport records publishes and lets tests inject inbound messages.
type MockTransport struct {
	mu         sync.Mutex
	published  []mockPublish
	subs       map[string]mqtt.MessageHandler
	connected  bool
	closed     bool
	publishErr error
	subErr     error

	// onPublish, when set, is called after a publish is recorded. Tests use
	// it to answer twin requests.
	onPublish func(topic string, payload []byte)
}

func NewMockTransport() *MockTransport {
	return &MockTransport{subs: map[string]mqtt.MessageHandler{}, connected: true}
}

func (m *MockTransport) Publish(_ context.Context, topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, mockPublish{topic: topic, payload: append([]byte(nil), payload...)})
	hook := m.onPublish
	m.mu.Unlock()

	if hook != nil {
		go hook(topic, payload)
	}
	return nil
}

func (m *MockTransport) Subscribe(_ context.Context, topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.subs[topic] = handler
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.closed
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// SimulateMessage delivers topic to the first matching subscription.
func (m *MockTransport) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.subs {
		if mqtt.MatchTopic(filter, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		return errors.New("no subscription matches " + topic)
	}
	return handler(topic, payload)
}

func (m *MockTransport) Published() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockTransport) PublishedWithPrefix(prefix string) []mockPublish {
	var out []mockPublish
	for _, p := range m.Published() {
		if strings.HasPrefix(p.topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// openTestClient returns an opened client over a MockTransport.
func openTestClient(t *testing.T, opts ...Option) (*Client, *MockTransport) {
	t.Helper()
	transport := NewMockTransport()
	var dialed mqtt.Options

	opts = append(opts, WithDialer(func(_ context.Context, o mqtt.Options) (Transport, error) {
		dialed = o
		return transport, nil
	}))

	c, err := New(Config{ConnectionString: testConnString}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if dialed.ClientID != "dev1" {
		t.Fatalf("dialed ClientID = %q, want dev1", dialed.ClientID)
	}
	return c, transport
}
