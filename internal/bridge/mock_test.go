package bridge

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/domo4/IoT23-s/internal/iothub"
	"github.com/domo4/IoT23-s/internal/journal"
	"github.com/domo4/IoT23-s/internal/opcua"
)

// writeCall records one WriteOne.
type writeCall struct {
	point string
	value any
}

// invokeCall records one InvokeMethod.
type invokeCall struct {
	objectID string
	methodID string
}

// mockEndpoint is an in-memory DeviceEndpoint. Writes update the values
// later reads return.
type mockEndpoint struct {
	mu sync.Mutex

	values   map[string]any
	children []string

	connectErr error
	browseErr  error
	readErr    map[string]error
	batchErr   error
	shortRead  bool
	writeErr   error
	invokeErr  error

	connected bool
	closed    bool
	reads     []string
	writes    []writeCall
	invokes   []invokeCall
	subs      []*mockSubscription
}

func newMockEndpoint() *mockEndpoint {
	return &mockEndpoint{
		values:  map[string]any{},
		readErr: map[string]error{},
	}
}

func (m *mockEndpoint) set(point string, value any) {
	m.mu.Lock()
	m.values[point] = value
	m.mu.Unlock()
}

func (m *mockEndpoint) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockEndpoint) Close(_ context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockEndpoint) ListChildren(_ context.Context, root string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if root != opcua.RootObjects {
		return nil, errors.New("unexpected root")
	}
	if m.browseErr != nil {
		return nil, m.browseErr
	}
	return slices.Clone(m.children), nil
}

func (m *mockEndpoint) ReadMany(_ context.Context, points []string) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	values := make([]any, 0, len(points))
	for _, p := range points {
		m.reads = append(m.reads, p)
		values = append(values, m.values[p])
	}
	if m.shortRead {
		values = values[:len(values)-1]
	}
	return values, nil
}

func (m *mockEndpoint) ReadOne(_ context.Context, point string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, point)
	if err := m.readErr[point]; err != nil {
		return nil, err
	}
	return m.values[point], nil
}

func (m *mockEndpoint) WriteOne(_ context.Context, point string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, writeCall{point: point, value: value})
	m.values[point] = value
	return nil
}

func (m *mockEndpoint) InvokeMethod(_ context.Context, objectID, methodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokes = append(m.invokes, invokeCall{objectID: objectID, methodID: methodID})
	return m.invokeErr
}

func (m *mockEndpoint) NewSubscription(interval time.Duration) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &mockSubscription{interval: interval, callbacks: map[string]opcua.ChangeFunc{}}
	m.subs = append(m.subs, sub)
	return sub
}

func (m *mockEndpoint) getWrites() []writeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.writes)
}

func (m *mockEndpoint) getInvokes() []invokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.invokes)
}

func (m *mockEndpoint) subscription() *mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[0]
}

// mockSubscription records staged points and lets tests fire changes.
type mockSubscription struct {
	mu        sync.Mutex
	interval  time.Duration
	order     []string
	callbacks map[string]opcua.ChangeFunc
	commitErr error
	committed bool
	closed    bool
}

func (s *mockSubscription) Add(point string, onChange opcua.ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, point)
	s.callbacks[point] = onChange
}

func (s *mockSubscription) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = true
	return nil
}

func (s *mockSubscription) Close(_ context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *mockSubscription) fire(point string, value any) {
	s.mu.Lock()
	fn := s.callbacks[point]
	s.mu.Unlock()
	if fn != nil {
		fn(point, value)
	}
}

func (s *mockSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *mockSubscription) isCommitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// mockCloud is an in-memory CloudChannel.
type mockCloud struct {
	mu sync.Mutex

	twin      *iothub.Twin
	twinErr   error
	sendErr   error
	reportErr error
	openErr   error

	open     bool
	closed   bool
	events   []*iothub.Message
	reported []map[string]any
	twinGets int

	methods        map[string]iothub.MethodHandler
	defaultHandler iothub.MethodHandler
	desired        iothub.DesiredPropertyHandler

	// onSend, if set, is called after every recorded event.
	onSend func(n int)
}

func newMockCloud() *mockCloud {
	return &mockCloud{methods: map[string]iothub.MethodHandler{}}
}

func (c *mockCloud) Open(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.open = true
	return nil
}

func (c *mockCloud) Close() error {
	c.mu.Lock()
	c.closed = true
	c.open = false
	c.mu.Unlock()
	return nil
}

func (c *mockCloud) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *mockCloud) SendEvent(_ context.Context, msg *iothub.Message) error {
	c.mu.Lock()
	if c.sendErr != nil {
		c.mu.Unlock()
		return c.sendErr
	}
	c.events = append(c.events, msg)
	n := len(c.events)
	onSend := c.onSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(n)
	}
	return nil
}

func (c *mockCloud) GetTwin(_ context.Context) (*iothub.Twin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.twinGets++
	if c.twinErr != nil {
		return nil, c.twinErr
	}
	return c.twin, nil
}

func (c *mockCloud) UpdateReportedProperties(_ context.Context, props map[string]any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reportErr != nil {
		return 0, c.reportErr
	}
	c.reported = append(c.reported, props)
	return int64(len(c.reported)), nil
}

func (c *mockCloud) RegisterMethodHandler(name string, h iothub.MethodHandler) {
	c.mu.Lock()
	c.methods[name] = h
	c.mu.Unlock()
}

func (c *mockCloud) RegisterDefaultMethodHandler(h iothub.MethodHandler) {
	c.mu.Lock()
	c.defaultHandler = h
	c.mu.Unlock()
}

func (c *mockCloud) RegisterDesiredPropertyHandler(h iothub.DesiredPropertyHandler) {
	c.mu.Lock()
	c.desired = h
	c.mu.Unlock()
}

func (c *mockCloud) getEvents() []*iothub.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

func (c *mockCloud) getReported() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.reported)
}

// mockJournal records journal calls.
type mockJournal struct {
	mu       sync.Mutex
	commands []journal.CommandEntry
	reported []reportedCall
}

type reportedCall struct {
	device string
	state  map[string]any
	source string
}

func (j *mockJournal) RecordCommand(_ context.Context, entry *journal.CommandEntry) error {
	j.mu.Lock()
	j.commands = append(j.commands, *entry)
	j.mu.Unlock()
	return nil
}

func (j *mockJournal) RecordReported(_ context.Context, device string, state map[string]any, source string) error {
	j.mu.Lock()
	j.reported = append(j.reported, reportedCall{device: device, state: state, source: source})
	j.mu.Unlock()
	return nil
}

func (j *mockJournal) getCommands() []journal.CommandEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.commands)
}

func (j *mockJournal) getReported() []reportedCall {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.reported)
}

// mockSink records historian writes.
type mockSink struct {
	mu     sync.Mutex
	writes []map[string]any
}

func (s *mockSink) WriteTelemetry(_ string, fields map[string]any, _ time.Time) {
	s.mu.Lock()
	s.writes = append(s.writes, fields)
	s.mu.Unlock()
}

// recordingSleep counts simulated sleeps and never blocks.
type recordingSleep struct {
	mu     sync.Mutex
	calls  []time.Duration
	onCall func(n int)
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	n := len(r.calls)
	onCall := r.onCall
	r.mu.Unlock()

	if onCall != nil {
		onCall(n)
	}
	return ctx.Err()
}

func (r *recordingSleep) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// recordingLogger keeps warning messages for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.warns)
}
