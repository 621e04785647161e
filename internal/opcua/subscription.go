package opcua

import (
	"context"
	"fmt"
	"sync"
	"time"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

// notifyBuffer is the capacity of the publish notification channel.
const notifyBuffer = 32

// ChangeFunc receives a changed value. It runs on the subscription's
// dispatch goroutine and must not block.
type ChangeFunc func(point string, value any)

type monitoredItem struct {
	point    string
	onChange ChangeFunc
}

// Subscription is a set of monitored points sharing a publishing interval.
type Subscription struct {
	client   *Client
	interval time.Duration

	mu         sync.Mutex
	pending    []monitoredItem
	active     map[uint32]monitoredItem
	nextHandle uint32

	sub      *gopcua.Subscription
	notifyCh chan *gopcua.PublishNotificationData
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSubscription prepares a subscription. Nothing is sent to the server
// until Commit.
func (c *Client) NewSubscription(interval time.Duration) *Subscription {
	return &Subscription{
		client:   c,
		interval: interval,
		active:   make(map[uint32]monitoredItem),
	}
}

// Add registers onChange for point. It takes effect at the next Commit.
func (s *Subscription) Add(point string, onChange ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, monitoredItem{point: point, onChange: onChange})
}

// Pending returns the number of registrations awaiting Commit.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Commit creates the server-side subscription on first use and starts
// monitoring every pending point. Items the server rejects are reported in
// the error; accepted items stay active.
func (s *Subscription) Commit(ctx context.Context) error {
	client, err := s.client.conn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	if s.sub == nil {
		s.notifyCh = make(chan *gopcua.PublishNotificationData, notifyBuffer)
		sub, err := client.Subscribe(ctx, &gopcua.SubscriptionParameters{Interval: s.interval}, s.notifyCh)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		s.sub = sub

		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(runCtx)
	}

	handles := make([]uint32, len(s.pending))
	requests := make([]*ua.MonitoredItemCreateRequest, len(s.pending))
	for i, item := range s.pending {
		s.nextHandle++
		handles[i] = s.nextHandle
		requests[i] = gopcua.NewMonitoredItemCreateRequestWithDefaults(
			s.client.NodeID(item.point), ua.AttributeIDValue, handles[i])
	}

	resp, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	var rejected []string
	for i, item := range s.pending {
		if i < len(resp.Results) && resp.Results[i].StatusCode == ua.StatusOK {
			s.active[handles[i]] = item
			continue
		}
		rejected = append(rejected, item.point)
	}
	s.pending = nil

	if len(rejected) > 0 {
		return fmt.Errorf("%w: rejected %v", ErrSubscribeFailed, rejected)
	}
	s.client.logDebug("subscription committed", "items", len(s.active), "interval", s.interval)
	return nil
}

// run drains publish notifications until ctx is cancelled.
func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.notifyCh:
			if !ok {
				return
			}
			s.dispatch(data)
		}
	}
}

// dispatch fans a notification out to the registered callbacks.
func (s *Subscription) dispatch(data *gopcua.PublishNotificationData) {
	if data == nil {
		return
	}
	if data.Error != nil {
		s.client.logWarn("subscription notification error", "error", data.Error)
		return
	}

	change, ok := data.Value.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	for _, n := range change.MonitoredItems {
		if n == nil {
			continue
		}
		s.mu.Lock()
		item, ok := s.active[n.ClientHandle]
		s.mu.Unlock()
		if !ok || item.onChange == nil {
			continue
		}

		var value any
		if n.Value != nil {
			value = variantValue(n.Value.Value)
		}
		item.onChange(item.point, value)
	}
}

// Close cancels the server-side subscription and stops dispatching.
func (s *Subscription) Close(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	cancel := s.cancel
	done := s.done
	s.sub = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if sub == nil {
		return nil
	}
	if err := sub.Cancel(ctx); err != nil {
		return fmt.Errorf("%w: cancel: %w", ErrSubscribeFailed, err)
	}
	return nil
}
