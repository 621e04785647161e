package iothub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TwinCollection is one side (desired or reported) of a device twin.
// Numbers are kept as json.Number so integers survive unchanged.
type TwinCollection map[string]any

// Twin is the device twin document returned by GetTwin.
type Twin struct {
	Desired  TwinCollection `json:"desired"`
	Reported TwinCollection `json:"reported"`
}

// Version returns the $version metadata of the collection, or 0.
func (tc TwinCollection) Version() int64 {
	n, err := tc.Int("$version")
	if err != nil {
		return 0
	}
	return n
}

// Has reports whether key is present.
func (tc TwinCollection) Has(key string) bool {
	_, ok := tc[key]
	return ok
}

// Int returns key as an integer. Fractional or non-numeric values are errors.
func (tc TwinCollection) Int(key string) (int64, error) {
	raw, ok := tc[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q not present", ErrTwin, key)
	}

	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer: %s", ErrTwin, key, v)
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %q is not an integer: %v", ErrTwin, key, v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer: %q", ErrTwin, key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q has unsupported type %T", ErrTwin, key, raw)
	}
}

// decodeCollection decodes a JSON object preserving number precision.
func decodeCollection(data []byte) (TwinCollection, error) {
	tc := TwinCollection{}
	if len(bytes.TrimSpace(data)) == 0 {
		return tc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// decodeTwin decodes a full twin document preserving number precision.
func decodeTwin(data []byte) (*Twin, error) {
	var raw struct {
		Desired  json.RawMessage `json:"desired"`
		Reported json.RawMessage `json:"reported"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	desired, err := decodeCollection(raw.Desired)
	if err != nil {
		return nil, err
	}
	reported, err := decodeCollection(raw.Reported)
	if err != nil {
		return nil, err
	}
	return &Twin{Desired: desired, Reported: reported}, nil
}

// twinResponse is an answer on $iothub/twin/res/#.
type twinResponse struct {
	status  int
	version int64
	payload []byte
}

// GetTwin requests the full device twin.
func (c *Client) GetTwin(ctx context.Context) (*Twin, error) {
	resp, err := c.twinRequest(ctx, c.topics.TwinGet, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != 200 {
		return nil, fmt.Errorf("%w: get returned status %d", ErrTwin, resp.status)
	}

	twin, err := decodeTwin(resp.payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding twin: %w", ErrTwin, err)
	}
	return twin, nil
}

// UpdateReportedProperties patches the reported side of the twin and returns
// the new reported version.
func (c *Client) UpdateReportedProperties(ctx context.Context, props map[string]any) (int64, error) {
	body, err := json.Marshal(props)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding reported properties: %w", ErrTwin, err)
	}

	resp, err := c.twinRequest(ctx, c.topics.TwinReported, body)
	if err != nil {
		return 0, err
	}
	if resp.status < 200 || resp.status >= 300 {
		return 0, fmt.Errorf("%w: reported patch returned status %d", ErrTwin, resp.status)
	}
	return resp.version, nil
}

// twinRequest publishes a request on the topic produced by topicFor and waits
// for the response carrying the same request id.
func (c *Client) twinRequest(ctx context.Context, topicFor func(rid string) string, body []byte) (twinResponse, error) {
	transport, err := c.currentTransport()
	if err != nil {
		return twinResponse{}, err
	}

	rid := uuid.NewString()
	ch := make(chan twinResponse, 1)

	c.pendingMu.Lock()
	c.pending[rid] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, rid)
		c.pendingMu.Unlock()
	}()

	if body == nil {
		body = []byte{}
	}
	if err := transport.Publish(ctx, topicFor(rid), body, c.cfg.QoS, false); err != nil {
		return twinResponse{}, fmt.Errorf("%w: %w", ErrTwin, err)
	}

	timer := time.NewTimer(c.cfg.OperationTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return twinResponse{}, fmt.Errorf("%w: %w after %v", ErrTwin, ErrTimeout, c.cfg.OperationTimeout)
	case <-ctx.Done():
		return twinResponse{}, fmt.Errorf("%w: %w", ErrTwin, ctx.Err())
	}
}

// handleTwinResponse routes $iothub/twin/res/# messages to waiting requests.
func (c *Client) handleTwinResponse(topic string, payload []byte) error {
	status, rid, err := parseTwinResponseTopic(topic)
	if err != nil {
		return err
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[rid]
	c.pendingMu.Unlock()
	if !ok {
		c.logDebug("twin response without pending request", "rid", rid, "status", status)
		return nil
	}

	resp := twinResponse{status: status, payload: payload}
	if v, err := parseResponseVersion(topic); err == nil {
		resp.version = v
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

// handleDesired dispatches desired-property patches.
func (c *Client) handleDesired(topic string, payload []byte) error {
	version, err := parseDesiredTopic(topic)
	if err != nil {
		return err
	}

	patch, err := decodeCollection(payload)
	if err != nil {
		return fmt.Errorf("%w: decoding desired patch: %w", ErrTwin, err)
	}
	if version == 0 {
		version = patch.Version()
	}

	c.handlerMu.RLock()
	handler := c.desiredHandler
	c.handlerMu.RUnlock()
	if handler == nil {
		c.logDebug("desired patch ignored, no handler", "version", version)
		return nil
	}

	handler(c.handlerContext(), patch, version)
	return nil
}
