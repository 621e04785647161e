package iothub

import (
	"context"
	"encoding/json"
)

// Status codes used in method responses.
const (
	StatusOK             = 0
	StatusNotImplemented = 501
)

// MethodRequest is an inbound direct method call.
type MethodRequest struct {
	Name      string
	RequestID string
	Payload   []byte
}

// MethodResponse is the acknowledgement returned to the caller.
// A nil Payload is sent as an empty body.
type MethodResponse struct {
	Status  int
	Payload []byte
}

// MethodHandler serves one direct method. It runs on its own goroutine.
type MethodHandler func(ctx context.Context, req MethodRequest) MethodResponse

// DesiredPropertyHandler receives desired-property patches with their twin version.
type DesiredPropertyHandler func(ctx context.Context, patch TwinCollection, version int64)

// RegisterMethodHandler serves name with h. Registering again replaces the
// previous handler; a nil handler removes it. Handlers may be registered
// before or after Open.
func (c *Client) RegisterMethodHandler(name string, h MethodHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	if h == nil {
		delete(c.methodHandlers, name)
		return
	}
	c.methodHandlers[name] = h
}

// RegisterDefaultMethodHandler serves every method without a named handler.
func (c *Client) RegisterDefaultMethodHandler(h MethodHandler) {
	c.handlerMu.Lock()
	c.defaultHandler = h
	c.handlerMu.Unlock()
}

// RegisterDesiredPropertyHandler receives desired-property changes.
func (c *Client) RegisterDesiredPropertyHandler(h DesiredPropertyHandler) {
	c.handlerMu.Lock()
	c.desiredHandler = h
	c.handlerMu.Unlock()
}

// handleMethod dispatches $iothub/methods/POST/# messages and publishes the response.
func (c *Client) handleMethod(topic string, payload []byte) error {
	name, rid, err := parseMethodTopic(topic)
	if err != nil {
		return err
	}

	c.handlerMu.RLock()
	h, ok := c.methodHandlers[name]
	if !ok {
		h = c.defaultHandler
	}
	c.handlerMu.RUnlock()

	var resp MethodResponse
	if h == nil {
		c.logWarn("no handler for method", "method", name)
		resp = MethodResponse{Status: StatusNotImplemented, Payload: notImplementedPayload(name)}
	} else {
		resp = h(c.handlerContext(), MethodRequest{Name: name, RequestID: rid, Payload: payload})
	}

	transport, err := c.currentTransport()
	if err != nil {
		return err
	}

	body := resp.Payload
	if body == nil {
		body = []byte{}
	}
	ctx, cancel := context.WithTimeout(c.handlerContext(), c.cfg.OperationTimeout)
	defer cancel()
	return transport.Publish(ctx, c.topics.MethodResponse(resp.Status, rid), body, c.cfg.QoS, false)
}

func notImplementedPayload(name string) []byte {
	b, _ := json.Marshal(map[string]string{"error": "method " + name + " is not implemented"})
	return b
}
