package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultMaxReconnectInterval caps paho's reconnect backoff.
	defaultMaxReconnectInterval = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Connection states passed to a StatusFunc.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusLost    = "lost"
)

// CredentialsFunc supplies a username and password for each connection
// attempt. It is called again on every reconnect, so short-lived tokens stay
// valid.
type CredentialsFunc func() (username, password string)

// StatusFunc builds the topic and payload that announce a connection state.
type StatusFunc func(state string) (topic string, payload []byte)

// Options describes one broker session.
type Options struct {
	// BrokerURL is the full broker address, e.g. "ssl://hub.example.net:8883".
	BrokerURL string
	ClientID  string

	// Credentials is optional. When nil the connection is anonymous.
	Credentials CredentialsFunc

	// TLSConfig overrides the default TLS settings for ssl:// brokers.
	TLSConfig *tls.Config

	QoS                  byte
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	MaxReconnectInterval time.Duration

	// Status, when set, is used for the last-will message ("lost"), the
	// announcement after every (re)connect ("online") and the graceful
	// shutdown notice ("offline").
	Status StatusFunc
}

// withDefaults fills zero values.
func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
	if o.MaxReconnectInterval <= 0 {
		o.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	return o
}

// validate checks the fields paho cannot work without.
func (o Options) validate() error {
	if o.BrokerURL == "" {
		return fmt.Errorf("%w: broker URL is required", ErrInvalidOptions)
	}
	u, err := url.Parse(o.BrokerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: malformed broker URL %q", ErrInvalidOptions, o.BrokerURL)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client ID is required", ErrInvalidOptions)
	}
	if o.QoS > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// isTLS reports whether the broker URL uses a TLS scheme.
func (o Options) isTLS() bool {
	u, err := url.Parse(o.BrokerURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}

// buildClientOptions creates paho MQTT options from the session options.
//
// This configures:
//   - Broker URL and client ID
//   - Credentials provider (re-evaluated on every connect)
//   - Auto-reconnect with paho's exponential backoff
//   - TLS configuration for secure schemes
//   - Unordered handler delivery
//
// Handlers are delivered unordered so that a handler may itself wait for a
// response message (for example a request/response exchange) without
// blocking paho's delivery goroutine.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)

	if o.Credentials != nil {
		creds := o.Credentials
		opts.SetCredentialsProvider(func() (string, string) {
			return creds()
		})
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(o.MaxReconnectInterval)

	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)

	if o.isTLS() {
		tlsConfig := o.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// configureLWT sets up the last-will message published by the broker when
// the client disconnects unexpectedly.
func configureLWT(opts *pahomqtt.ClientOptions, o Options) {
	if o.Status == nil {
		return
	}
	topic, payload := o.Status(StatusLost)
	if topic == "" {
		return
	}
	opts.SetWill(topic, string(payload), o.QoS, false)
}
