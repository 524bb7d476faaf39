package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSSink republishes every event dispatched on a Bus onto a JetStream subject, so an
// external observer (a UI, a log shipper) can subscribe to scheduler lifecycle events
// without the engine itself depending on anything beyond the event bus.
type NATSSink struct {
	js           nats.JetStreamContext
	subject      string
	logger       *zap.Logger
	publishRetry int
	publishDelay time.Duration
}

// NATSSinkConfig configures a NATSSink.
type NATSSinkConfig struct {
	Subject      string
	PublishRetry int
	PublishDelay time.Duration
}

// ApplyDefaults fills zero-valued fields with the sink's defaults.
func (c *NATSSinkConfig) ApplyDefaults() {
	if c.Subject == "" {
		c.Subject = "fluxgraph.events"
	}
	if c.PublishRetry <= 0 {
		c.PublishRetry = 3
	}
	if c.PublishDelay <= 0 {
		c.PublishDelay = 100 * time.Millisecond
	}
}

// NewNATSSink constructs a sink publishing through js. Pass a nil logger to get a
// no-op logger.
func NewNATSSink(js nats.JetStreamContext, cfg NATSSinkConfig, logger *zap.Logger) *NATSSink {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{
		js:           js,
		subject:      cfg.Subject,
		logger:       logger,
		publishRetry: cfg.PublishRetry,
		publishDelay: cfg.PublishDelay,
	}
}

// envelope is the wire shape published for every event.
type envelope struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Payload interface{} `json:"payload"`
}

// Listener returns a Listener suitable for Bus.AddEventListener that republishes every
// dispatched event onto the sink's subject. Marshal/publish failures are logged, never
// returned, since a broken sink must not affect traversal.
func (s *NATSSink) Listener() Listener {
	return func(id, name string, payload Payload) {
		data, err := json.Marshal(envelope{ID: id, Name: name, Payload: payload})
		if err != nil {
			s.logger.Warn("failed to marshal event for NATS sink", zap.String("event", name), zap.Error(err))
			return
		}
		if err := s.publishWithRetry(data); err != nil {
			s.logger.Warn("failed to publish event to NATS", zap.String("event", name), zap.Error(err))
		}
	}
}

func (s *NATSSink) publishWithRetry(data []byte) error {
	var lastErr error
	for attempt := 0; attempt < s.publishRetry; attempt++ {
		if _, err := s.js.Publish(s.subject, data); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(s.publishDelay)
	}
	return fmt.Errorf("publish to %s failed after %d attempts: %w", s.subject, s.publishRetry, lastErr)
}
