package arb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	kafka "github.com/segmentio/kafka-go"
)

// NotifyEvent is the envelope published for every opportunity that reaches
// a terminal outcome. It carries enough of ExecutionRecord to drive
// downstream dashboards and alerting without those consumers touching the
// database directly.
type NotifyEvent struct {
	OpportunityID string    `json:"opportunity_id"`
	Outcome       string    `json:"outcome"`
	NetProfit     int64     `json:"net_profit_lamports"`
	InputAsset    string    `json:"input_asset"`
	BridgeAsset   string    `json:"bridge_asset"`
	Signature     string    `json:"signature,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// messageWriter is the subset of *kafka.Writer the notifier depends on,
// narrowed so tests can substitute an in-memory recorder.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier publishes terminal-outcome events to Kafka, fire-and-forget.
// A disabled or unreachable broker never blocks the pipeline: failures are
// logged and dropped, mirroring the ambient notification sink's role as an
// observability aid rather than a correctness dependency.
type Notifier struct {
	writer  messageWriter
	topic   string
	logger  *logger.Logger
	enabled bool
	timeout time.Duration
}

// NewNotifier builds a Kafka-backed notifier from the application's
// notification configuration. When cfg.Enabled is false, Publish becomes a
// no-op and no connection is attempted.
func NewNotifier(cfg config.KafkaConfig, log *logger.Logger) *Notifier {
	n := &Notifier{
		topic:   cfg.Topic,
		logger:  log.Named("notifier"),
		enabled: cfg.Enabled,
		timeout: 5 * time.Second,
	}
	if dur, err := time.ParseDuration(cfg.WriteTimeout); err == nil && dur > 0 {
		n.timeout = dur
	}
	if cfg.Enabled && len(cfg.Brokers) > 0 {
		n.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			WriteTimeout: n.timeout,
		}
	}
	return n
}

// newNotifierWithWriter is used by tests to inject a fake messageWriter.
func newNotifierWithWriter(w messageWriter, topic string, log *logger.Logger) *Notifier {
	return &Notifier{writer: w, topic: topic, logger: log.Named("notifier"), enabled: true, timeout: 5 * time.Second}
}

// Publish sends ev to the configured topic. It never returns an error to
// the caller; pipeline stages call it without awaiting success.
func (n *Notifier) Publish(ctx context.Context, ev NotifyEvent) {
	if !n.enabled || n.writer == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Debug(fmt.Sprintf("notify: marshal failed: %v", err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := kafka.Message{
		Topic: n.topic,
		Key:   []byte(ev.OpportunityID),
		Value: payload,
		Time:  ev.At,
	}

	if err := n.writer.WriteMessages(sendCtx, msg); err != nil {
		n.logger.Debug(fmt.Sprintf("notify: publish failed: %v", err))
	}
}

// Close releases the underlying writer's connections.
func (n *Notifier) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
