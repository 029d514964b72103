package arb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flashroute/solarb/pkg/logger"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	writeErr error
}

func (w *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeMessageWriter) Close() error { return nil }

func TestNotifier_PublishSendsEnvelope(t *testing.T) {
	writer := &fakeMessageWriter{}
	n := newNotifierWithWriter(writer, "arb-events", logger.New("test"))

	n.Publish(context.Background(), NotifyEvent{
		OpportunityID: "opp-1",
		Outcome:       OutcomeSucceeded,
		NetProfit:     12345,
		At:            time.Now(),
	})

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "opp-1", string(writer.messages[0].Key))
	assert.Equal(t, "arb-events", writer.messages[0].Topic)
}

func TestNotifier_DisabledIsNoOp(t *testing.T) {
	n := &Notifier{enabled: false, logger: logger.New("test")}
	n.Publish(context.Background(), NotifyEvent{OpportunityID: "opp-2"})
}

func TestNotifier_WriteErrorIsSwallowed(t *testing.T) {
	writer := &fakeMessageWriter{writeErr: assertError{}}
	n := newNotifierWithWriter(writer, "arb-events", logger.New("test"))
	n.Publish(context.Background(), NotifyEvent{OpportunityID: "opp-3"})
}

type assertError struct{}

func (assertError) Error() string { return "simulated write failure" }
