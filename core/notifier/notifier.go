/*
Package notifier publishes row change notifications.

Every successful create, update or delete on a table produces one RowChange. The kafka
notifier writes it to a topic, keyed by table name, so all changes of one table land on
the same partition in order.
*/
package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/logger"
)

// loggerContextHeader carries the serialized request logger, see logger.SerializeLoggerContext
const loggerContextHeader = "logger_context"

// RowChange is the payload of a notification
type RowChange struct {
	Table     string                 `json:"table"`
	Operation core.Operation         `json:"operation"`
	ID        int64                  `json:"id"`
	Fields    []string               `json:"fields,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is a core.Notifier which publishes to a kafka topic
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka returns a notifier for the given comma separated list of brokers. Messages are
// written asynchronously; delivery errors are logged.
func NewKafka(brokers string, topic string) *Kafka {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Default().WithError(err).Errorf("Error 4901: cannot deliver %d notifications to %s", len(messages), topic)
			}
		},
	}
	return &Kafka{writer: w, topic: topic}
}

// Notify implements core.Notifier
func (k *Kafka) Notify(ctx context.Context, table string, operation core.Operation, payload []byte) {
	rlog := logger.FromContext(ctx)
	msg := kafka.Message{
		Key:   []byte(table),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(operation)},
			{Key: loggerContextHeader, Value: logger.SerializeLoggerContext(ctx)},
		},
	}
	// the request context ends with the response, the notification must survive it
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		rlog.WithError(err).Errorf("Error 4902: cannot notify %s on %s", operation, table)
		return
	}
	rlog.WithFields(logrus.Fields{"topic": k.topic, "operation": operation}).Debugln("notification queued")
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Encode returns the JSON payload for a change. The request id is taken from ctx.
func Encode(ctx context.Context, change RowChange) []byte {
	change.RequestID = logger.RequestIDFromContext(ctx)
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(change)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 4903: cannot marshal notification")
		return nil
	}
	return data
}

// Decode parses a message written by Kafka. The returned context carries a logger with
// the request id of the originating request.
func Decode(ctx context.Context, msg kafka.Message) (context.Context, RowChange, error) {
	for _, h := range msg.Headers {
		if h.Key == loggerContextHeader {
			ctx = logger.ContextWithLoggerFromData(ctx, h.Value)
		}
	}
	var change RowChange
	err := json.Unmarshal(msg.Value, &change)
	return ctx, change, err
}
