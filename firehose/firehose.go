/*Package firehose exports accepted sensor readings to Kafka

Downstream consumers (analytics, model training) read the full stream
of readings from a single topic, keyed by device so per-device order is
preserved. The export is best-effort: it runs after the reading is
durable in Postgres and a Kafka outage can neither fail nor delay an
ingest response.
*/
package firehose

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/verdantech/plantcare/core/logger"
	"github.com/verdantech/plantcare/core/store"
)

// Exporter writes accepted readings to a Kafka topic. It implements
// the ingest notifier interface.
type Exporter struct {
	writer *kafka.Writer
}

// NewExporter returns an exporter writing to the given brokers and topic.
func NewExporter(brokers []string, topic string) *Exporter {
	return &Exporter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// ReadingAccepted exports one reading. It returns immediately; the
// write happens on a background task with its own deadline and failures
// are only logged.
func (e *Exporter) ReadingAccepted(ctx context.Context, r store.SensorReading) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		value, err := json.Marshal(r)
		if err != nil {
			logger.Default().Errorf("cannot marshal reading %s: %s", r.ReadingID, err.Error())
			return
		}
		err = e.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(r.DeviceID),
			Value: value,
		})
		if err != nil {
			logger.Default().Errorf("cannot export reading %s: %s", r.ReadingID, err.Error())
		}
	}()
}

// Close flushes and closes the underlying writer.
func (e *Exporter) Close() error {
	return e.writer.Close()
}
