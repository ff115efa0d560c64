package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"execpipe/internal/schema"
)

// KafkaConfig describes the notification topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// BatchTimeout bounds how long messages linger before a send.
	// Defaults to 200ms.
	BatchTimeout time.Duration
}

// notice is the client-facing terminal order message.
type notice struct {
	OrderID   uint64 `json:"order_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	VenueID   uint16 `json:"venue_id,omitempty"`
	ExecPrice int64  `json:"exec_price,omitempty"`
	ExecQty   int64  `json:"exec_qty,omitempty"`
	Ts        int64  `json:"ts"`
}

// KafkaNotifier publishes terminal order outcomes to a Kafka topic.
// Non-terminal events are ignored so downstream consumers only see
// final states.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates the notifier. The writer is lazy; broker
// connectivity problems surface on the first Record.
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 200 * time.Millisecond
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: batchTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Record(ctx context.Context, e Event) error {
	if !e.Order.Status.Terminal() {
		return nil
	}
	msg := notice{
		OrderID: e.Order.ID,
		Status:  e.Order.Status.String(),
		Reason:  e.Order.Reason,
		Ts:      e.Order.UpdatedAt,
	}
	if e.Header.Type == schema.EventTrade && e.Trade.Result == schema.TradeResultConfirmed {
		msg.VenueID = uint16(e.Trade.VenueID)
		msg.ExecPrice = int64(e.Trade.ExecPrice)
		msg.ExecQty = int64(e.Trade.ExecQty)
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(e.Order.ID, 10)),
		Value: value,
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
