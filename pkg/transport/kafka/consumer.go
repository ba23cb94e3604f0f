package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/concurrent"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/geo"
	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/util"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	reconnectDelay = 5 * time.Second
	workerQueue    = 256
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// fixes of different trips are ingested in parallel on this many workers
	Workers int
}

// FixSink is the tracking service side of the consumer.
type FixSink interface {
	IngestFix(tripID string, point geo.Coordinate, observedAt time.Time)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// fixMessage is one raw fix on the topic. Producers key messages by trip id so a trip's fixes stay
// on one partition and arrive in order; trip_id in the payload wins over the key.
type fixMessage struct {
	TripID       string   `json:"trip_id"`
	Lat          *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng          *float64 `json:"lng" validate:"required,min=-180,max=180"`
	ObservedAtMs int64    `json:"observed_at_ms" validate:"required,gt=0"`
}

type Fix struct {
	TripID     string
	Point      geo.Coordinate
	ObservedAt time.Time
}

// Consumer feeds raw fixes from a kafka topic into the tracking service.
type Consumer struct {
	reader   messageReader
	sink     FixSink
	validate *validator.Validate
	topic    string
	workers  int
	log      *zap.Logger
}

func NewConsumer(cfg Config, sink FixSink, log *zap.Logger) *Consumer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        1 * time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
		Dialer:         dialer,
		ErrorLogger:    kafka.LoggerFunc(log.Sugar().Errorf),
		CommitInterval: time.Second,
	})
	return newConsumer(reader, cfg.Topic, cfg.Workers, sink, log)
}

func newConsumer(reader messageReader, topic string, workers int, sink FixSink, log *zap.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		sink:     sink,
		validate: validator.New(),
		topic:    topic,
		workers:  workers,
		log:      log,
	}
}

// Run consumes until ctx is cancelled. Malformed messages are logged and skipped. Fixes are keyed
// by trip on the worker pool so each trip still sees its fixes in topic order.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("starting kafka fix consumer", zap.String("topic", c.topic), zap.Int("workers", c.workers))

	pool := concurrent.NewWorkerPool[Fix](c.workers, workerQueue)
	pool.Start(func(fix Fix) {
		c.sink.IngestFix(fix.TripID, fix.Point, fix.ObservedAt)
	})
	defer func() {
		pool.Close()
		pool.Wait()
		if err := c.reader.Close(); err != nil {
			c.log.Warn("closing kafka reader", zap.Error(err))
		}
	}()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("error reading kafka message, retrying", zap.Error(err), zap.Duration("delay", reconnectDelay))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay):
			}
			continue
		}

		fix, err := c.decode(msg)
		if err != nil {
			c.log.Warn("skipping kafka message", zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if err := pool.AddJob(ctx, fix.TripID, fix); err != nil {
			return nil
		}
	}
}

func (c *Consumer) decode(msg kafka.Message) (Fix, error) {
	var m fixMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return Fix{}, util.WrapErrorf(err, util.ErrBadParamInput, "fix message contains badly-formed JSON")
	}
	if err := c.validate.Struct(m); err != nil {
		return Fix{}, util.WrapErrorf(err, util.ErrBadParamInput, "invalid fix message")
	}

	tripID := m.TripID
	if tripID == "" {
		tripID = string(msg.Key)
	}
	if tripID == "" {
		return Fix{}, util.WrapErrorf(nil, util.ErrBadParamInput, "fix message at offset %d has no trip id", msg.Offset)
	}

	return Fix{
		TripID:     tripID,
		Point:      geo.NewCoordinate(*m.Lat, *m.Lng),
		ObservedAt: time.UnixMilli(m.ObservedAtMs),
	}, nil
}
