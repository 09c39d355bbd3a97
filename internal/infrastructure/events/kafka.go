package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/logger"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter hands a decoded completion event to the handler and waits for the outcome;
// core.CompletionQueue satisfies it.
type Submitter interface {
	SubmitAndWait(ctx context.Context, event model.CompletionEvent) error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// CompletionConsumer feeds model run completion events from Kafka into the completion queue.
type CompletionConsumer struct {
	reader MessageReader
	queue  Submitter
	log    *logger.Logger
}

func NewCompletionConsumer(cfg ConsumerConfig, queue Submitter, log *logger.Logger) *CompletionConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
	return NewCompletionConsumerWithReader(reader, queue, log)
}

func NewCompletionConsumerWithReader(reader MessageReader, queue Submitter, log *logger.Logger) *CompletionConsumer {
	return &CompletionConsumer{reader: reader, queue: queue, log: log.With("component", "completion_consumer")}
}

// Run consumes until ctx is cancelled. An offset is committed only after its event has been
// handled, so a crash before then redelivers it; handling an already finished run is a no-op.
// Undecodable events and events the handler rejects outright are committed and dropped so they
// cannot block the partition. Any other handler failure stops the consumer without committing.
func (c *CompletionConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch completion event: %w", err)
		}

		event, err := decode(msg)
		if err != nil {
			c.log.Error("Dropping malformed completion event", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		} else if err := c.queue.SubmitAndWait(ctx, event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !permanent(err) {
				return fmt.Errorf("failed to handle completion of %s: %w", event.RunName, err)
			}
			c.log.Error("Dropping rejected completion event", "model_run", event.RunName, "offset", msg.Offset, "error", err)
		} else {
			c.log.Debug("Handled completion event", "model_run", event.RunName, "status", event.Status)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// permanent reports whether redelivering the event could never succeed.
func permanent(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidRunStatus)
}

func (c *CompletionConsumer) Close() error {
	return c.reader.Close()
}

var errNoRunName = errors.New("completion event without model run name")

func decode(msg kafka.Message) (model.CompletionEvent, error) {
	var event model.CompletionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, err
	}
	if event.RunName == "" {
		event.RunName = string(msg.Key)
	}
	if event.RunName == "" {
		return event, errNoRunName
	}
	return event, nil
}
