package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/retry"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

// SectorLedger is the write side of the sector ledger the consumer feeds
type SectorLedger interface {
	Upsert(ctx context.Context, in models.SectorInput) (*models.SectorObservation, sentiment.Recomputation, error)
	Delete(ctx context.Context, sector models.Sector, date time.Time) (bool, sentiment.Recomputation, error)
}

// messageReader is the subset of *kafka.Reader the consumer needs
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer applies sector entry events from Kafka to the ledger
type Consumer struct {
	reader messageReader
	ledger SectorLedger
	policy retry.Policy
	log    zerolog.Logger
}

// NewConsumer creates a new Kafka consumer for sector entry events
func NewConsumer(brokers []string, topic, groupID string, ledger SectorLedger, policy retry.Policy, log zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader: reader,
		ledger: ledger,
		policy: policy,
		log:    log.With().Str("component", "kafka_consumer").Str("topic", topic).Logger(),
	}
}

// Start consumes messages until ctx is cancelled, then closes the reader so
// the group is left cleanly and pending offsets are committed.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info().Msg("starting sector entry consumer")

	for {
		select {
		case <-ctx.Done():
			return c.close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.close()
				}
				c.log.Error().Err(err).Msg("error reading message")
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.log.Error().Err(err).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("error processing message")
			}
		}
	}
}

func (c *Consumer) close() error {
	c.log.Info().Msg("sector entry consumer shutting down")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

// processMessage handles a single Kafka message. Malformed and invalid
// entries are reported and skipped; transient storage failures are retried.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.SectorEntryEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal sector entry event: %w", err)
	}

	switch event.EventType {
	case models.EntryEventUpsert, models.EntryEventDelete:
	default:
		c.log.Debug().Str("event_type", event.EventType).Msg("ignoring event type")
		return nil
	}

	in, err := convertEntry(event.Data)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, c.policy, sentiment.IsTransient, func() error {
		if event.EventType == models.EntryEventDelete {
			_, _, err := c.ledger.Delete(ctx, in.Sector, in.Date)
			return err
		}
		_, _, err := c.ledger.Upsert(ctx, in)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply %s for %s on %s: %w", event.EventType, in.Sector, models.DateKey(in.Date), err)
	}

	c.log.Info().
		Str("event_type", event.EventType).
		Str("source", event.Source).
		Str("sector", string(in.Sector)).
		Str("date", models.DateKey(in.Date)).
		Msg("applied sector entry")
	return nil
}

// convertEntry maps the wire entry to a ledger input. Sector membership in
// the configured set is left to the ledger.
func convertEntry(e models.SectorEntry) (models.SectorInput, error) {
	sector, err := models.ParseSector(e.Sector, models.AllSectors)
	if err != nil {
		return models.SectorInput{}, fmt.Errorf("invalid sector entry: %w", err)
	}
	if e.Date == "" {
		return models.SectorInput{}, errors.New("invalid sector entry: missing date")
	}
	date, err := models.ParseDate(e.Date)
	if err != nil {
		return models.SectorInput{}, fmt.Errorf("invalid sector entry: %w", err)
	}

	return models.SectorInput{
		Sector:         sector,
		Date:           date,
		PositiveCount:  e.PositiveCount,
		NegativeCount:  e.NegativeCount,
		UnchangedCount: e.UnchangedCount,
		TotalCount:     e.TotalCount,
	}, nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
