package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/pushpay-backend/pkg/bootstrap"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
)

type options struct {
	eventID   string
	reason    string
	eventType string
	since     time.Duration
	limit     int
}

type dlqStore interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

type command func(ctx context.Context, store dlqStore, opts options, out io.Writer) error

var commands = map[string]command{
	"list":    listEntries,
	"show":    showEntry,
	"requeue": requeueEntry,
}

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "list", "list|show|requeue")
	var opts options
	flag.StringVar(&opts.eventID, "event", "", "outbox event id for show and requeue")
	flag.StringVar(&opts.reason, "reason", "", "list filter: max_attempts|non_retryable|rejected")
	flag.StringVar(&opts.eventType, "type", "", "list filter: outbox event type")
	flag.DurationVar(&opts.since, "since", 0, "list filter: only failures newer than this")
	flag.IntVar(&opts.limit, "limit", 50, "list page size")
	flag.Parse()

	run, ok := commands[*cmd]
	if !ok {
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd), "parse flags")
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logg := bootstrap.Logger(cfg, "outbox-dlq", os.Stderr)
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err, "connect database")
	defer dbClient.Close()

	if err := run(ctx, outbox.NewDLQRepository(dbClient.DB()), opts, os.Stdout); err != nil {
		logg.Error(ctx, "dlq command failed", err)
		os.Exit(1)
	}
}

func listEntries(ctx context.Context, store dlqStore, opts options, out io.Writer) error {
	filter := outbox.DLQFilter{Limit: opts.limit}
	if opts.reason != "" {
		filter.Reason = enums.OutboxDLQErrorReason(opts.reason)
		if !filter.Reason.IsValid() {
			return fmt.Errorf("unknown reason %q", opts.reason)
		}
	}
	if opts.eventType != "" {
		eventType, err := enums.ParseOutboxEventType(opts.eventType)
		if err != nil {
			return err
		}
		filter.EventType = eventType
	}
	if opts.since > 0 {
		filter.FailedAfter = time.Now().Add(-opts.since)
	}

	rows, err := store.List(ctx, filter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, row := range rows {
		if err := enc.Encode(summarize(row)); err != nil {
			return err
		}
	}
	return nil
}

func showEntry(ctx context.Context, store dlqStore, opts options, out io.Writer) error {
	eventID, err := parseEventID(opts.eventID)
	if err != nil {
		return err
	}
	entry, err := store.FindByEventID(ctx, eventID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		entrySummary
		Payload json.RawMessage `json:"payload"`
	}{summarize(*entry), entry.Payload})
}

func requeueEntry(ctx context.Context, store dlqStore, opts options, out io.Writer) error {
	eventID, err := parseEventID(opts.eventID)
	if err != nil {
		return err
	}
	if err := store.Requeue(ctx, eventID); err != nil {
		if errors.Is(err, outbox.ErrNotRequeueable) {
			return fmt.Errorf("%s: %w; inspect it with -cmd=show", eventID, err)
		}
		return err
	}
	_, err = fmt.Fprintf(out, "requeued %s\n", eventID)
	return err
}

type entrySummary struct {
	EventID     string `json:"eventId"`
	EventType   string `json:"eventType"`
	AggregateID string `json:"aggregateId"`
	Reason      string `json:"reason"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts"`
	FailedAt    string `json:"failedAt"`
}

func summarize(row models.OutboxDLQ) entrySummary {
	s := entrySummary{
		EventID:     row.EventID.String(),
		EventType:   string(row.EventType),
		AggregateID: row.AggregateID.String(),
		Reason:      row.ErrorReason.String(),
		Attempts:    row.AttemptCount,
		FailedAt:    row.FailedAt.UTC().Format(time.RFC3339),
	}
	if row.ErrorMessage != nil {
		s.Error = *row.ErrorMessage
	}
	return s
}

func parseEventID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.New("-event is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-event: %w", err)
	}
	return id, nil
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
