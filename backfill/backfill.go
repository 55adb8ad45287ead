// Package backfill replays recent chat history through the ingest path.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"url-digest-bot/chat"
	"url-digest-bot/ingest"
)

const (
	// DefaultWindow is how far back the history is scanned.
	DefaultWindow = 14 * 24 * time.Hour
	// DefaultDelay is the pause between two ingested messages.
	DefaultDelay = 500 * time.Millisecond
	// Query selects the history messages worth ingesting.
	Query = "https://"
)

// Adder stores a single message.
type Adder interface {
	Add(ctx context.Context, msg chat.Message) (bool, error)
}

// Result counts what a backfill run did.
type Result struct {
	Seen    int
	Added   int
	Dropped int
}

// Backfiller scans chat history and feeds it to an Adder.
type Backfiller struct {
	history chat.HistorySearcher
	adder   Adder
	window  time.Duration
	delay   time.Duration
	now     func() time.Time
}

// Option configures a Backfiller.
type Option func(*Backfiller)

// WithWindow sets how far back the history is scanned.
func WithWindow(d time.Duration) Option {
	return func(b *Backfiller) {
		b.window = d
	}
}

// WithDelay sets the fixed pause between messages.
func WithDelay(d time.Duration) Option {
	return func(b *Backfiller) {
		b.delay = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backfiller) {
		b.now = now
	}
}

// New creates a Backfiller.
func New(history chat.HistorySearcher, adder Adder, opts ...Option) *Backfiller {
	b := &Backfiller{
		history: history,
		adder:   adder,
		window:  DefaultWindow,
		delay:   DefaultDelay,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run ingests every history message of chatID that links somewhere and
// was posted inside the window. Messages that cannot be stored are logged
// and counted as dropped.
func (b *Backfiller) Run(ctx context.Context, chatID int64) (Result, error) {
	var res Result

	since := b.now().Add(-b.window)
	msgs, err := b.history.SearchHistory(ctx, chatID, Query, since)
	if err != nil {
		return res, fmt.Errorf("search history: %w", err)
	}

	slog.Info("starting backfill", "chat_id", chatID, "since", since, "messages", len(msgs))

	for i, msg := range msgs {
		if i > 0 && b.delay > 0 {
			if err := sleep(ctx, b.delay); err != nil {
				return res, err
			}
		}

		res.Seen++
		if msg.Timestamp().Before(since) {
			res.Dropped++
			continue
		}

		if _, err := b.adder.Add(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			slog.Warn("dropping history message", "link", msg.Link(), "error", err)
			res.Dropped++
			continue
		}
		res.Added++
	}

	slog.Info("backfill complete", "chat_id", chatID, "seen", res.Seen, "added", res.Added, "dropped", res.Dropped)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Adder = (*ingest.Ingester)(nil)
