package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"url-digest-bot/storage"
)

const (
	// DefaultWindow is how far back a digest looks.
	DefaultWindow = 24 * time.Hour
	// DefaultLimit caps the number of lines in a digest.
	DefaultLimit = 10

	header = "URL Summary:"
)

// ErrEmpty is returned when no URL falls inside the digest window.
var ErrEmpty = errors.New("no urls in digest window")

// Executor runs a function against the store on its owning goroutine.
type Executor interface {
	Do(ctx context.Context, fn func(*storage.Store)) error
}

// Sender posts the digest text.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
}

// Lookup resolves a URL to its aggregate.
type Lookup func(url string) (storage.URLAggregate, bool)

// Build returns one line per record dated inside (now-window, now], oldest
// first, capped at limit. Records whose URL has no aggregate are skipped.
func Build(records []storage.MessageRecord, lookup Lookup, now time.Time, window time.Duration, limit int) []string {
	cutoff := now.Add(-window)

	lines := []string{}
	for _, rec := range records {
		if limit > 0 && len(lines) >= limit {
			break
		}
		if !rec.Date.After(cutoff) || rec.Date.After(now) {
			continue
		}

		agg, ok := lookup(rec.URL)
		if !ok {
			slog.Warn("message url has no aggregate", "url", rec.URL, "link", rec.Link)
			continue
		}
		lines = append(lines, FormatLine(rec.URL, agg))
	}
	return lines
}

// FormatLine renders a single digest line.
func FormatLine(url string, agg storage.URLAggregate) string {
	return url
}

// Format joins digest lines under the digest header.
func Format(lines []string) string {
	return header + "\n" + strings.Join(lines, "\n")
}

// Runner builds digests from the store and posts them.
type Runner struct {
	exec   Executor
	sender Sender
	window time.Duration
	limit  int
	now    func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithWindow sets how far back the digest looks.
func WithWindow(d time.Duration) Option {
	return func(r *Runner) {
		r.window = d
	}
}

// WithLimit sets the maximum number of lines per digest.
func WithLimit(n int) Option {
	return func(r *Runner) {
		r.limit = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a new digest runner.
func NewRunner(exec Executor, sender Sender, opts ...Option) *Runner {
	r := &Runner{
		exec:   exec,
		sender: sender,
		window: DefaultWindow,
		limit:  DefaultLimit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lines builds the current digest lines.
func (r *Runner) Lines(ctx context.Context) ([]string, error) {
	now := r.now()

	var lines []string
	err := r.exec.Do(ctx, func(s *storage.Store) {
		lines = Build(s.Since(now.Add(-r.window)), s.Aggregate, now, r.window, r.limit)
	})
	if err != nil {
		return nil, fmt.Errorf("build digest: %w", err)
	}
	return lines, nil
}

// Run posts the digest to chatID, as a reply when replyTo is non-zero.
// It returns the number of lines sent, or ErrEmpty when there was nothing
// to send.
func (r *Runner) Run(ctx context.Context, chatID int64, replyTo int) (int, error) {
	if chatID == 0 {
		return 0, fmt.Errorf("chat_id not set")
	}

	slog.Info("starting digest run", "chat_id", chatID, "window", r.window, "limit", r.limit)

	lines, err := r.Lines(ctx)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		slog.Info("no urls to send")
		return 0, ErrEmpty
	}

	if _, err := r.sender.Send(ctx, chatID, Format(lines), replyTo); err != nil {
		return 0, fmt.Errorf("send digest: %w", err)
	}

	slog.Info("digest run complete", "chat_id", chatID, "sent", len(lines))
	return len(lines), nil
}
