// Package ingest is the single add-message path shared by live listening
// and backfill.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"url-digest-bot/chat"
	"url-digest-bot/classifier"
	"url-digest-bot/extract"
	"url-digest-bot/storage"
)

// ErrNoURL is returned for messages that carry no URL.
var ErrNoURL = errors.New("message has no url")

// Executor runs a function against the store on its owning goroutine.
type Executor interface {
	Do(ctx context.Context, fn func(*storage.Store)) error
}

// Ingester extracts, classifies and stores URLs from chat messages.
type Ingester struct {
	exec       Executor
	classifier classifier.Classifier
}

// New creates an Ingester.
func New(exec Executor, c classifier.Classifier) *Ingester {
	if c == nil {
		c = classifier.Stub{}
	}
	return &Ingester{exec: exec, classifier: c}
}

// Add stores the first URL of msg. Only the first URL of a message is
// tracked. A classification failure is logged and the URL is stored as
// unknown.
func (i *Ingester) Add(ctx context.Context, msg chat.Message) (bool, error) {
	parsed := extract.Parse(msg.Text())
	if len(parsed.URLs) == 0 {
		return false, ErrNoURL
	}
	url := parsed.URLs[0]
	if extra := len(parsed.URLs) - 1; extra > 0 {
		slog.Debug("ignoring extra urls in message", "link", msg.Link(), "url", url, "ignored", extra)
	}

	summary, typ, err := i.classifier.Classify(ctx, url)
	if err != nil {
		slog.Warn("failed to classify url", "url", url, "error", err)
		summary, typ = "", storage.DefaultType
	}

	entry := storage.Entry{
		Date:        msg.Timestamp(),
		Link:        msg.Link(),
		URL:         url,
		Description: parsed.Description,
		Summary:     summary,
		Type:        typ,
	}

	var created bool
	if err := i.exec.Do(ctx, func(s *storage.Store) {
		created = s.Add(entry)
	}); err != nil {
		return false, fmt.Errorf("store %s: %w", url, err)
	}

	slog.Info("stored url", "url", url, "link", entry.Link, "new", created)
	return created, nil
}
