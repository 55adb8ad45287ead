package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"url-digest-bot/backfill"
	"url-digest-bot/chat"
	"url-digest-bot/digest"
	"url-digest-bot/ingest"
	"url-digest-bot/storage"
)

const settingListening = "listening"

// MessageSender sends messages to the chat.
type MessageSender interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
}

// Executor runs a function against the store on its owning goroutine.
type Executor interface {
	Do(ctx context.Context, fn func(*storage.Store)) error
}

// Ingester stores the URL of a message.
type Ingester interface {
	Add(ctx context.Context, msg chat.Message) (bool, error)
}

// Backfiller replays chat history into the store.
type Backfiller interface {
	Run(ctx context.Context, chatID int64) (backfill.Result, error)
}

// DigestRunner posts digests.
type DigestRunner interface {
	Run(ctx context.Context, chatID int64, replyTo int) (int, error)
}

// SettingsStore manages persistent settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Bot routes incoming messages: commands go to their handlers, plain
// messages from the monitored group go to the ingester once the bot is
// listening.
type Bot struct {
	sender     MessageSender
	exec       Executor
	ingester   Ingester
	backfiller Backfiller
	digests    DigestRunner
	settings   SettingsStore
	groupID    int64

	listening   atomic.Bool
	backfilling atomic.Bool
	jobs        sync.WaitGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithSettings persists the listening state.
func WithSettings(s SettingsStore) Option {
	return func(b *Bot) {
		b.settings = s
	}
}

// WithListening sets the initial listening state.
func WithListening(on bool) Option {
	return func(b *Bot) {
		b.listening.Store(on)
	}
}

// New creates a Bot for the group identified by groupID.
func New(
	sender MessageSender,
	exec Executor,
	ingester Ingester,
	backfiller Backfiller,
	digests DigestRunner,
	groupID int64,
	opts ...Option,
) *Bot {
	b := &Bot{
		sender:     sender,
		exec:       exec,
		ingester:   ingester,
		backfiller: backfiller,
		digests:    digests,
		groupID:    groupID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RestoreState reads the persisted listening state, if any.
func (b *Bot) RestoreState(ctx context.Context) {
	if b.settings == nil {
		return
	}
	value, err := b.settings.GetSetting(ctx, settingListening)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to read listening state", "error", err)
		}
		return
	}
	if on, err := strconv.ParseBool(value); err == nil && on {
		b.listening.Store(true)
	}
}

// Listening reports whether group messages are being ingested.
func (b *Bot) Listening() bool {
	return b.listening.Load()
}

// Wait blocks until background ingests and command jobs have finished.
func (b *Bot) Wait() {
	b.jobs.Wait()
}

// Handle processes one incoming message.
func (b *Bot) Handle(ctx context.Context, in chat.Incoming) {
	if in.Command != "" {
		slog.Info("received command", "chat_id", in.ChatID, "command", in.Command)
		if err := b.handleCommand(ctx, in); err != nil {
			slog.Warn("command failed", "command", in.Command, "chat_id", in.ChatID, "error", err)
		}
		return
	}

	if in.ChatID != b.groupID || !b.Listening() {
		return
	}

	// Classification may fetch the URL, so it runs off the caller's
	// goroutine and the update poller keeps draining.
	b.jobs.Add(1)
	go func() {
		defer b.jobs.Done()
		b.ingest(ctx, in.Message)
	}()
}

func (b *Bot) ingest(ctx context.Context, msg chat.Message) {
	if _, err := b.ingester.Add(ctx, msg); err != nil {
		if errors.Is(err, ingest.ErrNoURL) {
			slog.Debug("dropping message without url", "link", msg.Link())
			return
		}
		slog.Warn("failed to store message", "link", msg.Link(), "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, in chat.Incoming) error {
	switch strings.ToLower(in.Command) {
	case "build_storage":
		return b.HandleBuildStorage(ctx, in)
	case "start", "start_summarize":
		return b.HandleStart(ctx, in)
	case "summary", "summarize":
		return b.HandleSummary(ctx, in)
	case "test":
		return b.HandleTest(ctx, in)
	case "diagnose":
		return b.HandleDiagnose(ctx, in)
	case "dedupe":
		return b.HandleDedupe(ctx, in)
	case "help":
		return b.reply(ctx, in, helpText)
	default:
		return nil
	}
}

const helpText = "Commands:\n" +
	"/start - Start listening for URLs and import recent history\n" +
	"/build_storage - Import URLs from the last two weeks of history\n" +
	"/summary - Post the URL digest to the group\n" +
	"/test - Post the URL digest here\n" +
	"/diagnose - Show storage statistics\n" +
	"/dedupe - Drop repeated messages from the log"

// HandleStart switches the bot to listening and imports recent history.
func (b *Bot) HandleStart(ctx context.Context, in chat.Incoming) error {
	if b.listening.Swap(true) {
		return b.reply(ctx, in, "Already listening for URLs.")
	}

	if b.settings != nil {
		if err := b.settings.SetSetting(ctx, settingListening, "true"); err != nil {
			slog.Warn("failed to save listening state", "error", err)
		}
	}
	slog.Info("started listening", "group_id", b.groupID)

	if err := b.reply(ctx, in, "Started listening for URLs."); err != nil {
		return err
	}
	return b.HandleBuildStorage(ctx, in)
}

// HandleBuildStorage runs a backfill of the monitored group in the
// background and reports the outcome.
func (b *Bot) HandleBuildStorage(ctx context.Context, in chat.Incoming) error {
	if !b.backfilling.CompareAndSwap(false, true) {
		return b.reply(ctx, in, "Building storage is already in progress.")
	}

	b.jobs.Add(1)
	go func() {
		defer b.jobs.Done()
		defer b.backfilling.Store(false)

		res, err := b.backfiller.Run(ctx, b.groupID)
		var msg string
		switch {
		case errors.Is(err, chat.ErrNoHistory):
			msg = "No chat history available. Set history_export_path to a Telegram export of the group."
		case err != nil:
			slog.Warn("backfill failed", "error", err)
			msg = fmt.Sprintf("Building storage failed after %d messages.", res.Seen)
		default:
			msg = fmt.Sprintf("Finished building storage: %d messages scanned, %d stored, %d dropped.",
				res.Seen, res.Added, res.Dropped)
		}
		if err := b.reply(ctx, in, msg); err != nil {
			slog.Warn("failed to report backfill", "error", err)
		}
	}()
	return nil
}

// HandleSummary posts the digest to the monitored group.
func (b *Bot) HandleSummary(ctx context.Context, in chat.Incoming) error {
	n, err := b.digests.Run(ctx, b.groupID, 0)
	switch {
	case errors.Is(err, digest.ErrEmpty):
		return b.reply(ctx, in, "No URLs to summarize.")
	case err != nil:
		if rerr := b.reply(ctx, in, "Failed to post digest."); rerr != nil {
			slog.Warn("failed to report digest failure", "error", rerr)
		}
		return fmt.Errorf("post digest: %w", err)
	}

	if in.ChatID == b.groupID {
		return nil
	}
	return b.reply(ctx, in, fmt.Sprintf("Digest with %d URLs posted.", n))
}

// HandleTest posts the digest in the chat the command came from.
func (b *Bot) HandleTest(ctx context.Context, in chat.Incoming) error {
	_, err := b.digests.Run(ctx, in.ChatID, in.MessageID)
	switch {
	case errors.Is(err, digest.ErrEmpty):
		return b.reply(ctx, in, "No URLs to summarize.")
	case err != nil:
		if rerr := b.reply(ctx, in, "Failed to build digest."); rerr != nil {
			slog.Warn("failed to report digest failure", "error", rerr)
		}
		return fmt.Errorf("test digest: %w", err)
	}
	return nil
}

// HandleDiagnose reports the size of the store.
func (b *Bot) HandleDiagnose(ctx context.Context, in chat.Incoming) error {
	var stats storage.Stats
	if err := b.exec.Do(ctx, func(s *storage.Store) {
		stats = s.Stats()
	}); err != nil {
		if rerr := b.reply(ctx, in, "Failed to read storage."); rerr != nil {
			slog.Warn("failed to report diagnose failure", "error", rerr)
		}
		return fmt.Errorf("read stats: %w", err)
	}

	return b.reply(ctx, in, FormatDiagnosis(stats, b.Listening(), b.backfilling.Load(), time.Now()))
}

// HandleDedupe drops repeated messages from the log.
func (b *Bot) HandleDedupe(ctx context.Context, in chat.Incoming) error {
	var removed int
	if err := b.exec.Do(ctx, func(s *storage.Store) {
		removed = s.Dedupe()
	}); err != nil {
		if rerr := b.reply(ctx, in, "Failed to deduplicate messages."); rerr != nil {
			slog.Warn("failed to report dedupe failure", "error", rerr)
		}
		return fmt.Errorf("dedupe: %w", err)
	}

	slog.Info("deduplicated message log", "removed", removed)
	return b.reply(ctx, in, fmt.Sprintf("Removed %d duplicate messages.", removed))
}

// FormatDiagnosis renders store statistics for the diagnose command.
func FormatDiagnosis(stats storage.Stats, listening, backfilling bool, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("📊 Storage:\n\n")
	sb.WriteString(fmt.Sprintf("Messages: %s\n", humanize.Comma(int64(stats.Messages))))
	sb.WriteString(fmt.Sprintf("URLs: %s\n", humanize.Comma(int64(stats.URLs))))
	if stats.Latest.IsZero() {
		sb.WriteString("Last URL: never\n")
	} else {
		sb.WriteString(fmt.Sprintf("Last URL: %s\n", humanize.RelTime(stats.Latest, now, "ago", "from now")))
	}
	sb.WriteString(fmt.Sprintf("Listening: %s\n", yesNo(listening)))
	sb.WriteString(fmt.Sprintf("Building storage: %s", yesNo(backfilling)))
	return sb.String()
}

func (b *Bot) reply(ctx context.Context, in chat.Incoming, text string) error {
	_, err := b.sender.Send(ctx, in.ChatID, text, in.MessageID)
	return err
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
