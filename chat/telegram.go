package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const pollTimeoutSecs = 30

// Telegram sends and receives messages through the Telegram Bot API.
type Telegram struct {
	api *tgbotapi.BotAPI
}

// NewTelegram wraps an authenticated bot API client.
func NewTelegram(api *tgbotapi.BotAPI) *Telegram {
	return &Telegram{api: api}
}

// Send implements Sender.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string, replyTo int) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyTo

	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// Poll long-polls for updates and calls handle for every message, in
// arrival order, until ctx is cancelled.
func (t *Telegram) Poll(ctx context.Context, handle func(Incoming)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSecs
	u.AllowedUpdates = []string{"message"}

	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			in, ok := FromTelegram(update.Message)
			if !ok {
				slog.Debug("skipping message without text", "chat_id", update.Message.Chat.ID)
				continue
			}
			handle(in)
		}
	}
}

// FromTelegram converts a Bot API message. Messages without text or
// caption are rejected.
func FromTelegram(m *tgbotapi.Message) (Incoming, bool) {
	if m == nil || m.Chat == nil {
		return Incoming{}, false
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return Incoming{}, false
	}

	in := Incoming{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Message: Record{
			At:   time.Unix(int64(m.Date), 0).UTC(),
			URL:  MessageLink(m.Chat.ID, m.Chat.UserName, m.MessageID),
			Body: text,
		},
	}
	if m.IsCommand() {
		in.Command = m.Command()
	}
	return in, true
}
