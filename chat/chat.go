// Package chat is the boundary between the bot and the chat platform.
// Everything past this package sees messages only through the narrow
// Message interface.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoHistory is returned when no chat history source is available.
var ErrNoHistory = errors.New("no chat history available")

// Message is the part of a chat message the bot cares about.
type Message interface {
	Timestamp() time.Time
	Link() string
	Text() string
}

// Sender posts text to a chat. A non-zero replyTo makes the message a
// reply. It returns the ID of the sent message.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) (int, error)
}

// HistorySearcher finds past messages of a chat that contain query and
// were posted at or after since, oldest first.
type HistorySearcher interface {
	SearchHistory(ctx context.Context, chatID int64, query string, since time.Time) ([]Message, error)
}

// Record is a plain Message.
type Record struct {
	At   time.Time
	URL  string
	Body string
}

// Timestamp implements Message.
func (r Record) Timestamp() time.Time { return r.At }

// Link implements Message.
func (r Record) Link() string { return r.URL }

// Text implements Message.
func (r Record) Text() string { return r.Body }

// Incoming is a message delivered to the bot, with the routing details
// the command handlers need.
type Incoming struct {
	ChatID    int64
	MessageID int
	Command   string
	Message   Message
}

const supergroupPrefix = -1000000000000

// MessageLink builds the t.me link of a message. Supergroups and
// channels always get the /c/ form, even when they have a username, so a
// message has the same link whether it arrives live or from an export.
// Other public chats use their username. Chats with no shareable link get
// a "chatID/messageID" identifier instead.
func MessageLink(chatID int64, username string, messageID int) string {
	if chatID < supergroupPrefix {
		return fmt.Sprintf("https://t.me/c/%d/%d", supergroupPrefix-chatID, messageID)
	}
	if username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}
	return fmt.Sprintf("%d/%d", chatID, messageID)
}

// internalID strips the -100 prefix Telegram puts in front of supergroup
// and channel IDs.
func internalID(chatID int64) int64 {
	if chatID < supergroupPrefix {
		return supergroupPrefix - chatID
	}
	if chatID < 0 {
		return -chatID
	}
	return chatID
}
