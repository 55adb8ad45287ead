package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ExportHistory searches a Telegram Desktop chat export (result.json).
// The Bot API cannot read chat history, so backfill works from an export
// taken by a member of the group.
type ExportHistory struct {
	path string
	loc  *time.Location
}

// NewExportHistory creates a searcher over the export at path. Dates in
// the export without a unix timestamp are read in loc.
func NewExportHistory(path string, loc *time.Location) *ExportHistory {
	if loc == nil {
		loc = time.UTC
	}
	return &ExportHistory{path: path, loc: loc}
}

type exportFile struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	ID       int64           `json:"id"`
	Messages []exportMessage `json:"messages"`
}

type exportMessage struct {
	ID           int             `json:"id"`
	Type         string          `json:"type"`
	Date         string          `json:"date"`
	DateUnixtime string          `json:"date_unixtime"`
	Text         json.RawMessage `json:"text"`
}

// SearchHistory implements HistorySearcher.
func (e *ExportHistory) SearchHistory(ctx context.Context, chatID int64, query string, since time.Time) ([]Message, error) {
	if e.path == "" {
		return nil, ErrNoHistory
	}

	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, e.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	var export exportFile
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	if export.ID != 0 && export.ID != internalID(chatID) {
		return nil, fmt.Errorf("export is for chat %d (%q), not %d", export.ID, export.Name, chatID)
	}

	var found []Message
	for _, m := range export.Messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.Type != "message" {
			continue
		}

		at, err := e.messageTime(m)
		if err != nil {
			slog.Warn("skipping export message", "id", m.ID, "error", err)
			continue
		}
		if at.Before(since) {
			continue
		}

		text, err := flattenText(m.Text)
		if err != nil {
			slog.Warn("skipping export message", "id", m.ID, "error", err)
			continue
		}
		if !strings.Contains(text, query) {
			continue
		}

		found = append(found, Record{
			At:   at,
			URL:  MessageLink(chatID, "", m.ID),
			Body: text,
		})
	}

	return found, nil
}

func (e *ExportHistory) messageTime(m exportMessage) (time.Time, error) {
	if m.DateUnixtime != "" {
		sec, err := strconv.ParseInt(m.DateUnixtime, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date_unixtime %q: %w", m.DateUnixtime, err)
		}
		return time.Unix(sec, 0).UTC(), nil
	}

	t, err := time.ParseInLocation("2006-01-02T15:04:05", m.Date, e.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", m.Date, err)
	}
	return t.UTC(), nil
}

// flattenText joins the text of an export message. The field is either a
// plain string or an array mixing strings and {"type","text"} entities.
func flattenText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("unexpected text field: %w", err)
	}

	var sb strings.Builder
	for _, p := range parts {
		var str string
		if err := json.Unmarshal(p, &str); err == nil {
			sb.WriteString(str)
			continue
		}
		var entity struct {
			Text string `json:"text"`
			Href string `json:"href"`
		}
		if err := json.Unmarshal(p, &entity); err != nil {
			return "", fmt.Errorf("unexpected text entity: %w", err)
		}
		sb.WriteString(entity.Text)
		if entity.Href != "" && entity.Href != entity.Text {
			sb.WriteString(" " + entity.Href)
		}
	}
	return sb.String(), nil
}
