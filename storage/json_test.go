package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedStore() *Store {
	s := NewStore()
	s.Add(Entry{
		Date:        baseTime.Add(2 * time.Hour),
		Link:        "https://t.me/c/100/3",
		URL:         "https://example.com/b",
		Description: []string{"second", "[url]"},
		Type:        DefaultType,
	})
	s.Add(Entry{
		Date:        baseTime,
		Link:        "https://t.me/c/100/1",
		URL:         "https://example.com/a",
		Description: []string{"first", "[url]"},
		Type:        DefaultType,
	})
	s.Add(Entry{
		Date:        baseTime.Add(time.Hour).Add(123456789 * time.Nanosecond),
		Link:        "https://t.me/c/100/2",
		URL:         "https://example.com/a",
		Description: []string{"[url]", "again"},
		Summary:     "ignored on repeat",
		Type:        "article",
	})
	return s
}

func TestJSONFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewJSONFiles(filepath.Join(dir, "message_storage.json"), filepath.Join(dir, "url_storage.json"))
	ctx := context.Background()

	s := populatedStore()
	require.NoError(t, p.Save(ctx, s.Snapshot()))

	snap, err := p.Load(ctx)
	require.NoError(t, err)

	loaded := NewStore()
	loaded.Restore(snap)

	assert.Equal(t, s.Messages(), loaded.Messages())
	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		want, _ := s.Aggregate(url)
		got, ok := loaded.Aggregate(url)
		require.True(t, ok, url)
		assert.Equal(t, want.Count, got.Count)
		assert.Equal(t, want.Links, got.Links)
		assert.Equal(t, want, got)
	}
}

func TestJSONFilesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewJSONFiles(filepath.Join(dir, "nope.json"), filepath.Join(dir, "nada.json"))

	snap, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.NotNil(t, snap.Messages)
	assert.Empty(t, snap.URLs)
	assert.NotNil(t, snap.URLs)
}

func TestJSONFilesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	msgPath := filepath.Join(dir, "message_storage.json")
	require.NoError(t, os.WriteFile(msgPath, []byte("{not json"), 0644))

	p := NewJSONFiles(msgPath, filepath.Join(dir, "url_storage.json"))
	_, err := p.Load(context.Background())
	assert.Error(t, err)
}

func TestJSONFilesOriginalFieldNames(t *testing.T) {
	dir := t.TempDir()
	msgPath := filepath.Join(dir, "message_storage.json")
	urlPath := filepath.Join(dir, "url_storage.json")
	p := NewJSONFiles(msgPath, urlPath)

	require.NoError(t, p.Save(context.Background(), populatedStore().Snapshot()))

	data, err := os.ReadFile(msgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chat_link":"https://t.me/c/100/1"`)

	data, err = os.ReadFile(urlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"count":2`)
	assert.Contains(t, string(data), `"type":"unknown"`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files are cleaned up")
}
