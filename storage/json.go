package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// JSONFiles persists the store as two JSON documents, one per view.
type JSONFiles struct {
	messagesPath string
	urlsPath     string
}

// NewJSONFiles creates a persister for the given file paths.
func NewJSONFiles(messagesPath, urlsPath string) *JSONFiles {
	return &JSONFiles{
		messagesPath: messagesPath,
		urlsPath:     urlsPath,
	}
}

// Load reads both files. A missing file yields an empty view.
func (j *JSONFiles) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Messages: []MessageRecord{},
		URLs:     make(map[string]URLAggregate),
	}

	if err := readJSON(j.messagesPath, &snap.Messages); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if err := readJSON(j.urlsPath, &snap.URLs); err != nil {
		return nil, fmt.Errorf("load urls: %w", err)
	}

	if snap.Messages == nil {
		snap.Messages = []MessageRecord{}
	}
	if snap.URLs == nil {
		snap.URLs = make(map[string]URLAggregate)
	}
	return snap, nil
}

// Save rewrites both files in full.
func (j *JSONFiles) Save(ctx context.Context, snap *Snapshot) error {
	if err := writeJSON(j.messagesPath, snap.Messages); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	if err := writeJSON(j.urlsPath, snap.URLs); err != nil {
		return fmt.Errorf("save urls: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes to a temp file in the same directory and renames it
// over path so readers never see a half-written file.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
