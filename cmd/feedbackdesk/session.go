package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prompt-edu/feedbackdesk/internal/feedbacksync"
)

// loadSession reads the cookies saved by a previous login. A missing file
// yields an empty session.
func loadSession(path string) (feedbacksync.Session, error) {
	var s feedbacksync.Session
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode session %s: %w", path, err)
	}
	return s, nil
}

func saveSession(path string, s feedbacksync.Session) error {
	if s.SessionID == "" && s.CSRFToken == "" {
		return removeSession(path)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
