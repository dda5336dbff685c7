// Package session reads and writes browser storage-state snapshots: the
// cookies and per-origin localStorage needed to resume an authenticated
// session without logging in again. The on-disk layout is the storageState
// JSON emitted by common browser tooling, so snapshots produced elsewhere
// can be reused directly.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds; -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"` // Strict, Lax, or None
}

type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Load reads a snapshot from disk. A missing file is not an error: it means
// no saved session, and the caller falls back to interactive login.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse session state %s: %w", path, err)
	}
	return &st, nil
}

// Save writes a snapshot atomically (temp file + rename) so a crash never
// leaves a half-written state file behind.
func Save(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}

// LocalStorageFor returns the saved localStorage entries for an origin, or
// nil when the snapshot has none.
func (s *State) LocalStorageFor(origin string) []StorageItem {
	if s == nil {
		return nil
	}
	for _, o := range s.Origins {
		if o.Origin == origin {
			return o.LocalStorage
		}
	}
	return nil
}

// Empty reports whether the snapshot carries nothing usable.
func (s *State) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}
