package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const playedValue = "yes"

// Flags persists the device-local "played once" marker.
type Flags interface {
	PlayedOnce() bool
	MarkPlayed() error
	Reset() error
}

// FileFlags keeps the flag in a small file, usually under the user config
// directory.
type FileFlags struct {
	Path string
}

// DefaultFlagsPath is <user config dir>/vibecheck/playedOnce.
func DefaultFlagsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "vibecheck", "playedOnce"), nil
}

func (f FileFlags) PlayedOnce() bool {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) == playedValue
}

func (f FileFlags) MarkPlayed() error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}
	return os.WriteFile(f.Path, []byte(playedValue), 0644)
}

func (f FileFlags) Reset() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type MemoryFlags struct {
	mu     sync.Mutex
	played bool
}

func (m *MemoryFlags) PlayedOnce() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played
}

func (m *MemoryFlags) MarkPlayed() error {
	m.mu.Lock()
	m.played = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryFlags) Reset() error {
	m.mu.Lock()
	m.played = false
	m.mu.Unlock()
	return nil
}
