package power

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ScratchStore holds the control record while the device sleeps. Its content
// survives a suspend but not a power loss.
type ScratchStore interface {
	Load() ([]byte, error)
	Store([]byte) error
}

// FileScratch keeps the record in a file, normally on tmpfs.
type FileScratch struct {
	Path string
}

func (f FileScratch) Load() ([]byte, error) {
	return os.ReadFile(f.Path)
}

func (f FileScratch) Store(b []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("power: scratch dir: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("power: write scratch: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

// MemScratch is a ScratchStore in memory.
type MemScratch struct {
	lock   sync.Mutex
	data   []byte
	Writes int
}

func (m *MemScratch) Load() ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.data == nil {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemScratch) Store(b []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data = append([]byte(nil), b...)
	m.Writes++
	return nil
}
