package database

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// FileMetadata is written next to the gob file for quick inspection and validation.
type FileMetadata struct {
	Count   int       `json:"count"`
	Dim     int       `json:"dim"`
	SavedAt time.Time `json:"saved_at"`
	Version int       `json:"version"`
}

const fileFormatVersion = 1

// FileBackend persists enrollments to a gob file. Every write rewrites the
// whole file through a temporary file and rename, so a crash never leaves a
// partially written store behind.
type FileBackend struct {
	path    string
	mu      sync.Mutex
	entries map[string]Enrollment // nil until first loaded
	lock    *os.File              // held <path>.lock while a store is open
}

var (
	_ Backend  = (*FileBackend)(nil)
	_ Replacer = (*FileBackend)(nil)
	_ Locker   = (*FileBackend)(nil)
)

// NewFileBackend creates a backend writing to path. The file is created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Lock takes an exclusive, non-blocking lock on <path>.lock and drops any
// cached entries so the next load reads what the previous holder wrote.
func (f *FileBackend) Lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock != nil {
		return ErrBackendLocked
	}
	lf, err := lockFile(f.path + ".lock")
	if err != nil {
		return err
	}
	f.lock = lf
	f.entries = nil
	return nil
}

// Unlock releases the lock taken by Lock.
func (f *FileBackend) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock == nil {
		return nil
	}
	err := unlockFile(f.lock)
	f.lock = nil
	return err
}

// LoadAll reads every enrollment from disk. A missing file is an empty store.
func (f *FileBackend) LoadAll(ctx context.Context) ([]Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	return f.sortedLocked(), nil
}

// Save upserts e and rewrites the file.
func (f *FileBackend) Save(ctx context.Context, e Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return err
	}
	f.entries[e.IdentityID] = e.Clone()
	return f.writeLocked()
}

// Delete removes identityID and rewrites the file.
func (f *FileBackend) Delete(ctx context.Context, identityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return err
	}
	if _, ok := f.entries[identityID]; !ok {
		return nil
	}
	delete(f.entries, identityID)
	return f.writeLocked()
}

// ReplaceAll overwrites the file with exactly the given enrollments.
func (f *FileBackend) ReplaceAll(ctx context.Context, enrollments []Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = make(map[string]Enrollment, len(enrollments))
	for _, e := range enrollments {
		f.entries[e.IdentityID] = e.Clone()
	}
	return f.writeLocked()
}

func (f *FileBackend) loadLocked() error {
	if f.entries != nil {
		return nil
	}

	data, err := os.ReadFile(f.path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		f.entries = make(map[string]Enrollment)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read enrollments file: %w", err)
	}

	if meta, err := LoadFileMetadata(f.path); err == nil && meta.Version > fileFormatVersion {
		return fmt.Errorf("enrollments file version %d is newer than supported version %d", meta.Version, fileFormatVersion)
	}

	var list []Enrollment
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&list); err != nil {
		return fmt.Errorf("failed to decode enrollments: %w", err)
	}

	f.entries = make(map[string]Enrollment, len(list))
	for _, e := range list {
		f.entries[e.IdentityID] = e
	}
	return nil
}

func (f *FileBackend) sortedLocked() []Enrollment {
	list := make([]Enrollment, 0, len(f.entries))
	for _, e := range f.entries {
		list = append(list, e.Clone())
	}
	slices.SortFunc(list, func(a, b Enrollment) int {
		switch {
		case a.IdentityID < b.IdentityID:
			return -1
		case a.IdentityID > b.IdentityID:
			return 1
		}
		return 0
	})
	return list
}

func (f *FileBackend) writeLocked() error {
	list := f.sortedLocked()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(list); err != nil {
		return fmt.Errorf("failed to encode enrollments: %w", err)
	}
	if err := writeFileAtomic(f.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write enrollments file: %w", err)
	}

	meta := FileMetadata{Count: len(list), SavedAt: time.Now().UTC(), Version: fileFormatVersion}
	if len(list) > 0 {
		meta.Dim = len(list[0].Descriptor)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFileAtomic(f.path+".meta", metaData); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadFileMetadata reads the .meta sidecar of an enrollments file.
func LoadFileMetadata(path string) (FileMetadata, error) {
	var meta FileMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
