// Package idmap implements the authoritative, debounced-persistence
// bijection between opaque ids and storage-relative paths: a single
// in-memory index, snapshotted atomically to .idmap/id_map.json,
// rather than per-file sidecar state scattered across the tree.
package idmap

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	orderedmap "github.com/wk8/go-ordered-map"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/pkg/errtypes"

	"github.com/rs/zerolog"
)

// Kind tags whether an id names a file or a folder, string-valued as
// it appears in the snapshot file.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Entry is one row of id_map.json.
type Entry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// RebuildFunc walks the storage root and returns the entries to seed a
// fresh map with, used when the persisted snapshot is missing or
// corrupt.
type RebuildFunc func() ([]Entry, error)

// Map is the process-wide id<->path bijection. It is always constructed
// with Open and owned by exactly one Coordinator.
type Map struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap // id (string) -> Entry, insertion-ordered for deterministic snapshots
	byPath  map[string]string      // path -> id

	file           string
	debounce       time.Duration
	flushThreshold int
	pending        int
	timer          *time.Timer

	log *zerolog.Logger
}

// Options configures Open.
type Options struct {
	// Debounce is the coalescing window before a dirty map is flushed to
	// disk (default 500ms).
	Debounce time.Duration
	// FlushThreshold forces an immediate flush once this many mutations
	// are pending (default 1024).
	FlushThreshold int
	Logger         *zerolog.Logger
}

// Open loads file (typically {storage_root}/.idmap/id_map.json). If the
// file is absent or unparsable, rebuild is invoked and its result seeds a
// fresh map, which is then flushed immediately.
func Open(file string, rebuild RebuildFunc, opts Options) (*Map, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("idmap", nil, "prod")
	}

	m := &Map{
		entries:        orderedmap.New(),
		byPath:         map[string]string{},
		file:           file,
		debounce:       opts.Debounce,
		flushThreshold: opts.FlushThreshold,
		log:            logger,
	}

	entries, err := loadFile(file)
	if err != nil {
		log.Event(context.Background(), logger, zerolog.WarnLevel).
			Err(err).Msg("id map snapshot unreadable, rebuilding from storage root")
		entries, err = rebuild()
		if err != nil {
			return nil, errtypes.IOError{Msg: "rebuild id map", Err: err}
		}
		m.seed(entries)
		if err := m.flush(); err != nil {
			return nil, err
		}
		return m, nil
	}
	m.seed(entries)
	return m, nil
}

func (m *Map) seed(entries []Entry) {
	for _, e := range entries {
		m.entries.Set(e.ID, e)
		m.byPath[e.Path] = e.ID
	}
}

func loadFile(file string) ([]Entry, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errtypes.CorruptedIndex(file)
	}
	return entries, nil
}

// Resolve returns the path and kind mapped to id.
func (m *Map) Resolve(id string) (string, Kind, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries.Get(id)
	if !ok {
		return "", "", errtypes.NotFound(id)
	}
	e := v.(Entry)
	return e.Path, e.Kind, nil
}

// Reverse returns the id mapped to path.
func (m *Map) Reverse(path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPath[path]
	if !ok {
		return "", errtypes.NotFound(path)
	}
	return id, nil
}

// Insert adds a new id->path mapping. Re-inserting an id that is already
// mapped is a programming error and panics; inserting a path that is
// already mapped (under any id) returns Conflict.
func (m *Map) Insert(id, path string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries.Get(id); exists {
		panic("idmap: duplicate id insertion: " + id)
	}
	if _, exists := m.byPath[path]; exists {
		return errtypes.Conflict(path)
	}

	m.entries.Set(id, Entry{ID: id, Path: path, Kind: kind})
	m.byPath[path] = id
	m.arm()
	return nil
}

// Rename atomically repoints id at newPath. It fails with Conflict if
// newPath is already mapped to a different id.
func (m *Map) Rename(id, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries.Get(id)
	if !ok {
		return errtypes.NotFound(id)
	}
	e := v.(Entry)

	if existing, exists := m.byPath[newPath]; exists && existing != id {
		return errtypes.Conflict(newPath)
	}

	delete(m.byPath, e.Path)
	e.Path = newPath
	m.entries.Set(id, e)
	m.byPath[newPath] = id
	m.arm()
	return nil
}

// Remove deletes id's mapping.
func (m *Map) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries.Get(id)
	if !ok {
		return errtypes.NotFound(id)
	}
	e := v.(Entry)

	m.entries.Delete(id)
	delete(m.byPath, e.Path)
	m.arm()
	return nil
}

// arm (re)starts the debounce timer and forces an immediate flush once
// flushThreshold mutations have accumulated. Callers must hold m.mu.
func (m *Map) arm() {
	m.pending++
	if m.pending >= m.flushThreshold {
		if m.timer != nil {
			m.timer.Stop()
		}
		m.pending = 0
		go func() {
			if err := m.Flush(); err != nil {
				log.Event(context.Background(), m.log, zerolog.ErrorLevel).
					Err(err).Msg("forced id map flush failed")
			}
		}()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		if err := m.Flush(); err != nil {
			log.Event(context.Background(), m.log, zerolog.ErrorLevel).
				Err(err).Msg("debounced id map flush failed")
		}
	})
}

// Flush serializes the current snapshot to disk immediately, whether or
// not the debounce timer has fired. Safe to call concurrently; shutdown
// paths call this to force a final flush before the process drains.
func (m *Map) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flush()
}

// flush requires m.mu to be held.
func (m *Map) flush() error {
	m.pending = 0

	entries := make([]Entry, 0, m.entries.Len())
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, pair.Value.(Entry))
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return errtypes.IOError{Msg: "marshal id map", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(m.file), 0o755); err != nil {
		return errtypes.IOError{Msg: "create id map directory", Err: err}
	}
	if err := renameio.WriteFile(m.file, data, 0o644); err != nil {
		return errtypes.IOError{Msg: "write id map snapshot", Err: err}
	}
	return nil
}

// Len reports how many ids are currently mapped, for tests and metrics.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries.Len()
}

// All returns a snapshot of every entry, in insertion order. Callers
// (Coordinator bootstrap, FolderStore/FileStore hydration) must treat it
// as read-only.
func (m *Map) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, m.entries.Len())
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.(Entry))
	}
	return out
}
