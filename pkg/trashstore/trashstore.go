// Package trashstore implements soft deletion: trashed items move under
// a per-owner container inside .trash, stay resolvable by id, and can be
// restored (with name disambiguation) or purged, manually or by the
// retention sweep. The index is flushed on every change rather than
// debounced; trash mutations are far rarer than IdMap ones.
package trashstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/internal/treeops"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/idmap"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/patharena"
)

// FolderResolver is the slice of FolderStore TrashStore needs to find a
// still-existing parent's current path at restore time.
type FolderResolver interface {
	Path(folderID string) (string, error)
}

// record is one trash_index.json row: a TrashEntry plus the physical,
// storage-root-relative path the item currently lives at inside .trash.
type record struct {
	model.TrashEntry
	Path string `json:"path"`
}

// RestoreResult describes where a restored item ended up, so Coordinator
// can re-adopt it into FolderStore/FileStore's in-memory index.
type RestoreResult struct {
	ItemID      string
	ItemType    model.ItemType
	NewParentID string
	NewName     string
	NewPath     string
}

// RestoreParentResolver decides where a restored item should land when
// its original parent is gone: typically "the owner's home folder".
// Supplied by Coordinator so TrashStore never needs FolderStore's home-
// folder provisioning logic directly.
type RestoreParentResolver func(originalParentID, ownerUserID string) (parentID string, err error)

const trashDirPrefix = ".trash"

// Store is TrashStore.
type Store struct {
	root      string
	ids       *idmap.Map
	folders   FolderResolver
	resolve   RestoreParentResolver
	retain    time.Duration
	indexFile string
	log       *zerolog.Logger

	mu      sync.Mutex
	records map[string]*record
}

// Options configures Open.
type Options struct {
	// Retention is how long trashed items survive before the sweep may
	// purge them. A zero retention makes every entry immediately
	// eligible on the next sweep.
	Retention time.Duration
	Logger    *zerolog.Logger
}

// Open loads {storage_root}/.trash/trash_index.json. An unparsable index
// is rebuilt by walking the per-owner trash containers, so a corrupted
// file never strands trashed content.
func Open(root string, ids *idmap.Map, folders FolderResolver, resolve RestoreParentResolver, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New("trashstore", nil, "prod")
	}

	s := &Store{
		root: root, ids: ids, folders: folders, resolve: resolve,
		retain: opts.Retention, indexFile: filepath.Join(root, trashDirPrefix, "trash_index.json"),
		log: logger, records: map[string]*record{},
	}

	data, err := os.ReadFile(s.indexFile)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errtypes.IOError{Msg: "read trash index", Err: err}
	}
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		log.Event(context.TODO(), logger, zerolog.WarnLevel).Err(err).Msg("trash index corrupted, rebuilding from trash containers")
		if err := s.rebuild(); err != nil {
			return nil, err
		}
		return s, nil
	}
	for i := range recs {
		s.records[recs[i].ID] = &recs[i]
	}
	return s, nil
}

// rebuild reconstructs the index by walking .trash/{owner}/{trash_id}/.
// The original parent is unrecoverable, so a later restore of a rebuilt
// entry falls back to the owner's home folder; the deletion time is
// approximated by the container's mtime.
func (s *Store) rebuild() error {
	trashAbs := filepath.Join(s.root, trashDirPrefix)
	owners, err := os.ReadDir(trashAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errtypes.IOError{Msg: "walk trash root", Err: err}
	}

	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		containers, err := os.ReadDir(filepath.Join(trashAbs, owner.Name()))
		if err != nil {
			continue
		}
		for _, c := range containers {
			if !c.IsDir() {
				continue
			}
			items, err := os.ReadDir(filepath.Join(trashAbs, owner.Name(), c.Name()))
			if err != nil || len(items) == 0 {
				continue
			}
			item := items[0]

			deletedAt := time.Now()
			if fi, err := c.Info(); err == nil {
				deletedAt = fi.ModTime()
			}
			itemType := model.ItemFile
			if item.IsDir() {
				itemType = model.ItemFolder
			}
			relPath := trashDirPrefix + "/" + owner.Name() + "/" + c.Name() + "/" + item.Name()
			originalID := c.Name()
			if id, err := s.ids.Reverse(relPath); err == nil {
				originalID = id
			}

			s.records[c.Name()] = &record{
				TrashEntry: model.TrashEntry{
					ID: c.Name(), OriginalID: originalID, ItemType: itemType,
					OriginalName: item.Name(), DeletedAt: deletedAt,
					OwnerUserID:       owner.Name(),
					RetentionDeadline: deletedAt.Add(s.retain),
				},
				Path: relPath,
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// SoftDelete moves itemID (currently at its IdMap path) into a fresh
// .trash/{owner}/{trash_id}/ container and records one TrashEntry. The
// caller (Coordinator) is responsible for forgetting itemID from
// FolderStore/FileStore's live in-memory index afterwards.
func (s *Store) SoftDelete(itemID string, itemType model.ItemType, originalParentID, ownerUserID string) (model.TrashEntry, error) {
	oldRel, kind, err := s.ids.Resolve(itemID)
	if err != nil {
		return model.TrashEntry{}, err
	}
	if (kind == idmap.KindFolder) != (itemType == model.ItemFolder) {
		return model.TrashEntry{}, errtypes.InvariantViolation("item type does not match id map kind")
	}

	trashID := uuid.NewString()
	originalName := filepath.Base(filepath.FromSlash(oldRel))
	trashDir := trashDirPrefix + "/" + ownerUserID + "/" + trashID
	destRel := trashDir + "/" + originalName

	trashAbs, err := patharena.Join(s.root, trashDir)
	if err != nil {
		return model.TrashEntry{}, err
	}
	if err := os.MkdirAll(trashAbs, 0o755); err != nil {
		return model.TrashEntry{}, errtypes.IOError{Msg: "create trash container", Err: err}
	}

	oldAbs, err := patharena.Join(s.root, oldRel)
	if err != nil {
		return model.TrashEntry{}, err
	}
	destAbs, err := patharena.Join(s.root, destRel)
	if err != nil {
		return model.TrashEntry{}, err
	}
	if err := moveAcrossDevices(oldAbs, destAbs); err != nil {
		return model.TrashEntry{}, err
	}
	if err := treeops.Reprefix(s.root, s.ids, oldRel, destRel); err != nil {
		return model.TrashEntry{}, err
	}

	now := time.Now()
	entry := model.TrashEntry{
		ID: trashID, OriginalID: itemID, ItemType: itemType,
		OriginalParentID: originalParentID, OriginalName: originalName,
		DeletedAt: now, OwnerUserID: ownerUserID,
		RetentionDeadline: now.Add(s.retain),
	}

	s.mu.Lock()
	s.records[trashID] = &record{TrashEntry: entry, Path: destRel}
	err = s.flushLocked()
	s.mu.Unlock()
	return entry, err
}

// List returns every trash entry owned by ownerUserID, newest first.
func (s *Store) List(ownerUserID string) []model.TrashEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.TrashEntry, 0, len(s.records))
	for _, r := range s.records {
		if r.OwnerUserID == ownerUserID {
			out = append(out, r.TrashEntry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(out[j].DeletedAt) })
	return out
}

// Entry returns trashID's record, for ownership checks before restore
// or purge.
func (s *Store) Entry(trashID string) (model.TrashEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[trashID]
	if !ok {
		return model.TrashEntry{}, errtypes.NotFound(trashID)
	}
	return r.TrashEntry, nil
}

// IsTrashed reports whether originalID currently sits in the trash,
// either as a trashed item itself or nested inside a trashed subtree.
func (s *Store) IsTrashed(originalID string) bool {
	rel, _, err := s.ids.Resolve(originalID)
	if err != nil {
		return false
	}
	return strings.HasPrefix(rel, trashDirPrefix+"/")
}

// Restore moves trashID's item back onto the live tree, into its
// original parent if it still exists, otherwise wherever resolve
// decides, disambiguating the name with " (restored N)" on collision.
func (s *Store) Restore(trashID string) (RestoreResult, error) {
	s.mu.Lock()
	r, ok := s.records[trashID]
	s.mu.Unlock()
	if !ok {
		return RestoreResult{}, errtypes.NotFound(trashID)
	}

	parentID := r.OriginalParentID
	parentRel, err := s.folders.Path(parentID)
	if err != nil {
		if s.resolve == nil {
			return RestoreResult{}, err
		}
		parentID, err = s.resolve(r.OriginalParentID, r.OwnerUserID)
		if err != nil {
			return RestoreResult{}, err
		}
		parentRel, err = s.folders.Path(parentID)
		if err != nil {
			return RestoreResult{}, err
		}
	}

	name, destRel, err := s.firstFreeName(parentRel, r.OriginalName)
	if err != nil {
		return RestoreResult{}, err
	}

	oldAbs, err := patharena.Join(s.root, r.Path)
	if err != nil {
		return RestoreResult{}, err
	}
	destAbs, err := patharena.Join(s.root, destRel)
	if err != nil {
		return RestoreResult{}, err
	}
	if err := moveAcrossDevices(oldAbs, destAbs); err != nil {
		return RestoreResult{}, err
	}
	if err := treeops.Reprefix(s.root, s.ids, r.Path, destRel); err != nil {
		return RestoreResult{}, err
	}
	_ = os.Remove(filepath.Dir(oldAbs)) // best-effort: remove the now-empty trash container

	s.mu.Lock()
	delete(s.records, trashID)
	err = s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		return RestoreResult{}, err
	}

	return RestoreResult{
		ItemID: r.OriginalID, ItemType: r.ItemType,
		NewParentID: parentID, NewName: name, NewPath: destRel,
	}, nil
}

// Purge irreversibly deletes trashID's content and every IdMap entry
// still nested under it.
func (s *Store) Purge(trashID string) error {
	s.mu.Lock()
	r, ok := s.records[trashID]
	s.mu.Unlock()
	if !ok {
		return errtypes.NotFound(trashID)
	}
	return s.purgeRecord(r)
}

func (s *Store) purgeRecord(r *record) error {
	containerRel := r.Path
	if i := strings.LastIndex(containerRel, "/"); i >= 0 {
		containerRel = containerRel[:i]
	}
	containerAbs, err := patharena.Join(s.root, containerRel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(containerAbs); err != nil {
		return errtypes.IOError{Msg: "purge trash container", Err: err}
	}

	prefix := r.Path + "/"
	for _, e := range s.ids.All() {
		if e.Path == r.Path || strings.HasPrefix(e.Path, prefix) {
			_ = s.ids.Remove(e.ID)
		}
	}

	s.mu.Lock()
	delete(s.records, r.ID)
	err = s.flushLocked()
	s.mu.Unlock()
	return err
}

// Empty purges every trash entry owned by ownerUserID, aggregating any
// per-item failures via errtypes.Join rather than stopping at the
// first one.
func (s *Store) Empty(ownerUserID string) error {
	s.mu.Lock()
	var targets []*record
	for _, r := range s.records {
		if r.OwnerUserID == ownerUserID {
			targets = append(targets, r)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, r := range targets {
		if err := s.purgeRecord(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errtypes.Join(errs...)
}

// RunRetentionSweep purges every entry whose retention deadline has
// passed as of now, returning the entries purged so the caller can
// cascade (share removal, cache invalidation).
func (s *Store) RunRetentionSweep(now time.Time) ([]model.TrashEntry, error) {
	s.mu.Lock()
	var due []*record
	for _, r := range s.records {
		if !now.Before(r.RetentionDeadline) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	var purged []model.TrashEntry
	var errs []error
	for _, r := range due {
		entry := r.TrashEntry
		if err := s.purgeRecord(r); err != nil {
			errs = append(errs, err)
			continue
		}
		purged = append(purged, entry)
	}
	return purged, errtypes.Join(errs...)
}

// firstFreeName returns the first of name, "name (restored 1)", "name
// (restored 2)", ... not already present under parentRel, along with
// its full storage-relative path.
func (s *Store) firstFreeName(parentRel, name string) (string, string, error) {
	abs, err := patharena.Join(s.root, parentRel)
	if err != nil {
		return "", "", err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return "", "", errtypes.IOError{Msg: "list restore target", Err: err}
	}
	existing := map[string]bool{}
	for _, d := range dirEntries {
		existing[patharena.Fold(d.Name())] = true
	}

	candidate := name
	for n := 1; existing[patharena.Fold(candidate)]; n++ {
		ext := filepath.Ext(name)
		base := name[:len(name)-len(ext)]
		candidate = fmt.Sprintf("%s (restored %d)%s", base, n, ext)
	}

	rel := candidate
	if parentRel != "" {
		rel = parentRel + "/" + candidate
	}
	return candidate, rel, nil
}

// moveAcrossDevices renames old to dest, falling back to a recursive
// copy + removal when the two sit on different filesystems (rename
// returns EXDEV there). The fallback publishes into a temporary sibling
// first so dest never appears half-copied.
func moveAcrossDevices(old, dest string) error {
	err := os.Rename(old, dest)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return errtypes.IOError{Msg: "move item", Err: err}
	}

	tmp := dest + ".moving"
	if err := copyTree(old, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return errtypes.IOError{Msg: "publish moved item", Err: err}
	}
	if err := os.RemoveAll(old); err != nil {
		return errtypes.IOError{Msg: "remove moved source", Err: err}
	}
	return nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

func copyTree(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return errtypes.IOError{Msg: "stat move source", Err: err}
	}
	if !fi.IsDir() {
		return copyFile(src, dst, fi.Mode())
	}

	if err := os.MkdirAll(dst, fi.Mode()); err != nil {
		return errtypes.IOError{Msg: "create move target", Err: err}
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return errtypes.IOError{Msg: "read move source", Err: err}
	}
	for _, e := range entries {
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errtypes.IOError{Msg: "read move source", Err: err}
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return errtypes.IOError{Msg: "write move target", Err: err}
	}
	return nil
}

// flushLocked requires s.mu to be held.
func (s *Store) flushLocked() error {
	recs := make([]record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, *r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].DeletedAt.Before(recs[j].DeletedAt) })
	data, err := json.Marshal(recs)
	if err != nil {
		return errtypes.IOError{Msg: "marshal trash index", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.indexFile), 0o755); err != nil {
		return errtypes.IOError{Msg: "create trash index directory", Err: err}
	}
	if err := renameio.WriteFile(s.indexFile, data, 0o644); err != nil {
		return errtypes.IOError{Msg: "write trash index", Err: err}
	}
	return nil
}
