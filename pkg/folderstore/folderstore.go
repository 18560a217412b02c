// Package folderstore implements FolderStore: the folder
// tree over the physical storage root, backed by IdMap for id<->path
// resolution and MetaCache for listing/stat memoization. The physical
// directory layout under storage_root *is* the logical folder tree,
// so most operations are a thin,
// carefully-ordered layer over os.Mkdir/os.Rename plus IdMap/MetaCache
// bookkeeping rather than a separately persisted tree structure.
package folderstore

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/internal/treeops"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/idmap"
	"github.com/lpyedge/oxicloud/pkg/metacache"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/patharena"
)

type entry struct {
	model.Folder
	path string // storage-root-relative, forward-slash
}

// Store is FolderStore.
type Store struct {
	root  string
	ids   *idmap.Map
	cache *metacache.Cache
	log   *zerolog.Logger

	mu   sync.RWMutex
	byID map[string]*entry
}

// New hydrates a Store from whatever folder entries ids already knows
// about: folder metadata other than the id<->path mapping is never
// persisted separately, so it is reconstructed from the filesystem
// plus IdMap at startup.
func New(root string, ids *idmap.Map, cache *metacache.Cache, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New("folderstore", nil, "prod")
	}
	s := &Store{root: root, ids: ids, cache: cache, log: logger, byID: map[string]*entry{}}

	byPath := map[string]idmap.Entry{}
	for _, e := range ids.All() {
		byPath[e.Path] = e
	}

	for _, e := range ids.All() {
		if e.Kind != idmap.KindFolder {
			continue
		}
		name := e.Path
		parentID := ""
		if i := strings.LastIndex(e.Path, "/"); i >= 0 {
			name = e.Path[i+1:]
			if parent, ok := byPath[e.Path[:i]]; ok {
				parentID = parent.ID
			}
		}
		owner := e.Path
		if i := strings.Index(e.Path, "/"); i >= 0 {
			owner = e.Path[:i]
		}

		createdAt, modifiedAt := time.Time{}, time.Time{}
		if abs, err := patharena.Join(root, e.Path); err == nil {
			if fi, err := os.Stat(abs); err == nil {
				modifiedAt = fi.ModTime()
				createdAt = fi.ModTime()
			}
		}

		s.byID[e.ID] = &entry{
			Folder: model.Folder{
				ID:          e.ID,
				Name:        name,
				ParentID:    parentID,
				CreatedAt:   createdAt,
				ModifiedAt:  modifiedAt,
				OwnerUserID: owner,
			},
			path: e.Path,
		}
	}

	return s, nil
}

// Get returns the folder record for id.
func (s *Store) Get(id string) (model.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return model.Folder{}, errtypes.NotFound(id)
	}
	return e.Folder, nil
}

// Path returns id's storage-root-relative path, for collaborators
// (FileStore, TrashStore, SearchIndex) that need it directly.
func (s *Store) Path(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return "", errtypes.NotFound(id)
	}
	return e.path, nil
}

// EnsureHomeFolder returns userID's home folder, provisioning it (and
// its IdMap entry) on first use. Home folders are top-level: their
// physical path is exactly userID, ParentID is empty.
func (s *Store) EnsureHomeFolder(userID string) (model.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.byID {
		if e.ParentID == "" && e.OwnerUserID == userID {
			return e.Folder, nil
		}
	}

	abs, err := patharena.Join(s.root, userID)
	if err != nil {
		return model.Folder{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return model.Folder{}, errtypes.IOError{Msg: "create home folder", Err: err}
	}

	id, err := s.ids.Reverse(userID)
	if err != nil {
		id = uuid.NewString()
		if err := s.ids.Insert(id, userID, idmap.KindFolder); err != nil {
			return model.Folder{}, err
		}
	}

	now := time.Now()
	f := model.Folder{ID: id, Name: userID, ParentID: "", CreatedAt: now, ModifiedAt: now, OwnerUserID: userID}
	s.byID[id] = &entry{Folder: f, path: userID}
	return f, nil
}

// Create makes a new folder named name under parentID.
func (s *Store) Create(parentID, name string) (model.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.byID[parentID]
	if !ok {
		return model.Folder{}, errtypes.NotFound(parentID)
	}

	if s.siblingExistsLocked(parent.path, name, "") {
		return model.Folder{}, errtypes.Conflict(name)
	}

	childRel := joinRel(parent.path, name)
	childAbs, err := patharena.Join(s.root, childRel)
	if err != nil {
		return model.Folder{}, err
	}
	if err := os.Mkdir(childAbs, 0o755); err != nil {
		if os.IsExist(err) {
			return model.Folder{}, errtypes.Conflict(name)
		}
		return model.Folder{}, errtypes.IOError{Msg: "create folder", Err: err}
	}

	id := uuid.NewString()
	if err := s.ids.Insert(id, childRel, idmap.KindFolder); err != nil {
		_ = os.Remove(childAbs)
		return model.Folder{}, err
	}

	now := time.Now()
	f := model.Folder{
		ID: id, Name: name, ParentID: parentID,
		CreatedAt: now, ModifiedAt: now, OwnerUserID: parent.OwnerUserID,
	}
	s.byID[id] = &entry{Folder: f, path: childRel}
	s.cache.InvalidateFolder(parentID)
	return f, nil
}

// Rename changes id's name in place, within the same parent.
func (s *Store) Rename(id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return errtypes.NotFound(id)
	}
	if e.ParentID == "" {
		return errtypes.InvariantViolation("home folders cannot be renamed")
	}
	parent, ok := s.byID[e.ParentID]
	if !ok {
		return errtypes.CorruptedIndex(e.ParentID)
	}
	if s.siblingExistsLocked(parent.path, newName, id) {
		return errtypes.Conflict(newName)
	}

	oldRel := e.path
	newRel := joinRel(parent.path, newName)
	if err := s.physicalMove(oldRel, newRel); err != nil {
		return err
	}

	e.Name = newName
	e.ModifiedAt = time.Now()
	s.reprefixLocked(oldRel, newRel)

	s.cache.InvalidatePrefix(oldRel)
	s.cache.InvalidateFolder(e.ParentID)
	return nil
}

// Move relocates id to be a child of newParentID, keeping its name.
func (s *Store) Move(id, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return errtypes.NotFound(id)
	}
	if e.ParentID == "" {
		return errtypes.InvariantViolation("home folders cannot be moved")
	}
	newParent, ok := s.byID[newParentID]
	if !ok {
		return errtypes.NotFound(newParentID)
	}
	if newParentID == id || s.isDescendantLocked(newParentID, id) {
		return errtypes.InvariantViolation("cannot move a folder into its own descendant")
	}
	if newParent.OwnerUserID != e.OwnerUserID {
		return errtypes.InvariantViolation("cannot move a folder across owners")
	}
	if s.siblingExistsLocked(newParent.path, e.Name, id) {
		return errtypes.Conflict(e.Name)
	}

	oldRel := e.path
	oldParentID := e.ParentID
	newRel := joinRel(newParent.path, e.Name)
	if err := s.physicalMove(oldRel, newRel); err != nil {
		return err
	}

	e.ParentID = newParentID
	e.ModifiedAt = time.Now()
	s.reprefixLocked(oldRel, newRel)

	s.cache.InvalidatePrefix(oldRel)
	s.cache.InvalidateFolder(oldParentID)
	s.cache.InvalidateFolder(newParentID)
	return nil
}

// List returns folderID's direct children (both folders and files),
// serving from MetaCache when possible and otherwise reading the
// physical directory once and caching the result.
func (s *Store) List(folderID string) ([]model.Child, error) {
	s.mu.RLock()
	parent, ok := s.byID[folderID]
	s.mu.RUnlock()
	if !ok {
		return nil, errtypes.NotFound(folderID)
	}

	if refs, hit := s.cache.GetListing(folderID); hit {
		return s.toChildren(parent.path, refs), nil
	}

	abs, err := patharena.Join(s.root, parent.path)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errtypes.IOError{Msg: "list folder", Err: err}
	}

	refs := make([]metacache.ChildRef, 0, len(dirEntries))
	for _, d := range dirEntries {
		if strings.HasPrefix(d.Name(), ".") {
			continue // control directories (.idmap, .trash, .shares) are not folder children
		}
		childRel := joinRel(parent.path, d.Name())
		childID, err := s.ids.Reverse(childRel)
		if err != nil {
			continue // not (yet) adopted into the id map
		}
		refs = append(refs, metacache.ChildRef{ID: childID, Name: d.Name(), IsFile: !d.IsDir()})
	}

	s.cache.PutListing(folderID, parent.path, refs)
	return s.toChildren(parent.path, refs), nil
}

// Descendants returns every IdMap entry (folders and files) nested
// anywhere under folderID, inclusive, used by Coordinator to enumerate
// the files of a subtree being soft-deleted.
func (s *Store) Descendants(folderID string) ([]idmap.Entry, error) {
	s.mu.RLock()
	parent, ok := s.byID[folderID]
	s.mu.RUnlock()
	if !ok {
		return nil, errtypes.NotFound(folderID)
	}

	prefix := parent.path + "/"
	var out []idmap.Entry
	for _, e := range s.ids.All() {
		if e.Path == parent.path || strings.HasPrefix(e.Path, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Forget removes id (and, if it is a folder, every folder beneath it)
// from the in-memory index, without touching IdMap or the filesystem;
// called after TrashStore has physically relocated the subtree.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return
	}
	prefix := e.path + "/"
	for otherID, other := range s.byID {
		if otherID == id || strings.HasPrefix(other.path, prefix) {
			delete(s.byID, otherID)
		}
	}
}

// Adopt re-registers a folder restored by TrashStore, whose IdMap entry
// has already been reinserted at relPath.
func (s *Store) Adopt(f model.Folder, relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[f.ID] = &entry{Folder: f, path: relPath}
}

func (s *Store) toChildren(parentRel string, refs []metacache.ChildRef) []model.Child {
	children := make([]model.Child, 0, len(refs))
	for _, r := range refs {
		if !r.IsFile {
			children = append(children, model.Child{ID: r.ID, Name: r.Name, Type: model.ItemFolder})
			continue
		}

		childRel := joinRel(parentRel, r.Name)
		var size int64
		if rec, hit := s.cache.GetStat(childRel); hit {
			size = rec.Size
		} else if abs, err := patharena.Join(s.root, childRel); err == nil {
			if fi, err := os.Stat(abs); err == nil {
				size = fi.Size()
				s.cache.PutStat(childRel, metacache.StatRecord{Size: size, ModifiedAt: fi.ModTime()})
			}
		}
		children = append(children, model.Child{ID: r.ID, Name: r.Name, Type: model.ItemFile, Size: size})
	}
	sort.SliceStable(children, func(i, j int) bool {
		return patharena.Fold(children[i].Name) < patharena.Fold(children[j].Name)
	})
	return children
}

// siblingExistsLocked case-insensitively checks name against the
// physical contents of parentRel, excluding excludeID's own current
// name. Callers must hold s.mu.
func (s *Store) siblingExistsLocked(parentRel, name, excludeID string) bool {
	abs, err := patharena.Join(s.root, parentRel)
	if err != nil {
		return false
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return false
	}
	folded := patharena.Fold(name)
	for _, d := range dirEntries {
		if patharena.Fold(d.Name()) != folded {
			continue
		}
		if excludeID != "" {
			if id, err := s.ids.Reverse(joinRel(parentRel, d.Name())); err == nil && id == excludeID {
				continue
			}
		}
		return true
	}
	return false
}

func (s *Store) isDescendantLocked(candidateID, ancestorID string) bool {
	seen := map[string]bool{}
	cur := candidateID
	for {
		e, ok := s.byID[cur]
		if !ok || e.ParentID == "" {
			return false
		}
		if e.ParentID == ancestorID {
			return true
		}
		if seen[e.ParentID] {
			return false // defensive: broken parent chain, do not loop forever
		}
		seen[e.ParentID] = true
		cur = e.ParentID
	}
}

func (s *Store) physicalMove(oldRel, newRel string) error {
	oldAbs, err := patharena.Join(s.root, oldRel)
	if err != nil {
		return err
	}
	newAbs, err := patharena.Join(s.root, newRel)
	if err != nil {
		return err
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		if os.IsExist(err) {
			return errtypes.Conflict(newRel)
		}
		return errtypes.IOError{Msg: "move folder", Err: err}
	}
	return nil
}

// reprefixLocked repoints IdMap and every in-memory descendant record
// from oldRel to newRel, after a successful physical move. Callers must
// hold s.mu.
func (s *Store) reprefixLocked(oldRel, newRel string) {
	if err := treeops.Reprefix(s.root, s.ids, oldRel, newRel); err != nil {
		log.Event(context.Background(), s.log, zerolog.ErrorLevel).Err(err).Msg("reprefix after folder move failed")
	}

	prefix := oldRel + "/"
	for _, other := range s.byID {
		if other.path == oldRel {
			other.path = newRel // the moved folder itself
			continue
		}
		if strings.HasPrefix(other.path, prefix) {
			other.path = newRel + "/" + strings.TrimPrefix(other.path, prefix)
		}
	}
}

func joinRel(parentRel, name string) string {
	if parentRel == "" {
		return name
	}
	return parentRel + "/" + name
}
