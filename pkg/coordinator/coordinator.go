// Package coordinator wires the stores together and sequences every
// multi-store operation: id resolution and ownership gating before
// dispatch, recursive soft-delete producing a single trash entry,
// restore re-adoption, share cascade on purge, and the background
// retention sweep. It is built with explicit construction and injected
// dependencies; there is no package-level state.
package coordinator

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/pkg/auth"
	"github.com/lpyedge/oxicloud/pkg/bufferpool"
	"github.com/lpyedge/oxicloud/pkg/config"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/filestore"
	"github.com/lpyedge/oxicloud/pkg/folderstore"
	"github.com/lpyedge/oxicloud/pkg/idmap"
	"github.com/lpyedge/oxicloud/pkg/metacache"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/patharena"
	"github.com/lpyedge/oxicloud/pkg/searchindex"
	"github.com/lpyedge/oxicloud/pkg/sharestore"
	"github.com/lpyedge/oxicloud/pkg/trashstore"
)

const sweepInterval = time.Hour

// Coordinator owns the stores and is the only entry point collaborators
// (the transport layer) call.
type Coordinator struct {
	cfg  config.Config
	lock *flock.Flock
	log  *zerolog.Logger

	ids     *idmap.Map
	cache   *metacache.Cache
	bufpool *bufferpool.Pool
	folders *folderstore.Store
	files   *filestore.Store
	trash   *trashstore.Store
	shares  *sharestore.Store
	search  *searchindex.Index

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New opens (or initializes) the storage root and wires every store. A
// second Coordinator on the same root is refused via an exclusive file
// lock held for the process lifetime.
func New(cfg config.Config, logger *zerolog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.New("coordinator", nil, cfg.LogMode)
	}
	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, errtypes.IOError{Msg: "create storage root", Err: err}
	}

	lock := flock.New(filepath.Join(cfg.StorageRoot, ".oxicloud.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errtypes.IOError{Msg: "acquire storage root lock", Err: err}
	}
	if !locked {
		return nil, errtypes.Conflict("storage root is locked by another instance")
	}

	c := &Coordinator{
		cfg:       cfg,
		lock:      lock,
		log:       logger,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	c.ids, err = idmap.Open(
		filepath.Join(cfg.StorageRoot, ".idmap", "id_map.json"),
		c.rebuildIDMap,
		idmap.Options{Debounce: cfg.IdmapDebounce, FlushThreshold: cfg.IdmapFlushThreshold, Logger: logger},
	)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	c.cache = metacache.New(c.preloadFolder, metacache.Options{TTL: cfg.MetaCacheTTL, Logger: logger})
	c.bufpool = bufferpool.New(32)

	c.folders, err = folderstore.New(cfg.StorageRoot, c.ids, c.cache, logger)
	if err != nil {
		c.cache.Close()
		_ = lock.Unlock()
		return nil, err
	}

	c.files = filestore.New(cfg.StorageRoot, c.ids, c.cache, c.bufpool, c.folders, filestore.Options{
		SmallThreshold:  cfg.SmallFileThreshold,
		MediumThreshold: cfg.MediumFileThreshold,
		Parallelism:     cfg.LargeFileParallelism,
		Logger:          logger,
	})

	c.trash, err = trashstore.Open(cfg.StorageRoot, c.ids, c.folders, c.restoreFallback, trashstore.Options{
		Retention: cfg.TrashRetention,
		Logger:    logger,
	})
	if err != nil {
		c.cache.Close()
		_ = lock.Unlock()
		return nil, err
	}

	c.shares, err = sharestore.Open(cfg.StorageRoot, c, sharestore.Options{Logger: logger})
	if err != nil {
		c.cache.Close()
		_ = lock.Unlock()
		return nil, err
	}

	c.search = searchindex.New(c.folders, searchindex.Options{
		CacheSize: cfg.SearchCacheSize,
		CacheTTL:  cfg.SearchCacheTTL,
		Logger:    logger,
	})
	c.seedSearchIndex()

	go c.runSweep()
	return c, nil
}

// Close force-flushes every persisted index, stops the background sweep,
// and releases the storage root lock.
func (c *Coordinator) Close() error {
	close(c.stopSweep)
	<-c.sweepDone
	c.cache.Close()

	var errs []error
	if err := c.ids.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := c.shares.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := c.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errtypes.Join(errs...)
}

// rebuildIDMap walks the storage root when the persisted snapshot is
// missing or corrupt, assigning a fresh id to every live entry. Control
// directories (.idmap, .trash, .shares) are not part of the logical tree.
func (c *Coordinator) rebuildIDMap() ([]idmap.Entry, error) {
	var entries []idmap.Entry
	root := c.cfg.StorageRoot
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := patharena.Relative(root, path)
		if err != nil {
			return err
		}
		kind := idmap.KindFile
		if d.IsDir() {
			kind = idmap.KindFolder
		}
		entries = append(entries, idmap.Entry{ID: uuid.NewString(), Path: rel, Kind: kind})
		return nil
	})
	if err != nil {
		return nil, errtypes.IOError{Msg: "rebuild scan", Err: err}
	}
	return entries, nil
}

func (c *Coordinator) preloadFolder(ctx context.Context, folderID string) {
	if _, err := c.folders.List(folderID); err != nil {
		log.Event(ctx, c.log, zerolog.DebugLevel).Err(err).Str("folder", folderID).Msg("preload skipped")
	}
}

func (c *Coordinator) restoreFallback(originalParentID, ownerUserID string) (string, error) {
	home, err := c.folders.EnsureHomeFolder(ownerUserID)
	if err != nil {
		return "", err
	}
	return home.ID, nil
}

// seedSearchIndex indexes every live entry known to IdMap at startup.
func (c *Coordinator) seedSearchIndex() {
	for _, e := range c.ids.All() {
		if strings.HasPrefix(e.Path, ".") {
			continue // trashed subtrees are not searchable
		}
		if e.Kind == idmap.KindFolder {
			if f, err := c.folders.Get(e.ID); err == nil {
				c.search.UpsertFolder(f, e.Path)
			}
			continue
		}
		if f, err := c.files.Get(e.ID); err == nil {
			c.search.UpsertFile(f, e.Path)
		}
	}
}

// runSweep periodically purges expired trash entries and expired shares.
func (c *Coordinator) runSweep() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

// Sweep runs one retention pass as of now. Exposed so operators (and
// tests) can force a pass without waiting for the ticker.
func (c *Coordinator) Sweep(now time.Time) {
	if c.cfg.TrashEnabled {
		purged, err := c.trash.RunRetentionSweep(now)
		if err != nil {
			log.Event(context.Background(), c.log, zerolog.ErrorLevel).Err(err).Msg("retention sweep failed")
		}
		for _, entry := range purged {
			c.shares.DeleteForItem(entry.OriginalID)
		}
		if len(purged) > 0 {
			log.Event(context.Background(), c.log, zerolog.InfoLevel).Int("purged", len(purged)).Msg("retention sweep")
		}
	}
	if n := c.shares.PurgeExpired(now); n > 0 {
		log.Event(context.Background(), c.log, zerolog.InfoLevel).Int("expired_shares", n).Msg("share expiry sweep")
	}
}

// Home returns (provisioning on first use) user's home folder.
func (c *Coordinator) Home(ctx context.Context, user auth.CurrentUser) (model.Folder, error) {
	home, err := c.folders.EnsureHomeFolder(user.UserID)
	if err != nil {
		return model.Folder{}, err
	}
	if f, err := c.folders.Get(home.ID); err == nil {
		c.search.UpsertFolder(f, user.UserID)
	}
	return home, nil
}

// CreateFolder makes name under parentID on behalf of user.
func (c *Coordinator) CreateFolder(ctx context.Context, user auth.CurrentUser, parentID, name string) (model.Folder, error) {
	if err := c.checkFolderOwner(user, parentID); err != nil {
		return model.Folder{}, err
	}
	f, err := c.folders.Create(parentID, name)
	if err != nil {
		return model.Folder{}, err
	}
	if rel, err := c.folders.Path(f.ID); err == nil {
		c.search.UpsertFolder(f, rel)
	}
	return f, nil
}

// RenameFolder renames id in place.
func (c *Coordinator) RenameFolder(ctx context.Context, user auth.CurrentUser, id, newName string) error {
	if err := c.checkFolderOwner(user, id); err != nil {
		return err
	}
	oldRel, err := c.folders.Path(id)
	if err != nil {
		return err
	}
	if err := c.folders.Rename(id, newName); err != nil {
		return err
	}
	c.afterFolderRelocate(id, oldRel)
	return nil
}

// MoveFolder relocates id under newParentID.
func (c *Coordinator) MoveFolder(ctx context.Context, user auth.CurrentUser, id, newParentID string) error {
	if err := c.checkFolderOwner(user, id); err != nil {
		return err
	}
	if err := c.checkFolderOwner(user, newParentID); err != nil {
		return err
	}
	oldRel, err := c.folders.Path(id)
	if err != nil {
		return err
	}
	if err := c.folders.Move(id, newParentID); err != nil {
		return err
	}
	c.afterFolderRelocate(id, oldRel)
	return nil
}

func (c *Coordinator) afterFolderRelocate(id, oldRel string) {
	newRel, err := c.folders.Path(id)
	if err != nil {
		return
	}
	c.search.Reprefix(oldRel, newRel)
	if f, err := c.folders.Get(id); err == nil {
		c.search.UpsertFolder(f, newRel)
	}
}

// List returns folderID's children, sorted by name.
func (c *Coordinator) List(ctx context.Context, user auth.CurrentUser, folderID string) ([]model.Child, error) {
	if err := c.checkFolderOwner(user, folderID); err != nil {
		return nil, err
	}
	return c.folders.List(folderID)
}

// Preload schedules a background listing fill for folderID.
func (c *Coordinator) Preload(folderID string) {
	c.cache.Preload(folderID)
}

// UploadFile streams size bytes from src into a new file under folderID.
func (c *Coordinator) UploadFile(ctx context.Context, user auth.CurrentUser, folderID, name string, src io.ReaderAt, size int64) (model.File, error) {
	if err := c.checkFolderOwner(user, folderID); err != nil {
		return model.File{}, err
	}
	if err := c.checkQuota(user, size); err != nil {
		return model.File{}, err
	}
	f, err := c.files.Create(ctx, folderID, name, user.UserID, src, size)
	if err != nil {
		return model.File{}, err
	}
	if rel, err := c.files.Path(f.ID); err == nil {
		c.search.UpsertFile(f, rel)
	}
	return f, nil
}

// OverwriteFile replaces fileID's content.
func (c *Coordinator) OverwriteFile(ctx context.Context, user auth.CurrentUser, fileID string, src io.ReaderAt, size int64) (model.File, error) {
	f, err := c.files.Get(fileID)
	if err != nil {
		return model.File{}, err
	}
	if err := c.checkOwnership(user, f.OwnerUserID); err != nil {
		return model.File{}, err
	}
	if delta := size - f.SizeBytes; delta > 0 {
		if err := c.checkQuota(user, delta); err != nil {
			return model.File{}, err
		}
	}
	updated, err := c.files.Overwrite(ctx, fileID, src, size)
	if err != nil {
		return model.File{}, err
	}
	if rel, err := c.files.Path(fileID); err == nil {
		c.search.UpsertFile(updated, rel)
	}
	return updated, nil
}

// OpenRead opens fileID's content for streaming download.
func (c *Coordinator) OpenRead(ctx context.Context, user auth.CurrentUser, fileID string) (io.ReadCloser, error) {
	f, err := c.files.Get(fileID)
	if err != nil {
		return nil, err
	}
	if err := c.checkOwnership(user, f.OwnerUserID); err != nil {
		return nil, err
	}
	return c.files.OpenRead(fileID)
}

// StatFile returns a fresh view of fileID.
func (c *Coordinator) StatFile(ctx context.Context, user auth.CurrentUser, fileID string) (model.File, error) {
	f, err := c.files.Get(fileID)
	if err != nil {
		return model.File{}, err
	}
	if err := c.checkOwnership(user, f.OwnerUserID); err != nil {
		return model.File{}, err
	}
	return c.files.Stat(fileID)
}

// RenameFile renames fileID within its folder.
func (c *Coordinator) RenameFile(ctx context.Context, user auth.CurrentUser, fileID, newName string) error {
	f, err := c.files.Get(fileID)
	if err != nil {
		return err
	}
	if err := c.checkOwnership(user, f.OwnerUserID); err != nil {
		return err
	}
	if err := c.files.Rename(fileID, newName); err != nil {
		return err
	}
	c.reindexFile(fileID)
	return nil
}

// MoveFile relocates fileID into newFolderID. The destination must
// exist, belong to the same owner, and not be trashed.
func (c *Coordinator) MoveFile(ctx context.Context, user auth.CurrentUser, fileID, newFolderID string) error {
	f, err := c.files.Get(fileID)
	if err != nil {
		return err
	}
	if err := c.checkOwnership(user, f.OwnerUserID); err != nil {
		return err
	}
	dest, err := c.folders.Get(newFolderID)
	if err != nil {
		return err
	}
	if dest.OwnerUserID != f.OwnerUserID {
		return errtypes.InvariantViolation("cannot move a file across owners")
	}
	if c.trash.IsTrashed(newFolderID) {
		return errtypes.NotFound(newFolderID)
	}
	if err := c.files.Move(fileID, newFolderID); err != nil {
		return err
	}
	c.reindexFile(fileID)
	return nil
}

func (c *Coordinator) reindexFile(fileID string) {
	f, err := c.files.Get(fileID)
	if err != nil {
		return
	}
	rel, err := c.files.Path(fileID)
	if err != nil {
		return
	}
	c.search.UpsertFile(f, rel)
}

// Delete soft-deletes itemID into user's trash, producing one trash
// entry; a deleted folder carries its whole subtree along physically.
// With trash disabled, the entry is purged immediately after the move.
func (c *Coordinator) Delete(ctx context.Context, user auth.CurrentUser, itemID string, itemType model.ItemType) (model.TrashEntry, error) {
	var ownerID, parentID, oldRel string
	var fileIDs []string

	switch itemType {
	case model.ItemFolder:
		f, err := c.folders.Get(itemID)
		if err != nil {
			return model.TrashEntry{}, err
		}
		if f.ParentID == "" {
			return model.TrashEntry{}, errtypes.InvariantViolation("home folders cannot be deleted")
		}
		ownerID, parentID = f.OwnerUserID, f.ParentID
		oldRel, err = c.folders.Path(itemID)
		if err != nil {
			return model.TrashEntry{}, err
		}
		descendants, err := c.folders.Descendants(itemID)
		if err != nil {
			return model.TrashEntry{}, err
		}
		for _, d := range descendants {
			if d.Kind == idmap.KindFile {
				fileIDs = append(fileIDs, d.ID)
			}
		}
	case model.ItemFile:
		f, err := c.files.Get(itemID)
		if err != nil {
			return model.TrashEntry{}, err
		}
		ownerID, parentID = f.OwnerUserID, f.FolderID
		oldRel, err = c.files.Path(itemID)
		if err != nil {
			return model.TrashEntry{}, err
		}
		fileIDs = []string{itemID}
	default:
		return model.TrashEntry{}, errtypes.InvariantViolation("unknown item type")
	}

	if err := c.checkOwnership(user, ownerID); err != nil {
		return model.TrashEntry{}, err
	}

	entry, err := c.trash.SoftDelete(itemID, itemType, parentID, ownerID)
	if err != nil {
		return model.TrashEntry{}, err
	}

	if itemType == model.ItemFolder {
		c.folders.Forget(itemID)
	}
	for _, id := range fileIDs {
		c.files.Forget(id)
	}
	c.search.RemovePrefix(oldRel)
	c.cache.InvalidatePrefix(oldRel)
	c.cache.InvalidateFolder(parentID)

	if !c.cfg.TrashEnabled {
		if err := c.trash.Purge(entry.ID); err != nil {
			return model.TrashEntry{}, err
		}
		c.shares.DeleteForItem(itemID)
	}
	return entry, nil
}

// ListTrash returns user's trash entries, newest first.
func (c *Coordinator) ListTrash(ctx context.Context, user auth.CurrentUser) []model.TrashEntry {
	return c.trash.List(user.UserID)
}

// Restore brings trashID's item back onto the live tree and re-adopts
// its subtree into the in-memory indexes.
func (c *Coordinator) Restore(ctx context.Context, user auth.CurrentUser, trashID string) (trashstore.RestoreResult, error) {
	entry, err := c.trash.Entry(trashID)
	if err != nil {
		return trashstore.RestoreResult{}, err
	}
	if err := c.checkOwnership(user, entry.OwnerUserID); err != nil {
		return trashstore.RestoreResult{}, err
	}

	res, err := c.trash.Restore(trashID)
	if err != nil {
		return trashstore.RestoreResult{}, err
	}

	c.adoptSubtree(res.NewPath, res.NewParentID, entry.OwnerUserID)
	c.cache.InvalidateFolder(res.NewParentID)
	return res, nil
}

// adoptSubtree re-registers every IdMap entry living at rel or beneath
// it into FolderStore/FileStore and the search index, after a restore.
func (c *Coordinator) adoptSubtree(rel, parentID, ownerID string) {
	byPath := map[string]idmap.Entry{}
	for _, e := range c.ids.All() {
		byPath[e.Path] = e
	}

	prefix := rel + "/"
	for _, e := range c.ids.All() {
		if e.Path != rel && !strings.HasPrefix(e.Path, prefix) {
			continue
		}

		name := e.Path
		pID := parentID
		if i := strings.LastIndex(e.Path, "/"); i >= 0 {
			name = e.Path[i+1:]
			if e.Path != rel {
				if p, ok := byPath[e.Path[:i]]; ok {
					pID = p.ID
				}
			}
		}

		var size int64
		modified := time.Now()
		if abs, err := patharena.Join(c.cfg.StorageRoot, e.Path); err == nil {
			if fi, err := os.Stat(abs); err == nil {
				size = fi.Size()
				modified = fi.ModTime()
			}
		}

		if e.Kind == idmap.KindFolder {
			f := model.Folder{
				ID: e.ID, Name: name, ParentID: pID,
				CreatedAt: modified, ModifiedAt: modified, OwnerUserID: ownerID,
			}
			c.folders.Adopt(f, e.Path)
			c.search.UpsertFolder(f, e.Path)
			continue
		}
		f := model.File{
			ID: e.ID, Name: name, FolderID: pID, SizeBytes: size,
			MimeType:  mime.TypeByExtension(filepath.Ext(name)),
			CreatedAt: modified, ModifiedAt: modified, OwnerUserID: ownerID,
		}
		c.files.Adopt(f, e.Path)
		c.search.UpsertFile(f, e.Path)
	}
}

// PurgeTrash irreversibly deletes trashID's content, cascading to any
// shares that pointed at the purged item.
func (c *Coordinator) PurgeTrash(ctx context.Context, user auth.CurrentUser, trashID string) error {
	entry, err := c.trash.Entry(trashID)
	if err != nil {
		return err
	}
	if err := c.checkOwnership(user, entry.OwnerUserID); err != nil {
		return err
	}
	if err := c.trash.Purge(trashID); err != nil {
		return err
	}
	c.shares.DeleteForItem(entry.OriginalID)
	return nil
}

// EmptyTrash purges everything in user's trash.
func (c *Coordinator) EmptyTrash(ctx context.Context, user auth.CurrentUser) error {
	entries := c.trash.List(user.UserID)
	if err := c.trash.Empty(user.UserID); err != nil {
		return err
	}
	for _, e := range entries {
		c.shares.DeleteForItem(e.OriginalID)
	}
	return nil
}

// CreateShare issues a share token for an item user owns.
func (c *Coordinator) CreateShare(ctx context.Context, user auth.CurrentUser, req sharestore.CreateRequest) (model.Share, error) {
	if !c.cfg.SharingEnabled {
		return model.Share{}, errtypes.AccessDenied("sharing is disabled")
	}
	owner, err := c.ownerOf(req.ItemID, req.ItemType)
	if err != nil {
		return model.Share{}, err
	}
	if err := c.checkOwnership(user, owner); err != nil {
		return model.Share{}, err
	}
	return c.shares.Create(user.UserID, req)
}

// UpdateShare patches a share user created.
func (c *Coordinator) UpdateShare(ctx context.Context, user auth.CurrentUser, shareID string, patch sharestore.UpdateRequest) (model.Share, error) {
	sh, err := c.shares.Get(shareID)
	if err != nil {
		return model.Share{}, err
	}
	if err := c.checkOwnership(user, sh.CreatedByUser); err != nil {
		return model.Share{}, err
	}
	return c.shares.Update(shareID, patch)
}

// DeleteShare removes a share user created.
func (c *Coordinator) DeleteShare(ctx context.Context, user auth.CurrentUser, shareID string) error {
	sh, err := c.shares.Get(shareID)
	if err != nil {
		return err
	}
	if err := c.checkOwnership(user, sh.CreatedByUser); err != nil {
		return err
	}
	return c.shares.Delete(shareID)
}

// ListSharesForUser pages through user's shares, newest first.
func (c *Coordinator) ListSharesForUser(ctx context.Context, user auth.CurrentUser, page, perPage int) ([]model.Share, int) {
	return c.shares.ListForUser(user.UserID, page, perPage)
}

// ListSharesForItem returns the shares pointing at itemID.
func (c *Coordinator) ListSharesForItem(ctx context.Context, user auth.CurrentUser, itemID string, itemType model.ItemType) ([]model.Share, error) {
	owner, err := c.ownerOf(itemID, itemType)
	if err != nil {
		return nil, err
	}
	if err := c.checkOwnership(user, owner); err != nil {
		return nil, err
	}
	return c.shares.ListForItem(itemID, itemType), nil
}

// ResolveShare is the public, unauthenticated token lookup.
func (c *Coordinator) ResolveShare(ctx context.Context, token string) (model.Share, error) {
	return c.shares.ResolveByToken(token)
}

// VerifySharePassword checks a password presented for a protected token.
func (c *Coordinator) VerifySharePassword(ctx context.Context, token, pass string) (bool, error) {
	return c.shares.VerifyPassword(token, pass)
}

// RegisterShareAccess counts one successful public access.
func (c *Coordinator) RegisterShareAccess(ctx context.Context, token string) error {
	return c.shares.RegisterAccess(token)
}

// Search runs q scoped to user's root folder.
func (c *Coordinator) Search(ctx context.Context, user auth.CurrentUser, q searchindex.Query) (searchindex.Results, error) {
	root := user.UserRootFolder
	if root == "" {
		home, err := c.folders.EnsureHomeFolder(user.UserID)
		if err != nil {
			return searchindex.Results{}, err
		}
		root = home.ID
	}
	return c.search.Search(root, q)
}

// ItemLive implements sharestore.ItemResolver.
func (c *Coordinator) ItemLive(itemID string, itemType model.ItemType) bool {
	if c.trash.IsTrashed(itemID) {
		return false
	}
	if itemType == model.ItemFolder {
		_, err := c.folders.Get(itemID)
		return err == nil
	}
	_, err := c.files.Get(itemID)
	return err == nil
}

// ItemTrashed implements sharestore.ItemResolver.
func (c *Coordinator) ItemTrashed(itemID string) bool {
	return c.trash.IsTrashed(itemID)
}

func (c *Coordinator) ownerOf(itemID string, itemType model.ItemType) (string, error) {
	if itemType == model.ItemFolder {
		f, err := c.folders.Get(itemID)
		if err != nil {
			return "", err
		}
		return f.OwnerUserID, nil
	}
	f, err := c.files.Get(itemID)
	if err != nil {
		return "", err
	}
	return f.OwnerUserID, nil
}

func (c *Coordinator) checkFolderOwner(user auth.CurrentUser, folderID string) error {
	f, err := c.folders.Get(folderID)
	if err != nil {
		return err
	}
	return c.checkOwnership(user, f.OwnerUserID)
}

func (c *Coordinator) checkOwnership(user auth.CurrentUser, ownerID string) error {
	if user.Role == "admin" || user.UserID == ownerID {
		return nil
	}
	return errtypes.AccessDenied(user.UserID)
}

func (c *Coordinator) checkQuota(user auth.CurrentUser, additional int64) error {
	if user.QuotaBytes <= 0 {
		return nil
	}
	if c.files.TotalSize(user.UserID)+additional > user.QuotaBytes {
		return errtypes.QuotaExceeded(user.UserID)
	}
	return nil
}
