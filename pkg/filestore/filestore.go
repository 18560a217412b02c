// Package filestore implements FileStore: content
// create/read/overwrite/rename/move/stat/delete_physical, choosing a
// write strategy by size class and serializing concurrent writers to
// the same file id while leaving unrelated files fully concurrent.
package filestore

import (
	"context"
	"errors"
	"io"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/internal/treeops"
	"github.com/lpyedge/oxicloud/pkg/bufferpool"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/idmap"
	"github.com/lpyedge/oxicloud/pkg/metacache"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/patharena"
)

type entry struct {
	model.File
	path string
}

// FolderResolver is the slice of FolderStore that FileStore needs: a
// folder's current storage-root-relative path. Declared here instead of
// importing pkg/folderstore directly, so the two stores stay
// independently testable.
type FolderResolver interface {
	Path(folderID string) (string, error)
}

// Options configures New and every subsequent write.
type Options struct {
	SmallThreshold  int64 // default 1 MiB
	MediumThreshold int64 // default 100 MiB
	Parallelism     int   // large-file chunk concurrency, default NumCPU capped at 8

	// SmallTimeout and MediumTimeout bound a single small/medium write
	// (defaults 30s and 5m). Large writes have no deadline; they emit a
	// progress heartbeat instead.
	SmallTimeout  time.Duration
	MediumTimeout time.Duration

	// QuotaCheck, if set, is called before any write with the additional
	// bytes the write would add; returning an error (typically
	// errtypes.QuotaExceeded) aborts the write before anything is
	// touched on disk. FileStore only reports per-owner totals
	// (TotalSize); comparing them against a quota is the caller's job.
	QuotaCheck func(ownerUserID string, additionalBytes int64) error

	Logger *zerolog.Logger
}

// Store is FileStore.
type Store struct {
	root    string
	ids     *idmap.Map
	cache   *metacache.Cache
	bufpool *bufferpool.Pool
	folders FolderResolver
	opts    Options
	log     *zerolog.Logger

	mu   sync.RWMutex
	byID map[string]*entry

	writeLocks sync.Map // file id -> *sync.Mutex
}

// New hydrates a Store from whatever file entries ids already knows
// about, mirroring FolderStore's startup reconstruction since file
// metadata beyond the id<->path mapping is not separately persisted.
func New(root string, ids *idmap.Map, cache *metacache.Cache, bufpool *bufferpool.Pool, folders FolderResolver, opts Options) *Store {
	if opts.SmallThreshold <= 0 {
		opts.SmallThreshold = 1 << 20
	}
	if opts.MediumThreshold <= opts.SmallThreshold {
		opts.MediumThreshold = 100 << 20
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
		if opts.Parallelism > 8 {
			opts.Parallelism = 8
		}
	}
	if opts.SmallTimeout <= 0 {
		opts.SmallTimeout = 30 * time.Second
	}
	if opts.MediumTimeout <= 0 {
		opts.MediumTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = log.New("filestore", nil, "prod")
	}

	s := &Store{
		root: root, ids: ids, cache: cache, bufpool: bufpool, folders: folders,
		opts: opts, log: opts.Logger, byID: map[string]*entry{},
	}

	byPath := map[string]idmap.Entry{}
	for _, e := range ids.All() {
		byPath[e.Path] = e
	}
	for _, e := range ids.All() {
		if e.Kind != idmap.KindFile {
			continue
		}
		s.byID[e.ID] = s.hydrateEntry(e, byPath)
	}
	return s
}

func (s *Store) hydrateEntry(e idmap.Entry, byPath map[string]idmap.Entry) *entry {
	name := e.Path
	folderID := ""
	if i := strings.LastIndex(e.Path, "/"); i >= 0 {
		name = e.Path[i+1:]
		if parent, ok := byPath[e.Path[:i]]; ok {
			folderID = parent.ID
		}
	}
	owner := e.Path
	if i := strings.Index(e.Path, "/"); i >= 0 {
		owner = e.Path[:i]
	}

	var size int64
	createdAt, modifiedAt := time.Time{}, time.Time{}
	if abs, err := patharena.Join(s.root, e.Path); err == nil {
		if fi, err := os.Stat(abs); err == nil {
			size = fi.Size()
			modifiedAt = fi.ModTime()
			createdAt = fi.ModTime()
		}
	}

	return &entry{
		File: model.File{
			ID: e.ID, Name: name, FolderID: folderID, SizeBytes: size,
			MimeType: mime.TypeByExtension(filepath.Ext(name)),
			CreatedAt: createdAt, ModifiedAt: modifiedAt, OwnerUserID: owner,
		},
		path: e.Path,
	}
}

// Get returns id's in-memory record.
func (s *Store) Get(id string) (model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return model.File{}, errtypes.NotFound(id)
	}
	return e.File, nil
}

// Path returns id's storage-root-relative path.
func (s *Store) Path(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return "", errtypes.NotFound(id)
	}
	return e.path, nil
}

// Stat returns a fresh view of id, consulting MetaCache before the
// filesystem.
func (s *Store) Stat(id string) (model.File, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.File{}, errtypes.NotFound(id)
	}

	if rec, hit := s.cache.GetStat(e.path); hit {
		f := e.File
		f.SizeBytes = rec.Size
		f.ModifiedAt = rec.ModifiedAt
		if rec.MimeType != "" {
			f.MimeType = rec.MimeType
		}
		return f, nil
	}

	abs, err := patharena.Join(s.root, e.path)
	if err != nil {
		return model.File{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return model.File{}, errtypes.IOError{Msg: "stat file", Err: err}
	}
	rec := metacache.StatRecord{Size: fi.Size(), MimeType: e.MimeType, ModifiedAt: fi.ModTime()}
	s.cache.PutStat(e.path, rec)

	f := e.File
	f.SizeBytes = rec.Size
	f.ModifiedAt = rec.ModifiedAt
	return f, nil
}

// OpenRead opens id's content for streaming read.
func (s *Store) OpenRead(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errtypes.NotFound(id)
	}
	abs, err := patharena.Join(s.root, e.path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, errtypes.IOError{Msg: "open file", Err: err}
	}
	return f, nil
}

// Create writes a new file named name under folderID from src, which
// must support ReadAt so the large-file strategy can fetch disjoint
// ranges concurrently.
func (s *Store) Create(ctx context.Context, folderID, name, ownerUserID string, src io.ReaderAt, size int64) (model.File, error) {
	if s.opts.QuotaCheck != nil {
		if err := s.opts.QuotaCheck(ownerUserID, size); err != nil {
			return model.File{}, err
		}
	}

	parentRel, err := s.folders.Path(folderID)
	if err != nil {
		return model.File{}, err
	}

	s.mu.Lock()
	if s.siblingExistsLocked(parentRel, name) {
		s.mu.Unlock()
		return model.File{}, errtypes.Conflict(name)
	}
	s.mu.Unlock()

	rel := joinRel(parentRel, name)
	abs, err := patharena.Join(s.root, rel)
	if err != nil {
		return model.File{}, err
	}

	if err := s.writeAtomically(ctx, abs, src, size); err != nil {
		return model.File{}, err
	}

	id := uuid.NewString()
	if err := s.ids.Insert(id, rel, idmap.KindFile); err != nil {
		_ = os.Remove(abs)
		return model.File{}, err
	}

	now := time.Now()
	f := model.File{
		ID: id, Name: name, FolderID: folderID, SizeBytes: size,
		MimeType: mime.TypeByExtension(filepath.Ext(name)),
		CreatedAt: now, ModifiedAt: now, OwnerUserID: ownerUserID,
	}
	s.mu.Lock()
	s.byID[id] = &entry{File: f, path: rel}
	s.mu.Unlock()

	s.cache.PutStat(rel, metacache.StatRecord{Size: size, MimeType: f.MimeType, ModifiedAt: now})
	s.cache.InvalidateFolder(folderID)
	return f, nil
}

// Overwrite replaces id's content in place; its id, name and location
// are unchanged.
func (s *Store) Overwrite(ctx context.Context, id string, src io.ReaderAt, size int64) (model.File, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.File{}, errtypes.NotFound(id)
	}

	if s.opts.QuotaCheck != nil {
		delta := size - e.SizeBytes
		if delta > 0 {
			if err := s.opts.QuotaCheck(e.OwnerUserID, delta); err != nil {
				return model.File{}, err
			}
		}
	}

	var result model.File
	err := s.withWriteLock(id, func() error {
		abs, err := patharena.Join(s.root, e.path)
		if err != nil {
			return err
		}
		if err := s.writeAtomically(ctx, abs, src, size); err != nil {
			return err
		}

		now := time.Now()
		s.mu.Lock()
		e.SizeBytes = size
		e.ModifiedAt = now
		result = e.File
		s.mu.Unlock()

		s.cache.PutStat(e.path, metacache.StatRecord{Size: size, MimeType: e.MimeType, ModifiedAt: now})
		return nil
	})
	return result, err
}

// Rename changes id's name, within the same folder.
func (s *Store) Rename(id, newName string) error {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return errtypes.NotFound(id)
	}
	parentRel := parentOf(e.path)
	if s.siblingExistsLocked(parentRel, newName) {
		s.mu.Unlock()
		return errtypes.Conflict(newName)
	}
	s.mu.Unlock()

	return s.withWriteLock(id, func() error {
		oldRel := e.path
		newRel := joinRel(parentRel, newName)
		if err := s.physicalMove(oldRel, newRel); err != nil {
			return err
		}
		if err := treeops.Reprefix(s.root, s.ids, oldRel, newRel); err != nil {
			return err
		}

		s.mu.Lock()
		e.Name = newName
		e.ModifiedAt = time.Now()
		e.path = newRel
		s.mu.Unlock()

		s.cache.InvalidatePath(oldRel)
		s.cache.InvalidateFolder(e.FolderID)
		return nil
	})
}

// Move relocates id into newFolderID, keeping its name.
func (s *Store) Move(id, newFolderID string) error {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return errtypes.NotFound(id)
	}

	newParentRel, err := s.folders.Path(newFolderID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.siblingExistsLocked(newParentRel, e.Name) {
		s.mu.Unlock()
		return errtypes.Conflict(e.Name)
	}
	s.mu.Unlock()

	return s.withWriteLock(id, func() error {
		oldRel := e.path
		oldFolderID := e.FolderID
		newRel := joinRel(newParentRel, e.Name)
		if err := s.physicalMove(oldRel, newRel); err != nil {
			return err
		}
		if err := treeops.Reprefix(s.root, s.ids, oldRel, newRel); err != nil {
			return err
		}

		s.mu.Lock()
		e.FolderID = newFolderID
		e.ModifiedAt = time.Now()
		e.path = newRel
		s.mu.Unlock()

		s.cache.InvalidatePath(oldRel)
		s.cache.InvalidateFolder(oldFolderID)
		s.cache.InvalidateFolder(newFolderID)
		return nil
	})
}

// DeletePhysical irreversibly removes id's content and IdMap entry.
// No other package in this module calls it: ordinary deletion is a
// soft-delete into .trash, and TrashStore purges trashed content by
// removing the whole trash container itself.
func (s *Store) DeletePhysical(id string) error {
	s.mu.Lock()
	e, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
	}
	s.mu.Unlock()
	if !ok {
		return errtypes.NotFound(id)
	}

	abs, err := patharena.Join(s.root, e.path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return errtypes.IOError{Msg: "delete file", Err: err}
	}
	if err := s.ids.Remove(id); err != nil {
		if _, ok := err.(errtypes.IsNotFound); !ok {
			return err
		}
	}
	s.cache.InvalidatePath(e.path)
	return nil
}

// TotalSize sums the sizes of every live file owned by ownerUserID,
// the figure quota checks compare against.
func (s *Store) TotalSize(ownerUserID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.byID {
		if e.OwnerUserID == ownerUserID {
			total += e.SizeBytes
		}
	}
	return total
}

// Forget drops id from the in-memory index without touching disk or
// IdMap, used when TrashStore has already relocated the physical file.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Adopt re-registers a file restored by TrashStore.
func (s *Store) Adopt(f model.File, relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[f.ID] = &entry{File: f, path: relPath}
}

func (s *Store) withWriteLock(id string, fn func() error) error {
	v, _ := s.writeLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// writeAtomically writes size bytes from src to a temp file beside dst
// and renames it into place, never leaving a partially-written file
// visible under dst's final name. Small and medium writes run under a
// per-operation deadline; large writes are unbounded but emit a
// progress heartbeat.
func (s *Store) writeAtomically(ctx context.Context, dst string, src io.ReaderAt, size int64) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errtypes.IOError{Msg: "create parent directory", Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return errtypes.IOError{Msg: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	var writeErr error
	switch {
	case size <= s.opts.SmallThreshold:
		writeErr = s.writeSequential(ctx, s.opts.SmallTimeout, tmp, src, size)
	case size <= s.opts.MediumThreshold:
		writeErr = s.writeSequential(ctx, s.opts.MediumTimeout, tmp, src, size)
	default:
		writeErr = s.copyParallel(ctx, tmp, src, size)
	}
	if writeErr != nil {
		return writeErr
	}

	if err := tmp.Sync(); err != nil {
		return errtypes.IOError{Msg: "sync temp file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return errtypes.IOError{Msg: "close temp file", Err: err}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return errtypes.IOError{Msg: "publish file", Err: err}
	}
	return nil
}

// writeSequential runs the sequential copy under a deadline of timeout,
// retrying a transient failure once. Deadline expiry and caller
// cancellation are permanent: they surface immediately as the typed
// Timeout/Cancelled kinds instead of burning a retry.
func (s *Store) writeSequential(ctx context.Context, timeout time.Duration, dst *os.File, src io.ReaderAt, size int64) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return retryOnce(func() error { return s.copySequential(tctx, dst, src, size) })
}

func (s *Store) copySequential(ctx context.Context, dst *os.File, src io.ReaderAt, size int64) error {
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return backoff.Permanent(errtypes.IOError{Msg: "rewind temp file", Err: err})
	}
	if err := dst.Truncate(0); err != nil {
		return backoff.Permanent(errtypes.IOError{Msg: "truncate temp file", Err: err})
	}
	return s.bufpool.WithBuffer(int(minInt64(size, 4<<20)), func(b *bufferpool.Buffer) error {
		var offset int64
		for offset < size {
			if ctx.Err() != nil {
				return backoff.Permanent(ctxError(ctx))
			}
			n := int64(cap(b.Bytes))
			if remaining := size - offset; remaining < n {
				n = remaining
			}
			if _, err := src.ReadAt(b.Bytes[:n], offset); err != nil && err != io.EOF {
				return errtypes.IOError{Msg: "read source", Err: err}
			}
			if _, err := dst.Write(b.Bytes[:n]); err != nil {
				return errtypes.IOError{Msg: "write destination", Err: err}
			}
			offset += n
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctxError(ctx))
		}
		return nil
	})
}

// largeChunkBytes is the segment each large-file worker claims.
const largeChunkBytes = 4 << 20

// heartbeatInterval paces the large-transfer progress log; large writes
// carry no deadline, so the heartbeat is their liveness signal.
const heartbeatInterval = 5 * time.Second

func (s *Store) copyParallel(ctx context.Context, dst *os.File, src io.ReaderAt, size int64) error {
	var written int64
	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go s.heartbeat(ctx, stopHeartbeat, &written, size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for start := int64(0); start < size; start += largeChunkBytes {
		start := start
		end := start + largeChunkBytes
		if end > size {
			end = size
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return ctxError(gctx)
			}
			return s.bufpool.WithBuffer(int(end-start), func(b *bufferpool.Buffer) error {
				buf := b.Bytes[:end-start]
				if _, err := src.ReadAt(buf, start); err != nil && err != io.EOF {
					return errtypes.IOError{Msg: "read source chunk", Err: err}
				}
				if _, err := dst.WriteAt(buf, start); err != nil {
					return errtypes.IOError{Msg: "write destination chunk", Err: err}
				}
				atomic.AddInt64(&written, end-start)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctxError(gctx)
		}
		return err
	}
	return nil
}

// heartbeat logs progress for an in-flight large transfer until stop
// closes.
func (s *Store) heartbeat(ctx context.Context, stop <-chan struct{}, written *int64, total int64) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			log.Event(ctx, s.log, zerolog.DebugLevel).
				Int64("written", atomic.LoadInt64(written)).
				Int64("total", total).
				Msg("large write progress")
		}
	}
}

// ctxError renders a context's termination as the matching typed kind.
func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errtypes.Timeout("write deadline exceeded")
	}
	return errtypes.Cancelled("write cancelled")
}

// retryOnce re-attempts fn a single time after a short constant delay,
// absorbing a single transient I/O hiccup without masking a persistent
// failure; writes are retried at most once.
func retryOnce(fn func() error) error {
	return backoff.Retry(fn, backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 1))
}

func (s *Store) siblingExistsLocked(parentRel, name string) bool {
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
		if patharena.Fold(d.Name()) == folded {
			return true
		}
	}
	return false
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
		return errtypes.IOError{Msg: "move file", Err: err}
	}
	return nil
}

func parentOf(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[:i]
	}
	return ""
}

func joinRel(parentRel, name string) string {
	if parentRel == "" {
		return name
	}
	return parentRel + "/" + name
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
