// Package searchindex answers metadata queries over the live tree:
// case-folded substring or glob name matching with conjunctive
// type/size/date filters, scoped to a caller's root folder, with a
// bounded LRU result cache that is invalidated wholesale on any write.
package searchindex

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	radix "github.com/armon/go-radix"
	"github.com/bluele/gcache"
	"github.com/rs/zerolog"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/patharena"
)

// FolderResolver is the slice of FolderStore the index needs to turn a
// scope folder id into its current path.
type FolderResolver interface {
	Path(folderID string) (string, error)
}

// Query is one search request. Zero values mean "no constraint", except
// Limit: a zero Limit returns no items but still reports the full total.
type Query struct {
	Query     string
	FolderID  string // empty: the caller's root
	Recursive bool
	FileTypes []string // extensions without the dot, e.g. "pdf"
	SizeMin   int64
	SizeMax   int64 // 0: unbounded
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	ModifiedAfter  *time.Time
	ModifiedBefore *time.Time
	Limit  int
	Offset int
}

// Results is the answer to a Query. Total counts every match before
// Limit/Offset are applied.
type Results struct {
	Files   []model.File
	Folders []model.Folder
	Total   int
}

type entry struct {
	kind   model.ItemType
	file   model.File
	folder model.Folder
	path   string // storage-root-relative
	folded string // case-folded name
}

// Options configures New.
type Options struct {
	CacheSize int           // result cache capacity, default 256
	CacheTTL  time.Duration // result cache entry lifetime, default 30s
	Logger    *zerolog.Logger
}

// Index is SearchIndex. Mutations arrive as hooks from FolderStore and
// FileStore (routed through Coordinator); queries walk the name-sorted
// radix tree so results come out already ordered by name.
type Index struct {
	folders FolderResolver
	log     *zerolog.Logger

	mu   sync.RWMutex
	tree *radix.Tree // folded-name\x00id -> *entry
	byID map[string]string // id -> its current tree key

	results gcache.Cache
}

// New builds an empty Index.
func New(folders FolderResolver, opts Options) *Index {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("searchindex", nil, "prod")
	}
	return &Index{
		folders: folders,
		log:     logger,
		tree:    radix.New(),
		byID:    map[string]string{},
		results: gcache.New(opts.CacheSize).LRU().Expiration(opts.CacheTTL).Build(),
	}
}

// UpsertFile (re)indexes f, currently stored at relPath.
func (x *Index) UpsertFile(f model.File, relPath string) {
	x.upsert(f.ID, &entry{kind: model.ItemFile, file: f, path: relPath, folded: patharena.Fold(f.Name)})
}

// UpsertFolder (re)indexes fo, currently stored at relPath.
func (x *Index) UpsertFolder(fo model.Folder, relPath string) {
	x.upsert(fo.ID, &entry{kind: model.ItemFolder, folder: fo, path: relPath, folded: patharena.Fold(fo.Name)})
}

func (x *Index) upsert(id string, e *entry) {
	key := e.folded + "\x00" + id

	x.mu.Lock()
	if old, ok := x.byID[id]; ok && old != key {
		x.tree.Delete(old)
	}
	x.tree.Insert(key, e)
	x.byID[id] = key
	x.mu.Unlock()

	x.ClearCache()
}

// Remove drops id from the index. Unknown ids are ignored.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	key, ok := x.byID[id]
	if ok {
		x.tree.Delete(key)
		delete(x.byID, id)
	}
	x.mu.Unlock()

	if ok {
		x.ClearCache()
	}
}

// RemovePrefix drops every indexed item whose path is relPath or nested
// under it, used when a subtree is soft-deleted in one move.
func (x *Index) RemovePrefix(relPath string) {
	prefix := relPath + "/"

	x.mu.Lock()
	var doomed []string
	x.tree.Walk(func(key string, v interface{}) bool {
		e := v.(*entry)
		if e.path == relPath || strings.HasPrefix(e.path, prefix) {
			doomed = append(doomed, key)
		}
		return false
	})
	for _, key := range doomed {
		v, _ := x.tree.Get(key)
		x.tree.Delete(key)
		if e, ok := v.(*entry); ok {
			id := e.file.ID
			if e.kind == model.ItemFolder {
				id = e.folder.ID
			}
			delete(x.byID, id)
		}
	}
	x.mu.Unlock()

	if len(doomed) > 0 {
		x.ClearCache()
	}
}

// Reprefix repoints every indexed path under oldRel to newRel after a
// folder rename or move.
func (x *Index) Reprefix(oldRel, newRel string) {
	prefix := oldRel + "/"

	x.mu.Lock()
	x.tree.Walk(func(key string, v interface{}) bool {
		e := v.(*entry)
		if e.path == oldRel {
			e.path = newRel
		} else if strings.HasPrefix(e.path, prefix) {
			e.path = newRel + "/" + strings.TrimPrefix(e.path, prefix)
		}
		return false
	})
	x.mu.Unlock()

	x.ClearCache()
}

// ClearCache drops every cached result set.
func (x *Index) ClearCache() {
	x.results.Purge()
}

// Search runs q scoped to scopeFolderID (the caller's root): a query
// naming no folder searches the scope root, and a query naming a folder
// outside the scope is rejected.
func (x *Index) Search(scopeFolderID string, q Query) (Results, error) {
	folderID := q.FolderID
	if folderID == "" {
		folderID = scopeFolderID
	}

	scopePath, err := x.folders.Path(scopeFolderID)
	if err != nil {
		return Results{}, err
	}
	searchPath, err := x.folders.Path(folderID)
	if err != nil {
		return Results{}, err
	}
	if searchPath != scopePath && !strings.HasPrefix(searchPath, scopePath+"/") {
		return Results{}, errtypes.AccessDenied("search outside the caller's root")
	}

	key := cacheKey(searchPath, q)
	if v, err := x.results.Get(key); err == nil {
		return v.(Results), nil
	}

	matched := x.collect(searchPath, q)

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].folded != matched[j].folded {
			return matched[i].folded < matched[j].folded
		}
		return x.modifiedAt(matched[i]).After(x.modifiedAt(matched[j]))
	})

	res := Results{Total: len(matched)}
	if q.Limit > 0 {
		start := q.Offset
		if start > len(matched) {
			start = len(matched)
		}
		end := start + q.Limit
		if end > len(matched) {
			end = len(matched)
		}
		for _, e := range matched[start:end] {
			if e.kind == model.ItemFile {
				res.Files = append(res.Files, e.file)
			} else {
				res.Folders = append(res.Folders, e.folder)
			}
		}
	}

	_ = x.results.Set(key, res)
	return res, nil
}

func (x *Index) collect(searchPath string, q Query) []*entry {
	needle := patharena.Fold(q.Query)
	glob := strings.ContainsAny(q.Query, "*?")
	types := map[string]bool{}
	for _, t := range q.FileTypes {
		types[patharena.Fold(strings.TrimPrefix(t, "."))] = true
	}
	childPrefix := searchPath + "/"

	x.mu.RLock()
	defer x.mu.RUnlock()

	var matched []*entry
	x.tree.Walk(func(key string, v interface{}) bool {
		e := v.(*entry)

		if e.path == searchPath {
			return false // the scope folder itself is not a result
		}
		if !strings.HasPrefix(e.path, childPrefix) {
			return false
		}
		if !q.Recursive && strings.Contains(strings.TrimPrefix(e.path, childPrefix), "/") {
			return false
		}

		if glob {
			if ok, err := path.Match(needle, e.folded); err != nil || !ok {
				return false
			}
		} else if needle != "" && !strings.Contains(e.folded, needle) {
			return false
		}

		if len(types) > 0 {
			if e.kind != model.ItemFile {
				return false
			}
			ext := strings.TrimPrefix(path.Ext(e.folded), ".")
			if !types[ext] {
				return false
			}
		}

		size := int64(0)
		if e.kind == model.ItemFile {
			size = e.file.SizeBytes
		}
		if q.SizeMin > 0 && size < q.SizeMin {
			return false
		}
		if q.SizeMax > 0 && size > q.SizeMax {
			return false
		}

		created, modified := x.createdAt(e), x.modifiedAt(e)
		if q.CreatedAfter != nil && created.Before(*q.CreatedAfter) {
			return false
		}
		if q.CreatedBefore != nil && created.After(*q.CreatedBefore) {
			return false
		}
		if q.ModifiedAfter != nil && modified.Before(*q.ModifiedAfter) {
			return false
		}
		if q.ModifiedBefore != nil && modified.After(*q.ModifiedBefore) {
			return false
		}

		matched = append(matched, e)
		return false
	})
	return matched
}

func (x *Index) createdAt(e *entry) time.Time {
	if e.kind == model.ItemFile {
		return e.file.CreatedAt
	}
	return e.folder.CreatedAt
}

func (x *Index) modifiedAt(e *entry) time.Time {
	if e.kind == model.ItemFile {
		return e.file.ModifiedAt
	}
	return e.folder.ModifiedAt
}

// cacheKey renders the normalized query parameters into a stable string.
func cacheKey(searchPath string, q Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%t|%d|%d|%d|%d", searchPath, patharena.Fold(q.Query), q.Recursive, q.SizeMin, q.SizeMax, q.Limit, q.Offset)
	types := append([]string(nil), q.FileTypes...)
	sort.Strings(types)
	for _, t := range types {
		b.WriteString("|" + patharena.Fold(t))
	}
	for _, t := range []*time.Time{q.CreatedAfter, q.CreatedBefore, q.ModifiedAfter, q.ModifiedBefore} {
		if t != nil {
			fmt.Fprintf(&b, "|%d", t.UnixNano())
		} else {
			b.WriteString("|-")
		}
	}
	return b.String()
}
