// Package metacache implements the TTL-keyed memoization of stat and
// listing results, built atop github.com/jellydator/ttlcache/v2.
// Invalidation tombstones entries instead of deleting them, so a write
// racing a read makes the reader miss rather than resurrect stale data.
package metacache

import (
	"context"
	"strings"
	"sync"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"
	"github.com/rs/zerolog"

	"github.com/lpyedge/oxicloud/internal/log"
)

// StatRecord is a cached stat(path) result.
type StatRecord struct {
	Size       int64
	MimeType   string
	ModifiedAt time.Time
}

// ChildRef is one entry of a cached folder listing.
type ChildRef struct {
	ID     string
	Name   string
	IsFile bool
}

// tombstoneTTL bounds how long a tombstone shadows a stale positive
// entry before it would naturally expire anyway; short enough that it
// never becomes the dominant memory cost, long enough to cover a single
// request's lifetime.
const tombstoneTTL = 2 * time.Second

type statSlot struct {
	record StatRecord
	tomb   bool
}

type listingSlot struct {
	children []ChildRef
	tomb     bool
}

// Cache is the MetaCache. One instance is shared by every Store.
type Cache struct {
	stat     *ttlcache.Cache
	listing  *ttlcache.Cache
	ttl      time.Duration
	log      *zerolog.Logger

	mu           sync.Mutex
	folderPaths  map[string]string // folder id -> last known path, for prefix invalidation
	preloadQueue chan string
	preloadFn    func(ctx context.Context, folderID string)
	stopPreload  chan struct{}
}

// Options configures New.
type Options struct {
	TTL            time.Duration // default 60s
	PreloadBacklog int           // bounded preload queue capacity, default 64
	Logger         *zerolog.Logger
}

// New builds a Cache. preload is invoked from a single background
// goroutine whenever Preload is called; it is expected to populate the
// cache itself via Put* calls (typically by calling back into
// FolderStore.List).
func New(preload func(ctx context.Context, folderID string), opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	if opts.PreloadBacklog <= 0 {
		opts.PreloadBacklog = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("metacache", nil, "prod")
	}

	stat := ttlcache.NewCache()
	stat.SetTTL(opts.TTL)
	stat.SkipTTLExtensionOnHit(true)

	listing := ttlcache.NewCache()
	listing.SetTTL(opts.TTL)
	listing.SkipTTLExtensionOnHit(true)

	c := &Cache{
		stat:         stat,
		listing:      listing,
		ttl:          opts.TTL,
		log:          logger,
		folderPaths:  map[string]string{},
		preloadQueue: make(chan string, opts.PreloadBacklog),
		preloadFn:    preload,
		stopPreload:  make(chan struct{}),
	}
	go c.runPreloader()
	return c
}

// Close stops the background preloader. Safe to call once.
func (c *Cache) Close() {
	close(c.stopPreload)
	_ = c.stat.Close()
	_ = c.listing.Close()
}

// GetStat returns the cached stat for path, or ok=false on a Miss
// (including a tombstoned entry).
func (c *Cache) GetStat(path string) (StatRecord, bool) {
	v, err := c.stat.Get(path)
	if err != nil {
		return StatRecord{}, false
	}
	slot := v.(statSlot)
	if slot.tomb {
		return StatRecord{}, false
	}
	return slot.record, true
}

// PutStat caches a fresh stat result for path.
func (c *Cache) PutStat(path string, rec StatRecord) {
	_ = c.stat.Set(path, statSlot{record: rec})
}

// GetListing returns the cached children of folderID, or ok=false on a
// Miss.
func (c *Cache) GetListing(folderID string) ([]ChildRef, bool) {
	v, err := c.listing.Get(folderID)
	if err != nil {
		return nil, false
	}
	slot := v.(listingSlot)
	if slot.tomb {
		return nil, false
	}
	return slot.children, true
}

// PutListing caches a fresh listing for folderID, located at path (kept
// for prefix invalidation on ancestor rename/move).
func (c *Cache) PutListing(folderID, path string, children []ChildRef) {
	_ = c.listing.Set(folderID, listingSlot{children: children})

	c.mu.Lock()
	c.folderPaths[folderID] = path
	c.mu.Unlock()
}

// InvalidatePath tombstones path's cached stat, so concurrent readers
// observe a Miss instead of a stale Hit.
func (c *Cache) InvalidatePath(path string) {
	_ = c.stat.SetWithTTL(path, statSlot{tomb: true}, tombstoneTTL)
}

// InvalidateFolder tombstones folderID's cached listing.
func (c *Cache) InvalidateFolder(folderID string) {
	_ = c.listing.SetWithTTL(folderID, listingSlot{tomb: true}, tombstoneTTL)
}

// InvalidatePrefix tombstones every cached stat, and the listing of
// every folder whose known path sits under pathPrefix, on folder
// rename/move.
func (c *Cache) InvalidatePrefix(pathPrefix string) {
	for _, key := range c.stat.GetKeys() {
		if strings.HasPrefix(key, pathPrefix) {
			c.InvalidatePath(key)
		}
	}

	c.mu.Lock()
	affected := make([]string, 0)
	for folderID, path := range c.folderPaths {
		if strings.HasPrefix(path, pathPrefix) {
			affected = append(affected, folderID)
		}
	}
	c.mu.Unlock()

	for _, folderID := range affected {
		c.InvalidateFolder(folderID)
	}
}

// Preload schedules a background fill of folderID's children. If the
// queue is full, the oldest pending request is dropped to make room
// rather than blocking the caller.
func (c *Cache) Preload(folderID string) {
	select {
	case c.preloadQueue <- folderID:
		return
	default:
	}
	select {
	case <-c.preloadQueue:
	default:
	}
	select {
	case c.preloadQueue <- folderID:
	default:
	}
}

func (c *Cache) runPreloader() {
	for {
		select {
		case <-c.stopPreload:
			return
		case folderID := <-c.preloadQueue:
			if c.preloadFn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			c.preloadFn(ctx, folderID)
			cancel()
		}
	}
}
