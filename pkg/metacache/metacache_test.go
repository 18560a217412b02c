package metacache_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lpyedge/oxicloud/pkg/metacache"
)

var _ = Describe("Cache", func() {
	var cache *metacache.Cache

	AfterEach(func() {
		if cache != nil {
			cache.Close()
		}
	})

	Describe("stat entries", func() {
		BeforeEach(func() {
			cache = metacache.New(nil, metacache.Options{TTL: time.Hour})
		})

		It("is a Miss before anything is cached", func() {
			_, ok := cache.GetStat("docs/note.txt")
			Expect(ok).To(BeFalse())
		})

		It("returns what was put", func() {
			rec := metacache.StatRecord{Size: 5, MimeType: "text/plain"}
			cache.PutStat("docs/note.txt", rec)

			got, ok := cache.GetStat("docs/note.txt")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(rec))
		})

		It("tombstones on invalidation instead of silently forgetting", func() {
			cache.PutStat("docs/note.txt", metacache.StatRecord{Size: 5})
			cache.InvalidatePath("docs/note.txt")

			_, ok := cache.GetStat("docs/note.txt")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("listing entries", func() {
		BeforeEach(func() {
			cache = metacache.New(nil, metacache.Options{TTL: time.Hour})
		})

		It("round-trips a listing", func() {
			children := []metacache.ChildRef{{ID: "f1", Name: "a.txt", IsFile: true}}
			cache.PutListing("folder-1", "docs", children)

			got, ok := cache.GetListing("folder-1")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(children))
		})

		It("invalidates every listing whose path has the given prefix", func() {
			cache.PutListing("folder-1", "docs/sub", nil)
			cache.PutListing("folder-2", "other", nil)

			cache.InvalidatePrefix("docs")

			_, ok := cache.GetListing("folder-1")
			Expect(ok).To(BeFalse())
			_, ok = cache.GetListing("folder-2")
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Preload", func() {
		It("invokes the preload function for a scheduled folder", func() {
			var mu sync.Mutex
			seen := map[string]bool{}

			cache = metacache.New(func(ctx context.Context, folderID string) {
				mu.Lock()
				seen[folderID] = true
				mu.Unlock()
			}, metacache.Options{TTL: time.Hour})

			cache.Preload("folder-1")

			Eventually(func() bool {
				mu.Lock()
				defer mu.Unlock()
				return seen["folder-1"]
			}, time.Second, 5*time.Millisecond).Should(BeTrue())
		})

		It("drops the oldest request when the backlog is full", func() {
			release := make(chan struct{})
			var mu sync.Mutex
			var processed []string

			cache = metacache.New(func(ctx context.Context, folderID string) {
				<-release
				mu.Lock()
				processed = append(processed, folderID)
				mu.Unlock()
			}, metacache.Options{TTL: time.Hour, PreloadBacklog: 1})

			cache.Preload("first") // picked up immediately by the single worker goroutine
			time.Sleep(20 * time.Millisecond)
			cache.Preload("second") // fills the backlog
			cache.Preload("third")  // backlog full: drops "second", queues "third"
			close(release)

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), processed...)
			}, time.Second, 5*time.Millisecond).Should(ContainElement("third"))
		})
	})
})
