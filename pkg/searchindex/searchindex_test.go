package searchindex_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/searchindex"
)

type fakeFolders struct {
	paths map[string]string
}

func (f *fakeFolders) Path(folderID string) (string, error) {
	p, ok := f.paths[folderID]
	if !ok {
		return "", errtypes.NotFound(folderID)
	}
	return p, nil
}

var _ = Describe("Index", func() {
	var (
		index   *searchindex.Index
		folders *fakeFolders
		now     time.Time
	)

	file := func(id, name, folderID string, size int64, modified time.Time) model.File {
		return model.File{
			ID: id, Name: name, FolderID: folderID, SizeBytes: size,
			CreatedAt: modified, ModifiedAt: modified, OwnerUserID: "alice",
		}
	}

	BeforeEach(func() {
		now = time.Now()
		folders = &fakeFolders{paths: map[string]string{
			"home":  "alice",
			"docs":  "alice/docs",
			"other": "bob",
		}}
		index = searchindex.New(folders, searchindex.Options{})

		index.UpsertFolder(model.Folder{ID: "docs", Name: "docs", ParentID: "home", CreatedAt: now, ModifiedAt: now, OwnerUserID: "alice"}, "alice/docs")
		index.UpsertFile(file("f-report", "Report.pdf", "docs", 2048, now), "alice/docs/Report.pdf")
		index.UpsertFile(file("f-notes", "notes.txt", "docs", 10, now.Add(-time.Hour)), "alice/docs/notes.txt")
		index.UpsertFile(file("f-readme", "readme.txt", "home", 512, now), "alice/readme.txt")
		index.UpsertFile(file("f-bob", "notes.txt", "other", 99, now), "bob/notes.txt")
	})

	It("matches name substrings case-insensitively", func() {
		res, err := index.Search("home", searchindex.Query{Query: "REPORT", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1))
		Expect(res.Files).To(HaveLen(1))
		Expect(res.Files[0].ID).To(Equal("f-report"))
	})

	It("supports glob patterns", func() {
		res, err := index.Search("home", searchindex.Query{Query: "*.txt", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(2))
	})

	It("never escapes the caller's root", func() {
		res, err := index.Search("home", searchindex.Query{Query: "notes", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1))
		Expect(res.Files[0].ID).To(Equal("f-notes"))

		_, err = index.Search("home", searchindex.Query{Query: "notes", FolderID: "other", Recursive: true, Limit: 10})
		Expect(err).To(BeAssignableToTypeOf(errtypes.AccessDenied("")))
	})

	It("limits to direct children when not recursive", func() {
		res, err := index.Search("home", searchindex.Query{Query: "", Recursive: false, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(2)) // docs/ and readme.txt
	})

	It("reports the full total with limit zero", func() {
		res, err := index.Search("home", searchindex.Query{Query: "", Recursive: true, Limit: 0})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Files).To(BeEmpty())
		Expect(res.Folders).To(BeEmpty())
		Expect(res.Total).To(Equal(4))
	})

	It("filters by file type, excluding folders", func() {
		res, err := index.Search("home", searchindex.Query{Query: "", Recursive: true, FileTypes: []string{"pdf"}, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1))
		Expect(res.Files[0].ID).To(Equal("f-report"))
		Expect(res.Folders).To(BeEmpty())
	})

	It("filters by size range", func() {
		res, err := index.Search("home", searchindex.Query{Query: "", Recursive: true, SizeMin: 100, SizeMax: 1024, FileTypes: []string{"txt"}, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1))
		Expect(res.Files[0].ID).To(Equal("f-readme"))
	})

	It("sorts by name, case-folded", func() {
		res, err := index.Search("home", searchindex.Query{Query: "", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		var names []string
		for _, f := range res.Files {
			names = append(names, f.Name)
		}
		Expect(names).To(Equal([]string{"notes.txt", "readme.txt", "Report.pdf"}))
		Expect(res.Folders).To(HaveLen(1))
	})

	It("serves fresh results after a write invalidates the cache", func() {
		res, err := index.Search("home", searchindex.Query{Query: "draft", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(0))

		index.UpsertFile(file("f-draft", "draft.txt", "docs", 1, now), "alice/docs/draft.txt")

		res, err = index.Search("home", searchindex.Query{Query: "draft", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1))
	})

	It("drops a whole subtree on prefix removal", func() {
		index.RemovePrefix("alice/docs")
		res, err := index.Search("home", searchindex.Query{Query: "", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1)) // only readme.txt survives
	})

	It("follows a folder move via reprefix", func() {
		folders.paths["archive"] = "alice/archive"
		index.Reprefix("alice/docs", "alice/archive")

		res, err := index.Search("home", searchindex.Query{Query: "notes", Recursive: true, Limit: 10})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Total).To(Equal(1))
	})
})
