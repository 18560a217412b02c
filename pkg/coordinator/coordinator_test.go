package coordinator_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpyedge/oxicloud/pkg/auth"
	"github.com/lpyedge/oxicloud/pkg/config"
	"github.com/lpyedge/oxicloud/pkg/coordinator"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/searchindex"
	"github.com/lpyedge/oxicloud/pkg/sharestore"
)

var alice = auth.CurrentUser{UserID: "alice"}

func newEngine(t *testing.T) (*coordinator.Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.StorageRoot = root

	c, err := coordinator.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, root
}

func upload(t *testing.T, c *coordinator.Coordinator, folderID, name, content string) model.File {
	t.Helper()
	f, err := c.UploadFile(context.Background(), alice, folderID, name, bytes.NewReader([]byte(content)), int64(len(content)))
	require.NoError(t, err)
	return f
}

func readBack(t *testing.T, c *coordinator.Coordinator, fileID string) string {
	t.Helper()
	rc, err := c.OpenRead(context.Background(), alice, fileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestCreateFolderUploadAndList(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)

	docs, err := c.CreateFolder(ctx, alice, home.ID, "docs")
	require.NoError(t, err)

	f := upload(t, c, docs.ID, "note.txt", "hello")
	assert.EqualValues(t, 5, f.SizeBytes)
	assert.Equal(t, "text/plain; charset=utf-8", f.MimeType)

	children, err := c.List(ctx, alice, docs.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, f.ID, children[0].ID)
	assert.Equal(t, "note.txt", children[0].Name)
	assert.EqualValues(t, 5, children[0].Size)

	assert.Equal(t, "hello", readBack(t, c, f.ID))
}

func TestRenameCollisionLeavesListingIntact(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	docs, err := c.CreateFolder(ctx, alice, home.ID, "docs")
	require.NoError(t, err)

	upload(t, c, docs.ID, "a.txt", "a")
	b := upload(t, c, docs.ID, "b.txt", "b")

	err = c.RenameFile(ctx, alice, b.ID, "a.txt")
	assert.ErrorAs(t, err, new(errtypes.IsConflict))

	children, err := c.List(ctx, alice, docs.ID)
	require.NoError(t, err)
	names := []string{children[0].Name, children[1].Name}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestSoftDeleteAndRestoreRoundTrip(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	docs, err := c.CreateFolder(ctx, alice, home.ID, "docs")
	require.NoError(t, err)
	f := upload(t, c, docs.ID, "note.txt", "hello")

	entry, err := c.Delete(ctx, alice, f.ID, model.ItemFile)
	require.NoError(t, err)

	children, err := c.List(ctx, alice, docs.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	trash := c.ListTrash(ctx, alice)
	require.Len(t, trash, 1)
	assert.Equal(t, f.ID, trash[0].OriginalID)

	res, err := c.Restore(ctx, alice, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", res.NewName)
	assert.Equal(t, "alice/docs/note.txt", res.NewPath)
	assert.Equal(t, "hello", readBack(t, c, f.ID))
}

func TestRestoreUnderConflictDisambiguates(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	docs, err := c.CreateFolder(ctx, alice, home.ID, "docs")
	require.NoError(t, err)
	f := upload(t, c, docs.ID, "note.txt", "original")

	entry, err := c.Delete(ctx, alice, f.ID, model.ItemFile)
	require.NoError(t, err)

	upload(t, c, docs.ID, "note.txt", "replacement")

	res, err := c.Restore(ctx, alice, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "note (restored 1).txt", res.NewName)
	assert.Equal(t, "original", readBack(t, c, f.ID))
}

func TestDeleteFolderProducesOneTrashEntryAndRestoresSubtree(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	docs, err := c.CreateFolder(ctx, alice, home.ID, "docs")
	require.NoError(t, err)
	sub, err := c.CreateFolder(ctx, alice, docs.ID, "sub")
	require.NoError(t, err)
	f := upload(t, c, sub.ID, "deep.txt", "deep")

	entry, err := c.Delete(ctx, alice, docs.ID, model.ItemFolder)
	require.NoError(t, err)

	trash := c.ListTrash(ctx, alice)
	require.Len(t, trash, 1)
	assert.Equal(t, docs.ID, trash[0].OriginalID)

	_, err = c.Restore(ctx, alice, entry.ID)
	require.NoError(t, err)

	children, err := c.List(ctx, alice, sub.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "deep.txt", children[0].Name)
	assert.Equal(t, "deep", readBack(t, c, f.ID))
}

func TestPurgeRemovesContentAndCascadesShares(t *testing.T) {
	c, root := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	f := upload(t, c, home.ID, "secret.txt", "secret")

	sh, err := c.CreateShare(ctx, alice, sharestore.CreateRequest{ItemID: f.ID, ItemType: model.ItemFile})
	require.NoError(t, err)

	entry, err := c.Delete(ctx, alice, f.ID, model.ItemFile)
	require.NoError(t, err)
	require.NoError(t, c.PurgeTrash(ctx, alice, entry.ID))

	_, err = c.ResolveShare(ctx, sh.Token)
	assert.ErrorAs(t, err, new(errtypes.IsNotFound))

	matches, err := filepath.Glob(filepath.Join(root, ".trash", "alice", "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestShareWithPasswordAndExpiry(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	f := upload(t, c, home.ID, "note.txt", "hello")

	inAnHour := time.Now().Add(time.Hour)
	sh, err := c.CreateShare(ctx, alice, sharestore.CreateRequest{
		ItemID: f.ID, ItemType: model.ItemFile,
		Password: "s3cret", ExpiresAt: &inAnHour,
	})
	require.NoError(t, err)

	_, err = c.ResolveShare(ctx, sh.Token)
	assert.ErrorAs(t, err, new(errtypes.IsPasswordRequired))

	ok, err := c.VerifySharePassword(ctx, sh.Token, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.VerifySharePassword(ctx, sh.Token, "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	twoHoursAgo := time.Now().Add(-2 * time.Hour)
	_, err = c.UpdateShare(ctx, alice, sh.ID, sharestore.UpdateRequest{ExpiresAt: &twoHoursAgo})
	require.NoError(t, err)
	_, err = c.ResolveShare(ctx, sh.Token)
	assert.ErrorAs(t, err, new(errtypes.IsExpired))
}

func TestMoveFolderCyclePrevention(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	a, err := c.CreateFolder(ctx, alice, home.ID, "A")
	require.NoError(t, err)
	b, err := c.CreateFolder(ctx, alice, a.ID, "B")
	require.NoError(t, err)
	cFolder, err := c.CreateFolder(ctx, alice, b.ID, "C")
	require.NoError(t, err)

	err = c.MoveFolder(ctx, alice, a.ID, cFolder.ID)
	assert.ErrorAs(t, err, new(errtypes.IsInvariantViolation))

	children, err := c.List(ctx, alice, a.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "B", children[0].Name)
}

func TestQuotaFailsFast(t *testing.T) {
	c, root := newEngine(t)
	ctx := context.Background()

	limited := auth.CurrentUser{UserID: "alice", QuotaBytes: 10}
	home, err := c.Home(ctx, limited)
	require.NoError(t, err)
	upload(t, c, home.ID, "small.txt", "12345")

	_, err = c.UploadFile(ctx, limited, home.ID, "big.txt", bytes.NewReader(bytes.Repeat([]byte("x"), 20)), 20)
	assert.ErrorAs(t, err, new(errtypes.IsQuotaExceeded))

	_, err = os.Stat(filepath.Join(root, "alice", "big.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestOwnershipGatesEveryDispatch(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	f := upload(t, c, home.ID, "private.txt", "mine")

	mallory := auth.CurrentUser{UserID: "mallory"}
	_, err = c.OpenRead(ctx, mallory, f.ID)
	assert.ErrorAs(t, err, new(errtypes.IsAccessDenied))
	_, err = c.Delete(ctx, mallory, f.ID, model.ItemFile)
	assert.ErrorAs(t, err, new(errtypes.IsAccessDenied))
}

func TestSearchIsScopedToCallerRoot(t *testing.T) {
	c, _ := newEngine(t)
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	upload(t, c, home.ID, "findme.txt", "x")

	bob := auth.CurrentUser{UserID: "bob"}
	bobHome, err := c.Home(ctx, bob)
	require.NoError(t, err)
	_, err = c.UploadFile(ctx, bob, bobHome.ID, "findme.txt", bytes.NewReader([]byte("y")), 1)
	require.NoError(t, err)

	res, err := c.Search(ctx, alice, searchindex.Query{Query: "findme", Recursive: true, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "alice", res.Files[0].OwnerUserID)
}

func TestRetentionSweepPurges(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.StorageRoot = root
	cfg.TrashRetention = time.Nanosecond

	c, err := coordinator.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	home, err := c.Home(ctx, alice)
	require.NoError(t, err)
	f := upload(t, c, home.ID, "gone.txt", "bye")
	_, err = c.Delete(ctx, alice, f.ID, model.ItemFile)
	require.NoError(t, err)

	c.Sweep(time.Now().Add(time.Second))
	assert.Empty(t, c.ListTrash(ctx, alice))
}

func TestCancelledUploadLeavesNoTrace(t *testing.T) {
	c, root := newEngine(t)

	home, err := c.Home(context.Background(), alice)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := bytes.Repeat([]byte("x"), 4096)
	_, err = c.UploadFile(ctx, alice, home.ID, "big.bin", bytes.NewReader(content), int64(len(content)))
	assert.ErrorAs(t, err, new(errtypes.IsCancelled))

	children, err := c.List(context.Background(), alice, home.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	temps, err := filepath.Glob(filepath.Join(root, "alice", ".upload-*"))
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestSecondInstanceOnSameRootIsRefused(t *testing.T) {
	c, root := newEngine(t)
	_ = c

	cfg := config.Default()
	cfg.StorageRoot = root
	_, err := coordinator.New(cfg, nil)
	assert.ErrorAs(t, err, new(errtypes.IsConflict))
}
