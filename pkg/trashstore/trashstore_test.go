package trashstore_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/idmap"
	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/trashstore"
)

type fakeFolders struct {
	paths map[string]string
}

func (f *fakeFolders) Path(id string) (string, error) {
	p, ok := f.paths[id]
	if !ok {
		return "", errtypes.NotFound(id)
	}
	return p, nil
}

func newHarness(t *testing.T, retention time.Duration) (*trashstore.Store, *idmap.Map, string, *fakeFolders) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alice"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alice", "note.txt"), []byte("hi"), 0o644))

	ids, err := idmap.Open(filepath.Join(root, ".idmap", "id_map.json"), func() ([]idmap.Entry, error) {
		return nil, nil
	}, idmap.Options{})
	require.NoError(t, err)
	require.NoError(t, ids.Insert("folder-alice", "alice", idmap.KindFolder))
	require.NoError(t, ids.Insert("file-1", "alice/note.txt", idmap.KindFile))

	folders := &fakeFolders{paths: map[string]string{"folder-alice": "alice"}}

	resolve := func(originalParentID, ownerUserID string) (string, error) {
		return "folder-alice", nil
	}

	s, err := trashstore.Open(root, ids, folders, resolve, trashstore.Options{Retention: retention})
	require.NoError(t, err)
	return s, ids, root, folders
}

func TestSoftDeleteMovesIntoTrash(t *testing.T) {
	s, ids, root, _ := newHarness(t, time.Hour)

	entry, err := s.SoftDelete("file-1", model.ItemFile, "folder-alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, "note.txt", entry.OriginalName)

	_, err = os.Stat(filepath.Join(root, "alice", "note.txt"))
	assert.True(t, os.IsNotExist(err))

	p, _, err := ids.Resolve("file-1")
	require.NoError(t, err)
	assert.Contains(t, p, ".trash/alice/"+entry.ID)

	list := s.List("alice")
	require.Len(t, list, 1)
	assert.Equal(t, entry.ID, list[0].ID)
}

func TestRestoreReturnsToOriginalParent(t *testing.T) {
	s, ids, root, _ := newHarness(t, time.Hour)
	entry, err := s.SoftDelete("file-1", model.ItemFile, "folder-alice", "alice")
	require.NoError(t, err)

	res, err := s.Restore(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", res.NewName)
	assert.Equal(t, "alice/note.txt", res.NewPath)

	_, err = os.Stat(filepath.Join(root, "alice", "note.txt"))
	require.NoError(t, err)

	p, _, err := ids.Resolve("file-1")
	require.NoError(t, err)
	assert.Equal(t, "alice/note.txt", p)

	assert.Empty(t, s.List("alice"))
}

func TestRestoreDisambiguatesNameCollision(t *testing.T) {
	s, _, root, _ := newHarness(t, time.Hour)
	entry, err := s.SoftDelete("file-1", model.ItemFile, "folder-alice", "alice")
	require.NoError(t, err)

	// a new file with the original name reappears before restore
	require.NoError(t, os.WriteFile(filepath.Join(root, "alice", "note.txt"), []byte("new"), 0o644))

	res, err := s.Restore(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "note (restored 1).txt", res.NewName)
}

func TestPurgeRemovesContentAndIdMapEntry(t *testing.T) {
	s, ids, root, _ := newHarness(t, time.Hour)
	entry, err := s.SoftDelete("file-1", model.ItemFile, "folder-alice", "alice")
	require.NoError(t, err)

	require.NoError(t, s.Purge(entry.ID))

	_, err = os.Stat(filepath.Join(root, ".trash", "alice", entry.ID))
	assert.True(t, os.IsNotExist(err))
	_, _, err = ids.Resolve("file-1")
	assert.Error(t, err)
	assert.Empty(t, s.List("alice"))
}

func TestRetentionSweepPurgesExpiredEntries(t *testing.T) {
	s, _, _, _ := newHarness(t, -time.Second) // already expired
	entry, err := s.SoftDelete("file-1", model.ItemFile, "folder-alice", "alice")
	require.NoError(t, err)

	purged, err := s.RunRetentionSweep(time.Now())
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, entry.ID, purged[0].ID)
	assert.Empty(t, s.List("alice"))
}
