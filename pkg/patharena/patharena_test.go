package patharena_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/patharena"
)

func TestJoinAcceptsCleanRelativePath(t *testing.T) {
	got, err := patharena.Join("/srv/root", "docs/note.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/root", "docs", "note.txt"), got)
}

func TestJoinRejectsDotDot(t *testing.T) {
	_, err := patharena.Join("/srv/root", "docs/../../etc/passwd")
	require.Error(t, err)
	var iv errtypes.IsInvariantViolation
	assert.ErrorAs(t, err, &iv)
}

func TestJoinRejectsNulByte(t *testing.T) {
	_, err := patharena.Join("/srv/root", "docs/\x00note.txt")
	require.Error(t, err)
}

func TestJoinRejectsOversizedSegment(t *testing.T) {
	long := strings.Repeat("a", 256)
	_, err := patharena.Join("/srv/root", long)
	require.Error(t, err)

	ok255 := strings.Repeat("a", 255)
	_, err = patharena.Join("/srv/root", ok255)
	require.NoError(t, err)
}

func TestContainsRejectsEscape(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	ok, err := patharena.Contains(root, sub)
	require.NoError(t, err)
	assert.True(t, ok)

	outside := t.TempDir()
	ok, err = patharena.Contains(root, outside)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelativeRoundTrips(t *testing.T) {
	root := t.TempDir()
	abs := filepath.Join(root, "a", "b", "c.txt")

	rel, err := patharena.Relative(root, abs)
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", rel)
}

func TestFoldIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, patharena.Fold("Note.TXT"), patharena.Fold("note.txt"))
}
