// Package treeops holds the subtree path-maintenance helper shared by
// FolderStore and FileStore. IdMap (pkg/idmap) stores one explicit
// root-relative path per id rather than deriving it from a parent
// pointer, so moving or renaming a folder leaves every descendant id's
// path stale until it is repointed. A physical rename/move is a single
// directory-rename syscall; the logical fix-up below is the O(subtree)
// half of that operation.
package treeops

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/idmap"
	"github.com/lpyedge/oxicloud/pkg/patharena"
)

// Reprefix walks the storage subtree now living at newRel (already
// physically moved there) and, for every entry still mapped under its
// old path (oldRel plus whatever suffix), repoints its IdMap entry to
// the corresponding new path. oldRel/newRel both refer to the same
// entry: the moved/renamed id itself, handled uniformly with its
// descendants since WalkDir visits the root of the subtree too.
func Reprefix(root string, ids *idmap.Map, oldRel, newRel string) error {
	newAbs, err := patharena.Join(root, newRel)
	if err != nil {
		return err
	}

	return filepath.WalkDir(newAbs, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return errtypes.IOError{Msg: "walk moved subtree", Err: err}
		}

		newChildRel, err := patharena.Relative(root, path)
		if err != nil {
			return err
		}

		oldChildRel := oldRel
		if newChildRel != newRel {
			suffix := strings.TrimPrefix(newChildRel, newRel+"/")
			oldChildRel = oldRel + "/" + suffix
		}

		id, err := ids.Reverse(oldChildRel)
		if err != nil {
			if _, ok := err.(errtypes.IsNotFound); ok {
				// entries never adopted into IdMap (e.g. stray files dropped
				// directly on disk) are skipped rather than failing the move.
				return nil
			}
			return err
		}

		return ids.Rename(id, newChildRel)
	})
}
