package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lpyedge/oxicloud/pkg/model"
	"github.com/lpyedge/oxicloud/pkg/searchindex"
	"github.com/lpyedge/oxicloud/pkg/sharestore"
)

func homeCommand() *command {
	cmd := newCommand("home")
	cmd.Description = func() string { return "print (provisioning if needed) the user's home folder" }
	cmd.Action = func() error {
		home, err := engine.Home(context.Background(), user)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", home.ID, home.Name)
		return nil
	}
	return cmd
}

func mkdirCommand() *command {
	cmd := newCommand("mkdir")
	cmd.Description = func() string { return "create a folder" }
	cmd.Usage = func() string { return "Usage: mkdir <parent_folder_id> <name>" }
	cmd.Action = func() error {
		if cmd.NArg() != 2 {
			return errors.New(cmd.Usage())
		}
		f, err := engine.CreateFolder(context.Background(), user, cmd.Arg(0), cmd.Arg(1))
		if err != nil {
			return err
		}
		fmt.Println(f.ID)
		return nil
	}
	return cmd
}

func lsCommand() *command {
	cmd := newCommand("ls")
	cmd.Description = func() string { return "list a folder's children" }
	cmd.Usage = func() string { return "Usage: ls <folder_id>" }
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			return errors.New(cmd.Usage())
		}
		children, err := engine.List(context.Background(), user, cmd.Arg(0))
		if err != nil {
			return err
		}
		for _, c := range children {
			marker := " "
			if c.Type == model.ItemFolder {
				marker = "d"
			}
			fmt.Printf("%s %10d %s %s\n", marker, c.Size, c.ID, c.Name)
		}
		return nil
	}
	return cmd
}

func getCommand() *command {
	cmd := newCommand("get")
	cmd.Description = func() string { return "download a file to stdout or a local path" }
	cmd.Usage = func() string { return "Usage: get [-o local_path] <file_id>" }
	outFlag := cmd.String("o", "", "write to this local path instead of stdout")
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			return errors.New(cmd.Usage())
		}
		rc, err := engine.OpenRead(context.Background(), user, cmd.Arg(0))
		if err != nil {
			return err
		}
		defer rc.Close()

		var out io.Writer = os.Stdout
		if *outFlag != "" {
			fd, err := os.Create(*outFlag)
			if err != nil {
				return err
			}
			defer fd.Close()
			out = fd
		}
		_, err = io.Copy(out, rc)
		return err
	}
	return cmd
}

func rmCommand() *command {
	cmd := newCommand("rm")
	cmd.Description = func() string { return "soft-delete a file or folder into the trash" }
	cmd.Usage = func() string { return "Usage: rm [-folder] <item_id>" }
	folderFlag := cmd.Bool("folder", false, "the id names a folder")
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			return errors.New(cmd.Usage())
		}
		itemType := model.ItemFile
		if *folderFlag {
			itemType = model.ItemFolder
		}
		entry, err := engine.Delete(context.Background(), user, cmd.Arg(0), itemType)
		if err != nil {
			return err
		}
		fmt.Printf("trashed as %s\n", entry.ID)
		return nil
	}
	return cmd
}

func recycleListCommand() *command {
	cmd := newCommand("recycle-list")
	cmd.Description = func() string { return "list the user's trash, newest first" }
	cmd.Action = func() error {
		for _, e := range engine.ListTrash(context.Background(), user) {
			fmt.Printf("%s %s %-6s %s (purge after %s)\n",
				e.ID, e.DeletedAt.Format(time.RFC3339), e.ItemType, e.OriginalName,
				e.RetentionDeadline.Format(time.RFC3339))
		}
		return nil
	}
	return cmd
}

func recycleRestoreCommand() *command {
	cmd := newCommand("recycle-restore")
	cmd.Description = func() string { return "restore a trashed item" }
	cmd.Usage = func() string { return "Usage: recycle-restore <trash_id>" }
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			return errors.New(cmd.Usage())
		}
		res, err := engine.Restore(context.Background(), user, cmd.Arg(0))
		if err != nil {
			return err
		}
		fmt.Printf("restored %s as %s\n", res.ItemID, res.NewPath)
		return nil
	}
	return cmd
}

func recycleEmptyCommand() *command {
	cmd := newCommand("recycle-empty")
	cmd.Description = func() string { return "purge everything in the user's trash" }
	cmd.Action = func() error {
		return engine.EmptyTrash(context.Background(), user)
	}
	return cmd
}

func shareCreateCommand() *command {
	cmd := newCommand("share-create")
	cmd.Description = func() string { return "issue a public share token for an item" }
	cmd.Usage = func() string { return "Usage: share-create [-folder] [-password pw] [-ttl duration] <item_id>" }
	folderFlag := cmd.Bool("folder", false, "the id names a folder")
	pwFlag := cmd.String("password", "", "protect the share with this password")
	ttlFlag := cmd.Duration("ttl", 0, "expire the share after this duration")
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			return errors.New(cmd.Usage())
		}
		itemType := model.ItemFile
		if *folderFlag {
			itemType = model.ItemFolder
		}
		req := sharestore.CreateRequest{ItemID: cmd.Arg(0), ItemType: itemType, Password: *pwFlag}
		if *ttlFlag > 0 {
			exp := time.Now().Add(*ttlFlag)
			req.ExpiresAt = &exp
		}
		sh, err := engine.CreateShare(context.Background(), user, req)
		if err != nil {
			return err
		}
		fmt.Println(sh.Token)
		return nil
	}
	return cmd
}

func shareListCommand() *command {
	cmd := newCommand("share-list")
	cmd.Description = func() string { return "list the user's shares, newest first" }
	pageFlag := cmd.Int("page", 1, "page number")
	perPageFlag := cmd.Int("per-page", 20, "results per page")
	cmd.Action = func() error {
		shares, total := engine.ListSharesForUser(context.Background(), user, *pageFlag, *perPageFlag)
		for _, sh := range shares {
			expiry := "never"
			if sh.ExpiresAt != nil {
				expiry = sh.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Printf("%s %-6s item=%s accesses=%d expires=%s\n", sh.Token, sh.ItemType, sh.ItemID, sh.AccessCount, expiry)
		}
		fmt.Printf("total: %d\n", total)
		return nil
	}
	return cmd
}

func searchCommand() *command {
	cmd := newCommand("search")
	cmd.Description = func() string { return "search file and folder metadata" }
	cmd.Usage = func() string { return "Usage: search [-folder id] [-recursive] [-limit n] <query>" }
	folderFlag := cmd.String("folder", "", "scope to this folder instead of the home folder")
	recursiveFlag := cmd.Bool("recursive", true, "descend into subfolders")
	limitFlag := cmd.Int("limit", 50, "maximum results")
	cmd.Action = func() error {
		if cmd.NArg() != 1 {
			return errors.New(cmd.Usage())
		}
		home, err := engine.Home(context.Background(), user)
		if err != nil {
			return err
		}
		u := user
		u.UserRootFolder = home.ID
		res, err := engine.Search(context.Background(), u, searchindex.Query{
			Query:     cmd.Arg(0),
			FolderID:  *folderFlag,
			Recursive: *recursiveFlag,
			Limit:     *limitFlag,
		})
		if err != nil {
			return err
		}
		for _, f := range res.Folders {
			fmt.Printf("d %10s %s %s\n", "", f.ID, f.Name)
		}
		for _, f := range res.Files {
			fmt.Printf("  %10d %s %s\n", f.SizeBytes, f.ID, f.Name)
		}
		fmt.Printf("total: %d\n", res.Total)
		return nil
	}
	return cmd
}
