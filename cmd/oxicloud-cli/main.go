// Command oxicloud-cli drives a storage root directly from the shell:
// folder and file operations, trash listing and restore, share issuance
// and metadata search, without any server in between. It exists for
// operators and for exercising the engine end to end.
package main

import (
	"fmt"
	"os"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/pkg/auth"
	"github.com/lpyedge/oxicloud/pkg/config"
	"github.com/lpyedge/oxicloud/pkg/coordinator"
)

var (
	engine *coordinator.Coordinator
	user   auth.CurrentUser

	commands = []*command{
		homeCommand(),
		mkdirCommand(),
		lsCommand(),
		putCommand(),
		getCommand(),
		rmCommand(),
		recycleListCommand(),
		recycleRestoreCommand(),
		recycleEmptyCommand(),
		shareCreateCommand(),
		shareListCommand(),
		searchCommand(),
	}
)

func main() {
	root := os.Getenv("OXICLOUD_ROOT")
	userID := os.Getenv("OXICLOUD_USER")
	args := os.Args[1:]

	for len(args) > 0 {
		switch args[0] {
		case "-root":
			if len(args) < 2 {
				usage()
			}
			root, args = args[1], args[2:]
		case "-user":
			if len(args) < 2 {
				usage()
			}
			userID, args = args[1], args[2:]
		default:
			goto dispatch
		}
	}

dispatch:
	if root == "" || userID == "" || len(args) == 0 {
		usage()
	}

	cfg := config.Default()
	cfg.StorageRoot = root

	logger := log.New("oxicloud-cli", os.Stderr, cfg.LogMode)
	var err error
	engine, err = coordinator.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer engine.Close()

	user = auth.CurrentUser{UserID: userID}

	for _, cmd := range commands {
		if cmd.Name != args[0] {
			continue
		}
		if err := cmd.Parse(args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := cmd.Action(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	usage()
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: oxicloud-cli -root <storage_root> -user <user_id> <command> [args]")
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", cmd.Name, cmd.Description())
	}
	os.Exit(1)
}
