// sealkey is the client-side companion to gseal: it generates creator
// keypairs, registers them with a node, and seals and opens records. The
// private key never leaves this process; encryption, the proof-of-work
// search and signing all happen locally.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/seal-network/gseal/internal/flags"
)

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""
var gitDate = ""

var app *cli.App

func init() {
	app = flags.NewApp(gitCommit, gitDate, "the gseal creator key and sealing tool")
	app.Commands = []*cli.Command{
		commandGenerate,
		commandInspect,
		commandRegister,
		commandSeal,
		commandOpen,
	}
}

// Commonly used command line flags.
var (
	nodeFlag = &cli.StringFlag{
		Name:  "node",
		Usage: "base URL of the gseal node API",
		Value: "http://localhost:4001",
	}
	keyFlag = &cli.StringFlag{
		Name:  "key",
		Usage: "path to the creator's private key PEM",
		Value: "creator.pem",
	}
	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "creator display name",
	}
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
