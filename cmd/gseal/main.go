// gseal is the sealed-ledger node daemon: it serves the two-phase mining
// API, re-verifies the chain in the background and gossips blocks with
// its configured peers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/seal-network/gseal/cmd/utils"
	"github.com/seal-network/gseal/internal/flags"
	"github.com/seal-network/gseal/node"
)

const clientIdentifier = "gseal"

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""
var gitDate = ""

var app = flags.NewApp(gitCommit, gitDate, "the sealed-ledger node")

func init() {
	app.Name = clientIdentifier
	app.Action = runNode
	app.Flags = utils.NodeFlags
	app.Commands = []*cli.Command{
		versionCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		return utils.SetupLogging(ctx)
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNode(ctx *cli.Context) error {
	cfg := utils.MakeNodeConfig(ctx)

	n, err := node.New(context.Background(), cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"http": cfg.HTTPPort,
		"p2p":  cfg.P2PPort,
	}).Info("gseal node started")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.WithField("signal", sig.String()).Info("Shutting down")
	return n.Stop()
}
