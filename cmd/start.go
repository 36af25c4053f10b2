package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/core"
	"github.com/tradebay/escrowd/repo"
	"github.com/tradebay/escrowd/version"
)

var log = logging.MustGetLogger("CMD")

// Start is the main entry point for escrowd. The options to this
// command are the same as the node config options.
type Start struct {
	repo.Config
}

// Execute starts the escrowd node.
func (x *Start) Execute(args []string) error {
	cfg, _, err := repo.LoadConfig()
	if err != nil {
		return err
	}

	n, err := core.NewNode(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("escrowd v%s\n", version.String())
	log.Infof("PeerID: %s", n.Identity())
	log.Infof("API server listening on %s", cfg.APIAddr)
	n.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	for range c {
		log.Info("Escrowd shutting down...")
		n.Stop()
		os.Exit(1)
	}

	return nil
}
