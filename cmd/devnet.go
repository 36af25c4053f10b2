package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/core"
	obnet "github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/repo"
	"github.com/tradebay/escrowd/wallet"
)

// DevNet spins up a local network of three nodes (buyer, vendor,
// moderator) connected over an in-memory transport and an in-memory
// mock coin network. The buyer's wallet is pre-funded so trades can be
// exercised end to end against the three API servers.
type DevNet struct {
	DataDir string `short:"d" long:"datadir" description:"Directory to store the devnet node data"`
	APIPort int    `short:"p" long:"apiport" description:"The API port for the first node. Subsequent nodes increment it." default:"8080"`
}

// Execute starts the dev net.
func (x *DevNet) Execute(args []string) error {
	if x.DataDir == "" {
		x.DataDir = path.Join(os.TempDir(), "escrowd-devnet")
	}
	os.RemoveAll(x.DataDir)

	mocknet := obnet.NewMockNetwork()
	walletNetwork := wallet.NewMockWalletNetwork(3)
	walletNetwork.Start()

	var nodes []*core.EscrowdNode
	for i, name := range []string{"buyer", "vendor", "moderator"} {
		dataDir := path.Join(x.DataDir, name)

		// Initialize the repo up front so the peer ID exists before
		// the transport is attached to the mock network.
		r, err := repo.NewRepo(dataDir)
		if err != nil {
			return err
		}
		peerID, _, _, err := r.LoadIdentity()
		if err != nil {
			r.Close()
			return err
		}
		r.Close()

		w := walletNetwork.Wallets()[i]
		cfg := &repo.Config{
			DataDir: dataDir,
			Testnet: true,
			APIAddr: fmt.Sprintf("127.0.0.1:%d", x.APIPort+i),
		}

		n, err := core.NewNode(cfg,
			core.WithTransport(mocknet.NewTransport(peerID)),
			core.WithWallets(wallet.Multiwallet{iwallet.CoinType("TMCK"): w}),
		)
		if err != nil {
			return err
		}
		w.SetEventBus(n.EventBus())
		n.Start()
		nodes = append(nodes, n)

		log.Infof("%s node: peer ID %s, API on %s", name, peerID, cfg.APIAddr)
	}

	// Fund the buyer so it has coins to spend.
	buyerWallet := walletNetwork.Wallets()[0]
	addr, err := buyerWallet.CurrentAddress()
	if err != nil {
		return err
	}
	if err := walletNetwork.GenerateToAddress(addr, iwallet.NewAmount(100000000)); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	for range c {
		log.Info("Escrowd devnet shutting down...")
		for _, n := range nodes {
			n.Stop()
		}
		os.Exit(1)
	}

	return nil
}
