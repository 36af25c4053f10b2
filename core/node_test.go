package core

import (
	"os"
	"path"
	"testing"

	"github.com/tradebay/escrowd/repo"
)

func TestNodeStartStop(t *testing.T) {
	dir := path.Join(os.TempDir(), "escrowd", "nodeStartStopTest")
	defer os.RemoveAll(dir)

	cfg := &repo.Config{
		DataDir: dir,
		Testnet: true,
		APIAddr: "127.0.0.1:0",
	}

	n, err := NewNode(cfg, WithoutGateway())
	if err != nil {
		t.Fatal(err)
	}

	if n.Identity() == "" {
		t.Error("Node has no identity")
	}
	if n.OrderProcessor() == nil {
		t.Error("Node has no order processor")
	}

	n.Start()
	n.Stop()
}

func TestNodeGateway(t *testing.T) {
	dir := path.Join(os.TempDir(), "escrowd", "nodeGatewayTest")
	defer os.RemoveAll(dir)

	cfg := &repo.Config{
		DataDir: dir,
		Testnet: true,
		APIAddr: "127.0.0.1:0",
	}

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if n.gateway == nil {
		t.Fatal("Node has no gateway")
	}
	n.Stop()
}
