package core

import (
	"github.com/tradebay/escrowd/api"
	"github.com/tradebay/escrowd/cases"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/orders"
	"github.com/tradebay/escrowd/repo"
	"github.com/tradebay/escrowd/wallet"
)

// EscrowdNode holds all the components that make up a running escrow
// node. It also exposes an exported API which can be used to control
// the node.
type EscrowdNode struct {

	// repo holds the database and data directory.
	repo *repo.Repo

	// identity is the peer ID derived from the identity key.
	identity string

	// orderProcessor drives the order state machine. All order
	// mutations, whether API calls or peer messages, flow through it.
	orderProcessor *orders.OrderProcessor

	// caseManager owns the moderator side of disputed trades.
	caseManager *cases.CaseManager

	// messenger provides retried, at-least-once delivery of order
	// messages to peers.
	messenger *net.Messenger

	// transport moves order messages over the wire.
	transport net.Transport

	// multiwallet holds the wallet implementations for each enabled
	// coin.
	multiwallet wallet.Multiwallet

	// paymentMonitor polls escrow addresses for payments the wallet
	// push subscription may have missed.
	paymentMonitor *wallet.PaymentMonitor

	// exchangeRates fetches fiat exchange rates for contract pricing.
	exchangeRates *wallet.ExchangeRateProvider

	// eventBus carries the typed lifecycle events between components
	// and out to the websocket feed.
	eventBus events.Bus

	// gateway is the HTTP API server.
	gateway *api.Gateway

	// shutdown is closed when the node is stopped. Any listening
	// goroutines can use this to terminate.
	shutdown chan struct{}
}

// Start gets the node up and running. It returns once every component
// has been started; shutdown is driven by Stop.
func (n *EscrowdNode) Start() {
	n.multiwallet.Start()
	go n.messenger.Start()
	go n.orderProcessor.Start()
	n.paymentMonitor.Start()
	n.listenWalletEvents()

	if n.gateway != nil {
		go func() {
			if err := n.gateway.Serve(); err != nil {
				log.Errorf("Gateway error: %s", err)
			}
		}()
	}
}

// Stop cleanly shuts down the node and signals to any listening
// goroutines that it's time to stop.
func (n *EscrowdNode) Stop() {
	close(n.shutdown)
	if n.gateway != nil {
		n.gateway.Close()
	}
	n.paymentMonitor.Stop()
	n.orderProcessor.Stop()
	n.messenger.Stop()
	n.transport.Close()
	n.multiwallet.Close()
	n.repo.Close()
}

// DestroyNode shuts down the node and deletes the entire data
// directory. This should only be used during testing as destroying a
// live node will result in data loss.
func (n *EscrowdNode) DestroyNode() {
	n.Stop()
	n.repo.DestroyRepo()
}

// Identity returns the peer ID for this node.
func (n *EscrowdNode) Identity() string {
	return n.identity
}

// OrderProcessor returns the node's order processor.
func (n *EscrowdNode) OrderProcessor() *orders.OrderProcessor {
	return n.orderProcessor
}

// Multiwallet returns the node's multiwallet.
func (n *EscrowdNode) Multiwallet() wallet.Multiwallet {
	return n.multiwallet
}

// EventBus returns the node's event bus.
func (n *EscrowdNode) EventBus() events.Bus {
	return n.eventBus
}

// Repo returns the node's repo.
func (n *EscrowdNode) Repo() *repo.Repo {
	return n.repo
}

// listenWalletEvents pumps transactions observed by the wallets and
// the payment monitor into the order processor.
func (n *EscrowdNode) listenWalletEvents() {
	sub, err := n.eventBus.Subscribe(&events.TransactionReceived{})
	if err != nil {
		log.Errorf("Error subscribing to wallet events: %s", err)
		return
	}
	go func() {
		for {
			select {
			case <-n.shutdown:
				sub.Close()
				return
			case event := <-sub.Out():
				txEvent, ok := event.(*events.TransactionReceived)
				if !ok {
					continue
				}
				n.orderProcessor.ProcessWalletTransaction(txEvent.Transaction)
			}
		}
	}()
}
