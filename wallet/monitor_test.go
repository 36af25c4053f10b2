package wallet

import (
	"testing"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/events"
)

func TestPaymentMonitor_CheckAddress(t *testing.T) {
	network := NewMockWalletNetwork(1)
	network.Start()

	w := network.Wallets()[0]
	mw := Multiwallet{iwallet.CtMock: w}

	bus := events.NewBus()
	w.SetEventBus(bus)

	monitor := NewPaymentMonitor(&mw, bus, func() ([]WatchedAddress, error) {
		return nil, nil
	})

	sub, err := bus.Subscribe(&events.TransactionReceived{})
	if err != nil {
		t.Fatal(err)
	}

	addr, err := w.NewAddress()
	if err != nil {
		t.Fatal(err)
	}

	target := iwallet.NewAmount(10000)

	payments, err := monitor.CheckAddress("MCK", addr, target)
	if err != nil {
		t.Fatal(err)
	}
	if payments.Status != FundingStatusUnfunded {
		t.Errorf("Expected unfunded status, got %d", payments.Status)
	}

	if err := network.GenerateToAddress(addr, iwallet.NewAmount(4000)); err != nil {
		t.Fatal(err)
	}
	<-sub.Out()

	payments, err = monitor.CheckAddress("MCK", addr, target)
	if err != nil {
		t.Fatal(err)
	}
	if payments.Status != FundingStatusUnfunded {
		t.Errorf("Expected unfunded status, got %d", payments.Status)
	}
	if payments.IncomingTotal.Cmp(iwallet.NewAmount(4000)) != 0 {
		t.Errorf("Incorrect incoming total. Expected 4000, got %s", payments.IncomingTotal)
	}

	if err := network.GenerateToAddress(addr, iwallet.NewAmount(6000)); err != nil {
		t.Fatal(err)
	}
	<-sub.Out()

	payments, err = monitor.CheckAddress("MCK", addr, target)
	if err != nil {
		t.Fatal(err)
	}
	if payments.Status != FundingStatusFunded {
		t.Errorf("Expected funded status, got %d", payments.Status)
	}
	if len(payments.Transactions) != 2 {
		t.Errorf("Expected 2 transactions, got %d", len(payments.Transactions))
	}
}

func TestPaymentMonitor_UnknownOnBackendError(t *testing.T) {
	mw := Multiwallet{}
	monitor := NewPaymentMonitor(&mw, events.NewBus(), func() ([]WatchedAddress, error) {
		return nil, nil
	})

	payments, err := monitor.CheckAddress("MCK", iwallet.Address{}, iwallet.NewAmount(100))
	if err == nil {
		t.Fatal("Expected error for missing wallet, got nil")
	}
	if payments.Status != FundingStatusUnknown {
		t.Errorf("Expected unknown status, got %d", payments.Status)
	}
}

func TestPaymentMonitor_PollEmitsMissedTransactions(t *testing.T) {
	network := NewMockWalletNetwork(1)
	network.Start()

	w := network.Wallets()[0]
	mw := Multiwallet{iwallet.CtMock: w}

	walletBus := events.NewBus()
	w.SetEventBus(walletBus)

	walletSub, err := walletBus.Subscribe(&events.TransactionReceived{})
	if err != nil {
		t.Fatal(err)
	}

	addr, err := w.NewAddress()
	if err != nil {
		t.Fatal(err)
	}

	if err := network.GenerateToAddress(addr, iwallet.NewAmount(25000)); err != nil {
		t.Fatal(err)
	}
	<-walletSub.Out()

	// A separate bus simulates a node that missed the push
	// notification. The polling pass should replay the transaction.
	nodeBus := events.NewBus()
	nodeSub, err := nodeBus.Subscribe(&events.TransactionReceived{})
	if err != nil {
		t.Fatal(err)
	}

	monitor := NewPaymentMonitor(&mw, nodeBus, func() ([]WatchedAddress, error) {
		return []WatchedAddress{
			{
				OrderID:  "abc123",
				Currency: "MCK",
				Address:  addr,
				Target:   iwallet.NewAmount(25000),
			},
		}, nil
	})

	monitor.checkForPayments()

	event := <-nodeSub.Out()
	received, ok := event.(*events.TransactionReceived)
	if !ok {
		t.Fatal("Event type assertion failed")
	}
	if received.To[0].Amount.Cmp(iwallet.NewAmount(25000)) != 0 {
		t.Errorf("Incorrect amount. Expected 25000, got %s", received.To[0].Amount)
	}

	// A second pass must not replay the same transaction.
	monitor.checkForPayments()
	select {
	case <-nodeSub.Out():
		t.Error("Transaction was replayed twice")
	default:
	}
}
