package orders

import (
	"errors"
	"testing"

	"github.com/tradebay/escrowd/models"
)

func TestOrderProcessor_CancelOrder(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentCancelable)
	if err != nil {
		t.Fatal(err)
	}

	order, err := tr.newOrder(models.StatePending)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.fundOrder(order); err != nil {
		t.Fatal(err)
	}
	if err := tr.saveOrder(order); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	if err := tr.node.CancelOrder(tr.orderID, done); err != nil {
		t.Fatal(err)
	}
	<-done

	saved, err := tr.savedOrder()
	if err != nil {
		t.Fatal(err)
	}
	if saved.OrderState() != models.StateCanceled {
		t.Errorf("Expected state %s, got %s", models.StateCanceled, saved.OrderState())
	}

	queued, err := tr.queuedMessages(models.TypeOrderCancel)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 {
		t.Fatalf("Expected 1 queued ORDER_CANCEL, got %d", len(queued))
	}
	if queued[0].Recipient != tr.vendor.PeerID {
		t.Errorf("ORDER_CANCEL queued for %s, expected the vendor", queued[0].Recipient)
	}
	message, err := queued[0].Message()
	if err != nil {
		t.Fatal(err)
	}
	cancel := new(models.Cancel)
	if err := message.GetPayload(cancel); err != nil {
		t.Fatal(err)
	}
	if cancel.TransactionID == "" {
		t.Error("Cancel of a funded order carries no transaction ID")
	}
	walletTxs, err := tr.wal.Transactions()
	if err != nil {
		t.Fatal(err)
	}
	if len(walletTxs) != 1 {
		t.Errorf("Expected 1 wallet transaction from the sweep, got %d", len(walletTxs))
	}
}

func TestOrderProcessor_CancelOrder_refused(t *testing.T) {
	tests := []struct {
		name   string
		role   models.OrderRole
		state  models.OrderState
		method models.PaymentMethod
	}{
		{
			name:   "vendor cannot cancel",
			role:   models.RoleVendor,
			state:  models.StatePending,
			method: models.PaymentCancelable,
		},
		{
			name:   "direct escrow cannot be canceled",
			role:   models.RoleBuyer,
			state:  models.StateAwaitingPayment,
			method: models.PaymentDirect,
		},
		{
			name:   "order already processed",
			role:   models.RoleBuyer,
			state:  models.StateAwaitingFulfillment,
			method: models.PaymentCancelable,
		},
	}

	for _, test := range tests {
		tr, err := newTestTrade(test.role, test.method)
		if err != nil {
			t.Fatal(err)
		}
		order, err := tr.newOrder(test.state)
		if err != nil {
			t.Fatal(err)
		}
		if err := tr.saveOrder(order); err != nil {
			t.Fatal(err)
		}
		if err := tr.node.CancelOrder(tr.orderID, nil); !errors.Is(err, ErrBadRequest) {
			t.Errorf("%s: expected ErrBadRequest, got %v", test.name, err)
		}
	}
}
