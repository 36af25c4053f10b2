package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/tradebay/escrowd/models"
)

func TestOrderProcessor_CompleteOrder(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentDirect)
	if err != nil {
		t.Fatal(err)
	}

	order, err := tr.newOrder(models.StateFulfilled)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.fundOrder(order); err != nil {
		t.Fatal(err)
	}
	payoutAddress, err := tr.wal.NewAddress()
	if err != nil {
		t.Fatal(err)
	}
	err = order.PutFulfillment(models.Fulfillment{
		ItemIndexes:   []int{0},
		PayoutAddress: payoutAddress.String(),
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.saveOrder(order); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	ratings := []models.Rating{{Overall: 5, Review: "great"}}
	if err := tr.node.CompleteOrder(tr.orderID, ratings, done); err != nil {
		t.Fatal(err)
	}
	<-done

	saved, err := tr.savedOrder()
	if err != nil {
		t.Fatal(err)
	}
	if saved.OrderState() != models.StateCompleted {
		t.Errorf("Expected state %s, got %s", models.StateCompleted, saved.OrderState())
	}

	queued, err := tr.queuedMessages(models.TypeOrderComplete)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 {
		t.Fatalf("Expected 1 queued ORDER_COMPLETE, got %d", len(queued))
	}
	if queued[0].Recipient != tr.vendor.PeerID {
		t.Errorf("ORDER_COMPLETE queued for %s, expected the vendor", queued[0].Recipient)
	}
	message, err := queued[0].Message()
	if err != nil {
		t.Fatal(err)
	}
	completion := new(models.Completion)
	if err := message.GetPayload(completion); err != nil {
		t.Fatal(err)
	}
	if len(completion.Ratings) != 1 || completion.Ratings[0].Overall != 5 {
		t.Error("Completion does not carry the buyer's rating")
	}
	if completion.Release == nil {
		t.Fatal("Completion of a funded order carries no release")
	}
	if len(completion.Release.Signatures) == 0 {
		t.Error("Completion release carries no buyer signatures")
	}
	if len(completion.Release.Outputs) != 1 {
		t.Fatalf("Expected 1 release output, got %d", len(completion.Release.Outputs))
	}
	if completion.Release.Outputs[0].Address != payoutAddress.String() {
		t.Errorf("Release pays %s, expected the vendor payout address %s", completion.Release.Outputs[0].Address, payoutAddress)
	}
}

func TestOrderProcessor_CompleteOrder_refused(t *testing.T) {
	tests := []struct {
		name  string
		role  models.OrderRole
		setup func(tr *testTrade, order *models.Order) error
	}{
		{
			name:  "vendor cannot complete",
			role:  models.RoleVendor,
			setup: func(tr *testTrade, order *models.Order) error { return nil },
		},
		{
			name: "not yet fulfilled",
			role: models.RoleBuyer,
			setup: func(tr *testTrade, order *models.Order) error {
				order.SetState(models.StateAwaitingFulfillment)
				return nil
			},
		},
		{
			name: "under active dispute",
			role: models.RoleBuyer,
			setup: func(tr *testTrade, order *models.Order) error {
				return order.PutDispute(&models.DisputeClaim{
					OpenedBy:  models.SignerVendor,
					Timestamp: time.Now(),
				})
			},
		},
	}

	for _, test := range tests {
		tr, err := newTestTrade(test.role, models.PaymentModerated)
		if err != nil {
			t.Fatal(err)
		}
		order, err := tr.newOrder(models.StateFulfilled)
		if err != nil {
			t.Fatal(err)
		}
		if err := test.setup(tr, order); err != nil {
			t.Fatal(err)
		}
		if err := tr.saveOrder(order); err != nil {
			t.Fatal(err)
		}
		if err := tr.node.CompleteOrder(tr.orderID, nil, nil); !errors.Is(err, ErrBadRequest) {
			t.Errorf("%s: expected ErrBadRequest, got %v", test.name, err)
		}
	}
}
