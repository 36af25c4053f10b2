package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
)

func TestOrderProcessor_processOrderFulfillmentMessage(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentDirect)
	if err != nil {
		t.Fatal(err)
	}
	// A second item so a single fulfillment only partially fulfills.
	tr.contract.Items = append(tr.contract.Items, models.PurchaseItem{Quantity: 1})

	fulfillment := &models.Fulfillment{
		ItemIndexes:   []int{0},
		Carrier:       "UPS",
		TrackingNum:   "1Z999",
		PayoutAddress: "vendorpayoutaddress",
		Timestamp:     time.Now(),
	}
	fulfillMsg, err := signedOrderMessage(tr.orderID, models.TypeOrderFulfillment, fulfillment, tr.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	secondFulfillment := &models.Fulfillment{
		ItemIndexes: []int{1},
		Timestamp:   time.Now(),
	}
	secondMsg, err := signedOrderMessage(tr.orderID, models.TypeOrderFulfillment, secondFulfillment, tr.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	order, err := tr.newOrder(models.StateAwaitingFulfillment)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.fundOrder(order); err != nil {
		t.Fatal(err)
	}

	err = tr.node.db.Update(func(tx database.Tx) error {
		event, err := tr.node.processOrderFulfillmentMessage(tx, order, tr.vendor.PeerID, fulfillMsg)
		if err != nil {
			return err
		}
		if _, ok := event.(*events.OrderFulfillment); !ok {
			t.Errorf("expected OrderFulfillment event, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.OrderState() != models.StatePartiallyFulfilled {
		t.Errorf("expected state %s, got %s", models.StatePartiallyFulfilled, order.OrderState())
	}

	// A replay of the same fulfillment is a no-op.
	err = tr.node.db.Update(func(tx database.Tx) error {
		event, err := tr.node.processOrderFulfillmentMessage(tx, order, tr.vendor.PeerID, fulfillMsg)
		if err != nil {
			return err
		}
		if event != nil {
			t.Errorf("expected nil event for duplicate fulfillment, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Fulfilling the remaining item completes the set.
	err = tr.node.db.Update(func(tx database.Tx) error {
		_, err := tr.node.processOrderFulfillmentMessage(tx, order, tr.vendor.PeerID, secondMsg)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.OrderState() != models.StateFulfilled {
		t.Errorf("expected state %s, got %s", models.StateFulfilled, order.OrderState())
	}

	fulfillments, err := order.Fulfillments()
	if err != nil {
		t.Fatal(err)
	}
	if len(fulfillments) != 2 {
		t.Errorf("expected 2 fulfillment records, got %d", len(fulfillments))
	}
	if fulfillments[0].PayoutAddress != fulfillment.PayoutAddress {
		t.Errorf("expected payout address %s, got %s", fulfillment.PayoutAddress, fulfillments[0].PayoutAddress)
	}
}

func TestOrderProcessor_processOrderFulfillmentMessage_badStates(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentDirect)
	if err != nil {
		t.Fatal(err)
	}
	fulfillMsg, err := signedOrderMessage(tr.orderID, models.TypeOrderFulfillment, &models.Fulfillment{ItemIndexes: []int{0}, Timestamp: time.Now()}, tr.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	for _, state := range []models.OrderState{
		models.StateAwaitingPayment,
		models.StateCanceled,
		models.StateRefunded,
		models.StateDisputed,
	} {
		order, err := tr.newOrder(state)
		if err != nil {
			t.Fatal(err)
		}
		err = tr.node.db.Update(func(tx database.Tx) error {
			_, err := tr.node.processOrderFulfillmentMessage(tx, order, tr.vendor.PeerID, fulfillMsg)
			if !errors.Is(err, ErrUnexpectedMessage) {
				t.Errorf("state %s: expected ErrUnexpectedMessage, got %v", state, err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}
