package orders

import (
	"errors"
	"testing"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func TestOrderProcessor_processOrderOpenMessage(t *testing.T) {
	tr, err := newTestTrade(models.RoleVendor, models.PaymentDirect)
	if err != nil {
		t.Fatal(err)
	}

	openMsg, err := signedOrderMessage(tr.orderID, models.TypeOrderOpen, tr.contract, tr.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		from          string
		setup         func(order *models.Order) error
		expectedError error
		expectedEvent interface{}
	}{
		{
			name:          "valid order open",
			from:          tr.buyer.PeerID,
			setup:         func(order *models.Order) error { return nil },
			expectedError: nil,
			expectedEvent: &events.NewOrder{
				OrderID: tr.orderID.String(),
				BuyerID: tr.buyer.PeerID,
				Slug:    tr.contract.Listing.Slug,
				Title:   tr.contract.Listing.Title,
				Amount:  tr.contract.Amount,
			},
		},
		{
			name: "duplicate order open",
			from: tr.buyer.PeerID,
			setup: func(order *models.Order) error {
				order.ID = tr.orderID
				return order.PutContract(tr.contract)
			},
			expectedError: nil,
			expectedEvent: nil,
		},
		{
			name: "divergent duplicate order open",
			from: tr.buyer.PeerID,
			setup: func(order *models.Order) error {
				order.ID = tr.orderID
				altered := *tr.contract
				altered.Amount = "999999"
				return order.PutContract(&altered)
			},
			expectedError: ErrChangedMessage,
			expectedEvent: nil,
		},
		{
			name:          "sender is not the buyer",
			from:          tr.vendor.PeerID,
			setup:         func(order *models.Order) error { return nil },
			expectedError: ErrUnexpectedMessage,
			expectedEvent: nil,
		},
	}

	for _, test := range tests {
		order := &models.Order{}
		if err := test.setup(order); err != nil {
			t.Errorf("%s: setup error: %s", test.name, err)
			continue
		}
		err := tr.node.db.Update(func(tx database.Tx) error {
			event, err := tr.node.processOrderOpenMessage(tx, order, test.from, openMsg)
			if !errors.Is(err, test.expectedError) {
				t.Errorf("%s: incorrect error. Expected %v, got %v", test.name, test.expectedError, err)
			}
			if test.expectedEvent != nil {
				newOrder, ok := event.(*events.NewOrder)
				if !ok {
					t.Errorf("%s: expected NewOrder event, got %T", test.name, event)
				} else if *newOrder != *(test.expectedEvent.(*events.NewOrder)) {
					t.Errorf("%s: incorrect event returned", test.name)
				}
			} else if event != nil {
				t.Errorf("%s: expected nil event, got %T", test.name, event)
			}
			return nil
		})
		if err != nil {
			t.Errorf("%s: error executing db update: %s", test.name, err)
		}
	}
}

func TestOrderProcessor_processOrderOpenMessage_initialState(t *testing.T) {
	tests := []struct {
		method        models.PaymentMethod
		expectedState models.OrderState
	}{
		{models.PaymentDirect, models.StateAwaitingPayment},
		{models.PaymentModerated, models.StateAwaitingPayment},
		{models.PaymentCancelable, models.StatePending},
	}

	for _, test := range tests {
		tr, err := newTestTrade(models.RoleVendor, test.method)
		if err != nil {
			t.Fatal(err)
		}
		openMsg, err := signedOrderMessage(tr.orderID, models.TypeOrderOpen, tr.contract, tr.buyer.IdentityKey)
		if err != nil {
			t.Fatal(err)
		}

		order := &models.Order{}
		err = tr.node.db.Update(func(tx database.Tx) error {
			_, err := tr.node.processOrderOpenMessage(tx, order, tr.buyer.PeerID, openMsg)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if order.OrderState() != test.expectedState {
			t.Errorf("%s: expected state %s, got %s", test.method, test.expectedState, order.OrderState())
		}
		if order.Role() != models.RoleVendor {
			t.Errorf("%s: expected vendor role, got %s", test.method, order.Role())
		}
		if order.PaymentAddress != tr.contract.EscrowAddress {
			t.Errorf("%s: payment address not set from contract", test.method)
		}
	}
}

func TestOrderProcessor_processOrderOpenMessage_forgedID(t *testing.T) {
	tr, err := newTestTrade(models.RoleVendor, models.PaymentDirect)
	if err != nil {
		t.Fatal(err)
	}
	openMsg, err := signedOrderMessage("forgedOrderID", models.TypeOrderOpen, tr.contract, tr.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	err = tr.node.db.Update(func(tx database.Tx) error {
		_, err := tr.node.processOrderOpenMessage(tx, &models.Order{}, tr.buyer.PeerID, openMsg)
		return err
	})
	if err == nil {
		t.Fatal("expected error processing order open with forged ID")
	}
}

func TestOrderProcessor_processOrderOpenMessage_invalidContract(t *testing.T) {
	tr, err := newTestTrade(models.RoleVendor, models.PaymentDirect)
	if err != nil {
		t.Fatal(err)
	}

	// An empty item list fails validation. The vendor records a
	// processing error rather than rejecting the message since the
	// buyer may already have paid.
	invalid := *tr.contract
	invalid.Items = nil
	invalidID, err := utils.CalcOrderID(&invalid)
	if err != nil {
		t.Fatal(err)
	}
	openMsg, err := signedOrderMessage(invalidID, models.TypeOrderOpen, &invalid, tr.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	order := &models.Order{}
	err = tr.node.db.Update(func(tx database.Tx) error {
		event, err := tr.node.processOrderOpenMessage(tx, order, tr.buyer.PeerID, openMsg)
		if err != nil {
			return err
		}
		if _, ok := event.(*events.ProcessingError); !ok {
			t.Errorf("expected ProcessingError event, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.OrderState() != models.StateProcessingError {
		t.Errorf("expected state %s, got %s", models.StateProcessingError, order.OrderState())
	}
	procErr, err := order.ProcessingError()
	if err != nil {
		t.Fatal(err)
	}
	if len(procErr.Errors) == 0 {
		t.Error("expected validation errors recorded on the order")
	}
}
