package orders

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
)

func TestOrderProcessor_processOrderRejectMessage(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentCancelable)
	if err != nil {
		t.Fatal(err)
	}

	rejection := &models.Rejection{
		Reason:        "out of stock",
		TransactionID: "refundtxid",
		Timestamp:     time.Now(),
	}
	rejectMsg, err := signedOrderMessage(tr.orderID, models.TypeOrderReject, rejection, tr.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		from          string
		state         models.OrderState
		expectedError error
		expectedEvent interface{}
		expectedState models.OrderState
	}{
		{
			name:          "pending order",
			from:          tr.vendor.PeerID,
			state:         models.StatePending,
			expectedEvent: &events.OrderDeclined{OrderID: tr.orderID.String()},
			expectedState: models.StateDeclined,
		},
		{
			name:          "duplicate reject",
			from:          tr.vendor.PeerID,
			state:         models.StateDeclined,
			expectedState: models.StateDeclined,
		},
		{
			name:          "already canceled",
			from:          tr.vendor.PeerID,
			state:         models.StateCanceled,
			expectedError: ErrUnexpectedMessage,
			expectedState: models.StateCanceled,
		},
		{
			name:          "already confirmed",
			from:          tr.vendor.PeerID,
			state:         models.StateAwaitingPayment,
			expectedError: ErrUnexpectedMessage,
			expectedState: models.StateAwaitingPayment,
		},
		{
			name:          "sender is not the vendor",
			from:          tr.buyer.PeerID,
			state:         models.StatePending,
			expectedError: ErrUnexpectedMessage,
			expectedState: models.StatePending,
		},
	}

	for _, test := range tests {
		order, err := tr.newOrder(test.state)
		if err != nil {
			t.Fatal(err)
		}
		err = tr.node.db.Update(func(tx database.Tx) error {
			event, err := tr.node.processOrderRejectMessage(tx, order, test.from, rejectMsg)
			if !errors.Is(err, test.expectedError) {
				t.Errorf("%s: incorrect error. Expected %v, got %v", test.name, test.expectedError, err)
			}
			if !reflect.DeepEqual(event, test.expectedEvent) {
				t.Errorf("%s: incorrect event returned", test.name)
			}
			return nil
		})
		if err != nil {
			t.Errorf("%s: error executing db update: %s", test.name, err)
		}
		if order.OrderState() != test.expectedState {
			t.Errorf("%s: expected state %s, got %s", test.name, test.expectedState, order.OrderState())
		}
	}

	order, err := tr.newOrder(models.StatePending)
	if err != nil {
		t.Fatal(err)
	}
	err = tr.node.db.Update(func(tx database.Tx) error {
		_, err := tr.node.processOrderRejectMessage(tx, order, tr.vendor.PeerID, rejectMsg)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.PayoutTransactionID != rejection.TransactionID {
		t.Errorf("expected refund transaction ID recorded, got %q", order.PayoutTransactionID)
	}
	if order.Open {
		t.Error("expected declined order to be closed")
	}
}
