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

func TestOrderProcessor_processPaymentFinalizedMessage(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentModerated)
	if err != nil {
		t.Fatal(err)
	}

	finalizedMsg, err := signedOrderMessage(tr.orderID, models.TypePaymentFinalized, &models.PaymentFinalizedMessage{TransactionID: "timeouttxid", Timestamp: time.Now()}, tr.vendor.IdentityKey)
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
			name:          "awaiting fulfillment",
			from:          tr.vendor.PeerID,
			state:         models.StateAwaitingFulfillment,
			expectedEvent: &events.PaymentFinalized{OrderID: tr.orderID.String()},
			expectedState: models.StatePaymentFinalized,
		},
		{
			name:          "fulfilled",
			from:          tr.vendor.PeerID,
			state:         models.StateFulfilled,
			expectedEvent: &events.PaymentFinalized{OrderID: tr.orderID.String()},
			expectedState: models.StatePaymentFinalized,
		},
		{
			name:          "open dispute overridden by timeout",
			from:          tr.vendor.PeerID,
			state:         models.StateDisputed,
			expectedEvent: &events.PaymentFinalized{OrderID: tr.orderID.String()},
			expectedState: models.StatePaymentFinalized,
		},
		{
			name:          "duplicate",
			from:          tr.vendor.PeerID,
			state:         models.StatePaymentFinalized,
			expectedState: models.StatePaymentFinalized,
		},
		{
			name:          "completed order",
			from:          tr.vendor.PeerID,
			state:         models.StateCompleted,
			expectedError: ErrUnexpectedMessage,
			expectedState: models.StateCompleted,
		},
		{
			name:          "sender is not the vendor",
			from:          tr.buyer.PeerID,
			state:         models.StateFulfilled,
			expectedError: ErrUnexpectedMessage,
			expectedState: models.StateFulfilled,
		},
	}

	for _, test := range tests {
		order, err := tr.newOrder(test.state)
		if err != nil {
			t.Fatal(err)
		}
		err = tr.node.db.Update(func(tx database.Tx) error {
			event, err := tr.node.processPaymentFinalizedMessage(tx, order, test.from, finalizedMsg)
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
}
