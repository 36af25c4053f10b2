package orders

import (
	"fmt"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/models"
)

// FulfillOrder records the vendor's fulfillment of one or more items
// and sends an ORDER_FULFILLMENT message to the buyer for each record.
// A fulfillment without a payout address gets a fresh one from the
// wallet; the buyer directs the escrow release there at completion
// time.
func (op *OrderProcessor) FulfillOrder(orderID models.OrderID, fulfillments []models.Fulfillment, done chan struct{}) error {
	if len(fulfillments) == 0 {
		return fmt.Errorf("%w: no fulfillments provided", ErrBadRequest)
	}

	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanFulfill(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be fulfilled", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}
	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}

	messages := make([]*models.OrderMessage, 0, len(fulfillments))
	for _, fulfillment := range fulfillments {
		if len(fulfillment.ItemIndexes) == 0 {
			return fmt.Errorf("%w: fulfillment names no items", ErrBadRequest)
		}
		for _, idx := range fulfillment.ItemIndexes {
			if idx < 0 || idx >= len(contract.Items) {
				return fmt.Errorf("%w: fulfillment names item %d which the order does not contain", ErrBadRequest, idx)
			}
		}
		if fulfillment.PayoutAddress == "" {
			addr, err := wal.NewAddress()
			if err != nil {
				return err
			}
			fulfillment.PayoutAddress = addr.String()
		}
		fulfillment.Timestamp = time.Now()

		message, err := signedOrderMessage(order.ID, models.TypeOrderFulfillment, &fulfillment, op.identityKey)
		if err != nil {
			return err
		}
		messages = append(messages, message)
	}

	return op.db.Update(func(tx database.Tx) error {
		for i, message := range messages {
			if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
				return err
			}
			// The done chan may only be closed once, so it rides on
			// the final message.
			var msgDone chan struct{}
			if i == len(messages)-1 {
				msgDone = done
			}
			if err := op.messenger.ReliablySendMessage(tx, contract.BuyerID, message, msgDone); err != nil {
				return err
			}
		}
		return nil
	})
}
