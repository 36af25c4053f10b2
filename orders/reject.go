package orders

import (
	"fmt"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/models"
)

// RejectOrder sends an ORDER_REJECT message to the buyer and declines
// the pending offline order. Only the vendor can call this. If the
// buyer already paid into the cancelable escrow the funds are swept
// back to the buyer's refund address and the transaction ID travels in
// the rejection.
func (op *OrderProcessor) RejectOrder(orderID models.OrderID, reason string, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanConfirm(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be rejected", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}

	rejection := &models.Rejection{
		Reason:    reason,
		Timestamp: time.Now(),
	}

	var wtx iwallet.Tx
	if contract.PaymentMethod == models.PaymentCancelable {
		funded, err := order.IsFunded()
		if err != nil {
			return err
		}
		if funded {
			refundAddress := iwallet.NewAddress(contract.RefundAddress, iwallet.CoinType(contract.Currency.String()))
			var txid iwallet.TransactionID
			wtx, txid, err = op.sweepEscrow(order, contract, refundAddress)
			if err != nil {
				return err
			}
			rejection.TransactionID = txid.String()
		}
	}

	message, err := signedOrderMessage(order.ID, models.TypeOrderReject, rejection, op.identityKey)
	if err != nil {
		rollback(wtx)
		return err
	}

	err = op.db.Update(func(tx database.Tx) error {
		if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
			return err
		}
		return op.messenger.ReliablySendMessage(tx, contract.BuyerID, message, done)
	})
	if err != nil {
		rollback(wtx)
		return err
	}
	if wtx != nil {
		return wtx.Commit()
	}
	return nil
}
