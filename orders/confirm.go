package orders

import (
	"fmt"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/models"
)

// ConfirmOrder sends an ORDER_CONFIRMATION message to the buyer and
// updates our order record. Only the vendor can call this and only on
// a pending offline order.
//
// If the escrow is cancelable this also moves the funds out of the
// 1-of-2 address into the vendor's wallet. There is a race between
// this and CancelOrder called by the buyer; both calls succeed locally
// and whichever transaction confirms in the chain decides the winner.
func (op *OrderProcessor) ConfirmOrder(orderID models.OrderID, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanConfirm(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be confirmed", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}

	confirmation := &models.Confirmation{Timestamp: time.Now()}

	var wtx iwallet.Tx
	if contract.PaymentMethod == models.PaymentCancelable {
		funded, err := order.IsFunded()
		if err != nil {
			return err
		}
		if funded {
			wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
			if err != nil {
				return err
			}
			toAddress, err := wal.CurrentAddress()
			if err != nil {
				return err
			}
			var txid iwallet.TransactionID
			wtx, txid, err = op.sweepEscrow(order, contract, toAddress)
			if err != nil {
				return err
			}
			confirmation.TransactionID = txid.String()
		}
	}

	message, err := signedOrderMessage(order.ID, models.TypeOrderConfirmation, confirmation, op.identityKey)
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

func rollback(wtx iwallet.Tx) {
	if wtx != nil {
		wtx.Rollback()
	}
}
