package orders

import (
	"fmt"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/models"
)

// RefundOrder returns the escrowed funds to the buyer and sends a
// REFUND message. Only the vendor can call this on a funded order that
// has not been fully fulfilled.
//
// On a 1-of-2 escrow the vendor broadcasts the release alone and only
// the transaction ID travels. On the other constructions the vendor's
// signatures travel in the message and the buyer countersigns and
// broadcasts.
func (op *OrderProcessor) RefundOrder(orderID models.OrderID, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanRefund(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be refunded", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}
	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}
	authority, err := escrow.NewReleaseAuthority(contract)
	if err != nil {
		return err
	}

	total, err := escrow.Escrowed(order)
	if err != nil {
		return err
	}
	payout := escrow.Payout{
		Address: iwallet.NewAddress(contract.RefundAddress, iwallet.CoinType(contract.Currency.String())),
		Amount:  total,
	}
	release, err := authority.BuildRelease(wal, order, []escrow.Payout{payout})
	if err != nil {
		return err
	}
	sigs, err := authority.Sign(wal, order, release, op.escrowKey)
	if err != nil {
		return err
	}

	refund := &models.RefundMessage{Timestamp: time.Now()}

	var wtx iwallet.Tx
	if authority.Threshold() == 1 {
		var txid iwallet.TransactionID
		wtx, txid, err = authority.Broadcast(wal, order, release, [][]models.EscrowSignature{sigs})
		if err != nil {
			return err
		}
		refund.TransactionID = txid.String()
	} else {
		release.Signatures = sigs
		refund.Release = release
	}

	message, err := signedOrderMessage(order.ID, models.TypeRefund, refund, op.identityKey)
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
