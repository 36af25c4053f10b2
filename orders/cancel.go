package orders

import (
	"fmt"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/models"
)

// CancelOrder sends an ORDER_CANCEL message to the vendor and moves
// the funds out of the 1-of-2 cancelable escrow back into the buyer's
// wallet. Only the buyer can call this, only on a cancelable escrow,
// and only before the vendor has processed the order.
//
// There is a race between this and ConfirmOrder called by the vendor.
// Both calls succeed locally and whichever transaction confirms in the
// chain decides the winner.
func (op *OrderProcessor) CancelOrder(orderID models.OrderID, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanCancel(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be canceled", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}

	cancel := &models.Cancel{Timestamp: time.Now()}

	var wtx iwallet.Tx
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
		cancel.TransactionID = txid.String()
	}

	message, err := signedOrderMessage(order.ID, models.TypeOrderCancel, cancel, op.identityKey)
	if err != nil {
		rollback(wtx)
		return err
	}

	err = op.db.Update(func(tx database.Tx) error {
		if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
			return err
		}
		return op.messenger.ReliablySendMessage(tx, contract.Listing.VendorID, message, done)
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

// sweepEscrow spends everything in the order's escrow address to the
// given destination with our signature alone. Only legal on 1-of-2
// constructions. The staged wallet transaction is returned uncommitted
// so the caller can roll it back if its own records fail to update.
func (op *OrderProcessor) sweepEscrow(order *models.Order, contract *models.Contract, to iwallet.Address) (iwallet.Tx, iwallet.TransactionID, error) {
	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return nil, "", err
	}

	authority, err := escrow.NewReleaseAuthority(contract)
	if err != nil {
		return nil, "", err
	}
	if authority.Threshold() != 1 {
		return nil, "", fmt.Errorf("%s escrow cannot be released unilaterally", contract.PaymentMethod)
	}

	total, err := escrow.Escrowed(order)
	if err != nil {
		return nil, "", err
	}

	release, err := authority.BuildRelease(wal, order, []escrow.Payout{{Address: to, Amount: total}})
	if err != nil {
		return nil, "", err
	}
	sigs, err := authority.Sign(wal, order, release, op.escrowKey)
	if err != nil {
		return nil, "", err
	}
	return authority.Broadcast(wal, order, release, [][]models.EscrowSignature{sigs})
}
