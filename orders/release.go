package orders

import (
	"fmt"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/models"
)

// ReleaseEscrow claims the escrowed funds through the time-locked
// script path with the vendor's signature alone and reports the
// release to the buyer with a PAYMENT_FINALIZED message. The escrow
// timeout must have expired, or, if the order is under dispute, the
// dispute timeout. A premature call fails with ErrPrematureRelease
// carrying the time remaining. Calling again after a successful
// release is a no-op.
func (op *OrderProcessor) ReleaseEscrow(orderID models.OrderID, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}
	if contract.RoleOf(op.identity) != models.RoleVendor {
		return fmt.Errorf("%w: only the vendor can release the escrow after a timeout", ErrBadRequest)
	}

	if order.OrderState() == models.StatePaymentFinalized {
		return nil
	}
	if !order.OrderState().CanTransition(models.StatePaymentFinalized) {
		return fmt.Errorf("%w: order is not in a state where the escrow can be released", ErrBadRequest)
	}

	if err := checkReleaseTimeout(order, contract, time.Now()); err != nil {
		return err
	}

	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}
	toAddress, err := wal.CurrentAddress()
	if err != nil {
		return err
	}

	authority := escrow.NewTimeoutReleaseAuthority()
	total, err := escrow.Escrowed(order)
	if err != nil {
		return err
	}
	release, err := authority.BuildRelease(wal, order, []escrow.Payout{{Address: toAddress, Amount: total}})
	if err != nil {
		return err
	}
	sigs, err := authority.Sign(wal, order, release, op.escrowKey)
	if err != nil {
		return err
	}
	wtx, txid, err := authority.Broadcast(wal, order, release, [][]models.EscrowSignature{sigs})
	if err != nil {
		return err
	}

	finalized := &models.PaymentFinalizedMessage{
		TransactionID: txid.String(),
		Timestamp:     time.Now(),
	}
	message, err := signedOrderMessage(order.ID, models.TypePaymentFinalized, finalized, op.identityKey)
	if err != nil {
		wtx.Rollback()
		return err
	}

	err = op.db.Update(func(tx database.Tx) error {
		if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
			return err
		}
		return op.messenger.ReliablySendMessage(tx, contract.BuyerID, message, done)
	})
	if err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

// checkReleaseTimeout enforces the timeout gate. A disputed order is
// gated on the dispute timeout from when the dispute opened; anything
// else is gated on the escrow timeout from when the escrow funded.
func checkReleaseTimeout(order *models.Order, contract *models.Contract, now time.Time) error {
	if order.OrderState() == models.StateDisputed {
		dispute, err := order.Dispute()
		if err != nil {
			return err
		}
		deadline := dispute.Timestamp.Add(contract.DisputeTimeout)
		if now.Before(deadline) {
			return ErrPrematureRelease{TimeRemaining: deadline.Sub(now)}
		}
		return nil
	}

	remaining, err := EscrowTimeRemaining(order, now)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return ErrPrematureRelease{TimeRemaining: remaining}
	}
	return nil
}
