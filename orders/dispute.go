package orders

import (
	"fmt"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
)

// OpenDispute escalates a funded moderated order to the moderator. The
// claim travels to both the counter-party and the moderator along with
// our copy of the contract, a payout address for any award, and the
// escrow transactions we observed.
func (op *OrderProcessor) OpenDispute(orderID models.OrderID, claim string, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanDispute(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be disputed", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}

	openedBy := models.SignerBuyer
	counterParty := contract.Listing.VendorID
	if order.Role() == models.RoleVendor {
		openedBy = models.SignerVendor
		counterParty = contract.BuyerID
	}

	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}
	payoutAddr, err := wal.NewAddress()
	if err != nil {
		return err
	}

	dispute := &models.DisputeClaim{
		OpenedBy:      openedBy,
		Claim:         claim,
		Contract:      order.SerializedContract,
		PayoutAddress: payoutAddr.String(),
		Transactions:  order.Transactions,
		Timestamp:     time.Now(),
	}

	message, err := signedOrderMessage(order.ID, models.TypeDisputeOpen, dispute, op.identityKey)
	if err != nil {
		return err
	}

	return op.db.Update(func(tx database.Tx) error {
		if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
			return err
		}
		if err := op.messenger.ReliablySendMessage(tx, contract.Moderator, message, nil); err != nil {
			return err
		}
		return op.messenger.ReliablySendMessage(tx, counterParty, message, done)
	})
}

// ResolveDispute publishes the moderator's resolution for a case we
// moderate. The split is validated, the release built and signed, and
// a DISPUTE_CLOSE message queued to both disputants.
func (op *OrderProcessor) ResolveDispute(caseID models.OrderID, resolution *models.Resolution) error {
	return op.db.Update(func(tx database.Tx) error {
		return op.caseManager.Resolve(tx, caseID, resolution)
	})
}

// ReleaseFunds accepts the moderator's resolution by countersigning
// the attached release and broadcasting it. Either disputant can call
// this once the order is in the decided state; whoever does moves the
// order to resolved everywhere as the spend is observed.
func (op *OrderProcessor) ReleaseFunds(orderID models.OrderID) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if order.OrderState() != models.StateDecided {
		return fmt.Errorf("%w: order has no resolution awaiting release", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}
	role := contract.RoleOf(op.identity)
	if role != models.RoleBuyer && role != models.RoleVendor {
		return fmt.Errorf("%w: only a disputant can release the funds", ErrBadRequest)
	}

	resolution, err := order.Resolution()
	if err != nil {
		return err
	}
	if resolution.Release == nil {
		return fmt.Errorf("resolution for order %s carries no release", order.ID)
	}

	err = op.db.Update(func(tx database.Tx) error {
		stored, err := op.GetOrder(tx, orderID)
		if err != nil {
			return err
		}
		txid, err := op.countersignAndBroadcast(tx, stored, contract, resolution.Release)
		if err != nil {
			return err
		}
		stored.PayoutTransactionID = txid
		stored.SetState(models.StateResolved)
		return tx.Save(stored)
	})
	if err != nil {
		return err
	}

	op.bus.Emit(&events.DisputeAccepted{OrderID: order.ID.String()})
	return nil
}
