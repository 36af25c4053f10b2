package orders

import (
	"fmt"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/models"
)

// CompleteOrder records the buyer's completion and ratings and sends
// an ORDER_COMPLETE message to the vendor. The buyer's escrow
// signatures over a release to the vendor's payout address travel with
// the message; the vendor countersigns and broadcasts to claim the
// funds.
func (op *OrderProcessor) CompleteOrder(orderID models.OrderID, ratings []models.Rating, done chan struct{}) error {
	order, err := op.loadOrder(orderID)
	if err != nil {
		return err
	}
	if !order.CanComplete(op.identity) {
		return fmt.Errorf("%w: order is not in a state where it can be completed", ErrBadRequest)
	}

	contract, err := order.Contract()
	if err != nil {
		return err
	}

	completion := &models.Completion{
		Ratings:   ratings,
		Timestamp: time.Now(),
	}

	// An empty escrow means the funds already moved, as with a
	// cancelable escrow the vendor claimed at confirmation time. Then
	// the completion carries only the ratings.
	escrowed, err := escrow.Escrowed(order)
	if err != nil {
		return err
	}
	if escrowed.Cmp(iwallet.NewAmount(0)) > 0 {
		release, err := op.signedVendorRelease(order, contract, escrowed)
		if err != nil {
			return err
		}
		completion.Release = release
	}

	message, err := signedOrderMessage(order.ID, models.TypeOrderComplete, completion, op.identityKey)
	if err != nil {
		return err
	}

	return op.db.Update(func(tx database.Tx) error {
		if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
			return err
		}
		return op.messenger.ReliablySendMessage(tx, contract.Listing.VendorID, message, done)
	})
}

// signedVendorRelease builds a release of the full escrow balance to
// the vendor's payout address and attaches our signatures. The payout
// address comes from the most recent fulfillment that named one.
func (op *OrderProcessor) signedVendorRelease(order *models.Order, contract *models.Contract, amount iwallet.Amount) (*models.EscrowRelease, error) {
	fulfillments, err := order.Fulfillments()
	if err != nil {
		return nil, err
	}
	payoutAddress := ""
	for _, f := range fulfillments {
		if f.PayoutAddress != "" {
			payoutAddress = f.PayoutAddress
		}
	}
	if payoutAddress == "" {
		return nil, fmt.Errorf("vendor never provided a payout address for order %s", order.ID)
	}

	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return nil, err
	}
	authority, err := escrow.NewReleaseAuthority(contract)
	if err != nil {
		return nil, err
	}

	payout := escrow.Payout{
		Address: iwallet.NewAddress(payoutAddress, iwallet.CoinType(contract.Currency.String())),
		Amount:  amount,
	}
	release, err := authority.BuildRelease(wal, order, []escrow.Payout{payout})
	if err != nil {
		return nil, err
	}
	sigs, err := authority.Sign(wal, order, release, op.escrowKey)
	if err != nil {
		return nil, err
	}
	release.Signatures = sigs
	return release, nil
}
