package orders

import (
	"errors"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"gorm.io/gorm"
)

// ProcessWalletTransaction feeds an observed wallet transaction into
// the order records watching the addresses it touches. Payments into
// an escrow address advance funding; spends out of one settle
// completions, refunds, and dispute payouts.
func (op *OrderProcessor) ProcessWalletTransaction(transaction iwallet.Transaction) {
	var eventsToEmit []interface{}
	err := op.db.Update(func(dbtx database.Tx) error {
		seen := make(map[models.OrderID]bool)
		for _, to := range transaction.To {
			event, err := op.processIncomingPayment(dbtx, transaction, to, seen)
			if err != nil {
				return err
			}
			if event != nil {
				eventsToEmit = append(eventsToEmit, event)
			}
		}
		for _, from := range transaction.From {
			event, err := op.processOutgoingPayment(dbtx, transaction, from, seen)
			if err != nil {
				return err
			}
			if event != nil {
				eventsToEmit = append(eventsToEmit, event)
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error processing wallet transaction %s: %s", transaction.ID, err)
		return
	}
	for _, event := range eventsToEmit {
		op.bus.Emit(event)
	}
}

func (op *OrderProcessor) processIncomingPayment(dbtx database.Tx, transaction iwallet.Transaction, to iwallet.SpendInfo, seen map[models.OrderID]bool) (interface{}, error) {
	var order models.Order
	err := dbtx.Read().Where("payment_address = ?", to.Address.String()).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if seen[order.ID] {
		return nil, nil
	}
	seen[order.ID] = true

	fundedBefore, err := order.IsFunded()
	if err != nil {
		return nil, err
	}

	if err := order.PutTransaction(transaction); err != nil {
		if models.IsDuplicateTransactionError(err) {
			return nil, nil
		}
		return nil, err
	}

	fundedAfter, err := order.IsFunded()
	if err != nil {
		return nil, err
	}

	var event interface{}
	if !fundedBefore && fundedAfter {
		order.Funded = true
		order.FundingTimestamp = time.Now()
		order.FundingHeight = transaction.Height

		// A pending order stays pending until the vendor confirms,
		// even once fully funded.
		if order.OrderState() == models.StateAwaitingPayment {
			order.SetState(models.StateAwaitingFulfillment)
		}

		contract, err := order.Contract()
		if err != nil {
			return nil, err
		}
		event = &events.OrderFunded{
			OrderID: order.ID.String(),
			BuyerID: contract.BuyerID,
		}
		log.Infof("Order %s fully funded at height %d", order.ID, transaction.Height)
	} else if order.Role() == models.RoleBuyer {
		total, err := order.FundingTotal()
		if err != nil {
			return nil, err
		}
		contract, err := order.Contract()
		if err != nil {
			return nil, err
		}
		event = &events.OrderPaymentReceived{
			OrderID:      order.ID.String(),
			FundingTotal: total.String(),
			CoinType:     contract.Currency.String(),
		}
		log.Infof("Payment of %s received for order %s", to.Amount, order.ID)
	}

	return event, dbtx.Save(&order)
}

func (op *OrderProcessor) processOutgoingPayment(dbtx database.Tx, transaction iwallet.Transaction, from iwallet.SpendInfo, seen map[models.OrderID]bool) (interface{}, error) {
	var order models.Order
	err := dbtx.Read().Where("payment_address = ?", from.Address.String()).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if seen[order.ID] {
		return nil, nil
	}
	seen[order.ID] = true

	if err := order.PutTransaction(transaction); err != nil {
		if models.IsDuplicateTransactionError(err) {
			return nil, nil
		}
		return nil, err
	}

	if order.PayoutTransactionID == "" {
		order.PayoutTransactionID = transaction.ID.String()
	}

	var event interface{}
	switch order.OrderState() {
	case models.StateDecided:
		// A disputant executed the moderator's release.
		order.SetState(models.StateResolved)
		event = &events.DisputeAccepted{OrderID: order.ID.String()}
		log.Infof("Observed resolution payout for order %s", order.ID)
	case models.StateDisputed:
		// A spend while a dispute sits open can only be the timeout
		// path. The moderator's decision no longer matters.
		order.SetState(models.StatePaymentFinalized)
		event = &events.PaymentFinalized{OrderID: order.ID.String()}
		log.Warningf("Observed spend from disputed order %s escrow", order.ID)
	default:
		log.Infof("Observed spend from order %s escrow", order.ID)
	}

	return event, dbtx.Save(&order)
}
