package orders

import (
	"fmt"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
)

// timeoutSweepInterval is how often open orders are scanned for
// elapsed escrow and dispute timeouts.
const timeoutSweepInterval = time.Minute * 10

// ErrPrematureRelease is returned when a unilateral escrow release is
// attempted before the contract's escrow timeout has elapsed.
type ErrPrematureRelease struct {
	TimeRemaining time.Duration
}

func (e ErrPrematureRelease) Error() string {
	return fmt.Sprintf("escrow timeout has not expired, %s remaining", e.TimeRemaining)
}

// CheckForTimeouts scans the open orders for elapsed timeouts and
// notifies once per order per timeout. The notification does not move
// the funds itself; the vendor (or a disputant) acts on it through the
// release operations.
func (op *OrderProcessor) CheckForTimeouts(now time.Time) {
	var eventsToEmit []interface{}
	err := op.db.Update(func(dbtx database.Tx) error {
		var orders []models.Order
		if err := dbtx.Read().Where("open = ?", true).Find(&orders).Error; err != nil {
			return err
		}
		for i := range orders {
			order := &orders[i]
			event, err := op.checkOrderTimeouts(order, now)
			if err != nil {
				log.Errorf("Error checking timeouts for order %s: %s", order.ID, err)
				continue
			}
			if event != nil {
				if err := dbtx.Save(order); err != nil {
					return err
				}
				eventsToEmit = append(eventsToEmit, event)
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error sweeping order timeouts: %s", err)
		return
	}
	for _, event := range eventsToEmit {
		op.bus.Emit(event)
	}
}

func (op *OrderProcessor) checkOrderTimeouts(order *models.Order, now time.Time) (interface{}, error) {
	if !order.Funded {
		return nil, nil
	}
	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}

	if order.OrderState() == models.StateDisputed && !order.DisputeTimeoutNotified {
		dispute, err := order.Dispute()
		if err != nil {
			return nil, err
		}
		if now.After(dispute.Timestamp.Add(contract.DisputeTimeout)) {
			order.DisputeTimeoutNotified = true
			log.Infof("Dispute timeout expired for order %s", order.ID)
			return &events.DisputeTimeoutExpired{OrderID: order.ID.String()}, nil
		}
	}

	if !order.EscrowTimeoutNotified && now.After(order.FundingTimestamp.Add(contract.EscrowTimeout)) {
		switch order.OrderState() {
		case models.StateAwaitingFulfillment, models.StatePartiallyFulfilled, models.StateFulfilled:
			order.EscrowTimeoutNotified = true
			log.Infof("Escrow timeout expired for order %s", order.ID)
			return &events.EscrowTimeoutExpired{OrderID: order.ID.String()}, nil
		}
	}
	return nil, nil
}

// EscrowTimeRemaining returns how long until the order's escrow
// timeout elapses, or zero if it already has. Callers gate unilateral
// releases on this.
func EscrowTimeRemaining(order *models.Order, now time.Time) (time.Duration, error) {
	contract, err := order.Contract()
	if err != nil {
		return 0, err
	}
	if order.FundingTimestamp.IsZero() {
		return contract.EscrowTimeout, nil
	}
	deadline := order.FundingTimestamp.Add(contract.EscrowTimeout)
	if !now.Before(deadline) {
		return 0, nil
	}
	return deadline.Sub(now), nil
}
