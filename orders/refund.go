package orders

import (
	"errors"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processRefundMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	refund := new(models.RefundMessage)
	if err := message.GetPayload(refund); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Listing.VendorID {
		log.Errorf("Received REFUND for order %s from a peer other than the vendor", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey); err != nil {
		return nil, err
	}

	switch order.OrderState() {
	case models.StateAwaitingFulfillment, models.StatePartiallyFulfilled:
	case models.StateRefunded:
		log.Debugf("Received duplicate REFUND for order %s", order.ID)
		return nil, nil
	default:
		log.Errorf("Received REFUND for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	switch {
	case refund.TransactionID != "":
		// On a 1-of-2 escrow the vendor releases the funds alone and
		// just tells us the transaction ID.
		order.PayoutTransactionID = refund.TransactionID
	case refund.Release != nil:
		if order.Role() == models.RoleBuyer {
			txid, err := op.countersignAndBroadcast(dbtx, order, contract, refund.Release)
			if err != nil {
				log.Errorf("Error broadcasting refund release for order %s: %s", order.ID, err)
				return nil, err
			}
			order.PayoutTransactionID = txid
		}
	default:
		return nil, errors.New("refund message carries neither a transaction ID nor a release")
	}

	order.SetState(models.StateRefunded)

	var event interface{}
	if order.Role() == models.RoleBuyer {
		event = &events.Refund{OrderID: order.ID.String()}
		log.Infof("Received REFUND message for order %s", order.ID)
	} else {
		log.Infof("Processed own REFUND for orderID: %s", order.ID)
	}
	return event, nil
}
