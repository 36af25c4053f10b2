package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processOrderConfirmationMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	confirmation := new(models.Confirmation)
	if err := message.GetPayload(confirmation); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Listing.VendorID {
		log.Errorf("Received ORDER_CONFIRMATION for order %s from a peer other than the vendor", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey); err != nil {
		return nil, err
	}

	switch order.OrderState() {
	case models.StatePending:
	case models.StateAwaitingPayment, models.StateAwaitingFulfillment:
		log.Debugf("Received duplicate ORDER_CONFIRMATION for order %s", order.ID)
		return nil, nil
	case models.StateCanceled:
		log.Errorf("Received ORDER_CONFIRMATION for order %s after ORDER_CANCEL", order.ID)
		return nil, ErrUnexpectedMessage
	case models.StateDeclined:
		log.Errorf("Received ORDER_CONFIRMATION for order %s after ORDER_REJECT", order.ID)
		return nil, ErrUnexpectedMessage
	default:
		return nil, ErrUnexpectedMessage
	}

	funded, err := order.IsFunded()
	if err != nil {
		return nil, err
	}
	if funded {
		order.SetState(models.StateAwaitingFulfillment)
	} else {
		order.SetState(models.StateAwaitingPayment)
	}

	var event interface{}
	if order.Role() == models.RoleBuyer {
		event = &events.OrderConfirmation{OrderID: order.ID.String()}
		log.Infof("Received ORDER_CONFIRMATION message for order %s", order.ID)
	} else {
		log.Infof("Processed own ORDER_CONFIRMATION for orderID: %s", order.ID)
	}
	return event, nil
}
