package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processOrderCancelMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	cancel := new(models.Cancel)
	if err := message.GetPayload(cancel); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.BuyerID {
		log.Errorf("Received ORDER_CANCEL for order %s from a peer other than the buyer", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.BuyerPubkey); err != nil {
		return nil, err
	}
	if contract.PaymentMethod != models.PaymentCancelable {
		log.Errorf("Received ORDER_CANCEL for non-cancelable order %s", order.ID)
		return nil, ErrUnexpectedMessage
	}

	switch order.OrderState() {
	case models.StatePending, models.StateAwaitingPayment:
	case models.StateCanceled:
		log.Debugf("Received duplicate ORDER_CANCEL for order %s", order.ID)
		return nil, nil
	case models.StateDeclined:
		log.Errorf("Received ORDER_CANCEL for order %s after ORDER_REJECT", order.ID)
		return nil, ErrUnexpectedMessage
	default:
		// Once we've confirmed the order the cancel window has closed.
		log.Errorf("Received ORDER_CANCEL for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	order.SetState(models.StateCanceled)
	if cancel.TransactionID != "" {
		order.PayoutTransactionID = cancel.TransactionID
	}

	var event interface{}
	if order.Role() == models.RoleVendor {
		event = &events.OrderCancel{OrderID: order.ID.String()}
		log.Infof("Received ORDER_CANCEL message for order %s", order.ID)
	} else {
		log.Infof("Processed own ORDER_CANCEL for orderID: %s", order.ID)
	}
	return event, nil
}
