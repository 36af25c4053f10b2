package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processOrderRejectMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	rejection := new(models.Rejection)
	if err := message.GetPayload(rejection); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Listing.VendorID {
		log.Errorf("Received ORDER_REJECT for order %s from a peer other than the vendor", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey); err != nil {
		return nil, err
	}

	switch order.OrderState() {
	case models.StatePending:
	case models.StateDeclined:
		log.Debugf("Received duplicate ORDER_REJECT for order %s", order.ID)
		return nil, nil
	case models.StateCanceled:
		log.Errorf("Received ORDER_REJECT for order %s after ORDER_CANCEL", order.ID)
		return nil, ErrUnexpectedMessage
	default:
		return nil, ErrUnexpectedMessage
	}

	order.SetState(models.StateDeclined)
	if rejection.TransactionID != "" {
		order.PayoutTransactionID = rejection.TransactionID
	}

	var event interface{}
	if order.Role() == models.RoleBuyer {
		event = &events.OrderDeclined{OrderID: order.ID.String()}
		log.Infof("Received ORDER_REJECT message for order %s", order.ID)
	} else {
		log.Infof("Processed own ORDER_REJECT for orderID: %s", order.ID)
	}
	return event, nil
}
