package orders

import (
	"errors"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processOrderFulfillmentMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	fulfillment := new(models.Fulfillment)
	if err := message.GetPayload(fulfillment); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Listing.VendorID {
		log.Errorf("Received ORDER_FULFILLMENT for order %s from a peer other than the vendor", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey); err != nil {
		return nil, err
	}

	switch order.OrderState() {
	case models.StateAwaitingFulfillment, models.StatePartiallyFulfilled:
	case models.StateFulfilled:
		log.Debugf("Received duplicate ORDER_FULFILLMENT for order %s", order.ID)
		return nil, nil
	default:
		log.Errorf("Received ORDER_FULFILLMENT for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	if err := order.PutFulfillment(*fulfillment); err != nil {
		if errors.Is(err, models.ErrDuplicateTransaction) {
			log.Debugf("Received duplicate ORDER_FULFILLMENT for order %s", order.ID)
			return nil, nil
		}
		return nil, err
	}

	fulfilled, err := order.IsFulfilled()
	if err != nil {
		return nil, err
	}
	if fulfilled {
		order.SetState(models.StateFulfilled)
	} else {
		order.SetState(models.StatePartiallyFulfilled)
	}

	var event interface{}
	if order.Role() == models.RoleBuyer {
		event = &events.OrderFulfillment{OrderID: order.ID.String()}
		log.Infof("Received ORDER_FULFILLMENT message for order %s", order.ID)
	} else {
		log.Infof("Processed own ORDER_FULFILLMENT for orderID: %s", order.ID)
	}
	return event, nil
}
