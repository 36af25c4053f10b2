package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processPaymentFinalizedMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	finalized := new(models.PaymentFinalizedMessage)
	if err := message.GetPayload(finalized); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Listing.VendorID {
		log.Errorf("Received PAYMENT_FINALIZED for order %s from a peer other than the vendor", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey); err != nil {
		return nil, err
	}

	if order.OrderState() == models.StatePaymentFinalized {
		log.Debugf("Received duplicate PAYMENT_FINALIZED for order %s", order.ID)
		return nil, nil
	}
	if !order.OrderState().CanTransition(models.StatePaymentFinalized) {
		log.Errorf("Received PAYMENT_FINALIZED for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	if finalized.TransactionID != "" {
		order.PayoutTransactionID = finalized.TransactionID
	}
	order.SetState(models.StatePaymentFinalized)

	var event interface{}
	if order.Role() == models.RoleBuyer {
		event = &events.PaymentFinalized{OrderID: order.ID.String()}
		log.Infof("Received PAYMENT_FINALIZED message for order %s", order.ID)
	} else {
		log.Infof("Processed own PAYMENT_FINALIZED for orderID: %s", order.ID)
	}
	return event, nil
}
