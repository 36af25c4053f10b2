package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processProcessingErrorMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	procErr := new(models.ProcessingError)
	if err := message.GetPayload(procErr); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Listing.VendorID {
		log.Errorf("Received PROCESSING_ERROR for order %s from a peer other than the vendor", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey); err != nil {
		return nil, err
	}

	if order.OrderState() == models.StateProcessingError {
		log.Debugf("Received duplicate PROCESSING_ERROR for order %s", order.ID)
		return nil, nil
	}
	if !order.OrderState().CanTransition(models.StateProcessingError) {
		log.Errorf("Received PROCESSING_ERROR for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	if err := order.PutProcessingError(procErr); err != nil {
		return nil, err
	}
	order.SetState(models.StateProcessingError)

	log.Infof("Received PROCESSING_ERROR message for order %s", order.ID)

	return &events.ProcessingError{
		OrderID: order.ID.String(),
		Errors:  procErr.Errors,
	}, nil
}
