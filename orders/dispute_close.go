package orders

import (
	"bytes"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processDisputeCloseMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	resolution := new(models.Resolution)
	if err := message.GetPayload(resolution); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.Moderator {
		log.Errorf("Received DISPUTE_CLOSE for order %s from a peer other than the moderator", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.ModeratorPubkey); err != nil {
		return nil, err
	}
	// The resolution carries its own signature so it can be held as
	// standalone proof of the moderator's decision.
	if err := utils.VerifyResolution(order.ID, resolution, contract.ModeratorPubkey); err != nil {
		return nil, err
	}
	if err := escrow.ValidateSplit(resolution); err != nil {
		return nil, err
	}

	if order.SerializedResolution != nil {
		existing, err := order.Resolution()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(existing.ModeratorSig, resolution.ModeratorSig) {
			log.Debugf("Received duplicate DISPUTE_CLOSE for order %s", order.ID)
			return nil, nil
		}
		log.Errorf("Duplicate DISPUTE_CLOSE message does not match original for order: %s", order.ID)
		return nil, ErrChangedMessage
	}

	if order.OrderState() != models.StateDisputed {
		log.Errorf("Received DISPUTE_CLOSE for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	if err := order.PutResolution(resolution); err != nil {
		return nil, err
	}
	order.SetState(models.StateDecided)

	// The attached release is not broadcast automatically. A disputant
	// accepts the outcome by countersigning and broadcasting it, which
	// moves the order to resolved once the spend is observed.
	log.Infof("Received DISPUTE_CLOSE message for order %s", order.ID)

	return &events.DisputeClose{
		OrderID:   order.ID.String(),
		BuyerPct:  resolution.BuyerPct,
		VendorPct: resolution.VendorPct,
	}, nil
}
