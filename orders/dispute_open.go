package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processDisputeOpenMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	dispute := new(models.DisputeClaim)
	if err := message.GetPayload(dispute); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if contract.PaymentMethod != models.PaymentModerated {
		log.Errorf("Received DISPUTE_OPEN for non-moderated order %s", order.ID)
		return nil, ErrUnexpectedMessage
	}

	var opener string
	switch dispute.OpenedBy {
	case models.SignerBuyer:
		opener = contract.BuyerID
		err = utils.VerifyOrderMessage(message, contract.BuyerPubkey)
	case models.SignerVendor:
		opener = contract.Listing.VendorID
		err = utils.VerifyOrderMessage(message, contract.Listing.VendorPubkey)
	default:
		return nil, fmt.Errorf("%w: dispute opened by non-disputant role", ErrUnexpectedMessage)
	}
	if err != nil {
		return nil, err
	}
	if from != opener {
		log.Errorf("Received DISPUTE_OPEN for order %s from a peer other than the opener", order.ID)
		return nil, ErrUnexpectedMessage
	}

	if order.SerializedDispute != nil {
		existing, err := order.Dispute()
		if err != nil {
			return nil, err
		}
		if existing.OpenedBy == dispute.OpenedBy && existing.Claim == dispute.Claim {
			log.Debugf("Received duplicate DISPUTE_OPEN for order %s", order.ID)
			return nil, nil
		}
		log.Errorf("Duplicate DISPUTE_OPEN message does not match original for order: %s", order.ID)
		return nil, ErrChangedMessage
	}

	switch order.OrderState() {
	case models.StateAwaitingFulfillment, models.StatePartiallyFulfilled, models.StateFulfilled:
	default:
		log.Errorf("Received DISPUTE_OPEN for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	if err := order.PutDispute(dispute); err != nil {
		return nil, err
	}
	order.SetState(models.StateDisputed)

	ourRole := contract.RoleOf(op.identity)
	if opener != op.identity {
		// The moderator needs both sides' evidence. As the disputee we
		// send our own contract copy, payout address, and observed
		// escrow transactions without waiting to be asked.
		if err := op.sendDisputeUpdate(dbtx, order, contract); err != nil {
			return nil, err
		}
	}

	disputee := contract.BuyerID
	if dispute.OpenedBy == models.SignerBuyer {
		disputee = contract.Listing.VendorID
	}

	var event interface{}
	if opener != op.identity {
		event = &events.DisputeOpen{
			OrderID:    order.ID.String(),
			DisputerID: opener,
			DisputeeID: disputee,
			CaseID:     order.ID.String(),
		}
		log.Infof("Received DISPUTE_OPEN message for order %s", order.ID)
	} else {
		log.Infof("Processed own DISPUTE_OPEN for orderID: %s as %s", order.ID, ourRole)
	}
	return event, nil
}

// sendDisputeUpdate delivers our side of the evidence to the
// moderator.
func (op *OrderProcessor) sendDisputeUpdate(dbtx database.Tx, order *models.Order, contract *models.Contract) error {
	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}
	payoutAddr, err := wal.NewAddress()
	if err != nil {
		return err
	}

	update := &models.DisputeUpdate{
		Contract:      order.SerializedContract,
		PayoutAddress: payoutAddr.String(),
		Transactions:  order.Transactions,
		Timestamp:     time.Now(),
	}
	message := &models.OrderMessage{
		MessageID:   uuid.New().String(),
		OrderID:     order.ID,
		MessageType: models.TypeDisputeUpdate,
	}
	if err := message.PutPayload(update); err != nil {
		return err
	}
	if err := utils.SignOrderMessage(message, op.identityKey); err != nil {
		return err
	}
	return op.messenger.ReliablySendMessage(dbtx, contract.Moderator, message, nil)
}
