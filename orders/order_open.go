package orders

import (
	"bytes"
	"fmt"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/google/uuid"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processOrderOpenMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	contract := new(models.Contract)
	if err := message.GetPayload(contract); err != nil {
		return nil, err
	}

	if order.SerializedContract != nil {
		if bytes.Equal(order.SerializedContract, message.Payload) {
			log.Debugf("Received duplicate ORDER_OPEN for order %s", order.ID)
			return nil, nil
		}
		log.Errorf("Duplicate ORDER_OPEN message does not match original for order: %s", order.ID)
		return nil, ErrChangedMessage
	}

	if from != contract.BuyerID {
		log.Errorf("Received ORDER_OPEN for order %s from a peer other than the buyer", message.OrderID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.BuyerPubkey); err != nil {
		return nil, err
	}

	// Every party derives the ID from the contract itself. A mismatch
	// means the sender labeled the contract with a forged ID.
	calculatedID, err := utils.CalcOrderID(contract)
	if err != nil {
		return nil, err
	}
	if calculatedID != message.OrderID {
		return nil, fmt.Errorf("order ID does not match contract hash: expected %s, got %s", calculatedID, message.OrderID)
	}

	role := contract.RoleOf(op.identity)
	if role != models.RoleBuyer && role != models.RoleVendor {
		return nil, fmt.Errorf("%w: we are not a party to this contract", ErrUnexpectedMessage)
	}

	order.ID = message.OrderID
	order.Open = true
	order.SetRole(role)
	if err := order.PutContract(contract); err != nil {
		return nil, err
	}

	if validationErrs := utils.ValidateContract(contract); len(validationErrs) > 0 {
		if role == models.RoleBuyer {
			return nil, fmt.Errorf("contract failed validation: %s", validationErrs[0])
		}
		// The buyer may have already paid into the escrow, so the
		// failure has to travel back asynchronously rather than as a
		// rejection of the message.
		return op.recordProcessingError(dbtx, order, contract, validationErrs)
	}

	if contract.PaymentMethod == models.PaymentCancelable {
		order.SetState(models.StatePending)
	} else {
		order.SetState(models.StateAwaitingPayment)
	}

	if err := op.watchEscrowAddress(contract); err != nil {
		return nil, err
	}

	var event interface{}
	if role == models.RoleVendor {
		event = &events.NewOrder{
			OrderID: order.ID.String(),
			BuyerID: contract.BuyerID,
			Slug:    contract.Listing.Slug,
			Title:   contract.Listing.Title,
			Amount:  contract.Amount,
		}
		log.Infof("Received new order %s from %s", order.ID, contract.BuyerID)
	} else {
		log.Infof("Processed own ORDER_OPEN for orderID: %s", order.ID)
	}

	return event, nil
}

// recordProcessingError freezes the order in the processing error
// state and reports the validation failures back to the buyer.
func (op *OrderProcessor) recordProcessingError(dbtx database.Tx, order *models.Order, contract *models.Contract, validationErrs []error) (interface{}, error) {
	errStrs := make([]string, 0, len(validationErrs))
	for _, err := range validationErrs {
		errStrs = append(errStrs, err.Error())
	}
	procErr := &models.ProcessingError{
		Errors:    errStrs,
		Timestamp: time.Now(),
	}
	if err := order.PutProcessingError(procErr); err != nil {
		return nil, err
	}
	order.SetState(models.StateProcessingError)

	resp := &models.OrderMessage{
		MessageID:   uuid.New().String(),
		OrderID:     order.ID,
		MessageType: models.TypeProcessingError,
	}
	if err := resp.PutPayload(procErr); err != nil {
		return nil, err
	}
	if err := utils.SignOrderMessage(resp, op.identityKey); err != nil {
		return nil, err
	}
	if err := op.messenger.ReliablySendMessage(dbtx, contract.BuyerID, resp, nil); err != nil {
		return nil, err
	}

	log.Warningf("Order %s failed vendor validation: %s", order.ID, errStrs[0])

	return &events.ProcessingError{
		OrderID: order.ID.String(),
		Errors:  errStrs,
	}, nil
}

// watchEscrowAddress registers the escrow address with the wallet so
// payments into and out of it surface as transaction events.
func (op *OrderProcessor) watchEscrowAddress(contract *models.Contract) error {
	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}
	wtx, err := wal.Begin()
	if err != nil {
		return err
	}
	if err := wal.WatchAddress(wtx, iwallet.NewAddress(contract.EscrowAddress, iwallet.CoinType(contract.Currency.String()))); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}
