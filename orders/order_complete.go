package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

func (op *OrderProcessor) processOrderCompleteMessage(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	completion := new(models.Completion)
	if err := message.GetPayload(completion); err != nil {
		return nil, err
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}
	if from != contract.BuyerID {
		log.Errorf("Received ORDER_COMPLETE for order %s from a peer other than the buyer", order.ID)
		return nil, ErrUnexpectedMessage
	}
	if err := utils.VerifyOrderMessage(message, contract.BuyerPubkey); err != nil {
		return nil, err
	}
	if order.UnderActiveDispute() {
		log.Errorf("Received ORDER_COMPLETE for order %s while under dispute", order.ID)
		return nil, ErrUnexpectedMessage
	}

	switch order.OrderState() {
	case models.StateFulfilled:
	case models.StateCompleted:
		log.Debugf("Received duplicate ORDER_COMPLETE for order %s", order.ID)
		return nil, nil
	default:
		log.Errorf("Received ORDER_COMPLETE for order %s in state %s", order.ID, order.OrderState())
		return nil, ErrUnexpectedMessage
	}

	if err := order.PutCompletion(completion); err != nil {
		return nil, err
	}
	order.SetState(models.StateCompleted)

	var event interface{}
	if order.Role() == models.RoleVendor {
		// The buyer's release carries its signature set. We countersign
		// with our escrow key and claim the funds.
		if completion.Release != nil {
			txid, err := op.countersignAndBroadcast(dbtx, order, contract, completion.Release)
			if err != nil {
				log.Errorf("Error broadcasting release for order %s: %s", order.ID, err)
				return nil, err
			}
			order.PayoutTransactionID = txid
		}
		event = &events.OrderCompletion{OrderID: order.ID.String()}
		log.Infof("Received ORDER_COMPLETE message for order %s", order.ID)
	} else {
		log.Infof("Processed own ORDER_COMPLETE for orderID: %s", order.ID)
	}
	return event, nil
}

// countersignAndBroadcast adds our signature set to a partially signed
// release and broadcasts the combined transaction. The wallet
// transaction commits only after the database transaction does.
func (op *OrderProcessor) countersignAndBroadcast(dbtx database.Tx, order *models.Order, contract *models.Contract, release *models.EscrowRelease) (string, error) {
	wal, err := op.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return "", err
	}
	authority, err := escrow.NewReleaseAuthority(contract)
	if err != nil {
		return "", err
	}
	mySigs, err := authority.Sign(wal, order, release, op.escrowKey)
	if err != nil {
		return "", err
	}
	wtx, txid, err := authority.Broadcast(wal, order, release, [][]models.EscrowSignature{release.Signatures, mySigs})
	if err != nil {
		return "", err
	}
	dbtx.RegisterCommitHook(func() {
		if err := wtx.Commit(); err != nil {
			log.Errorf("Error committing release transaction for order %s: %s", order.ID, err)
		}
	})
	return txid.String(), nil
}
