package orders

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/cases"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/wallet"
	"gorm.io/gorm"
)

var log = logging.MustGetLogger("ORDR")

var (
	// ErrChangedMessage is returned when a duplicate message ID arrives
	// with contents that differ from the original.
	ErrChangedMessage = errors.New("different duplicate message")

	// ErrUnexpectedMessage is returned when a message arrives that
	// conflicts with the order's current state.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrOrderNotFound is returned when no order exists for the ID.
	ErrOrderNotFound = errors.New("order not found")
)

// Config holds the options for the order processor.
type Config struct {
	Identity      string
	IdentityKey   *btcec.PrivateKey
	EscrowKey     *btcec.PrivateKey
	Db            database.Database
	Messenger     *net.Messenger
	Multiwallet   wallet.Multiwallet
	ExchangeRates *wallet.ExchangeRateProvider
	CaseManager   *cases.CaseManager
	EventBus      events.Bus
}

// OrderProcessor is the heart of the order state machine. Every order
// message, whether our own or a peer's, flows through ProcessMessage
// so each party's record converges from the same evidence. Escrow
// transactions observed by the wallets flow through
// ProcessWalletTransaction the same way.
type OrderProcessor struct {
	identity    string
	identityKey *btcec.PrivateKey
	escrowKey   *btcec.PrivateKey
	db          database.Database
	messenger   *net.Messenger
	multiwallet wallet.Multiwallet
	erp         *wallet.ExchangeRateProvider
	caseManager *cases.CaseManager
	bus         events.Bus

	done chan struct{}
	wg   sync.WaitGroup
}

// NewOrderProcessor initializes and returns a new OrderProcessor.
func NewOrderProcessor(cfg *Config) *OrderProcessor {
	return &OrderProcessor{
		identity:    cfg.Identity,
		identityKey: cfg.IdentityKey,
		escrowKey:   cfg.EscrowKey,
		db:          cfg.Db,
		messenger:   cfg.Messenger,
		multiwallet: cfg.Multiwallet,
		erp:         cfg.ExchangeRates,
		caseManager: cfg.CaseManager,
		bus:         cfg.EventBus,
		done:        make(chan struct{}),
	}
}

// Start runs the timeout sweep loop. It should be called in a new
// goroutine.
func (op *OrderProcessor) Start() {
	ticker := time.NewTicker(timeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-op.done:
			return
		case <-ticker.C:
			op.CheckForTimeouts(time.Now())
			if op.caseManager != nil {
				op.caseManager.CheckForExpirations(time.Now())
			}
		}
	}
}

// Stop shuts down the timeout sweep loop.
func (op *OrderProcessor) Stop() {
	close(op.done)
	op.wg.Wait()
}

// ProcessMessage processes an order message within the given database
// transaction and returns an event to emit after the transaction
// commits, or nil. Messages addressed to us as moderator are routed to
// the case manager; everything else mutates our order record.
func (op *OrderProcessor) ProcessMessage(dbtx database.Tx, from string, message *models.OrderMessage) (interface{}, error) {
	if forModerator, err := op.isForModerator(message); err != nil {
		return nil, err
	} else if forModerator {
		switch message.MessageType {
		case models.TypeDisputeOpen:
			return op.caseManager.ProcessDisputeOpen(dbtx, from, message)
		case models.TypeDisputeUpdate:
			return op.caseManager.ProcessDisputeUpdate(dbtx, from, message)
		}
	}

	var order models.Order
	err := dbtx.Read().Where("id = ?", message.OrderID.String()).First(&order).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if order.SerializedContract == nil && message.MessageType != models.TypeOrderOpen {
		// Messages can arrive out of order when we download offline
		// messages. Park anything that precedes its order open and
		// replay it once the order exists.
		log.Warningf("Received %s message from peer %s for an order that does not exist yet", message.MessageType, from)
		order.ID = message.OrderID
		if err := order.ParkMessage(message); err != nil {
			return nil, err
		}
		return nil, dbtx.Save(&order)
	}

	event, err := op.dispatch(dbtx, &order, from, message)
	if err != nil {
		return nil, err
	}

	if err := dbtx.Save(&order); err != nil {
		return nil, err
	}

	// A just-created order may have messages parked against it from
	// before the order open arrived.
	if message.MessageType == models.TypeOrderOpen {
		if err := op.replayParkedMessages(dbtx, &order); err != nil {
			return nil, err
		}
	}

	return event, nil
}

func (op *OrderProcessor) dispatch(dbtx database.Tx, order *models.Order, from string, message *models.OrderMessage) (interface{}, error) {
	switch message.MessageType {
	case models.TypeOrderOpen:
		return op.processOrderOpenMessage(dbtx, order, from, message)
	case models.TypeOrderConfirmation:
		return op.processOrderConfirmationMessage(dbtx, order, from, message)
	case models.TypeOrderReject:
		return op.processOrderRejectMessage(dbtx, order, from, message)
	case models.TypeOrderCancel:
		return op.processOrderCancelMessage(dbtx, order, from, message)
	case models.TypeOrderFulfillment:
		return op.processOrderFulfillmentMessage(dbtx, order, from, message)
	case models.TypeOrderComplete:
		return op.processOrderCompleteMessage(dbtx, order, from, message)
	case models.TypeRefund:
		return op.processRefundMessage(dbtx, order, from, message)
	case models.TypeDisputeOpen:
		return op.processDisputeOpenMessage(dbtx, order, from, message)
	case models.TypeDisputeClose:
		return op.processDisputeCloseMessage(dbtx, order, from, message)
	case models.TypePaymentFinalized:
		return op.processPaymentFinalizedMessage(dbtx, order, from, message)
	case models.TypeProcessingError:
		return op.processProcessingErrorMessage(dbtx, order, from, message)
	default:
		return nil, fmt.Errorf("%w: unknown order message type %s", ErrUnexpectedMessage, message.MessageType)
	}
}

// replayParkedMessages re-dispatches messages that arrived before the
// order open. Failures are logged rather than returned so one bad
// parked message cannot wedge the order.
func (op *OrderProcessor) replayParkedMessages(dbtx database.Tx, order *models.Order) error {
	parked, err := order.GetParkedMessages()
	if err != nil {
		return err
	}
	if len(parked) == 0 {
		return nil
	}
	order.DeleteParkedMessages()
	for _, message := range parked {
		sender, err := op.messageSender(order, message)
		if err != nil {
			log.Errorf("Error replaying parked %s message for order %s: %s", message.MessageType, order.ID, err)
			continue
		}
		if _, err := op.dispatch(dbtx, order, sender, message); err != nil {
			log.Errorf("Error replaying parked %s message for order %s: %s", message.MessageType, order.ID, err)
		}
	}
	return dbtx.Save(order)
}

// messageSender derives the sending party of a replayed message from
// the direction of the message type. The original transport
// authentication already happened before the message was parked.
func (op *OrderProcessor) messageSender(order *models.Order, message *models.OrderMessage) (string, error) {
	contract, err := order.Contract()
	if err != nil {
		return "", err
	}
	switch message.MessageType {
	case models.TypeOrderCancel, models.TypeOrderComplete, models.TypeDisputeOpen:
		return contract.BuyerID, nil
	case models.TypeOrderConfirmation, models.TypeOrderReject, models.TypeOrderFulfillment,
		models.TypeRefund, models.TypeProcessingError, models.TypePaymentFinalized:
		return contract.Listing.VendorID, nil
	case models.TypeDisputeClose:
		return contract.Moderator, nil
	}
	return "", fmt.Errorf("%w: %s cannot be parked", ErrUnexpectedMessage, message.MessageType)
}

// isForModerator reports whether this dispute message is addressed to
// us in the moderator role rather than as a disputant.
func (op *OrderProcessor) isForModerator(message *models.OrderMessage) (bool, error) {
	if op.caseManager == nil {
		return false, nil
	}
	if message.MessageType != models.TypeDisputeOpen && message.MessageType != models.TypeDisputeUpdate {
		return false, nil
	}
	var payload struct {
		Contract *models.Contract `json:"contract"`
	}
	if err := message.GetPayload(&payload); err != nil {
		return false, err
	}
	if payload.Contract == nil {
		return false, errors.New("dispute message missing contract")
	}
	return payload.Contract.Moderator == op.identity, nil
}

// GetOrder returns the order for the ID.
func (op *OrderProcessor) GetOrder(dbtx database.Tx, orderID models.OrderID) (*models.Order, error) {
	var order models.Order
	err := dbtx.Read().Where("id = ?", orderID.String()).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	} else if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetCase returns the moderator-side case for the ID.
func (op *OrderProcessor) GetCase(dbtx database.Tx, caseID models.OrderID) (*models.Case, error) {
	return op.caseManager.GetCase(dbtx, caseID)
}

// Identity returns the peer ID this node operates as.
func (op *OrderProcessor) Identity() string {
	return op.identity
}

// Multiwallet returns the node's multiwallet.
func (op *OrderProcessor) Multiwallet() wallet.Multiwallet {
	return op.multiwallet
}

// SubscribeEvent returns a subscription to the given event type.
func (op *OrderProcessor) SubscribeEvent(event interface{}) (events.Subscription, error) {
	return op.bus.Subscribe(event)
}

// LoadOrder fetches the order for the ID outside any transaction.
func (op *OrderProcessor) LoadOrder(orderID models.OrderID) (*models.Order, error) {
	return op.loadOrder(orderID)
}

// LoadCase fetches the moderator-side case for the ID outside any
// transaction.
func (op *OrderProcessor) LoadCase(caseID models.OrderID) (*models.Case, error) {
	var dispute *models.Case
	err := op.db.View(func(tx database.Tx) error {
		var err error
		dispute, err = op.GetCase(tx, caseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// loadOrder fetches the order outside any transaction. The exported
// operations use it to check preconditions before opening the write
// transaction.
func (op *OrderProcessor) loadOrder(orderID models.OrderID) (*models.Order, error) {
	var order *models.Order
	err := op.db.View(func(tx database.Tx) error {
		var err error
		order, err = op.GetOrder(tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
