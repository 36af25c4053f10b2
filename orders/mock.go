package orders

import (
	"github.com/btcsuite/btcd/btcec"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/google/uuid"
	"github.com/tradebay/escrowd/cases"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/database/sqlitedb"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/models/factory"
	"github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/orders/utils"
	"github.com/tradebay/escrowd/wallet"
)

// mockOrderProcessor is an order processor wired to in-memory
// implementations of the database, wallet, and network for tests.
type mockOrderProcessor struct {
	*OrderProcessor
	db        database.Database
	party     *factory.Party
	wallet    *wallet.MockWallet
	transport *net.MockTransport
	messenger *net.Messenger
	bus       events.Bus
}

func newMockOrderProcessor(peerID string, mocknet *net.MockNetwork, wal *wallet.MockWallet) (*mockOrderProcessor, error) {
	db, err := sqlitedb.NewMemoryDB()
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx database.Tx) error {
		for _, m := range []interface{}{
			&models.Order{},
			&models.Case{},
			&models.OutgoingMessage{},
			&models.IncomingMessage{},
			&models.Key{},
		} {
			if err := tx.Migrate(m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	party, err := factory.NewParty(peerID)
	if err != nil {
		return nil, err
	}

	transport := mocknet.NewTransport(peerID)
	messenger := net.NewMessenger(transport, db)
	bus := events.NewBus()
	multiwallet := wallet.Multiwallet{iwallet.CtMock: wal}

	caseManager := cases.NewCaseManager(&cases.Config{
		Identity:    peerID,
		IdentityKey: party.IdentityKey,
		EscrowKey:   party.EscrowKey,
		Db:          db,
		Messenger:   messenger,
		Multiwallet: multiwallet,
		EventBus:    bus,
	})

	op := NewOrderProcessor(&Config{
		Identity:    peerID,
		IdentityKey: party.IdentityKey,
		EscrowKey:   party.EscrowKey,
		Db:          db,
		Messenger:   messenger,
		Multiwallet: multiwallet,
		CaseManager: caseManager,
		EventBus:    bus,
	})

	return &mockOrderProcessor{
		OrderProcessor: op,
		db:             db,
		party:          party,
		wallet:         wal,
		transport:      transport,
		messenger:      messenger,
		bus:            bus,
	}, nil
}

// signedOrderMessage wraps the payload in an order message signed by
// the given identity key.
func signedOrderMessage(orderID models.OrderID, msgType models.MessageType, payload interface{}, key *btcec.PrivateKey) (*models.OrderMessage, error) {
	message := &models.OrderMessage{
		MessageID:   uuid.New().String(),
		OrderID:     orderID,
		MessageType: msgType,
	}
	if err := message.PutPayload(payload); err != nil {
		return nil, err
	}
	if err := utils.SignOrderMessage(message, key); err != nil {
		return nil, err
	}
	return message, nil
}
