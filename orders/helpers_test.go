package orders

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/models/factory"
	"github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/orders/utils"
	"github.com/tradebay/escrowd/wallet"
)

// testTrade bundles a processor for the node playing the given role
// together with the counter-parties' keys and a keyed contract.
type testTrade struct {
	node      *mockOrderProcessor
	buyer     *factory.Party
	vendor    *factory.Party
	moderator *factory.Party
	contract  *models.Contract
	orderID   models.OrderID
	wal       *wallet.MockWallet
	mocknet   *net.MockNetwork
}

func newTestTrade(role models.OrderRole, method models.PaymentMethod) (*testTrade, error) {
	wal := wallet.NewMockWallet()
	mocknet := net.NewMockNetwork()

	nodeID := "vendor"
	if role == models.RoleBuyer {
		nodeID = "buyer"
	}
	node, err := newMockOrderProcessor(nodeID, mocknet, wal)
	if err != nil {
		return nil, err
	}

	buyer, vendor := node.party, node.party
	if role == models.RoleBuyer {
		vendor, err = factory.NewParty("vendor")
	} else {
		buyer, err = factory.NewParty("buyer")
	}
	if err != nil {
		return nil, err
	}
	moderator, err := factory.NewParty("moderator")
	if err != nil {
		return nil, err
	}

	contract, err := factory.NewKeyedContract(wal, method, buyer, vendor, moderator)
	if err != nil {
		return nil, err
	}
	orderID, err := utils.CalcOrderID(contract)
	if err != nil {
		return nil, err
	}

	return &testTrade{
		node:      node,
		buyer:     buyer,
		vendor:    vendor,
		moderator: moderator,
		contract:  contract,
		orderID:   orderID,
		wal:       wal,
		mocknet:   mocknet,
	}, nil
}

// newOrder returns a fresh order model around the trade's contract in
// the given state, from the node's perspective.
func (tr *testTrade) newOrder(state models.OrderState) (*models.Order, error) {
	role := tr.contract.RoleOf(tr.node.identity)
	order, err := factory.NewOrder(tr.orderID, tr.contract, role)
	if err != nil {
		return nil, err
	}
	order.SetState(state)
	return order, nil
}

// fundingTransaction manufactures a payment of the full contract
// amount into the trade's escrow address.
func (tr *testTrade) fundingTransaction() iwallet.Transaction {
	txidBytes := make([]byte, 32)
	rand.Read(txidBytes)
	return iwallet.Transaction{
		ID: iwallet.TransactionID(hex.EncodeToString(txidBytes)),
		To: []iwallet.SpendInfo{
			{
				ID:      append(txidBytes, []byte{0x00, 0x00, 0x00, 0x00}...),
				Address: iwallet.NewAddress(tr.contract.EscrowAddress, iwallet.CoinType("TMCK")),
				Amount:  tr.contract.Total(),
			},
		},
	}
}

// fundOrder records a full payment on the order model.
func (tr *testTrade) fundOrder(order *models.Order) error {
	if err := order.PutTransaction(tr.fundingTransaction()); err != nil {
		return err
	}
	order.Funded = true
	order.FundingTimestamp = time.Now()
	return nil
}

// saveOrder persists the order so the exported operations can load it.
func (tr *testTrade) saveOrder(order *models.Order) error {
	return tr.node.db.Update(func(tx database.Tx) error {
		return tx.Save(order)
	})
}

// loadOrderByID fetches an order from the node's database.
func (tr *testTrade) loadOrderByID(orderID models.OrderID) (*models.Order, error) {
	var order *models.Order
	err := tr.node.db.View(func(tx database.Tx) error {
		var err error
		order, err = tr.node.GetOrder(tx, orderID)
		return err
	})
	return order, err
}

// savedOrder reloads the trade's order from the database.
func (tr *testTrade) savedOrder() (*models.Order, error) {
	return tr.loadOrderByID(tr.orderID)
}

// queuedMessages returns the outgoing messages of the given type
// sitting in the node's retry queue.
func (tr *testTrade) queuedMessages(msgType models.MessageType) ([]models.OutgoingMessage, error) {
	var queued []models.OutgoingMessage
	err := tr.node.db.View(func(tx database.Tx) error {
		return tx.Read().Where("message_type = ?", string(msgType)).Find(&queued).Error
	})
	return queued, err
}
