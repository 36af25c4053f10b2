package cases

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/google/uuid"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/database/sqlitedb"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/models/factory"
	"github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/orders/utils"
	"github.com/tradebay/escrowd/wallet"
)

// testCase bundles a case manager acting as moderator for a moderated
// trade between two generated disputants.
type testCase struct {
	cm        *CaseManager
	db        database.Database
	bus       events.Bus
	buyer     *factory.Party
	vendor    *factory.Party
	moderator *factory.Party
	contract  *models.Contract
	orderID   models.OrderID
	wal       *wallet.MockWallet
}

func newTestCase() (*testCase, error) {
	db, err := sqlitedb.NewMemoryDB()
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx database.Tx) error {
		for _, m := range []interface{}{&models.Case{}, &models.OutgoingMessage{}} {
			if err := tx.Migrate(m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	buyer, err := factory.NewParty("buyer")
	if err != nil {
		return nil, err
	}
	vendor, err := factory.NewParty("vendor")
	if err != nil {
		return nil, err
	}
	moderator, err := factory.NewParty("moderator")
	if err != nil {
		return nil, err
	}

	wal := wallet.NewMockWallet()
	contract, err := factory.NewKeyedContract(wal, models.PaymentModerated, buyer, vendor, moderator)
	if err != nil {
		return nil, err
	}
	orderID, err := utils.CalcOrderID(contract)
	if err != nil {
		return nil, err
	}

	mocknet := net.NewMockNetwork()
	messenger := net.NewMessenger(mocknet.NewTransport(moderator.PeerID), db)
	bus := events.NewBus()

	cm := NewCaseManager(&Config{
		Identity:    moderator.PeerID,
		IdentityKey: moderator.IdentityKey,
		EscrowKey:   moderator.EscrowKey,
		Db:          db,
		Messenger:   messenger,
		Multiwallet: wallet.Multiwallet{iwallet.CtMock: wal},
		EventBus:    bus,
	})

	return &testCase{
		cm:        cm,
		db:        db,
		bus:       bus,
		buyer:     buyer,
		vendor:    vendor,
		moderator: moderator,
		contract:  contract,
		orderID:   orderID,
		wal:       wal,
	}, nil
}

func signedMessage(orderID models.OrderID, msgType models.MessageType, payload interface{}, key *btcec.PrivateKey) (*models.OrderMessage, error) {
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

// fundingTransactions manufactures the escrow funding evidence a
// disputant would submit.
func (tc *testCase) fundingTransactions() (json.RawMessage, error) {
	txidBytes := make([]byte, 32)
	rand.Read(txidBytes)
	txs := []iwallet.Transaction{
		{
			ID: iwallet.TransactionID(hex.EncodeToString(txidBytes)),
			To: []iwallet.SpendInfo{
				{
					ID:      append(txidBytes, []byte{0x00, 0x00, 0x00, 0x00}...),
					Address: iwallet.NewAddress(tc.contract.EscrowAddress, iwallet.CoinType("TMCK")),
					Amount:  tc.contract.Total(),
				},
			},
		},
	}
	return json.Marshal(txs)
}

func (tc *testCase) openCase(t *testing.T) {
	t.Helper()
	serialized, err := tc.contract.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	txs, err := tc.fundingTransactions()
	if err != nil {
		t.Fatal(err)
	}
	claim := &models.DisputeClaim{
		OpenedBy:      models.SignerBuyer,
		Claim:         "item never arrived",
		Contract:      serialized,
		PayoutAddress: "buyerpayoutaddress",
		Transactions:  txs,
		Timestamp:     time.Now(),
	}
	openMsg, err := signedMessage(tc.orderID, models.TypeDisputeOpen, claim, tc.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	err = tc.db.Update(func(tx database.Tx) error {
		event, err := tc.cm.ProcessDisputeOpen(tx, tc.buyer.PeerID, openMsg)
		if err != nil {
			return err
		}
		if _, ok := event.(*events.DisputeOpen); !ok {
			t.Errorf("expected DisputeOpen event, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCaseManager_ProcessDisputeOpen(t *testing.T) {
	tc, err := newTestCase()
	if err != nil {
		t.Fatal(err)
	}
	tc.openCase(t)

	var c *models.Case
	err = tc.db.View(func(tx database.Tx) error {
		var err error
		c, err = tc.cm.GetCase(tx, tc.orderID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.CaseState() != models.CaseDisputed {
		t.Errorf("expected case state %s, got %s", models.CaseDisputed, c.CaseState())
	}
	if !c.Open {
		t.Error("expected case to be open")
	}
	if c.BuyerContract == nil {
		t.Error("expected buyer contract filed from the claim")
	}
	if c.BuyerPayoutAddress != "buyerpayoutaddress" {
		t.Errorf("expected buyer payout address filed, got %q", c.BuyerPayoutAddress)
	}
	if c.Transactions == nil {
		t.Error("expected escrow transactions filed from the claim")
	}

	// A replay of the claim is a no-op.
	serialized, err := tc.contract.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	replay := &models.DisputeClaim{
		OpenedBy:  models.SignerBuyer,
		Claim:     "item never arrived",
		Contract:  serialized,
		Timestamp: time.Now(),
	}
	replayMsg, err := signedMessage(tc.orderID, models.TypeDisputeOpen, replay, tc.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	err = tc.db.Update(func(tx database.Tx) error {
		event, err := tc.cm.ProcessDisputeOpen(tx, tc.buyer.PeerID, replayMsg)
		if err != nil {
			return err
		}
		if event != nil {
			t.Errorf("expected nil event for replayed claim, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A divergent claim for the same case is rejected.
	divergent := &models.DisputeClaim{
		OpenedBy:  models.SignerBuyer,
		Claim:     "a different story",
		Contract:  serialized,
		Timestamp: time.Now(),
	}
	divergentMsg, err := signedMessage(tc.orderID, models.TypeDisputeOpen, divergent, tc.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	err = tc.db.Update(func(tx database.Tx) error {
		_, err := tc.cm.ProcessDisputeOpen(tx, tc.buyer.PeerID, divergentMsg)
		if err == nil {
			t.Error("expected divergent claim to be rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCaseManager_ProcessDisputeUpdate(t *testing.T) {
	tc, err := newTestCase()
	if err != nil {
		t.Fatal(err)
	}

	serialized, err := tc.contract.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	update := &models.DisputeUpdate{
		Contract:      serialized,
		PayoutAddress: "vendorpayoutaddress",
		Timestamp:     time.Now(),
	}
	updateMsg, err := signedMessage(tc.orderID, models.TypeDisputeUpdate, update, tc.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}

	// No case exists yet.
	err = tc.db.Update(func(tx database.Tx) error {
		_, err := tc.cm.ProcessDisputeUpdate(tx, tc.vendor.PeerID, updateMsg)
		if !errors.Is(err, ErrCaseNotFound) {
			t.Errorf("expected ErrCaseNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	tc.openCase(t)

	err = tc.db.Update(func(tx database.Tx) error {
		event, err := tc.cm.ProcessDisputeUpdate(tx, tc.vendor.PeerID, updateMsg)
		if err != nil {
			return err
		}
		if _, ok := event.(*events.DisputeUpdate); !ok {
			t.Errorf("expected DisputeUpdate event, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var c *models.Case
	err = tc.db.View(func(tx database.Tx) error {
		var err error
		c, err = tc.cm.GetCase(tx, tc.orderID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.VendorContract == nil {
		t.Error("expected vendor contract filed from the update")
	}
	if c.VendorPayoutAddress != "vendorpayoutaddress" {
		t.Errorf("expected vendor payout address filed, got %q", c.VendorPayoutAddress)
	}

	// A second submission from the same party is ignored.
	err = tc.db.Update(func(tx database.Tx) error {
		event, err := tc.cm.ProcessDisputeUpdate(tx, tc.vendor.PeerID, updateMsg)
		if err != nil {
			return err
		}
		if event != nil {
			t.Errorf("expected nil event for repeated update, got %T", event)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A non-disputant cannot submit.
	strangerMsg, err := signedMessage(tc.orderID, models.TypeDisputeUpdate, update, tc.moderator.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	err = tc.db.Update(func(tx database.Tx) error {
		_, err := tc.cm.ProcessDisputeUpdate(tx, "stranger", strangerMsg)
		if err == nil {
			t.Error("expected update from non-disputant to be rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCaseManager_Resolve(t *testing.T) {
	tc, err := newTestCase()
	if err != nil {
		t.Fatal(err)
	}
	tc.openCase(t)

	// File the vendor's payout address too.
	serialized, err := tc.contract.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	updateMsg, err := signedMessage(tc.orderID, models.TypeDisputeUpdate, &models.DisputeUpdate{
		Contract:      serialized,
		PayoutAddress: "vendorpayoutaddress",
		Timestamp:     time.Now(),
	}, tc.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	err = tc.db.Update(func(tx database.Tx) error {
		_, err := tc.cm.ProcessDisputeUpdate(tx, tc.vendor.PeerID, updateMsg)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// An invalid split is rejected up front.
	err = tc.db.Update(func(tx database.Tx) error {
		err := tc.cm.Resolve(tx, tc.orderID, &models.Resolution{Narrative: "bad", BuyerPct: 50, VendorPct: 20})
		if !errors.Is(err, escrow.ErrInvalidSplit) {
			t.Errorf("expected ErrInvalidSplit, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	resolution := &models.Resolution{
		Narrative:    "split the difference",
		BuyerPct:     45,
		VendorPct:    45,
		ModeratorPct: 10,
	}
	err = tc.db.Update(func(tx database.Tx) error {
		return tc.cm.Resolve(tx, tc.orderID, resolution)
	})
	if err != nil {
		t.Fatal(err)
	}

	var c *models.Case
	err = tc.db.View(func(tx database.Tx) error {
		var err error
		c, err = tc.cm.GetCase(tx, tc.orderID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.CaseState() != models.CaseResolved {
		t.Errorf("expected case state %s, got %s", models.CaseResolved, c.CaseState())
	}
	if c.Open {
		t.Error("expected resolved case to be closed")
	}

	stored, err := c.Resolution()
	if err != nil {
		t.Fatal(err)
	}
	if err := utils.VerifyResolution(tc.orderID, stored, tc.moderator.IdentityKey.PubKey().SerializeCompressed()); err != nil {
		t.Errorf("stored resolution fails signature verification: %s", err)
	}
	if stored.Release == nil {
		t.Fatal("expected a release attached to the resolution")
	}
	if len(stored.Release.Signatures) == 0 {
		t.Error("expected the moderator's signatures on the release")
	}
	if len(stored.Release.Outputs) != 3 {
		t.Errorf("expected 3 payout outputs, got %d", len(stored.Release.Outputs))
	}

	// Both disputants get a DISPUTE_CLOSE.
	var outgoing []models.OutgoingMessage
	err = tc.db.View(func(tx database.Tx) error {
		return tx.Read().Where("message_type = ?", string(models.TypeDisputeClose)).Find(&outgoing).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(outgoing) != 2 {
		t.Errorf("expected 2 queued DISPUTE_CLOSE messages, got %d", len(outgoing))
	}

	// Resolving again is rejected.
	err = tc.db.Update(func(tx database.Tx) error {
		err := tc.cm.Resolve(tx, tc.orderID, resolution)
		if !errors.Is(err, ErrCaseClosed) {
			t.Errorf("expected ErrCaseClosed, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCaseManager_Resolve_missingPayoutAddress(t *testing.T) {
	tc, err := newTestCase()
	if err != nil {
		t.Fatal(err)
	}
	tc.openCase(t)

	// The vendor never submitted an address but is awarded a share.
	err = tc.db.Update(func(tx database.Tx) error {
		err := tc.cm.Resolve(tx, tc.orderID, &models.Resolution{Narrative: "split", BuyerPct: 50, VendorPct: 50})
		if !errors.Is(err, ErrMissingPayoutAddress) {
			t.Errorf("expected ErrMissingPayoutAddress, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Awarding the buyer everything works without the vendor's address.
	err = tc.db.Update(func(tx database.Tx) error {
		return tc.cm.Resolve(tx, tc.orderID, &models.Resolution{Narrative: "buyer wins", BuyerPct: 100})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCaseManager_CheckForExpirations(t *testing.T) {
	tc, err := newTestCase()
	if err != nil {
		t.Fatal(err)
	}
	tc.openCase(t)

	sub, err := tc.bus.Subscribe(&events.CaseExpired{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	// The dispute timeout has not elapsed yet.
	tc.cm.CheckForExpirations(time.Now())
	select {
	case <-sub.Out():
		t.Error("did not expect an expiration event")
	default:
	}

	// The contract's dispute timeout is one hour.
	tc.cm.CheckForExpirations(time.Now().Add(2 * time.Hour))
	select {
	case event := <-sub.Out():
		if event.(*events.CaseExpired).OrderID != tc.orderID.String() {
			t.Error("expiration event names the wrong case")
		}
	default:
		t.Fatal("expected CaseExpired event")
	}

	var c *models.Case
	err = tc.db.View(func(tx database.Tx) error {
		var err error
		c, err = tc.cm.GetCase(tx, tc.orderID)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.CaseState() != models.CaseExpired {
		t.Errorf("expected case state %s, got %s", models.CaseExpired, c.CaseState())
	}

	// An expired case is not swept twice.
	tc.cm.CheckForExpirations(time.Now().Add(3 * time.Hour))
	select {
	case <-sub.Out():
		t.Error("did not expect a second expiration event")
	default:
	}
}
