package factory

import (
	"time"

	"github.com/btcsuite/btcd/btcec"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/gosimple/slug"
	"github.com/tradebay/escrowd/models"
)

// NewListingSnapshot returns a listing snapshot suitable for use in
// tests. The slug is derived from the title the same way the listing
// collaborator derives it.
func NewListingSnapshot(title, vendorID string) models.ListingSnapshot {
	return models.ListingSnapshot{
		Slug:                slug.Make(title),
		Title:               title,
		VendorID:            vendorID,
		Price:               "100000",
		PriceCurrency:       "TBTC",
		Inventory:           10,
		EscrowTimeoutHours:  1,
		DisputeTimeoutHours: 1,
	}
}

// NewContract returns a direct 2-of-2 contract between the given
// parties with a single one-quantity item.
func NewContract(buyerID, vendorID string) *models.Contract {
	listing := NewListingSnapshot("Trail running shoes", vendorID)
	return &models.Contract{
		ProtocolVersion: 1,
		Listing:         listing,
		Items: []models.PurchaseItem{
			{Quantity: 1},
		},
		Shipping: models.ShippingAddress{
			Name:       "Shipping Name",
			Address:    "1234 Test Ave",
			City:       "Testville",
			State:      "TS",
			PostalCode: "00000",
			Country:    "UNITED_STATES",
		},
		BuyerID:       buyerID,
		RefundAddress: "refundaddress",
		PaymentMethod: models.PaymentDirect,
		Amount:        "100000",
		Currency:      "TBTC",
		EscrowAddress: "paymentaddress",
		Signers: []models.Signer{
			{PeerID: buyerID, Role: models.SignerBuyer},
			{PeerID: vendorID, Role: models.SignerVendor},
		},
		EscrowTimeout:  time.Hour,
		DisputeTimeout: time.Hour,
		Timestamp:      time.Now(),
	}
}

// NewModeratedContract returns a moderated 2-of-3 contract between the
// given parties.
func NewModeratedContract(buyerID, vendorID, moderatorID string) *models.Contract {
	contract := NewContract(buyerID, vendorID)
	contract.PaymentMethod = models.PaymentModerated
	contract.Moderator = moderatorID
	contract.Signers = append(contract.Signers, models.Signer{
		PeerID: moderatorID,
		Role:   models.SignerModerator,
	})
	return contract
}

// Party bundles the keys a trade participant holds.
type Party struct {
	PeerID      string
	IdentityKey *btcec.PrivateKey
	EscrowKey   *btcec.PrivateKey
}

// NewParty generates fresh identity and escrow keys for the peer.
func NewParty(peerID string) (*Party, error) {
	identityKey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}
	escrowKey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}
	return &Party{
		PeerID:      peerID,
		IdentityKey: identityKey,
		EscrowKey:   escrowKey,
	}, nil
}

// NewKeyedContract returns a contract whose pubkeys, escrow address,
// and redeem script are real, derived from the parties' keys via the
// provided escrow wallet. The moderator may be nil for anything but a
// moderated contract.
func NewKeyedContract(wal iwallet.Escrow, method models.PaymentMethod, buyer, vendor, moderator *Party) (*models.Contract, error) {
	contract := NewContract(buyer.PeerID, vendor.PeerID)
	contract.PaymentMethod = method
	contract.Currency = "TMCK"
	contract.Listing.PriceCurrency = "TMCK"
	contract.BuyerPubkey = buyer.IdentityKey.PubKey().SerializeCompressed()
	contract.Listing.VendorPubkey = vendor.IdentityKey.PubKey().SerializeCompressed()

	keys := []btcec.PublicKey{
		*buyer.EscrowKey.PubKey(),
		*vendor.EscrowKey.PubKey(),
	}
	contract.Signers = []models.Signer{
		{PeerID: buyer.PeerID, Role: models.SignerBuyer, Pubkey: buyer.EscrowKey.PubKey().SerializeCompressed()},
		{PeerID: vendor.PeerID, Role: models.SignerVendor, Pubkey: vendor.EscrowKey.PubKey().SerializeCompressed()},
	}

	threshold := 2
	if method == models.PaymentCancelable {
		threshold = 1
	}
	if method == models.PaymentModerated {
		contract.Moderator = moderator.PeerID
		contract.ModeratorPubkey = moderator.IdentityKey.PubKey().SerializeCompressed()
		keys = append(keys, *moderator.EscrowKey.PubKey())
		contract.Signers = append(contract.Signers, models.Signer{
			PeerID: moderator.PeerID,
			Role:   models.SignerModerator,
			Pubkey: moderator.EscrowKey.PubKey().SerializeCompressed(),
		})
	}

	addr, redeemScript, err := wal.CreateMultisigAddress(keys, threshold)
	if err != nil {
		return nil, err
	}
	contract.EscrowAddress = addr.String()
	contract.RedeemScript = redeemScript
	return contract, nil
}

// NewOrder returns an order model wrapping the provided contract from
// the perspective of the given role.
func NewOrder(id models.OrderID, contract *models.Contract, role models.OrderRole) (*models.Order, error) {
	order := &models.Order{
		ID:   id,
		Open: true,
	}
	order.SetRole(role)
	order.SetState(models.StateAwaitingPayment)
	if err := order.PutContract(contract); err != nil {
		return nil, err
	}
	return order, nil
}
