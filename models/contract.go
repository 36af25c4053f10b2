package models

import (
	"encoding/json"
	"errors"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
)

// PaymentMethod determines the escrow construction and quorum rule
// used for the trade.
type PaymentMethod string

const (
	// PaymentDirect is a 2-of-2 escrow between buyer and vendor. Full
	// cooperative release only.
	PaymentDirect PaymentMethod = "DIRECT"

	// PaymentCancelable is a 1-of-2 escrow used when the vendor was
	// offline at purchase time. Either party alone may move the funds,
	// which lets the buyer cancel if the vendor never processes the
	// order.
	PaymentCancelable PaymentMethod = "CANCELABLE"

	// PaymentModerated is a 2-of-3 escrow between buyer, vendor, and a
	// moderator.
	PaymentModerated PaymentMethod = "MODERATED"
)

// SignerRole identifies a party's role within a trade.
type SignerRole string

const (
	// SignerBuyer is the purchasing party.
	SignerBuyer SignerRole = "BUYER"
	// SignerVendor is the selling party.
	SignerVendor SignerRole = "VENDOR"
	// SignerModerator is the dispute moderator, present only on
	// moderated trades.
	SignerModerator SignerRole = "MODERATOR"
)

// Signer is a member of the escrow signer set.
type Signer struct {
	PeerID string     `json:"peerID"`
	Role   SignerRole `json:"role"`
	Pubkey []byte     `json:"pubkey"`
}

// ListingSnapshot is the immutable copy of the listing terms captured
// into the contract at purchase time. Listing storage and price
// modifier computation live outside this package; the snapshot only
// records what was agreed.
type ListingSnapshot struct {
	Slug          string       `json:"slug"`
	Title         string       `json:"title"`
	VendorID      string       `json:"vendorID"`
	VendorPubkey  []byte       `json:"vendorPubkey"`
	Price         string       `json:"price"`
	PriceCurrency CurrencyCode `json:"priceCurrency"`
	PriceModifier float64      `json:"priceModifier"`
	Inventory     int          `json:"inventory"`

	// EscrowTimeout is how long after funding the escrow may be
	// released unilaterally. DisputeTimeout is how long an open
	// dispute may sit unresolved before a forced release is permitted.
	EscrowTimeoutHours  uint32 `json:"escrowTimeoutHours"`
	DisputeTimeoutHours uint32 `json:"disputeTimeoutHours"`
}

// ShippingAddress is the buyer's shipping details as entered at
// purchase time.
type ShippingAddress struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// PurchaseItem is a single item line in the buyer's order request.
type PurchaseItem struct {
	Quantity int               `json:"quantity"`
	Options  map[string]string `json:"options,omitempty"`
	Memo     string            `json:"memo,omitempty"`
}

// Contract is the immutable snapshot of a trade created at purchase
// time. It is never mutated afterward; amendments produce a new
// contract version referenced by the same order ID.
type Contract struct {
	ProtocolVersion uint32 `json:"protocolVersion"`

	Listing  ListingSnapshot `json:"listing"`
	Items    []PurchaseItem  `json:"items"`
	Shipping ShippingAddress `json:"shipping"`

	BuyerID     string `json:"buyerID"`
	BuyerPubkey []byte `json:"buyerPubkey"`

	// RefundAddress is where a rejection or refund returns the
	// buyer's funds. Captured at purchase time so the vendor can
	// construct the release without a round trip.
	RefundAddress string `json:"refundAddress"`

	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	Moderator       string        `json:"moderator,omitempty"`
	ModeratorPubkey []byte        `json:"moderatorPubkey,omitempty"`

	// Amount is the computed total in base units of the settlement
	// currency.
	Amount   string       `json:"amount"`
	Currency CurrencyCode `json:"currency"`

	// EscrowAddress is derived deterministically from the signer set so
	// every party computes the same destination. RedeemScript is the
	// wallet-provided release script (or analogous authorization blob).
	EscrowAddress string   `json:"escrowAddress"`
	RedeemScript  []byte   `json:"redeemScript"`
	Signers       []Signer `json:"signers"`

	EscrowTimeout  time.Duration `json:"escrowTimeout"`
	DisputeTimeout time.Duration `json:"disputeTimeout"`

	Timestamp time.Time `json:"timestamp"`
}

// Total returns the contract amount as a wallet Amount.
func (c *Contract) Total() iwallet.Amount {
	return iwallet.NewAmount(c.Amount)
}

// Signer returns the signer entry for the given role.
func (c *Contract) Signer(role SignerRole) (Signer, error) {
	for _, s := range c.Signers {
		if s.Role == role {
			return s, nil
		}
	}
	return Signer{}, errors.New("signer not found for role")
}

// RoleOf returns the role the given peer plays in this contract, or
// RoleUnknown if the peer is not a party to it.
func (c *Contract) RoleOf(peerID string) OrderRole {
	switch peerID {
	case c.BuyerID:
		return RoleBuyer
	case c.Listing.VendorID:
		return RoleVendor
	case c.Moderator:
		if c.Moderator != "" {
			return RoleModerator
		}
	}
	return RoleUnknown
}

// Serialize returns the canonical JSON encoding of the contract. The
// encoding is deterministic for a given contract value, which makes it
// suitable as input to the content-derived order ID.
func (c *Contract) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// Deserialize parses the canonical JSON encoding into the contract.
func (c *Contract) Deserialize(b []byte) error {
	return json.Unmarshal(b, c)
}

// Fulfillment is the vendor's delivery record for one or more items.
// The payout address tells the buyer where to direct the escrow
// release at completion time.
type Fulfillment struct {
	ItemIndexes   []int     `json:"itemIndexes"`
	Carrier       string    `json:"carrier,omitempty"`
	TrackingNum   string    `json:"trackingNumber,omitempty"`
	Note          string    `json:"note,omitempty"`
	PayoutAddress string    `json:"payoutAddress,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Rating is the buyer's rating left at completion time.
type Rating struct {
	Overall     int    `json:"overall"`
	Quality     int    `json:"quality"`
	Description int    `json:"description"`
	Delivery    int    `json:"deliverySpeed"`
	Service     int    `json:"customerService"`
	Review      string `json:"review,omitempty"`
}

// Completion is the buyer's completion record. The attached release
// carries the buyer's escrow signatures; the vendor countersigns and
// broadcasts to claim the funds.
type Completion struct {
	Ratings   []Rating       `json:"ratings"`
	Release   *EscrowRelease `json:"release,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DisputeClaim is the claim submitted by the disputing party along
// with a copy of its contract for the moderator. The payout address
// and observed escrow transactions let the moderator construct the
// resolution release without any view of the chain itself.
type DisputeClaim struct {
	OpenedBy      SignerRole      `json:"openedBy"`
	Claim         string          `json:"claim"`
	Contract      json.RawMessage `json:"contract"`
	PayoutAddress string          `json:"payoutAddress"`
	Transactions  json.RawMessage `json:"transactions,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Resolution is the moderator's published dispute outcome. The
// percentages must sum to 100. The attached release carries the
// moderator's escrow signatures over the payout; either disputant can
// countersign and broadcast it.
type Resolution struct {
	Narrative    string         `json:"resolution"`
	BuyerPct     uint32         `json:"buyerPercentage"`
	VendorPct    uint32         `json:"vendorPercentage"`
	ModeratorPct uint32         `json:"moderatorPercentage"`
	ModeratorSig []byte         `json:"moderatorSignature"`
	Release      *EscrowRelease `json:"release,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ProcessingError is the vendor's record of why a received order could
// not be processed. It is delivered asynchronously to the buyer.
type ProcessingError struct {
	Errors    []string  `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}
