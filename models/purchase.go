package models

// Purchase is the buyer's order request as submitted to the API. The
// listing snapshot is the buyer's copy of the terms being purchased;
// where the snapshot came from is outside this module's concern. The
// vendor and moderator escrow pubkeys come along with the listing so
// the buyer can derive the escrow address without a round trip.
type Purchase struct {
	Listing  ListingSnapshot `json:"listing"`
	Items    []PurchaseItem  `json:"items"`
	Shipping ShippingAddress `json:"shipping"`

	// PaymentCoin is the settlement currency for the trade. The listing
	// price is converted into it at the current exchange rate if the
	// two differ.
	PaymentCoin string `json:"paymentCoin"`

	// RefundAddress is where a rejection or refund should return the
	// funds. If nil a fresh address is drawn from the wallet.
	RefundAddress *string `json:"refundAddress,omitempty"`

	// PaymentMethod selects the escrow construction. CANCELABLE is used
	// when the vendor could not be reached at purchase time.
	PaymentMethod PaymentMethod `json:"paymentMethod"`

	VendorEscrowPubkey []byte `json:"vendorEscrowPubkey"`

	Moderator             string `json:"moderator,omitempty"`
	ModeratorPubkey       []byte `json:"moderatorPubkey,omitempty"`
	ModeratorEscrowPubkey []byte `json:"moderatorEscrowPubkey,omitempty"`
}
