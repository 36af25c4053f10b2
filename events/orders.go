package events

// Notification is embedded in events that are surfaced to the user
// over the websocket feed.
type Notification struct {
	ID  string `json:"notificationID"`
	Typ string `json:"type"`
}

// NewOrder fires on the vendor when an order open message is processed.
type NewOrder struct {
	Notification
	OrderID string `json:"orderID"`
	BuyerID string `json:"buyerID"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Amount  string `json:"amount"`
}

// OrderPaymentReceived fires on the buyer each time a payment into the
// escrow address is observed.
type OrderPaymentReceived struct {
	Notification
	OrderID      string `json:"orderID"`
	FundingTotal string `json:"fundingTotal"`
	CoinType     string `json:"coinType"`
}

// OrderFunded fires on every party once the escrow address holds the
// full contract amount.
type OrderFunded struct {
	Notification
	OrderID string `json:"orderID"`
	BuyerID string `json:"buyerID"`
}

// OrderConfirmation fires on the buyer when a pending offline order is
// confirmed by the vendor.
type OrderConfirmation struct {
	Notification
	OrderID string `json:"orderID"`
}

// OrderDeclined fires on the buyer when a pending offline order is
// rejected by the vendor.
type OrderDeclined struct {
	Notification
	OrderID string `json:"orderID"`
}

// OrderCancel fires on the vendor when the buyer cancels an
// unprocessed order.
type OrderCancel struct {
	Notification
	OrderID string `json:"orderID"`
}

// OrderFulfillment fires on the buyer when the vendor records a
// fulfillment.
type OrderFulfillment struct {
	Notification
	OrderID string `json:"orderID"`
}

// OrderCompletion fires on the vendor when the buyer completes the
// order.
type OrderCompletion struct {
	Notification
	OrderID string `json:"orderID"`
}

// Refund fires on the buyer when the vendor issues a refund.
type Refund struct {
	Notification
	OrderID string `json:"orderID"`
}

// DisputeOpen fires on every party to a trade when a dispute is
// opened.
type DisputeOpen struct {
	Notification
	OrderID    string `json:"orderID"`
	DisputerID string `json:"disputerID"`
	DisputeeID string `json:"disputeeID"`
	CaseID     string `json:"caseID"`
}

// DisputeUpdate fires on the moderator when the counter-party submits
// its contract copy.
type DisputeUpdate struct {
	Notification
	OrderID string `json:"orderID"`
}

// DisputeClose fires on the disputants when the moderator publishes a
// resolution.
type DisputeClose struct {
	Notification
	OrderID   string `json:"orderID"`
	BuyerPct  uint32 `json:"buyerPercentage"`
	VendorPct uint32 `json:"vendorPercentage"`
}

// DisputeAccepted fires when a disputant executes the resolution
// payout.
type DisputeAccepted struct {
	Notification
	OrderID string `json:"orderID"`
}

// PaymentFinalized fires when a timeout-gated unilateral release is
// observed.
type PaymentFinalized struct {
	Notification
	OrderID string `json:"orderID"`
}

// ProcessingError fires when the vendor reports it could not process a
// received order.
type ProcessingError struct {
	Notification
	OrderID string   `json:"orderID"`
	Errors  []string `json:"errors"`
}

// CaseExpired fires on the moderator when a dispute sits unresolved
// past the dispute timeout.
type CaseExpired struct {
	Notification
	OrderID string `json:"orderID"`
}

// EscrowTimeoutExpired fires when an order's escrow timeout elapses
// and a unilateral release becomes available.
type EscrowTimeoutExpired struct {
	Notification
	OrderID string `json:"orderID"`
}

// DisputeTimeoutExpired fires on a disputant when the moderator has
// not resolved the case before the dispute timeout elapsed.
type DisputeTimeoutExpired struct {
	Notification
	OrderID string `json:"orderID"`
}

// MessageACK fires when an outgoing message is acknowledged by the
// recipient.
type MessageACK struct {
	MessageID string
}
