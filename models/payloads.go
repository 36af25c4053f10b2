package models

import (
	"encoding/json"
	"time"
)

// Confirmation is the vendor's acceptance of a pending offline order.
// On a cancelable escrow the vendor claims the funds when confirming,
// which closes the window in which the buyer could cancel, and reports
// the claiming transaction ID.
type Confirmation struct {
	TransactionID string    `json:"transactionID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Rejection is the vendor's refusal of a pending offline order. If the
// buyer had already paid into the cancelable escrow the vendor sweeps
// it back to the buyer and reports the transaction ID.
type Rejection struct {
	Reason        string    `json:"reason,omitempty"`
	TransactionID string    `json:"transactionID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Cancel is the buyer's cancelation of an order the vendor has not yet
// processed. The buyer sweeps the cancelable escrow back and reports
// the transaction ID.
type Cancel struct {
	TransactionID string    `json:"transactionID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RefundMessage is the vendor's voluntary return of escrowed funds. For
// cancelable escrows the vendor can broadcast the release alone and
// only the transaction ID travels. For the other escrow types the
// vendor's signatures travel in the release and the buyer countersigns
// and broadcasts.
type RefundMessage struct {
	TransactionID string         `json:"transactionID,omitempty"`
	Release       *EscrowRelease `json:"release,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// DisputeUpdate carries the non-disputing party's copy of the contract
// to the moderator along with its payout address and the escrow
// transactions it observed.
type DisputeUpdate struct {
	Contract      json.RawMessage `json:"contract"`
	PayoutAddress string          `json:"payoutAddress"`
	Transactions  json.RawMessage `json:"transactions,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PaymentFinalizedMessage reports a timeout-gated unilateral release
// of the escrow to the counter-party.
type PaymentFinalizedMessage struct {
	TransactionID string    `json:"transactionID"`
	Timestamp     time.Time `json:"timestamp"`
}
