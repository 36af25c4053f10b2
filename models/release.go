package models

// ReleaseOutput is a single payout in an escrow release.
type ReleaseOutput struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// EscrowSignature is one party's signature over a single input of an
// escrow release.
type EscrowSignature struct {
	Index     int    `json:"index"`
	Signature []byte `json:"signature"`
}

// EscrowRelease is a spend from an order's escrow address. It travels
// between parties partially signed; the receiving party adds its own
// signature set and broadcasts.
type EscrowRelease struct {
	FromIDs    [][]byte          `json:"fromIDs"`
	Outputs    []ReleaseOutput   `json:"outputs"`
	Fee        string            `json:"transactionFee"`
	Signatures []EscrowSignature `json:"escrowSignatures,omitempty"`
}
