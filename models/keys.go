package models

const (
	// KeyIdentity is the node's identity key.
	KeyIdentity = "identity"
	// KeyEscrow is the key used for escrow signing.
	KeyEscrow = "escrow"
	// KeyMnemonic is the mnemonic the other keys derive from.
	KeyMnemonic = "mnemonic"
)

// Key holds raw key data used by the node and stored in the
// database. The name field identifies the key and is used as
// the primary key.
type Key struct {
	Name  string `gorm:"primaryKey"`
	Value []byte
}
