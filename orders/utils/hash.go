package utils

import (
	"crypto/sha256"

	"github.com/multiformats/go-multihash"
	"github.com/tradebay/escrowd/models"
)

// MultihashSha256 hashes the data with sha256 and returns a multihash
// representation.
func MultihashSha256(b []byte) (*multihash.Multihash, error) {
	h := sha256.Sum256(b)
	encoded, err := multihash.Encode(h[:], multihash.SHA2_256)
	if err != nil {
		return nil, err
	}
	mh, err := multihash.Cast(encoded)
	if err != nil {
		return nil, err
	}
	return &mh, nil
}

// CalcOrderID returns the content-derived order ID for the contract.
// Every party hashes the same canonical serialization so they all
// derive the same ID independently.
func CalcOrderID(contract *models.Contract) (models.OrderID, error) {
	ser, err := contract.Serialize()
	if err != nil {
		return "", err
	}
	mh, err := MultihashSha256(ser)
	if err != nil {
		return "", err
	}
	return models.OrderID(mh.B58String()), nil
}
