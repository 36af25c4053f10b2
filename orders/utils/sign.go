package utils

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec"
	"github.com/tradebay/escrowd/models"
)

// ErrInvalidSignature is returned when a message or resolution
// signature fails verification against the expected key.
var ErrInvalidSignature = errors.New("invalid signature")

// SignOrderMessage puts a signature on an order message using the
// node's identity key. The digest covers the order ID, message type,
// and payload; the signature field itself is excluded.
func SignOrderMessage(message *models.OrderMessage, key *btcec.PrivateKey) error {
	sig, err := key.Sign(orderMessageDigest(message))
	if err != nil {
		return err
	}
	message.Signature = sig.Serialize()
	return nil
}

// VerifyOrderMessage checks the message signature against the given
// identity pubkey.
func VerifyOrderMessage(message *models.OrderMessage, pubkeyBytes []byte) error {
	pubkey, err := btcec.ParsePubKey(pubkeyBytes, btcec.S256())
	if err != nil {
		return err
	}
	sig, err := btcec.ParseDERSignature(message.Signature, btcec.S256())
	if err != nil {
		return err
	}
	if !sig.Verify(orderMessageDigest(message), pubkey) {
		return ErrInvalidSignature
	}
	return nil
}

func orderMessageDigest(message *models.OrderMessage) []byte {
	h := sha256.New()
	h.Write([]byte(message.OrderID))
	h.Write([]byte(message.MessageType))
	h.Write(message.Payload)
	return h.Sum(nil)
}

// SignResolution puts the moderator's signature on a resolution. The
// digest covers the order ID, narrative, and the payout percentages.
func SignResolution(orderID models.OrderID, resolution *models.Resolution, key *btcec.PrivateKey) error {
	sig, err := key.Sign(resolutionDigest(orderID, resolution))
	if err != nil {
		return err
	}
	resolution.ModeratorSig = sig.Serialize()
	return nil
}

// VerifyResolution checks the resolution signature against the
// moderator's identity pubkey from the contract.
func VerifyResolution(orderID models.OrderID, resolution *models.Resolution, pubkeyBytes []byte) error {
	pubkey, err := btcec.ParsePubKey(pubkeyBytes, btcec.S256())
	if err != nil {
		return err
	}
	sig, err := btcec.ParseDERSignature(resolution.ModeratorSig, btcec.S256())
	if err != nil {
		return err
	}
	if !sig.Verify(resolutionDigest(orderID, resolution), pubkey) {
		return ErrInvalidSignature
	}
	return nil
}

func resolutionDigest(orderID models.OrderID, resolution *models.Resolution) []byte {
	pcts := make([]byte, 12)
	binary.BigEndian.PutUint32(pcts[:4], resolution.BuyerPct)
	binary.BigEndian.PutUint32(pcts[4:8], resolution.VendorPct)
	binary.BigEndian.PutUint32(pcts[8:], resolution.ModeratorPct)

	h := sha256.New()
	h.Write([]byte(orderID))
	h.Write([]byte(resolution.Narrative))
	h.Write(pcts)
	return h.Sum(nil)
}
