package utils

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/tradebay/escrowd/models"
)

// MaxProtocolVersion is the newest contract version this node knows
// how to process.
const MaxProtocolVersion uint32 = 1

// ValidateContract runs the structural checks every party applies to
// a contract before accepting it. It returns the full list of
// failures so the vendor can report them all back to the buyer in a
// single processing error.
func ValidateContract(contract *models.Contract) []error {
	var errs []error

	if contract.ProtocolVersion > MaxProtocolVersion {
		errs = append(errs, fmt.Errorf("unsupported protocol version %d", contract.ProtocolVersion))
	}
	if contract.Listing.VendorID == "" {
		errs = append(errs, fmt.Errorf("listing is missing a vendor ID"))
	}
	if contract.Listing.Slug == "" {
		errs = append(errs, fmt.Errorf("listing is missing a slug"))
	}
	if contract.BuyerID == "" {
		errs = append(errs, fmt.Errorf("contract is missing a buyer ID"))
	}
	if _, err := btcec.ParsePubKey(contract.BuyerPubkey, btcec.S256()); err != nil {
		errs = append(errs, fmt.Errorf("invalid buyer pubkey: %s", err))
	}
	if contract.RefundAddress == "" {
		errs = append(errs, fmt.Errorf("contract is missing a refund address"))
	}

	if len(contract.Items) == 0 {
		errs = append(errs, fmt.Errorf("contract contains no items"))
	}
	for i, item := range contract.Items {
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("item %d has a non-positive quantity", i))
		}
	}

	amount, ok := new(big.Int).SetString(contract.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		errs = append(errs, fmt.Errorf("invalid contract amount %q", contract.Amount))
	}
	if _, ok := contract.Currency.Divisibility(); !ok {
		errs = append(errs, fmt.Errorf("unknown settlement currency %s", contract.Currency))
	}

	switch contract.PaymentMethod {
	case models.PaymentDirect, models.PaymentCancelable:
		if contract.Moderator != "" {
			errs = append(errs, fmt.Errorf("moderator set on a %s contract", contract.PaymentMethod))
		}
	case models.PaymentModerated:
		if contract.Moderator == "" {
			errs = append(errs, fmt.Errorf("moderated contract is missing a moderator"))
		}
		if contract.Moderator == contract.BuyerID || contract.Moderator == contract.Listing.VendorID {
			errs = append(errs, fmt.Errorf("moderator must not be a party to the trade"))
		}
		if _, err := btcec.ParsePubKey(contract.ModeratorPubkey, btcec.S256()); err != nil {
			errs = append(errs, fmt.Errorf("invalid moderator pubkey: %s", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown payment method %q", contract.PaymentMethod))
	}

	if contract.EscrowAddress == "" {
		errs = append(errs, fmt.Errorf("contract is missing an escrow address"))
	}
	if len(contract.RedeemScript) == 0 {
		errs = append(errs, fmt.Errorf("contract is missing a redeem script"))
	}
	if err := validateSigners(contract); err != nil {
		errs = append(errs, err)
	}

	if contract.EscrowTimeout <= 0 {
		errs = append(errs, fmt.Errorf("contract is missing an escrow timeout"))
	}
	if contract.DisputeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("contract is missing a dispute timeout"))
	}

	return errs
}

func validateSigners(contract *models.Contract) error {
	want := map[models.SignerRole]string{
		models.SignerBuyer:  contract.BuyerID,
		models.SignerVendor: contract.Listing.VendorID,
	}
	if contract.PaymentMethod == models.PaymentModerated {
		want[models.SignerModerator] = contract.Moderator
	}

	if len(contract.Signers) != len(want) {
		return fmt.Errorf("expected %d signers, contract has %d", len(want), len(contract.Signers))
	}
	for _, signer := range contract.Signers {
		peerID, ok := want[signer.Role]
		if !ok {
			return fmt.Errorf("unexpected signer role %s", signer.Role)
		}
		if signer.PeerID != peerID {
			return fmt.Errorf("signer %s does not match the contract party", signer.Role)
		}
		if _, err := btcec.ParsePubKey(signer.Pubkey, btcec.S256()); err != nil {
			return fmt.Errorf("invalid %s escrow pubkey: %s", signer.Role, err)
		}
		delete(want, signer.Role)
	}
	return nil
}
