package models

import (
	"encoding/json"
	"errors"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
)

// Case is the moderator's exclusive view of a disputed trade. It is
// keyed by the same order ID as the disputants' order records but
// carries its own state value. The disputants never hold a Case.
type Case struct {
	ID OrderID `gorm:"primaryKey"`

	State string `gorm:"index"`

	Open bool `gorm:"index"`

	// The disputants each submit their copy of the contract. The
	// moderator validates the copies against each other before
	// resolving.
	BuyerContract  json.RawMessage
	VendorContract json.RawMessage

	// Each disputant also submits the address it wants its share of
	// the payout sent to and the escrow transactions it observed.
	BuyerPayoutAddress  string
	VendorPayoutAddress string
	Transactions        json.RawMessage

	SerializedClaim      json.RawMessage
	SerializedResolution json.RawMessage

	ValidationErrors json.RawMessage

	Timestamp time.Time
}

// CaseState returns the typed state of the case.
func (c *Case) CaseState() CaseState {
	return CaseState(c.State)
}

// SetState records the new case state.
func (c *Case) SetState(state CaseState) {
	c.State = string(state)
	if state == CaseResolved {
		c.Open = false
	}
}

// Claim returns the dispute claim that opened this case.
func (c *Case) Claim() (*DisputeClaim, error) {
	if len(c.SerializedClaim) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	claim := new(DisputeClaim)
	if err := json.Unmarshal(c.SerializedClaim, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// PutClaim saves the opening claim and files the submitted contract
// copy, payout address, and observed transactions under the correct
// party.
func (c *Case) PutClaim(claim *DisputeClaim) error {
	if claim.OpenedBy == SignerBuyer {
		c.BuyerContract = claim.Contract
		c.BuyerPayoutAddress = claim.PayoutAddress
	} else {
		c.VendorContract = claim.Contract
		c.VendorPayoutAddress = claim.PayoutAddress
	}
	if claim.Transactions != nil {
		c.Transactions = claim.Transactions
	}

	contract := claim.Contract
	claim.Contract = nil
	ser, err := json.MarshalIndent(claim, "", "    ")
	claim.Contract = contract
	if err != nil {
		return err
	}
	c.SerializedClaim = ser
	return nil
}

// PutUpdate files a disputant's submission received via a dispute
// update under the given role.
func (c *Case) PutUpdate(update *DisputeUpdate, role SignerRole) error {
	switch role {
	case SignerBuyer:
		if c.BuyerContract != nil {
			return errors.New("buyer contract already submitted")
		}
		c.BuyerContract = update.Contract
		c.BuyerPayoutAddress = update.PayoutAddress
	case SignerVendor:
		if c.VendorContract != nil {
			return errors.New("vendor contract already submitted")
		}
		c.VendorContract = update.Contract
		c.VendorPayoutAddress = update.PayoutAddress
	default:
		return errors.New("dispute update from a non-disputant")
	}
	if c.Transactions == nil && update.Transactions != nil {
		c.Transactions = update.Transactions
	}
	return nil
}

// Resolution returns the published resolution if one exists.
func (c *Case) Resolution() (*Resolution, error) {
	if len(c.SerializedResolution) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	resolution := new(Resolution)
	if err := json.Unmarshal(c.SerializedResolution, resolution); err != nil {
		return nil, err
	}
	return resolution, nil
}

// PutResolution serializes the resolution into the case.
func (c *Case) PutResolution(resolution *Resolution) error {
	ser, err := json.MarshalIndent(resolution, "", "    ")
	if err != nil {
		return err
	}
	c.SerializedResolution = ser
	return nil
}

// Contract returns the deserialized contract from whichever disputant
// submitted one, preferring the buyer's copy.
func (c *Case) Contract() (*Contract, error) {
	raw := c.BuyerContract
	if raw == nil {
		raw = c.VendorContract
	}
	if raw == nil {
		return nil, ErrMessageDoesNotExist
	}
	contract := new(Contract)
	if err := json.Unmarshal(raw, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// EscrowOrder reconstructs a transient order view from the submitted
// contract and transactions. The moderator has no order record of its
// own; this view lets the escrow release helpers operate on the case.
func (c *Case) EscrowOrder() (*Order, error) {
	contract, err := c.Contract()
	if err != nil {
		return nil, err
	}
	order := &Order{ID: c.ID}
	if err := order.PutContract(contract); err != nil {
		return nil, err
	}
	if c.Transactions != nil {
		var txs []iwallet.Transaction
		if err := json.Unmarshal(c.Transactions, &txs); err != nil {
			return nil, err
		}
		for _, tx := range txs {
			if err := order.PutTransaction(tx); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// PutValidationErrors records contract validation failures for the
// moderator's review.
func (c *Case) PutValidationErrors(validationErrors []error) error {
	errStrs := make([]string, 0, len(validationErrors))
	for _, err := range validationErrors {
		errStrs = append(errStrs, err.Error())
	}

	out, err := json.MarshalIndent(errStrs, "", "    ")
	if err != nil {
		return err
	}
	c.ValidationErrors = out
	return nil
}

// MarshalJSON normalizes the case model for the API.
func (c *Case) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{})
	out["caseID"] = c.ID.String()
	out["state"] = c.State

	if c.SerializedClaim != nil {
		out["claim"] = c.SerializedClaim
	}
	if c.BuyerContract != nil {
		out["buyerContract"] = c.BuyerContract
	}
	if c.VendorContract != nil {
		out["vendorContract"] = c.VendorContract
	}
	if c.SerializedResolution != nil {
		out["resolution"] = c.SerializedResolution
	}
	if c.ValidationErrors != nil {
		out["validationErrors"] = c.ValidationErrors
	}

	return json.Marshal(out)
}
