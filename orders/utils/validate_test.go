package utils

import (
	"testing"

	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/models/factory"
	"github.com/tradebay/escrowd/wallet"
)

func buildContract(t *testing.T, method models.PaymentMethod) *models.Contract {
	buyer, err := factory.NewParty("buyer")
	if err != nil {
		t.Fatal(err)
	}
	vendor, err := factory.NewParty("vendor")
	if err != nil {
		t.Fatal(err)
	}
	moderator, err := factory.NewParty("moderator")
	if err != nil {
		t.Fatal(err)
	}
	contract, err := factory.NewKeyedContract(wallet.NewMockWallet(), method, buyer, vendor, moderator)
	if err != nil {
		t.Fatal(err)
	}
	return contract
}

func TestValidateContract(t *testing.T) {
	tests := []struct {
		name         string
		transform    func(contract *models.Contract)
		expectErrors bool
	}{
		{
			name:         "valid direct contract",
			transform:    func(contract *models.Contract) {},
			expectErrors: false,
		},
		{
			name: "unsupported protocol version",
			transform: func(contract *models.Contract) {
				contract.ProtocolVersion = MaxProtocolVersion + 1
			},
			expectErrors: true,
		},
		{
			name: "no items",
			transform: func(contract *models.Contract) {
				contract.Items = nil
			},
			expectErrors: true,
		},
		{
			name: "non-positive quantity",
			transform: func(contract *models.Contract) {
				contract.Items[0].Quantity = 0
			},
			expectErrors: true,
		},
		{
			name: "invalid amount",
			transform: func(contract *models.Contract) {
				contract.Amount = "not a number"
			},
			expectErrors: true,
		},
		{
			name: "zero amount",
			transform: func(contract *models.Contract) {
				contract.Amount = "0"
			},
			expectErrors: true,
		},
		{
			name: "unknown currency",
			transform: func(contract *models.Contract) {
				contract.Currency = "XYZ"
			},
			expectErrors: true,
		},
		{
			name: "moderator on direct contract",
			transform: func(contract *models.Contract) {
				contract.Moderator = "moderator"
			},
			expectErrors: true,
		},
		{
			name: "missing escrow address",
			transform: func(contract *models.Contract) {
				contract.EscrowAddress = ""
			},
			expectErrors: true,
		},
		{
			name: "missing redeem script",
			transform: func(contract *models.Contract) {
				contract.RedeemScript = nil
			},
			expectErrors: true,
		},
		{
			name: "signer does not match party",
			transform: func(contract *models.Contract) {
				contract.Signers[0].PeerID = "imposter"
			},
			expectErrors: true,
		},
		{
			name: "missing escrow timeout",
			transform: func(contract *models.Contract) {
				contract.EscrowTimeout = 0
			},
			expectErrors: true,
		},
		{
			name: "invalid buyer pubkey",
			transform: func(contract *models.Contract) {
				contract.BuyerPubkey = []byte{0x00}
			},
			expectErrors: true,
		},
	}

	for _, test := range tests {
		contract := buildContract(t, models.PaymentDirect)
		test.transform(contract)
		errs := ValidateContract(contract)
		if test.expectErrors && len(errs) == 0 {
			t.Errorf("%s: expected validation errors, got none", test.name)
		}
		if !test.expectErrors && len(errs) > 0 {
			t.Errorf("%s: expected no validation errors, got %v", test.name, errs)
		}
	}
}

func TestValidateContract_Moderated(t *testing.T) {
	contract := buildContract(t, models.PaymentModerated)
	if errs := ValidateContract(contract); len(errs) > 0 {
		t.Fatalf("Expected no validation errors, got %v", errs)
	}

	contract.Moderator = contract.BuyerID
	if errs := ValidateContract(contract); len(errs) == 0 {
		t.Error("Expected validation error for moderator equal to buyer")
	}

	contract = buildContract(t, models.PaymentModerated)
	contract.Moderator = ""
	if errs := ValidateContract(contract); len(errs) == 0 {
		t.Error("Expected validation error for missing moderator")
	}
}
