package escrow

import (
	"errors"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/models"
)

// ErrInvalidSplit is returned when a resolution's percentages do not
// sum to exactly 100.
var ErrInvalidSplit = errors.New("resolution percentages do not sum to 100")

// ValidateSplit checks the resolution's payout percentages.
func ValidateSplit(res *models.Resolution) error {
	if res.BuyerPct+res.VendorPct+res.ModeratorPct != 100 {
		return ErrInvalidSplit
	}
	return nil
}

// ResolutionPayouts allocates the escrowed total between the parties
// per the moderator's split. Each share is value*pct/100 in integer
// math; any remainder from truncation is left behind as extra fee.
// Parties with a zero percentage receive no output.
func ResolutionPayouts(total iwallet.Amount, res *models.Resolution, buyerAddr, vendorAddr, moderatorAddr iwallet.Address) ([]Payout, error) {
	if err := ValidateSplit(res); err != nil {
		return nil, err
	}

	hundred := iwallet.NewAmount(100)

	var payouts []Payout
	if res.ModeratorPct > 0 {
		payouts = append(payouts, Payout{
			Address: moderatorAddr,
			Amount:  total.Mul(iwallet.NewAmount(res.ModeratorPct)).Div(hundred),
		})
	}
	if res.BuyerPct > 0 {
		payouts = append(payouts, Payout{
			Address: buyerAddr,
			Amount:  total.Mul(iwallet.NewAmount(res.BuyerPct)).Div(hundred),
		})
	}
	if res.VendorPct > 0 {
		payouts = append(payouts, Payout{
			Address: vendorAddr,
			Amount:  total.Mul(iwallet.NewAmount(res.VendorPct)).Div(hundred),
		})
	}
	return payouts, nil
}
