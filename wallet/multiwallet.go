package wallet

import (
	"errors"
	"strings"

	iwallet "github.com/cpacia/wallet-interface"
)

// ErrUnsupportedCoin is returned when the multiwallet holds no
// implementation for the requested coin.
var ErrUnsupportedCoin = errors.New("multiwallet does not contain an implementation for the given coin")

// Multiwallet holds the wallet implementations for each coin the node
// can transact in, keyed by coin type.
type Multiwallet map[iwallet.CoinType]iwallet.Wallet

// Start opens every wallet in the multiwallet.
func (w *Multiwallet) Start() {
	for _, wallet := range *w {
		wallet.OpenWallet()
	}
}

// Close closes every wallet in the multiwallet.
func (w *Multiwallet) Close() {
	for _, wallet := range *w {
		wallet.CloseWallet()
	}
}

// WalletForCurrencyCode returns the wallet for the given currency code.
// A testnet prefix on either side is ignored, TBTC and BTC select the
// same wallet.
func (w *Multiwallet) WalletForCurrencyCode(currencyCode string) (iwallet.Wallet, error) {
	code := strings.TrimPrefix(strings.ToUpper(currencyCode), "T")
	for ct, wl := range *w {
		if strings.TrimPrefix(strings.ToUpper(ct.CurrencyCode()), "T") == code {
			return wl, nil
		}
	}
	return nil, ErrUnsupportedCoin
}
