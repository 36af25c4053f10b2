package wallet

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/cpacia/proxyclient"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/version"
)

// ReserveCurrency is the currency the rate APIs quote against. To
// price BCH in USD we take the USD price of one reserve coin and the
// BCH ratio to the reserve and divide through.
const ReserveCurrency = models.CurrencyCode("BTC")

// rateCacheDuration is how long fetched rates are served from cache.
const rateCacheDuration = time.Minute * 10

// ExchangeRateProvider returns the exchange rate from any listed
// cryptocurrency into any other listed currency. Rates are expressed
// in the target currency's base units per one coin of the base
// currency.
type ExchangeRateProvider struct {
	cache       map[models.CurrencyCode]map[models.CurrencyCode]iwallet.Amount
	lastQueried map[models.CurrencyCode]time.Time
	mtx         sync.Mutex
	providers   []provider
}

// NewExchangeRateProvider returns an ExchangeRateProvider backed by
// the given API sources. Requests honor any configured proxy. The
// sources are tried in order until one answers.
func NewExchangeRateProvider(sources []string) *ExchangeRateProvider {
	e := ExchangeRateProvider{
		cache:       make(map[models.CurrencyCode]map[models.CurrencyCode]iwallet.Amount),
		lastQueried: make(map[models.CurrencyCode]time.Time),
	}

	client := proxyclient.NewHttpClient()
	client.Timeout = time.Minute

	for _, src := range sources {
		e.providers = append(e.providers, &tickerAPI{src, client})
	}

	return &e
}

// GetRate returns the rate converting from base into to.
func (e *ExchangeRateProvider) GetRate(base models.CurrencyCode, to models.CurrencyCode, breakCache bool) (iwallet.Amount, error) {
	rates, err := e.GetAllRates(base, breakCache)
	if err != nil {
		return iwallet.NewAmount(0), err
	}
	amount, ok := rates[to.Normalized()]
	if !ok {
		return amount, errors.New("rate not found")
	}
	return amount, nil
}

// GetUSDRate returns the USD exchange rate for the given coin.
func (e *ExchangeRateProvider) GetUSDRate(coinType iwallet.CoinType) (iwallet.Amount, error) {
	return e.GetRate(models.CurrencyCode(coinType.CurrencyCode()), "USD", false)
}

// GetAllRates returns the rates from the base currency into every
// currency the API lists.
func (e *ExchangeRateProvider) GetAllRates(base models.CurrencyCode, breakCache bool) (map[models.CurrencyCode]iwallet.Amount, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	base = base.Normalized()
	lastQueried := e.lastQueried[base]

	rates, ok := e.cache[base]
	if breakCache || !ok || lastQueried.Add(rateCacheDuration).Before(time.Now()) {
		var err error
		rates, err = e.fetchRatesFromProviders(base)
		if err != nil {
			return nil, err
		}
		e.cache[base] = rates
		e.lastQueried[base] = time.Now()
	}
	return rates, nil
}

// fetchRatesFromProviders queries the sources serially until one
// returns a response.
func (e *ExchangeRateProvider) fetchRatesFromProviders(base models.CurrencyCode) (map[models.CurrencyCode]iwallet.Amount, error) {
	for _, provider := range e.providers {
		rates, err := provider.fetchRates(base)
		if err == nil {
			return rates, nil
		}
	}
	return nil, errors.New("all exchange rate providers failed")
}

// provider is an interface to a specific exchange rate API.
type provider interface {
	fetchRates(base models.CurrencyCode) (map[models.CurrencyCode]iwallet.Amount, error)
}

// tickerAPI speaks to any API following the openbazaar.org ticker
// format: a JSON object mapping currency codes to their price per one
// reserve coin.
type tickerAPI struct {
	url    string
	client *http.Client
}

type apiRate struct {
	Last float64 `json:"last"`
}

// fetchRates pulls the reserve-quoted rates and rebases them onto the
// requested base currency.
func (t *tickerAPI) fetchRates(base models.CurrencyCode) (map[models.CurrencyCode]iwallet.Amount, error) {
	rates := make(map[string]apiRate)

	req, err := http.NewRequest(http.MethodGet, t.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, err
	}

	return rebaseRates(rates, base)
}

// rebaseRates converts reserve-quoted rates into rates from the given
// base currency, scaled to each target's base units.
func rebaseRates(rates map[string]apiRate, base models.CurrencyCode) (map[models.CurrencyCode]iwallet.Amount, error) {
	baseRate, ok := rates[base.Normalized().String()]
	if !ok {
		return nil, errors.New("base currency not found in API rates")
	}
	baseFloat := big.NewFloat(baseRate.Last)
	if baseFloat.Sign() <= 0 {
		return nil, errors.New("api returned a non-positive rate for the base currency")
	}

	baseMap := make(map[models.CurrencyCode]iwallet.Amount)
	for cc, rate := range rates {
		code := models.CurrencyCode(cc).Normalized()
		div, ok := code.Divisibility()
		if !ok {
			continue
		}

		// rate.Last target units buy one reserve coin, so one base
		// coin buys rate.Last/baseRate.Last target units. Scale to
		// the target's base units.
		f := big.NewFloat(rate.Last)
		f.Quo(f, baseFloat)
		f.Mul(f, big.NewFloat(math.Pow10(int(div))))

		amt, _ := f.Int(nil)
		baseMap[code] = iwallet.NewAmount(amt)
	}

	return baseMap, nil
}

// mockRates is the fixed table NewMockExchangeRates serves from.
var mockRates = map[string]apiRate{
	"BTC": {Last: 1},
	"MCK": {Last: 256},
	"USD": {Last: 16384},
	"EUR": {Last: 8192},
	"JPY": {Last: 1048576},
}

// NewMockExchangeRates returns a provider pre-seeded with fixed rates
// so tests can price contracts without any network access.
func NewMockExchangeRates() (*ExchangeRateProvider, error) {
	e := &ExchangeRateProvider{
		cache:       make(map[models.CurrencyCode]map[models.CurrencyCode]iwallet.Amount),
		lastQueried: make(map[models.CurrencyCode]time.Time),
	}
	for base := range mockRates {
		code := models.CurrencyCode(base)
		rates, err := rebaseRates(mockRates, code)
		if err != nil {
			return nil, err
		}
		e.cache[code] = rates
		e.lastQueried[code] = time.Now().Add(time.Hour)
	}
	return e, nil
}
