package wallet

import (
	"sort"
	"sync"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/events"
)

var log = logging.MustGetLogger("WALT")

// DefaultPollInterval is how often the payment monitor re-scans the
// wallet backends for payments the push subscription may have missed.
const DefaultPollInterval = time.Minute

// FundingStatus is the monitor's verdict on an escrow destination.
type FundingStatus int

const (
	// FundingStatusUnknown means the wallet backend could not be
	// queried. It is distinct from unfunded so a flaky backend never
	// reads as a missing payment.
	FundingStatusUnknown FundingStatus = iota

	// FundingStatusUnfunded means the address has received less than
	// the requested amount.
	FundingStatusUnfunded

	// FundingStatusFunded means payments into the address total at
	// least the requested amount.
	FundingStatusFunded
)

// AddressPayments is a snapshot of the payments into and out of a
// single escrow destination.
type AddressPayments struct {
	Status        FundingStatus
	Transactions  []iwallet.Transaction
	IncomingTotal iwallet.Amount
}

// WatchedAddress is an escrow destination the monitor polls, along
// with the amount that counts as fully funded.
type WatchedAddress struct {
	OrderID  string
	Currency string
	Address  iwallet.Address
	Target   iwallet.Amount
}

// PaymentMonitor tracks escrow destinations across the multiwallet.
// Wallet implementations push transactions as they see them; the
// monitor adds a polling pass on top so a payment that arrived while
// the node was down, or that the backend dropped, is still picked up
// and replayed on the bus.
type PaymentMonitor struct {
	mw    *Multiwallet
	bus   events.Bus
	fetch func() ([]WatchedAddress, error)

	interval time.Duration
	seen     map[string]map[iwallet.TransactionID]struct{}
	mtx      sync.Mutex
	done     chan struct{}
}

// NewPaymentMonitor returns a payment monitor polling the addresses
// returned by fetch. Newly discovered transactions are emitted on the
// bus as events.TransactionReceived, the same event the wallets push.
func NewPaymentMonitor(mw *Multiwallet, bus events.Bus, fetch func() ([]WatchedAddress, error)) *PaymentMonitor {
	return &PaymentMonitor{
		mw:       mw,
		bus:      bus,
		fetch:    fetch,
		interval: DefaultPollInterval,
		seen:     make(map[string]map[iwallet.TransactionID]struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the polling loop.
func (m *PaymentMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkForPayments()
			case <-m.done:
				return
			}
		}
	}()
}

// Stop shuts down the polling loop.
func (m *PaymentMonitor) Stop() {
	close(m.done)
}

// CheckAddress returns the payments touching addr in the given
// currency's wallet. If the backend cannot be reached the status is
// FundingStatusUnknown and the error is returned; the caller must not
// treat that as an unfunded address.
func (m *PaymentMonitor) CheckAddress(currencyCode string, addr iwallet.Address, target iwallet.Amount) (AddressPayments, error) {
	wal, err := m.mw.WalletForCurrencyCode(currencyCode)
	if err != nil {
		return AddressPayments{Status: FundingStatusUnknown}, err
	}

	txns, err := wal.Transactions()
	if err != nil {
		return AddressPayments{Status: FundingStatusUnknown}, err
	}

	var relevant []iwallet.Transaction
	incoming := iwallet.NewAmount(0)
	for _, txn := range txns {
		touches := false
		for _, out := range txn.To {
			if out.Address.String() == addr.String() {
				touches = true
				incoming = incoming.Add(out.Amount)
			}
		}
		for _, in := range txn.From {
			if in.Address.String() == addr.String() {
				touches = true
			}
		}
		if touches {
			relevant = append(relevant, txn)
		}
	}

	// Confirmed transactions first, oldest block first. Unconfirmed
	// transactions sort last. Ties break on ID so the ordering is
	// stable across calls.
	sort.Slice(relevant, func(i, j int) bool {
		hi, hj := relevant[i].Height, relevant[j].Height
		if hi == 0 {
			hi = ^uint64(0)
		}
		if hj == 0 {
			hj = ^uint64(0)
		}
		if hi != hj {
			return hi < hj
		}
		return relevant[i].ID < relevant[j].ID
	})

	status := FundingStatusUnfunded
	if incoming.Cmp(target) >= 0 {
		status = FundingStatusFunded
	}

	return AddressPayments{
		Status:        status,
		Transactions:  relevant,
		IncomingTotal: incoming,
	}, nil
}

// WatchAddress registers the escrow address with the wallet backend so
// payments into and spends from it are pushed back to the node.
func (m *PaymentMonitor) WatchAddress(currencyCode string, addr iwallet.Address) error {
	wal, err := m.mw.WalletForCurrencyCode(currencyCode)
	if err != nil {
		return err
	}
	escrowWallet, ok := wal.(iwallet.Escrow)
	if !ok {
		return ErrUnsupportedCoin
	}
	wtx, err := wal.Begin()
	if err != nil {
		return err
	}
	if err := escrowWallet.WatchAddress(wtx, addr); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

func (m *PaymentMonitor) checkForPayments() {
	watched, err := m.fetch()
	if err != nil {
		log.Errorf("Payment monitor failed to load watched addresses: %s", err)
		return
	}

	for _, wa := range watched {
		payments, err := m.CheckAddress(wa.Currency, wa.Address, wa.Target)
		if err != nil {
			log.Warningf("Payment check for order %s returned no answer: %s", wa.OrderID, err)
			continue
		}

		m.mtx.Lock()
		seen, ok := m.seen[wa.OrderID]
		if !ok {
			seen = make(map[iwallet.TransactionID]struct{})
			m.seen[wa.OrderID] = seen
		}
		var fresh []iwallet.Transaction
		for _, txn := range payments.Transactions {
			if _, ok := seen[txn.ID]; !ok {
				seen[txn.ID] = struct{}{}
				fresh = append(fresh, txn)
			}
		}
		m.mtx.Unlock()

		for _, txn := range fresh {
			log.Infof("Found transaction %s for order %s while polling", txn.ID, wa.OrderID)
			m.bus.Emit(&events.TransactionReceived{Transaction: txn})
		}
	}
}
