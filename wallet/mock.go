package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec"
	hd "github.com/btcsuite/btcutil/hdkeychain"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/events"
)

// MockWalletNetwork wires a number of mock wallets together through
// channels so a transaction broadcast by one is seen by all of them.
// It stands in for a real coin network in tests.
type MockWalletNetwork struct {
	wallets []*MockWallet

	outgoing chan iwallet.Transaction
	shutdown chan struct{}

	height uint64
}

// NewMockWalletNetwork builds a network of numWallets connected mock wallets.
func NewMockWalletNetwork(numWallets int) *MockWalletNetwork {
	var wallets []*MockWallet
	outgoing := make(chan iwallet.Transaction)
	for i := 0; i < numWallets; i++ {
		w := NewMockWallet()
		w.outgoing = outgoing
		wallets = append(wallets, w)
	}

	return &MockWalletNetwork{
		wallets:  wallets,
		outgoing: outgoing,
		shutdown: make(chan struct{}),
	}
}

// Start starts every wallet in the network and begins relaying
// broadcast transactions. Call before sending any transactions.
func (n *MockWalletNetwork) Start() {
	for _, w := range n.wallets {
		w.Start()
	}
	go func() {
		for {
			select {
			case txn := <-n.outgoing:
				for _, w := range n.wallets {
					w.incoming <- txn
				}
			case <-n.shutdown:
				return
			}
		}
	}()
}

// Wallets returns the wallets in this network.
func (n *MockWalletNetwork) Wallets() []*MockWallet {
	return n.wallets
}

// GenerateBlock manufactures a new block and delivers it to every
// wallet. Unconfirmed transactions pick up the new height.
func (n *MockWalletNetwork) GenerateBlock() {
	h := make([]byte, 32)
	rand.Read(h)

	n.height++

	for _, wallet := range n.wallets {
		wallet.block <- iwallet.BlockInfo{
			Height:    n.height,
			BlockID:   iwallet.BlockID(hex.EncodeToString(h)),
		}
	}
}

// GenerateToAddress mints coins out of thin air and pays them to addr.
func (n *MockWalletNetwork) GenerateToAddress(addr iwallet.Address, amount iwallet.Amount) error {
	txidBytes := make([]byte, 32)
	rand.Read(txidBytes)

	prevOutBytes := make([]byte, 36)
	rand.Read(prevOutBytes)

	prevAddrBytes := make([]byte, 32)
	rand.Read(prevAddrBytes)

	txn := iwallet.Transaction{
		ID: iwallet.TransactionID(hex.EncodeToString(txidBytes)),
		From: []iwallet.SpendInfo{
			{
				ID:      prevOutBytes,
				Amount:  amount,
				Address: iwallet.NewAddress(hex.EncodeToString(prevAddrBytes), iwallet.CoinType("TMCK")),
			},
		},
		To: []iwallet.SpendInfo{
			{
				Address: addr,
				Amount:  amount,
				ID:      append(txidBytes, []byte{0x00, 0x00, 0x00, 0x00}...),
			},
		},
	}

	for _, w := range n.wallets {
		w.incoming <- txn
	}
	return nil
}

// MockWallet is an in-memory wallet satisfying the wallet interface,
// including the escrow extensions. Hook it up to a MockWalletNetwork
// to move coins between nodes in tests.
type MockWallet struct {
	mtx sync.RWMutex

	addrs        map[iwallet.Address]bool
	watchedAddrs map[iwallet.Address]struct{}
	transactions map[iwallet.TransactionID]iwallet.Transaction

	utxos map[string]mockUtxo

	blockchainInfo iwallet.BlockInfo

	outgoing chan iwallet.Transaction
	incoming chan iwallet.Transaction
	block    chan iwallet.BlockInfo

	txSubs    []chan iwallet.Transaction
	blockSubs []chan iwallet.BlockInfo

	bus events.Bus

	addrResponse *iwallet.Address

	done chan struct{}
}

// NewMockWallet returns a mock wallet seeded with a handful of
// unused addresses.
func NewMockWallet() *MockWallet {
	mw := &MockWallet{
		addrs:        make(map[iwallet.Address]bool),
		watchedAddrs: make(map[iwallet.Address]struct{}),
		transactions: make(map[iwallet.TransactionID]iwallet.Transaction),
		utxos:        make(map[string]mockUtxo),
		incoming:     make(chan iwallet.Transaction),
		block:        make(chan iwallet.BlockInfo),
		done:         make(chan struct{}),
	}

	for i := 0; i < 10; i++ {
		b := make([]byte, 20)
		rand.Read(b)
		addr := iwallet.NewAddress(hex.EncodeToString(b), iwallet.CoinType("TMCK"))
		mw.addrs[addr] = false
	}

	return mw
}

// mockUtxo is used for internal accounting.
type mockUtxo struct {
	outpoint []byte
	address  iwallet.Address
	value    iwallet.Amount
	height   uint64
}

// dbTx satisfies the iwallet.Tx interface.
type dbTx struct {
	isClosed bool

	onCommit func() error
}

// Commit applies any state changes staged in the transaction.
func (tx *dbTx) Commit() error {
	if tx.isClosed {
		panic("tx is closed")
	}
	if tx.onCommit != nil {
		if err := tx.onCommit(); err != nil {
			tx.Rollback()
			return err
		}
	}
	tx.isClosed = true
	return nil
}

// Rollback discards the staged state changes.
func (tx *dbTx) Rollback() error {
	if tx.isClosed {
		panic("tx is closed")
	}
	tx.onCommit = nil
	tx.isClosed = true
	return nil
}

// SetEventBus attaches an event bus to the wallet so tests can
// observe incoming transactions and blocks the same way the node does.
func (w *MockWallet) SetEventBus(bus events.Bus) {
	w.bus = bus
}

// Start launches the wallet's main loop. Incoming transactions are
// tagged relevant or watched, recorded, and pushed to subscribers.
func (w *MockWallet) Start() {
	go func() {
		for {
			select {
			case txn := <-w.incoming:
				w.mtx.Lock()
				txidBytes, err := hex.DecodeString(string(txn.ID))
				if err != nil {
					w.mtx.Unlock()
					return
				}
				var (
					relevant bool
					watched  bool
				)
				for i, out := range txn.To {
					if _, ok := w.addrs[out.Address]; ok {
						idx := make([]byte, 4)
						binary.BigEndian.PutUint32(idx, uint32(i))
						outpoint := hex.EncodeToString(append(txidBytes, idx...))
						if _, ok := w.utxos[outpoint]; !ok {
							w.utxos[outpoint] = mockUtxo{
								outpoint: append(txidBytes, idx...),
								address:  out.Address,
								value:    out.Amount,
							}
						}
						txn.To[i].IsRelevant = true
						w.addrs[out.Address] = true
						relevant = true
					}
					if _, ok := w.watchedAddrs[out.Address]; ok {
						watched = true
						txn.To[i].IsWatched = true
					}
				}
				for i, in := range txn.From {
					if _, ok := w.addrs[in.Address]; ok {
						delete(w.utxos, hex.EncodeToString(in.ID))
						relevant = true
						txn.From[i].IsRelevant = true
					}
					if _, ok := w.watchedAddrs[in.Address]; ok {
						watched = true
						txn.From[i].IsWatched = true
					}
				}
				if relevant || watched {
					w.transactions[txn.ID] = txn
					if w.bus != nil {
						w.bus.Emit(&events.TransactionReceived{Transaction: txn})
					}
					for _, sub := range w.txSubs {
						sub <- txn
					}
				}
				w.mtx.Unlock()
			case blockInfo := <-w.block:
				w.mtx.Lock()
				w.blockchainInfo = blockInfo
				for txid, txn := range w.transactions {
					if txn.Height == 0 {
						txn.Height = blockInfo.Height
						w.transactions[txid] = txn
					}
				}
				for op, utxo := range w.utxos {
					if utxo.height == 0 {
						utxo.height = blockInfo.Height
						w.utxos[op] = utxo
					}
				}
				if w.bus != nil {
					w.bus.Emit(&events.BlockReceived{CurrencyCode: "TMCK", BlockInfo: blockInfo})
				}
				w.mtx.Unlock()
			case <-w.done:
				return
			}
		}
	}()
}

// WalletExists returns whether the wallet has been initialized.
func (w *MockWallet) WalletExists() bool {
	return true
}

// CreateWallet initializes the wallet. The mock ignores the key
// material since it fakes signatures anyway.
func (w *MockWallet) CreateWallet(xpriv hd.ExtendedKey, pw []byte, birthday time.Time) error {
	return nil
}

// OpenWallet is called on each node start.
func (w *MockWallet) OpenWallet() error {
	return nil
}

// CloseWallet shuts down the wallet's main loop.
func (w *MockWallet) CloseWallet() error {
	close(w.done)
	return nil
}

// Begin returns a new wallet transaction. A transaction must only be
// used once; after Commit() or Rollback() it can be discarded.
func (w *MockWallet) Begin() (iwallet.Tx, error) {
	return &dbTx{}, nil
}

// BlockchainInfo returns the best hash and height of the chain.
func (w *MockWallet) BlockchainInfo() (iwallet.BlockInfo, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	return w.blockchainInfo, nil
}

// SetAddressResponse sets a canned response for CurrentAddress.
func (w *MockWallet) SetAddressResponse(addr iwallet.Address) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.addrResponse = &addr
}

// CurrentAddress returns the first unused receiving address.
func (w *MockWallet) CurrentAddress() (iwallet.Address, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.addrResponse != nil {
		return *w.addrResponse, nil
	}

	for addr, used := range w.addrs {
		if !used {
			return addr, nil
		}
	}
	return w.newAddress(), nil
}

// NewAddress returns a fresh, never before used address.
func (w *MockWallet) NewAddress() (iwallet.Address, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.newAddress(), nil
}

func (w *MockWallet) newAddress() iwallet.Address {
	b := make([]byte, 20)
	rand.Read(b)
	addr := iwallet.NewAddress(hex.EncodeToString(b), iwallet.CoinType("TMCK"))
	w.addrs[addr] = false
	return addr
}

// Balance returns the confirmed and unconfirmed balance of the wallet.
func (w *MockWallet) Balance() (iwallet.Amount, iwallet.Amount, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	confirmed, unconfirmed := iwallet.NewAmount(0), iwallet.NewAmount(0)
	for _, utxo := range w.utxos {
		if utxo.height > 0 {
			confirmed = confirmed.Add(utxo.value)
		} else {
			unconfirmed = unconfirmed.Add(utxo.value)
		}
	}
	return confirmed, unconfirmed, nil
}

// IsDust returns whether the amount is considered dust by the network.
// Payouts below this threshold are skipped when splitting escrow.
func (w *MockWallet) IsDust(amount iwallet.Amount) bool {
	return amount.Cmp(iwallet.NewAmount(500)) < 0
}

// Transactions returns this wallet's transactions.
func (w *MockWallet) Transactions() ([]iwallet.Transaction, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	txns := make([]iwallet.Transaction, 0, len(w.transactions))
	for _, txn := range w.transactions {
		txns = append(txns, txn)
	}
	return txns, nil
}

// GetTransaction returns a transaction given its ID.
func (w *MockWallet) GetTransaction(id iwallet.TransactionID) (iwallet.Transaction, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	txn, ok := w.transactions[id]
	if !ok {
		return txn, errors.New("not found")
	}
	return txn, nil
}

func feeForLevel(feeLevel iwallet.FeeLevel) iwallet.Amount {
	switch feeLevel {
	case iwallet.FlEconomic:
		return iwallet.NewAmount(250)
	case iwallet.FlPriority:
		return iwallet.NewAmount(750)
	default:
		return iwallet.NewAmount(500)
	}
}

// EstimateSpendFee returns the anticipated fee to spend the given
// amount at the given fee level.
func (w *MockWallet) EstimateSpendFee(amount iwallet.Amount, feeLevel iwallet.FeeLevel) (iwallet.Amount, error) {
	return feeForLevel(feeLevel), nil
}

// Spend sends the requested amount to the requested address. The state
// changes are staged on the wallet transaction and only applied, and the
// transaction broadcast, when the caller commits.
func (w *MockWallet) Spend(tx iwallet.Tx, to iwallet.Address, amt iwallet.Amount, feeLevel iwallet.FeeLevel) (iwallet.TransactionID, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	fee := feeForLevel(feeLevel)

	// Keep adding utxos until the total in value covers amt + fee.
	totalWithFee := amt.Add(fee)
	var (
		totalUtxo iwallet.Amount
		utxos     []mockUtxo
	)
	for _, utxo := range w.utxos {
		utxos = append(utxos, utxo)
		totalUtxo = totalUtxo.Add(utxo.value)

		if totalUtxo.Cmp(totalWithFee) >= 0 {
			break
		}
	}
	if totalUtxo.Cmp(totalWithFee) < 0 {
		return iwallet.TransactionID(""), errors.New("insufficient funds")
	}

	txidBytes := make([]byte, 32)
	rand.Read(txidBytes)

	txn := iwallet.Transaction{
		ID: iwallet.TransactionID(hex.EncodeToString(txidBytes)),
		To: []iwallet.SpendInfo{
			{
				Address:    to,
				Amount:     amt,
				IsRelevant: false,
				ID:         append(txidBytes, []byte{0x00, 0x00, 0x00, 0x00}...),
			},
		},
	}

	// Maybe add change.
	var changeUtxo *mockUtxo
	if totalUtxo.Cmp(totalWithFee) > 0 {
		change := iwallet.SpendInfo{
			Address:    w.newAddress(),
			Amount:     totalUtxo.Sub(amt.Add(fee)),
			IsRelevant: true,
			ID:         append(txidBytes, []byte{0x00, 0x00, 0x00, 0x01}...),
		}
		txn.To = append(txn.To, change)

		changeUtxo = &mockUtxo{
			outpoint: change.ID,
			address:  change.Address,
			value:    change.Amount,
			height:   0,
		}
	}

	var utxosToDelete []string
	for _, utxo := range utxos {
		in := iwallet.SpendInfo{
			ID:         utxo.outpoint,
			Address:    utxo.address,
			Amount:     utxo.value,
			IsRelevant: true,
		}
		txn.From = append(txn.From, in)
		utxosToDelete = append(utxosToDelete, hex.EncodeToString(utxo.outpoint))
	}

	dbtx := tx.(*dbTx)
	dbtx.onCommit = func() error {
		w.mtx.Lock()
		w.transactions[txn.ID] = txn
		for _, utxo := range utxosToDelete {
			delete(w.utxos, utxo)
		}
		if changeUtxo != nil {
			w.utxos[hex.EncodeToString(changeUtxo.outpoint)] = *changeUtxo
			w.addrs[changeUtxo.address] = true
		}
		if w.outgoing != nil {
			w.outgoing <- txn
		}
		for _, sub := range w.txSubs {
			sub <- txn
		}
		w.mtx.Unlock()
		return nil
	}

	return txn.ID, nil
}

// SweepWallet sends the full wallet balance, less the fee, to the
// requested address.
func (w *MockWallet) SweepWallet(tx iwallet.Tx, to iwallet.Address, feeLevel iwallet.FeeLevel) (iwallet.TransactionID, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	fee := feeForLevel(feeLevel)

	var (
		totalUtxo iwallet.Amount
		utxos     []mockUtxo
	)
	for _, utxo := range w.utxos {
		utxos = append(utxos, utxo)
		totalUtxo = totalUtxo.Add(utxo.value)
	}

	txidBytes := make([]byte, 32)
	rand.Read(txidBytes)

	txn := iwallet.Transaction{
		ID: iwallet.TransactionID(hex.EncodeToString(txidBytes)),
		To: []iwallet.SpendInfo{
			{
				Address:    to,
				Amount:     totalUtxo.Sub(fee),
				IsRelevant: false,
				ID:         append(txidBytes, []byte{0x00, 0x00, 0x00, 0x00}...),
			},
		},
	}

	var utxosToDelete []string
	for _, utxo := range utxos {
		in := iwallet.SpendInfo{
			ID:         utxo.outpoint,
			Address:    utxo.address,
			Amount:     utxo.value,
			IsRelevant: true,
		}
		txn.From = append(txn.From, in)
		utxosToDelete = append(utxosToDelete, hex.EncodeToString(utxo.outpoint))
	}

	dbtx := tx.(*dbTx)
	dbtx.onCommit = func() error {
		w.mtx.Lock()
		w.transactions[txn.ID] = txn
		for _, utxo := range utxosToDelete {
			delete(w.utxos, utxo)
		}
		if w.outgoing != nil {
			w.outgoing <- txn
		}
		for _, sub := range w.txSubs {
			sub <- txn
		}
		w.mtx.Unlock()
		return nil
	}

	return txn.ID, nil
}

// SubscribeTransactions returns a chan over which the wallet pushes
// transactions relevant to this wallet or touching a watched address.
func (w *MockWallet) SubscribeTransactions() chan<- iwallet.Transaction {
	ch := make(chan iwallet.Transaction)
	w.txSubs = append(w.txSubs, ch)
	return ch
}

// SubscribeBlocks returns a chan over which the wallet pushes info
// about new blocks.
func (w *MockWallet) SubscribeBlocks() chan<- iwallet.BlockInfo {
	ch := make(chan iwallet.BlockInfo)
	w.blockSubs = append(w.blockSubs, ch)
	return ch
}

// WatchAddress tells the wallet to listen for payments into and spends
// from the given escrow address.
func (w *MockWallet) WatchAddress(tx iwallet.Tx, addr iwallet.Address) error {
	dbtx := tx.(*dbTx)
	dbtx.onCommit = func() error {
		w.mtx.Lock()
		defer w.mtx.Unlock()

		w.watchedAddrs[addr] = struct{}{}
		return nil
	}
	return nil
}

// EstimateEscrowFee estimates the fee to release funds from escrow.
// It assumes one input; callers add a portion of the fee per
// additional input.
func (w *MockWallet) EstimateEscrowFee(threshold int, feeLevel iwallet.FeeLevel) (iwallet.Amount, error) {
	var feePerSig iwallet.Amount
	switch feeLevel {
	case iwallet.FlEconomic:
		feePerSig = iwallet.NewAmount(100)
	case iwallet.FlPriority:
		feePerSig = iwallet.NewAmount(300)
	default:
		feePerSig = iwallet.NewAmount(200)
	}
	fee := feeForLevel(feeLevel)
	for i := 0; i < threshold; i++ {
		fee = fee.Add(feePerSig)
	}
	return fee, nil
}

// CreateMultisigAddress creates a deterministic threshold multisig
// address from the provided pubkeys. Both parties pass in the same set
// of keys and must arrive at the same address and redeem script,
// otherwise the vendor will reject the order.
func (w *MockWallet) CreateMultisigAddress(keys []btcec.PublicKey, threshold int) (iwallet.Address, []byte, error) {
	var redeemScript []byte
	for _, key := range keys {
		redeemScript = append(redeemScript, key.SerializeCompressed()...)
	}
	t := make([]byte, 4)
	binary.BigEndian.PutUint32(t, uint32(threshold))
	redeemScript = append(redeemScript, t...)

	h := sha256.Sum256(redeemScript)
	addr := iwallet.NewAddress(hex.EncodeToString(h[:]), iwallet.CoinType("TMCK"))
	return addr, redeemScript, nil
}

// CreateMultisigWithTimeout is the same as CreateMultisigAddress but the
// address has a second release path: after the timeout has passed a
// signature from timeoutKey alone can move the funds.
func (w *MockWallet) CreateMultisigWithTimeout(keys []btcec.PublicKey, threshold int, timeout time.Duration, timeoutKey btcec.PublicKey) (iwallet.Address, []byte, error) {
	var redeemScript []byte
	for _, key := range keys {
		redeemScript = append(redeemScript, key.SerializeCompressed()...)
	}
	t := make([]byte, 4)
	binary.BigEndian.PutUint32(t, uint32(threshold))
	redeemScript = append(redeemScript, t...)
	redeemScript = append(redeemScript, timeoutKey.SerializeCompressed()...)

	h := sha256.Sum256(redeemScript)
	addr := iwallet.NewAddress(hex.EncodeToString(h[:]), iwallet.CoinType("TMCK"))
	return addr, redeemScript, nil
}

// SignMultisigTransaction creates a signature for each input of the
// multisig transaction using the provided key. The mock returns random
// bytes since nothing validates them.
func (w *MockWallet) SignMultisigTransaction(txn iwallet.Transaction, key *btcec.PrivateKey, redeemScript []byte) ([]iwallet.EscrowSignature, error) {
	var sigs []iwallet.EscrowSignature
	for i := range txn.From {
		sigBytes := make([]byte, 64)
		rand.Read(sigBytes)

		sigs = append(sigs, iwallet.EscrowSignature{
			Index:     i,
			Signature: sigBytes,
		})
	}
	return sigs, nil
}

// BuildAndSend assembles the escrow release transaction from the
// collected signatures and broadcasts it when the caller commits.
func (w *MockWallet) BuildAndSend(tx iwallet.Tx, txn iwallet.Transaction, signatures [][]iwallet.EscrowSignature, redeemScript []byte) (iwallet.TransactionID, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	dbtx := tx.(*dbTx)

	txidBytes := make([]byte, 32)
	rand.Read(txidBytes)
	txn.ID = iwallet.TransactionID(hex.EncodeToString(txidBytes))

	var utxosToAdd []mockUtxo
	for i, out := range txn.To {
		if _, ok := w.addrs[out.Address]; ok {
			idx := make([]byte, 4)
			binary.BigEndian.PutUint32(idx, uint32(i))
			utxosToAdd = append(utxosToAdd, mockUtxo{
				address:  out.Address,
				value:    out.Amount,
				outpoint: append(txidBytes, idx...),
			})
		}
	}

	dbtx.onCommit = func() error {
		w.mtx.Lock()
		defer w.mtx.Unlock()

		for _, utxo := range utxosToAdd {
			w.utxos[hex.EncodeToString(utxo.outpoint)] = utxo
			w.addrs[utxo.address] = true
		}

		w.transactions[txn.ID] = txn

		if w.outgoing != nil {
			w.outgoing <- txn
		}

		for _, sub := range w.txSubs {
			sub <- txn
		}
		return nil
	}

	return txn.ID, nil
}
