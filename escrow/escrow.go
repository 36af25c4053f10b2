package escrow

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcec"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/models"
)

var log = logging.MustGetLogger("ESCR")

var (
	// ErrNoFunds is returned when building a release and the escrow
	// address holds no unspent outputs.
	ErrNoFunds = errors.New("payment address is empty")

	// ErrWalletDoesNotSupportEscrow is returned when the coin's wallet
	// implementation lacks the escrow extensions.
	ErrWalletDoesNotSupportEscrow = errors.New("wallet does not support escrow")

	// ErrUnknownPaymentMethod is returned when a contract carries a
	// payment method no authority is defined for.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")

	// ErrDustRelease is returned when every payout of a release falls
	// below the coin's dust threshold after fees.
	ErrDustRelease = errors.New("release has no outputs above the dust threshold")
)

// Payout is a single recipient of an escrow release, stated before the
// transaction fee is subtracted.
type Payout struct {
	Address iwallet.Address
	Amount  iwallet.Amount
}

// ReleaseAuthority builds, signs, and broadcasts spends from an
// order's escrow address. Each escrow construction has its own
// authority variant carrying the quorum rule for the construction.
type ReleaseAuthority interface {
	// Threshold is the number of signature sets a broadcastable
	// release needs.
	Threshold() int

	// BuildRelease assembles a spend of the order's unspent escrow
	// outputs to the given payouts. The escrow fee is subtracted from
	// each payout in proportion to its value and payouts that fall
	// below the dust threshold are dropped.
	BuildRelease(wal iwallet.Wallet, order *models.Order, payouts []Payout) (*models.EscrowRelease, error)

	// Sign produces this node's signature set over the release.
	Sign(wal iwallet.Wallet, order *models.Order, release *models.EscrowRelease, key *btcec.PrivateKey) ([]models.EscrowSignature, error)

	// Broadcast combines the signature sets into the final transaction
	// and stages it on a wallet transaction. The caller commits the
	// returned wallet transaction only after its own records update,
	// or rolls it back.
	Broadcast(wal iwallet.Wallet, order *models.Order, release *models.EscrowRelease, sigs [][]models.EscrowSignature) (iwallet.Tx, iwallet.TransactionID, error)
}

// NewReleaseAuthority returns the authority variant for the contract's
// payment method.
func NewReleaseAuthority(contract *models.Contract) (ReleaseAuthority, error) {
	switch contract.PaymentMethod {
	case models.PaymentDirect:
		return &directAuthority{authority{threshold: 2}}, nil
	case models.PaymentCancelable:
		return &cancelableAuthority{authority{threshold: 1}}, nil
	case models.PaymentModerated:
		return &moderatedAuthority{authority{threshold: 2}}, nil
	default:
		return nil, ErrUnknownPaymentMethod
	}
}

// NewTimeoutReleaseAuthority returns the authority for a unilateral
// release through the time-locked script path. The wallet accepts the
// vendor's signature alone once the escrow timeout has passed; whether
// the timeout has passed is the timeout scheduler's call, not this
// package's.
func NewTimeoutReleaseAuthority() ReleaseAuthority {
	return &timeoutAuthority{authority{threshold: 1}}
}

// directAuthority releases a 2-of-2 escrow. Both buyer and vendor
// must sign, so funds only move cooperatively.
type directAuthority struct {
	authority
}

// cancelableAuthority releases a 1-of-2 escrow. Either party alone
// can move the funds, which is what lets a buyer cancel an order the
// vendor never processed.
type cancelableAuthority struct {
	authority
}

// timeoutAuthority releases through the time-locked script path with
// the vendor's signature alone.
type timeoutAuthority struct {
	authority
}

// moderatedAuthority releases a 2-of-3 escrow between buyer, vendor,
// and moderator.
type moderatedAuthority struct {
	authority
}

// authority holds the release mechanics shared by every variant.
type authority struct {
	threshold int
}

func (a *authority) Threshold() int {
	return a.threshold
}

func (a *authority) BuildRelease(wal iwallet.Wallet, order *models.Order, payouts []Payout) (*models.EscrowRelease, error) {
	escrowWallet, ok := wal.(iwallet.Escrow)
	if !ok {
		return nil, ErrWalletDoesNotSupportEscrow
	}

	inputs, _, err := unspentOutputs(order)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, ErrNoFunds
	}

	fee, err := escrowWallet.EstimateEscrowFee(a.threshold, iwallet.FlNormal)
	if err != nil {
		return nil, err
	}
	// The estimate covers one input. Add 50% of it for each
	// additional input.
	fee = fee.Add(fee.Div(iwallet.NewAmount(2)).Mul(iwallet.NewAmount(len(inputs) - 1)))

	totalPayout := iwallet.NewAmount(0)
	for _, p := range payouts {
		totalPayout = totalPayout.Add(p.Amount)
	}
	if totalPayout.Cmp(iwallet.NewAmount(0)) <= 0 {
		return nil, errors.New("release pays out nothing")
	}

	release := &models.EscrowRelease{Fee: fee.String()}
	for _, p := range payouts {
		feeShare := fee.Mul(p.Amount).Div(totalPayout)
		amt := p.Amount.Sub(feeShare)
		if wal.IsDust(amt) {
			log.Infof("Dropping dust output of %s to %s from escrow release for order %s", amt, p.Address, order.ID)
			continue
		}
		release.Outputs = append(release.Outputs, models.ReleaseOutput{
			Address: p.Address.String(),
			Amount:  amt.String(),
		})
	}
	if len(release.Outputs) == 0 {
		return nil, ErrDustRelease
	}

	for _, in := range inputs {
		release.FromIDs = append(release.FromIDs, in.ID)
	}
	return release, nil
}

func (a *authority) Sign(wal iwallet.Wallet, order *models.Order, release *models.EscrowRelease, key *btcec.PrivateKey) ([]models.EscrowSignature, error) {
	escrowWallet, ok := wal.(iwallet.Escrow)
	if !ok {
		return nil, ErrWalletDoesNotSupportEscrow
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, err
	}

	txn, err := releaseTxn(order, release)
	if err != nil {
		return nil, err
	}

	sigs, err := escrowWallet.SignMultisigTransaction(txn, *key, contract.RedeemScript)
	if err != nil {
		return nil, err
	}

	out := make([]models.EscrowSignature, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, models.EscrowSignature{
			Index:     sig.Index,
			Signature: sig.Signature,
		})
	}
	return out, nil
}

func (a *authority) Broadcast(wal iwallet.Wallet, order *models.Order, release *models.EscrowRelease, sigs [][]models.EscrowSignature) (iwallet.Tx, iwallet.TransactionID, error) {
	escrowWallet, ok := wal.(iwallet.Escrow)
	if !ok {
		return nil, "", ErrWalletDoesNotSupportEscrow
	}

	contract, err := order.Contract()
	if err != nil {
		return nil, "", err
	}

	txn, err := releaseTxn(order, release)
	if err != nil {
		return nil, "", err
	}

	sigSets := make([][]iwallet.EscrowSignature, 0, len(sigs))
	for _, set := range sigs {
		converted := make([]iwallet.EscrowSignature, 0, len(set))
		for _, sig := range set {
			converted = append(converted, iwallet.EscrowSignature{
				Index:     sig.Index,
				Signature: sig.Signature,
			})
		}
		sigSets = append(sigSets, converted)
	}

	wTx, err := wal.Begin()
	if err != nil {
		return nil, "", err
	}
	txid, err := escrowWallet.BuildAndSend(wTx, txn, sigSets, contract.RedeemScript)
	if err != nil {
		wTx.Rollback()
		return nil, "", err
	}
	return wTx, txid, nil
}

// releaseTxn reconstructs the wallet transaction a release describes,
// looking the inputs back up in the order's transaction record.
func releaseTxn(order *models.Order, release *models.EscrowRelease) (iwallet.Transaction, error) {
	var txn iwallet.Transaction

	inputs, _, err := unspentOutputs(order)
	if err != nil {
		return txn, err
	}

	for _, fromID := range release.FromIDs {
		found := false
		for _, in := range inputs {
			if bytes.Equal(in.ID, fromID) {
				txn.From = append(txn.From, in)
				found = true
				break
			}
		}
		if !found {
			return txn, errors.New("release spends an output the order does not hold")
		}
	}

	contract, err := order.Contract()
	if err != nil {
		return txn, err
	}

	for _, out := range release.Outputs {
		txn.To = append(txn.To, iwallet.SpendInfo{
			Address: iwallet.NewAddress(out.Address, iwallet.CoinType(contract.Currency.String())),
			Amount:  iwallet.NewAmount(out.Amount),
		})
	}
	return txn, nil
}

// Escrowed returns the total value sitting unspent in the order's
// escrow address.
func Escrowed(order *models.Order) (iwallet.Amount, error) {
	_, total, err := unspentOutputs(order)
	if err != nil {
		return iwallet.NewAmount(0), err
	}
	return total, nil
}

// unspentOutputs returns the outputs paying the order's escrow
// address that no recorded transaction has spent, along with their
// total value.
func unspentOutputs(order *models.Order) ([]iwallet.SpendInfo, iwallet.Amount, error) {
	contract, err := order.Contract()
	if err != nil {
		return nil, iwallet.NewAmount(0), err
	}

	txs, err := order.GetTransactions()
	if err != nil && !models.IsMessageNotExistError(err) {
		return nil, iwallet.NewAmount(0), err
	}

	spent := make(map[string]bool)
	for _, tx := range txs {
		for _, from := range tx.From {
			spent[string(from.ID)] = true
		}
	}

	var (
		inputs []iwallet.SpendInfo
		total  = iwallet.NewAmount(0)
	)
	for _, tx := range txs {
		for _, to := range tx.To {
			if !spent[string(to.ID)] && to.Address.String() == contract.EscrowAddress {
				inputs = append(inputs, to)
				total = total.Add(to.Amount)
			}
		}
	}
	return inputs, total, nil
}
