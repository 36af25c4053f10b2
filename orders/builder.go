package orders

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcec"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders/utils"
)

// CreateOrder builds a contract from the purchase request, records the
// order locally, and sends the ORDER_OPEN message to the vendor. It
// returns the order ID, the escrow address the buyer must fund, and
// the total owed in the settlement currency.
func (op *OrderProcessor) CreateOrder(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error) {
	contract, err := op.buildContract(purchase)
	if err != nil {
		return "", iwallet.Address{}, iwallet.NewAmount(0), err
	}

	orderID, err := utils.CalcOrderID(contract)
	if err != nil {
		return "", iwallet.Address{}, iwallet.NewAmount(0), err
	}

	message, err := signedOrderMessage(orderID, models.TypeOrderOpen, contract, op.identityKey)
	if err != nil {
		return "", iwallet.Address{}, iwallet.NewAmount(0), err
	}

	err = op.db.Update(func(tx database.Tx) error {
		if _, err := op.ProcessMessage(tx, op.identity, message); err != nil {
			return err
		}
		return op.messenger.ReliablySendMessage(tx, contract.Listing.VendorID, message, done)
	})
	if err != nil {
		return "", iwallet.Address{}, iwallet.NewAmount(0), err
	}

	address := iwallet.NewAddress(contract.EscrowAddress, iwallet.CoinType(contract.Currency.String()))
	return orderID, address, contract.Total(), nil
}

// EstimateOrderTotal prices the purchase without creating an order.
func (op *OrderProcessor) EstimateOrderTotal(purchase *models.Purchase) (iwallet.Amount, error) {
	quantity, err := purchaseQuantity(purchase)
	if err != nil {
		return iwallet.NewAmount(0), err
	}
	return op.contractTotal(&purchase.Listing, quantity, purchase.PaymentCoin)
}

// buildContract turns the purchase request into the immutable contract
// every party will hold. The escrow address is derived from the signer
// set so the vendor and moderator arrive at the same address without
// trusting ours.
func (op *OrderProcessor) buildContract(purchase *models.Purchase) (*models.Contract, error) {
	wal, err := op.multiwallet.WalletForCurrencyCode(purchase.PaymentCoin)
	if err != nil {
		return nil, err
	}
	escrowWallet, ok := wal.(iwallet.Escrow)
	if !ok {
		return nil, fmt.Errorf("%s wallet does not support escrow", purchase.PaymentCoin)
	}

	quantity, err := purchaseQuantity(purchase)
	if err != nil {
		return nil, err
	}
	if quantity > purchase.Listing.Inventory {
		return nil, ErrInsufficientInventory{Remaining: purchase.Listing.Inventory}
	}

	total, err := op.contractTotal(&purchase.Listing, quantity, purchase.PaymentCoin)
	if err != nil {
		return nil, err
	}

	refundAddress := ""
	if purchase.RefundAddress != nil {
		refundAddress = *purchase.RefundAddress
	} else {
		addr, err := wal.NewAddress()
		if err != nil {
			return nil, err
		}
		refundAddress = addr.String()
	}

	vendorKey, err := btcec.ParsePubKey(purchase.VendorEscrowPubkey, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid vendor escrow pubkey: %s", ErrBadRequest, err)
	}

	keys := []btcec.PublicKey{*op.escrowKey.PubKey(), *vendorKey}
	signers := []models.Signer{
		{PeerID: op.identity, Role: models.SignerBuyer, Pubkey: op.escrowKey.PubKey().SerializeCompressed()},
		{PeerID: purchase.Listing.VendorID, Role: models.SignerVendor, Pubkey: purchase.VendorEscrowPubkey},
	}

	threshold := 2
	switch purchase.PaymentMethod {
	case models.PaymentDirect:
	case models.PaymentCancelable:
		threshold = 1
	case models.PaymentModerated:
		if purchase.Moderator == "" {
			return nil, fmt.Errorf("%w: moderated purchase is missing a moderator", ErrBadRequest)
		}
		moderatorKey, err := btcec.ParsePubKey(purchase.ModeratorEscrowPubkey, btcec.S256())
		if err != nil {
			return nil, fmt.Errorf("%w: invalid moderator escrow pubkey: %s", ErrBadRequest, err)
		}
		keys = append(keys, *moderatorKey)
		signers = append(signers, models.Signer{
			PeerID: purchase.Moderator,
			Role:   models.SignerModerator,
			Pubkey: purchase.ModeratorEscrowPubkey,
		})
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrBadRequest, purchase.PaymentMethod)
	}

	escrowTimeout := time.Duration(purchase.Listing.EscrowTimeoutHours) * time.Hour
	disputeTimeout := time.Duration(purchase.Listing.DisputeTimeoutHours) * time.Hour

	// Prefer the time-locked construction when the wallet offers it.
	// The vendor's key alone can spend through the timeout path once
	// the escrow timeout expires.
	var (
		address iwallet.Address
		script  []byte
	)
	timeoutWallet, hasTimeout := wal.(iwallet.EscrowWithTimeout)
	if hasTimeout && purchase.PaymentMethod != models.PaymentCancelable {
		address, script, err = timeoutWallet.CreateMultisigWithTimeout(keys, threshold, escrowTimeout, *vendorKey)
	} else {
		address, script, err = escrowWallet.CreateMultisigAddress(keys, threshold)
	}
	if err != nil {
		return nil, err
	}

	contract := &models.Contract{
		ProtocolVersion: utils.MaxProtocolVersion,
		Listing:         purchase.Listing,
		Items:           purchase.Items,
		Shipping:        purchase.Shipping,
		BuyerID:         op.identity,
		BuyerPubkey:     op.identityKey.PubKey().SerializeCompressed(),
		RefundAddress:   refundAddress,
		PaymentMethod:   purchase.PaymentMethod,
		Moderator:       purchase.Moderator,
		ModeratorPubkey: purchase.ModeratorPubkey,
		Amount:          total.String(),
		Currency:        models.CurrencyCode(purchase.PaymentCoin),
		EscrowAddress:   address.String(),
		RedeemScript:    script,
		Signers:         signers,
		EscrowTimeout:   escrowTimeout,
		DisputeTimeout:  disputeTimeout,
		Timestamp:       time.Now(),
	}

	if errs := utils.ValidateContract(contract); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, errs[0])
	}
	return contract, nil
}

// contractTotal computes the order total in base units of the
// settlement currency: listing price times quantity, price modifier
// applied, then converted at the current exchange rate if the listing
// is priced in a different currency.
func (op *OrderProcessor) contractTotal(listing *models.ListingSnapshot, quantity int, paymentCoin string) (iwallet.Amount, error) {
	price := iwallet.NewAmount(listing.Price)
	if price.Cmp(iwallet.NewAmount(0)) <= 0 {
		return price, fmt.Errorf("%w: listing has a non-positive price", ErrBadRequest)
	}

	total := price.Mul(iwallet.NewAmount(quantity))

	if listing.PriceModifier != 0 {
		if listing.PriceModifier < -99.99 || listing.PriceModifier > 1000 {
			return total, fmt.Errorf("%w: price modifier out of range", ErrBadRequest)
		}
		// Basis points keep the percent math in integers.
		bps := int64(math.Round(listing.PriceModifier * 100))
		total = total.Mul(iwallet.NewAmount(10000 + bps)).Div(iwallet.NewAmount(10000))
	}

	priceCurrency := listing.PriceCurrency.Normalized()
	settlement := models.CurrencyCode(paymentCoin).Normalized()
	if priceCurrency == settlement {
		return total, nil
	}

	if op.erp == nil {
		return total, errors.New("no exchange rate provider configured for cross-currency pricing")
	}
	rate, err := op.erp.GetRate(priceCurrency, settlement, false)
	if err != nil {
		return total, err
	}
	div, ok := priceCurrency.Divisibility()
	if !ok {
		return total, fmt.Errorf("%w: unknown listing price currency %s", ErrBadRequest, listing.PriceCurrency)
	}

	// The rate is settlement base units per one whole coin of the
	// price currency, so scale the price back down by its own
	// divisibility after applying the rate.
	divisor := iwallet.NewAmount(uint64(math.Pow10(int(div))))
	converted := total.Mul(rate).Div(divisor)
	if converted.Cmp(iwallet.NewAmount(0)) <= 0 {
		return converted, fmt.Errorf("order total of %s %s rounds to zero in %s", total, listing.PriceCurrency, paymentCoin)
	}
	return converted, nil
}

func purchaseQuantity(purchase *models.Purchase) (int, error) {
	if len(purchase.Items) == 0 {
		return 0, fmt.Errorf("%w: purchase contains no items", ErrBadRequest)
	}
	quantity := 0
	for i, item := range purchase.Items {
		if item.Quantity <= 0 {
			return 0, fmt.Errorf("%w: item %d has a non-positive quantity", ErrBadRequest, i)
		}
		quantity += item.Quantity
	}
	return quantity, nil
}
