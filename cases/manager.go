package cases

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec"
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/google/uuid"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/escrow"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/orders/utils"
	"github.com/tradebay/escrowd/wallet"
	"gorm.io/gorm"
)

var log = logging.MustGetLogger("CASE")

var (
	// ErrCaseNotFound is returned when no case exists for the order ID.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCaseClosed is returned when acting on an already resolved case.
	ErrCaseClosed = errors.New("case is closed")

	// ErrMissingPayoutAddress is returned when the resolution awards a
	// share to a party that never submitted a payout address.
	ErrMissingPayoutAddress = errors.New("party has not submitted a payout address")
)

// Config holds the options for the case manager.
type Config struct {
	Identity    string
	IdentityKey *btcec.PrivateKey
	EscrowKey   *btcec.PrivateKey
	Db          database.Database
	Messenger   *net.Messenger
	Multiwallet wallet.Multiwallet
	EventBus    events.Bus
}

// CaseManager owns the moderator's side of disputed trades. It files
// the disputants' submissions into cases, publishes resolutions, and
// expires cases whose dispute timeout elapses. A node that never acts
// as moderator simply never receives the messages that feed it.
type CaseManager struct {
	identity    string
	identityKey *btcec.PrivateKey
	escrowKey   *btcec.PrivateKey
	db          database.Database
	messenger   *net.Messenger
	multiwallet wallet.Multiwallet
	bus         events.Bus
}

// NewCaseManager builds a CaseManager from the config.
func NewCaseManager(cfg *Config) *CaseManager {
	return &CaseManager{
		identity:    cfg.Identity,
		identityKey: cfg.IdentityKey,
		escrowKey:   cfg.EscrowKey,
		db:          cfg.Db,
		messenger:   cfg.Messenger,
		multiwallet: cfg.Multiwallet,
		bus:         cfg.EventBus,
	}
}

// ProcessDisputeOpen opens a new case from a disputant's claim. A
// replay of the same claim is a no-op; a divergent claim for an
// existing case is rejected.
func (cm *CaseManager) ProcessDisputeOpen(dbtx database.Tx, from string, message *models.OrderMessage) (interface{}, error) {
	claim := new(models.DisputeClaim)
	if err := message.GetPayload(claim); err != nil {
		return nil, err
	}

	contract := new(models.Contract)
	if err := contract.Deserialize(claim.Contract); err != nil {
		return nil, err
	}

	if contract.PaymentMethod != models.PaymentModerated || contract.Moderator != cm.identity {
		return nil, errors.New("dispute opened with a node that is not the contract moderator")
	}

	opener, err := disputantPubkey(contract, claim.OpenedBy)
	if err != nil {
		return nil, err
	}
	if err := utils.VerifyOrderMessage(message, opener); err != nil {
		return nil, err
	}

	var c models.Case
	err = dbtx.Read().Where("id = ?", message.OrderID.String()).First(&c).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if c.SerializedClaim != nil {
		existing, err := c.Claim()
		if err != nil {
			return nil, err
		}
		if existing.OpenedBy != claim.OpenedBy || existing.Claim != claim.Claim {
			log.Errorf("Divergent DISPUTE_OPEN received for case %s", message.OrderID)
			return nil, errors.New("dispute open does not match the existing claim")
		}
		log.Debugf("Received duplicate DISPUTE_OPEN for case %s", message.OrderID)
		return nil, nil
	}

	c = models.Case{
		ID:        message.OrderID,
		Open:      true,
		Timestamp: time.Now(),
	}
	c.SetState(models.CaseDisputed)
	if err := c.PutClaim(claim); err != nil {
		return nil, err
	}

	if validationErrs := utils.ValidateContract(contract); len(validationErrs) > 0 {
		log.Warningf("Case %s opened with a contract that fails validation", c.ID)
		if err := c.PutValidationErrors(validationErrs); err != nil {
			return nil, err
		}
	}

	if err := dbtx.Save(&c); err != nil {
		return nil, err
	}

	disputer, disputee := contract.BuyerID, contract.Listing.VendorID
	if claim.OpenedBy == models.SignerVendor {
		disputer, disputee = disputee, disputer
	}
	log.Infof("Opened new case for order %s disputed by %s", c.ID, disputer)

	return &events.DisputeOpen{
		OrderID:    c.ID.String(),
		CaseID:     c.ID.String(),
		DisputerID: disputer,
		DisputeeID: disputee,
	}, nil
}

// ProcessDisputeUpdate files the counter-party's contract copy into
// the case.
func (cm *CaseManager) ProcessDisputeUpdate(dbtx database.Tx, from string, message *models.OrderMessage) (interface{}, error) {
	update := new(models.DisputeUpdate)
	if err := message.GetPayload(update); err != nil {
		return nil, err
	}

	contract := new(models.Contract)
	if err := contract.Deserialize(update.Contract); err != nil {
		return nil, err
	}

	var role models.SignerRole
	switch from {
	case contract.BuyerID:
		role = models.SignerBuyer
	case contract.Listing.VendorID:
		role = models.SignerVendor
	default:
		return nil, errors.New("dispute update from a non-disputant")
	}

	pubkey := contract.BuyerPubkey
	if role == models.SignerVendor {
		pubkey = contract.Listing.VendorPubkey
	}
	if err := utils.VerifyOrderMessage(message, pubkey); err != nil {
		return nil, err
	}

	var c models.Case
	err := dbtx.Read().Where("id = ?", message.OrderID.String()).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	} else if err != nil {
		return nil, err
	}
	if !c.Open {
		return nil, ErrCaseClosed
	}

	if err := c.PutUpdate(update, role); err != nil {
		log.Debugf("Dispute update for case %s not filed: %s", c.ID, err)
		return nil, nil
	}

	// With both copies on file, check they describe the same trade.
	if c.BuyerContract != nil && c.VendorContract != nil && !bytes.Equal(c.BuyerContract, c.VendorContract) {
		if err := c.PutValidationErrors([]error{errors.New("buyer and vendor contract copies do not match")}); err != nil {
			return nil, err
		}
	}

	if err := dbtx.Save(&c); err != nil {
		return nil, err
	}

	log.Infof("Received DISPUTE_UPDATE from %s for case %s", from, c.ID)

	return &events.DisputeUpdate{OrderID: c.ID.String()}, nil
}

// Resolve publishes the moderator's resolution. It validates the
// split, builds and signs the payout release, records the resolution
// in the case, and sends DISPUTE_CLOSE to both disputants.
func (cm *CaseManager) Resolve(dbtx database.Tx, caseID models.OrderID, resolution *models.Resolution) error {
	if err := escrow.ValidateSplit(resolution); err != nil {
		return err
	}

	var c models.Case
	err := dbtx.Read().Where("id = ?", caseID.String()).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCaseNotFound
	} else if err != nil {
		return err
	}
	if c.SerializedResolution != nil {
		return ErrCaseClosed
	}

	contract, err := c.Contract()
	if err != nil {
		return err
	}

	if resolution.BuyerPct > 0 && c.BuyerPayoutAddress == "" {
		return fmt.Errorf("%w: buyer", ErrMissingPayoutAddress)
	}
	if resolution.VendorPct > 0 && c.VendorPayoutAddress == "" {
		return fmt.Errorf("%w: vendor", ErrMissingPayoutAddress)
	}

	wal, err := cm.multiwallet.WalletForCurrencyCode(contract.Currency.String())
	if err != nil {
		return err
	}

	ord, err := c.EscrowOrder()
	if err != nil {
		return err
	}
	total, err := escrow.Escrowed(ord)
	if err != nil {
		return err
	}

	coinType := iwallet.CoinType(contract.Currency.String())
	var moderatorAddr iwallet.Address
	if resolution.ModeratorPct > 0 {
		moderatorAddr, err = wal.NewAddress()
		if err != nil {
			return err
		}
	}
	buyerAddr := iwallet.NewAddress(c.BuyerPayoutAddress, coinType)
	vendorAddr := iwallet.NewAddress(c.VendorPayoutAddress, coinType)

	payouts, err := escrow.ResolutionPayouts(total, resolution, buyerAddr, vendorAddr, moderatorAddr)
	if err != nil {
		return err
	}

	authority, err := escrow.NewReleaseAuthority(contract)
	if err != nil {
		return err
	}
	release, err := authority.BuildRelease(wal, ord, payouts)
	if err != nil {
		return err
	}
	sigs, err := authority.Sign(wal, ord, release, cm.escrowKey)
	if err != nil {
		return err
	}
	release.Signatures = sigs

	resolution.Timestamp = time.Now()
	resolution.Release = release
	if err := utils.SignResolution(c.ID, resolution, cm.identityKey); err != nil {
		return err
	}

	if err := c.PutResolution(resolution); err != nil {
		return err
	}
	c.SetState(models.CaseResolved)
	if err := dbtx.Save(&c); err != nil {
		return err
	}

	for _, to := range []string{contract.BuyerID, contract.Listing.VendorID} {
		closeMsg := &models.OrderMessage{
			MessageID:   uuid.New().String(),
			OrderID:     c.ID,
			MessageType: models.TypeDisputeClose,
		}
		if err := closeMsg.PutPayload(resolution); err != nil {
			return err
		}
		if err := utils.SignOrderMessage(closeMsg, cm.identityKey); err != nil {
			return err
		}
		if err := cm.messenger.ReliablySendMessage(dbtx, to, closeMsg, nil); err != nil {
			return err
		}
	}

	log.Infof("Resolved case %s: buyer %d%%, vendor %d%%, moderator %d%%",
		c.ID, resolution.BuyerPct, resolution.VendorPct, resolution.ModeratorPct)
	return nil
}

// GetCase returns the case for the order ID.
func (cm *CaseManager) GetCase(dbtx database.Tx, caseID models.OrderID) (*models.Case, error) {
	var c models.Case
	err := dbtx.Read().Where("id = ?", caseID.String()).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	} else if err != nil {
		return nil, err
	}
	return &c, nil
}

// CheckForExpirations moves open cases whose dispute timeout has
// elapsed into the expired state. Once a case expires a forced
// release of the escrow is permitted to the disputants.
func (cm *CaseManager) CheckForExpirations(now time.Time) {
	var expired []models.OrderID
	err := cm.db.Update(func(tx database.Tx) error {
		var open []models.Case
		if err := tx.Read().Where("open = ? AND state = ?", true, string(models.CaseDisputed)).Find(&open).Error; err != nil {
			return err
		}
		for i := range open {
			c := &open[i]
			contract, err := c.Contract()
			if err != nil {
				log.Errorf("Error loading contract for case %s: %s", c.ID, err)
				continue
			}
			if now.Before(c.Timestamp.Add(contract.DisputeTimeout)) {
				continue
			}
			c.SetState(models.CaseExpired)
			if err := tx.Save(c); err != nil {
				return err
			}
			expired = append(expired, c.ID)
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error checking for case expirations: %s", err)
		return
	}
	for _, id := range expired {
		log.Infof("Case %s expired without a resolution", id)
		cm.bus.Emit(&events.CaseExpired{OrderID: id.String()})
	}
}

func disputantPubkey(contract *models.Contract, role models.SignerRole) ([]byte, error) {
	switch role {
	case models.SignerBuyer:
		return contract.BuyerPubkey, nil
	case models.SignerVendor:
		return contract.Listing.VendorPubkey, nil
	default:
		return nil, errors.New("dispute opened by a non-disputant")
	}
}
