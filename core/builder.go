package core

import (
	"net"
	"strings"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/api"
	"github.com/tradebay/escrowd/cases"
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	obnet "github.com/tradebay/escrowd/net"
	"github.com/tradebay/escrowd/orders"
	"github.com/tradebay/escrowd/repo"
	"github.com/tradebay/escrowd/wallet"
)

var log = logging.MustGetLogger("CORE")

// Option configures optional node components.
type Option func(*options)

type options struct {
	transport obnet.Transport
	wallets   wallet.Multiwallet
	noGateway bool
}

// WithTransport sets the transport used to exchange order messages
// with peers. Embedders provide their own wire transport here; without
// one the node runs with an isolated in-memory transport and outgoing
// messages sit in the retry queue until a transport comes online.
func WithTransport(t obnet.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithWallets sets the wallet implementations the node transacts
// with, keyed by coin type.
func WithWallets(w wallet.Multiwallet) Option {
	return func(o *options) {
		o.wallets = w
	}
}

// WithoutGateway disables the HTTP API server. Used by embedders that
// drive the order processor directly.
func WithoutGateway() Option {
	return func(o *options) {
		o.noGateway = true
	}
}

// NewNode constructs and returns an EscrowdNode using the given cfg.
func NewNode(cfg *repo.Config, opts ...Option) (*EscrowdNode, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r, err := repo.NewRepo(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	peerID, identityKey, escrowKey, err := r.LoadIdentity()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()

	if o.transport == nil {
		o.transport = obnet.NewMockNetwork().NewTransport(peerID)
	}
	messenger := obnet.NewMessenger(o.transport, r.DB())

	if o.wallets == nil {
		coinType := iwallet.CoinType(iwallet.CtMock)
		if cfg.Testnet {
			coinType = iwallet.CoinType("TMCK")
		}
		mock := wallet.NewMockWallet()
		mock.SetEventBus(bus)
		o.wallets = wallet.Multiwallet{coinType: mock}
	}

	erp := wallet.NewExchangeRateProvider(cfg.ExchangeRateProviders)

	caseManager := cases.NewCaseManager(&cases.Config{
		Identity:    peerID,
		IdentityKey: identityKey,
		EscrowKey:   escrowKey,
		Db:          r.DB(),
		Messenger:   messenger,
		Multiwallet: o.wallets,
		EventBus:    bus,
	})

	orderProcessor := orders.NewOrderProcessor(&orders.Config{
		Identity:      peerID,
		IdentityKey:   identityKey,
		EscrowKey:     escrowKey,
		Db:            r.DB(),
		Messenger:     messenger,
		Multiwallet:   o.wallets,
		ExchangeRates: erp,
		CaseManager:   caseManager,
		EventBus:      bus,
	})

	o.transport.RegisterHandler(orderProcessor.HandleIncomingMessage)

	node := &EscrowdNode{
		repo:           r,
		identity:       peerID,
		orderProcessor: orderProcessor,
		caseManager:    caseManager,
		messenger:      messenger,
		transport:      o.transport,
		multiwallet:    o.wallets,
		exchangeRates:  erp,
		eventBus:       bus,
		shutdown:       make(chan struct{}),
	}

	node.paymentMonitor = wallet.NewPaymentMonitor(&node.multiwallet, bus, node.watchedAddresses)

	if !o.noGateway {
		node.gateway, err = newHTTPGateway(orderProcessor, cfg)
		if err != nil {
			r.Close()
			return nil, err
		}
	}

	return node, nil
}

// watchedAddresses loads the escrow destination of every open order so
// the payment monitor can poll them for missed payments.
func (n *EscrowdNode) watchedAddresses() ([]wallet.WatchedAddress, error) {
	var openOrders []models.Order
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("open = ?", true).Find(&openOrders).Error
	})
	if err != nil {
		return nil, err
	}

	var watched []wallet.WatchedAddress
	for _, order := range openOrders {
		if order.PaymentAddress == "" {
			continue
		}
		contract, err := order.Contract()
		if err != nil {
			log.Warningf("Order %s has an unreadable contract: %s", order.ID, err)
			continue
		}
		watched = append(watched, wallet.WatchedAddress{
			OrderID:  order.ID.String(),
			Currency: contract.Currency.String(),
			Address:  iwallet.NewAddress(order.PaymentAddress, iwallet.CoinType(contract.Currency.String())),
			Target:   contract.Total(),
		})
	}
	return watched, nil
}

func newHTTPGateway(node api.EscrowNode, cfg *repo.Config) (*api.Gateway, error) {
	listener, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		return nil, err
	}

	allowedIPs := make(map[string]bool)
	for _, ip := range cfg.APIAllowedIPs {
		allowedIPs[strings.TrimSpace(ip)] = true
	}

	return api.NewGateway(node, &api.GatewayConfig{
		Listener:   listener,
		NoCors:     cfg.APINoCors,
		UseSSL:     cfg.UseSSL,
		SSLCert:    cfg.SSLCertFile,
		SSLKey:     cfg.SSLKeyFile,
		Username:   cfg.APIUsername,
		Password:   cfg.APIPassword,
		Cookie:     cfg.APICookie,
		AllowedIPs: allowedIPs,
	})
}
