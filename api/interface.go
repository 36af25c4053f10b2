package api

import (
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/wallet"
)

// EscrowNode is the surface of the order processor the gateway needs.
// It exists so the handlers can be tested against a mock without
// standing up a full node.
type EscrowNode interface {
	Identity() string
	Multiwallet() wallet.Multiwallet
	SubscribeEvent(event interface{}) (events.Subscription, error)

	CreateOrder(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error)
	EstimateOrderTotal(purchase *models.Purchase) (iwallet.Amount, error)
	ConfirmOrder(orderID models.OrderID, done chan struct{}) error
	RejectOrder(orderID models.OrderID, reason string, done chan struct{}) error
	CancelOrder(orderID models.OrderID, done chan struct{}) error
	FulfillOrder(orderID models.OrderID, fulfillments []models.Fulfillment, done chan struct{}) error
	CompleteOrder(orderID models.OrderID, ratings []models.Rating, done chan struct{}) error
	RefundOrder(orderID models.OrderID, done chan struct{}) error
	OpenDispute(orderID models.OrderID, claim string, done chan struct{}) error
	ResolveDispute(caseID models.OrderID, resolution *models.Resolution) error
	ReleaseFunds(orderID models.OrderID) error
	ReleaseEscrow(orderID models.OrderID, done chan struct{}) error
	LoadOrder(orderID models.OrderID) (*models.Order, error)
	LoadCase(caseID models.OrderID) (*models.Case, error)
}
