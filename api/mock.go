package api

import (
	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/wallet"
)

type mockNode struct {
	identityFunc           func() string
	multiwalletFunc        func() wallet.Multiwallet
	subscribeEventFunc     func(event interface{}) (events.Subscription, error)
	createOrderFunc        func(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error)
	estimateOrderTotalFunc func(purchase *models.Purchase) (iwallet.Amount, error)
	confirmOrderFunc       func(orderID models.OrderID, done chan struct{}) error
	rejectOrderFunc        func(orderID models.OrderID, reason string, done chan struct{}) error
	cancelOrderFunc        func(orderID models.OrderID, done chan struct{}) error
	fulfillOrderFunc       func(orderID models.OrderID, fulfillments []models.Fulfillment, done chan struct{}) error
	completeOrderFunc      func(orderID models.OrderID, ratings []models.Rating, done chan struct{}) error
	refundOrderFunc        func(orderID models.OrderID, done chan struct{}) error
	openDisputeFunc        func(orderID models.OrderID, claim string, done chan struct{}) error
	resolveDisputeFunc     func(caseID models.OrderID, resolution *models.Resolution) error
	releaseFundsFunc       func(orderID models.OrderID) error
	releaseEscrowFunc      func(orderID models.OrderID, done chan struct{}) error
	loadOrderFunc          func(orderID models.OrderID) (*models.Order, error)
	loadCaseFunc           func(caseID models.OrderID) (*models.Case, error)
}

func (m *mockNode) Identity() string {
	return m.identityFunc()
}

func (m *mockNode) Multiwallet() wallet.Multiwallet {
	return m.multiwalletFunc()
}

func (m *mockNode) SubscribeEvent(event interface{}) (events.Subscription, error) {
	return m.subscribeEventFunc(event)
}

func (m *mockNode) CreateOrder(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error) {
	return m.createOrderFunc(purchase, done)
}

func (m *mockNode) EstimateOrderTotal(purchase *models.Purchase) (iwallet.Amount, error) {
	return m.estimateOrderTotalFunc(purchase)
}

func (m *mockNode) ConfirmOrder(orderID models.OrderID, done chan struct{}) error {
	return m.confirmOrderFunc(orderID, done)
}

func (m *mockNode) RejectOrder(orderID models.OrderID, reason string, done chan struct{}) error {
	return m.rejectOrderFunc(orderID, reason, done)
}

func (m *mockNode) CancelOrder(orderID models.OrderID, done chan struct{}) error {
	return m.cancelOrderFunc(orderID, done)
}

func (m *mockNode) FulfillOrder(orderID models.OrderID, fulfillments []models.Fulfillment, done chan struct{}) error {
	return m.fulfillOrderFunc(orderID, fulfillments, done)
}

func (m *mockNode) CompleteOrder(orderID models.OrderID, ratings []models.Rating, done chan struct{}) error {
	return m.completeOrderFunc(orderID, ratings, done)
}

func (m *mockNode) RefundOrder(orderID models.OrderID, done chan struct{}) error {
	return m.refundOrderFunc(orderID, done)
}

func (m *mockNode) OpenDispute(orderID models.OrderID, claim string, done chan struct{}) error {
	return m.openDisputeFunc(orderID, claim, done)
}

func (m *mockNode) ResolveDispute(caseID models.OrderID, resolution *models.Resolution) error {
	return m.resolveDisputeFunc(caseID, resolution)
}

func (m *mockNode) ReleaseFunds(orderID models.OrderID) error {
	return m.releaseFundsFunc(orderID)
}

func (m *mockNode) ReleaseEscrow(orderID models.OrderID, done chan struct{}) error {
	return m.releaseEscrowFunc(orderID, done)
}

func (m *mockNode) LoadOrder(orderID models.OrderID) (*models.Order, error) {
	return m.loadOrderFunc(orderID)
}

func (m *mockNode) LoadCase(caseID models.OrderID) (*models.Case, error) {
	return m.loadCaseFunc(caseID)
}
