package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders"
)

func TestOrderHandlers(t *testing.T) {
	purchaseJSON, err := json.Marshal(models.Purchase{
		Listing: models.ListingSnapshot{
			Slug: "tshirt",
		},
		Items: []models.PurchaseItem{
			{Quantity: 1},
		},
		PaymentCoin:   "TMCK",
		PaymentMethod: models.PaymentDirect,
	})
	if err != nil {
		t.Fatal(err)
	}

	runAPITests(t, apiTests{
		{
			name:   "Post purchase",
			path:   "/v1/order/purchase",
			method: http.MethodPost,
			body:   purchaseJSON,
			setNodeMethods: func(n *mockNode) {
				n.createOrderFunc = func(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error) {
					return "1234", iwallet.NewAddress("abc", iwallet.CoinType("TMCK")), iwallet.NewAmount(100000), nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(purchaseResponse{
					OrderID:        "1234",
					PaymentAddress: "abc",
					Amount:         "100000",
				})
			},
		},
		{
			name:   "Post purchase invalid JSON",
			path:   "/v1/order/purchase",
			method: http.MethodPost,
			body:   []byte("{"),
			setNodeMethods: func(n *mockNode) {
				n.createOrderFunc = func(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error) {
					return "", iwallet.Address{}, iwallet.Amount{}, nil
				}
			},
			statusCode: http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("unexpected EOF\n"), nil
			},
		},
		{
			name:   "Post purchase insufficient inventory",
			path:   "/v1/order/purchase",
			method: http.MethodPost,
			body:   purchaseJSON,
			setNodeMethods: func(n *mockNode) {
				n.createOrderFunc = func(purchase *models.Purchase, done chan struct{}) (models.OrderID, iwallet.Address, iwallet.Amount, error) {
					return "", iwallet.Address{}, iwallet.Amount{}, orders.ErrInsufficientInventory{Remaining: 4}
				}
			},
			statusCode: http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("insufficient inventory: 4 remaining\n"), nil
			},
		},
		{
			name:   "Post estimate",
			path:   "/v1/order/estimate",
			method: http.MethodPost,
			body:   purchaseJSON,
			setNodeMethods: func(n *mockNode) {
				n.estimateOrderTotalFunc = func(purchase *models.Purchase) (iwallet.Amount, error) {
					return iwallet.NewAmount(250000), nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(struct {
					Amount string `json:"amount"`
				}{
					Amount: "250000",
				})
			},
		},
		{
			name:   "Post confirm",
			path:   "/v1/order/confirm/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.confirmOrderFunc = func(orderID models.OrderID, done chan struct{}) error {
					if orderID.String() != "1234" {
						return fmt.Errorf("unexpected order ID %s", orderID)
					}
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post confirm state refusal",
			path:   "/v1/order/confirm/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.confirmOrderFunc = func(orderID models.OrderID, done chan struct{}) error {
					return fmt.Errorf("%w: only a vendor can confirm an order", orders.ErrBadRequest)
				}
			},
			statusCode: http.StatusBadRequest,
			expectedResponse: func() ([]byte, error) {
				return []byte("bad request: only a vendor can confirm an order\n"), nil
			},
		},
		{
			name:   "Post confirm order not found",
			path:   "/v1/order/confirm/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.confirmOrderFunc = func(orderID models.OrderID, done chan struct{}) error {
					return orders.ErrOrderNotFound
				}
			},
			statusCode: http.StatusNotFound,
			expectedResponse: func() ([]byte, error) {
				return []byte("order not found\n"), nil
			},
		},
		{
			name:   "Post reject with reason",
			path:   "/v1/order/reject/1234",
			method: http.MethodPost,
			body:   []byte(`{"reason": "out of stock"}`),
			setNodeMethods: func(n *mockNode) {
				n.rejectOrderFunc = func(orderID models.OrderID, reason string, done chan struct{}) error {
					if reason != "out of stock" {
						return fmt.Errorf("unexpected reason %q", reason)
					}
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post cancel",
			path:   "/v1/order/cancel/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.cancelOrderFunc = func(orderID models.OrderID, done chan struct{}) error {
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post fulfill",
			path:   "/v1/order/fulfill/1234",
			method: http.MethodPost,
			body:   []byte(`{"fulfillments": [{"itemIndexes": [0], "carrier": "UPS", "trackingNumber": "1Z999"}]}`),
			setNodeMethods: func(n *mockNode) {
				n.fulfillOrderFunc = func(orderID models.OrderID, fulfillments []models.Fulfillment, done chan struct{}) error {
					if len(fulfillments) != 1 {
						return fmt.Errorf("expected 1 fulfillment, got %d", len(fulfillments))
					}
					if fulfillments[0].Carrier != "UPS" {
						return fmt.Errorf("unexpected carrier %q", fulfillments[0].Carrier)
					}
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post complete",
			path:   "/v1/order/complete/1234",
			method: http.MethodPost,
			body:   []byte(`{"ratings": [{"overall": 5}]}`),
			setNodeMethods: func(n *mockNode) {
				n.completeOrderFunc = func(orderID models.OrderID, ratings []models.Rating, done chan struct{}) error {
					if len(ratings) != 1 {
						return fmt.Errorf("expected 1 rating, got %d", len(ratings))
					}
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post refund",
			path:   "/v1/order/refund/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.refundOrderFunc = func(orderID models.OrderID, done chan struct{}) error {
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post release escrow",
			path:   "/v1/order/releaseescrow/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.releaseEscrowFunc = func(orderID models.OrderID, done chan struct{}) error {
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Post release escrow premature",
			path:   "/v1/order/releaseescrow/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.releaseEscrowFunc = func(orderID models.OrderID, done chan struct{}) error {
					return orders.ErrPrematureRelease{TimeRemaining: time.Hour}
				}
			},
			statusCode: http.StatusUnauthorized,
			expectedResponse: func() ([]byte, error) {
				return []byte(orders.ErrPrematureRelease{TimeRemaining: time.Hour}.Error() + "\n"), nil
			},
		},
		{
			name:   "Post release funds",
			path:   "/v1/order/releasefunds/1234",
			method: http.MethodPost,
			setNodeMethods: func(n *mockNode) {
				n.releaseFundsFunc = func(orderID models.OrderID) error {
					return nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return nil, nil
			},
		},
		{
			name:   "Get order",
			path:   "/v1/order/1234",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.loadOrderFunc = func(orderID models.OrderID) (*models.Order, error) {
					return &models.Order{
						ID:     orderID,
						MyRole: string(models.RoleBuyer),
						State:  string(models.StateAwaitingFulfillment),
						Funded: true,
					}, nil
				}
			},
			statusCode: http.StatusOK,
			expectedResponse: func() ([]byte, error) {
				return marshalAndSanitizeJSON(&models.Order{
					ID:     "1234",
					MyRole: string(models.RoleBuyer),
					State:  string(models.StateAwaitingFulfillment),
					Funded: true,
				})
			},
		},
		{
			name:   "Get order not found",
			path:   "/v1/order/1234",
			method: http.MethodGet,
			setNodeMethods: func(n *mockNode) {
				n.loadOrderFunc = func(orderID models.OrderID) (*models.Order, error) {
					return nil, orders.ErrOrderNotFound
				}
			},
			statusCode: http.StatusNotFound,
			expectedResponse: func() ([]byte, error) {
				return []byte("order not found\n"), nil
			},
		},
	})
}
