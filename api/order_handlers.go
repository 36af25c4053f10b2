package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tradebay/escrowd/cases"
	"github.com/tradebay/escrowd/models"
	"github.com/tradebay/escrowd/orders"
)

// handleOperationError maps an order operation error onto a response.
// State machine refusals are the caller's fault, a premature escrow
// release is a timing problem distinct from a malformed request, and
// anything else is treated as an internal failure.
func handleOperationError(w http.ResponseWriter, err error) {
	var (
		inventoryErr orders.ErrInsufficientInventory
		prematureErr orders.ErrPrematureRelease
	)
	switch {
	case errors.Is(err, orders.ErrOrderNotFound) || errors.Is(err, cases.ErrCaseNotFound):
		http.Error(w, wrapError(err), http.StatusNotFound)
	case errors.As(err, &prematureErr):
		http.Error(w, wrapError(err), http.StatusUnauthorized)
	case errors.Is(err, orders.ErrBadRequest) || errors.As(err, &inventoryErr):
		http.Error(w, wrapError(err), http.StatusBadRequest)
	default:
		http.Error(w, wrapError(err), http.StatusInternalServerError)
	}
}

type purchaseResponse struct {
	OrderID        string `json:"orderID"`
	PaymentAddress string `json:"paymentAddress"`
	Amount         string `json:"amount"`
}

func (g *Gateway) handlePOSTPurchase(w http.ResponseWriter, r *http.Request) {
	var purchase models.Purchase
	if err := json.NewDecoder(r.Body).Decode(&purchase); err != nil {
		http.Error(w, wrapError(err), http.StatusBadRequest)
		return
	}

	orderID, paymentAddress, paymentAmount, err := g.node.CreateOrder(&purchase, nil)
	if err != nil {
		handleOperationError(w, err)
		return
	}

	sanitizedJSONResponse(w, purchaseResponse{
		OrderID:        orderID.String(),
		PaymentAddress: paymentAddress.String(),
		Amount:         paymentAmount.String(),
	})
}

func (g *Gateway) handlePOSTEstimateTotal(w http.ResponseWriter, r *http.Request) {
	var purchase models.Purchase
	if err := json.NewDecoder(r.Body).Decode(&purchase); err != nil {
		http.Error(w, wrapError(err), http.StatusBadRequest)
		return
	}

	total, err := g.node.EstimateOrderTotal(&purchase)
	if err != nil {
		handleOperationError(w, err)
		return
	}

	sanitizedJSONResponse(w, struct {
		Amount string `json:"amount"`
	}{
		Amount: total.String(),
	})
}

func (g *Gateway) handlePOSTConfirmOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	if err := g.node.ConfirmOrder(orderID, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTRejectOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	var rejection struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&rejection); err != nil {
			http.Error(w, wrapError(err), http.StatusBadRequest)
			return
		}
	}

	if err := g.node.RejectOrder(orderID, rejection.Reason, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	if err := g.node.CancelOrder(orderID, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTFulfillOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	var fulfillment struct {
		Fulfillments []models.Fulfillment `json:"fulfillments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&fulfillment); err != nil {
		http.Error(w, wrapError(err), http.StatusBadRequest)
		return
	}

	if err := g.node.FulfillOrder(orderID, fulfillment.Fulfillments, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTCompleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	var completion struct {
		Ratings []models.Rating `json:"ratings"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&completion); err != nil {
			http.Error(w, wrapError(err), http.StatusBadRequest)
			return
		}
	}

	if err := g.node.CompleteOrder(orderID, completion.Ratings, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTRefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	if err := g.node.RefundOrder(orderID, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	if err := g.node.ReleaseEscrow(orderID, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTReleaseFunds(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	if err := g.node.ReleaseFunds(orderID); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handleGETOrder(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	order, err := g.node.LoadOrder(orderID)
	if err != nil {
		handleOperationError(w, err)
		return
	}

	sanitizedJSONResponse(w, order)
}
