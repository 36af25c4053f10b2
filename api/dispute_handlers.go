package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tradebay/escrowd/models"
)

func (g *Gateway) handlePOSTOpenDispute(w http.ResponseWriter, r *http.Request) {
	orderID := models.OrderID(mux.Vars(r)["orderID"])

	var dispute struct {
		Claim string `json:"claim"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&dispute); err != nil {
			http.Error(w, wrapError(err), http.StatusBadRequest)
			return
		}
	}

	if err := g.node.OpenDispute(orderID, dispute.Claim, nil); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handlePOSTCloseDispute(w http.ResponseWriter, r *http.Request) {
	caseID := models.OrderID(mux.Vars(r)["caseID"])

	var resolution models.Resolution
	if err := json.NewDecoder(r.Body).Decode(&resolution); err != nil {
		http.Error(w, wrapError(err), http.StatusBadRequest)
		return
	}

	if err := g.node.ResolveDispute(caseID, &resolution); err != nil {
		handleOperationError(w, err)
	}
}

func (g *Gateway) handleGETCase(w http.ResponseWriter, r *http.Request) {
	caseID := models.OrderID(mux.Vars(r)["caseID"])

	dispute, err := g.node.LoadCase(caseID)
	if err != nil {
		handleOperationError(w, err)
		return
	}

	sanitizedJSONResponse(w, dispute)
}
