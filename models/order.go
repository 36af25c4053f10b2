package models

import (
	"encoding/json"
	"errors"
	"time"

	iwallet "github.com/cpacia/wallet-interface"
)

var (
	// ErrMessageDoesNotExist signifies the requested record does not exist
	// in the order.
	ErrMessageDoesNotExist = errors.New("message not saved in order")

	// ErrDuplicateTransaction signifies a duplicate transaction was saved
	// in the order.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// IsMessageNotExistError returns whether or not the provided error is a
// ErrMessageDoesNotExist error.
func IsMessageNotExistError(err error) bool {
	return errors.Is(err, ErrMessageDoesNotExist)
}

// IsDuplicateTransactionError returns whether or not the provided error is a
// ErrDuplicateTransaction error.
func IsDuplicateTransactionError(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}

// OrderID is a content-derived order identifier. It is computed from the
// canonical serialization of the contract and is therefore identical
// across all parties' copies of the same trade.
type OrderID string

// String returns the string representation of the ID.
func (id OrderID) String() string {
	return string(id)
}

// OrderRole specifies this node's role in the order.
type OrderRole string

const (
	// RoleUnknown means we haven't yet determined the role.
	RoleUnknown OrderRole = "unknown"
	// RoleBuyer represents a buyer.
	RoleBuyer OrderRole = "buyer"
	// RoleVendor represents a vendor.
	RoleVendor OrderRole = "vendor"
	// RoleModerator represents a moderator.
	RoleModerator OrderRole = "moderator"
)

// Order holds the full state of a trade as seen by this node. The model
// is saved in the database indexed by order ID. Records attached to the
// order (contract, fulfillments, dispute, resolution) are stored as
// serialized JSON blobs the same way they travel between peers.
type Order struct {
	ID OrderID `gorm:"primaryKey"`

	PaymentAddress string `gorm:"index"`

	MyRole string

	State           string `gorm:"index"`
	ProtocolVersion uint32

	Open bool `gorm:"index"`

	Funded           bool
	FundingTimestamp time.Time
	FundingHeight    uint64

	LastCheckForPayments time.Time

	Transactions json.RawMessage

	SerializedContract json.RawMessage

	SerializedFulfillments    json.RawMessage
	SerializedCompletion      json.RawMessage
	SerializedDispute         json.RawMessage
	SerializedResolution      json.RawMessage
	SerializedProcessingError json.RawMessage

	PayoutTransactionID string

	EscrowTimeoutNotified  bool
	DisputeTimeoutNotified bool

	ParkedMessages json.RawMessage
}

// Role returns the role of the user for this order.
func (o *Order) Role() OrderRole {
	return OrderRole(o.MyRole)
}

// SetRole sets the role of the user for this order.
func (o *Order) SetRole(role OrderRole) {
	o.MyRole = string(role)
}

// OrderState returns the typed state of the order normalized for the
// order's protocol version.
func (o *Order) OrderState() OrderState {
	return NormalizeState(o.State, o.ProtocolVersion)
}

// SetState records the new state. Legality checks are the caller's
// responsibility; use OrderState.CanTransition.
func (o *Order) SetState(state OrderState) {
	o.State = state.String()
	if state.Terminal() {
		o.Open = false
	}
}

// Contract returns the deserialized contract if it exists in the order.
func (o *Order) Contract() (*Contract, error) {
	if len(o.SerializedContract) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	contract := new(Contract)
	if err := json.Unmarshal(o.SerializedContract, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// PutContract serializes the contract into the order. This is done
// exactly once at order creation; contracts are immutable afterward.
func (o *Order) PutContract(contract *Contract) error {
	ser, err := contract.Serialize()
	if err != nil {
		return err
	}
	o.SerializedContract = ser
	o.PaymentAddress = contract.EscrowAddress
	o.ProtocolVersion = contract.ProtocolVersion
	return nil
}

// Buyer returns the peer ID of the buyer for this order.
func (o *Order) Buyer() (string, error) {
	contract, err := o.Contract()
	if err != nil {
		return "", err
	}
	return contract.BuyerID, nil
}

// Vendor returns the peer ID of the vendor for this order.
func (o *Order) Vendor() (string, error) {
	contract, err := o.Contract()
	if err != nil {
		return "", err
	}
	return contract.Listing.VendorID, nil
}

// Moderator returns the peer ID of the moderator for this order.
func (o *Order) Moderator() (string, error) {
	contract, err := o.Contract()
	if err != nil {
		return "", err
	}
	if contract.Moderator == "" {
		return "", errors.New("no moderator for order")
	}
	return contract.Moderator, nil
}

// GetTransactions returns all the escrow transactions associated with
// this order, in the order they were observed.
func (o *Order) GetTransactions() ([]iwallet.Transaction, error) {
	if len(o.Transactions) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	var transactions []iwallet.Transaction
	if err := json.Unmarshal(o.Transactions, &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

// PutTransaction appends the transaction to the order. The transaction
// list is append-only; a transaction already present is reported as a
// duplicate so callers can treat re-observation as a no-op.
func (o *Order) PutTransaction(transaction iwallet.Transaction) error {
	var transactions []iwallet.Transaction
	if o.Transactions != nil {
		if err := json.Unmarshal(o.Transactions, &transactions); err != nil {
			return err
		}
	}

	for _, tx := range transactions {
		if tx.ID == transaction.ID {
			return ErrDuplicateTransaction
		}
	}

	transactions = append(transactions, transaction)

	ser, err := json.MarshalIndent(transactions, "", "    ")
	if err != nil {
		return err
	}
	o.Transactions = ser
	return nil
}

// Fulfillments returns the fulfillment records saved in the order.
func (o *Order) Fulfillments() ([]Fulfillment, error) {
	if len(o.SerializedFulfillments) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	var fulfillments []Fulfillment
	if err := json.Unmarshal(o.SerializedFulfillments, &fulfillments); err != nil {
		return nil, err
	}
	return fulfillments, nil
}

// PutFulfillment appends a fulfillment record. A record covering an
// already-fulfilled item index is reported as a duplicate.
func (o *Order) PutFulfillment(fulfillment Fulfillment) error {
	existing, err := o.Fulfillments()
	if err != nil && !IsMessageNotExistError(err) {
		return err
	}
	for _, f := range existing {
		for _, idx := range f.ItemIndexes {
			for _, newIdx := range fulfillment.ItemIndexes {
				if idx == newIdx {
					return ErrDuplicateTransaction
				}
			}
		}
	}
	existing = append(existing, fulfillment)
	ser, err := json.MarshalIndent(existing, "", "    ")
	if err != nil {
		return err
	}
	o.SerializedFulfillments = ser
	return nil
}

// Completion returns the buyer's completion record if it exists.
func (o *Order) Completion() (*Completion, error) {
	if len(o.SerializedCompletion) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	completion := new(Completion)
	if err := json.Unmarshal(o.SerializedCompletion, completion); err != nil {
		return nil, err
	}
	return completion, nil
}

// PutCompletion serializes the completion record into the order.
func (o *Order) PutCompletion(completion *Completion) error {
	ser, err := json.MarshalIndent(completion, "", "    ")
	if err != nil {
		return err
	}
	o.SerializedCompletion = ser
	return nil
}

// Dispute returns the dispute claim if one has been opened.
func (o *Order) Dispute() (*DisputeClaim, error) {
	if len(o.SerializedDispute) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	dispute := new(DisputeClaim)
	if err := json.Unmarshal(o.SerializedDispute, dispute); err != nil {
		return nil, err
	}
	return dispute, nil
}

// PutDispute serializes the dispute claim into the order.
func (o *Order) PutDispute(dispute *DisputeClaim) error {
	ser, err := json.MarshalIndent(dispute, "", "    ")
	if err != nil {
		return err
	}
	o.SerializedDispute = ser
	return nil
}

// Resolution returns the moderator's resolution if one has been
// published.
func (o *Order) Resolution() (*Resolution, error) {
	if len(o.SerializedResolution) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	resolution := new(Resolution)
	if err := json.Unmarshal(o.SerializedResolution, resolution); err != nil {
		return nil, err
	}
	return resolution, nil
}

// PutResolution serializes the resolution into the order.
func (o *Order) PutResolution(resolution *Resolution) error {
	ser, err := json.MarshalIndent(resolution, "", "    ")
	if err != nil {
		return err
	}
	o.SerializedResolution = ser
	return nil
}

// ProcessingError returns the vendor's processing error record if one
// exists.
func (o *Order) ProcessingError() (*ProcessingError, error) {
	if len(o.SerializedProcessingError) == 0 {
		return nil, ErrMessageDoesNotExist
	}
	procErr := new(ProcessingError)
	if err := json.Unmarshal(o.SerializedProcessingError, procErr); err != nil {
		return nil, err
	}
	return procErr, nil
}

// PutProcessingError serializes the processing error into the order.
func (o *Order) PutProcessingError(procErr *ProcessingError) error {
	ser, err := json.MarshalIndent(procErr, "", "    ")
	if err != nil {
		return err
	}
	o.SerializedProcessingError = ser
	return nil
}

// ParkMessage saves a message that arrived before the order open it
// depends on. Parked messages are replayed once the order exists.
func (o *Order) ParkMessage(message *OrderMessage) error {
	var parked []*OrderMessage
	if o.ParkedMessages != nil {
		if err := json.Unmarshal(o.ParkedMessages, &parked); err != nil {
			return err
		}
	}
	for _, m := range parked {
		if m.MessageID == message.MessageID {
			return nil
		}
	}
	parked = append(parked, message)
	ser, err := json.MarshalIndent(parked, "", "    ")
	if err != nil {
		return err
	}
	o.ParkedMessages = ser
	if o.ID == "" {
		o.ID = message.OrderID
	}
	return nil
}

// GetParkedMessages returns any messages parked on the order.
func (o *Order) GetParkedMessages() ([]*OrderMessage, error) {
	if len(o.ParkedMessages) == 0 {
		return nil, nil
	}
	var parked []*OrderMessage
	if err := json.Unmarshal(o.ParkedMessages, &parked); err != nil {
		return nil, err
	}
	return parked, nil
}

// DeleteParkedMessages clears the parked message list.
func (o *Order) DeleteParkedMessages() {
	o.ParkedMessages = nil
}

// UnderActiveDispute returns whether a dispute is open without a
// resolution.
func (o *Order) UnderActiveDispute() bool {
	return o.SerializedDispute != nil && o.SerializedResolution == nil
}

// IsFunded returns whether the inbound payments to the escrow address
// total at least the contract amount.
func (o *Order) IsFunded() (bool, error) {
	contract, err := o.Contract()
	if err != nil {
		return false, err
	}
	total, err := o.FundingTotal()
	if err != nil {
		return false, err
	}
	return total.Cmp(contract.Total()) >= 0, nil
}

// FundingTotal returns the total amount paid into the escrow address.
func (o *Order) FundingTotal() (iwallet.Amount, error) {
	contract, err := o.Contract()
	if err != nil {
		return iwallet.NewAmount(0), err
	}

	totalPaid := iwallet.NewAmount(0)

	txs, err := o.GetTransactions()
	if err != nil && !IsMessageNotExistError(err) {
		return iwallet.NewAmount(0), err
	}
	for _, tx := range txs {
		for _, to := range tx.To {
			if to.Address.String() == contract.EscrowAddress {
				totalPaid = totalPaid.Add(to.Amount)
			}
		}
	}
	return totalPaid, nil
}

// IsFulfilled returns whether a fulfillment record exists for every
// item in the order.
func (o *Order) IsFulfilled() (bool, error) {
	contract, err := o.Contract()
	if err != nil {
		return false, err
	}

	m := make(map[int]bool)
	for i := range contract.Items {
		m[i] = true
	}

	fulfillments, err := o.Fulfillments()
	if err != nil && !IsMessageNotExistError(err) {
		return false, err
	}
	for _, f := range fulfillments {
		for _, idx := range f.ItemIndexes {
			delete(m, idx)
		}
	}
	return len(m) == 0, nil
}

// CanCancel returns whether this order is in a state where the buyer
// can still cancel. Only legal before the vendor has processed the
// order and only for cancelable escrows.
func (o *Order) CanCancel(ourPeerID string) bool {
	contract, err := o.Contract()
	if err != nil {
		return false
	}
	if contract.RoleOf(ourPeerID) != RoleBuyer {
		return false
	}
	if contract.PaymentMethod != PaymentCancelable {
		return false
	}
	switch o.OrderState() {
	case StatePending, StateAwaitingPayment:
		return true
	}
	return false
}

// CanConfirm returns whether the vendor can confirm or reject this
// order. Only pending offline orders qualify.
func (o *Order) CanConfirm(ourPeerID string) bool {
	contract, err := o.Contract()
	if err != nil {
		return false
	}
	if contract.RoleOf(ourPeerID) != RoleVendor {
		return false
	}
	return o.OrderState() == StatePending
}

// CanRefund returns whether the vendor can voluntarily refund. The
// order must be funded and not yet fully fulfilled.
func (o *Order) CanRefund(ourPeerID string) bool {
	contract, err := o.Contract()
	if err != nil {
		return false
	}
	if contract.RoleOf(ourPeerID) != RoleVendor {
		return false
	}
	switch o.OrderState() {
	case StateAwaitingFulfillment, StatePartiallyFulfilled:
		return true
	}
	return false
}

// CanFulfill returns whether the vendor can record a fulfillment.
func (o *Order) CanFulfill(ourPeerID string) bool {
	contract, err := o.Contract()
	if err != nil {
		return false
	}
	if contract.RoleOf(ourPeerID) != RoleVendor {
		return false
	}
	switch o.OrderState() {
	case StateAwaitingFulfillment, StatePartiallyFulfilled:
		return true
	}
	return false
}

// CanComplete returns whether the buyer can complete the order and
// leave a rating.
func (o *Order) CanComplete(ourPeerID string) bool {
	contract, err := o.Contract()
	if err != nil {
		return false
	}
	if contract.RoleOf(ourPeerID) != RoleBuyer {
		return false
	}
	if o.UnderActiveDispute() {
		return false
	}
	return o.OrderState() == StateFulfilled
}

// CanDispute returns whether the given peer can open a dispute. Only
// parties to a funded, uncompleted moderated trade qualify.
func (o *Order) CanDispute(ourPeerID string) bool {
	contract, err := o.Contract()
	if err != nil {
		return false
	}
	if contract.PaymentMethod != PaymentModerated {
		return false
	}
	role := contract.RoleOf(ourPeerID)
	if role != RoleBuyer && role != RoleVendor {
		return false
	}
	switch o.OrderState() {
	case StateAwaitingFulfillment, StatePartiallyFulfilled, StateFulfilled:
		return true
	}
	return false
}

// MarshalJSON provides custom JSON marshalling for the order model.
// Since this method is primarily used to return data to the API, this
// is the appropriate place to normalize the data to the format the API
// is expecting.
func (o *Order) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{})
	out["orderID"] = o.ID.String()
	out["role"] = string(o.Role())
	out["state"] = o.State
	out["funded"] = o.Funded

	if o.SerializedContract != nil {
		out["contract"] = o.SerializedContract
	}
	if o.Transactions != nil {
		out["paymentAddressTransactions"] = o.Transactions
	}
	if o.SerializedFulfillments != nil {
		out["fulfillments"] = o.SerializedFulfillments
	}
	if o.SerializedCompletion != nil {
		out["completion"] = o.SerializedCompletion
	}
	if o.SerializedDispute != nil {
		out["dispute"] = o.SerializedDispute
	}
	if o.SerializedResolution != nil {
		out["resolution"] = o.SerializedResolution
	}
	if o.SerializedProcessingError != nil {
		out["processingError"] = o.SerializedProcessingError
	}
	if o.PayoutTransactionID != "" {
		out["payoutTransactionID"] = o.PayoutTransactionID
	}

	return json.Marshal(out)
}
