package models

// OrderState represents the lifecycle state of an order. Each party
// holds its own copy of the order and derives the same state from the
// same externally observable evidence (peer messages, escrow
// transactions, elapsed timeouts).
type OrderState string

const (
	// StateAwaitingPayment is the initial state for an order placed
	// while the vendor was online. The escrow address has not yet
	// received the full payment amount.
	StateAwaitingPayment OrderState = "AWAITING_PAYMENT"

	// StatePending is the initial state for an order placed while the
	// vendor was offline. The order was paid into a cancelable escrow
	// address and is waiting for the vendor to confirm or reject it.
	StatePending OrderState = "PENDING"

	// StateAwaitingFulfillment means full payment has been observed at
	// the escrow address and the vendor may now fulfill.
	StateAwaitingFulfillment OrderState = "AWAITING_FULFILLMENT"

	// StatePartiallyFulfilled means at least one, but not all, items in
	// the order have a fulfillment record.
	StatePartiallyFulfilled OrderState = "PARTIALLY_FULFILLED"

	// StateFulfilled means every item in the order has a fulfillment
	// record.
	StateFulfilled OrderState = "FULFILLED"

	// StateCompleted is the cooperative terminal state. The buyer has
	// completed the order and the escrow was released to the vendor.
	StateCompleted OrderState = "COMPLETED"

	// StateCanceled means the buyer canceled an order the vendor had
	// not yet processed and swept the cancelable escrow back.
	StateCanceled OrderState = "CANCELED"

	// StateDeclined means the vendor rejected a pending offline order
	// and the payment was returned to the buyer.
	StateDeclined OrderState = "DECLINED"

	// StateRefunded means the vendor voluntarily refunded a funded,
	// unshipped order.
	StateRefunded OrderState = "REFUNDED"

	// StateDisputed means either party opened a dispute with the
	// moderator and the order is frozen pending resolution.
	StateDisputed OrderState = "DISPUTED"

	// StateDecided means the moderator has published a resolution but
	// the winning party has not yet executed the payout.
	StateDecided OrderState = "DECIDED"

	// StateResolved means the dispute payout has been broadcast and
	// observed. Terminal for disputed orders.
	StateResolved OrderState = "RESOLVED"

	// StatePaymentFinalized means the escrow was released unilaterally
	// after the timeout elapsed, bypassing fulfillment or dispute.
	StatePaymentFinalized OrderState = "PAYMENT_FINALIZED"

	// StateProcessingError means the vendor could not construct a valid
	// response to the order, for example because the shipping address
	// failed validation. Terminal with error on both parties' records.
	StateProcessingError OrderState = "PROCESSING_ERROR"
)

// String returns the string representation of the state.
func (s OrderState) String() string {
	return string(s)
}

// Terminal returns whether the state permits no further transitions.
// Transaction history remains append-only after a terminal state is
// reached but the state value itself is frozen.
func (s OrderState) Terminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateDeclined, StateRefunded,
		StateResolved, StatePaymentFinalized, StateProcessingError:
		return true
	}
	return false
}

// transitions is the legal transition graph. A requested transition
// not present here is rejected; a requested transition equal to the
// current state is a no-op.
var transitions = map[OrderState][]OrderState{
	StateAwaitingPayment: {
		StateAwaitingFulfillment,
		StateCanceled,
		StateProcessingError,
	},
	StatePending: {
		StateAwaitingPayment,
		StateAwaitingFulfillment,
		StateCanceled,
		StateDeclined,
		StateProcessingError,
	},
	StateAwaitingFulfillment: {
		StatePartiallyFulfilled,
		StateFulfilled,
		StateRefunded,
		StateDisputed,
		StatePaymentFinalized,
		StateProcessingError,
	},
	StatePartiallyFulfilled: {
		StateFulfilled,
		StateRefunded,
		StateDisputed,
		StatePaymentFinalized,
	},
	StateFulfilled: {
		StateCompleted,
		StateDisputed,
		StatePaymentFinalized,
	},
	StateDisputed: {
		StateDecided,
		StatePaymentFinalized,
	},
	StateDecided: {
		StateResolved,
	},
}

// CanTransition returns whether moving from s to next is a legal edge
// in the transition graph.
func (s OrderState) CanTransition(next OrderState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// NormalizeState maps state names used by earlier protocol versions
// onto the current enum. Version 0 peers named the cooperative
// terminal state COMPLETE and used RESOLVED for what is now DECIDED
// on disputant records.
func NormalizeState(s string, protocolVersion uint32) OrderState {
	if protocolVersion == 0 {
		switch s {
		case "COMPLETE":
			return StateCompleted
		case "RESOLVED":
			return StateDecided
		}
	}
	return OrderState(s)
}

// CaseState represents the moderator's view of a disputed trade. It is
// deliberately a separate enum from OrderState: the moderator's role
// ends at RESOLVED while the disputants still need to execute the
// payout before reaching their own terminal state.
type CaseState string

const (
	// CaseDisputed means the case is open and awaiting a resolution.
	CaseDisputed CaseState = "DISPUTED"

	// CaseResolved means the moderator has published a resolution.
	CaseResolved CaseState = "RESOLVED"

	// CaseExpired means the dispute timeout elapsed without a
	// resolution and a forced release is permitted.
	CaseExpired CaseState = "EXPIRED"
)
