package models

import (
	"encoding/json"
	"time"
)

// MessageType identifies the order message being conveyed.
type MessageType string

const (
	// TypeOrderOpen conveys a new order and its contract.
	TypeOrderOpen MessageType = "ORDER_OPEN"
	// TypeOrderConfirmation conveys the vendor's confirmation of a
	// pending offline order.
	TypeOrderConfirmation MessageType = "ORDER_CONFIRMATION"
	// TypeOrderReject conveys the vendor's rejection of a pending
	// offline order.
	TypeOrderReject MessageType = "ORDER_REJECT"
	// TypeOrderCancel conveys the buyer's cancelation of an
	// unprocessed order.
	TypeOrderCancel MessageType = "ORDER_CANCEL"
	// TypeOrderFulfillment conveys a vendor fulfillment record.
	TypeOrderFulfillment MessageType = "ORDER_FULFILLMENT"
	// TypeOrderComplete conveys the buyer's completion and ratings.
	TypeOrderComplete MessageType = "ORDER_COMPLETE"
	// TypeRefund conveys a vendor refund.
	TypeRefund MessageType = "REFUND"
	// TypeDisputeOpen conveys a dispute claim to the counter-party and
	// the moderator.
	TypeDisputeOpen MessageType = "DISPUTE_OPEN"
	// TypeDisputeUpdate conveys the counter-party's contract copy to
	// the moderator.
	TypeDisputeUpdate MessageType = "DISPUTE_UPDATE"
	// TypeDisputeClose conveys the moderator's resolution to both
	// disputants.
	TypeDisputeClose MessageType = "DISPUTE_CLOSE"
	// TypePaymentFinalized conveys a timeout-gated unilateral release.
	TypePaymentFinalized MessageType = "PAYMENT_FINALIZED"
	// TypeProcessingError conveys the vendor's failure to process a
	// received order.
	TypeProcessingError MessageType = "PROCESSING_ERROR"
	// TypeAck acknowledges receipt of a previous message.
	TypeAck MessageType = "ACK"
)

// OrderMessage is the role-scoped payload exchanged between parties
// for a single order. The wire encoding of the outer peer-to-peer
// envelope is owned by the transport; this struct only defines what
// the state machine consumes.
type OrderMessage struct {
	MessageID   string          `json:"messageID"`
	OrderID     OrderID         `json:"orderID"`
	MessageType MessageType     `json:"messageType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Signature   []byte          `json:"signature,omitempty"`
}

// GetPayload deserializes the message payload into v.
func (m *OrderMessage) GetPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// PutPayload serializes v into the message payload.
func (m *OrderMessage) PutPayload(v interface{}) error {
	ser, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Payload = ser
	return nil
}

// AckMessage is the payload of a TypeAck message.
type AckMessage struct {
	AckedMessageID string `json:"ackedMessageID"`
}

// OutgoingMessage represents a message that we've sent to another
// peer. It will remain in the database until the remote peer ACKs the
// message, with periodic redelivery attempts in between.
type OutgoingMessage struct {
	ID                string `gorm:"primaryKey"`
	Recipient         string `gorm:"index"`
	SerializedMessage []byte
	MessageType       string
	Timestamp         time.Time
	LastAttempt       time.Time
}

// Message deserializes the stored order message.
func (m *OutgoingMessage) Message() (*OrderMessage, error) {
	msg := new(OrderMessage)
	if err := json.Unmarshal(m.SerializedMessage, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// IncomingMessage represents a message that we've received. We store
// all received message IDs in the database so we can tell when we've
// received a duplicate.
type IncomingMessage struct {
	ID string `gorm:"primaryKey"`
}
