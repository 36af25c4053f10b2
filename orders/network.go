package orders

import (
	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
)

// HandleIncomingMessage is the entry point for order messages arriving
// off the network. It satisfies the transport's handler signature:
// register it with Transport.RegisterHandler when wiring the node.
//
// Duplicates are dropped after re-ACKing, ACKs flow to the messenger,
// and everything else runs through ProcessMessage. The event the
// handler produced, if any, is emitted on the bus after the database
// transaction commits.
func (op *OrderProcessor) HandleIncomingMessage(from string, message *models.OrderMessage) {
	if message.MessageType == models.TypeAck {
		op.handleAckMessage(message)
		return
	}

	if op.isDuplicate(message) {
		log.Debugf("Received duplicate message %s from %s", message.MessageID, from)
		op.messenger.SendACK(from, message.MessageID)
		return
	}

	var event interface{}
	err := op.db.Update(func(tx database.Tx) error {
		var err error
		event, err = op.ProcessMessage(tx, from, message)
		if err != nil {
			return err
		}
		return tx.Save(&models.IncomingMessage{ID: message.MessageID})
	})
	if err != nil {
		log.Errorf("Error processing %s message %s from peer %s: %s", message.MessageType, message.MessageID, from, err)
		return
	}

	// The message mutated our record, so an ACK is safe even if the
	// sender never learns whether we agreed with it.
	op.messenger.SendACK(from, message.MessageID)

	if event != nil {
		op.bus.Emit(event)
	}
}

// handleAckMessage hands an ACK to the messenger so the acked message
// leaves the retry queue.
func (op *OrderProcessor) handleAckMessage(message *models.OrderMessage) {
	err := op.db.Update(func(tx database.Tx) error {
		return op.messenger.ProcessACK(tx, message)
	})
	if err != nil {
		log.Errorf("Error processing ACK %s: %s", message.MessageID, err)
		return
	}
	ack := new(models.AckMessage)
	if err := message.GetPayload(ack); err == nil {
		op.bus.Emit(&events.MessageACK{MessageID: ack.AckedMessageID})
	}
}

// isDuplicate reports whether the message ID was processed before.
func (op *OrderProcessor) isDuplicate(message *models.OrderMessage) bool {
	err := op.db.View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", message.MessageID).First(&models.IncomingMessage{}).Error
	})
	return err == nil
}
