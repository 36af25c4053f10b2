package orders

import (
	"testing"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/events"
	"github.com/tradebay/escrowd/models"
)

func TestOrderProcessor_HandleIncomingMessage(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentCancelable)
	if err != nil {
		t.Fatal(err)
	}

	order, err := tr.newOrder(models.StatePending)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.saveOrder(order); err != nil {
		t.Fatal(err)
	}

	// Stand up the vendor's side of the network so the buyer's ACK has
	// somewhere to land.
	acks := make(chan *models.OrderMessage, 4)
	vendorTransport := tr.mocknet.NewTransport(tr.vendor.PeerID)
	vendorTransport.RegisterHandler(func(from string, message *models.OrderMessage) {
		if message.MessageType == models.TypeAck {
			acks <- message
		}
	})

	sub, err := tr.node.bus.Subscribe(new(events.OrderConfirmation))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	message, err := signedOrderMessage(tr.orderID, models.TypeOrderConfirmation, &models.Confirmation{Timestamp: time.Now()}, tr.vendor.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	tr.node.HandleIncomingMessage(tr.vendor.PeerID, message)

	select {
	case e := <-sub.Out():
		confirmation := e.(*events.OrderConfirmation)
		if confirmation.OrderID != tr.orderID.String() {
			t.Errorf("Event carries order %s, expected %s", confirmation.OrderID, tr.orderID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the order confirmation event")
	}

	select {
	case ack := <-acks:
		payload := new(models.AckMessage)
		if err := ack.GetPayload(payload); err != nil {
			t.Fatal(err)
		}
		if payload.AckedMessageID != message.MessageID {
			t.Errorf("ACK acknowledges %s, expected %s", payload.AckedMessageID, message.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the ACK")
	}

	saved, err := tr.savedOrder()
	if err != nil {
		t.Fatal(err)
	}
	if saved.OrderState() != models.StateAwaitingPayment {
		t.Errorf("Expected state %s, got %s", models.StateAwaitingPayment, saved.OrderState())
	}

	// A redelivered message is dropped after re-ACKing so the sender
	// stops retrying.
	tr.node.HandleIncomingMessage(tr.vendor.PeerID, message)
	select {
	case <-acks:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the duplicate's ACK")
	}
	var incoming []models.IncomingMessage
	err = tr.node.db.View(func(tx database.Tx) error {
		return tx.Read().Find(&incoming).Error
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(incoming) != 1 {
		t.Errorf("Expected 1 recorded incoming message, got %d", len(incoming))
	}
}

func TestOrderProcessor_HandleIncomingMessage_ack(t *testing.T) {
	tr, err := newTestTrade(models.RoleBuyer, models.PaymentCancelable)
	if err != nil {
		t.Fatal(err)
	}

	outgoing, err := signedOrderMessage(tr.orderID, models.TypeOrderCancel, &models.Cancel{Timestamp: time.Now()}, tr.buyer.IdentityKey)
	if err != nil {
		t.Fatal(err)
	}
	err = tr.node.db.Update(func(tx database.Tx) error {
		return tr.node.messenger.ReliablySendMessage(tx, tr.vendor.PeerID, outgoing, nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	sub, err := tr.node.bus.Subscribe(new(events.MessageACK))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ack := &models.OrderMessage{
		MessageID:   "ack1",
		MessageType: models.TypeAck,
	}
	if err := ack.PutPayload(&models.AckMessage{AckedMessageID: outgoing.MessageID}); err != nil {
		t.Fatal(err)
	}
	tr.node.HandleIncomingMessage(tr.vendor.PeerID, ack)

	select {
	case e := <-sub.Out():
		acked := e.(*events.MessageACK)
		if acked.MessageID != outgoing.MessageID {
			t.Errorf("Event acknowledges %s, expected %s", acked.MessageID, outgoing.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the ACK event")
	}

	queued, err := tr.queuedMessages(models.TypeOrderCancel)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 0 {
		t.Errorf("Expected the ACKed message to leave the queue, found %d", len(queued))
	}
}
