package net

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/tradebay/escrowd/database"
	"github.com/tradebay/escrowd/models"
)

const (
	// RetryInterval is how frequently the messenger scans the
	// database for unACKed messages to redeliver.
	RetryInterval = time.Minute * 10

	// SendTimeout is how long to wait for delivery confirmation
	// before giving up and leaving the message for the retry loop.
	SendTimeout = time.Second * 30
)

// Messenger provides retried, at-least-once delivery of order
// messages. An outgoing message is persisted in the same database
// transaction as the state change that produced it, sent after the
// transaction commits, and deleted only when the recipient ACKs the
// message ID. Until then the retry loop periodically attempts
// redelivery with a backoff that stretches out as the message ages.
type Messenger struct {
	transport Transport
	db        database.Database
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMessenger returns a new Messenger using the given transport.
func NewMessenger(transport Transport, db database.Database) *Messenger {
	return &Messenger{
		transport: transport,
		db:        db,
		done:      make(chan struct{}),
	}
}

// Start runs the redelivery loop. It should be called in a new
// goroutine.
func (m *Messenger) Start() {
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.retryAllMessages()
		}
	}
}

// Stop shuts down the redelivery loop and waits for any in-flight
// sends to finish.
func (m *Messenger) Stop() {
	close(m.done)
	m.wg.Wait()
}

// ReliablySendMessage persists the message inside tx and sends it to
// the peer once the transaction commits. The message remains in the
// database, subject to periodic redelivery, until the peer ACKs it.
//
// The done chan, if non-nil, is closed after the first delivery
// attempt completes whether or not it succeeded.
func (m *Messenger) ReliablySendMessage(tx database.Tx, to string, message *models.OrderMessage, done chan<- struct{}) error {
	ser, err := json.Marshal(message)
	if err != nil {
		maybeCloseDone(done)
		return err
	}
	err = tx.Save(&models.OutgoingMessage{
		ID:                message.MessageID,
		Recipient:         to,
		SerializedMessage: ser,
		MessageType:       string(message.MessageType),
		Timestamp:         time.Now(),
		LastAttempt:       time.Now(),
	})
	if err != nil {
		maybeCloseDone(done)
		return err
	}
	tx.RegisterCommitHook(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.trySendMessage(to, message, done)
		}()
	})
	return nil
}

// SendACK sends an acknowledgement of the given message ID to the
// peer. ACKs are fire and forget. If the peer misses this one, their
// next redelivery of the original message will trigger another.
func (m *Messenger) SendACK(to string, messageID string) {
	ack := &models.OrderMessage{
		MessageID:   newMessageID(),
		MessageType: models.TypeAck,
	}
	if err := ack.PutPayload(&models.AckMessage{AckedMessageID: messageID}); err != nil {
		log.Errorf("Error building ACK for message %s: %s", messageID, err)
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.trySendMessage(to, ack, nil)
	}()
}

// ProcessACK deletes the ACKed message from the outgoing queue so it
// is no longer retried.
func (m *Messenger) ProcessACK(tx database.Tx, ack *models.OrderMessage) error {
	payload := new(models.AckMessage)
	if err := ack.GetPayload(payload); err != nil {
		return err
	}
	log.Debugf("Received ACK for message ID %s", payload.AckedMessageID)
	return tx.Delete("id", payload.AckedMessageID, &models.OutgoingMessage{})
}

func (m *Messenger) trySendMessage(to string, message *models.OrderMessage, done chan<- struct{}) {
	defer maybeCloseDone(done)

	ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
	defer cancel()

	if err := m.transport.SendMessage(ctx, to, message); err != nil {
		log.Debugf("Delivery of message %s to peer %s failed: %s. Will retry later.", message.MessageID, to, err)
	}
}

// retryAllMessages loads all unACKed messages from the database and
// resends those that are due another attempt.
func (m *Messenger) retryAllMessages() {
	var messages []models.OutgoingMessage
	err := m.db.View(func(tx database.Tx) error {
		return tx.Read().Find(&messages).Error
	})
	if err != nil {
		log.Errorf("Error loading outgoing messages: %s", err)
		return
	}

	for _, om := range messages {
		if !shouldWeRetry(om.Timestamp, om.LastAttempt) {
			continue
		}
		message, err := om.Message()
		if err != nil {
			log.Errorf("Error unmarshalling outgoing message %s: %s", om.ID, err)
			continue
		}
		err = m.db.Update(func(tx database.Tx) error {
			return tx.Update("last_attempt", time.Now(), map[string]interface{}{"id = ?": om.ID}, &models.OutgoingMessage{})
		})
		if err != nil {
			log.Errorf("Error updating last attempt for message %s: %s", om.ID, err)
		}
		recipient := om.Recipient
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.trySendMessage(recipient, message, nil)
		}()
	}
}

// shouldWeRetry implements the redelivery backoff schedule. Young
// messages are retried aggressively and the interval stretches out as
// the message ages without an ACK.
func shouldWeRetry(timestamp, lastAttempt time.Time) bool {
	age := time.Since(timestamp)
	sinceAttempt := time.Since(lastAttempt)
	switch {
	case age < time.Hour:
		return sinceAttempt >= RetryInterval
	case age < time.Hour*24:
		return sinceAttempt >= time.Hour
	case age < time.Hour*24*7:
		return sinceAttempt >= time.Hour*6
	case age < time.Hour*24*30:
		return sinceAttempt >= time.Hour*24
	default:
		return sinceAttempt >= time.Hour*24*7
	}
}

func newMessageID() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func maybeCloseDone(done chan<- struct{}) {
	if done != nil {
		close(done)
	}
}
