package net

import (
	"context"
	"errors"

	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/models"
)

var log = logging.MustGetLogger("NET")

// ErrPeerUnreachable is returned by a transport when the remote peer
// cannot be dialed or does not respond before the context expires.
var ErrPeerUnreachable = errors.New("peer unreachable")

// MessageHandler is invoked for each order message received from the
// network. The from argument is the peer ID of the sender as
// authenticated by the transport.
type MessageHandler func(from string, message *models.OrderMessage)

// Transport moves order messages between peers. Implementations own
// the wire envelope, peer authentication, and connection management.
// The rest of the node only ever sees authenticated OrderMessages, so
// the transport can be swapped out without touching the order state
// machine.
type Transport interface {
	// OurID returns our own peer ID.
	OurID() string

	// SendMessage sends the message to the given peer, blocking until
	// the peer has received it or the context expires. A non-nil error
	// means delivery was not confirmed and the message should be
	// retried later.
	SendMessage(ctx context.Context, to string, message *models.OrderMessage) error

	// RegisterHandler sets the function invoked for each inbound
	// message. It must be called before messages start flowing.
	RegisterHandler(handler MessageHandler)

	// Close shuts down the transport.
	Close() error
}
