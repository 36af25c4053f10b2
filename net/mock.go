package net

import (
	"context"
	"sync"

	"github.com/tradebay/escrowd/models"
)

// MockNetwork wires MockTransports together in memory. Messages sent
// on one transport are delivered directly to the handler of the
// destination transport, which makes it possible to run several full
// nodes inside a single test process.
type MockNetwork struct {
	mtx        sync.Mutex
	transports map[string]*MockTransport
}

// NewMockNetwork returns a new, empty mock network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{transports: make(map[string]*MockTransport)}
}

// NewTransport creates a transport attached to this network with the
// given peer ID.
func (n *MockNetwork) NewTransport(peerID string) *MockTransport {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	t := &MockTransport{
		peerID:  peerID,
		network: n,
		online:  true,
	}
	n.transports[peerID] = t
	return t
}

// MockTransport is an in-memory implementation of the Transport
// interface. Transports can be taken offline to exercise the
// store-and-forward redelivery path.
type MockTransport struct {
	peerID  string
	network *MockNetwork
	handler MessageHandler
	online  bool
	mtx     sync.Mutex
}

// OurID returns this transport's peer ID.
func (t *MockTransport) OurID() string {
	return t.peerID
}

// RegisterHandler sets the inbound message handler.
func (t *MockTransport) RegisterHandler(handler MessageHandler) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.handler = handler
}

// SetOnline toggles whether this transport accepts inbound messages.
// Sends to an offline transport fail with ErrPeerUnreachable.
func (t *MockTransport) SetOnline(online bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.online = online
}

// SendMessage delivers the message to the destination peer's handler.
// The handler runs on the calling goroutine.
func (t *MockTransport) SendMessage(ctx context.Context, to string, message *models.OrderMessage) error {
	t.mtx.Lock()
	if !t.online {
		t.mtx.Unlock()
		return ErrPeerUnreachable
	}
	t.mtx.Unlock()

	t.network.mtx.Lock()
	remote, ok := t.network.transports[to]
	t.network.mtx.Unlock()
	if !ok {
		return ErrPeerUnreachable
	}

	remote.mtx.Lock()
	online, handler := remote.online, remote.handler
	remote.mtx.Unlock()
	if !online || handler == nil {
		return ErrPeerUnreachable
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Copy so the receiver never shares memory with the sender.
	cpy := *message
	handler(t.peerID, &cpy)
	return nil
}

// Close removes the transport from the network.
func (t *MockTransport) Close() error {
	t.network.mtx.Lock()
	defer t.network.mtx.Unlock()

	delete(t.network.transports, t.peerID)
	return nil
}
