package api

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/op/go-logging"
	"github.com/tradebay/escrowd/events"
)

var log = logging.MustGetLogger("API")

type GatewayConfig struct {
	Listener   net.Listener
	NoCors     bool
	AllowedIPs map[string]bool
	Cookie     string
	Username   string
	Password   string
	UseSSL     bool
	SSLCert    string
	SSLKey     string
}

// Gateway represents an HTTP API gateway
type Gateway struct {
	listener net.Listener
	node     EscrowNode
	handler  http.Handler
	config   *GatewayConfig
	hub      *hub
	sub      events.Subscription
}

// NewGateway instantiates a new gateway. Order and dispute
// notifications are pushed to websocket clients as they fire.
func NewGateway(node EscrowNode, config *GatewayConfig) (*Gateway, error) {
	g := &Gateway{
		node:     node,
		config:   config,
		listener: config.Listener,
		hub:      newHub(),
	}

	r := g.newV1Router()

	if !config.NoCors {
		r.Use(mux.CORSMethodMiddleware(r))
	}
	r.Use(g.AuthenticationMiddleware)

	topMux := http.NewServeMux()
	topMux.Handle("/v1/", r)
	topMux.Handle("/ws", newWebsocketHandler(g.hub))

	go g.hub.run()
	if err := g.listenForEvents(); err != nil {
		return nil, err
	}

	g.handler = topMux
	return g, nil
}

// Close shutsdown the Gateway listener.
func (g *Gateway) Close() error {
	if g.sub != nil {
		g.sub.Close()
	}
	return g.listener.Close()
}

// Serve begins listening on the configured address.
func (g *Gateway) Serve() error {
	log.Infof("Gateway/API server listening on %s\n", g.listener.Addr())
	var err error
	if g.config.UseSSL {
		err = http.ListenAndServeTLS(g.listener.Addr().String(), g.config.SSLCert, g.config.SSLKey, g.handler)
	} else {
		err = http.Serve(g.listener, g.handler)
	}
	return err
}

func (g *Gateway) newV1Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/order/purchase", g.handlePOSTPurchase).Methods("POST")
	r.HandleFunc("/v1/order/estimate", g.handlePOSTEstimateTotal).Methods("POST")
	r.HandleFunc("/v1/order/confirm/{orderID}", g.handlePOSTConfirmOrder).Methods("POST")
	r.HandleFunc("/v1/order/reject/{orderID}", g.handlePOSTRejectOrder).Methods("POST")
	r.HandleFunc("/v1/order/cancel/{orderID}", g.handlePOSTCancelOrder).Methods("POST")
	r.HandleFunc("/v1/order/fulfill/{orderID}", g.handlePOSTFulfillOrder).Methods("POST")
	r.HandleFunc("/v1/order/complete/{orderID}", g.handlePOSTCompleteOrder).Methods("POST")
	r.HandleFunc("/v1/order/refund/{orderID}", g.handlePOSTRefundOrder).Methods("POST")
	r.HandleFunc("/v1/order/releaseescrow/{orderID}", g.handlePOSTReleaseEscrow).Methods("POST")
	r.HandleFunc("/v1/order/releasefunds/{orderID}", g.handlePOSTReleaseFunds).Methods("POST")
	r.HandleFunc("/v1/order/opendispute/{orderID}", g.handlePOSTOpenDispute).Methods("POST")
	r.HandleFunc("/v1/order/closedispute/{caseID}", g.handlePOSTCloseDispute).Methods("POST")
	r.HandleFunc("/v1/order/{orderID}", g.handleGETOrder).Methods("GET")
	r.HandleFunc("/v1/case/{caseID}", g.handleGETCase).Methods("GET")

	r.HandleFunc("/v1/wallet/address", g.handleGETAddress).Methods("GET")
	r.HandleFunc("/v1/wallet/address/{coinType}", g.handleGETAddress).Methods("GET")
	r.HandleFunc("/v1/wallet/balance", g.handleGETBalance).Methods("GET")
	r.HandleFunc("/v1/wallet/balance/{coinType}", g.handleGETBalance).Methods("GET")
	return r
}

// listenForEvents subscribes to the order and dispute notifications
// and relays them to connected websocket clients.
func (g *Gateway) listenForEvents() error {
	sub, err := g.node.SubscribeEvent([]interface{}{
		new(events.NewOrder),
		new(events.OrderPaymentReceived),
		new(events.OrderFunded),
		new(events.OrderConfirmation),
		new(events.OrderDeclined),
		new(events.OrderCancel),
		new(events.OrderFulfillment),
		new(events.OrderCompletion),
		new(events.Refund),
		new(events.DisputeOpen),
		new(events.DisputeUpdate),
		new(events.DisputeClose),
		new(events.DisputeAccepted),
		new(events.PaymentFinalized),
		new(events.ProcessingError),
		new(events.CaseExpired),
	})
	if err != nil {
		return err
	}
	g.sub = sub
	go func() {
		for event := range sub.Out() {
			out, err := marshalAndSanitizeJSON(event)
			if err != nil {
				log.Errorf("Error marshalling websocket notification: %s", err)
				continue
			}
			g.hub.Broadcast <- out
		}
	}()
	return nil
}
