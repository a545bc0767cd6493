// Package wsserver adapts internal/rpc.Server to serve its envelope
// protocol over a websocket, using gorilla/websocket, grounded on the
// Upgrader pattern from the example pack's assistant HTTP command.
package wsserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/flowforge/internal/logging"
	"github.com/dshills/flowforge/internal/rpc"
)

// Handler upgrades incoming HTTP connections to websockets and hands
// each one to an rpc.Server as a new connection.
type Handler struct {
	srv      *rpc.Server
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler serving srv over websocket upgrades.
// CheckOrigin always allows: this is a local host-automation channel,
// not a public endpoint, matching spec.md's "named" (not
// internet-facing) RPC channel.
func NewHandler(srv *rpc.Server, log *logging.Logger) *Handler {
	return &Handler{
		srv: srv,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("error", err).Warn("websocket upgrade failed")
		return
	}

	t := &wsTransport{conn: conn}
	c := h.srv.NewConn(t)
	c.Serve(r.Context())
}

// wsTransport implements rpc.Transport over one gorilla/websocket
// connection, framing each Envelope as a single text message.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Recv() (*rpc.Envelope, error) {
	var env rpc.Envelope
	if err := t.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (t *wsTransport) Send(env *rpc.Envelope) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
