package connector

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// errMissingSubprotocol is returned when a client's handshake doesn't
// accept the AFFiNE subprotocol.
var errMissingSubprotocol = errors.New("connector: client did not accept the AFFiNE subprotocol")

// Transport is the framed, bidirectional byte channel a Connector drives
// its state machine over. Spec §6 requires the transport to preserve
// frame boundaries; gorilla/websocket's message-oriented API does this
// for free, replacing the teacher's own hand-rolled, unfinished RFC 6455
// framer.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	// Close sends a close frame carrying code/reason and tears down the
	// underlying connection.
	Close(code int, reason string) error
}

// protocolTag is the subprotocol the server MUST advertise per spec §6.
const protocolTag = "AFFiNE"

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{protocolTag},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport adapts a *websocket.Conn to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

// Upgrade performs the WebSocket handshake, rejecting the connection if
// the client does not accept the AFFiNE subprotocol (spec §6). gorilla
// negotiates a subprotocol from the client's offer but never refuses the
// connection on its own when none match, so that check has to happen
// here.
func Upgrade(w http.ResponseWriter, r *http.Request) (Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if conn.Subprotocol() != protocolTag {
		msg := websocket.FormatCloseMessage(ClosePolicy, "missing AFFiNE subprotocol")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return nil, errMissingSubprotocol
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteFrame(data []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
