package connector

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUpgradeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport, err := Upgrade(w, r)
		if err != nil {
			return
		}
		defer transport.Close(CloseNormal, "test done")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpgradeAcceptsAFFiNESubprotocol(t *testing.T) {
	srv := newUpgradeServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialer := websocket.Dialer{Subprotocols: []string{protocolTag}}
	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, protocolTag, conn.Subprotocol())
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestUpgradeRejectsMissingSubprotocol(t *testing.T) {
	srv := newUpgradeServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err, "the handshake itself succeeds; the server closes immediately after")
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %T: %v", err, err)
	assert.Equal(t, ClosePolicy, closeErr.Code)
}
