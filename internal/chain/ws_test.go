package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHeadWakeClosesConnOnCancel(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	connClosed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Swallow the subscribe request, then go silent; this read only
		// returns once the client side closes the connection.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		close(connClosed)
	}))
	defer srv.Close()

	e := &Executor{WSEndpoint: "ws" + strings.TrimPrefix(srv.URL, "http")}
	ctx, cancel := context.WithCancel(context.Background())
	_ = e.headWake(ctx)
	cancel()

	select {
	case <-connClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("websocket connection survived cancellation")
	}
}

func TestParseHead(t *testing.T) {
	t.Parallel()

	n, ok, err := ParseHead([]byte(`{"method":"eth_subscription","params":{"result":{"number":"0x10"}}}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(16), n)

	_, ok, err = ParseHead([]byte(`{"id":1,"result":"0xsub"}`))
	require.NoError(t, err)
	require.False(t, ok, "subscription ack is not a head")

	_, _, err = ParseHead([]byte(`{"error":{"code":-32601,"message":"no subscriptions"}}`))
	require.Error(t, err)
}

func TestDefaultWSEndpoint(t *testing.T) {
	t.Parallel()

	require.Equal(t, "wss://rpc.example/v1", DefaultWSEndpoint("https://rpc.example/v1"))
	require.Equal(t, "ws://localhost:8545", DefaultWSEndpoint("http://localhost:8545/"))
	require.Equal(t, "wss://already.example", DefaultWSEndpoint("wss://already.example"))
	require.Empty(t, DefaultWSEndpoint("ipc:///tmp/geth.ipc"))
}
