package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookSend(t *testing.T) {
	t.Parallel()

	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.Send(context.Background(), Event{OrderID: "order-1", Status: "paid", TxHash: "0xgrant"})
	require.NoError(t, err)
	require.Equal(t, "order-1", got.OrderID)
	require.Equal(t, "paid", got.Status)
}

func TestWebhookSendNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), Event{OrderID: "order-1"})
	require.Error(t, err)
}

func TestWebhookSendNoURLIsNoop(t *testing.T) {
	t.Parallel()

	var w *Webhook
	require.NoError(t, w.Send(context.Background(), Event{}))
	require.NoError(t, NewWebhook("").Send(context.Background(), Event{}))
}
