package horizon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoFirstRecord answers every subscribe command with one record for that
// subscription, written before anything else.
func echoFirstRecord(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd streamCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Action != "subscribe" {
				continue
			}
			msg := streamMessage{Subscription: cmd.ID, Record: json.RawMessage(`{"id":"first"}`)}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscribeReceivesImmediateRecord(t *testing.T) {
	srv := echoFirstRecord(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWSClient(wsURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = client.Close() })

	got := make(chan string, 1)
	release, err := client.Subscribe(context.Background(), "/accounts/x/effects", "now", func(rec json.RawMessage) {
		var v struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(rec, &v) == nil {
			got <- v.ID
		}
	})
	require.NoError(t, err)
	defer release()

	select {
	case id := <-got:
		assert.Equal(t, "first", id)
	case <-time.After(2 * time.Second):
		t.Fatal("record sent right after subscribe was not delivered")
	}
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	srv := echoFirstRecord(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWSClient(wsURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, client.Close())

	_, err := client.Subscribe(context.Background(), "/accounts/x", "", func(json.RawMessage) {})
	require.Error(t, err)

	client.handlerMu.RLock()
	defer client.handlerMu.RUnlock()
	assert.Empty(t, client.subs)
}
