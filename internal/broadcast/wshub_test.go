package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// serverConn runs a throwaway websocket handshake and hands back the
// server side of the connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	dialURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return <-conns
}

func TestWSHub_UnregisterTwiceIsSafe(t *testing.T) {
	h := NewWSHub(zerolog.Nop(), nil)

	client := &wsClient{
		id:   uuid.NewString(),
		room: roomKey(EntityAuction, uuid.New()),
		conn: serverConn(t),
		send: make(chan []byte, 1),
	}
	members, _ := h.rooms.LoadOrStore(client.room, &sync.Map{})
	members.(*sync.Map).Store(client, true)

	// A slow-client disconnect and the read pump's exit both queue an
	// unregister for the same client. The second must be a no-op, not a
	// double close.
	h.unregisterClient(client)
	h.unregisterClient(client)

	if _, open := <-client.send; open {
		t.Fatal("send channel still open after unregister")
	}

	count := 0
	members.(*sync.Map).Range(func(any, any) bool { count++; return true })
	if count != 0 {
		t.Fatalf("room members after unregister: got %d, want 0", count)
	}
}
