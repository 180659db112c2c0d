package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-pedidos-client/internal/transport"
)

// recordingServer accepts one realtime client and forwards every event name
// it reads.
func recordingServer(t *testing.T) (string, <-chan string) {
	t.Helper()
	events := make(chan string, 16)
	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env transport.Envelope
			if json.Unmarshal(data, &env) == nil {
				events <- env.Event
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", events
}

type leavingRooms struct{ socket *transport.Socket }

func (r leavingRooms) CloseAll(ctx context.Context) {
	_ = r.socket.LeaveRoom(ctx, "r1", "7")
}

func next(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("no event reached the server")
	}
	return ""
}

func TestStartRealtime_LeavesRoomsAfterSignal(t *testing.T) {
	url, events := recordingServer(t)
	socket := transport.NewSocket(transport.SocketOptions{URL: url, MaxTries: 3, MaxInterval: 20 * time.Millisecond})

	signalCtx, cancelSignal := context.WithCancel(context.Background())
	stop := startRealtime(socket)

	if err := socket.JoinRoom(signalCtx, transport.Membership{RoomID: "r1", UserID: "7"}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if ev := next(t, events); ev != transport.EventJoinRoom {
		t.Fatalf("want joinRoom, got %q", ev)
	}

	cancelSignal()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stop(ctx, leavingRooms{socket: socket})

	if ev := next(t, events); ev != transport.EventLeaveRoom {
		t.Fatalf("want leaveRoom, got %q", ev)
	}
	if socket.Connected() {
		t.Fatalf("socket should be stopped after shutdown")
	}
}
