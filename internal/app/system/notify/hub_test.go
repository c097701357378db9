package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHubServer(t *testing.T, hub *notify.Hub, userID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Attach(conn, userID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, hub *notify.Hub, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected(userID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("Connected(%s) = %d, want %d", userID, hub.Connected(userID), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_DeliverReachesUserConnection(t *testing.T) {
	hub := notify.NewHub(zap.NewNop())
	defer hub.Close()
	conn := startHubServer(t, hub, "user-1")
	waitConnected(t, hub, "user-1", 1)

	ev := notify.Event{ID: "e1", Kind: notify.KindTaskUnassigned, Title: "Задача", Message: "Задача была сброшена администратором."}
	if err := hub.Deliver(context.Background(), "user-1", ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got notify.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "e1" || got.Kind != notify.KindTaskUnassigned || got.Message != ev.Message {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestHub_OtherUsersDoNotReceive(t *testing.T) {
	hub := notify.NewHub(zap.NewNop())
	defer hub.Close()
	conn := startHubServer(t, hub, "user-2")
	waitConnected(t, hub, "user-2", 1)

	_ = hub.Deliver(context.Background(), "someone-else", notify.Event{ID: "x"})

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no message for another user")
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := notify.NewHub(zap.NewNop())
	defer hub.Close()
	conn := startHubServer(t, hub, "user-3")
	waitConnected(t, hub, "user-3", 1)

	conn.Close()
	waitConnected(t, hub, "user-3", 0)
}
