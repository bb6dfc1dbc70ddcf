package stream

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func testHubLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return logrus.NewEntry(log)
}

func newTestHubServer(t *testing.T) (*Hub, *httptest.Server, chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	hub := NewHub(ChannelMain, testHubLogger())
	go hub.Run(done)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
		hub.Accept(conn)
	}))
	return hub, srv, done
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestHubBroadcastDeliversToClient(t *testing.T) {
	hub, srv, done := newTestHubServer(t)
	defer srv.Close()
	defer close(done)

	conn := dial(t, srv)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let registration land

	hub.BroadcastEvent(map[string]string{"type": "task_start"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a broadcast message, got error: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal broadcast: %v", err)
	}
	if got["type"] != "task_start" {
		t.Errorf("expected type task_start, got %q", got["type"])
	}
}

func TestHubPingYieldsPongToSenderOnly(t *testing.T) {
	hub, srv, done := newTestHubServer(t)
	defer srv.Close()
	defer close(done)

	conn := dial(t, srv)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a pong, got error: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal pong: %v", err)
	}
	if got["type"] != "pong" {
		t.Errorf("expected type pong, got %v", got["type"])
	}
}

func TestHubBroadcastToEmptySetIsNoop(t *testing.T) {
	hub, srv, done := newTestHubServer(t)
	defer srv.Close()
	defer close(done)

	hub.BroadcastEvent(map[string]string{"type": "task_start"})
}
