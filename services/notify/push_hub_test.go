package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestPushHubDeliversToSubscribedUser(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewPushHub(log)
	defer hub.Shutdown()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"action": "subscribe", "user_ids": []uint{7}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(7) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// other users do not receive it
	if err := hub.Send(context.Background(), Recipient{UserID: 8}, &RenderedMessage{Subject: "not yours"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := hub.Send(context.Background(), Recipient{UserID: 7}, &RenderedMessage{Subject: "NVDA alert", Text: "body"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "notification" || msg.Subject != "NVDA alert" {
		t.Fatalf("unexpected frame: %+v", msg)
	}
}

func TestPushHubSendWithoutClients(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewPushHub(log)
	defer hub.Shutdown()

	if err := hub.Send(context.Background(), Recipient{UserID: 1}, &RenderedMessage{Subject: "x"}); err != nil {
		t.Fatalf("offline recipient should not fail: %v", err)
	}
	hub.Shutdown() // second call is a no-op
}
