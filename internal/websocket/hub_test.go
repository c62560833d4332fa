package websocket

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"gridbot/internal/models"
)

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}

func TestHubBroadcastDeliversToClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	first := &Client{hub: hub, send: make(chan []byte, 4)}
	second := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.register <- first
	hub.register <- second
	waitForClients(t, hub, 2)

	hub.BroadcastTask(&models.GridTask{ID: "t1", Status: models.TaskStatusRunning})

	for _, client := range []*Client{first, second} {
		select {
		case raw := <-client.send:
			var msg TaskUpdateMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal broadcast: %v", err)
			}
			if msg.Type != "taskUpdate" || msg.Data.ID != "t1" {
				t.Errorf("message = %s/%s, want taskUpdate/t1", msg.Type, msg.Data.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("client did not receive the broadcast")
		}
	}
}

func TestHubRemovesSlowClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	// Буфер в один элемент: второе сообщение не влезает
	slow := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow
	waitForClients(t, hub, 1)

	hub.BroadcastOrder(&models.Order{OrderID: "ex-1"})
	hub.BroadcastOrder(&models.Order{OrderID: "ex-2"})

	waitForClients(t, hub, 0)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client
	waitForClients(t, hub, 1)

	hub.unregister <- client
	waitForClients(t, hub, 0)

	select {
	case _, open := <-client.send:
		if open {
			t.Error("send channel must be closed after unregister")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}
