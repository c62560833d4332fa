// Package websocket рассылает live-обновления задач, ордеров и
// уведомлений подключенным клиентам дашборда.
package websocket

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"gridbot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================================
// Типизированные сообщения
// ============================================================================

// TaskUpdateMessage - обновление состояния задачи
type TaskUpdateMessage struct {
	Type string           `json:"type"`
	Data *models.GridTask `json:"data"`
}

// OrderUpdateMessage - новый или обновленный ордер
type OrderUpdateMessage struct {
	Type string        `json:"type"`
	Data *models.Order `json:"data"`
}

// NotificationMessage - уведомление для оператора
type NotificationMessage struct {
	Type string               `json:"type"`
	Data *models.Notification `json:"data"`
}

// Hub управляет всеми активными WebSocket соединениями
//
// Центральная точка рассылки: планировщик и реконсилятор отдают
// события сюда, hub доставляет их всем подключенным клиентам.
// Медленные клиенты, не успевающие читать, отключаются.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub создает hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run запускает главный цикл; должен работать в отдельной горутине
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			// Список копируется под коротким RLock, отправка идет
			// без блокировки, медленные клиенты удаляются под Lock
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				h.logger.Warn("slow ws clients removed", zap.Int("count", len(toRemove)))
			}
		}
	}
}

// Broadcast сериализует и отправляет сообщение всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("broadcast marshal failed", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		// Канал рассылки переполнен; событие придет со следующим
		// обновлением, клиенты всегда могут перечитать состояние по API
		h.logger.Warn("broadcast channel full, message dropped")
	}
}

// BroadcastTask отправляет обновление задачи
func (h *Hub) BroadcastTask(task *models.GridTask) {
	h.Broadcast(&TaskUpdateMessage{Type: "taskUpdate", Data: task})
}

// BroadcastOrder отправляет обновление ордера
func (h *Hub) BroadcastOrder(order *models.Order) {
	h.Broadcast(&OrderUpdateMessage{Type: "orderUpdate", Data: order})
}

// BroadcastNotification отправляет уведомление
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(&NotificationMessage{Type: "notification", Data: n})
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
