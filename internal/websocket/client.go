package websocket

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 4096

	// Размер буфера исходящих сообщений клиента
	clientSendBufferSize = 256
)

// originChecker проверяет Origin за O(1) по предсобранной карте
type originChecker struct {
	allowed  map[string]struct{}
	allowAll bool
}

var origins = initOriginChecker()

func initOriginChecker() *originChecker {
	checker := &originChecker{allowed: make(map[string]struct{})}

	// ALLOWED_ORIGINS=http://localhost:3000,https://example.com
	env := os.Getenv("ALLOWED_ORIGINS")
	if env == "" || env == "*" {
		checker.allowAll = true
		return checker
	}

	for _, origin := range strings.Split(env, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			checker.allowed[origin] = struct{}{}
		}
	}
	return checker
}

func (oc *originChecker) check(origin string) bool {
	if origin == "" {
		// Не-браузерные клиенты (curl, мониторинг)
		return true
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowed[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return origins.check(r.Header.Get("Origin"))
	},
	EnableCompression: true,
}

// Client - одно WebSocket соединение дашборда
//
// Поток только серверный: клиент ничего не командует, входящие
// сообщения читаются лишь для контроля живости соединения.
// На клиента работают две горутины: readPump и writePump.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

// readPump читает входящие сообщения и контролирует соединение
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("ws read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump отправляет сообщения из канала send и шлет ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Добираем накопившиеся сообщения одним фреймом
		drainLoop:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение и регистрирует клиента в hub
//
// Использование в маршрутах:
// router.HandleFunc("/ws/stream", func(w, r) { websocket.ServeWS(hub, w, r) })
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, clientSendBufferSize),
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}
