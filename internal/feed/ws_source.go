package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// QuoteSink принимает котировки от источника данных
type QuoteSink interface {
	UpdateQuote(Quote)
}

// WSSourceConfig - настройки WebSocket источника котировок
type WSSourceConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка после exponential backoff
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания записи ping
	WriteTimeout time.Duration
}

// DefaultWSSourceConfig возвращает настройки по умолчанию: 2s, 4s, 8s, 16s
func DefaultWSSourceConfig() WSSourceConfig {
	return WSSourceConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Состояния соединения
type wsState int32

const (
	wsDisconnected wsState = iota
	wsConnecting
	wsConnected
	wsReconnecting
	wsClosed
)

// bookTickerMsg - сообщение потока лучших bid/ask
type bookTickerMsg struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// streamRequest - запрос подписки/отписки
type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// WSSource - поток котировок через WebSocket с автопереподключением
//
// При разрыве соединения переподключается с exponential backoff и
// восстанавливает все активные подписки. Разобранные котировки
// передаются в sink (менеджер подписок).
type WSSource struct {
	wsURL  string
	config WSSourceConfig
	sink   QuoteSink
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	state      int32 // atomic wsState
	retryCount int32 // atomic
	reqID      int64 // atomic, id запросов подписки

	// Символы для восстановления после переподключения
	symbols   map[string]struct{}
	symbolsMu sync.RWMutex

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewWSSource создает WebSocket источник котировок
func NewWSSource(wsURL string, config WSSourceConfig, sink QuoteSink, logger *zap.Logger) *WSSource {
	return &WSSource{
		wsURL:     wsURL,
		config:    config,
		sink:      sink,
		logger:    logger,
		symbols:   make(map[string]struct{}),
		closeChan: make(chan struct{}),
	}
}

// Connect устанавливает соединение и запускает чтение
func (s *WSSource) Connect() error {
	select {
	case <-s.closeChan:
		return fmt.Errorf("source is closed")
	default:
	}

	atomic.StoreInt32(&s.state, int32(wsConnecting))

	if err := s.dial(); err != nil {
		atomic.StoreInt32(&s.state, int32(wsDisconnected))
		return err
	}

	atomic.StoreInt32(&s.state, int32(wsConnected))
	atomic.StoreInt32(&s.retryCount, 0)

	go s.readPump()
	go s.pingPump()

	s.logger.Info("websocket connected", zap.String("url", s.wsURL))
	return nil
}

// Subscribe подписывается на поток лучших bid/ask символа
func (s *WSSource) Subscribe(symbol string) error {
	s.symbolsMu.Lock()
	s.symbols[symbol] = struct{}{}
	s.symbolsMu.Unlock()

	// До первого Connect подписка просто запоминается
	if s.getState() != wsConnected {
		return nil
	}
	return s.send(streamRequest{
		Method: "SUBSCRIBE",
		Params: []string{bookTickerStream(symbol)},
		ID:     atomic.AddInt64(&s.reqID, 1),
	})
}

// Unsubscribe снимает подписку на символ
func (s *WSSource) Unsubscribe(symbol string) error {
	s.symbolsMu.Lock()
	delete(s.symbols, symbol)
	s.symbolsMu.Unlock()

	if s.getState() != wsConnected {
		return nil
	}
	return s.send(streamRequest{
		Method: "UNSUBSCRIBE",
		Params: []string{bookTickerStream(symbol)},
		ID:     atomic.AddInt64(&s.reqID, 1),
	})
}

// Close закрывает соединение и останавливает переподключение
func (s *WSSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeChan)
		atomic.StoreInt32(&s.state, int32(wsClosed))

		s.connMu.Lock()
		defer s.connMu.Unlock()
		if s.conn != nil {
			err = s.conn.Close()
			s.conn = nil
		}
	})
	return err
}

func (s *WSSource) getState() wsState {
	return wsState(atomic.LoadInt32(&s.state))
}

func (s *WSSource) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if err := s.resubscribe(); err != nil {
		// Подписки будут восстановлены на следующем переподключении
		s.logger.Warn("resubscribe failed", zap.Error(err))
	}
	return nil
}

// resubscribe восстанавливает подписки после переподключения
func (s *WSSource) resubscribe() error {
	s.symbolsMu.RLock()
	streams := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		streams = append(streams, bookTickerStream(sym))
	}
	s.symbolsMu.RUnlock()

	if len(streams) == 0 {
		return nil
	}

	if err := s.send(streamRequest{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     atomic.AddInt64(&s.reqID, 1),
	}); err != nil {
		return err
	}

	s.logger.Info("resubscribed", zap.Int("streams", len(streams)))
	return nil
}

func (s *WSSource) send(msg interface{}) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSSource) readPump() {
	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(err)
			return
		}

		s.handleMessage(message)
	}
}

// handleMessage разбирает котировку и передает в sink
func (s *WSSource) handleMessage(raw []byte) {
	var msg bookTickerMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Symbol == "" {
		// Служебные сообщения (ответы на подписку) игнорируются
		return
	}

	bid, errB := strconv.ParseFloat(msg.Bid, 64)
	ask, errA := strconv.ParseFloat(msg.Ask, 64)
	if errB != nil || errA != nil || bid <= 0 || ask <= 0 {
		s.logger.Debug("malformed quote dropped", zap.String("symbol", msg.Symbol))
		return
	}

	s.sink.UpdateQuote(Quote{
		Symbol:    msg.Symbol,
		Bid:       bid,
		Ask:       ask,
		UpdatedAt: time.Now(),
	})
}

func (s *WSSource) pingPump() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil || s.getState() != wsConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ping failed", zap.Error(err))
				s.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect закрывает соединение и запускает переподключение
func (s *WSSource) handleDisconnect(err error) {
	select {
	case <-s.closeChan:
		return
	default:
	}

	state := s.getState()
	if state == wsReconnecting || state == wsClosed {
		return
	}
	atomic.StoreInt32(&s.state, int32(wsReconnecting))

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	if err != nil {
		s.logger.Warn("websocket disconnected", zap.Error(err))
	}

	go s.reconnectLoop()
}

// reconnectLoop переподключается с exponential backoff
func (s *WSSource) reconnectLoop() {
	delay := s.config.InitialDelay

	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		retry := atomic.AddInt32(&s.retryCount, 1)
		if s.config.MaxRetries > 0 && int(retry) > s.config.MaxRetries {
			s.logger.Error("max reconnect attempts reached",
				zap.Int("attempts", s.config.MaxRetries))
			atomic.StoreInt32(&s.state, int32(wsDisconnected))
			return
		}

		s.logger.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retry))

		select {
		case <-s.closeChan:
			return
		case <-time.After(delay):
		}

		if err := s.dial(); err != nil {
			s.logger.Warn("reconnect failed", zap.Error(err))
			delay *= 2
			if delay > s.config.MaxDelay {
				delay = s.config.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&s.state, int32(wsConnected))
		atomic.StoreInt32(&s.retryCount, 0)

		go s.readPump()
		go s.pingPump()

		s.logger.Info("websocket reconnected")
		return
	}
}

// bookTickerStream возвращает имя потока лучших bid/ask для символа
func bookTickerStream(symbol string) string {
	lower := make([]byte, len(symbol))
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	return string(lower) + "@bookTicker"
}
