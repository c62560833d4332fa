package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PriceGetter - минимальный срез биржи, нужный для опроса цен
type PriceGetter interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// PollSource опрашивает биржу по таймеру вместо WebSocket потока
// Используется в dry-run режиме поверх симулятора; bid и ask
// равны последней цене (нулевой спред)
type PollSource struct {
	getter   PriceGetter
	sink     QuoteSink
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	symbols map[string]struct{}

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewPollSource создает источник с опросом цен раз в interval
func NewPollSource(getter PriceGetter, interval time.Duration, sink QuoteSink, logger *zap.Logger) *PollSource {
	return &PollSource{
		getter:    getter,
		sink:      sink,
		interval:  interval,
		logger:    logger,
		symbols:   make(map[string]struct{}),
		closeChan: make(chan struct{}),
	}
}

// Start запускает цикл опроса
func (s *PollSource) Start() {
	go s.loop()
}

// Subscribe добавляет символ в опрос
func (s *PollSource) Subscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[symbol] = struct{}{}
	return nil
}

// Unsubscribe убирает символ из опроса
func (s *PollSource) Unsubscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symbols, symbol)
	return nil
}

// Close останавливает опрос
func (s *PollSource) Close() error {
	s.closeOnce.Do(func() { close(s.closeChan) })
	return nil
}

func (s *PollSource) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *PollSource) pollOnce() {
	s.mu.Lock()
	symbols := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	for _, sym := range symbols {
		price, err := s.getter.GetPrice(ctx, sym)
		if err != nil {
			s.logger.Debug("price poll failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		s.sink.UpdateQuote(Quote{
			Symbol:    sym,
			Bid:       price,
			Ask:       price,
			UpdatedAt: time.Now(),
		})
	}
}
