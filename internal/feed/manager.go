// Package feed управляет подписками на рыночные данные и хранит
// последние котировки для мгновенного чтения торговым ядром.
package feed

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Quote - лучшие bid/ask по символу на момент обновления
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source - источник рыночных данных (WebSocket поток или опрос REST)
type Source interface {
	// Subscribe начинает поток котировок по символу
	Subscribe(symbol string) error
	// Unsubscribe останавливает поток котировок по символу
	Unsubscribe(symbol string) error
	// Close останавливает источник целиком
	Close() error
}

// Manager ведет подписки со счетчиком ссылок
//
// Несколько задач могут использовать один символ: подписка на источнике
// создается при первой ссылке и снимается при последней. Котировки
// хранятся как снимок под RWMutex, чтение не блокирует обновления.
type Manager struct {
	mu     sync.RWMutex
	refs   map[string]int
	quotes map[string]Quote
	source Source
	logger *zap.Logger
}

// NewManager создает менеджер подписок
// Источник может быть установлен позже через SetSource: он создается
// после менеджера, так как пишет котировки именно в него
func NewManager(source Source, logger *zap.Logger) *Manager {
	return &Manager{
		refs:   make(map[string]int),
		quotes: make(map[string]Quote),
		source: source,
		logger: logger,
	}
}

// SetSource привязывает источник данных к менеджеру
func (m *Manager) SetSource(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

// Subscribe увеличивает счетчик ссылок символа
// Подписка на источнике создается только при переходе 0 -> 1
func (m *Manager) Subscribe(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs[symbol]++
	if m.refs[symbol] > 1 {
		return nil
	}

	if m.source == nil {
		return nil
	}
	if err := m.source.Subscribe(symbol); err != nil {
		m.refs[symbol]--
		if m.refs[symbol] == 0 {
			delete(m.refs, symbol)
		}
		return err
	}

	m.logger.Info("feed subscribed", zap.String("symbol", symbol))
	return nil
}

// Unsubscribe уменьшает счетчик ссылок символа
// Отписка на источнике происходит при переходе 1 -> 0;
// вызов для неизвестного символа безопасен
func (m *Manager) Unsubscribe(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, ok := m.refs[symbol]
	if !ok {
		return nil
	}

	if count > 1 {
		m.refs[symbol] = count - 1
		return nil
	}

	delete(m.refs, symbol)
	delete(m.quotes, symbol)

	if m.source != nil {
		if err := m.source.Unsubscribe(symbol); err != nil {
			return err
		}
	}

	m.logger.Info("feed unsubscribed", zap.String("symbol", symbol))
	return nil
}

// UpdateQuote сохраняет котировку; вызывается источником данных
// Котировки по символам без активных подписок отбрасываются
func (m *Manager) UpdateQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refs[q.Symbol]; !ok {
		return
	}
	m.quotes[q.Symbol] = q
}

// BestQuote возвращает последнюю котировку символа
// ok=false означает, что котировка еще не поступала
func (m *Manager) BestQuote(symbol string) (Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quotes[symbol]
	return q, ok
}

// Refs возвращает текущий счетчик ссылок символа
func (m *Manager) Refs(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refs[symbol]
}

// Symbols возвращает символы с активными подписками
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]string, 0, len(m.refs))
	for s := range m.refs {
		symbols = append(symbols, s)
	}
	return symbols
}
