package bot

import (
	"sync"

	"gridbot/internal/models"
)

// PendingOrders - общий набор незакрытых ордеров
//
// Планировщик добавляет свежеразмещенные ордера, реконсилятор забирает
// весь набор, обрабатывает и возвращает неготовые обратно. Обе стороны
// работают конкурентно, доступ защищен мьютексом.
type PendingOrders struct {
	mu     sync.Mutex
	orders []*models.Order
}

// NewPendingOrders создает пустой набор
func NewPendingOrders() *PendingOrders {
	return &PendingOrders{orders: make([]*models.Order, 0)}
}

// Append добавляет ордера в набор
func (p *PendingOrders) Append(orders ...*models.Order) {
	if len(orders) == 0 {
		return
	}
	p.mu.Lock()
	p.orders = append(p.orders, orders...)
	p.mu.Unlock()
}

// Drain забирает все ордера, оставляя набор пустым
// Реконсилятор строит новый список удержанных за проход и возвращает
// его через Append, вместо удаления элементов во время обхода
func (p *PendingOrders) Drain() []*models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	drained := p.orders
	p.orders = make([]*models.Order, 0, len(drained))
	return drained
}

// Len возвращает текущий размер набора
func (p *PendingOrders) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
