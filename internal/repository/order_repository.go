package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gridbot/internal/models"
)

// ErrOrderNotFound возвращается при обновлении несуществующего ордера
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository - журнал ордеров
//
// Записи только добавляются и никогда не удаляются: журнал служит
// постоянной бухгалтерией. Обновляются на месте только статус,
// комиссия и время последнего изменения.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает репозиторий ордеров
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create добавляет запись в журнал
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			task_id, task_bind_id, symbol, side, price, orig_qty,
			order_id, status, synth_price, fee, fee_asset,
			created_at, update_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		order.TaskID, order.TaskBindID, order.Symbol, order.Side,
		order.Price, order.OrigQty, order.OrderID, order.Status,
		order.SynthPrice, order.Fee, order.FeeAsset,
		order.CreatedAt, order.UpdateTime,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("create order %s: %w", order.OrderID, err)
	}
	return nil
}

// UpdateStatus фиксирует терминальный статус и комиссию ордера
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID, status string, fee float64, feeAsset string, updateTime time.Time) error {
	query := `
		UPDATE orders
		SET status = $1, fee = $2, fee_asset = $3, update_time = $4
		WHERE order_id = $5`

	res, err := r.db.ExecContext(ctx, query, status, fee, feeAsset, updateTime, orderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListByTask возвращает все ордера задачи в порядке создания
func (r *OrderRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Order, error) {
	query := `
		SELECT id, task_id, task_bind_id, symbol, side, price, orig_qty,
		       order_id, status, synth_price, fee, fee_asset,
		       created_at, update_time
		FROM orders
		WHERE task_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list orders for task %s: %w", taskID, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListOpen возвращает ордера в нетерминальных статусах
// Нужен на старте процесса, чтобы восстановить набор реконсилятора
func (r *OrderRepository) ListOpen(ctx context.Context) ([]*models.Order, error) {
	query := `
		SELECT id, task_id, task_bind_id, symbol, side, price, orig_qty,
		       order_id, status, synth_price, fee, fee_asset,
		       created_at, update_time
		FROM orders
		WHERE status = $1
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, models.OrderStatusNew)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*models.Order, error) {
	orders := make([]*models.Order, 0)
	for rows.Next() {
		var o models.Order
		err := rows.Scan(
			&o.ID, &o.TaskID, &o.TaskBindID, &o.Symbol, &o.Side,
			&o.Price, &o.OrigQty, &o.OrderID, &o.Status,
			&o.SynthPrice, &o.Fee, &o.FeeAsset,
			&o.CreatedAt, &o.UpdateTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return orders, nil
}
