// Package repository содержит слой доступа к PostgreSQL: список задач,
// журнал ордеров и уведомления оператора.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gridbot/internal/models"
	"gridbot/pkg/utils"
)

// Ошибки слоя хранения
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrDuplicateTask = errors.New("task already exists")
)

// TaskRepository - хранилище списка задач
//
// Список перезаписывается целиком после каждого тика планировщика:
// задач немного (десятки), а полная перезапись в транзакции проще
// и надежнее поштучных диффов.
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository создает репозиторий задач
func NewTaskRepository(db *sql.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// LoadAll читает все задачи, отбрасывая невалидные записи
// Невалидная запись логируется с причиной и не роняет загрузку
func (r *TaskRepository) LoadAll(ctx context.Context) ([]*models.GridTask, error) {
	query := `
		SELECT id, base_asset, quote_asset, doubled, reversed, start_price,
		       grid_rate, grid_value, status, reason,
		       base_qty, quote_qty, buy_price, sell_price, last_trade_price,
		       created_at, updated_at
		FROM grid_tasks
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.GridTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		if err := validateTask(task); err != nil {
			r.logger.Warn("invalid task dropped on load",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return tasks, nil
}

// ReplaceAll перезаписывает список задач в одной транзакции
func (r *TaskRepository) ReplaceAll(ctx context.Context, tasks []*models.GridTask) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM grid_tasks`); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}

	query := `
		INSERT INTO grid_tasks (
			id, base_asset, quote_asset, doubled, reversed, start_price,
			grid_rate, grid_value, status, reason,
			base_qty, quote_qty, buy_price, sell_price, last_trade_price,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, query, taskArgs(t)...); err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Create добавляет одну задачу (создание оператором через API)
func (r *TaskRepository) Create(ctx context.Context, task *models.GridTask) error {
	if err := validateTask(task); err != nil {
		return err
	}

	query := `
		INSERT INTO grid_tasks (
			id, base_asset, quote_asset, doubled, reversed, start_price,
			grid_rate, grid_value, status, reason,
			base_qty, quote_qty, buy_price, sell_price, last_trade_price,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, taskArgs(task)...)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	if affected == 0 {
		return ErrDuplicateTask
	}
	return nil
}

// GetByID возвращает задачу по идентификатору
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.GridTask, error) {
	query := `
		SELECT id, base_asset, quote_asset, doubled, reversed, start_price,
		       grid_rate, grid_value, status, reason,
		       base_qty, quote_qty, buy_price, sell_price, last_trade_price,
		       created_at, updated_at
		FROM grid_tasks
		WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*models.GridTask, error) {
	var (
		task       models.GridTask
		startPrice sql.NullFloat64
		reason     sql.NullString

		baseQty, quoteQty, buyPrice, sellPrice, lastTrade sql.NullFloat64
	)

	err := s.Scan(
		&task.ID, &task.BaseAsset, &task.QuoteAsset, &task.Doubled, &task.Reversed,
		&startPrice, &task.GridRate, &task.GridValue, &task.Status, &reason,
		&baseQty, &quoteQty, &buyPrice, &sellPrice, &lastTrade,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startPrice.Valid {
		task.StartPrice = &startPrice.Float64
	}
	task.Reason = reason.String

	// runtime присутствует только после активации; признак - заполненный коридор
	if buyPrice.Valid && sellPrice.Valid && lastTrade.Valid {
		task.Runtime = &models.GridRuntime{
			BaseQty:        baseQty.Float64,
			QuoteQty:       quoteQty.Float64,
			BuyPrice:       buyPrice.Float64,
			SellPrice:      sellPrice.Float64,
			LastTradePrice: lastTrade.Float64,
		}
	}
	return &task, nil
}

func taskArgs(t *models.GridTask) []interface{} {
	var startPrice sql.NullFloat64
	if t.StartPrice != nil {
		startPrice = sql.NullFloat64{Float64: *t.StartPrice, Valid: true}
	}

	var baseQty, quoteQty, buyPrice, sellPrice, lastTrade sql.NullFloat64
	if rt := t.Runtime; rt != nil {
		baseQty = sql.NullFloat64{Float64: rt.BaseQty, Valid: true}
		quoteQty = sql.NullFloat64{Float64: rt.QuoteQty, Valid: true}
		buyPrice = sql.NullFloat64{Float64: rt.BuyPrice, Valid: true}
		sellPrice = sql.NullFloat64{Float64: rt.SellPrice, Valid: true}
		lastTrade = sql.NullFloat64{Float64: rt.LastTradePrice, Valid: true}
	}

	return []interface{}{
		t.ID, t.BaseAsset, t.QuoteAsset, t.Doubled, t.Reversed, startPrice,
		t.GridRate, t.GridValue, t.Status, t.Reason,
		baseQty, quoteQty, buyPrice, sellPrice, lastTrade,
		t.CreatedAt, t.UpdatedAt,
	}
}

// validateTask проверяет обязательные поля записи
func validateTask(t *models.GridTask) error {
	if err := utils.ValidateTaskID(t.ID); err != nil {
		return err
	}
	if err := utils.ValidateAsset(t.BaseAsset); err != nil {
		return fmt.Errorf("base asset: %w", err)
	}
	if err := utils.ValidateAsset(t.QuoteAsset); err != nil {
		return fmt.Errorf("quote asset: %w", err)
	}
	if err := utils.ValidateGridRate(t.GridRate); err != nil {
		return err
	}
	if err := utils.ValidateGridValue(t.GridValue); err != nil {
		return err
	}
	if err := utils.ValidateStartPrice(t.StartPrice); err != nil {
		return err
	}
	switch t.Status {
	case models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusExpired:
	default:
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if t.Status != models.TaskStatusPending && t.Runtime == nil {
		return fmt.Errorf("status %s requires runtime state", t.Status)
	}
	if t.Status == models.TaskStatusPending && t.Runtime != nil {
		return errors.New("pending task must not carry runtime state")
	}
	return nil
}
