package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"gridbot/internal/models"
)

var orderColumns = []string{
	"id", "task_id", "task_bind_id", "symbol", "side", "price", "orig_qty",
	"order_id", "status", "synth_price", "fee", "fee_asset",
	"created_at", "update_time",
}

func TestOrderRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	order := &models.Order{
		TaskID:     "task-1",
		TaskBindID: "bind-1",
		Symbol:     "BTCUSDT",
		Side:       models.SideBuy,
		Price:      99.4,
		OrigQty:    1,
		OrderID:    "ex-1",
		Status:     models.OrderStatusNew,
		SynthPrice: 99.4,
		CreatedAt:  now,
		UpdateTime: now,
	}

	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs("task-1", "bind-1", "BTCUSDT", "BUY", 99.4, 1.0,
			"ex-1", "NEW", 99.4, 0.0, "", now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	repo := NewOrderRepository(db)
	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if order.ID != 7 {
		t.Errorf("id = %d, want 7", order.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOrderRepositoryUpdateStatus(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE orders`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "unknown order",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE orders`).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewOrderRepository(db)
			err = repo.UpdateStatus(context.Background(), "ex-1",
				models.OrderStatusFilled, 0.02, "USDT", time.Now())

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("UpdateStatus failed: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestOrderRepositoryListByTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(orderColumns).
		AddRow(1, "task-1", "bind-1", "BTCUSDT", "BUY", 99.4, 1.0,
			"ex-1", "FILLED", 1.99, 0.02, "USDT", now, now).
		AddRow(2, "task-1", "bind-1", "ETHUSDT", "SELL", 50.1, 2.0,
			"ex-2", "NEW", 1.99, 0.0, "", now, now)
	mock.ExpectQuery(`SELECT (.+) FROM orders`).WithArgs("task-1").WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.ListByTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("ListByTask failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if orders[0].TaskBindID != orders[1].TaskBindID {
		t.Error("legs of one crossing must share task_bind_id")
	}
	if orders[0].Status != models.OrderStatusFilled || orders[1].Status != models.OrderStatusNew {
		t.Errorf("statuses = %s/%s", orders[0].Status, orders[1].Status)
	}
}

func TestOrderRepositoryListOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(orderColumns).
		AddRow(2, "task-1", "bind-2", "BTCUSDT", "SELL", 100.6, 1.0,
			"ex-2", "NEW", 100.6, 0.0, "", now, now)
	mock.ExpectQuery(`SELECT (.+) FROM orders`).WithArgs(models.OrderStatusNew).WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != "ex-2" {
		t.Fatalf("orders = %+v, want single ex-2", orders)
	}
}
