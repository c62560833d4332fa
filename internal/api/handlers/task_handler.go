package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"gridbot/internal/models"
	"gridbot/internal/repository"
	"gridbot/pkg/utils"
)

// TaskService - живой список задач планировщика
type TaskService interface {
	Snapshot() []*models.GridTask
	AddTask(task *models.GridTask)
}

// TaskCreator - долговременное создание задачи
type TaskCreator interface {
	Create(ctx context.Context, task *models.GridTask) error
}

// OrderLister - чтение журнала ордеров задачи
type OrderLister interface {
	ListByTask(ctx context.Context, taskID string) ([]*models.Order, error)
}

// TaskHandler отвечает за управление задачами
//
// Endpoints:
// - GET /api/v1/tasks - список задач с runtime состоянием
// - POST /api/v1/tasks - создать задачу (статус PENDING)
// - GET /api/v1/tasks/{id} - одна задача
// - GET /api/v1/tasks/{id}/orders - журнал ордеров задачи
type TaskHandler struct {
	service TaskService
	creator TaskCreator
	orders  OrderLister
}

// NewTaskHandler создает TaskHandler
func NewTaskHandler(service TaskService, creator TaskCreator, orders OrderLister) *TaskHandler {
	return &TaskHandler{service: service, creator: creator, orders: orders}
}

// CreateTaskRequest - тело запроса создания задачи
type CreateTaskRequest struct {
	ID         string   `json:"id,omitempty"`
	BaseAsset  string   `json:"base_asset"`
	QuoteAsset string   `json:"quote_asset"`
	Doubled    bool     `json:"doubled"`
	Reversed   bool     `json:"reversed"`
	StartPrice *float64 `json:"start_price,omitempty"`
	GridRate   float64  `json:"grid_rate"`
	GridValue  float64  `json:"grid_value"`
}

// GetTasks возвращает все задачи
//
// GET /api/v1/tasks
func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.service.Snapshot()
	respondWithJSON(w, http.StatusOK, SuccessResponse{Data: tasks})
}

// GetTask возвращает одну задачу по идентификатору
//
// GET /api/v1/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	for _, task := range h.service.Snapshot() {
		if task.ID == id {
			respondWithJSON(w, http.StatusOK, SuccessResponse{Data: task})
			return
		}
	}
	respondWithError(w, http.StatusNotFound, "task not found")
}

// CreateTask создает новую PENDING задачу
//
// POST /api/v1/tasks
//
// HTTP коды:
// - 201 Created: задача создана и передана планировщику
// - 400 Bad Request: невалидная конфигурация
// - 409 Conflict: задача с таким id уже существует
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.BaseAsset = strings.ToUpper(strings.TrimSpace(req.BaseAsset))
	req.QuoteAsset = strings.ToUpper(strings.TrimSpace(req.QuoteAsset))

	if err := utils.ValidateAsset(req.BaseAsset); err != nil {
		respondWithError(w, http.StatusBadRequest, "base asset: "+err.Error())
		return
	}
	if err := utils.ValidateAsset(req.QuoteAsset); err != nil {
		respondWithError(w, http.StatusBadRequest, "quote asset: "+err.Error())
		return
	}
	if err := utils.ValidateGridRate(req.GridRate); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := utils.ValidateGridValue(req.GridValue); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := utils.ValidateStartPrice(req.StartPrice); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	task := &models.GridTask{
		ID:         id,
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
		Doubled:    req.Doubled,
		Reversed:   req.Reversed,
		StartPrice: req.StartPrice,
		GridRate:   req.GridRate,
		GridValue:  req.GridValue,
		Status:     models.TaskStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.creator.Create(r.Context(), task); err != nil {
		if errors.Is(err, repository.ErrDuplicateTask) {
			respondWithError(w, http.StatusConflict, "task already exists")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to create task: "+err.Error())
		return
	}

	h.service.AddTask(task)
	respondWithJSON(w, http.StatusCreated, SuccessResponse{
		Message: "task created",
		Data:    task,
	})
}

// GetTaskOrders возвращает журнал ордеров задачи
//
// GET /api/v1/tasks/{id}/orders
func (h *TaskHandler) GetTaskOrders(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	orders, err := h.orders.ListByTask(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list orders: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Data: orders})
}
