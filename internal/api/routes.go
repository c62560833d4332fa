// Package api настраивает HTTP маршруты операторского API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gridbot/internal/api/handlers"
	"gridbot/internal/api/middleware"
	"gridbot/internal/websocket"
)

// Dependencies - зависимости API handlers
type Dependencies struct {
	Tasks         handlers.TaskService
	TaskCreator   handlers.TaskCreator
	Orders        handlers.OrderLister
	Notifications handlers.NotificationLister
	Hub           *websocket.Hub
	Logger        *zap.Logger

	// bcrypt-хеш операторского токена; пустой = auth отключен
	APITokenHash string
}

// SetupRoutes регистрирует все маршруты приложения
//
// Структура:
//
// /api/v1/
//
//	├── /tasks
//	│   ├── GET / - список задач
//	│   ├── POST / - создать задачу
//	│   ├── GET /{id} - одна задача
//	│   └── GET /{id}/orders - журнал ордеров задачи
//	└── /notifications
//	    └── GET / - последние уведомления
//
// /ws/stream - WebSocket для live-обновлений
// /metrics  - Prometheus метрики
// /health   - проверка живости
//
// Порядок middleware: Recovery, Logging, CORS для всех маршрутов,
// Auth только для /api/v1.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS)

	taskHandler := handlers.NewTaskHandler(deps.Tasks, deps.TaskCreator, deps.Orders)
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.APITokenHash))

	api.HandleFunc("/tasks", taskHandler.GetTasks).Methods("GET")
	api.HandleFunc("/tasks", taskHandler.CreateTask).Methods("POST")
	api.HandleFunc("/tasks/{id}", taskHandler.GetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}/orders", taskHandler.GetTaskOrders).Methods("GET")

	api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
