package bot

import (
	"fmt"
	"time"

	"gridbot/internal/models"
)

// ============================================================================
// Машина состояний задачи
// ============================================================================

// Допустимые переходы статуса задачи
//
// PENDING -> RUNNING  (активация: цена ниже startPrice, коридор установлен)
// PENDING -> EXPIRED  (невалидная конфигурация или фатальный сбой активации)
// RUNNING -> EXPIRED  (фатальный сбой торговли)
//
// EXPIRED терминален: возврат невозможен, оператор пересоздает задачу
var allowedTransitions = map[string][]string{
	models.TaskStatusPending: {models.TaskStatusRunning, models.TaskStatusExpired},
	models.TaskStatusRunning: {models.TaskStatusExpired},
	models.TaskStatusExpired: {},
}

// CanTransition проверяет допустимость перехода статуса
func CanTransition(from, to string) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus проверяет, терминален ли статус задачи
func IsTerminalStatus(status string) bool {
	return status == models.TaskStatusExpired
}

// Activate переводит задачу PENDING -> RUNNING с заполненным runtime
func Activate(task *models.GridTask, rt *models.GridRuntime) error {
	if !CanTransition(task.Status, models.TaskStatusRunning) {
		return fmt.Errorf("invalid transition %s -> %s for task %s",
			task.Status, models.TaskStatusRunning, task.ID)
	}
	task.Status = models.TaskStatusRunning
	task.Runtime = rt
	task.UpdatedAt = time.Now()
	return nil
}

// Expire переводит задачу в EXPIRED с человекочитаемой причиной
func Expire(task *models.GridTask, reason string) error {
	if task.Status == models.TaskStatusExpired {
		return nil
	}
	if !CanTransition(task.Status, models.TaskStatusExpired) {
		return fmt.Errorf("invalid transition %s -> %s for task %s",
			task.Status, models.TaskStatusExpired, task.ID)
	}
	task.Status = models.TaskStatusExpired
	task.Reason = reason
	task.UpdatedAt = time.Now()
	return nil
}
