package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // TASK_ACTIVATED, TASK_EXPIRED, ORDER_REPLACED, SECOND_LEG_FAIL, ERROR
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	TaskID    *string                `json:"task_id,omitempty" db:"task_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeActivated     = "TASK_ACTIVATED"  // задача активирована, коридор установлен
	NotificationTypeExpired       = "TASK_EXPIRED"    // задача переведена в EXPIRED
	NotificationTypeOrderReplaced = "ORDER_REPLACED"  // реконсилятор заменил пассивный ордер рыночным
	NotificationTypeSecondLegFail = "SECOND_LEG_FAIL" // вторая нога не открылась, есть непокрытая экспозиция
	NotificationTypeError         = "ERROR"           // ошибка API/хранилища
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
