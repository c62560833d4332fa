package bot

import (
	"errors"
	"fmt"
)

// Результат обработки задачи за тик классифицируется тремя исходами:
// успех (nil), отложенный исход (DeferredError - не ошибка, условия
// еще не наступили) и фатальный для задачи (TaskError - перевод в
// EXPIRED). Фатальных для процесса исходов нет: планировщик ловит
// все ошибки и продолжает работу.

// DeferredError - условия не наступили, повторить на следующем тике
// Не является сбоем: котировка еще не пришла или цена активации
// не достигнута
type DeferredError struct {
	Reason string
}

func (e *DeferredError) Error() string {
	return "deferred: " + e.Reason
}

// Deferredf создает отложенный исход
func Deferredf(format string, args ...interface{}) error {
	return &DeferredError{Reason: fmt.Sprintf(format, args...)}
}

// IsDeferred проверяет, отложен ли исход до следующего тика
func IsDeferred(err error) bool {
	var d *DeferredError
	return errors.As(err, &d)
}

// TaskError - неустранимый сбой задачи; задача переводится в EXPIRED
// с этой причиной, оператор должен пересоздать или поправить задачу
type TaskError struct {
	Reason string
	Err    error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task failed: %s: %v", e.Reason, e.Err)
	}
	return "task failed: " + e.Reason
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Fatalf создает фатальный для задачи исход
func Fatalf(format string, args ...interface{}) error {
	return &TaskError{Reason: fmt.Sprintf(format, args...)}
}

// FatalWrap создает фатальный исход, сохраняя исходную ошибку
func FatalWrap(reason string, err error) error {
	return &TaskError{Reason: reason, Err: err}
}

// AsTaskError извлекает TaskError из цепочки ошибок
func AsTaskError(err error) (*TaskError, bool) {
	var t *TaskError
	ok := errors.As(err, &t)
	return t, ok
}
