package exchange

import (
	"errors"
	"fmt"
)

// Коды отклонения ордеров
const (
	// CodePostOnlyWouldMatch - post-only ордер исполнился бы немедленно
	CodePostOnlyWouldMatch = "POST_ONLY_WOULD_MATCH"
	// CodeTransient - временный сбой сети или биржи, повтор уместен
	CodeTransient = "TRANSIENT"
	// CodeInsufficientBalance - недостаточно средств для размещения
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
)

// Ошибки биржи
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrPositionNotFound = errors.New("position not found")
	ErrNoPrice          = errors.New("no price available")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// RejectionError - отклонение запроса биржей с классифицируемым кодом
type RejectionError struct {
	Code    string
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exchange rejection [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("exchange rejection [%s]", e.Code)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// NewRejection создает ошибку отклонения с указанным кодом
func NewRejection(code, message string) *RejectionError {
	return &RejectionError{Code: code, Message: message}
}

// IsPostOnlyReject проверяет, отклонен ли ордер из-за post-only ограничения
func IsPostOnlyReject(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej) && rej.Code == CodePostOnlyWouldMatch
}

// IsTransient проверяет, является ли ошибка временной (повтор уместен)
func IsTransient(err error) bool {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Code == CodeTransient
	}
	return errors.Is(err, ErrRateLimited)
}
