package utils

import (
	"fmt"
	"strings"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности конфигурации сеточных задач при загрузке из
// хранилища и при создании через API. Возвращает error с описанием
// проблемы или nil.

// ValidateAsset проверяет код актива (BTC, ETH)
//
// Требования: непустая строка из 2-10 символов A-Z/0-9.
func ValidateAsset(asset string) error {
	if asset == "" {
		return fmt.Errorf("asset is required")
	}
	if len(asset) < 2 || len(asset) > 10 {
		return fmt.Errorf("asset %q must be 2-10 characters", asset)
	}
	for _, r := range asset {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return fmt.Errorf("asset %q contains invalid character %q", asset, r)
		}
	}
	return nil
}

// ValidateGridRate проверяет полуширину коридора
//
// Допустимый диапазон: (0, 0.5). Ставка 0.5 и выше означает, что нижняя
// граница уходит в ноль или ниже - такой коридор не имеет смысла.
func ValidateGridRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("grid_rate must be positive, got %v", rate)
	}
	if rate >= 0.5 {
		return fmt.Errorf("grid_rate must be below 0.5, got %v", rate)
	}
	return nil
}

// ValidateGridValue проверяет нотионал одной ноги
func ValidateGridValue(value float64) error {
	if value <= 0 {
		return fmt.Errorf("grid_value must be positive, got %v", value)
	}
	return nil
}

// ValidateStartPrice проверяет опциональный порог активации
func ValidateStartPrice(price *float64) error {
	if price == nil {
		return nil
	}
	if *price <= 0 {
		return fmt.Errorf("start_price must be positive, got %v", *price)
	}
	return nil
}

// ValidateTaskID проверяет идентификатор задачи
//
// ID - join key между хранилищами, поэтому пробелы и пустые строки
// недопустимы.
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("task id %q must not contain leading/trailing spaces", id)
	}
	return nil
}
