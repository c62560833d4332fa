package utils

import (
	"math"
)

// math.go - математические утилиты сеточной торговли
//
// Назначение:
// Вспомогательные функции для расчёта коридора, синтетического курса и
// объёмов ордеров. Все функции являются чистыми (pure functions) без
// побочных эффектов.

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Параметры:
//   - value: исходное значение (объём в монетах актива)
//   - lotSize: минимальный шаг изменения объёма на бирже
//
// Возвращает:
//   - Округлённое значение, кратное lotSize
//   - Если lotSize <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Эпсилон удерживает значения, уже кратные шагу, от просадки
	// на шаг вниз из-за погрешности деления (1/0.001 = 999.999...)
	return math.Floor(value/lotSize+1e-9) * lotSize
}

// RoundToTickSize округляет цену к ближайшему кратному tickSize.
//
// Используется при выставлении и передвижении лимитных ордеров.
func RoundToTickSize(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}

// SyntheticPrice вычисляет синтетический кросс-курс base/quote.
//
// Для одноногих задач quotePrice передаётся как 1 (или использовать
// базовую цену напрямую).
//
// Возвращает 0 если quotePrice <= 0 (курс не определён).
func SyntheticPrice(basePrice, quotePrice float64) float64 {
	if quotePrice <= 0 {
		return 0
	}
	return basePrice / quotePrice
}

// GridBand вычисляет границы коридора вокруг якорной цены.
//
// Формулы:
//
//	buy  = price × (1 − gridRate)
//	sell = price × (1 + gridRate)
//
// Параметры:
//   - price: якорная цена (цена активации или последнего пересечения)
//   - gridRate: полуширина коридора в долях (0.005 = 0.5%)
//
// Возвращает (buyPrice, sellPrice). При gridRate > 0 и price > 0
// гарантируется buy < price < sell.
func GridBand(price, gridRate float64) (buyPrice, sellPrice float64) {
	buyPrice = price * (1 - gridRate)
	sellPrice = price * (1 + gridRate)
	return buyPrice, sellPrice
}

// LegQuantity вычисляет объём ноги в монетах из нотионала.
//
// Формула: qty = gridValue / price
//
// Возвращает 0 при некорректной цене.
func LegQuantity(gridValue, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return gridValue / price
}

// WouldFlipLong возвращает true, если покупка qty перевернёт короткую
// позицию в длинную (position < 0 и position + qty > 0).
//
// Для задач без флага reversed такой переворот запрещён: покупка может
// только сокращать шорт, но не открывать направленный лонг.
func WouldFlipLong(position, qty float64) bool {
	return position < 0 && position+qty > 0
}

// WouldFlipShort возвращает true, если продажа qty перевернёт длинную
// позицию в короткую (position > 0 и position − qty < 0).
func WouldFlipShort(position, qty float64) bool {
	return position > 0 && position-qty < 0
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}
