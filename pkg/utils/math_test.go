package utils

import (
	"math"
	"testing"
)

func TestSyntheticPrice(t *testing.T) {
	tests := []struct {
		name       string
		basePrice  float64
		quotePrice float64
		want       float64
	}{
		{"btc over eth", 100000, 2500, 40},
		{"unit quote", 99.5, 1, 99.5},
		{"zero quote", 100, 0, 0},
		{"negative quote", 100, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SyntheticPrice(tt.basePrice, tt.quotePrice); got != tt.want {
				t.Errorf("SyntheticPrice(%v, %v) = %v, want %v",
					tt.basePrice, tt.quotePrice, got, tt.want)
			}
		})
	}
}

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		lotSize float64
		want    float64
	}{
		{"rounds down", 0.123456, 0.001, 0.123},
		{"already on step", 1.0, 0.001, 1.0},
		{"coarse step", 1.999, 0.01, 1.99},
		{"zero step is noop", 0.12345, 0, 0.12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToLotSize(tt.value, tt.lotSize)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, got, tt.want)
			}
		})
	}
}

func TestRoundToTickSize(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		tickSize float64
		want     float64
	}{
		{"rounds up to tick", 99.17, 0.1, 99.2},
		{"rounds down to tick", 100.04, 0.1, 100},
		{"already on tick", 99.5, 0.5, 99.5},
		{"zero tick is noop", 99.17, 0, 99.17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToTickSize(tt.price, tt.tickSize)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundToTickSize(%v, %v) = %v, want %v",
					tt.price, tt.tickSize, got, tt.want)
			}
		})
	}
}

func TestGridBand(t *testing.T) {
	buy, sell := GridBand(100, 0.005)
	if buy != 99.5 || sell != 100.5 {
		t.Errorf("band = [%v, %v], want [99.5, 100.5]", buy, sell)
	}

	// Границы симметричны относительно якоря
	anchor := 1.2345
	buy, sell = GridBand(anchor, 0.01)
	if math.Abs((anchor-buy)-(sell-anchor)) > 1e-12 {
		t.Errorf("band is not symmetric: [%v, %v] around %v", buy, sell, anchor)
	}
	if !(buy < anchor && anchor < sell) {
		t.Errorf("anchor %v outside band [%v, %v]", anchor, buy, sell)
	}
}

func TestLegQuantity(t *testing.T) {
	tests := []struct {
		name      string
		gridValue float64
		price     float64
		want      float64
	}{
		{"whole coin", 100, 100, 1},
		{"fraction", 100, 40000, 0.0025},
		{"zero price", 100, 0, 0},
		{"negative price", 100, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LegQuantity(tt.gridValue, tt.price); got != tt.want {
				t.Errorf("LegQuantity(%v, %v) = %v, want %v",
					tt.gridValue, tt.price, got, tt.want)
			}
		})
	}
}

func TestWouldFlipLong(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		qty      float64
		want     bool
	}{
		{"short flips long", -5, 6, true},
		{"short covered exactly", -5, 5, false},
		{"short partially covered", -5, 3, false},
		{"flat opens long", 0, 1, false},
		{"long grows", 2, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WouldFlipLong(tt.position, tt.qty); got != tt.want {
				t.Errorf("WouldFlipLong(%v, %v) = %v, want %v",
					tt.position, tt.qty, got, tt.want)
			}
		})
	}
}

func TestWouldFlipShort(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		qty      float64
		want     bool
	}{
		{"long flips short", 5, 6, true},
		{"long closed exactly", 5, 5, false},
		{"long partially closed", 5, 3, false},
		{"flat opens short", 0, 1, false},
		{"short grows", -2, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WouldFlipShort(tt.position, tt.qty); got != tt.want {
				t.Errorf("WouldFlipShort(%v, %v) = %v, want %v",
					tt.position, tt.qty, got, tt.want)
			}
		})
	}
}
