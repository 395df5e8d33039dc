package models

import (
	"fmt"
	"math"
)

// Коэффициенты перевода километров в другие единицы
const (
	metersPerKilometer = 1000.0
	milesPerKilometer  = 0.621371
)

// Distance представляет неотрицательное расстояние в километрах.
// Значение хранится без округления; округление до двух знаков
// выполняется только при форматировании ответа API.
type Distance float64

// NewDistance создает расстояние с проверкой знака
func NewDistance(km float64) (Distance, error) {
	if math.IsNaN(km) || math.IsInf(km, 0) {
		return 0, fmt.Errorf("distance is not a finite number")
	}
	if km < 0 {
		return 0, fmt.Errorf("distance must be non-negative, got %f", km)
	}
	return Distance(km), nil
}

// Kilometers возвращает значение в километрах
func (d Distance) Kilometers() float64 {
	return float64(d)
}

// Meters возвращает значение в метрах
func (d Distance) Meters() float64 {
	return float64(d) * metersPerKilometer
}

// Miles возвращает значение в милях
func (d Distance) Miles() float64 {
	return float64(d) * milesPerKilometer
}

// Add возвращает сумму двух расстояний
func (d Distance) Add(other Distance) Distance {
	return d + other
}

// Sub возвращает разность с насыщением в ноль: результат
// никогда не бывает отрицательным.
func (d Distance) Sub(other Distance) Distance {
	if other >= d {
		return 0
	}
	return d - other
}

// Compare возвращает -1, 0 или 1 при сравнении расстояний
func (d Distance) Compare(other Distance) int {
	switch {
	case d < other:
		return -1
	case d > other:
		return 1
	default:
		return 0
	}
}

// LessThan сообщает, меньше ли расстояние другого
func (d Distance) LessThan(other Distance) bool {
	return d < other
}

// Rounded возвращает значение в километрах, округленное до двух знаков
func (d Distance) Rounded() float64 {
	return math.Round(float64(d)*100) / 100
}

// String форматирует расстояние для вывода
func (d Distance) String() string {
	return fmt.Sprintf("%.2f km", float64(d))
}
