package models

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/geobank/branches-backend/internal/geo"
)

// GeoPoint представляет географическую точку (широта и долгота в градусах)
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// NewGeoPoint создает точку с проверкой диапазона координат.
// Граничные значения (±90, ±180) допустимы.
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	p := GeoPoint{Latitude: lat, Longitude: lon}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Validate проверяет корректность координат
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) {
		return fmt.Errorf("latitude is not a finite number")
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return fmt.Errorf("longitude is not a finite number")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %f", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %f", p.Longitude)
	}
	return nil
}

// DistanceTo вычисляет расстояние до другой точки (формула Haversine)
func (p GeoPoint) DistanceTo(other GeoPoint) Distance {
	return Distance(geo.Distance(p.Latitude, p.Longitude, other.Latitude, other.Longitude))
}

// BearingTo возвращает начальный азимут к другой точке в градусах [0, 360)
func (p GeoPoint) BearingTo(other GeoPoint) float64 {
	return geo.Bearing(p.Latitude, p.Longitude, other.Latitude, other.Longitude)
}

// Geohash возвращает geohash для точки с заданной точностью
func (p GeoPoint) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, uint(precision))
}

// String возвращает точку в виде "lat,lon" с шестью знаками после запятой
func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}
