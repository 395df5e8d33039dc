package handler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/service"
)

// Границы обслуживаемой территории (континентальная Бразилия).
// Проверка применяется только на HTTP границе и только при включенном
// RULES_TERRITORY_CHECK.
const (
	territoryMinLat = -33.75
	territoryMaxLat = 5.27
	territoryMinLon = -73.99
	territoryMaxLon = -28.84
)

// registerRequest тело запроса регистрации. Принимаются две формы:
// краткая {"posX","posY"} и полная {name,address,latitude,longitude}.
// posX соответствует долготе, posY широте.
type registerRequest struct {
	PosX         *float64 `json:"posX"`
	PosY         *float64 `json:"posY"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Type         string   `json:"type"`
	ContactPhone string   `json:"contactPhone"`
}

// updateRequest тело запроса обновления реквизитов
type updateRequest struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	ContactPhone string `json:"contactPhone"`
}

// statusRequest тело запроса смены статуса
type statusRequest struct {
	Status string `json:"status"`
}

// toInput нормализует тело запроса во входные данные регистрации.
// Краткая форма не несет реквизитов, имя и адрес для нее генерируются.
func (r *registerRequest) toInput() (service.RegisterInput, error) {
	var lat, lon float64
	switch {
	case r.PosX != nil && r.PosY != nil:
		lon, lat = *r.PosX, *r.PosY
	case r.Latitude != nil && r.Longitude != nil:
		lat, lon = *r.Latitude, *r.Longitude
	case r.PosX != nil || r.PosY != nil:
		return service.RegisterInput{}, fmt.Errorf("posX and posY must be provided together")
	case r.Latitude != nil || r.Longitude != nil:
		return service.RegisterInput{}, fmt.Errorf("latitude and longitude must be provided together")
	default:
		return service.RegisterInput{}, fmt.Errorf("coordinates are required: either posX/posY or latitude/longitude")
	}

	input := service.RegisterInput{
		ID:           strings.TrimSpace(r.ID),
		Name:         strings.TrimSpace(r.Name),
		Address:      strings.TrimSpace(r.Address),
		Location:     models.GeoPoint{Latitude: lat, Longitude: lon},
		Type:         models.BranchTypeTraditional,
		ContactPhone: strings.TrimSpace(r.ContactPhone),
	}

	if r.Type != "" {
		branchType, err := models.ParseBranchType(r.Type)
		if err != nil {
			return service.RegisterInput{}, err
		}
		input.Type = branchType
	}

	if input.Name == "" {
		input.Name = generateBranchName()
	}
	if input.Address == "" {
		input.Address = fmt.Sprintf("posX=%v, posY=%v", lon, lat)
	}

	return input, nil
}

// generateBranchName выдает имя для отделения, зарегистрированного
// краткой формой без реквизитов
func generateBranchName() string {
	return "AGENCIA-" + strings.ToUpper(uuid.NewString()[:8])
}

// insideServedTerritory проверяет попадание точки в границы
// обслуживаемой территории
func insideServedTerritory(p models.GeoPoint) bool {
	return p.Latitude >= territoryMinLat && p.Latitude <= territoryMaxLat &&
		p.Longitude >= territoryMinLon && p.Longitude <= territoryMaxLon
}

// parseCoordinate разбирает координатный параметр и проверяет диапазон
func parseCoordinate(raw string, min, max float64) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("must be a number")
	}
	if v < min || v > max {
		return 0, fmt.Errorf("must be between %g and %g", min, max)
	}
	return v, nil
}

// parseLimit разбирает параметр limite исходного API и приводит его к
// диапазону [1, 100]
func parseLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}

// parsePositiveInt разбирает целочисленный параметр, ноль и
// отрицательные значения отклоняются
func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

// parseRadius разбирает радиус поиска в километрах. Граничные значения
// проверяет движок поиска, здесь отклоняется только не-число.
func parseRadius(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("must be a number of kilometers")
	}
	return v, nil
}

// parseBranchTypes разбирает список типов отделений через запятую
func parseBranchTypes(raw string) ([]models.BranchType, error) {
	parts := strings.Split(raw, ",")
	types := make([]models.BranchType, 0, len(parts))
	for _, part := range parts {
		branchType, err := models.ParseBranchType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, branchType)
	}
	return types, nil
}
