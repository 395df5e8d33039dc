package handler

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geobank/branches-backend/internal/models"
	"github.com/geobank/branches-backend/internal/service"
	"github.com/geobank/branches-backend/pkg/pool"
)

// Конвертеры доменных моделей в формы ответов API. Дистанции
// округляются до двух знаков только здесь, внутренние слои оперируют
// неокругленными значениями.

// registeredResponse ответ регистрации в формате исходного API:
// posX это долгота, posY широта
type registeredResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	PosX      float64 `json:"posX"`
	PosY      float64 `json:"posY"`
	CreatedAt string  `json:"createdAt"`
}

// branchJSON полная форма отделения в ответах API
type branchJSON struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	ContactPhone string  `json:"contactPhone,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

// foundBranchJSON отделение с дистанцией в ответе расширенного поиска
type foundBranchJSON struct {
	branchJSON
	DistanceKm float64 `json:"distanceKm"`
}

// locationJSON координаты в ответах API
type locationJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// searchStatsJSON статистика расширенного поиска
type searchStatsJSON struct {
	TotalCandidates   int     `json:"totalCandidates"`
	AverageDistanceKm float64 `json:"averageDistanceKm"`
	DensityPerKm2     float64 `json:"densityPerKm2"`
}

// searchResponse ответ расширенного поиска
type searchResponse struct {
	UserLocation locationJSON      `json:"userLocation"`
	RadiusKm     float64           `json:"radiusKm"`
	MaxResults   int               `json:"maxResults"`
	Branches     []foundBranchJSON `json:"branches"`
	Stats        searchStatsJSON   `json:"stats"`
	CacheHit     bool              `json:"cacheHit"`
}

func convertBranchToRegistered(b *models.Branch) registeredResponse {
	return registeredResponse{
		ID:        b.ID.String(),
		Name:      b.Name,
		PosX:      b.Location.Longitude,
		PosY:      b.Location.Latitude,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func convertBranchToJSON(b *models.Branch) branchJSON {
	return branchJSON{
		ID:           b.ID.String(),
		Name:         b.Name,
		Address:      b.Address,
		ContactPhone: b.ContactPhone,
		Latitude:     b.Location.Latitude,
		Longitude:    b.Location.Longitude,
		Type:         b.Type.String(),
		Status:       b.Status.String(),
		CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func convertBranchesToJSON(branches []*models.Branch) []branchJSON {
	result := make([]branchJSON, len(branches))
	for i, b := range branches {
		result[i] = convertBranchToJSON(b)
	}
	return result
}

// convertNearestToLegacy собирает ответ в формате исходного API:
// позиция пользователя строкой и отображение имени отделения в строку
// дистанции, упорядоченное по возрастанию дистанции
func convertNearestToLegacy(result *service.NearestResult) gin.H {
	agencias := NewOrderedAgencias()
	for _, item := range result.Results {
		agencias.Set(item.Branch.Name, fmt.Sprintf("distancia = %.2f", item.DistanceKm))
	}

	return gin.H{
		"posicaoUsuario": fmt.Sprintf("posX=%v, posY=%v",
			result.UserLocation.Longitude, result.UserLocation.Latitude),
		"agencias": agencias,
	}
}

// convertNearestToSearch собирает ответ расширенного поиска
func convertNearestToSearch(result *service.NearestResult) searchResponse {
	branches := make([]foundBranchJSON, len(result.Results))
	for i, item := range result.Results {
		branches[i] = foundBranchJSON{
			branchJSON: convertBranchToJSON(item.Branch),
			DistanceKm: round2(item.DistanceKm),
		}
	}

	return searchResponse{
		UserLocation: locationJSON{
			Latitude:  result.UserLocation.Latitude,
			Longitude: result.UserLocation.Longitude,
		},
		RadiusKm:   result.RadiusKm,
		MaxResults: result.MaxResults,
		Branches:   branches,
		Stats: searchStatsJSON{
			TotalCandidates:   result.Stats.TotalCandidates,
			AverageDistanceKm: round2(result.Stats.AverageDistanceKm),
			DensityPerKm2:     result.Stats.DensityPerKm2,
		},
		CacheHit: result.CacheHit,
	}
}

// round2 округляет километры до двух знаков
func round2(km float64) float64 {
	return math.Round(km*100) / 100
}

// OrderedAgencias отображение имени отделения в строку дистанции,
// сериализуемое в порядке вставки. Стандартная map теряет порядок
// ключей, а контракт исходного API требует возрастания дистанции.
type OrderedAgencias struct {
	names   []string
	entries map[string]string
}

// NewOrderedAgencias создает пустое отображение
func NewOrderedAgencias() *OrderedAgencias {
	return &OrderedAgencias{entries: make(map[string]string)}
}

// Set добавляет отделение. Повторное имя не перезаписывается: записи
// добавляются по возрастанию дистанции, первая вставка ближайшая.
func (o *OrderedAgencias) Set(name, distance string) {
	if _, exists := o.entries[name]; exists {
		return
	}
	o.names = append(o.names, name)
	o.entries[name] = distance
}

// Len возвращает число отделений
func (o *OrderedAgencias) Len() int {
	return len(o.names)
}

// MarshalJSON сериализует записи в порядке вставки. Буфер сборки
// берется из пула, результат копируется, так как encoding/json
// удерживает возвращенный срез.
func (o *OrderedAgencias) MarshalJSON() ([]byte, error) {
	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)

	buf.WriteByte('{')
	for i, name := range o.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(o.entries[name])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
