package models

import (
	"time"
)

// EventSchemaVersion версия схемы доменных событий
const EventSchemaVersion = "1.0"

// Типы доменных событий
const (
	EventTypeBranchRegistered = "BRANCH_REGISTERED"
	EventTypeProximityQueried = "PROXIMITY_QUERIED"
)

// DomainEvent общий интерфейс публикуемых событий
type DomainEvent interface {
	Type() string
}

// BranchRegisteredEvent публикуется после успешной регистрации отделения
type BranchRegisteredEvent struct {
	EventType     string    `json:"eventType"`
	Version       string    `json:"version"`
	BranchID      string    `json:"branchId"`
	BranchName    string    `json:"branchName"`
	BranchType    string    `json:"branchType"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"`
}

// NewBranchRegisteredEvent собирает событие из данных отделения
func NewBranchRegisteredEvent(b *Branch, correlationID string) BranchRegisteredEvent {
	return BranchRegisteredEvent{
		EventType:     EventTypeBranchRegistered,
		Version:       EventSchemaVersion,
		BranchID:      b.ID.String(),
		BranchName:    b.Name,
		BranchType:    b.Type.String(),
		Latitude:      b.Location.Latitude,
		Longitude:     b.Location.Longitude,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// Type возвращает тип события
func (e BranchRegisteredEvent) Type() string {
	return e.EventType
}

// ProximityQueriedEvent публикуется после выполнения поиска ближайших
// отделений. SessionID заполняется только если клиент передал его.
type ProximityQueriedEvent struct {
	EventType       string    `json:"eventType"`
	Version         string    `json:"version"`
	UserLatitude    float64   `json:"userLatitude"`
	UserLongitude   float64   `json:"userLongitude"`
	RadiusKm        float64   `json:"radiusKm"`
	MaxResults      int       `json:"maxResults"`
	FoundBranchIDs  []string  `json:"foundBranchIds"`
	ExecutionTimeMs float64   `json:"executionTimeMs"`
	CacheHit        bool      `json:"cacheHit"`
	OccurredAt      time.Time `json:"occurredAt"`
	CorrelationID   string    `json:"correlationId"`
	SessionID       string    `json:"sessionId,omitempty"`
}

// Type возвращает тип события
func (e ProximityQueriedEvent) Type() string {
	return e.EventType
}
