package utils

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationHeader HTTP заголовок сквозного идентификатора запроса
const CorrelationHeader = "X-Correlation-ID"

type correlationKey struct{}

// NewCorrelationID генерирует новый сквозной идентификатор
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID кладет сквозной идентификатор запроса в контекст
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext возвращает сквозной идентификатор запроса
// или пустую строку, если он не был присвоен
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
