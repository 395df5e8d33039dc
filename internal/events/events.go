package events

import (
	"context"

	"github.com/geobank/branches-backend/internal/models"
)

// Sink приемник доменных событий. Публикация идет в режиме
// fire-and-forget: реализации не гарантируют доставку, а вызывающая
// сторона поглощает ошибки.
type Sink interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// Noop приемник, отбрасывающий события. Используется, когда брокер
// событий не сконфигурирован.
type Noop struct{}

// Publish отбрасывает событие
func (Noop) Publish(ctx context.Context, event models.DomainEvent) error {
	return nil
}

// Fanout рассылает событие нескольким приемникам. Ошибка одного
// приемника не мешает остальным, возвращается первая встреченная.
type Fanout struct {
	sinks []Sink
}

// NewFanout создает приемник-мультиплексор
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish рассылает событие всем приемникам
func (f *Fanout) Publish(ctx context.Context, event models.DomainEvent) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Sink = Noop{}
	_ Sink = (*Fanout)(nil)
	_ Sink = (*Publisher)(nil)
)
