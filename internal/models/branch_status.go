package models

import (
	"fmt"
	"strings"
)

// BranchStatus представляет статус жизненного цикла отделения
type BranchStatus string

const (
	BranchStatusActive            BranchStatus = "ACTIVE"
	BranchStatusTemporarilyClosed BranchStatus = "TEMPORARILY_CLOSED"
	BranchStatusPermanentlyClosed BranchStatus = "PERMANENTLY_CLOSED"
	BranchStatusUnderMaintenance  BranchStatus = "UNDER_MAINTENANCE"
	BranchStatusPlanned           BranchStatus = "PLANNED"
)

// statusTransitions описывает допустимые переходы между статусами.
// PERMANENTLY_CLOSED является терминальным состоянием.
var statusTransitions = map[BranchStatus][]BranchStatus{
	BranchStatusPlanned: {
		BranchStatusActive,
		BranchStatusPermanentlyClosed,
	},
	BranchStatusActive: {
		BranchStatusTemporarilyClosed,
		BranchStatusUnderMaintenance,
		BranchStatusPermanentlyClosed,
	},
	BranchStatusTemporarilyClosed: {
		BranchStatusActive,
		BranchStatusUnderMaintenance,
		BranchStatusPermanentlyClosed,
	},
	BranchStatusUnderMaintenance: {
		BranchStatusActive,
		BranchStatusTemporarilyClosed,
		BranchStatusPermanentlyClosed,
	},
	BranchStatusPermanentlyClosed: {},
}

// AllBranchStatuses возвращает все допустимые статусы
func AllBranchStatuses() []BranchStatus {
	return []BranchStatus{
		BranchStatusActive,
		BranchStatusTemporarilyClosed,
		BranchStatusPermanentlyClosed,
		BranchStatusUnderMaintenance,
		BranchStatusPlanned,
	}
}

// ParseBranchStatus разбирает строку в статус (без учета регистра)
func ParseBranchStatus(s string) (BranchStatus, error) {
	st := BranchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

// Validate проверяет, что значение входит в закрытый список статусов
func (s BranchStatus) Validate() error {
	if _, ok := statusTransitions[s]; !ok {
		return fmt.Errorf("unknown branch status: %q", string(s))
	}
	return nil
}

// String возвращает строковое представление статуса
func (s BranchStatus) String() string {
	return string(s)
}

// IsOperational сообщает, обслуживает ли отделение клиентов.
// Операционным считается только статус ACTIVE.
func (s BranchStatus) IsOperational() bool {
	return s == BranchStatusActive
}

// IsTerminal сообщает, является ли статус конечным
func (s BranchStatus) IsTerminal() bool {
	return len(statusTransitions[s]) == 0 && s.Validate() == nil
}

// CanTransitionTo сообщает, допустим ли переход в целевой статус.
// Таблица описывает механику жизненного цикла; дополнительные
// бизнес-ограничения (например, обязательная остановка обслуживания
// перед окончательным закрытием) проверяются валидатором правил.
func (s BranchStatus) CanTransitionTo(target BranchStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// AllowedTransitions возвращает список допустимых целевых статусов
func (s BranchStatus) AllowedTransitions() []BranchStatus {
	allowed := statusTransitions[s]
	out := make([]BranchStatus, len(allowed))
	copy(out, allowed)
	return out
}
