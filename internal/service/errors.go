package service

import (
	"errors"
	"fmt"

	"github.com/geobank/branches-backend/internal/models"
)

// ErrorCode категория ошибки сервисного слоя. HTTP адаптер отображает
// коды в статусы ответов, ядро оперирует только кодами.
type ErrorCode string

const (
	// ErrCodeInvalidInput нарушение структуры запроса или доменного диапазона
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeRuleViolated отказ бизнес-валидатора
	ErrCodeRuleViolated ErrorCode = "RULE_VIOLATED"
	// ErrCodeNotFound запрошенное отделение отсутствует
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeStoreUnavailable хранилище недоступно или не отвечает
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodeSearchUnavailable пространственный индекс недоступен
	ErrCodeSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE"
)

// Error ошибка сервисного слоя: код, сообщение для клиента и
// структурированные детали. Сообщения не содержат PII и стек-трейсов.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	cause   error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает исходную причину ошибки
func (e *Error) Unwrap() error {
	return e.cause
}

// NewInvalidInput создает ошибку валидации входных данных
func NewInvalidInput(format string, args ...interface{}) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewRuleViolated оборачивает нарушение бизнес-правила. Тег правила
// попадает в Details под ключом rule вместе с контекстом нарушения.
func NewRuleViolated(violation *models.RuleViolation) *Error {
	details := map[string]interface{}{
		"rule": violation.Code.Tag(),
	}
	for k, v := range violation.Details {
		details[k] = v
	}
	return &Error{
		Code:    ErrCodeRuleViolated,
		Message: violation.Message,
		Details: details,
		cause:   violation,
	}
}

// NewNotFound создает ошибку отсутствующего отделения
func NewNotFound(id models.BranchID) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("branch %s not found", id),
		Details: map[string]interface{}{"branch_id": id.String()},
	}
}

// NewStoreUnavailable создает ошибку недоступного хранилища. Причина
// сохраняется для логов, но не попадает в сообщение для клиента.
func NewStoreUnavailable(cause error) *Error {
	return &Error{
		Code:    ErrCodeStoreUnavailable,
		Message: "branch store is unavailable",
		cause:   cause,
	}
}

// NewSearchUnavailable создает ошибку недоступного поиска
func NewSearchUnavailable(cause error) *Error {
	return &Error{
		Code:    ErrCodeSearchUnavailable,
		Message: "branch search is unavailable",
		cause:   cause,
	}
}

// AsError извлекает сервисную ошибку из цепочки ошибок
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}
