package models

import (
	"fmt"
	"strings"
)

// RuleCode идентифицирует бизнес-правило размещения или перехода статуса
type RuleCode string

const (
	RuleTooClose            RuleCode = "RULE_TOO_CLOSE"
	RuleAreaSaturated       RuleCode = "RULE_AREA_SATURATED"
	RuleIllegalTransition   RuleCode = "RULE_ILLEGAL_TRANSITION"
	RuleMissingContactPhone RuleCode = "RULE_MISSING_CONTACT_PHONE"
)

// Tag возвращает короткое имя правила без префикса RULE_
func (c RuleCode) Tag() string {
	return strings.TrimPrefix(string(c), "RULE_")
}

// RuleViolation описывает нарушение бизнес-правила. Details содержит
// машиночитаемый контекст нарушения, например идентификатор
// конфликтующего отделения и расстояние до него.
type RuleViolation struct {
	Code    RuleCode               `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error реализует интерфейс error
func (v *RuleViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// RuleConfig конфигурация бизнес-правил размещения отделений
type RuleConfig struct {
	MinInterBranchKm   float64 // Минимальная дистанция между операционными отделениями (км)
	SaturationRadiusKm float64 // Радиус проверки насыщенности района (км)
	SaturationCount    int     // Порог числа операционных отделений для насыщенности
	StrictCompliance   bool    // Требовать регуляторные проверки на горячем пути регистрации
}

// DefaultRuleConfig возвращает конфигурацию правил по умолчанию
func DefaultRuleConfig() *RuleConfig {
	return &RuleConfig{
		MinInterBranchKm:   0.5, // Два отделения не могут стоять ближе 500 метров
		SaturationRadiusKm: 5.0,
		SaturationCount:    10,
		StrictCompliance:   false,
	}
}
