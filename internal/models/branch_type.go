package models

import (
	"fmt"
	"strings"
)

// BranchType представляет тип банковского отделения
type BranchType string

const (
	BranchTypeTraditional BranchType = "TRADITIONAL" // Полноформатное отделение
	BranchTypeDigital     BranchType = "DIGITAL"     // Цифровая точка самообслуживания
	BranchTypePremium     BranchType = "PREMIUM"     // Флагманское отделение
	BranchTypeExpress     BranchType = "EXPRESS"     // Экспресс-офис с кассовыми операциями
	BranchTypeATMOnly     BranchType = "ATM_ONLY"    // Банкоматная зона
)

// AllBranchTypes возвращает все допустимые типы отделений
func AllBranchTypes() []BranchType {
	return []BranchType{
		BranchTypeTraditional,
		BranchTypeDigital,
		BranchTypePremium,
		BranchTypeExpress,
		BranchTypeATMOnly,
	}
}

// ParseBranchType разбирает строку в тип отделения (без учета регистра)
func ParseBranchType(s string) (BranchType, error) {
	t := BranchType(strings.ToUpper(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate проверяет, что значение входит в закрытый список типов
func (t BranchType) Validate() error {
	switch t {
	case BranchTypeTraditional, BranchTypeDigital, BranchTypePremium,
		BranchTypeExpress, BranchTypeATMOnly:
		return nil
	default:
		return fmt.Errorf("unknown branch type: %q", string(t))
	}
}

// String возвращает строковое представление типа
func (t BranchType) String() string {
	return string(t)
}

// Priority возвращает приоритет типа (1..5) для разрешения ничьих
// при одинаковом расстоянии: больше значение, выше место в выдаче.
func (t BranchType) Priority() int {
	switch t {
	case BranchTypePremium:
		return 5
	case BranchTypeTraditional:
		return 4
	case BranchTypeDigital:
		return 3
	case BranchTypeExpress:
		return 2
	case BranchTypeATMOnly:
		return 1
	default:
		return 0
	}
}

// HasFullServices сообщает, доступен ли полный набор банковских услуг
func (t BranchType) HasFullServices() bool {
	return t == BranchTypeTraditional || t == BranchTypePremium
}

// HasPersonalBanker сообщает, доступен ли персональный менеджер
func (t BranchType) HasPersonalBanker() bool {
	return t == BranchTypeTraditional || t == BranchTypePremium
}

// Has24HourAccess сообщает, доступно ли отделение круглосуточно
func (t BranchType) Has24HourAccess() bool {
	return t == BranchTypeDigital || t == BranchTypePremium || t == BranchTypeATMOnly
}

// Известные имена банковских услуг для проверки поддержки
const (
	ServiceAccountOpening         = "account_opening"
	ServiceLoanApplication        = "loan_application"
	ServiceInvestmentConsultation = "investment_consultation"
	ServiceCashWithdrawal         = "cash_withdrawal"
	ServiceBalanceInquiry         = "balance_inquiry"
	ServiceTransfer               = "transfer"
	ServiceSafeDeposit            = "safe_deposit"
	ServiceCurrencyExchange       = "currency_exchange"
	ServiceAfterHoursBanking      = "after_hours_banking"
)

// SupportsService сообщает, поддерживает ли тип отделения услугу.
// Имя услуги сравнивается без учета регистра; неизвестные услуги
// требуют полного набора услуг.
func (t BranchType) SupportsService(service string) bool {
	switch strings.ToLower(strings.TrimSpace(service)) {
	case ServiceAccountOpening, ServiceLoanApplication, ServiceInvestmentConsultation:
		return t.HasFullServices() && t.HasPersonalBanker()
	case ServiceCashWithdrawal, ServiceBalanceInquiry, ServiceTransfer:
		return true
	case ServiceSafeDeposit, ServiceCurrencyExchange:
		return t.HasFullServices()
	case ServiceAfterHoursBanking:
		return t.Has24HourAccess()
	default:
		return t.HasFullServices()
	}
}
