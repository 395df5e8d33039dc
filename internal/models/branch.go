package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ограничения на поля отделения
const (
	MaxNameLength    = 100
	MaxAddressLength = 255
	MaxPhoneLength   = 20

	minCodeLength = 4
	maxCodeLength = 12
)

// BranchID представляет идентификатор отделения: либо канонический
// UUID (36 символов), либо внутренний код из 4..12 символов A-Z0-9.
// Коды нормализуются к верхнему регистру, UUID к нижнему.
type BranchID string

// NewBranchID генерирует новый случайный идентификатор
func NewBranchID() BranchID {
	return BranchID(uuid.NewString())
}

// ParseBranchID разбирает и нормализует идентификатор
func ParseBranchID(s string) (BranchID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("branch id is empty")
	}

	if len(s) == 36 {
		parsed, err := uuid.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid branch id %q: %w", s, err)
		}
		return BranchID(parsed.String()), nil
	}

	code := strings.ToUpper(s)
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return "", fmt.Errorf("branch code must be %d..%d characters, got %d",
			minCodeLength, maxCodeLength, len(code))
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", fmt.Errorf("branch code %q contains invalid character %q", code, c)
		}
	}
	return BranchID(code), nil
}

// Validate проверяет корректность идентификатора
func (id BranchID) Validate() error {
	normalized, err := ParseBranchID(string(id))
	if err != nil {
		return err
	}
	if normalized != id {
		return fmt.Errorf("branch id %q is not normalized", string(id))
	}
	return nil
}

// String возвращает строковое представление идентификатора
func (id BranchID) String() string {
	return string(id)
}

// Branch представляет банковское отделение. Идентичность отделения
// определяется только полем ID.
type Branch struct {
	ID           BranchID     `json:"id"`
	Location     GeoPoint     `json:"location"`
	Type         BranchType   `json:"type"`
	Status       BranchStatus `json:"status"`
	Name         string       `json:"name"`
	Address      string       `json:"address"`
	ContactPhone string       `json:"contact_phone,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewBranch создает отделение со сгенерированным UUID и статусом
// ACTIVE. Имя и адрес очищаются от краевых пробелов до проверки.
func NewBranch(name, address string, location GeoPoint, branchType BranchType) (*Branch, error) {
	now := time.Now().UTC()
	b := &Branch{
		ID:        NewBranchID(),
		Location:  location,
		Type:      branchType,
		Status:    BranchStatusActive,
		Name:      strings.TrimSpace(name),
		Address:   strings.TrimSpace(address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate проверяет все инварианты отделения
func (b *Branch) Validate() error {
	if err := b.ID.Validate(); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if err := b.Location.Validate(); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if err := b.Type.Validate(); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	if err := b.Status.Validate(); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if b.Name == "" || len(b.Name) > MaxNameLength {
		return fmt.Errorf("name must be 1..%d characters, got %d", MaxNameLength, len(b.Name))
	}
	if b.Address == "" || len(b.Address) > MaxAddressLength {
		return fmt.Errorf("address must be 1..%d characters, got %d", MaxAddressLength, len(b.Address))
	}
	if len(b.ContactPhone) > MaxPhoneLength {
		return fmt.Errorf("contact phone must be at most %d characters, got %d", MaxPhoneLength, len(b.ContactPhone))
	}
	return nil
}

// Equal сообщает, представляют ли два отделения одну сущность
func (b *Branch) Equal(other *Branch) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.ID == other.ID
}

// IsOperational сообщает, обслуживает ли отделение клиентов
func (b *Branch) IsOperational() bool {
	return b.Status.IsOperational()
}

// SupportsService сообщает, доступна ли услуга в отделении.
// Неоперационное отделение не предоставляет услуг.
func (b *Branch) SupportsService(service string) bool {
	if !b.IsOperational() {
		return false
	}
	return b.Type.SupportsService(service)
}

// UpdateInfo изменяет контактные данные отделения. Пустой телефон
// допустим на этом уровне; регуляторные требования проверяет
// валидатор правил.
func (b *Branch) UpdateInfo(name, address, contactPhone string) error {
	updated := *b
	updated.Name = strings.TrimSpace(name)
	updated.Address = strings.TrimSpace(address)
	updated.ContactPhone = strings.TrimSpace(contactPhone)
	if err := updated.Validate(); err != nil {
		return err
	}

	b.Name = updated.Name
	b.Address = updated.Address
	b.ContactPhone = updated.ContactPhone
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionTo переводит отделение в новый статус согласно таблице
// переходов жизненного цикла
func (b *Branch) TransitionTo(target BranchStatus) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if !b.Status.CanTransitionTo(target) {
		return fmt.Errorf("transition %s -> %s is not permitted", b.Status, target)
	}
	b.Status = target
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone возвращает независимую копию отделения
func (b *Branch) Clone() *Branch {
	if b == nil {
		return nil
	}
	copied := *b
	return &copied
}
