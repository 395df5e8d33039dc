package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/geobank/branches-backend/internal/models"
)

// MemoryStore хранилище отделений в памяти процесса. Используется при
// пустом MySQL DSN и в тестах. Все операции копируют Branch на входе и
// выходе, поэтому вызывающий код не может изменить внутреннее состояние.
type MemoryStore struct {
	mu       sync.RWMutex
	branches map[models.BranchID]*models.Branch
}

// NewMemoryStore создает новое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		branches: make(map[models.BranchID]*models.Branch),
	}
}

// Ping проверяет доступность хранилища
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close освобождает ресурсы хранилища
func (s *MemoryStore) Close() error {
	return nil
}

// Save сохраняет отделение (вставка или замена по идентификатору)
func (s *MemoryStore) Save(ctx context.Context, branch *models.Branch) error {
	if branch == nil {
		return errNilBranch
	}
	if err := branch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[branch.ID] = branch.Clone()
	return nil
}

// SaveAll атомарно сохраняет набор отделений: сначала валидируются все
// записи, и только потом состояние меняется целиком
func (s *MemoryStore) SaveAll(ctx context.Context, branches []*models.Branch) error {
	if len(branches) == 0 {
		return nil
	}

	clones := make([]*models.Branch, 0, len(branches))
	for _, b := range branches {
		if b == nil {
			return errNilBranch
		}
		if err := b.Validate(); err != nil {
			return err
		}
		clones = append(clones, b.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range clones {
		s.branches[c.ID] = c
	}
	return nil
}

// FindByID возвращает отделение по идентификатору
func (s *MemoryStore) FindByID(ctx context.Context, id models.BranchID) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return branch.Clone(), nil
}

// DeleteByID удаляет отделение по идентификатору
func (s *MemoryStore) DeleteByID(ctx context.Context, id models.BranchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[id]; !ok {
		return ErrBranchNotFound
	}
	delete(s.branches, id)
	return nil
}

// FindAll возвращает все отделения
func (s *MemoryStore) FindAll(ctx context.Context) ([]*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		result = append(result, b.Clone())
	}
	return result, nil
}

// FindByTypes возвращает отделения заданных типов
func (s *MemoryStore) FindByTypes(ctx context.Context, types ...models.BranchType) ([]*models.Branch, error) {
	if len(types) == 0 {
		return nil, nil
	}

	wanted := make(map[models.BranchType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Branch
	for _, b := range s.branches {
		if wanted[b.Type] {
			result = append(result, b.Clone())
		}
	}
	return result, nil
}

// FindByStatus возвращает отделения в заданном статусе
func (s *MemoryStore) FindByStatus(ctx context.Context, status models.BranchStatus) ([]*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Branch
	for _, b := range s.branches {
		if b.Status == status {
			result = append(result, b.Clone())
		}
	}
	return result, nil
}

// SearchByName возвращает отделения, чье имя или адрес содержит
// подстроку (без учета регистра)
func (s *MemoryStore) SearchByName(ctx context.Context, fragment string) ([]*models.Branch, error) {
	needle := strings.ToLower(fragment)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Branch
	for _, b := range s.branches {
		if strings.Contains(strings.ToLower(b.Name), needle) ||
			strings.Contains(strings.ToLower(b.Address), needle) {
			result = append(result, b.Clone())
		}
	}
	return result, nil
}

// Count возвращает общее число отделений
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.branches)), nil
}

// CountByType возвращает число отделений каждого типа
func (s *MemoryStore) CountByType(ctx context.Context) (map[models.BranchType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.BranchType]int64)
	for _, b := range s.branches {
		counts[b.Type]++
	}
	return counts, nil
}
