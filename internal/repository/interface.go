package repository

import (
	"context"
	"errors"

	"github.com/geobank/branches-backend/internal/models"
)

// ErrBranchNotFound возвращается, когда отделение отсутствует в хранилище
var ErrBranchNotFound = errors.New("branch not found")

var errNilBranch = errors.New("branch cannot be nil")

// BranchStore интерфейс хранилища отделений. Хранилище является
// источником истины: пространственный индекс и кеш строятся поверх
// него и восстановимы из него.
type BranchStore interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Операции с отделениями
	Save(ctx context.Context, branch *models.Branch) error
	SaveAll(ctx context.Context, branches []*models.Branch) error
	FindByID(ctx context.Context, id models.BranchID) (*models.Branch, error)
	DeleteByID(ctx context.Context, id models.BranchID) error
	FindAll(ctx context.Context) ([]*models.Branch, error)

	// Вторичные индексы. SearchByName ищет подстроку в имени и адресе.
	FindByTypes(ctx context.Context, types ...models.BranchType) ([]*models.Branch, error)
	FindByStatus(ctx context.Context, status models.BranchStatus) ([]*models.Branch, error)
	SearchByName(ctx context.Context, fragment string) ([]*models.Branch, error)

	// Статистика
	Count(ctx context.Context) (int64, error)
	CountByType(ctx context.Context) (map[models.BranchType]int64, error)
}

// Ensure implementations
var _ BranchStore = (*MySQLStore)(nil)
var _ BranchStore = (*MemoryStore)(nil)
