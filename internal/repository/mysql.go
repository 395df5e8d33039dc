package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/geobank/branches-backend/internal/config"
	"github.com/geobank/branches-backend/internal/metrics"
	"github.com/geobank/branches-backend/internal/models"
)

// Максимальный размер одной multi-row вставки в SaveAll
const saveAllChunkSize = 500

// Столбцы таблицы branches в порядке, используемом всеми запросами
const branchColumns = "id, name, address, contact_phone, latitude, longitude, branch_type, status, created_at, updated_at"

// createBranchesTable создает таблицу отделений при первом запуске.
// Вторичные индексы покрывают выборки по типу, статусу и имени.
const createBranchesTable = `
CREATE TABLE IF NOT EXISTS branches (
	id            VARCHAR(36)  NOT NULL PRIMARY KEY,
	name          VARCHAR(100) NOT NULL,
	address       VARCHAR(255) NOT NULL,
	contact_phone VARCHAR(20)  NOT NULL DEFAULT '',
	latitude      DOUBLE       NOT NULL,
	longitude     DOUBLE       NOT NULL,
	branch_type   VARCHAR(20)  NOT NULL,
	status        VARCHAR(24)  NOT NULL,
	created_at    DATETIME(3)  NOT NULL,
	updated_at    DATETIME(3)  NOT NULL,
	INDEX idx_branches_type (branch_type),
	INDEX idx_branches_status (status),
	INDEX idx_branches_name (name),
	INDEX idx_branches_location (latitude, longitude)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// MySQLStore хранилище отделений в MySQL. DSN должен содержать
// parseTime=true, иначе DATETIME не сканируется в time.Time.
type MySQLStore struct {
	db     *sql.DB
	logger *logrus.Entry
	config *config.MySQLConfig
}

// NewMySQLStore создает новое MySQL хранилище
func NewMySQLStore(cfg *config.MySQLConfig, logger *logrus.Entry) (*MySQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Настройки connection pool
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	return &MySQLStore{
		db:     db,
		logger: logger,
		config: cfg,
	}, nil
}

// Ping проверяет соединение с MySQL
func (r *MySQLStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает соединение с MySQL
func (r *MySQLStore) Close() error {
	return r.db.Close()
}

// InitSchema создает таблицу отделений, если она еще не существует
func (r *MySQLStore) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createBranchesTable); err != nil {
		return fmt.Errorf("failed to create branches table: %w", err)
	}
	r.logger.Debug("Branches table is ready")
	return nil
}

// Save сохраняет отделение (вставка или обновление по первичному ключу)
func (r *MySQLStore) Save(ctx context.Context, branch *models.Branch) error {
	if branch == nil {
		return fmt.Errorf("branch cannot be nil")
	}
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("invalid branch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	query := `
		INSERT INTO branches (` + branchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			address = VALUES(address),
			contact_phone = VALUES(contact_phone),
			latitude = VALUES(latitude),
			longitude = VALUES(longitude),
			branch_type = VALUES(branch_type),
			status = VALUES(status),
			updated_at = VALUES(updated_at)`

	_, err := r.db.ExecContext(ctx, query,
		branch.ID.String(), branch.Name, branch.Address, branch.ContactPhone,
		branch.Location.Latitude, branch.Location.Longitude,
		branch.Type.String(), branch.Status.String(),
		branch.CreatedAt, branch.UpdatedAt,
	)
	metrics.MySQLQueryDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("failed to save branch %s: %w", branch.ID, err)
	}

	return nil
}

// SaveAll атомарно сохраняет набор отделений: либо записываются все,
// либо ни одно. Большие наборы вставляются чанками внутри одной
// транзакции.
func (r *MySQLStore) SaveAll(ctx context.Context, branches []*models.Branch) error {
	if len(branches) == 0 {
		return nil
	}

	for _, b := range branches {
		if b == nil {
			return fmt.Errorf("branch cannot be nil")
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid branch %s: %w", b.ID, err)
		}
	}

	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for offset := 0; offset < len(branches); offset += saveAllChunkSize {
		end := offset + saveAllChunkSize
		if end > len(branches) {
			end = len(branches)
		}
		chunk := branches[offset:end]

		query := `
			INSERT INTO branches (` + branchColumns + `)
			VALUES ` + generatePlaceholders(len(chunk), 10) + `
			ON DUPLICATE KEY UPDATE
				name = VALUES(name),
				address = VALUES(address),
				contact_phone = VALUES(contact_phone),
				latitude = VALUES(latitude),
				longitude = VALUES(longitude),
				branch_type = VALUES(branch_type),
				status = VALUES(status),
				updated_at = VALUES(updated_at)`

		args := make([]interface{}, 0, len(chunk)*10)
		for _, b := range chunk {
			args = append(args,
				b.ID.String(), b.Name, b.Address, b.ContactPhone,
				b.Location.Latitude, b.Location.Longitude,
				b.Type.String(), b.Status.String(),
				b.CreatedAt, b.UpdatedAt,
			)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			metrics.MySQLWriteErrors.Inc()
			return fmt.Errorf("failed to batch insert branches: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	metrics.MySQLQueryDuration.WithLabelValues("save_all").Observe(time.Since(start).Seconds())
	r.logger.WithField("count", len(branches)).Debug("Saved branches batch to MySQL")
	return nil
}

// FindByID возвращает отделение по идентификатору
func (r *MySQLStore) FindByID(ctx context.Context, id models.BranchID) (*models.Branch, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ReadTimeout)
	defer cancel()

	start := time.Now()
	query := `SELECT ` + branchColumns + ` FROM branches WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id.String())
	metrics.MySQLQueryDuration.WithLabelValues("find_by_id").Observe(time.Since(start).Seconds())

	branch, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return nil, ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find branch %s: %w", id, err)
	}
	return branch, nil
}

// DeleteByID удаляет отделение по идентификатору
func (r *MySQLStore) DeleteByID(ctx context.Context, id models.BranchID) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	result, err := r.db.ExecContext(ctx, `DELETE FROM branches WHERE id = ?`, id.String())
	metrics.MySQLQueryDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("failed to delete branch %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrBranchNotFound
	}
	return nil
}

// FindAll возвращает все отделения
func (r *MySQLStore) FindAll(ctx context.Context) ([]*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches`
	return r.queryBranches(ctx, "find_all", query)
}

// FindByTypes возвращает отделения заданных типов
func (r *MySQLStore) FindByTypes(ctx context.Context, types ...models.BranchType) ([]*models.Branch, error) {
	if len(types) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(types)-1) + "?"
	query := `SELECT ` + branchColumns + ` FROM branches WHERE branch_type IN (` + placeholders + `)`

	args := make([]interface{}, len(types))
	for i, t := range types {
		args[i] = t.String()
	}
	return r.queryBranches(ctx, "find_by_types", query, args...)
}

// FindByStatus возвращает отделения в заданном статусе
func (r *MySQLStore) FindByStatus(ctx context.Context, status models.BranchStatus) ([]*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE status = ?`
	return r.queryBranches(ctx, "find_by_status", query, status.String())
}

// SearchByName возвращает отделения, чье имя или адрес содержит
// подстроку (без учета регистра при стандартной utf8mb4 collation)
func (r *MySQLStore) SearchByName(ctx context.Context, fragment string) ([]*models.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE name LIKE ? OR address LIKE ?`
	pattern := "%" + escapeLike(fragment) + "%"
	return r.queryBranches(ctx, "search_by_name", query, pattern, pattern)
}

// Count возвращает общее число отделений
func (r *MySQLStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ReadTimeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count branches: %w", err)
	}
	return count, nil
}

// CountByType возвращает число отделений каждого типа
func (r *MySQLStore) CountByType(ctx context.Context) (map[models.BranchType]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ReadTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT branch_type, COUNT(*) FROM branches GROUP BY branch_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count branches by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.BranchType]int64)
	for rows.Next() {
		var (
			typeName string
			count    int64
		)
		if err := rows.Scan(&typeName, &count); err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan branch type count row")
			continue
		}
		counts[models.BranchType(typeName)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branch type counts: %w", err)
	}
	return counts, nil
}

// queryBranches выполняет запрос списка отделений с бюджетом чтения.
// Невалидные строки пропускаются с предупреждением, чтобы одна
// поврежденная запись не ломала выборку целиком.
func (r *MySQLStore) queryBranches(ctx context.Context, op, query string, args ...interface{}) ([]*models.Branch, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ReadTimeout)
	defer cancel()

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	metrics.MySQLQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan branch row")
			continue
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branches: %w", err)
	}
	return branches, nil
}

// rowScanner покрывает *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanBranch читает одну строку таблицы branches
func scanBranch(row rowScanner) (*models.Branch, error) {
	var (
		id, name, address, phone string
		lat, lon                 float64
		branchType, status       string
		createdAt, updatedAt     time.Time
	)

	err := row.Scan(&id, &name, &address, &phone, &lat, &lon, &branchType, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	return &models.Branch{
		ID:           models.BranchID(id),
		Location:     models.GeoPoint{Latitude: lat, Longitude: lon},
		Type:         models.BranchType(branchType),
		Status:       models.BranchStatus(status),
		Name:         name,
		Address:      address,
		ContactPhone: phone,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// escapeLike экранирует метасимволы LIKE в пользовательской подстроке
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// generatePlaceholders генерирует плейсхолдеры для batch INSERT
func generatePlaceholders(count, fieldsPerRecord int) string {
	if count == 0 {
		return ""
	}

	singleRecord := "(" + strings.Repeat("?,", fieldsPerRecord-1) + "?)"

	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = singleRecord
	}

	return strings.Join(placeholders, ",")
}
