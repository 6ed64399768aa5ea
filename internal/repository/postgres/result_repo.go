package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// ResultRepo реализует repository.ResultRepository
type ResultRepo struct {
	db *gorm.DB
}

// NewResultRepo создает новый репозиторий результатов
func NewResultRepo(db *gorm.DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// Save сохраняет финальный результат сессии.
// Уникальный индекс по session_code превращает гонку двух завершений
// в ErrResultExists у проигравшего - запись остается ровно одна.
func (r *ResultRepo) Save(result *entity.SessionResult) error {
	err := r.db.Create(result).Error
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %s", repository.ErrResultExists, result.SessionCode)
		}
		return fmt.Errorf("save session result %s: %w", result.SessionCode, err)
	}
	return nil
}

// GetBySessionCode возвращает результат по коду сессии
func (r *ResultRepo) GetBySessionCode(code string) (*entity.SessionResult, error) {
	var result entity.SessionResult
	err := r.db.Where("session_code = ?", code).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// List возвращает результаты с пагинацией, свежие первыми
func (r *ResultRepo) List(limit, offset int) ([]entity.SessionResult, error) {
	var results []entity.SessionResult
	err := r.db.Limit(limit).Offset(offset).Order("completed_at DESC").Find(&results).Error
	return results, err
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
