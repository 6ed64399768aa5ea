package repository

import (
	"errors"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// ErrResultExists возвращается при попытке повторно сохранить финальный
// результат сессии (unique violation по session_code)
var ErrResultExists = errors.New("session result already persisted")

// ResultRepository определяет методы для работы с финальными результатами сессий
type ResultRepository interface {
	// Save сохраняет финальный результат сессии.
	// При конфликте по session_code возвращает ErrResultExists.
	Save(result *entity.SessionResult) error

	// GetBySessionCode возвращает результат по коду сессии
	GetBySessionCode(code string) (*entity.SessionResult, error)

	// List возвращает результаты с пагинацией (свежие первыми)
	List(limit, offset int) ([]entity.SessionResult, error)
}
