package repository

import (
	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// QuizRepository определяет методы для работы с хранилищем викторин
type QuizRepository interface {
	// Create создает новую викторину
	Create(quiz *entity.Quiz) error

	// GetByID возвращает викторину по ID (вместе с вопросами)
	GetByID(id uint) (*entity.Quiz, error)

	// List возвращает список викторин с пагинацией
	List(limit, offset int) ([]entity.Quiz, error)

	// Update обновляет викторину
	Update(quiz *entity.Quiz) error

	// Delete удаляет викторину
	Delete(id uint) error
}
