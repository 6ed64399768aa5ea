package service

import (
	"fmt"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// QuizService предоставляет операции над викторинами
type QuizService struct {
	quizRepo repository.QuizRepository
}

// NewQuizService создает новый сервис викторин
func NewQuizService(quizRepo repository.QuizRepository) *QuizService {
	return &QuizService{quizRepo: quizRepo}
}

// CreateQuiz создает викторину после валидации вопросов
func (s *QuizService) CreateQuiz(title, description string, questions entity.QuestionList) (*entity.Quiz, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: at least one question is required", apperrors.ErrValidation)
	}
	for i := range questions {
		if err := validateQuestion(&questions[i], i); err != nil {
			return nil, err
		}
	}

	quiz := &entity.Quiz{
		Title:       title,
		Description: description,
		Questions:   questions,
	}
	if err := s.quizRepo.Create(quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// GetQuiz возвращает викторину по ID
func (s *QuizService) GetQuiz(id uint) (*entity.Quiz, error) {
	return s.quizRepo.GetByID(id)
}

// ListQuizzes возвращает список викторин с пагинацией
func (s *QuizService) ListQuizzes(limit, offset int) ([]entity.Quiz, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.quizRepo.List(limit, offset)
}

// DeleteQuiz удаляет викторину
func (s *QuizService) DeleteQuiz(id uint) error {
	return s.quizRepo.Delete(id)
}

// validateQuestion проверяет согласованность вопроса с его типом
func validateQuestion(q *entity.Question, index int) error {
	if !q.HasText() {
		return fmt.Errorf("%w: question %d has no text", apperrors.ErrValidation, index)
	}

	switch q.NormalizedType() {
	case entity.QuestionTypeSingleMcq, entity.QuestionTypeTrueFalse:
		if q.CorrectAnswerIndex == nil {
			return fmt.Errorf("%w: question %d has no correct answer index", apperrors.ErrValidation, index)
		}
		if len(q.Options) > 0 && (*q.CorrectAnswerIndex < 0 || *q.CorrectAnswerIndex >= len(q.Options)) {
			return fmt.Errorf("%w: question %d correct answer index out of range", apperrors.ErrValidation, index)
		}
	case entity.QuestionTypeMultiMcq:
		if len(q.CorrectAnswerIndices) == 0 {
			return fmt.Errorf("%w: question %d has no correct answer indices", apperrors.ErrValidation, index)
		}
	case entity.QuestionTypeDragAndDrop:
		if len(q.CorrectMatches) == 0 {
			return fmt.Errorf("%w: question %d has no correct matches", apperrors.ErrValidation, index)
		}
	default:
		return fmt.Errorf("%w: question %d has unknown type %q", apperrors.ErrValidation, index, q.Type)
	}
	return nil
}
