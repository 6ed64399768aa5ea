package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/quizlive-api/internal/handler/dto"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/service"
)

// QuizHandler обрабатывает запросы, связанные с викторинами
type QuizHandler struct {
	quizService *service.QuizService
}

// NewQuizHandler создает новый обработчик викторин
func NewQuizHandler(quizService *service.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

// CreateQuiz создает новую викторину
// POST /api/quizzes
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	var req dto.CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quiz, err := h.quizService.CreateQuiz(req.Title, req.Description, req.Questions)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quiz)
}

// GetQuiz возвращает викторину по ID
// GET /api/quizzes/:id
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.quizService.GetQuiz(quizID)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// ListQuizzes возвращает список викторин с пагинацией
// GET /api/quizzes?limit=&offset=
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	quizzes, err := h.quizService.ListQuizzes(limit, offset)
	if err != nil {
		h.handleQuizError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes, "limit": limit, "offset": offset})
}

// DeleteQuiz удаляет викторину
// DELETE /api/quizzes/:id
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	if err := h.quizService.DeleteQuiz(quizID); err != nil {
		h.handleQuizError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handleQuizError переводит бизнес-ошибки в HTTP-статусы
func (h *QuizHandler) handleQuizError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in QuizHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
