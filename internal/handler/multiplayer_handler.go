package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/handler/dto"
	"github.com/yourusername/quizlive-api/internal/middleware"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/service"
)

// MultiplayerHandler обрабатывает REST-запросы жизненного цикла сессий:
// создание, проверку кода, список участников, активную сессию пользователя
// и экспорт сохраненных результатов.
type MultiplayerHandler struct {
	sessions *service.SessionService
	quizzes  *service.QuizService
}

// NewMultiplayerHandler создает новый обработчик
func NewMultiplayerHandler(sessions *service.SessionService, quizzes *service.QuizService) *MultiplayerHandler {
	return &MultiplayerHandler{sessions: sessions, quizzes: quizzes}
}

// CreateSession создает сессию для викторины
// POST /api/multiplayer/create-session
func (h *MultiplayerHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hostID := c.GetString("user_id")
	if hostID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.QuizID, hostID, req.PerQuestionSeconds)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateSessionResponse{
		SessionCode:    session.Code,
		QuizTitle:      session.QuizTitle,
		TotalQuestions: session.TotalQuestions,
		TimeLimit:      session.PerQuestionTimeLimit,
		Status:         session.Status,
		ExpiresAt:      session.ExpiresAt,
	})
}

// JoinSession впускает участника в сессию по REST (без открытия
// push-канала): фронтенд может занять место до подключения WebSocket
// POST /api/multiplayer/session/:code/join
func (h *MultiplayerHandler) JoinSession(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)

	var req dto.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !middleware.ValidUserID(req.UserID) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid user id format"})
		return
	}
	username := req.Username
	if username == "" {
		username = req.UserID
	}

	join, err := h.sessions.Join(c.Request.Context(), code, req.UserID, username)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionStatePayload(join.Session, req.UserID))
}

// StartSession запускает викторину по REST (команда хоста)
// POST /api/multiplayer/session/:code/start
func (h *MultiplayerHandler) StartSession(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)
	hostID := c.GetString("user_id")
	if hostID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.sessions.StartQuiz(c.Request.Context(), code, hostID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionStatePayload(session, hostID))
}

// EndSession досрочно завершает викторину по REST (команда хоста)
// POST /api/multiplayer/session/:code/end
func (h *MultiplayerHandler) EndSession(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)
	hostID := c.GetString("user_id")
	if hostID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.sessions.EndQuiz(c.Request.Context(), code, hostID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_code": code, "status": entity.SessionStatusCompleted})
}

// ValidateSession проверяет, указывает ли код на живую сессию
// POST /api/multiplayer/session/:code/validate
func (h *MultiplayerHandler) ValidateSession(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)

	info, err := h.sessions.Validate(c.Request.Context(), code)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetParticipants возвращает текущий список участников сессии
// GET /api/multiplayer/session/:code/participants
func (h *MultiplayerHandler) GetParticipants(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)

	session, err := h.sessions.GetSession(c.Request.Context(), code)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ParticipantsResponse{
		SessionCode:      session.Code,
		Participants:     dto.NewParticipantSummaries(session),
		ParticipantCount: session.PlayerCount(),
		IsStarted:        !session.IsWaiting(),
	})
}

// GetSessionState возвращает полное состояние сессии
// GET /api/multiplayer/session/:code
func (h *MultiplayerHandler) GetSessionState(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)

	session, err := h.sessions.GetSession(c.Request.Context(), code)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSessionStatePayload(session, c.Query("user_id")))
}

// GetActiveSession возвращает активную сессию пользователя
// GET /api/multiplayer/user/:user_id/active-session
func (h *MultiplayerHandler) GetActiveSession(c *gin.Context) {
	userID := c.MustGet("userID").(string)

	info, err := h.sessions.ActiveSession(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"active_session": nil})
			return
		}
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_session": info})
}

// ClearActiveSession сбрасывает привязку активной сессии пользователя
// DELETE /api/multiplayer/user/:user_id/active-session
func (h *MultiplayerHandler) ClearActiveSession(c *gin.Context) {
	userID := c.MustGet("userID").(string)

	if err := h.sessions.ClearActiveSession(c.Request.Context(), userID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// GetSessionResult возвращает сохраненный финальный результат сессии
// GET /api/multiplayer/session/:code/result
func (h *MultiplayerHandler) GetSessionResult(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)

	result, err := h.sessions.Result(code)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListSessionResults возвращает сохраненные результаты с пагинацией
// GET /api/multiplayer/results?limit=&offset=
func (h *MultiplayerHandler) ListSessionResults(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	results, err := h.sessions.Results(limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "limit": limit, "offset": offset})
}

// ExportSessionResult экспортирует финальный результат сессии в CSV или Excel
// GET /api/multiplayer/session/:code/result/export?format=csv|xlsx
func (h *MultiplayerHandler) ExportSessionResult(c *gin.Context) {
	code := c.MustGet("sessionCode").(string)
	format := c.DefaultQuery("format", "csv")

	result, err := h.sessions.Result(code)
	if err != nil {
		h.handleError(c, err)
		return
	}

	filename := fmt.Sprintf("session_%s_results_%s", code, time.Now().Format("2006-01-02"))

	switch format {
	case "xlsx":
		h.exportXLSX(c, result, filename)
	default:
		h.exportCSV(c, result, filename)
	}
}

// exportCSV экспортирует результаты в CSV с правильным экранированием спецсимволов
func (h *MultiplayerHandler) exportCSV(c *gin.Context, result *entity.SessionResult, filename string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.csv\"", filename))

	// BOM для корректного отображения UTF-8 в Excel
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	// Используем encoding/csv для правильного экранирования запятых/кавычек
	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	// Заголовки
	writer.Write([]string{"Место", "Пользователь", "Очки", "Отвечено", "Всего вопросов", "Точность (%)"})

	// Данные
	for _, e := range result.Entries {
		writer.Write([]string{
			strconv.Itoa(e.Rank),
			sanitizeForExcel(e.Username),
			strconv.Itoa(e.Score),
			strconv.Itoa(e.AnsweredCount),
			strconv.Itoa(e.TotalQuestions),
			strconv.FormatFloat(e.Accuracy, 'f', 1, 64),
		})
	}
}

// exportXLSX экспортирует результаты в Excel с использованием StreamWriter
func (h *MultiplayerHandler) exportXLSX(c *gin.Context, result *entity.SessionResult, filename string) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Результаты"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[MultiplayerHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	// Заголовки
	headers := []interface{}{"Место", "Пользователь", "Очки", "Отвечено", "Всего вопросов", "Точность (%)"}
	if err := sw.SetRow("A1", headers); err != nil {
		log.Printf("[MultiplayerHandler] Ошибка записи заголовков: %v", err)
	}

	// Данные
	for i, e := range result.Entries {
		rowNum := i + 2 // Начинаем с 2 строки (1 - заголовки)
		cell := fmt.Sprintf("A%d", rowNum)

		row := []interface{}{e.Rank, sanitizeForExcel(e.Username), e.Score, e.AnsweredCount, e.TotalQuestions, e.Accuracy}
		if err := sw.SetRow(cell, row); err != nil {
			log.Printf("[MultiplayerHandler] Ошибка записи строки %d: %v", rowNum, err)
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[MultiplayerHandler] Ошибка Flush StreamWriter: %v", err)
	}

	// Записываем в response
	if err := f.Write(c.Writer); err != nil {
		log.Printf("[MultiplayerHandler] Ошибка записи Excel в response: %v", err)
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}

// handleError переводит бизнес-ошибки в HTTP-статусы
func (h *MultiplayerHandler) handleError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrSessionExpired) {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrRateLimited) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrLockBusy) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in MultiplayerHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
