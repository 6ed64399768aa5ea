package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/handler/dto"
	"github.com/yourusername/quizlive-api/internal/middleware"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/service"
	"github.com/yourusername/quizlive-api/internal/service/gamesession"
	ws "github.com/yourusername/quizlive-api/internal/websocket"
)

// Прикладные коды закрытия соединения
const (
	closeInvalidSessionCode = 4001
	closeInvalidUserID      = 4002
)

// Мягкий лимит размера входящего сообщения: превышение дает error,
// но соединение остается открытым
const softMessageLimit = 10 * 1024

// Таймаут обработки одного сообщения
const messageTimeout = 30 * time.Second

// WSHandler - шлюз WebSocket: принимает соединения, валидирует
// идентификаторы, диспетчеризует сообщения протокола в движок сессий.
type WSHandler struct {
	sessions *service.SessionService
	registry *ws.Registry
	upgrader gorillaws.Upgrader
}

// NewWSHandler создает новый шлюз WebSocket
func NewWSHandler(sessions *service.SessionService, registry *ws.Registry, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		registry: registry,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				// Пустой Origin - не браузерный клиент (мобильное приложение, curl)
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Printf("[Gateway] Отклонен неразрешенный origin: %s", origin)
				return false
			},
			EnableCompression: true,
		},
	}
}

// HandleConnection обрабатывает входящее WebSocket соединение.
// Невалидные идентификаторы закрывают уже установленное соединение
// прикладными кодами 4001/4002 - до апгрейда их не передать.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Gateway] Ошибка апгрейда соединения: %v", err)
		return
	}

	code := middleware.NormalizeSessionCode(c.Param("code"))
	if code == "" {
		closeWithCode(conn, closeInvalidSessionCode, "invalid session code format")
		return
	}

	userID := c.Query("user_id")
	if !middleware.ValidUserID(userID) {
		closeWithCode(conn, closeInvalidUserID, "invalid user id format")
		return
	}

	username := c.Query("username")
	if username == "" {
		username = userID
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), messageTimeout)
	defer cancel()

	join, err := h.sessions.Join(ctx, code, userID, username)
	if err != nil {
		h.rejectJoin(conn, code, userID, err)
		return
	}

	client := ws.NewClient(conn, code, userID, username)
	h.registry.Connect(client, join.IsHost)

	// Полное состояние - входящему, изменение состава - остальным
	statePayload := dto.NewSessionStatePayload(join.Session, userID)
	if msg, err := ws.NewMessage(ws.MsgSessionState, statePayload); err == nil {
		client.Enqueue(msg, 0)
	}

	event := "joined"
	if join.IsReconnect {
		event = "reconnected"
	}
	h.broadcastSessionUpdate(join.Session, event, userID, username)

	if join.IsHost && join.IsReconnect && join.Session.IsActive() {
		if msg, err := ws.NewMessage(ws.MsgHostReconnected, gin.H{"session_code": code}); err == nil {
			h.registry.BroadcastToPlayers(code, msg, userID)
		}
	}

	// Вошедший не должен ждать следующего события, чтобы продолжить:
	// в завершенной сессии он сразу получает финальные результаты,
	// в активной - свой текущий вопрос (или quiz_completed, если прошел все)
	switch {
	case join.Session.IsCompleted():
		h.sendFinalResults(ctx, client)
	case join.Session.IsActive() && !join.IsHost:
		if err := h.sessions.RequestNextQuestion(ctx, code, userID); err != nil {
			log.Printf("[Gateway] Не удалось выдать текущий вопрос %s/%s: %v", code, userID, err)
		}
	}

	client.StartPumps(h.handleMessage, h.handleDisconnect)
}

// sendFinalResults отправляет клиенту quiz_completed с финальной
// таблицей лидеров завершенной сессии
func (h *WSHandler) sendFinalResults(ctx context.Context, client *ws.Client) {
	entries, err := h.sessions.Leaderboard(ctx, client.SessionCode)
	if err != nil {
		log.Printf("[Gateway] Не удалось построить финальную таблицу %s: %v", client.SessionCode, err)
		return
	}
	payload := gin.H{
		"session_code": client.SessionCode,
		"leaderboard":  entries,
	}
	if session, err := h.sessions.GetSession(ctx, client.SessionCode); err == nil {
		if p := session.Participant(client.UserID); p != nil {
			payload["score"] = p.Score
			payload["answered_count"] = len(p.Answers)
			payload["total_questions"] = session.TotalQuestions
		}
	}
	if msg, err := ws.NewMessage(ws.MsgQuizCompleted, payload); err == nil {
		client.Enqueue(msg, 0)
	}
}

// rejectJoin отправляет причину отказа и закрывает соединение
func (h *WSHandler) rejectJoin(conn *gorillaws.Conn, code, userID string, err error) {
	log.Printf("[Gateway] Вход отклонен (сессия %s, пользователь %s): %v", code, userID, err)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		closeWithCode(conn, closeInvalidSessionCode, "session not found")
	case errors.Is(err, apperrors.ErrSessionExpired):
		closeWithCode(conn, closeInvalidSessionCode, "session expired")
	default:
		payload := ws.ErrorPayload{Code: errorCode(err), Message: err.Error()}
		if msg, mErr := ws.NewMessage(ws.MsgError, payload); mErr == nil {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			conn.WriteMessage(gorillaws.TextMessage, msg)
		}
		closeWithCode(conn, gorillaws.CloseNormalClosure, "join rejected")
	}
}

// closeWithCode пишет close-фрейм с прикладным кодом и закрывает соединение
func closeWithCode(conn *gorillaws.Conn, code int, reason string) {
	frame := gorillaws.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteMessage(gorillaws.CloseMessage, frame)
	conn.Close()
}

// handleMessage разбирает конверт протокола и диспетчеризует по типу.
// Бизнес-ошибки уходят клиенту сообщением error и не рвут соединение.
func (h *WSHandler) handleMessage(message []byte, client *ws.Client) error {
	if len(message) > softMessageLimit {
		h.sendError(client, "message_too_large", "message exceeds 10KB limit")
		return nil
	}

	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		h.sendError(client, "invalid_message", "malformed JSON envelope")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	code := client.SessionCode
	userID := client.UserID

	var err error
	switch msg.Type {
	case ws.MsgJoin:
		// Участник уже в сессии с момента апгрейда: повторный join
		// просто возвращает свежее состояние
		err = h.handleResendState(ctx, client)

	case ws.MsgStartQuiz:
		_, err = h.sessions.StartQuiz(ctx, code, userID)

	case ws.MsgSubmitAnswer:
		err = h.handleSubmitAnswer(ctx, client, msg.Payload)

	case ws.MsgNextQuestion:
		err = h.sessions.NextQuestion(ctx, code, userID)

	case ws.MsgRequestNextQuestion:
		err = h.sessions.RequestNextQuestion(ctx, code, userID)

	case ws.MsgEndQuiz:
		err = h.sessions.EndQuiz(ctx, code, userID)

	case ws.MsgRequestLeaderboard:
		err = h.handleRequestLeaderboard(ctx, client)

	case ws.MsgPing:
		if pong, mErr := ws.NewMessage(ws.MsgPong, nil); mErr == nil {
			client.Enqueue(pong, 0)
		}

	default:
		// Неизвестный тип не считается ошибкой соединения
		log.Printf("[Gateway] Неизвестный тип сообщения %q от %s (сессия %s), игнорируем", msg.Type, userID, code)
	}

	if err != nil {
		log.Printf("[Gateway] Ошибка обработки %q от %s (сессия %s): %v", msg.Type, userID, code, err)
		h.sendError(client, errorCode(err), err.Error())
	}
	return nil
}

// handleResendState отправляет клиенту свежее состояние сессии
func (h *WSHandler) handleResendState(ctx context.Context, client *ws.Client) error {
	session, err := h.sessions.GetSession(ctx, client.SessionCode)
	if err != nil {
		return err
	}
	payload := dto.NewSessionStatePayload(session, client.UserID)
	msg, err := ws.NewMessage(ws.MsgSessionState, payload)
	if err != nil {
		return err
	}
	client.Enqueue(msg, 0)
	return nil
}

// handleSubmitAnswer принимает ответ, возвращает результат участнику
// и запускает проверку завершения, если викторина для него закончилась
func (h *WSHandler) handleSubmitAnswer(ctx context.Context, client *ws.Client, payload json.RawMessage) error {
	var input gamesession.SubmitAnswerInput
	if err := json.Unmarshal(payload, &input); err != nil {
		h.sendError(client, "validation_error", "malformed submit_answer payload")
		return nil
	}

	outcome, err := h.sessions.SubmitAnswer(ctx, client.SessionCode, client.UserID, input)
	if err != nil {
		return err
	}

	if msg, mErr := ws.NewMessage(ws.MsgAnswerResult, outcome.Result); mErr == nil {
		client.Enqueue(msg, 0)
	}

	if outcome.CompletedQuiz {
		h.sendQuizCompleted(ctx, client, outcome.Result.NewTotalScore)
		if err := h.sessions.CheckCompletion(ctx, client.SessionCode); err != nil {
			log.Printf("[Gateway] Ошибка проверки завершения %s: %v", client.SessionCode, err)
		}
	}
	return nil
}

// sendQuizCompleted уведомляет участника о прохождении всех вопросов
func (h *WSHandler) sendQuizCompleted(ctx context.Context, client *ws.Client, score int) {
	answered := 0
	total := 0
	if session, err := h.sessions.GetSession(ctx, client.SessionCode); err == nil {
		total = session.TotalQuestions
		if p := session.Participant(client.UserID); p != nil {
			answered = len(p.Answers)
			score = p.Score
		}
	}
	payload := gin.H{
		"session_code":    client.SessionCode,
		"score":           score,
		"answered_count":  answered,
		"total_questions": total,
	}
	if msg, err := ws.NewMessage(ws.MsgQuizCompleted, payload); err == nil {
		client.Enqueue(msg, 0)
	}
}

// handleRequestLeaderboard возвращает таблицу лидеров запросившему
func (h *WSHandler) handleRequestLeaderboard(ctx context.Context, client *ws.Client) error {
	entries, err := h.sessions.Leaderboard(ctx, client.SessionCode)
	if err != nil {
		return err
	}
	payload := gin.H{
		"session_code": client.SessionCode,
		"leaderboard":  entries,
	}
	msg, err := ws.NewMessage(ws.MsgLeaderboardResponse, payload)
	if err != nil {
		return err
	}
	client.Enqueue(msg, 0)
	return nil
}

// handleDisconnect вызывается после остановки читающей горутины.
// Отключение хоста в активной сессии не завершает ее: игроки получают
// host_disconnected и продолжают в своем темпе.
func (h *WSHandler) handleDisconnect(client *ws.Client) {
	if !h.registry.Disconnect(client) {
		// Реестр уже держит новое соединение этого пользователя
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	code := client.SessionCode
	isHost, err := h.sessions.MarkDisconnected(ctx, code, client.UserID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrSessionExpired) {
			log.Printf("[Gateway] Ошибка отметки отключения %s/%s: %v", code, client.UserID, err)
		}
		return
	}

	session, err := h.sessions.GetSession(ctx, code)
	if err != nil {
		return
	}

	if isHost && session.IsActive() {
		if msg, mErr := ws.NewMessage(ws.MsgHostDisconnected, gin.H{"session_code": code}); mErr == nil {
			h.registry.BroadcastToPlayers(code, msg)
		}
		return
	}

	h.broadcastSessionUpdate(session, "disconnected", client.UserID, client.Username)
}

// broadcastSessionUpdate рассылает изменение состава участников
// всем, кроме самого участника, вызвавшего изменение
func (h *WSHandler) broadcastSessionUpdate(session *entity.Session, event, userID, username string) {
	payload := dto.SessionUpdatePayload{
		Event:            event,
		UserID:           userID,
		Username:         username,
		Participants:     dto.NewParticipantSummaries(session),
		ParticipantCount: session.PlayerCount(),
	}
	msg, err := ws.NewMessage(ws.MsgSessionUpdate, payload)
	if err != nil {
		return
	}
	h.registry.Broadcast(session.Code, msg, userID)
}

// sendError отправляет клиенту сообщение error, не разрывая соединение
func (h *WSHandler) sendError(client *ws.Client, code, message string) {
	payload := ws.ErrorPayload{Code: code, Message: message}
	if msg, err := ws.NewMessage(ws.MsgError, payload); err == nil {
		client.Enqueue(msg, 0)
	}
}

// errorCode переводит бизнес-ошибку в код протокола
func errorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrValidation):
		return "validation_error"
	case errors.Is(err, apperrors.ErrAlreadyAnswered):
		return "already_answered"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrLockBusy):
		return "busy"
	case errors.Is(err, apperrors.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal_error"
	}
}
