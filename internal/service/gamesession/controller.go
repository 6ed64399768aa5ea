package gamesession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	ws "github.com/yourusername/quizlive-api/internal/websocket"
)

// Запас после лимита вопроса, чтобы ответы на исходе времени успели дойти
const autoAdvanceGrace = 2 * time.Second

// Таймаут фоновых операций (таймеры, завершение)
const backgroundOpTimeout = 30 * time.Second

// Controller обрабатывает игровые события запущенной сессии:
// ответы участников, продвижение по вопросам, завершение.
type Controller struct {
	cfg       *Config
	deps      *Dependencies
	manager   *Manager
	scheduler *Scheduler

	// semaphores: код сессии -> ограничитель параллельной обработки ответов
	semaphores sync.Map
}

// NewController создает игровой контроллер
func NewController(cfg *Config, deps *Dependencies, manager *Manager, scheduler *Scheduler) *Controller {
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		manager:   manager,
		scheduler: scheduler,
	}
}

// semaphore возвращает ограничитель ответов сессии, создавая его лениво
func (c *Controller) semaphore(code string) *semaphore.Weighted {
	if v, ok := c.semaphores.Load(code); ok {
		return v.(*semaphore.Weighted)
	}
	created := semaphore.NewWeighted(c.cfg.AnswerConcurrency)
	actual, _ := c.semaphores.LoadOrStore(code, created)
	return actual.(*semaphore.Weighted)
}

// Quiz возвращает викторину сессии: из кеша, с fallback на базу
func (c *Controller) Quiz(ctx context.Context, session *entity.Session) (*entity.Quiz, error) {
	quiz, err := c.deps.Store.CachedQuiz(ctx, session.Code)
	if err == nil {
		return quiz, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	quizID, convErr := strconv.ParseUint(session.QuizID, 10, 64)
	if convErr != nil {
		return nil, fmt.Errorf("corrupt quiz id %q in session %s: %w", session.QuizID, session.Code, convErr)
	}
	quiz, err = c.deps.QuizRepo.GetByID(uint(quizID))
	if err != nil {
		return nil, err
	}

	if cacheErr := c.deps.Store.CacheQuiz(ctx, session.Code, quiz); cacheErr != nil {
		log.Printf("[GameController] Не удалось перекешировать викторину для %s: %v", session.Code, cacheErr)
	}
	return quiz, nil
}

// StartQuiz запускает викторину и рассылает первый вопрос
func (c *Controller) StartQuiz(ctx context.Context, code, userID string) (*entity.Session, error) {
	session, err := c.manager.Start(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	quiz, err := c.Quiz(ctx, session)
	if err != nil {
		return nil, err
	}

	startedPayload := map[string]interface{}{
		"session_code":    session.Code,
		"quiz_title":      session.QuizTitle,
		"total_questions": session.TotalQuestions,
		"time_limit":      session.PerQuestionTimeLimit,
	}
	if msg, err := ws.NewMessage(ws.MsgQuizStarted, startedPayload); err == nil {
		c.deps.Broadcaster.Broadcast(code, msg)
	}

	c.broadcastQuestion(session, quiz, 0)
	c.scheduleAutoAdvance(code, 0, session.PerQuestionTimeLimit)
	return session, nil
}

// SubmitAnswer принимает и оценивает ответ участника.
// Порядок защит: семафор сессии, проверки роли и состояния, rate limit,
// пер-пользовательская блокировка, запись под блокировкой участников.
// Индекс вопроса всегда берется из серверного прогресса игрока:
// клиент не выбирает, на какой вопрос он отвечает.
func (c *Controller) SubmitAnswer(ctx context.Context, code, userID string, input SubmitAnswerInput) (*AnswerOutcome, error) {
	sem := c.semaphore(code)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	session, err := c.deps.Store.LoadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, fmt.Errorf("%w: session %s is %s", apperrors.ErrConflict, code, session.Status)
	}
	if session.IsHost(userID) {
		return nil, fmt.Errorf("%w: the host does not submit answers", apperrors.ErrForbidden)
	}
	participant := session.Participant(userID)
	if participant == nil {
		return nil, fmt.Errorf("%w: user %s is not a participant of %s", apperrors.ErrForbidden, userID, code)
	}

	allowed, err := c.deps.Store.AllowAnswer(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: answers limited to one per second", apperrors.ErrRateLimited)
	}

	if err := c.deps.Store.AcquireAnswerLock(ctx, code, userID); err != nil {
		return nil, err
	}
	defer c.deps.Store.ReleaseAnswerLock(ctx, code, userID)

	done, err := c.deps.Store.IsCompleted(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: user %s already completed the quiz", apperrors.ErrConflict, userID)
	}

	// Текущий вопрос игрока - его серверный индекс прогресса
	index, err := c.deps.Store.QuestionIndex(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if index >= session.TotalQuestions {
		return nil, fmt.Errorf("%w: user %s already completed the quiz", apperrors.ErrConflict, userID)
	}
	if participant.HasAnswered(index) {
		return nil, fmt.Errorf("%w: question %d", apperrors.ErrAlreadyAnswered, index)
	}

	quiz, err := c.Quiz(ctx, session)
	if err != nil {
		return nil, err
	}
	question := quiz.QuestionAt(index)
	if question == nil {
		return nil, fmt.Errorf("%w: question %d not found", apperrors.ErrValidation, index)
	}

	grade, err := Grade(question, input.Answer, input.TimedOut)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			// Некорректная полезная нагрузка не тратит окно rate limit
			c.deps.Store.RefundAnswerRate(ctx, code, userID)
		}
		return nil, err
	}

	points, timeBonus, multiplier := Score(grade, c.timeTaken(session, input), session.PerQuestionTimeLimit)

	// Запись ответа и счета под блокировкой участников,
	// с повторной проверкой дубликата по свежему состоянию
	newTotal := 0
	err = c.deps.Store.WithParticipantsLock(ctx, code, func(fresh *entity.Session) error {
		p := fresh.Participant(userID)
		if p == nil {
			return fmt.Errorf("%w: participant %s vanished", apperrors.ErrNotFound, userID)
		}
		if p.HasAnswered(index) {
			return fmt.Errorf("%w: question %d", apperrors.ErrAlreadyAnswered, index)
		}
		p.Answers = append(p.Answers, entity.ParticipantAnswer{
			QuestionIndex: index,
			Answer:        input.Answer,
			Timestamp:     float64(time.Now().UnixNano()) / 1e9,
			IsCorrect:     grade.IsCorrect,
			PointsEarned:  points,
		})
		p.Score += points
		newTotal = p.Score
		return nil
	})
	if err != nil {
		return nil, err
	}

	nextIndex := index + 1
	if err := c.deps.Store.SetQuestionIndex(ctx, code, userID, nextIndex); err != nil {
		log.Printf("[GameController] Не удалось обновить прогресс %s/%s: %v", code, userID, err)
	}

	outcome := &AnswerOutcome{
		Result: &AnswerResultPayload{
			IsCorrect:     grade.IsCorrect,
			Points:        points,
			TimeBonus:     timeBonus,
			Multiplier:    roundTo(multiplier, 2),
			CorrectAnswer: grade.CorrectAnswer,
			UserAnswer:    input.Answer,
			NewTotalScore: newTotal,
			QuestionType:  question.NormalizedType(),
			QuestionIndex: index,
		},
	}
	if question.NormalizedType() == entity.QuestionTypeMultiMcq && grade.IsPartial {
		pct := roundTo(grade.PartialCredit*100, 1)
		isPartial := true
		outcome.Result.PartialCredit = &pct
		outcome.Result.IsPartial = &isPartial
	}

	if nextIndex >= session.TotalQuestions {
		outcome.CompletedQuiz = true
		if err := c.deps.Store.MarkCompleted(ctx, code, userID); err != nil {
			log.Printf("[GameController] Не удалось выставить флаг прохождения %s/%s: %v", code, userID, err)
		}
	}

	log.Printf("[GameController] Ответ %s/%s на вопрос %d: верно=%t, очки=%d (итого %d)",
		code, userID, index, grade.IsCorrect, points, newTotal)
	return outcome, nil
}

// timeTaken определяет время ответа: из полезной нагрузки клиента,
// иначе от старта текущего вопроса сессии
func (c *Controller) timeTaken(session *entity.Session, input SubmitAnswerInput) float64 {
	if input.TimeTaken != nil && *input.TimeTaken >= 0 {
		return *input.TimeTaken
	}
	if session.QuestionStartTime != nil {
		return time.Since(*session.QuestionStartTime).Seconds()
	}
	return float64(session.PerQuestionTimeLimit)
}

// AdvanceQuestion переводит сессию к следующему вопросу.
// Ручной вызов доступен только хосту; автопродвижение (auto=true)
// перепроверяет, что сессия не ушла вперед сама.
func (c *Controller) AdvanceQuestion(ctx context.Context, code, actorID string, auto bool) error {
	session, err := c.deps.Store.LoadSession(ctx, code)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		if auto {
			return nil // Сессия успела завершиться
		}
		return fmt.Errorf("%w: session %s is %s", apperrors.ErrConflict, code, session.Status)
	}
	if !auto && !session.IsHost(actorID) {
		return fmt.Errorf("%w: only the host can advance questions", apperrors.ErrForbidden)
	}

	current := session.CurrentQuestionIndex
	c.scheduler.Cancel(code, current)

	next := current + 1
	if next >= session.TotalQuestions {
		// Все вопросы показаны: сессия закончится, когда все игроки
		// пройдут викторину (или хост завершит ее явно)
		return c.CheckCompletion(ctx, code)
	}

	now := time.Now()
	err = c.deps.Store.UpdateSessionFields(ctx, code, map[string]interface{}{
		"current_question_index": strconv.Itoa(next),
		"question_start_time":    now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("advance session %s: %w", code, err)
	}
	session.CurrentQuestionIndex = next
	session.QuestionStartTime = &now

	quiz, err := c.Quiz(ctx, session)
	if err != nil {
		return err
	}

	c.broadcastQuestion(session, quiz, next)
	c.broadcastLeaderboard(ctx, session, ws.MsgLeaderboardUpdate)
	c.scheduleAutoAdvance(code, next, session.PerQuestionTimeLimit)

	log.Printf("[GameController] Сессия %s перешла к вопросу %d (auto=%t)", code, next, auto)
	return nil
}

// RequestNextQuestion выдает участнику его следующий вопрос
// (самостоятельный темп). Прошедшему все вопросы отправляется
// quiz_completed и запускается проверка завершения сессии.
func (c *Controller) RequestNextQuestion(ctx context.Context, code, userID string) error {
	session, err := c.deps.Store.LoadSession(ctx, code)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return fmt.Errorf("%w: session %s is %s", apperrors.ErrConflict, code, session.Status)
	}
	if session.IsHost(userID) {
		return fmt.Errorf("%w: the host has no question feed", apperrors.ErrForbidden)
	}
	participant := session.Participant(userID)
	if participant == nil {
		return fmt.Errorf("%w: user %s is not a participant of %s", apperrors.ErrForbidden, userID, code)
	}

	index, err := c.deps.Store.QuestionIndex(ctx, code, userID)
	if err != nil {
		return err
	}

	if index >= session.TotalQuestions {
		if err := c.deps.Store.MarkCompleted(ctx, code, userID); err != nil {
			log.Printf("[GameController] Не удалось выставить флаг прохождения %s/%s: %v", code, userID, err)
		}
		payload := map[string]interface{}{
			"session_code":    code,
			"score":           participant.Score,
			"answered_count":  len(participant.Answers),
			"total_questions": session.TotalQuestions,
		}
		if msg, err := ws.NewMessage(ws.MsgQuizCompleted, payload); err == nil {
			c.deps.Broadcaster.SendToUser(code, userID, msg)
		}
		return c.CheckCompletion(ctx, code)
	}

	quiz, err := c.Quiz(ctx, session)
	if err != nil {
		return err
	}
	question := quiz.QuestionAt(index)
	if question == nil {
		return fmt.Errorf("%w: question %d not found", apperrors.ErrValidation, index)
	}

	envelope := QuestionEnvelope{
		Question:      NewQuestionView(question, session.PerQuestionTimeLimit, false),
		Index:         index,
		Total:         session.TotalQuestions,
		TimeRemaining: session.PerQuestionTimeLimit,
		TimeLimit:     session.PerQuestionTimeLimit,
	}
	msg, err := ws.NewMessage(ws.MsgQuestion, envelope)
	if err != nil {
		return err
	}
	c.deps.Broadcaster.SendToUser(code, userID, msg)
	return nil
}

// broadcastQuestion рассылает вопрос: игрокам без ответов, хосту с ответами
func (c *Controller) broadcastQuestion(session *entity.Session, quiz *entity.Quiz, index int) {
	question := quiz.QuestionAt(index)
	if question == nil {
		log.Printf("[GameController] Вопрос %d отсутствует в викторине сессии %s", index, session.Code)
		return
	}

	limit := session.PerQuestionTimeLimit
	remaining := limit
	if session.QuestionStartTime != nil {
		elapsed := int(time.Since(*session.QuestionStartTime).Seconds())
		if elapsed > 0 {
			remaining = limit - elapsed
		}
		if remaining < 0 {
			remaining = 0
		}
	}

	playerEnvelope := QuestionEnvelope{
		Question:      NewQuestionView(question, limit, false),
		Index:         index,
		Total:         session.TotalQuestions,
		TimeRemaining: remaining,
		TimeLimit:     limit,
	}
	if msg, err := ws.NewMessage(ws.MsgQuestion, playerEnvelope); err == nil {
		c.deps.Broadcaster.BroadcastToPlayers(session.Code, msg)
	}

	hostEnvelope := playerEnvelope
	hostEnvelope.Question = NewQuestionView(question, limit, true)
	if msg, err := ws.NewMessage(ws.MsgQuestion, hostEnvelope); err == nil {
		c.deps.Broadcaster.SendToUser(session.Code, session.HostID, msg)
	}
}

// broadcastLeaderboard рассылает текущую таблицу лидеров всем участникам
func (c *Controller) broadcastLeaderboard(ctx context.Context, session *entity.Session, msgType string) {
	entries, err := c.deps.Leaderboard.Snapshot(ctx, session)
	if err != nil {
		log.Printf("[GameController] Не удалось построить таблицу лидеров %s: %v", session.Code, err)
		return
	}
	payload := map[string]interface{}{
		"session_code": session.Code,
		"leaderboard":  entries,
	}
	if msg, err := ws.NewMessage(msgType, payload); err == nil {
		c.deps.Broadcaster.Broadcast(session.Code, msg)
	}
}

// scheduleAutoAdvance ставит таймер автопродвижения вопроса:
// лимит плюс запас, затем перепроверка состояния
func (c *Controller) scheduleAutoAdvance(code string, index, limitSeconds int) {
	delay := time.Duration(limitSeconds)*time.Second + autoAdvanceGrace
	c.scheduler.ScheduleAdvance(code, index, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
		defer cancel()

		session, err := c.deps.Store.LoadSession(ctx, code)
		if err != nil {
			return
		}
		if !session.IsActive() || session.CurrentQuestionIndex != index {
			return // Хост уже продвинул вопрос вручную
		}
		if err := c.AdvanceQuestion(ctx, code, "", true); err != nil {
			log.Printf("[GameController] Ошибка автопродвижения %s/%d: %v", code, index, err)
		}
	})
}
