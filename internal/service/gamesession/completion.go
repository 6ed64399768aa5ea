package gamesession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	ws "github.com/yourusername/quizlive-api/internal/websocket"
)

// CheckCompletion проверяет, прошли ли все игроки викторину, и при
// положительном ответе завершает сессию. Замок completion_check
// схлопывает конкурентные проверки: проигравший просто выходит,
// финализация и так идемпотентна. Замок снимается на всех путях
// выхода: оставленный висеть, он глушил бы проверку следующего
// финишера на весь TTL, и сессия застревала бы в статусе active.
func (c *Controller) CheckCompletion(ctx context.Context, code string) error {
	acquired, err := c.deps.Store.TryCompletionLock(ctx, code)
	if err != nil {
		return err
	}
	if !acquired {
		return nil // Проверка уже идет
	}
	defer c.deps.Store.ReleaseCompletionLock(ctx, code)

	session, err := c.deps.Store.LoadSession(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrSessionExpired) {
			return nil
		}
		return err
	}
	if session.IsCompleted() {
		return nil
	}
	if session.PlayerCount() == 0 {
		return nil
	}

	indexes, err := c.deps.Store.QuestionIndexes(ctx, code)
	if err != nil {
		return err
	}

	for userID := range session.Participants {
		if indexes[userID] < session.TotalQuestions {
			return nil // Кто-то еще играет
		}
	}

	log.Printf("[GameController] Все игроки сессии %s прошли викторину, завершаем", code)
	return c.Finalize(ctx, session)
}

// EndQuiz досрочно завершает сессию по команде хоста.
// Повторное завершение - no-op.
func (c *Controller) EndQuiz(ctx context.Context, code, userID string) error {
	session, err := c.deps.Store.LoadSession(ctx, code)
	if err != nil {
		return err
	}
	if !session.IsHost(userID) {
		return fmt.Errorf("%w: only the host can end the quiz", apperrors.ErrForbidden)
	}
	if session.IsCompleted() {
		return nil
	}
	log.Printf("[GameController] Хост %s досрочно завершает сессию %s", userID, code)
	return c.Finalize(ctx, session)
}

// Finalize завершает сессию: гасит таймеры, фиксирует статус,
// сохраняет финальные результаты в базу и рассылает quiz_ended.
// Гонка двух завершений разрешается уникальным индексом по session_code.
func (c *Controller) Finalize(ctx context.Context, session *entity.Session) error {
	code := session.Code
	c.scheduler.CancelAll(code)

	now := time.Now()
	err := c.deps.Store.UpdateSessionFields(ctx, code, map[string]interface{}{
		"status":       entity.SessionStatusCompleted,
		"completed_at": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", code, err)
	}
	session.Status = entity.SessionStatusCompleted

	entries, err := c.deps.Leaderboard.Snapshot(ctx, session)
	if err != nil {
		log.Printf("[GameController] Не удалось построить финальную таблицу %s: %v", code, err)
		entries = []entity.LeaderboardEntry{}
	}

	result := &entity.SessionResult{
		SessionCode: code,
		QuizID:      session.QuizID,
		QuizTitle:   session.QuizTitle,
		Entries:     buildResultEntries(session, entries),
		CompletedAt: now,
	}
	if err := c.deps.ResultRepo.Save(result); err != nil {
		if errors.Is(err, repository.ErrResultExists) {
			log.Printf("[GameController] Результат сессии %s уже сохранен параллельным завершением", code)
		} else {
			// Потеря результатов не должна блокировать завершение сессии
			log.Printf("[GameController] Ошибка сохранения результатов %s: %v", code, err)
		}
	}

	payload := QuizEndedPayload{
		SessionCode:    code,
		QuizTitle:      session.QuizTitle,
		TotalQuestions: session.TotalQuestions,
		Leaderboard:    entries,
	}
	if msg, err := ws.NewMessage(ws.MsgQuizEnded, payload); err == nil {
		c.deps.Broadcaster.Broadcast(code, msg)
	}

	if err := c.deps.Store.ClearActiveSession(ctx, session.HostID); err != nil {
		log.Printf("[GameController] Не удалось сбросить активную сессию хоста %s: %v", session.HostID, err)
	}
	c.semaphores.Delete(code)

	log.Printf("[GameController] Сессия %s завершена (участников: %d)", code, len(session.Participants))
	return nil
}

// buildResultEntries превращает строки таблицы лидеров в финальные
// записи с точностью ответов и полным списком ответов участника
func buildResultEntries(session *entity.Session, entries []entity.LeaderboardEntry) entity.ResultEntries {
	result := make(entity.ResultEntries, 0, len(entries))
	for i, entry := range entries {
		item := entity.ResultEntry{
			Rank:           i + 1,
			UserID:         entry.UserID,
			Username:       entry.Username,
			Score:          entry.Score,
			AnsweredCount:  entry.AnsweredCount,
			TotalQuestions: entry.TotalQuestions,
		}
		if participant := session.Participant(entry.UserID); participant != nil {
			item.Accuracy = roundTo(participant.Accuracy()*100, 1)
			item.Answers = participant.Answers
		}
		result = append(result, item)
	}
	return result
}
