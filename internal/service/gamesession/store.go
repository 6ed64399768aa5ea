package gamesession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/pkg/lock"
)

// Параметры блокировок движка.
// TTL страхует от зависших держателей, число попыток ограничивает ожидание.
const (
	admissionLockTTL      = 5 * time.Second
	admissionLockAttempts = 20

	answerLockTTL      = 5 * time.Second
	answerLockAttempts = 20

	participantsLockTTL      = 3 * time.Second
	participantsLockAttempts = 50

	// Замок завершения снимается на всех путях выхода; TTL 30 секунд
	// страхует от упавшего держателя посреди финализации.
	completionLockTTL = 30 * time.Second

	answerRateWindow = time.Second

	quizCacheTTL     = time.Hour
	completedFlagTTL = time.Hour
)

// Построители ключей быстрого хранилища

func sessionKey(code string) string {
	return "session:" + code
}

func quizCacheKey(code string) string {
	return "quiz_cache:" + code
}

func questionIndexKey(code, userID string) string {
	return fmt.Sprintf("participant:%s:%s:question_index", code, userID)
}

func questionIndexPattern(code string) string {
	return fmt.Sprintf("participant:%s:*:question_index", code)
}

func admissionLockKey(code string) string {
	return fmt.Sprintf("lock:session:%s:participants", code)
}

func answerLockKey(code, userID string) string {
	return fmt.Sprintf("lock:answer:%s:%s", code, userID)
}

func participantsLockKey(code string) string {
	return "lock:participants:" + code
}

func completionLockKey(code string) string {
	return "completion_check:" + code
}

func answerRateKey(code, userID string) string {
	return fmt.Sprintf("rate:answer:%s:%s", code, userID)
}

func completedFlagKey(code, userID string) string {
	return fmt.Sprintf("completed:%s:%s", code, userID)
}

func activeSessionKey(userID string) string {
	return "user_active_session:" + userID
}

// Store - типизированный доступ к состоянию сессий в быстром хранилище.
// Сессия лежит в хеше session:<code>; участники сериализуются одним
// JSON-полем, остальные поля - скаляры.
type Store struct {
	states     repository.StateRepository
	locker     *lock.Locker
	sessionTTL time.Duration
}

// NewStore создает хранилище состояния сессий
func NewStore(states repository.StateRepository, locker *lock.Locker, sessionTTL time.Duration) *Store {
	return &Store{
		states:     states,
		locker:     locker,
		sessionTTL: sessionTTL,
	}
}

// SessionExists проверяет наличие сессии без полной загрузки
func (s *Store) SessionExists(ctx context.Context, code string) (bool, error) {
	return s.states.Exists(ctx, sessionKey(code))
}

// LoadSession загружает сессию из хеша. Истекшая сессия удаляется,
// возвращается ErrSessionExpired.
func (s *Store) LoadSession(ctx context.Context, code string) (*entity.Session, error) {
	fields, err := s.states.HGetAll(ctx, sessionKey(code))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", code, err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound
	}

	session, err := sessionFromFields(code, fields)
	if err != nil {
		return nil, fmt.Errorf("parse session %s: %w", code, err)
	}

	if session.IsExpired(time.Now()) {
		log.Printf("[Store] Сессия %s истекла, удаляем", code)
		if delErr := s.DeleteSession(ctx, code); delErr != nil {
			log.Printf("[Store] Ошибка удаления истекшей сессии %s: %v", code, delErr)
		}
		return nil, apperrors.ErrSessionExpired
	}

	return session, nil
}

// SaveSession записывает все поля сессии и выставляет TTL по expires_at
func (s *Store) SaveSession(ctx context.Context, session *entity.Session) error {
	fields, err := sessionToFields(session)
	if err != nil {
		return fmt.Errorf("serialize session %s: %w", session.Code, err)
	}
	if err := s.states.HSet(ctx, sessionKey(session.Code), fields); err != nil {
		return fmt.Errorf("save session %s: %w", session.Code, err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = s.sessionTTL
	}
	return s.states.Expire(ctx, sessionKey(session.Code), ttl)
}

// UpdateSessionFields точечно обновляет поля хеша сессии
func (s *Store) UpdateSessionFields(ctx context.Context, code string, fields map[string]interface{}) error {
	return s.states.HSet(ctx, sessionKey(code), fields)
}

// SaveParticipants перезаписывает JSON-блоб участников
func (s *Store) SaveParticipants(ctx context.Context, code string, participants map[string]*entity.Participant) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("serialize participants %s: %w", code, err)
	}
	return s.states.HSet(ctx, sessionKey(code), map[string]interface{}{
		"participants": string(data),
	})
}

// errSkipSave - сигнал fn в WithParticipantsLock: изменений нет,
// блоб участников перезаписывать не нужно
var errSkipSave = errors.New("participants unchanged")

// WithParticipantsLock выполняет fn под блокировкой участников:
// перечитывает сессию, применяет изменение и сохраняет блоб участников.
// Read-modify-write без этой блокировки теряет конкурентные обновления.
func (s *Store) WithParticipantsLock(ctx context.Context, code string, fn func(session *entity.Session) error) error {
	backoff := lock.LinearBackoff(20*time.Millisecond, 20*time.Millisecond, time.Second)
	if err := s.locker.Acquire(ctx, participantsLockKey(code), participantsLockTTL, participantsLockAttempts, backoff); err != nil {
		return err
	}
	defer func() {
		if err := s.locker.Release(ctx, participantsLockKey(code)); err != nil {
			log.Printf("[Store] Ошибка снятия блокировки участников %s: %v", code, err)
		}
	}()

	session, err := s.LoadSession(ctx, code)
	if err != nil {
		return err
	}
	if err := fn(session); err != nil {
		if errors.Is(err, errSkipSave) {
			return nil
		}
		return err
	}
	return s.SaveParticipants(ctx, code, session.Participants)
}

// AcquireAdmission захватывает блокировку входа в сессию
func (s *Store) AcquireAdmission(ctx context.Context, code string) error {
	backoff := lock.LinearBackoff(50*time.Millisecond, 20*time.Millisecond, time.Second)
	return s.locker.Acquire(ctx, admissionLockKey(code), admissionLockTTL, admissionLockAttempts, backoff)
}

// ReleaseAdmission снимает блокировку входа
func (s *Store) ReleaseAdmission(ctx context.Context, code string) {
	if err := s.locker.Release(ctx, admissionLockKey(code)); err != nil {
		log.Printf("[Store] Ошибка снятия блокировки входа %s: %v", code, err)
	}
}

// AcquireAnswerLock захватывает пер-пользовательскую блокировку ответа
func (s *Store) AcquireAnswerLock(ctx context.Context, code, userID string) error {
	backoff := lock.LinearBackoff(50*time.Millisecond, 20*time.Millisecond, time.Second)
	return s.locker.Acquire(ctx, answerLockKey(code, userID), answerLockTTL, answerLockAttempts, backoff)
}

// ReleaseAnswerLock снимает блокировку ответа
func (s *Store) ReleaseAnswerLock(ctx context.Context, code, userID string) {
	if err := s.locker.Release(ctx, answerLockKey(code, userID)); err != nil {
		log.Printf("[Store] Ошибка снятия блокировки ответа %s/%s: %v", code, userID, err)
	}
}

// TryCompletionLock - неблокирующий захват замка проверки завершения.
// false означает, что проверка уже идет в другом месте.
func (s *Store) TryCompletionLock(ctx context.Context, code string) (bool, error) {
	return s.locker.TryAcquire(ctx, completionLockKey(code), completionLockTTL)
}

// ReleaseCompletionLock снимает замок проверки завершения.
// Не снятый замок блокировал бы следующие проверки на весь TTL,
// и сессия, чей последний игрок финишировал в это окно, зависла бы
// в статусе active.
func (s *Store) ReleaseCompletionLock(ctx context.Context, code string) {
	if err := s.locker.Release(ctx, completionLockKey(code)); err != nil {
		log.Printf("[Store] Ошибка снятия замка завершения %s: %v", code, err)
	}
}

// AllowAnswer реализует rate limit: не чаще одного ответа в секунду.
// Возвращает false, если окно еще не истекло.
func (s *Store) AllowAnswer(ctx context.Context, code, userID string) (bool, error) {
	return s.states.SetNX(ctx, answerRateKey(code, userID), "1", answerRateWindow)
}

// RefundAnswerRate возвращает окно rate limit участнику, чей ответ
// отклонен валидацией: некорректная отправка не должна стоить кулдауна
func (s *Store) RefundAnswerRate(ctx context.Context, code, userID string) {
	if err := s.states.Delete(ctx, answerRateKey(code, userID)); err != nil {
		log.Printf("[Store] Ошибка возврата окна ответа %s/%s: %v", code, userID, err)
	}
}

// QuestionIndex возвращает личный индекс вопроса участника (0, если не задан)
func (s *Store) QuestionIndex(ctx context.Context, code, userID string) (int, error) {
	val, err := s.states.Get(ctx, questionIndexKey(code, userID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	idx, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt question index for %s/%s: %w", code, userID, err)
	}
	return idx, nil
}

// SetQuestionIndex записывает личный индекс вопроса участника
func (s *Store) SetQuestionIndex(ctx context.Context, code, userID string, index int) error {
	return s.states.Set(ctx, questionIndexKey(code, userID), strconv.Itoa(index), s.sessionTTL)
}

// QuestionIndexes возвращает личные индексы всех участников, у которых
// есть ключ прогресса (participant:<code>:<user>:question_index)
func (s *Store) QuestionIndexes(ctx context.Context, code string) (map[string]int, error) {
	keys, err := s.states.ScanKeys(ctx, questionIndexPattern(code))
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("participant:%s:", code)
	indexes := make(map[string]int, len(keys))
	for _, key := range keys {
		userID := key[len(prefix) : len(key)-len(":question_index")]
		val, err := s.states.Get(ctx, key)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue // Ключ истек между SCAN и GET
			}
			return nil, err
		}
		idx, convErr := strconv.Atoi(val)
		if convErr != nil {
			continue
		}
		indexes[userID] = idx
	}
	return indexes, nil
}

// CacheQuiz кеширует снимок викторины на время сессии
func (s *Store) CacheQuiz(ctx context.Context, code string, quiz *entity.Quiz) error {
	return s.states.SetJSON(ctx, quizCacheKey(code), quiz, quizCacheTTL)
}

// CachedQuiz возвращает викторину из кеша сессии
func (s *Store) CachedQuiz(ctx context.Context, code string) (*entity.Quiz, error) {
	var quiz entity.Quiz
	if err := s.states.GetJSON(ctx, quizCacheKey(code), &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

// MarkCompleted выставляет флаг прохождения викторины участником
func (s *Store) MarkCompleted(ctx context.Context, code, userID string) error {
	return s.states.Set(ctx, completedFlagKey(code, userID), "1", completedFlagTTL)
}

// IsCompleted проверяет флаг прохождения
func (s *Store) IsCompleted(ctx context.Context, code, userID string) (bool, error) {
	return s.states.Exists(ctx, completedFlagKey(code, userID))
}

// SetActiveSession привязывает активную сессию к пользователю (хосту)
func (s *Store) SetActiveSession(ctx context.Context, userID, code string) error {
	return s.states.Set(ctx, activeSessionKey(userID), code, s.sessionTTL)
}

// ActiveSession возвращает код активной сессии пользователя
func (s *Store) ActiveSession(ctx context.Context, userID string) (string, error) {
	return s.states.Get(ctx, activeSessionKey(userID))
}

// ClearActiveSession сбрасывает привязку активной сессии
func (s *Store) ClearActiveSession(ctx context.Context, userID string) error {
	return s.states.Delete(ctx, activeSessionKey(userID))
}

// DeleteSession удаляет сессию и все связанные с ней ключи
func (s *Store) DeleteSession(ctx context.Context, code string) error {
	keys := []string{sessionKey(code), quizCacheKey(code)}

	indexKeys, err := s.states.ScanKeys(ctx, questionIndexPattern(code))
	if err != nil {
		log.Printf("[Store] Ошибка сканирования ключей прогресса %s: %v", code, err)
	} else {
		keys = append(keys, indexKeys...)
	}

	return s.states.Delete(ctx, keys...)
}

// --- Сериализация сессии в поля хеша ---

func sessionToFields(session *entity.Session) (map[string]interface{}, error) {
	participants, err := json.Marshal(session.Participants)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"session_code":            session.Code,
		"quiz_id":                 session.QuizID,
		"host_id":                 session.HostID,
		"host_username":           session.HostUsername,
		"host_connected":          strconv.FormatBool(session.HostConnected),
		"status":                  session.Status,
		"mode":                    session.Mode,
		"quiz_title":              session.QuizTitle,
		"total_questions":         strconv.Itoa(session.TotalQuestions),
		"per_question_time_limit": strconv.Itoa(session.PerQuestionTimeLimit),
		"current_question_index":  strconv.Itoa(session.CurrentQuestionIndex),
		"created_at":              session.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":              session.ExpiresAt.Format(time.RFC3339Nano),
		"participants":            string(participants),
	}
	if session.QuizStartTime != nil {
		fields["quiz_start_time"] = session.QuizStartTime.Format(time.RFC3339Nano)
	}
	if session.QuestionStartTime != nil {
		fields["question_start_time"] = session.QuestionStartTime.Format(time.RFC3339Nano)
	}
	return fields, nil
}

func sessionFromFields(code string, fields map[string]string) (*entity.Session, error) {
	session := &entity.Session{
		Code:          code,
		QuizID:        fields["quiz_id"],
		HostID:        fields["host_id"],
		HostUsername:  fields["host_username"],
		HostConnected: fields["host_connected"] == "true",
		Status:        fields["status"],
		Mode:          fields["mode"],
		QuizTitle:     fields["quiz_title"],
	}
	if session.Mode == "" {
		session.Mode = entity.SessionModeLive
	}

	var err error
	if session.TotalQuestions, err = parseIntField(fields, "total_questions"); err != nil {
		return nil, err
	}
	if session.PerQuestionTimeLimit, err = parseIntField(fields, "per_question_time_limit"); err != nil {
		return nil, err
	}
	if session.CurrentQuestionIndex, err = parseIntField(fields, "current_question_index"); err != nil {
		return nil, err
	}

	if session.CreatedAt, err = parseTimeField(fields, "created_at"); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseTimeField(fields, "expires_at"); err != nil {
		return nil, err
	}
	if raw := fields["quiz_start_time"]; raw != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			return nil, fmt.Errorf("field quiz_start_time: %w", parseErr)
		}
		session.QuizStartTime = &t
	}
	if raw := fields["question_start_time"]; raw != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			return nil, fmt.Errorf("field question_start_time: %w", parseErr)
		}
		session.QuestionStartTime = &t
	}

	session.Participants = make(map[string]*entity.Participant)
	if raw := fields["participants"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &session.Participants); err != nil {
			return nil, fmt.Errorf("field participants: %w", err)
		}
	}

	return session, nil
}

func parseIntField(fields map[string]string, name string) (int, error) {
	raw := fields[name]
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	return val, nil
}

func parseTimeField(fields map[string]string, name string) (time.Time, error) {
	raw := fields[name]
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", name, err)
	}
	return t, nil
}
