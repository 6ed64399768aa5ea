package gamesession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// Алфавит кодов сессий: заглавные латинские буквы и цифры
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Число попыток сгенерировать уникальный код
const codeGenerationAttempts = 10

// Manager управляет жизненным циклом сессий: создание, вход участников,
// отметка отключений, запуск викторины.
type Manager struct {
	cfg      *Config
	store    *Store
	quizRepo repository.QuizRepository
}

// NewManager создает менеджер сессий
func NewManager(cfg *Config, store *Store, quizRepo repository.QuizRepository) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		quizRepo: quizRepo,
	}
}

// NewSessionCode генерирует 6-символьный код сессии
func NewSessionCode() string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(code)
}

// Create создает новую сессию для викторины.
// timeLimitSeconds=0 означает лимит по умолчанию.
func (m *Manager) Create(ctx context.Context, quizID uint, hostID string, timeLimitSeconds int) (*entity.Session, error) {
	quiz, err := m.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if quiz.QuestionCount() == 0 {
		return nil, fmt.Errorf("%w: quiz #%d has no questions", apperrors.ErrValidation, quizID)
	}

	if timeLimitSeconds <= 0 {
		timeLimitSeconds = m.cfg.DefaultQuestionSeconds
	}

	// Генерируем код с проверкой на коллизию
	var code string
	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		candidate := NewSessionCode()
		exists, err := m.store.SessionExists(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("check session code: %w", err)
		}
		if !exists {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, fmt.Errorf("failed to generate unique session code after %d attempts", codeGenerationAttempts)
	}

	now := time.Now()
	session := &entity.Session{
		Code:                 code,
		QuizID:               fmt.Sprintf("%d", quiz.ID),
		HostID:               hostID,
		Status:               entity.SessionStatusWaiting,
		Mode:                 entity.SessionModeLive,
		QuizTitle:            quiz.Title,
		TotalQuestions:       quiz.QuestionCount(),
		PerQuestionTimeLimit: timeLimitSeconds,
		CurrentQuestionIndex: 0,
		CreatedAt:            now,
		ExpiresAt:            now.Add(m.cfg.SessionTTL),
		Participants:         make(map[string]*entity.Participant),
	}

	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	if err := m.store.CacheQuiz(ctx, code, quiz); err != nil {
		log.Printf("[SessionManager] Не удалось закешировать викторину для сессии %s: %v", code, err)
	}

	log.Printf("[SessionManager] Создана сессия %s (викторина #%d, хост %s, вопросов: %d)", code, quiz.ID, hostID, quiz.QuestionCount())
	return session, nil
}

// Join впускает участника в сессию (или переподключает его).
// Хост никогда не попадает в коллекцию участников: его присутствие
// отслеживается полями host_username/host_connected самой сессии.
// Вход игроков сериализуется блокировкой, чтобы конкурентные join
// не теряли друг друга при перезаписи блоба участников.
func (m *Manager) Join(ctx context.Context, code, userID, username string) (*JoinResult, error) {
	if err := m.store.AcquireAdmission(ctx, code); err != nil {
		return nil, err
	}
	defer m.store.ReleaseAdmission(ctx, code)

	session, err := m.store.LoadSession(ctx, code)
	if err != nil {
		return nil, err
	}

	if session.IsHost(userID) {
		return m.joinHost(ctx, session, userID, username)
	}

	result := &JoinResult{}
	err = m.store.WithParticipantsLock(ctx, code, func(fresh *entity.Session) error {
		result.Session = fresh

		if existing := fresh.Participant(userID); existing != nil {
			result.IsReconnect = true
			if fresh.IsCompleted() {
				// Состав завершенной сессии заморожен: состояние отдаем,
				// но блоб не трогаем
				return errSkipSave
			}
			// Переподключение: счет и ответы сохраняются
			existing.Connected = true
			if username != "" {
				existing.Username = username
			}
			return nil
		}

		if fresh.IsCompleted() {
			return fmt.Errorf("%w: session %s already completed", apperrors.ErrConflict, code)
		}
		if fresh.IsActive() {
			// Новые игроки не входят в запущенную викторину
			return fmt.Errorf("%w: session %s already started", apperrors.ErrConflict, code)
		}

		fresh.Participants[userID] = &entity.Participant{
			UserID:    userID,
			Username:  username,
			Connected: true,
			JoinedAt:  time.Now(),
			Answers:   []entity.ParticipantAnswer{},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IsReconnect {
		log.Printf("[SessionManager] Игрок %s переподключился к сессии %s", userID, code)
	} else {
		log.Printf("[SessionManager] Игрок %s вошел в сессию %s", userID, code)
	}
	return result, nil
}

// joinHost отмечает присутствие хоста в скалярных полях сессии
// и привязывает к нему активную сессию
func (m *Manager) joinHost(ctx context.Context, session *entity.Session, userID, username string) (*JoinResult, error) {
	result := &JoinResult{
		Session:     session,
		IsHost:      true,
		IsReconnect: session.HostConnected || !session.IsWaiting(),
	}

	session.HostConnected = true
	if username != "" {
		session.HostUsername = username
	}
	err := m.store.UpdateSessionFields(ctx, session.Code, map[string]interface{}{
		"host_connected": "true",
		"host_username":  session.HostUsername,
	})
	if err != nil {
		return nil, fmt.Errorf("join host %s: %w", session.Code, err)
	}

	if !session.IsCompleted() {
		if err := m.store.SetActiveSession(ctx, userID, session.Code); err != nil {
			log.Printf("[SessionManager] Не удалось записать активную сессию хоста %s: %v", userID, err)
		}
	}

	log.Printf("[SessionManager] Хост %s подключился к сессии %s (повторно: %t)", userID, session.Code, result.IsReconnect)
	return result, nil
}

// MarkDisconnected отмечает участника отключившимся, не удаляя его:
// счет и ответы должны пережить переподключение.
// Возвращает true, если отключился хост.
func (m *Manager) MarkDisconnected(ctx context.Context, code, userID string) (bool, error) {
	session, err := m.store.LoadSession(ctx, code)
	if err != nil {
		return false, err
	}

	if session.IsHost(userID) {
		err := m.store.UpdateSessionFields(ctx, code, map[string]interface{}{
			"host_connected": "false",
		})
		if err != nil {
			return true, fmt.Errorf("mark host disconnected %s: %w", code, err)
		}
		log.Printf("[SessionManager] Хост %s отключился от сессии %s", userID, code)
		return true, nil
	}

	err = m.store.WithParticipantsLock(ctx, code, func(fresh *entity.Session) error {
		participant := fresh.Participant(userID)
		if participant == nil {
			return fmt.Errorf("%w: participant %s in session %s", apperrors.ErrNotFound, userID, code)
		}
		if fresh.IsCompleted() {
			return errSkipSave
		}
		participant.Connected = false
		return nil
	})
	if err != nil {
		return false, err
	}

	log.Printf("[SessionManager] Игрок %s отключился от сессии %s", userID, code)
	return false, nil
}

// Start запускает викторину. Разрешено только хосту и только из
// статуса waiting; нужен хотя бы один игрок, иначе завершение сессии
// никогда не наступит.
func (m *Manager) Start(ctx context.Context, code, userID string) (*entity.Session, error) {
	session, err := m.store.LoadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.IsHost(userID) {
		return nil, fmt.Errorf("%w: only the host can start the quiz", apperrors.ErrForbidden)
	}
	if !session.IsWaiting() {
		return nil, fmt.Errorf("%w: session %s is %s", apperrors.ErrConflict, code, session.Status)
	}
	if session.PlayerCount() == 0 {
		return nil, fmt.Errorf("%w: cannot start session %s without players", apperrors.ErrValidation, code)
	}

	now := time.Now()
	session.Status = entity.SessionStatusActive
	session.QuizStartTime = &now
	session.QuestionStartTime = &now
	session.CurrentQuestionIndex = 0

	err = m.store.UpdateSessionFields(ctx, code, map[string]interface{}{
		"status":                 session.Status,
		"quiz_start_time":        now.Format(time.RFC3339Nano),
		"question_start_time":    now.Format(time.RFC3339Nano),
		"current_question_index": "0",
	})
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", code, err)
	}

	// Личный прогресс каждого игрока начинается с первого вопроса
	for uid := range session.Participants {
		if err := m.store.SetQuestionIndex(ctx, code, uid, 0); err != nil {
			log.Printf("[SessionManager] Не удалось сбросить прогресс %s/%s: %v", code, uid, err)
		}
	}

	log.Printf("[SessionManager] Сессия %s запущена (игроков: %d)", code, session.PlayerCount())
	return session, nil
}

// ValidationInfo - ответ проверки кода сессии
type ValidationInfo struct {
	Valid            bool   `json:"valid"`
	Status           string `json:"status,omitempty"`
	QuizTitle        string `json:"quiz_title,omitempty"`
	ParticipantCount int    `json:"participant_count"`
}

// Validate проверяет, что код указывает на живую сессию
func (m *Manager) Validate(ctx context.Context, code string) (*ValidationInfo, error) {
	session, err := m.store.LoadSession(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrSessionExpired) {
			return &ValidationInfo{Valid: false}, nil
		}
		return nil, err
	}
	return &ValidationInfo{
		Valid:            !session.IsCompleted(),
		Status:           session.Status,
		QuizTitle:        session.QuizTitle,
		ParticipantCount: session.PlayerCount(),
	}, nil
}

// ParticipantProgress - прогресс участника в активной сессии
type ParticipantProgress struct {
	Score         int `json:"score"`
	AnsweredCount int `json:"answered_count"`
	QuestionIndex int `json:"question_index"`
}

// ActiveSessionInfo - сведения об активной сессии пользователя
type ActiveSessionInfo struct {
	SessionCode    string               `json:"session_code"`
	Status         string               `json:"status"`
	QuizTitle      string               `json:"quiz_title"`
	TotalQuestions int                  `json:"total_questions"`
	IsHost         bool                 `json:"is_host"`
	Progress       *ParticipantProgress `json:"progress,omitempty"`
}

// ActiveSession возвращает активную сессию пользователя.
// Протухшая привязка (сессия удалена или завершена) очищается.
func (m *Manager) ActiveSession(ctx context.Context, userID string) (*ActiveSessionInfo, error) {
	code, err := m.store.ActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	session, err := m.store.LoadSession(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrSessionExpired) {
			if clearErr := m.store.ClearActiveSession(ctx, userID); clearErr != nil {
				log.Printf("[SessionManager] Не удалось сбросить протухшую привязку %s: %v", userID, clearErr)
			}
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	info := &ActiveSessionInfo{
		SessionCode:    session.Code,
		Status:         session.Status,
		QuizTitle:      session.QuizTitle,
		TotalQuestions: session.TotalQuestions,
		IsHost:         session.IsHost(userID),
	}
	if participant := session.Participant(userID); participant != nil {
		index, err := m.store.QuestionIndex(ctx, session.Code, userID)
		if err != nil {
			index = 0
		}
		info.Progress = &ParticipantProgress{
			Score:         participant.Score,
			AnsweredCount: len(participant.Answers),
			QuestionIndex: index,
		}
	}
	return info, nil
}

// ClearActiveSession сбрасывает привязку активной сессии пользователя
func (m *Manager) ClearActiveSession(ctx context.Context, userID string) error {
	return m.store.ClearActiveSession(ctx, userID)
}
