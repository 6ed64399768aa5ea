package gamesession

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/pkg/lock"
)

// fakeQuizRepo - минимальный QuizRepository для тестов движка
type fakeQuizRepo struct {
	quizzes map[uint]*entity.Quiz
}

func newFakeQuizRepo(quizzes ...*entity.Quiz) *fakeQuizRepo {
	repo := &fakeQuizRepo{quizzes: make(map[uint]*entity.Quiz)}
	for _, quiz := range quizzes {
		repo.quizzes[quiz.ID] = quiz
	}
	return repo
}

func (r *fakeQuizRepo) Create(quiz *entity.Quiz) error {
	r.quizzes[quiz.ID] = quiz
	return nil
}

func (r *fakeQuizRepo) GetByID(id uint) (*entity.Quiz, error) {
	quiz, ok := r.quizzes[id]
	if !ok {
		return nil, fmt.Errorf("%w: quiz %d", apperrors.ErrNotFound, id)
	}
	return quiz, nil
}

func (r *fakeQuizRepo) List(limit, offset int) ([]entity.Quiz, error) { return nil, nil }
func (r *fakeQuizRepo) Update(quiz *entity.Quiz) error               { return nil }
func (r *fakeQuizRepo) Delete(id uint) error                         { return nil }

func testQuiz(questionCount int) *entity.Quiz {
	questions := make(entity.QuestionList, 0, questionCount)
	for i := 0; i < questionCount; i++ {
		questions = append(questions, entity.Question{
			ID:                 fmt.Sprintf("q%d", i),
			Text:               fmt.Sprintf("Вопрос %d", i),
			Type:               entity.QuestionTypeSingleMcq,
			Options:            []string{"a", "b", "c"},
			CorrectAnswerIndex: intPtr(1),
		})
	}
	return &entity.Quiz{ID: 1, Title: "Тестовая викторина", Questions: questions}
}

func newTestManager(t *testing.T, quiz *entity.Quiz) (*Manager, *Store, *memState) {
	t.Helper()
	state := newMemState()
	store := NewStore(state, lock.NewLocker(state), 2*time.Hour)
	manager := NewManager(DefaultConfig(), store, newFakeQuizRepo(quiz))
	return manager, store, state
}

func TestNewSessionCode_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	for i := 0; i < 100; i++ {
		code := NewSessionCode()
		assert.Regexp(t, pattern, code)
	}
}

func TestManager_Create(t *testing.T) {
	manager, store, _ := newTestManager(t, testQuiz(3))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 0)
	require.NoError(t, err)

	assert.Regexp(t, `^[A-Z0-9]{6}$`, session.Code)
	assert.Equal(t, entity.SessionStatusWaiting, session.Status)
	assert.Equal(t, "host-1", session.HostID)
	assert.Equal(t, 3, session.TotalQuestions)
	// Нулевой лимит заменяется умолчанием
	assert.Equal(t, DefaultConfig().DefaultQuestionSeconds, session.PerQuestionTimeLimit)

	// Сессия читается обратно из хранилища
	loaded, err := store.LoadSession(ctx, session.Code)
	require.NoError(t, err)
	assert.Equal(t, session.Code, loaded.Code)
	assert.Equal(t, session.TotalQuestions, loaded.TotalQuestions)

	// Викторина закеширована на время сессии
	cached, err := store.CachedQuiz(ctx, session.Code)
	require.NoError(t, err)
	assert.Equal(t, "Тестовая викторина", cached.Title)
}

func TestManager_Create_EmptyQuiz(t *testing.T) {
	manager, _, _ := newTestManager(t, &entity.Quiz{ID: 1, Title: "Пустая"})

	_, err := manager.Create(context.Background(), 1, "host-1", 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestManager_Join(t *testing.T) {
	manager, _, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)

	// Хост входит первым
	hostJoin, err := manager.Join(ctx, session.Code, "host-1", "Хост")
	require.NoError(t, err)
	assert.True(t, hostJoin.IsHost)
	assert.False(t, hostJoin.IsReconnect)

	// Игрок входит
	playerJoin, err := manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)
	assert.False(t, playerJoin.IsHost)
	require.NotNil(t, playerJoin.Session.Participant("player-1"))
	assert.True(t, playerJoin.Session.Participant("player-1").Connected)
}

func TestManager_Join_HostIsNotAParticipant(t *testing.T) {
	manager, store, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)

	hostJoin, err := manager.Join(ctx, session.Code, "host-1", "Хост")
	require.NoError(t, err)
	require.True(t, hostJoin.IsHost)

	// Хост не попадает в коллекцию участников: его присутствие
	// отслеживается скалярными полями сессии
	loaded, err := store.LoadSession(ctx, session.Code)
	require.NoError(t, err)
	assert.Nil(t, loaded.Participant("host-1"))
	assert.Equal(t, 0, loaded.PlayerCount())
	assert.True(t, loaded.HostConnected)
	assert.Equal(t, "Хост", loaded.HostUsername)

	// Счетчик участников не учитывает хоста
	info, err := manager.Validate(ctx, session.Code)
	require.NoError(t, err)
	assert.Equal(t, 0, info.ParticipantCount)

	_, err = manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)

	info, err = manager.Validate(ctx, session.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.ParticipantCount)

	// Отключение хоста гасит host_connected, не трогая игроков
	isHost, err := manager.MarkDisconnected(ctx, session.Code, "host-1")
	require.NoError(t, err)
	assert.True(t, isHost)

	loaded, err = store.LoadSession(ctx, session.Code)
	require.NoError(t, err)
	assert.False(t, loaded.HostConnected)
	assert.Equal(t, 1, loaded.PlayerCount())
}

func TestManager_Join_CompletedSessionFreezesRoster(t *testing.T) {
	manager, store, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)
	_, err = manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)

	_, err = manager.MarkDisconnected(ctx, session.Code, "player-1")
	require.NoError(t, err)
	require.NoError(t, store.UpdateSessionFields(ctx, session.Code, map[string]interface{}{
		"status": entity.SessionStatusCompleted,
	}))

	// Возвращение в завершенную сессию отдает состояние,
	// но блоб участников не перезаписывает
	rejoin, err := manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)
	assert.True(t, rejoin.IsReconnect)

	loaded, err := store.LoadSession(ctx, session.Code)
	require.NoError(t, err)
	require.NotNil(t, loaded.Participant("player-1"))
	assert.False(t, loaded.Participant("player-1").Connected)

	// Новым игрокам вход закрыт
	_, err = manager.Join(ctx, session.Code, "player-2", "Новичок")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestManager_Join_Reconnect_PreservesScore(t *testing.T) {
	manager, store, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)

	_, err = manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)

	// Начисляем очки и отключаем
	err = store.WithParticipantsLock(ctx, session.Code, func(s *entity.Session) error {
		s.Participant("player-1").Score = 1500
		return nil
	})
	require.NoError(t, err)

	_, err = manager.MarkDisconnected(ctx, session.Code, "player-1")
	require.NoError(t, err)

	// Переподключение сохраняет счет
	rejoin, err := manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)
	assert.True(t, rejoin.IsReconnect)
	assert.Equal(t, 1500, rejoin.Session.Participant("player-1").Score)
	assert.True(t, rejoin.Session.Participant("player-1").Connected)
}

func TestManager_Join_ActiveSessionRejectsNewPlayers(t *testing.T) {
	manager, _, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)
	_, err = manager.Join(ctx, session.Code, "host-1", "Хост")
	require.NoError(t, err)
	_, err = manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)

	_, err = manager.Start(ctx, session.Code, "host-1")
	require.NoError(t, err)

	// Новый игрок в запущенную сессию не входит
	_, err = manager.Join(ctx, session.Code, "player-2", "Опоздавший")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// Но существующий участник переподключается свободно
	rejoin, err := manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)
	assert.True(t, rejoin.IsReconnect)
}

func TestManager_Join_UnknownSession(t *testing.T) {
	manager, _, _ := newTestManager(t, testQuiz(2))

	_, err := manager.Join(context.Background(), "ZZZZZZ", "player-1", "Игрок")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManager_Start_Guards(t *testing.T) {
	manager, _, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)
	_, err = manager.Join(ctx, session.Code, "host-1", "Хост")
	require.NoError(t, err)

	// Без игроков запуск запрещен
	_, err = manager.Start(ctx, session.Code, "host-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = manager.Join(ctx, session.Code, "player-1", "Игрок")
	require.NoError(t, err)

	// Не-хост запустить не может
	_, err = manager.Start(ctx, session.Code, "player-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	started, err := manager.Start(ctx, session.Code, "host-1")
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusActive, started.Status)
	require.NotNil(t, started.QuizStartTime)
	require.NotNil(t, started.QuestionStartTime)

	// Повторный запуск - конфликт
	_, err = manager.Start(ctx, session.Code, "host-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestManager_Validate(t *testing.T) {
	manager, store, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	// Неизвестный код - не ошибка, а invalid
	info, err := manager.Validate(ctx, "ZZZZZZ")
	require.NoError(t, err)
	assert.False(t, info.Valid)

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)

	info, err = manager.Validate(ctx, session.Code)
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.Equal(t, entity.SessionStatusWaiting, info.Status)
	assert.Equal(t, "Тестовая викторина", info.QuizTitle)

	// Завершенная сессия невалидна для входа
	err = store.UpdateSessionFields(ctx, session.Code, map[string]interface{}{
		"status": entity.SessionStatusCompleted,
	})
	require.NoError(t, err)

	info, err = manager.Validate(ctx, session.Code)
	require.NoError(t, err)
	assert.False(t, info.Valid)
}

func TestManager_ActiveSession(t *testing.T) {
	manager, store, _ := newTestManager(t, testQuiz(2))
	ctx := context.Background()

	session, err := manager.Create(ctx, 1, "host-1", 30)
	require.NoError(t, err)
	_, err = manager.Join(ctx, session.Code, "host-1", "Хост")
	require.NoError(t, err)

	info, err := manager.ActiveSession(ctx, "host-1")
	require.NoError(t, err)
	assert.Equal(t, session.Code, info.SessionCode)
	assert.True(t, info.IsHost)
	assert.Nil(t, info.Progress)

	// Протухшая привязка очищается и дает not found
	require.NoError(t, store.DeleteSession(ctx, session.Code))
	_, err = manager.ActiveSession(ctx, "host-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = store.ActiveSession(ctx, "host-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_SessionRoundTrip(t *testing.T) {
	_, store, _ := newTestManager(t, testQuiz(1))
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	start := now.Add(time.Minute)
	session := &entity.Session{
		Code:                 "AB12CD",
		QuizID:               "7",
		HostID:               "host-1",
		Status:               entity.SessionStatusActive,
		Mode:                 entity.SessionModeLive,
		QuizTitle:            "Раунд-трип",
		TotalQuestions:       5,
		PerQuestionTimeLimit: 20,
		CurrentQuestionIndex: 2,
		CreatedAt:            now,
		ExpiresAt:            now.Add(2 * time.Hour),
		QuizStartTime:        &start,
		QuestionStartTime:    &start,
		Participants: map[string]*entity.Participant{
			"player-1": {UserID: "player-1", Username: "Игрок", Score: 3000, Connected: true, JoinedAt: now},
		},
	}

	require.NoError(t, store.SaveSession(ctx, session))

	loaded, err := store.LoadSession(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, session.QuizID, loaded.QuizID)
	assert.Equal(t, session.Status, loaded.Status)
	assert.Equal(t, session.CurrentQuestionIndex, loaded.CurrentQuestionIndex)
	require.NotNil(t, loaded.QuizStartTime)
	assert.True(t, start.Equal(*loaded.QuizStartTime))
	require.NotNil(t, loaded.Participant("player-1"))
	assert.Equal(t, 3000, loaded.Participant("player-1").Score)
}

func TestStore_LoadSession_Expired(t *testing.T) {
	_, store, _ := newTestManager(t, testQuiz(1))
	ctx := context.Background()

	session := &entity.Session{
		Code:         "EXPIRD",
		HostID:       "host-1",
		Status:       entity.SessionStatusWaiting,
		CreatedAt:    time.Now().Add(-3 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
		Participants: map[string]*entity.Participant{},
	}
	require.NoError(t, store.SaveSession(ctx, session))

	_, err := store.LoadSession(ctx, "EXPIRD")
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)

	// Истекшая сессия удалена из хранилища
	exists, err := store.SessionExists(ctx, "EXPIRD")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_QuestionIndexes(t *testing.T) {
	_, store, _ := newTestManager(t, testQuiz(1))
	ctx := context.Background()

	require.NoError(t, store.SetQuestionIndex(ctx, "AB12CD", "player-1", 3))
	require.NoError(t, store.SetQuestionIndex(ctx, "AB12CD", "player-2", 1))
	// Чужая сессия не попадает в выборку
	require.NoError(t, store.SetQuestionIndex(ctx, "ZZ99XX", "player-3", 5))

	indexes, err := store.QuestionIndexes(ctx, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"player-1": 3, "player-2": 1}, indexes)

	// Отсутствующий индекс читается как ноль
	idx, err := store.QuestionIndex(ctx, "AB12CD", "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
