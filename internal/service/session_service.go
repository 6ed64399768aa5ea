package service

import (
	"context"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	"github.com/yourusername/quizlive-api/internal/pkg/lock"
	"github.com/yourusername/quizlive-api/internal/service/gamesession"
)

// SessionService - фасад движка живых сессий: собирает компоненты
// gamesession и предоставляет единый API обработчикам HTTP и WebSocket.
type SessionService struct {
	manager     *gamesession.Manager
	controller  *gamesession.Controller
	store       *gamesession.Store
	leaderboard *LeaderboardService
	resultRepo  repository.ResultRepository
}

// NewSessionService собирает движок сессий
func NewSessionService(
	cfg *gamesession.Config,
	stateRepo repository.StateRepository,
	quizRepo repository.QuizRepository,
	resultRepo repository.ResultRepository,
	broadcaster gamesession.Broadcaster,
) *SessionService {
	locker := lock.NewLocker(stateRepo)
	store := gamesession.NewStore(stateRepo, locker, cfg.SessionTTL)
	leaderboard := NewLeaderboardService(store)

	deps := &gamesession.Dependencies{
		Store:       store,
		QuizRepo:    quizRepo,
		ResultRepo:  resultRepo,
		Broadcaster: broadcaster,
		Leaderboard: leaderboard,
	}

	manager := gamesession.NewManager(cfg, store, quizRepo)
	scheduler := gamesession.NewScheduler()
	controller := gamesession.NewController(cfg, deps, manager, scheduler)

	return &SessionService{
		manager:     manager,
		controller:  controller,
		store:       store,
		leaderboard: leaderboard,
		resultRepo:  resultRepo,
	}
}

// CreateSession создает новую сессию для викторины
func (s *SessionService) CreateSession(ctx context.Context, quizID uint, hostID string, timeLimitSeconds int) (*entity.Session, error) {
	return s.manager.Create(ctx, quizID, hostID, timeLimitSeconds)
}

// GetSession возвращает текущее состояние сессии
func (s *SessionService) GetSession(ctx context.Context, code string) (*entity.Session, error) {
	return s.store.LoadSession(ctx, code)
}

// Join впускает участника в сессию (или переподключает)
func (s *SessionService) Join(ctx context.Context, code, userID, username string) (*gamesession.JoinResult, error) {
	return s.manager.Join(ctx, code, userID, username)
}

// MarkDisconnected отмечает участника отключившимся.
// Возвращает true, если отключился хост.
func (s *SessionService) MarkDisconnected(ctx context.Context, code, userID string) (bool, error) {
	return s.manager.MarkDisconnected(ctx, code, userID)
}

// StartQuiz запускает викторину и рассылает первый вопрос
func (s *SessionService) StartQuiz(ctx context.Context, code, userID string) (*entity.Session, error) {
	return s.controller.StartQuiz(ctx, code, userID)
}

// SubmitAnswer принимает и оценивает ответ участника
func (s *SessionService) SubmitAnswer(ctx context.Context, code, userID string, input gamesession.SubmitAnswerInput) (*gamesession.AnswerOutcome, error) {
	return s.controller.SubmitAnswer(ctx, code, userID, input)
}

// NextQuestion переводит сессию к следующему вопросу (команда хоста)
func (s *SessionService) NextQuestion(ctx context.Context, code, userID string) error {
	return s.controller.AdvanceQuestion(ctx, code, userID, false)
}

// RequestNextQuestion выдает участнику его следующий вопрос
func (s *SessionService) RequestNextQuestion(ctx context.Context, code, userID string) error {
	return s.controller.RequestNextQuestion(ctx, code, userID)
}

// EndQuiz досрочно завершает сессию (команда хоста)
func (s *SessionService) EndQuiz(ctx context.Context, code, userID string) error {
	return s.controller.EndQuiz(ctx, code, userID)
}

// CheckCompletion запускает проверку завершения сессии
func (s *SessionService) CheckCompletion(ctx context.Context, code string) error {
	return s.controller.CheckCompletion(ctx, code)
}

// Leaderboard возвращает текущую таблицу лидеров сессии
func (s *SessionService) Leaderboard(ctx context.Context, code string) ([]entity.LeaderboardEntry, error) {
	session, err := s.store.LoadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.leaderboard.Snapshot(ctx, session)
}

// Validate проверяет код сессии
func (s *SessionService) Validate(ctx context.Context, code string) (*gamesession.ValidationInfo, error) {
	return s.manager.Validate(ctx, code)
}

// ActiveSession возвращает активную сессию пользователя
func (s *SessionService) ActiveSession(ctx context.Context, userID string) (*gamesession.ActiveSessionInfo, error) {
	return s.manager.ActiveSession(ctx, userID)
}

// ClearActiveSession сбрасывает привязку активной сессии пользователя
func (s *SessionService) ClearActiveSession(ctx context.Context, userID string) error {
	return s.manager.ClearActiveSession(ctx, userID)
}

// Result возвращает сохраненный финальный результат сессии
func (s *SessionService) Result(code string) (*entity.SessionResult, error) {
	return s.resultRepo.GetBySessionCode(code)
}

// Results возвращает сохраненные результаты с пагинацией
func (s *SessionService) Results(limit, offset int) ([]entity.SessionResult, error) {
	return s.resultRepo.List(limit, offset)
}
