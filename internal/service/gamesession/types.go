// Package gamesession содержит движок живых сессий викторины:
// жизненный цикл сессии, прием и оценку ответов, продвижение по вопросам
// и детекцию завершения.
package gamesession

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
)

// Config содержит настройки движка сессий
type Config struct {
	// SessionTTL - время жизни сессии
	SessionTTL time.Duration

	// DefaultQuestionSeconds - лимит на вопрос, если сессия его не задает
	DefaultQuestionSeconds int

	// AnswerConcurrency - максимум одновременно обрабатываемых ответов на сессию
	AnswerConcurrency int64
}

// DefaultConfig возвращает конфигурацию движка по умолчанию
func DefaultConfig() *Config {
	return &Config{
		SessionTTL:             2 * time.Hour,
		DefaultQuestionSeconds: 30,
		AnswerConcurrency:      10,
	}
}

// Broadcaster рассылает сообщения подключенным участникам сессии.
// Реализуется реестром WebSocket-соединений.
type Broadcaster interface {
	// Broadcast отправляет сообщение всем участникам сессии, кроме exclude
	Broadcast(sessionCode string, message []byte, exclude ...string)

	// BroadcastToPlayers отправляет сообщение игрокам, пропуская хостов
	BroadcastToPlayers(sessionCode string, message []byte, exclude ...string)

	// SendToUser отправляет сообщение одному участнику
	SendToUser(sessionCode, userID string, message []byte) bool
}

// LeaderboardProvider строит таблицу лидеров по состоянию сессии
type LeaderboardProvider interface {
	Snapshot(ctx context.Context, session *entity.Session) ([]entity.LeaderboardEntry, error)
}

// Dependencies содержит зависимости компонентов движка
type Dependencies struct {
	Store       *Store
	QuizRepo    repository.QuizRepository
	ResultRepo  repository.ResultRepository
	Broadcaster Broadcaster
	Leaderboard LeaderboardProvider
}

// JoinResult - результат входа участника в сессию
type JoinResult struct {
	Session     *entity.Session
	IsHost      bool
	IsReconnect bool
}

// SubmitAnswerInput - разобранная полезная нагрузка submit_answer.
// Индекса вопроса здесь нет намеренно: на какой вопрос отвечает игрок,
// определяет его серверный индекс прогресса, а не клиент.
type SubmitAnswerInput struct {
	Answer    json.RawMessage `json:"answer"`
	TimedOut  bool            `json:"timed_out"`
	TimeTaken *float64        `json:"time_taken,omitempty"`
}

// AnswerResultPayload - полезная нагрузка сообщения answer_result
type AnswerResultPayload struct {
	IsCorrect     bool            `json:"is_correct"`
	Points        int             `json:"points"`
	TimeBonus     int             `json:"time_bonus"`
	Multiplier    float64         `json:"multiplier"`
	CorrectAnswer interface{}     `json:"correct_answer"`
	UserAnswer    json.RawMessage `json:"user_answer"`
	NewTotalScore int             `json:"new_total_score"`
	QuestionType  string          `json:"question_type"`
	QuestionIndex int             `json:"question_index"`
	PartialCredit *float64        `json:"partial_credit,omitempty"`
	IsPartial     *bool           `json:"is_partial,omitempty"`
}

// AnswerOutcome - итог обработки ответа
type AnswerOutcome struct {
	Result *AnswerResultPayload

	// CompletedQuiz - участник ответил на последний вопрос
	CompletedQuiz bool
}

// QuestionView - вопрос в том виде, в котором он уходит клиенту.
// Поля с ответами включаются только для хоста.
type QuestionView struct {
	Question     string   `json:"question"`
	QuestionType string   `json:"questionType"`
	Type         string   `json:"type"`
	Options      []string `json:"options"`
	ID           string   `json:"id"`
	TimeLimit    int      `json:"timeLimit"`

	CorrectAnswerIndex   *int              `json:"correctAnswerIndex,omitempty"`
	CorrectAnswerIndices []int             `json:"correctAnswerIndices,omitempty"`
	DragItems            []string          `json:"dragItems,omitempty"`
	DropTargets          []string          `json:"dropTargets,omitempty"`
	CorrectMatches       map[string]string `json:"correctMatches,omitempty"`
	ImageURL             string            `json:"imageUrl,omitempty"`
}

// QuestionEnvelope - полезная нагрузка сообщения question
type QuestionEnvelope struct {
	Question      QuestionView `json:"question"`
	Index         int          `json:"index"`
	Total         int          `json:"total"`
	TimeRemaining int          `json:"time_remaining"`
	TimeLimit     int          `json:"time_limit"`
}

// QuizEndedPayload - полезная нагрузка сообщения quiz_ended
type QuizEndedPayload struct {
	SessionCode    string                   `json:"session_code"`
	QuizTitle      string                   `json:"quiz_title"`
	TotalQuestions int                      `json:"total_questions"`
	Leaderboard    []entity.LeaderboardEntry `json:"leaderboard"`
}

// NewQuestionView строит представление вопроса для отправки клиенту.
// При includeAnswers=true (хост) добавляются поля с правильными ответами.
func NewQuestionView(q *entity.Question, timeLimit int, includeAnswers bool) QuestionView {
	view := QuestionView{
		Question:     q.Text,
		QuestionType: q.NormalizedType(),
		Type:         q.NormalizedType(),
		Options:      q.Options,
		ID:           q.ID,
		TimeLimit:    timeLimit,
		DragItems:    q.DragItems,
		DropTargets:  q.DropTargets,
		ImageURL:     q.ImageURL,
	}
	if includeAnswers {
		view.CorrectAnswerIndex = q.CorrectAnswerIndex
		view.CorrectAnswerIndices = q.CorrectAnswerIndices
		view.CorrectMatches = q.CorrectMatches
	}
	return view
}
