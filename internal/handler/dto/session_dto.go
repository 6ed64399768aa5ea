package dto

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// CreateSessionRequest - запрос на создание сессии
type CreateSessionRequest struct {
	QuizID             uint `json:"quiz_id" binding:"required"`
	PerQuestionSeconds int  `json:"per_question_seconds"`
}

// CreateSessionResponse - ответ на создание сессии
type CreateSessionResponse struct {
	SessionCode    string    `json:"session_code"`
	QuizTitle      string    `json:"quiz_title"`
	TotalQuestions int       `json:"total_questions"`
	TimeLimit      int       `json:"time_limit"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ParticipantSummary - краткая сводка по игроку для клиентов.
// Хост в список не входит: его присутствие отражают поля host_*
// в SessionStatePayload.
type ParticipantSummary struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

// SessionStatePayload - полное состояние сессии (session_state и REST)
type SessionStatePayload struct {
	SessionCode          string               `json:"session_code"`
	Status               string               `json:"status"`
	Mode                 string               `json:"mode"`
	QuizTitle            string               `json:"quiz_title"`
	TotalQuestions       int                  `json:"total_questions"`
	TimeLimit            int                  `json:"time_limit"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	IsHost               bool                 `json:"is_host"`
	HostUsername         string               `json:"host_username,omitempty"`
	HostConnected        bool                 `json:"host_connected"`
	Participants         []ParticipantSummary `json:"participants"`
	ParticipantCount     int                  `json:"participant_count"`
}

// SessionUpdatePayload - изменение состава участников (session_update)
type SessionUpdatePayload struct {
	Event            string               `json:"event"`
	UserID           string               `json:"user_id"`
	Username         string               `json:"username,omitempty"`
	Participants     []ParticipantSummary `json:"participants"`
	ParticipantCount int                  `json:"participant_count"`
}

// JoinSessionRequest - REST-запрос на вход в сессию
type JoinSessionRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Username string `json:"username"`
}

// ParticipantsResponse - ответ на запрос списка участников
type ParticipantsResponse struct {
	SessionCode      string               `json:"session_code"`
	Participants     []ParticipantSummary `json:"participants"`
	ParticipantCount int                  `json:"participant_count"`
	IsStarted        bool                 `json:"is_started"`
}

// CreateQuizRequest - запрос на создание викторины
type CreateQuizRequest struct {
	Title       string              `json:"title" binding:"required"`
	Description string              `json:"description"`
	Questions   entity.QuestionList `json:"questions" binding:"required"`
}

// NewParticipantSummaries строит сводки игроков в стабильном порядке
func NewParticipantSummaries(session *entity.Session) []ParticipantSummary {
	list := session.ParticipantList()
	summaries := make([]ParticipantSummary, 0, len(list))
	for _, p := range list {
		summaries = append(summaries, ParticipantSummary{
			UserID:    p.UserID,
			Username:  p.Username,
			Score:     p.Score,
			Connected: p.Connected,
		})
	}
	return summaries
}

// NewSessionStatePayload строит полное состояние сессии для клиента
func NewSessionStatePayload(session *entity.Session, viewerID string) SessionStatePayload {
	return SessionStatePayload{
		SessionCode:          session.Code,
		Status:               session.Status,
		Mode:                 session.Mode,
		QuizTitle:            session.QuizTitle,
		TotalQuestions:       session.TotalQuestions,
		TimeLimit:            session.PerQuestionTimeLimit,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		IsHost:               session.IsHost(viewerID),
		HostUsername:         session.HostUsername,
		HostConnected:        session.HostConnected,
		Participants:         NewParticipantSummaries(session),
		ParticipantCount:     session.PlayerCount(),
	}
}
