package entity

import (
	"encoding/json"
	"sort"
	"time"
)

// Константы статусов сессии
const (
	SessionStatusWaiting   = "waiting"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Режим сессии (задел под асинхронные режимы)
const (
	SessionModeLive = "live"
)

// ParticipantAnswer хранит один принятый ответ участника
type ParticipantAnswer struct {
	QuestionIndex int             `json:"question_index"`
	Answer        json.RawMessage `json:"answer"`
	Timestamp     float64         `json:"timestamp"`
	IsCorrect     bool            `json:"is_correct"`
	PointsEarned  int             `json:"points_earned"`
}

// Participant представляет игрока сессии. Хост в эту коллекцию
// не входит: его присутствие отслеживается полями HostUsername и
// HostConnected самой сессии. Вся коллекция сериализуется одним
// JSON-блобом в поле participants хеша сессии.
type Participant struct {
	UserID    string              `json:"user_id"`
	Username  string              `json:"username"`
	Score     int                 `json:"score"`
	Connected bool                `json:"connected"`
	JoinedAt  time.Time           `json:"joined_at"`
	Answers   []ParticipantAnswer `json:"answers"`
}

// HasAnswered проверяет, отвечал ли участник на вопрос с данным индексом
func (p *Participant) HasAnswered(questionIndex int) bool {
	for i := range p.Answers {
		if p.Answers[i].QuestionIndex == questionIndex {
			return true
		}
	}
	return false
}

// Accuracy возвращает долю правильных ответов участника в диапазоне [0, 1]
func (p *Participant) Accuracy() float64 {
	if len(p.Answers) == 0 {
		return 0
	}
	correct := 0
	for i := range p.Answers {
		if p.Answers[i].IsCorrect {
			correct++
		}
	}
	return float64(correct) / float64(len(p.Answers))
}

// Session представляет живую сессию викторины.
// Хранится в Redis как хеш session:<code>; участники - отдельным
// JSON-полем, остальные поля - скалярные значения хеша.
type Session struct {
	Code                 string                  `json:"session_code"`
	QuizID               string                  `json:"quiz_id"`
	HostID               string                  `json:"host_id"`
	HostUsername         string                  `json:"host_username"`
	HostConnected        bool                    `json:"host_connected"`
	Status               string                  `json:"status"`
	Mode                 string                  `json:"mode"`
	QuizTitle            string                  `json:"quiz_title"`
	TotalQuestions       int                     `json:"total_questions"`
	PerQuestionTimeLimit int                     `json:"per_question_time_limit"`
	CurrentQuestionIndex int                     `json:"current_question_index"`
	CreatedAt            time.Time               `json:"created_at"`
	ExpiresAt            time.Time               `json:"expires_at"`
	QuizStartTime        *time.Time              `json:"quiz_start_time,omitempty"`
	QuestionStartTime    *time.Time              `json:"question_start_time,omitempty"`
	Participants         map[string]*Participant `json:"participants"`
}

// IsWaiting проверяет, что сессия ждет старта
func (s *Session) IsWaiting() bool {
	return s.Status == SessionStatusWaiting
}

// IsActive проверяет, что сессия запущена
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// IsCompleted проверяет, что сессия завершена
func (s *Session) IsCompleted() bool {
	return s.Status == SessionStatusCompleted
}

// IsExpired проверяет, истек ли TTL сессии
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// IsHost проверяет, является ли пользователь хостом сессии
func (s *Session) IsHost(userID string) bool {
	return s.HostID == userID
}

// Participant возвращает участника по ID или nil
func (s *Session) Participant(userID string) *Participant {
	if s.Participants == nil {
		return nil
	}
	return s.Participants[userID]
}

// ParticipantList возвращает участников в стабильном порядке
// (по времени входа, затем по user_id)
func (s *Session) ParticipantList() []*Participant {
	list := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

// PlayerCount возвращает число игроков сессии.
// Хост не хранится в Participants, поэтому это просто размер коллекции.
func (s *Session) PlayerCount() int {
	return len(s.Participants)
}
