package entity

import "time"

// LeaderboardEntry - строка текущей таблицы лидеров сессии
type LeaderboardEntry struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Score          int       `json:"score"`
	QuestionIndex  int       `json:"question_index"`
	AnsweredCount  int       `json:"answered_count"`
	TotalQuestions int       `json:"total_questions"`
	Connected      bool      `json:"connected"`
	JoinedAt       time.Time `json:"joined_at"`
}
