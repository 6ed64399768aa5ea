package entity

import (
	"time"
)

// Quiz представляет викторину - документ с вопросами,
// на основе которого создаются живые сессии
type Quiz struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Title       string       `gorm:"size:200;not null" json:"title"`
	Description string       `gorm:"size:500;not null;default:''" json:"description"`
	Questions   QuestionList `gorm:"type:jsonb;not null;default:'[]'" json:"questions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Quiz) TableName() string {
	return "quizzes"
}

// QuestionCount возвращает количество вопросов викторины
func (q *Quiz) QuestionCount() int {
	return len(q.Questions)
}

// QuestionAt возвращает вопрос по индексу или nil при выходе за границы
func (q *Quiz) QuestionAt(index int) *Question {
	if index < 0 || index >= len(q.Questions) {
		return nil
	}
	return &q.Questions[index]
}
