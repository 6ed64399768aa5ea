package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ResultEntry - итоговая строка одного участника в финальной таблице
type ResultEntry struct {
	Rank           int                 `json:"rank"`
	UserID         string              `json:"user_id"`
	Username       string              `json:"username"`
	Score          int                 `json:"score"`
	AnsweredCount  int                 `json:"answered_count"`
	TotalQuestions int                 `json:"total_questions"`
	Accuracy       float64             `json:"accuracy"`
	Answers        []ParticipantAnswer `json:"answers,omitempty"`
}

// ResultEntries - пользовательский тип для хранения итоговых строк в JSONB
type ResultEntries []ResultEntry

// Scan реализует интерфейс sql.Scanner для ResultEntries
func (e *ResultEntries) Scan(value interface{}) error {
	if value == nil {
		*e = ResultEntries{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*e = ResultEntries{}
		return nil
	}

	return json.Unmarshal(bytes, e)
}

// Value реализует интерфейс driver.Valuer для ResultEntries
func (e ResultEntries) Value() (driver.Value, error) {
	if len(e) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// SessionResult - финальный результат завершенной сессии.
// Уникальный индекс по session_code гарантирует идемпотентность
// записи при гонке завершения.
type SessionResult struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	SessionCode string        `gorm:"size:6;not null;uniqueIndex" json:"session_code"`
	QuizID      string        `gorm:"size:64;not null;index" json:"quiz_id"`
	QuizTitle   string        `gorm:"size:200;not null;default:''" json:"quiz_title"`
	Entries     ResultEntries `gorm:"type:jsonb;not null;default:'[]'" json:"entries"`
	CompletedAt time.Time     `gorm:"not null" json:"completed_at"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (SessionResult) TableName() string {
	return "session_results"
}
