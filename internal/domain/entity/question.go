package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// Типы вопросов, поддерживаемые движком
const (
	QuestionTypeSingleMcq   = "singleMcq"
	QuestionTypeTrueFalse   = "trueFalse"
	QuestionTypeMultiMcq    = "multiMcq"
	QuestionTypeDragAndDrop = "dragAndDrop"
)

// Question представляет один вопрос викторины.
// Вопросы хранятся внутри викторины как JSONB-список, имена полей
// соответствуют формату клиента (camelCase).
type Question struct {
	ID                   string            `json:"id"`
	Text                 string            `json:"questionText"`
	Type                 string            `json:"type"`
	Options              []string          `json:"options,omitempty"`
	CorrectAnswerIndex   *int              `json:"correctAnswerIndex,omitempty"`
	CorrectAnswerIndices []int             `json:"correctAnswerIndices,omitempty"`
	DragItems            []string          `json:"dragItems,omitempty"`
	DropTargets          []string          `json:"dropTargets,omitempty"`
	CorrectMatches       map[string]string `json:"correctMatches,omitempty"`
	TimeLimit            int               `json:"timeLimit,omitempty"`
	ImageURL             string            `json:"imageUrl,omitempty"`
}

// HasText проверяет, что текст вопроса не пустой
func (q *Question) HasText() bool {
	return strings.TrimSpace(q.Text) != ""
}

// NormalizedType возвращает тип вопроса; пустой тип трактуется как singleMcq
func (q *Question) NormalizedType() string {
	if q.Type == "" {
		return QuestionTypeSingleMcq
	}
	return q.Type
}

// QuestionList - пользовательский тип для хранения списка вопросов в JSONB
type QuestionList []Question

// Scan реализует интерфейс sql.Scanner для QuestionList
// Используется GORM для чтения JSONB данных из базы
func (l *QuestionList) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*l = QuestionList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*l = QuestionList{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Value реализует интерфейс driver.Valuer для QuestionList
// Используется GORM для записи списка вопросов в JSONB
func (l QuestionList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return []byte("[]"), nil // Возвращаем пустой JSON массив вместо null
	}
	return json.Marshal(l)
}
