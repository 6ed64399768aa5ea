package gamesession

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

func intPtr(v int) *int { return &v }

func singleChoiceQuestion(correct int) *entity.Question {
	return &entity.Question{
		ID:                 "q1",
		Text:               "Столица Казахстана?",
		Type:               entity.QuestionTypeSingleMcq,
		Options:            []string{"Алматы", "Астана", "Шымкент"},
		CorrectAnswerIndex: intPtr(correct),
	}
}

func TestGrade_SingleChoice(t *testing.T) {
	q := singleChoiceQuestion(1)

	tests := []struct {
		name      string
		answer    string
		isCorrect bool
	}{
		{"правильный индекс", "1", true},
		{"неправильный индекс", "0", false},
		{"индекс как float с нулевой дробью", "1.0", true},
		{"индекс вне диапазона - просто неверный", "7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Grade(q, json.RawMessage(tt.answer), false)
			require.NoError(t, err)
			assert.Equal(t, tt.isCorrect, result.IsCorrect)
			assert.Equal(t, 1, result.CorrectAnswer)
		})
	}
}

func TestGrade_SingleChoice_NonIntegerAnswer(t *testing.T) {
	q := singleChoiceQuestion(1)

	// Дробный индекс - ошибка валидации, а не неверный ответ
	_, err := Grade(q, json.RawMessage("1.5"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = Grade(q, json.RawMessage(`"Астана"`), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGrade_TrueFalse(t *testing.T) {
	q := &entity.Question{
		ID:                 "q2",
		Text:               "Волга впадает в Каспийское море?",
		Type:               entity.QuestionTypeTrueFalse,
		Options:            []string{"Да", "Нет"},
		CorrectAnswerIndex: intPtr(0),
	}

	result, err := Grade(q, json.RawMessage("0"), false)
	require.NoError(t, err)
	assert.True(t, result.IsCorrect)

	result, err = Grade(q, json.RawMessage("1"), false)
	require.NoError(t, err)
	assert.False(t, result.IsCorrect)
}

func TestGrade_NullAnswer(t *testing.T) {
	q := singleChoiceQuestion(1)

	// null без флага таймаута - ошибка валидации
	_, err := Grade(q, json.RawMessage("null"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	// null с флагом таймаута - неверный ответ без ошибки
	result, err := Grade(q, json.RawMessage("null"), true)
	require.NoError(t, err)
	assert.False(t, result.IsCorrect)
	assert.Equal(t, 1, result.CorrectAnswer)

	// Пустой ответ эквивалентен null
	result, err = Grade(q, nil, true)
	require.NoError(t, err)
	assert.False(t, result.IsCorrect)
}

func TestGrade_MultiChoice_PartialCredit(t *testing.T) {
	q := &entity.Question{
		ID:                   "q3",
		Text:                 "Какие из этих языков компилируемые?",
		Type:                 entity.QuestionTypeMultiMcq,
		Options:              []string{"Go", "Python", "Rust", "Ruby"},
		CorrectAnswerIndices: []int{0, 2},
	}

	tests := []struct {
		name        string
		answer      string
		isCorrect   bool
		isPartial   bool
		wantPartial float64
	}{
		{"точное совпадение множеств", "[0, 2]", true, false, 1.0},
		{"порядок не важен", "[2, 0]", true, false, 1.0},
		{"половина правильных", "[0]", false, true, 0.5},
		{"правильный плюс лишний", "[0, 1]", false, false, 0.0},
		{"оба правильных плюс лишний", "[0, 2, 1]", false, true, 0.5},
		{"только лишние", "[1, 3]", false, false, 0.0},
		{"пустой выбор", "[]", false, false, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Grade(q, json.RawMessage(tt.answer), false)
			require.NoError(t, err)
			assert.Equal(t, tt.isCorrect, result.IsCorrect, "IsCorrect")
			assert.Equal(t, tt.isPartial, result.IsPartial, "IsPartial")
			assert.InDelta(t, tt.wantPartial, result.PartialCredit, 1e-9, "PartialCredit")
		})
	}
}

func TestGrade_MultiChoice_InvalidAnswer(t *testing.T) {
	q := &entity.Question{
		Text:                 "x",
		Type:                 entity.QuestionTypeMultiMcq,
		CorrectAnswerIndices: []int{0},
	}

	_, err := Grade(q, json.RawMessage(`"не список"`), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = Grade(q, json.RawMessage("[0.5]"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGrade_DragAndDrop(t *testing.T) {
	q := &entity.Question{
		ID:          "q4",
		Text:        "Сопоставьте столицы и страны",
		Type:        entity.QuestionTypeDragAndDrop,
		DragItems:   []string{"Париж", "Берлин"},
		DropTargets: []string{"Франция", "Германия"},
		CorrectMatches: map[string]string{
			"Париж":  "Франция",
			"Берлин": "Германия",
		},
	}

	result, err := Grade(q, json.RawMessage(`{"Париж":"Франция","Берлин":"Германия"}`), false)
	require.NoError(t, err)
	assert.True(t, result.IsCorrect)

	// Одно сопоставление неверно - зачета нет
	result, err = Grade(q, json.RawMessage(`{"Париж":"Германия","Берлин":"Франция"}`), false)
	require.NoError(t, err)
	assert.False(t, result.IsCorrect)

	// Неполный набор сопоставлений - неверно
	result, err = Grade(q, json.RawMessage(`{"Париж":"Франция"}`), false)
	require.NoError(t, err)
	assert.False(t, result.IsCorrect)

	// Не-объект - ошибка валидации
	_, err = Grade(q, json.RawMessage("[1,2]"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGrade_UnknownType(t *testing.T) {
	q := &entity.Question{Text: "x", Type: "essay"}

	_, err := Grade(q, json.RawMessage("1"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGrade_EmptyTypeDefaultsToSingleChoice(t *testing.T) {
	q := &entity.Question{
		Text:               "x",
		Options:            []string{"a", "b"},
		CorrectAnswerIndex: intPtr(0),
	}

	result, err := Grade(q, json.RawMessage("0"), false)
	require.NoError(t, err)
	assert.True(t, result.IsCorrect)
}
