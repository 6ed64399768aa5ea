package gamesession

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// GradeResult - результат проверки одного ответа
type GradeResult struct {
	// IsCorrect - ответ полностью верный
	IsCorrect bool

	// PartialCredit - доля зачета в [0, 1] (только multiMcq)
	PartialCredit float64

	// IsPartial - ответ зачтен частично
	IsPartial bool

	// CorrectAnswer - правильный ответ для отправки клиенту
	CorrectAnswer interface{}
}

// Grade проверяет ответ участника на вопрос.
// Ответ null допустим только с флагом timed_out и всегда неверный.
// Непарсящийся ответ - ошибка валидации, а не неверный ответ.
func Grade(q *entity.Question, answer json.RawMessage, timedOut bool) (GradeResult, error) {
	if isNullAnswer(answer) {
		if !timedOut {
			return GradeResult{}, fmt.Errorf("%w: null answer without timeout flag", apperrors.ErrValidation)
		}
		return GradeResult{CorrectAnswer: correctAnswerOf(q)}, nil
	}

	switch q.NormalizedType() {
	case entity.QuestionTypeSingleMcq, entity.QuestionTypeTrueFalse:
		return gradeSingleChoice(q, answer)
	case entity.QuestionTypeMultiMcq:
		return gradeMultiChoice(q, answer)
	case entity.QuestionTypeDragAndDrop:
		return gradeDragAndDrop(q, answer)
	default:
		return GradeResult{}, fmt.Errorf("%w: unknown question type %q", apperrors.ErrValidation, q.Type)
	}
}

func gradeSingleChoice(q *entity.Question, answer json.RawMessage) (GradeResult, error) {
	idx, err := parseIntAnswer(answer)
	if err != nil {
		return GradeResult{}, fmt.Errorf("%w: single-choice answer must be an option index", apperrors.ErrValidation)
	}

	result := GradeResult{CorrectAnswer: correctAnswerOf(q)}
	if q.CorrectAnswerIndex != nil && idx == *q.CorrectAnswerIndex {
		result.IsCorrect = true
	}
	return result, nil
}

// gradeMultiChoice считает частичный зачет: доля правильно выбранных
// минус штраф за лишние, нормированная на число правильных вариантов.
// Полный зачет - строгое совпадение множеств.
func gradeMultiChoice(q *entity.Question, answer json.RawMessage) (GradeResult, error) {
	indices, err := parseIntSliceAnswer(answer)
	if err != nil {
		return GradeResult{}, fmt.Errorf("%w: multi-choice answer must be a list of option indexes", apperrors.ErrValidation)
	}

	result := GradeResult{CorrectAnswer: q.CorrectAnswerIndices}
	if len(q.CorrectAnswerIndices) == 0 {
		return result, nil
	}

	correct := make(map[int]bool, len(q.CorrectAnswerIndices))
	for _, idx := range q.CorrectAnswerIndices {
		correct[idx] = true
	}
	user := make(map[int]bool, len(indices))
	for _, idx := range indices {
		user[idx] = true
	}

	hits, extras := 0, 0
	for idx := range user {
		if correct[idx] {
			hits++
		} else {
			extras++
		}
	}

	partial := float64(hits-extras) / float64(len(correct))
	if partial < 0 {
		partial = 0
	}
	if partial > 1 {
		partial = 1
	}

	result.IsCorrect = hits == len(correct) && extras == 0 && len(user) == len(correct)
	result.PartialCredit = partial
	result.IsPartial = !result.IsCorrect && partial > 0
	return result, nil
}

func gradeDragAndDrop(q *entity.Question, answer json.RawMessage) (GradeResult, error) {
	var matches map[string]string
	if err := json.Unmarshal(answer, &matches); err != nil {
		return GradeResult{}, fmt.Errorf("%w: drag-and-drop answer must be an item-to-target map", apperrors.ErrValidation)
	}

	result := GradeResult{CorrectAnswer: q.CorrectMatches}
	if len(q.CorrectMatches) == 0 {
		return result, nil
	}
	if len(matches) != len(q.CorrectMatches) {
		return result, nil
	}
	for item, target := range q.CorrectMatches {
		if matches[item] != target {
			return result, nil
		}
	}
	result.IsCorrect = true
	return result, nil
}

// correctAnswerOf возвращает правильный ответ вопроса для клиента
func correctAnswerOf(q *entity.Question) interface{} {
	switch q.NormalizedType() {
	case entity.QuestionTypeMultiMcq:
		return q.CorrectAnswerIndices
	case entity.QuestionTypeDragAndDrop:
		return q.CorrectMatches
	default:
		if q.CorrectAnswerIndex != nil {
			return *q.CorrectAnswerIndex
		}
		return nil
	}
}

func isNullAnswer(answer json.RawMessage) bool {
	trimmed := bytes.TrimSpace(answer)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseIntAnswer принимает индекс как целое или как JSON-число с дробной
// частью .0 (некоторые клиенты сериализуют индексы как float)
func parseIntAnswer(answer json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(answer, &f); err != nil {
		return 0, err
	}
	idx := int(f)
	if float64(idx) != f {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return idx, nil
}

func parseIntSliceAnswer(answer json.RawMessage) ([]int, error) {
	var fs []float64
	if err := json.Unmarshal(answer, &fs); err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(fs))
	for _, f := range fs {
		idx := int(f)
		if float64(idx) != f {
			return nil, fmt.Errorf("not an integer: %v", f)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
