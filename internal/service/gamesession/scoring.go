package gamesession

import "math"

// Базовые очки за полностью правильный ответ
const basePoints = 1000

// SpeedMultiplier возвращает множитель скорости в диапазоне [1.0, 2.0]:
// мгновенный ответ удваивает очки, ответ на исходе лимита (и позже)
// дает ровно базу.
func SpeedMultiplier(timeTaken float64, timeLimit int) float64 {
	if timeLimit <= 0 {
		return 1.0
	}
	t := timeTaken
	if t < 0 {
		t = 0
	}
	limit := float64(timeLimit)
	if t > limit {
		t = limit
	}
	m := 2.0 - t/limit
	if m < 1.0 {
		return 1.0
	}
	return m
}

// Score считает очки за ответ: база (с учетом частичного зачета)
// плюс бонус за скорость. Неверный ответ без частичного зачета - ноль
// очков, но множитель все равно возвращается для полезной нагрузки.
func Score(grade GradeResult, timeTaken float64, timeLimit int) (points, timeBonus int, multiplier float64) {
	multiplier = SpeedMultiplier(timeTaken, timeLimit)

	credit := 0.0
	switch {
	case grade.IsCorrect:
		credit = 1.0
	case grade.PartialCredit > 0:
		credit = grade.PartialCredit
	}
	if credit == 0 {
		return 0, 0, multiplier
	}

	base := int(math.Round(basePoints * credit))
	timeBonus = int(math.Round(float64(base) * (multiplier - 1.0)))
	return base + timeBonus, timeBonus, multiplier
}

// roundTo округляет значение до заданного числа знаков после запятой
func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
