package errors

import "errors"

// Стандартные ошибки приложения
var (
	// ErrNotFound возвращается, когда запрашиваемый ресурс не найден
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized возвращается при запросе без действительной аутентификации
	ErrUnauthorized = errors.New("unauthorized access")

	// ErrForbidden возвращается, когда операция разрешена только хосту сессии
	ErrForbidden = errors.New("access forbidden")

	// ErrValidation возвращается при ошибках валидации входных данных
	ErrValidation = errors.New("validation error")

	// ErrConflict возвращается при конфликте состояния (например, сессия уже завершена)
	ErrConflict = errors.New("resource conflict")

	// ErrSessionExpired возвращается при обращении к сессии с истекшим TTL
	ErrSessionExpired = errors.New("session expired")

	// ErrAlreadyAnswered возвращается при повторном ответе на тот же вопрос
	ErrAlreadyAnswered = errors.New("question already answered")

	// ErrLockBusy возвращается, когда распределенная блокировка не получена
	// за отведенное число попыток
	ErrLockBusy = errors.New("lock busy")

	// ErrRateLimited возвращается при превышении частоты отправки ответов
	ErrRateLimited = errors.New("rate limited")
)
