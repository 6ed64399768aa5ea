package repository

import (
	"context"
	"time"
)

// StateRepository определяет низкоуровневые операции над быстрым
// хранилищем состояния сессий (Redis). Сервисный слой не знает
// о конкретном клиенте и работает только через этот интерфейс.
type StateRepository interface {
	// Get возвращает строковое значение по ключу
	Get(ctx context.Context, key string) (string, error)

	// Set устанавливает строковое значение с TTL (0 - без TTL)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error

	// SetNX устанавливает значение только если ключ отсутствует.
	// Возвращает true, если значение было установлено.
	SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)

	// Delete удаляет ключи
	Delete(ctx context.Context, keys ...string) error

	// Exists проверяет наличие ключа
	Exists(ctx context.Context, key string) (bool, error)

	// Expire обновляет TTL ключа
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// HSet устанавливает поля хеша
	HSet(ctx context.Context, key string, fields map[string]interface{}) error

	// HGet возвращает одно поле хеша
	HGet(ctx context.Context, key, field string) (string, error)

	// HGetAll возвращает все поля хеша (пустая map, если ключа нет)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ScanKeys возвращает ключи по шаблону через SCAN (не KEYS)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// SetJSON сериализует значение в JSON и сохраняет с TTL
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// GetJSON читает значение и десериализует JSON в target
	GetJSON(ctx context.Context, key string, target interface{}) error
}
