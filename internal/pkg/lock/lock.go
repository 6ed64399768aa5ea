// Package lock реализует распределенные блокировки поверх SETNX с TTL
// и ограниченным числом повторных попыток. Блокировка не reentrant:
// TTL страхует от вечного удержания при падении держателя.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// Backoff возвращает паузу перед повторной попыткой с данным номером (с нуля)
type Backoff func(attempt int) time.Duration

// LinearBackoff - пауза base + step*attempt, ограниченная cap
func LinearBackoff(base, step, cap time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base + step*time.Duration(attempt)
		if cap > 0 && d > cap {
			return cap
		}
		return d
	}
}

// Locker захватывает и освобождает блокировки в быстром хранилище
type Locker struct {
	states repository.StateRepository
}

// NewLocker создает новый Locker
func NewLocker(states repository.StateRepository) *Locker {
	return &Locker{states: states}
}

// TryAcquire - одна попытка захвата без ожидания.
// Возвращает true, если блокировка получена.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.states.SetNX(ctx, key, "1", ttl)
}

// Acquire захватывает блокировку, повторяя попытки с заданным backoff.
// После attempts неудачных попыток возвращает ErrLockBusy.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration, attempts int, backoff Backoff) error {
	for attempt := 0; attempt < attempts; attempt++ {
		ok, err := l.states.SetNX(ctx, key, "1", ttl)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return fmt.Errorf("%w: %s", apperrors.ErrLockBusy, key)
}

// Release снимает блокировку. Ошибка удаления не фатальна для вызывающего
// кода (TTL доберет ключ), но возвращается для логирования.
func (l *Locker) Release(ctx context.Context, key string) error {
	return l.states.Delete(ctx, key)
}
