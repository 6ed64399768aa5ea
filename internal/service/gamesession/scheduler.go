package gamesession

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Scheduler управляет таймерами автопродвижения вопросов.
// На каждую пару (сессия, индекс вопроса) живет не больше одного таймера;
// ручное продвижение хостом отменяет таймер до срабатывания.
type Scheduler struct {
	// timers: "<code>:<index>" -> context.CancelFunc
	timers sync.Map
}

// NewScheduler создает планировщик таймеров
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func timerKey(code string, index int) string {
	return fmt.Sprintf("%s:%d", code, index)
}

// ScheduleAdvance ставит таймер автопродвижения вопроса.
// fire вызывается по истечении delay, если таймер не был отменен.
// Повторная постановка на ту же пару (code, index) заменяет старый таймер.
func (s *Scheduler) ScheduleAdvance(code string, index int, delay time.Duration, fire func()) {
	key := timerKey(code, index)
	ctx, cancel := context.WithCancel(context.Background())

	if prev, loaded := s.timers.Swap(key, cancel); loaded {
		prev.(context.CancelFunc)()
	}

	log.Printf("[Scheduler] Таймер автопродвижения поставлен (сессия %s, вопрос %d, через %v)", code, index, delay)

	go func() {
		defer cancel()
		select {
		case <-time.After(delay):
			s.timers.Delete(key)
			log.Printf("[Scheduler] Таймер сработал (сессия %s, вопрос %d)", code, index)
			fire()
		case <-ctx.Done():
			log.Printf("[Scheduler] Таймер отменен (сессия %s, вопрос %d)", code, index)
		}
	}()
}

// Cancel отменяет таймер конкретного вопроса
func (s *Scheduler) Cancel(code string, index int) {
	if cancel, loaded := s.timers.LoadAndDelete(timerKey(code, index)); loaded {
		cancel.(context.CancelFunc)()
	}
}

// CancelAll отменяет все таймеры сессии
func (s *Scheduler) CancelAll(code string) {
	prefix := code + ":"
	s.timers.Range(func(key, value interface{}) bool {
		k := key.(string)
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			s.timers.Delete(key)
			value.(context.CancelFunc)()
		}
		return true
	})
}
