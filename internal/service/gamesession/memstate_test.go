package gamesession

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// memState - потокобезопасная in-memory реализация StateRepository
// для тестов движка. TTL честно проверяется по time.Now.
type memState struct {
	mu      sync.Mutex
	values  map[string]string
	hashes  map[string]map[string]string
	expires map[string]time.Time
}

func newMemState() *memState {
	return &memState{
		values:  make(map[string]string),
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *memState) expired(key string) bool {
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.hashes, key)
		delete(m.expires, key)
		return true
	}
	return false
}

func (m *memState) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", apperrors.ErrNotFound
	}
	val, ok := m.values[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return val, nil
}

func (m *memState) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	if expiration > 0 {
		m.expires[key] = time.Now().Add(expiration)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *memState) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.expired(key) {
		if _, ok := m.values[key]; ok {
			return false, nil
		}
	}
	m.values[key] = value
	if expiration > 0 {
		m.expires[key] = time.Now().Add(expiration)
	}
	return true, nil
}

func (m *memState) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.hashes, key)
		delete(m.expires, key)
	}
	return nil
}

func (m *memState) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return false, nil
	}
	if _, ok := m.values[key]; ok {
		return true, nil
	}
	_, ok := m.hashes[key]
	return ok, nil
}

func (m *memState) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = time.Now().Add(expiration)
	return nil
}

func (m *memState) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string)
		m.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = fmt.Sprintf("%v", value)
	}
	return nil
}

func (m *memState) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", apperrors.ErrNotFound
	}
	hash, ok := m.hashes[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	val, ok := hash[field]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return val, nil
}

func (m *memState) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return map[string]string{}, nil
	}
	hash, ok := m.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	copied := make(map[string]string, len(hash))
	for field, value := range hash {
		copied[field] = value
	}
	return copied, nil
}

func (m *memState) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.values {
		if m.expired(key) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range m.hashes {
		if m.expired(key) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memState) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, string(data), expiration)
}

func (m *memState) GetJSON(ctx context.Context, key string, target interface{}) error {
	raw, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), target)
}

// clearKey убирает ключ напрямую (обход rate limit между ответами в тестах)
func (m *memState) clearKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
}
