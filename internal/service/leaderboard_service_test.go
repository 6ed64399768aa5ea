package service

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/pkg/lock"
	"github.com/yourusername/quizlive-api/internal/service/gamesession"
)

// kvStates - маленькая in-memory реализация StateRepository:
// таблице лидеров нужны только Get/Set/ScanKeys
type kvStates struct {
	mu     sync.Mutex
	values map[string]string
}

func newKVStates() *kvStates {
	return &kvStates{values: map[string]string{}}
}

func (s *kvStates) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.values[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return val, nil
}

func (s *kvStates) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *kvStates) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

func (s *kvStates) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *kvStates) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok, nil
}

func (s *kvStates) Expire(ctx context.Context, key string, expiration time.Duration) error { return nil }
func (s *kvStates) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	return nil
}
func (s *kvStates) HGet(ctx context.Context, key, field string) (string, error) { return "", nil }
func (s *kvStates) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (s *kvStates) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.values {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *kvStates) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}
func (s *kvStates) GetJSON(ctx context.Context, key string, target interface{}) error {
	return apperrors.ErrNotFound
}

func leaderboardFixture() (*LeaderboardService, *gamesession.Store) {
	states := newKVStates()
	store := gamesession.NewStore(states, lock.NewLocker(states), 2*time.Hour)
	return NewLeaderboardService(store), store
}

func participant(userID, username string, score int, answered int, joinedAt time.Time) *entity.Participant {
	answers := make([]entity.ParticipantAnswer, answered)
	for i := range answers {
		answers[i] = entity.ParticipantAnswer{QuestionIndex: i}
	}
	return &entity.Participant{
		UserID:   userID,
		Username: username,
		Score:    score,
		JoinedAt: joinedAt,
		Answers:  answers,
	}
}

func TestLeaderboard_SortOrder(t *testing.T) {
	service, store := leaderboardFixture()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Хост в коллекцию участников не входит, только в host_id
	session := &entity.Session{
		Code:           "AB12CD",
		HostID:         "host-1",
		TotalQuestions: 5,
		Participants: map[string]*entity.Participant{
			// Меньше очков - ниже
			"low": participant("low", "Мало", 1000, 3, base),
			// Одинаковые очки: больше отвеченных - выше
			"fast": participant("fast", "Быстрый", 3000, 4, base.Add(time.Minute)),
			"slow": participant("slow", "Медленный", 3000, 3, base),
			// Полный паритет: раньше вошел - выше
			"early": participant("early", "Ранний", 2000, 3, base),
			"late":  participant("late", "Поздний", 2000, 3, base.Add(time.Hour)),
		},
	}

	// Личный прогресс пишется отдельными ключами
	require.NoError(t, store.SetQuestionIndex(ctx, "AB12CD", "fast", 4))
	require.NoError(t, store.SetQuestionIndex(ctx, "AB12CD", "slow", 3))

	entries, err := service.Snapshot(ctx, session)
	require.NoError(t, err)

	got := make([]string, 0, len(entries))
	for _, entry := range entries {
		got = append(got, entry.UserID)
	}
	assert.Equal(t, []string{"fast", "slow", "early", "late", "low"}, got)

	// Хост в таблицу не попадает
	for _, entry := range entries {
		assert.NotEqual(t, "host-1", entry.UserID)
	}

	// Прогресс подтянут из хранилища
	assert.Equal(t, 4, entries[0].QuestionIndex)
	assert.Equal(t, 5, entries[0].TotalQuestions)
}

func TestLeaderboard_TieBreakByUserID(t *testing.T) {
	service, _ := leaderboardFixture()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	session := &entity.Session{
		Code:           "AB12CD",
		TotalQuestions: 3,
		Participants: map[string]*entity.Participant{
			"bbb": participant("bbb", "Б", 1000, 2, base),
			"aaa": participant("aaa", "А", 1000, 2, base),
		},
	}

	entries, err := service.Snapshot(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Полный паритет разрешается по user_id для стабильного порядка
	assert.Equal(t, "aaa", entries[0].UserID)
	assert.Equal(t, "bbb", entries[1].UserID)
}

func TestLeaderboard_EmptySession(t *testing.T) {
	service, _ := leaderboardFixture()

	session := &entity.Session{
		Code:         "AB12CD",
		Participants: map[string]*entity.Participant{},
	}
	entries, err := service.Snapshot(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
