package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParticipant_HasAnswered(t *testing.T) {
	p := &Participant{
		Answers: []ParticipantAnswer{
			{QuestionIndex: 0, IsCorrect: true},
			{QuestionIndex: 2, IsCorrect: false},
		},
	}

	assert.True(t, p.HasAnswered(0))
	assert.True(t, p.HasAnswered(2))
	assert.False(t, p.HasAnswered(1))
	assert.False(t, p.HasAnswered(3))
}

func TestParticipant_Accuracy(t *testing.T) {
	// Без ответов точность нулевая, без деления на ноль
	empty := &Participant{}
	assert.Equal(t, 0.0, empty.Accuracy())

	p := &Participant{
		Answers: []ParticipantAnswer{
			{QuestionIndex: 0, IsCorrect: true},
			{QuestionIndex: 1, IsCorrect: false},
			{QuestionIndex: 2, IsCorrect: true},
			{QuestionIndex: 3, IsCorrect: true},
		},
	}
	assert.InDelta(t, 0.75, p.Accuracy(), 1e-9)
}

func TestSession_StatusChecks(t *testing.T) {
	s := &Session{Status: SessionStatusWaiting}
	assert.True(t, s.IsWaiting())
	assert.False(t, s.IsActive())
	assert.False(t, s.IsCompleted())

	s.Status = SessionStatusActive
	assert.True(t, s.IsActive())

	s.Status = SessionStatusCompleted
	assert.True(t, s.IsCompleted())
}

func TestSession_IsExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Нулевой ExpiresAt означает бессрочную сессию
	s := &Session{}
	assert.False(t, s.IsExpired(now))

	s.ExpiresAt = now.Add(time.Minute)
	assert.False(t, s.IsExpired(now))

	s.ExpiresAt = now.Add(-time.Minute)
	assert.True(t, s.IsExpired(now))
}

func TestSession_ParticipantList_StableOrder(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{
		Participants: map[string]*Participant{
			"c": {UserID: "c", JoinedAt: base.Add(2 * time.Minute)},
			"b": {UserID: "b", JoinedAt: base},
			"a": {UserID: "a", JoinedAt: base},
		},
	}

	list := s.ParticipantList()
	got := make([]string, 0, len(list))
	for _, p := range list {
		got = append(got, p.UserID)
	}
	// Сначала по времени входа, при равенстве - по user_id
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSession_PlayerCount_AndHostIdentity(t *testing.T) {
	// Хост хранится только в host_id и в число игроков не входит
	s := &Session{
		HostID:       "host-1",
		HostUsername: "Хост",
		Participants: map[string]*Participant{
			"player-1": {UserID: "player-1"},
			"player-2": {UserID: "player-2"},
		},
	}

	assert.Equal(t, 2, s.PlayerCount())
	assert.True(t, s.IsHost("host-1"))
	assert.False(t, s.IsHost("player-1"))
	assert.Nil(t, s.Participant("host-1"))
	assert.Nil(t, s.Participant("ghost"))
}
