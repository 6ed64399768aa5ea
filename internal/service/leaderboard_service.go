package service

import (
	"context"
	"log"
	"sort"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/service/gamesession"
)

// LeaderboardService строит таблицы лидеров по состоянию сессии.
// Хост не входит в коллекцию участников и в таблицу не попадает.
type LeaderboardService struct {
	store *gamesession.Store
}

// NewLeaderboardService создает сервис таблицы лидеров
func NewLeaderboardService(store *gamesession.Store) *LeaderboardService {
	return &LeaderboardService{store: store}
}

// Snapshot собирает отсортированную таблицу лидеров сессии.
// Порядок: очки по убыванию, при равенстве - больше отвеченных вопросов,
// затем более ранний вход в сессию.
func (s *LeaderboardService) Snapshot(ctx context.Context, session *entity.Session) ([]entity.LeaderboardEntry, error) {
	indexes, err := s.store.QuestionIndexes(ctx, session.Code)
	if err != nil {
		log.Printf("[Leaderboard] Не удалось прочитать прогресс участников %s: %v", session.Code, err)
		indexes = map[string]int{}
	}

	entries := make([]entity.LeaderboardEntry, 0, len(session.Participants))
	for userID, participant := range session.Participants {
		entries = append(entries, entity.LeaderboardEntry{
			UserID:         userID,
			Username:       participant.Username,
			Score:          participant.Score,
			QuestionIndex:  indexes[userID],
			AnsweredCount:  len(participant.Answers),
			TotalQuestions: session.TotalQuestions,
			Connected:      participant.Connected,
			JoinedAt:       participant.JoinedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].AnsweredCount != entries[j].AnsweredCount {
			return entries[i].AnsweredCount > entries[j].AnsweredCount
		}
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})

	return entries, nil
}
