package memory

import (
	"context"
	"sync"
	"time"

	"arena-quiz-service/internal/domain"
)

// RoomStore keeps rooms and players in mutexed maps. It backs unit tests and
// the postgres-less demo path.
type RoomStore struct {
	mu      sync.RWMutex
	rooms   map[int64]domain.Room
	nextPID int64
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[int64]domain.Room), nextPID: 1}
}

func (s *RoomStore) FindRoom(_ context.Context, roomID int64) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *RoomStore) SaveRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *RoomStore) FindPlayer(_ context.Context, roomID, userID int64) (domain.RoomPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.RoomPlayer{}, domain.ErrPlayerNotInRoom
	}
	for _, p := range room.Players {
		if p.UserID == userID {
			return p, nil
		}
	}
	return domain.RoomPlayer{}, domain.ErrPlayerNotInRoom
}

func (s *RoomStore) SavePlayer(_ context.Context, player domain.RoomPlayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[player.RoomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	for i := range room.Players {
		if room.Players[i].ID == player.ID {
			room.Players[i] = player
			s.rooms[player.RoomID] = room
			return nil
		}
	}
	if player.ID == 0 {
		player.ID = s.nextPID
		s.nextPID++
	}
	room.Players = append(room.Players, player)
	s.rooms[player.RoomID] = room
	return nil
}

func cloneRoom(room domain.Room) domain.Room {
	players := make([]domain.RoomPlayer, len(room.Players))
	copy(players, room.Players)
	room.Players = players
	return room
}

// GameStore keeps active questions and attempts in memory.
type GameStore struct {
	mu        sync.RWMutex
	questions map[int64]domain.ActiveQuestion
	attempts  []domain.Attempt
	nextQID   int64
	nextAID   int64
}

func NewGameStore() *GameStore {
	return &GameStore{questions: make(map[int64]domain.ActiveQuestion), nextQID: 1, nextAID: 1}
}

func (s *GameStore) SaveActiveQuestion(_ context.Context, q *domain.ActiveQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == 0 {
		q.ID = s.nextQID
		s.nextQID++
	}
	if q.SentAt.IsZero() {
		q.SentAt = time.Now()
	}
	s.questions[q.ID] = *q
	return nil
}

func (s *GameStore) FindActiveQuestion(_ context.Context, id int64) (domain.ActiveQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.ActiveQuestion{}, domain.ErrQuestionExpired
	}
	return q, nil
}

func (s *GameStore) FindQuestionForRound(_ context.Context, roomID int64, round int) (domain.ActiveQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.questions {
		if q.RoomID == roomID && q.RoundNumber == round {
			return q, nil
		}
	}
	return domain.ActiveQuestion{}, domain.ErrQuestionExpired
}

func (s *GameStore) AttemptExists(_ context.Context, playerID, activeQuestionID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.PlayerID == playerID && a.ActiveQuestionID == activeQuestionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *GameStore) SaveAttempt(_ context.Context, attempt *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.ID == 0 {
		attempt.ID = s.nextAID
		s.nextAID++
	}
	if attempt.AnsweredAt.IsZero() {
		attempt.AnsweredAt = time.Now()
	}
	s.attempts = append(s.attempts, *attempt)
	return nil
}

func (s *GameStore) AttemptsForQuestion(_ context.Context, activeQuestionID int64) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.ActiveQuestionID == activeQuestionID {
			out = append(out, a)
		}
	}
	return out, nil
}

// QuestionCount is test-only visibility into how many active questions were
// ever recorded for a room.
func (s *GameStore) QuestionCount(roomID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range s.questions {
		if q.RoomID == roomID {
			n++
		}
	}
	return n
}
