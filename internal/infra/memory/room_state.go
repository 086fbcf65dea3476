package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// RoomState is an in-process implementation of the distributed room state,
// used by unit tests and the redis-less demo path. It mimics per-key TTLs
// with an injectable clock; values are the same plain scalars the Redis
// implementation stores.
type RoomState struct {
	roomTTL     time.Duration
	questionTTL time.Duration
	lockTTL     time.Duration
	clock       func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	value     string
	expiresAt time.Time
}

func NewRoomState(roomTTL, questionTTL, lockTTL time.Duration) *RoomState {
	return NewRoomStateWithClock(roomTTL, questionTTL, lockTTL, time.Now)
}

// NewRoomStateWithClock allows deterministic expiry in tests.
func NewRoomStateWithClock(roomTTL, questionTTL, lockTTL time.Duration, clock func() time.Time) *RoomState {
	return &RoomState{
		roomTTL:     roomTTL,
		questionTTL: questionTTL,
		lockTTL:     lockTTL,
		clock:       clock,
		entries:     make(map[string]entry),
	}
}

func (s *RoomState) AcquireLock(_ context.Context, roomID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(roomID, "lock")
	if _, ok := s.liveLocked(key); ok {
		return false, nil
	}
	s.setLocked(key, "1", s.lockTTL)
	return true, nil
}

func (s *RoomState) ReleaseLock(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, s.key(roomID, "lock"))
	return nil
}

func (s *RoomState) SetActiveQuestion(_ context.Context, roomID, questionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(s.key(roomID, "activeQuestion"), strconv.FormatInt(questionID, 10), s.questionTTL)
	return nil
}

func (s *RoomState) ActiveQuestion(_ context.Context, roomID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.liveLocked(s.key(roomID, "activeQuestion"))
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *RoomState) HasActiveQuestion(ctx context.Context, roomID int64) (bool, error) {
	_, ok, err := s.ActiveQuestion(ctx, roomID)
	return ok, err
}

func (s *RoomState) MarkQuestionStart(_ context.Context, roomID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(s.key(roomID, "questionStart"), strconv.FormatInt(at.UnixMilli(), 10), s.questionTTL)
	return nil
}

func (s *RoomState) QuestionStart(_ context.Context, roomID int64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.liveLocked(s.key(roomID, "questionStart"))
	if !ok {
		return time.Time{}, nil
	}
	millis, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func (s *RoomState) InitAnswerState(_ context.Context, roomID int64, totalPlayers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(s.key(roomID, "answeredCount"), "0", s.questionTTL)
	s.setLocked(s.key(roomID, "totalPlayers"), strconv.Itoa(totalPlayers), s.questionTTL)
	return nil
}

func (s *RoomState) IncrementAnswered(_ context.Context, roomID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrLocked(s.key(roomID, "answeredCount"), s.questionTTL)
}

func (s *RoomState) AnsweredCount(_ context.Context, roomID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intLocked(s.key(roomID, "answeredCount"))
}

func (s *RoomState) TotalPlayers(_ context.Context, roomID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intLocked(s.key(roomID, "totalPlayers"))
}

func (s *RoomState) Round(_ context.Context, roomID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.intLocked(s.key(roomID, "round"))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 1, nil
	}
	return int(n), nil
}

func (s *RoomState) IncrementRound(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.incrLocked(s.key(roomID, "round"), s.roomTTL)
	return err
}

func (s *RoomState) ClearActiveQuestion(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range []string{"activeQuestion", "questionStart", "answeredCount", "totalPlayers"} {
		delete(s.entries, s.key(roomID, sub))
	}
	return nil
}

func (s *RoomState) ClearRoom(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range []string{"activeQuestion", "questionStart", "answeredCount", "totalPlayers", "round", "lock"} {
		delete(s.entries, s.key(roomID, sub))
	}
	return nil
}

func (s *RoomState) key(roomID int64, sub string) string {
	return fmt.Sprintf("quiz:room:%d:%s", roomID, sub)
}

func (s *RoomState) setLocked(key, value string, ttl time.Duration) {
	s.entries[key] = entry{value: value, expiresAt: s.clock().Add(ttl)}
}

func (s *RoomState) liveLocked(key string) (string, bool) {
	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.clock()) {
		delete(s.entries, key)
		return "", false
	}
	return e.value, true
}

func (s *RoomState) intLocked(key string) (int64, error) {
	v, ok := s.liveLocked(key)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *RoomState) incrLocked(key string, ttl time.Duration) (int64, error) {
	n, err := s.intLocked(key)
	if err != nil {
		return 0, err
	}
	n++
	s.setLocked(key, strconv.FormatInt(n, 10), ttl)
	return n, nil
}
