package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomState keeps the ephemeral per-room game state in Redis so that any
// process instance can coordinate round progression. All values are plain
// scalars; every key carries its own TTL.
//
// Keys per room:
//
//	quiz:room:{id}:activeQuestion  live active-question ID (question TTL)
//	quiz:room:{id}:questionStart   unix millis the question went out (question TTL)
//	quiz:room:{id}:answeredCount   answers received this round (question TTL)
//	quiz:room:{id}:totalPlayers    roster size this round (question TTL)
//	quiz:room:{id}:round           distributed round mirror (room TTL)
//	quiz:room:{id}:lock            tick mutual exclusion (lock TTL)
type RoomState struct {
	client      *redis.Client
	roomTTL     time.Duration
	questionTTL time.Duration
	lockTTL     time.Duration
}

func NewRoomState(client *redis.Client, roomTTL, questionTTL, lockTTL time.Duration) *RoomState {
	return &RoomState{
		client:      client,
		roomTTL:     roomTTL,
		questionTTL: questionTTL,
		lockTTL:     lockTTL,
	}
}

// AcquireLock attempts the room's tick lock with set-if-absent. A false
// return means another tick (possibly in another process) holds it.
func (s *RoomState) AcquireLock(ctx context.Context, roomID int64) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey(roomID), "1", s.lockTTL).Result()
}

// ReleaseLock deletes the tick lock. Safe to call when not held: the TTL is
// the real backstop.
func (s *RoomState) ReleaseLock(ctx context.Context, roomID int64) error {
	return s.client.Del(ctx, s.lockKey(roomID)).Err()
}

// SetActiveQuestion marks questionID live for the room until the question
// TTL elapses.
func (s *RoomState) SetActiveQuestion(ctx context.Context, roomID, questionID int64) error {
	return s.client.Set(ctx, s.activeQuestionKey(roomID), strconv.FormatInt(questionID, 10), s.questionTTL).Err()
}

// ActiveQuestion returns the live active-question ID, or (0, false) when no
// question is live.
func (s *RoomState) ActiveQuestion(ctx context.Context, roomID int64) (int64, bool, error) {
	v, err := s.client.Get(ctx, s.activeQuestionKey(roomID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse active question for room %d: %w", roomID, err)
	}
	return id, true, nil
}

// HasActiveQuestion reports whether a non-expired question is live.
func (s *RoomState) HasActiveQuestion(ctx context.Context, roomID int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.activeQuestionKey(roomID)).Result()
	return n > 0, err
}

// MarkQuestionStart records when the current question went out.
func (s *RoomState) MarkQuestionStart(ctx context.Context, roomID int64, at time.Time) error {
	return s.client.Set(ctx, s.questionStartKey(roomID), strconv.FormatInt(at.UnixMilli(), 10), s.questionTTL).Err()
}

// QuestionStart returns the start timestamp of the live question; the zero
// time when the key is gone.
func (s *RoomState) QuestionStart(ctx context.Context, roomID int64) (time.Time, error) {
	v, err := s.client.Get(ctx, s.questionStartKey(roomID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	millis, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse question start for room %d: %w", roomID, err)
	}
	return time.UnixMilli(millis), nil
}

// InitAnswerState seeds answeredCount=0 and totalPlayers for a fresh round.
func (s *RoomState) InitAnswerState(ctx context.Context, roomID int64, totalPlayers int) error {
	if err := s.client.Set(ctx, s.answeredKey(roomID), "0", s.questionTTL).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, s.totalPlayersKey(roomID), strconv.Itoa(totalPlayers), s.questionTTL).Err()
}

// IncrementAnswered atomically bumps the answered counter and returns the
// post-increment value. Concurrent submissions race on this counter only, so
// INCR is the one operation allowed outside the tick lock.
func (s *RoomState) IncrementAnswered(ctx context.Context, roomID int64) (int64, error) {
	return s.client.Incr(ctx, s.answeredKey(roomID)).Result()
}

// AnsweredCount reads the answered counter, 0 when expired.
func (s *RoomState) AnsweredCount(ctx context.Context, roomID int64) (int64, error) {
	return s.intValue(ctx, s.answeredKey(roomID))
}

// TotalPlayers reads the roster size recorded for the current round.
func (s *RoomState) TotalPlayers(ctx context.Context, roomID int64) (int64, error) {
	return s.intValue(ctx, s.totalPlayersKey(roomID))
}

// Round reads the distributed round counter, defaulting to 1.
func (s *RoomState) Round(ctx context.Context, roomID int64) (int, error) {
	v, err := s.intValue(ctx, s.roundKey(roomID))
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 1, nil
	}
	return int(v), nil
}

// IncrementRound bumps the distributed round counter and refreshes its TTL.
func (s *RoomState) IncrementRound(ctx context.Context, roomID int64) error {
	if err := s.client.Incr(ctx, s.roundKey(roomID)).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.roundKey(roomID), s.roomTTL).Err()
}

// ClearActiveQuestion drops the per-round keys, ending the round early. The
// round counter and lock are left alone.
func (s *RoomState) ClearActiveQuestion(ctx context.Context, roomID int64) error {
	return s.client.Del(ctx,
		s.activeQuestionKey(roomID),
		s.questionStartKey(roomID),
		s.answeredKey(roomID),
		s.totalPlayersKey(roomID),
	).Err()
}

// ClearRoom drops every key for the room, lock included. Used at game end
// and on forced stop.
func (s *RoomState) ClearRoom(ctx context.Context, roomID int64) error {
	return s.client.Del(ctx,
		s.activeQuestionKey(roomID),
		s.questionStartKey(roomID),
		s.answeredKey(roomID),
		s.totalPlayersKey(roomID),
		s.roundKey(roomID),
		s.lockKey(roomID),
	).Err()
}

func (s *RoomState) intValue(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func (s *RoomState) activeQuestionKey(roomID int64) string {
	return fmt.Sprintf("quiz:room:%d:activeQuestion", roomID)
}

func (s *RoomState) questionStartKey(roomID int64) string {
	return fmt.Sprintf("quiz:room:%d:questionStart", roomID)
}

func (s *RoomState) answeredKey(roomID int64) string {
	return fmt.Sprintf("quiz:room:%d:answeredCount", roomID)
}

func (s *RoomState) totalPlayersKey(roomID int64) string {
	return fmt.Sprintf("quiz:room:%d:totalPlayers", roomID)
}

func (s *RoomState) roundKey(roomID int64) string {
	return fmt.Sprintf("quiz:room:%d:round", roomID)
}

func (s *RoomState) lockKey(roomID int64) string {
	return fmt.Sprintf("quiz:room:%d:lock", roomID)
}
