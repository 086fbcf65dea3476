package domain

import (
	"strings"
	"time"
)

// Status tracks the lifecycle of a multiplayer room. Transitions are
// monotonic: NOT_STARTED -> IN_PROGRESS -> COMPLETED.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Room is a bounded multiplayer session with a host, a player roster and a
// round budget. Players keeps join order; leaderboard ties resolve in favor
// of earlier joiners.
type Room struct {
	ID           int64        `json:"id"`
	HostID       int64        `json:"hostId"`
	Name         string       `json:"name"`
	Region       string       `json:"region"`     // question filter, empty = any
	Difficulty   string       `json:"difficulty"` // question filter, empty = any
	TotalRounds  int          `json:"totalRounds"`
	CurrentRound int          `json:"currentRound"`
	MaxPlayers   int          `json:"maxPlayers"`
	Status       Status       `json:"status"`
	Players      []RoomPlayer `json:"players"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// IsHost reports whether userID owns the room.
func (r *Room) IsHost(userID int64) bool {
	return r.HostID == userID
}

// RoomPlayer is a user's membership in one room. Score never decreases
// during a game.
type RoomPlayer struct {
	ID     int64  `json:"id"`
	RoomID int64  `json:"roomId"`
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Score  int    `json:"score"`
}

// Question is immutable quiz content supplied by the question bank.
type Question struct {
	ID         int64    `json:"id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	Answer     string   `json:"answer"`
	Region     string   `json:"region"`
	Difficulty string   `json:"difficulty"`
}

// Matches compares a submitted option to the correct answer, case-insensitively.
func (q Question) Matches(option string) bool {
	return strings.EqualFold(q.Answer, option)
}

// QuestionFilter narrows random question selection. Empty or "all" fields
// match anything.
type QuestionFilter struct {
	Region     string
	Difficulty string
}

// Normalized returns the filter with "all" collapsed to empty.
func (f QuestionFilter) Normalized() QuestionFilter {
	return QuestionFilter{
		Region:     normalizeFilter(f.Region),
		Difficulty: normalizeFilter(f.Difficulty),
	}
}

// IsZero reports whether the filter matches every question.
func (f QuestionFilter) IsZero() bool {
	n := f.Normalized()
	return n.Region == "" && n.Difficulty == ""
}

func normalizeFilter(v string) string {
	if strings.EqualFold(v, "all") {
		return ""
	}
	return v
}

// ActiveQuestion is one round's live question instance. The durable row is
// the source of truth for content; its ID is mirrored into the distributed
// room state so every process agrees on which question is scoreable.
type ActiveQuestion struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"roomId"`
	Question    Question  `json:"question"`
	RoundNumber int       `json:"roundNumber"`
	SentAt      time.Time `json:"sentAt"`
}

// Attempt records one player's answer to one active question. At most one
// attempt exists per (player, active question).
type Attempt struct {
	ID               int64     `json:"id"`
	PlayerID         int64     `json:"playerId"`
	ActiveQuestionID int64     `json:"activeQuestionId"`
	SelectedOption   string    `json:"selectedOption"`
	Correct          bool      `json:"correct"`
	AnsweredAt       time.Time `json:"answeredAt"`
}

// LeaderboardEntry is one ranked row of the final scoreboard.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
}
