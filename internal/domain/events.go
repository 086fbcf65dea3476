package domain

import "time"

// Event is one broadcastable game notification. The set of implementations
// is closed; transports switch on EventType for the wire envelope.
type Event interface {
	EventType() string
}

// GameStarting announces an imminent game to the room.
type GameStarting struct {
	Message string `json:"message"`
}

func (GameStarting) EventType() string { return "game.starting" }

// GameCountdown ticks down the pre-game countdown.
type GameCountdown struct {
	Countdown int    `json:"countdown"`
	Message   string `json:"message"`
}

func (GameCountdown) EventType() string { return "game.countdown" }

// GameQuestion carries one round's question to the room. QuestionID is the
// active-question instance ID, not the bank's question ID.
type GameQuestion struct {
	QuestionID  int64    `json:"questionId"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	RoundNumber int      `json:"roundNumber"`
	TotalRounds int      `json:"totalRounds"`
	TimeLimit   int      `json:"timeLimitSeconds"`
}

func (GameQuestion) EventType() string { return "game.question" }

// AnswerOutcome reports a submission result to the submitting player only.
type AnswerOutcome struct {
	Correct       bool   `json:"correct"`
	Awarded       int    `json:"awarded"`
	NewScore      int    `json:"newScore"`
	CorrectAnswer string `json:"correctAnswer"`
	Message       string `json:"message"`
}

func (AnswerOutcome) EventType() string { return "game.answer.result" }

// PlayerRoundResult is one player's line in a round summary.
type PlayerRoundResult struct {
	UserID   int64  `json:"userId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Answered bool   `json:"answered"`
	Correct  bool   `json:"correct"`
}

// RoundResults summarizes a settled round for the room.
type RoundResults struct {
	RoundNumber   int                 `json:"roundNumber"`
	Prompt        string              `json:"question"`
	CorrectAnswer string              `json:"correctAnswer"`
	Players       []PlayerRoundResult `json:"players"`
}

func (RoundResults) EventType() string { return "game.round.results" }

// GameEnd delivers the final leaderboard.
type GameEnd struct {
	Message     string             `json:"message"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

func (GameEnd) EventType() string { return "game.end" }

// PlayerError is a player-scoped recoverable error notice.
type PlayerError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (PlayerError) EventType() string { return "player.error" }
