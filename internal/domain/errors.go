package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room ID does not resolve.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotHost is returned when a non-host tries to start the game.
	ErrNotHost = errors.New("only the host can start the game")
	// ErrAlreadyStarted is returned when the game has left NOT_STARTED.
	ErrAlreadyStarted = errors.New("game already started")
	// ErrInsufficientPlayers is returned when fewer than the configured
	// minimum of players have joined.
	ErrInsufficientPlayers = errors.New("not enough players to start")
	// ErrNoQuestionsAvailable indicates the question bank is exhausted for
	// the requested filter.
	ErrNoQuestionsAvailable = errors.New("no questions available")
	// ErrQuestionExpired is returned when a submission references a question
	// that is no longer live for the room.
	ErrQuestionExpired = errors.New("question not found or expired")
	// ErrPlayerNotInRoom is returned when the user has no player record in
	// the room.
	ErrPlayerNotInRoom = errors.New("player not found in room")
	// ErrAlreadyAnswered is returned on a duplicate submission for the same
	// active question.
	ErrAlreadyAnswered = errors.New("already answered this question")
)
