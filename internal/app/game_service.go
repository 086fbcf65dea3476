package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"arena-quiz-service/internal/domain"
	"github.com/rs/zerolog"
)

// RoomStore is the durable room/player store (Postgres in production).
type RoomStore interface {
	FindRoom(ctx context.Context, roomID int64) (domain.Room, error)
	SaveRoom(ctx context.Context, room domain.Room) error
	FindPlayer(ctx context.Context, roomID, userID int64) (domain.RoomPlayer, error)
	SavePlayer(ctx context.Context, player domain.RoomPlayer) error
}

// GameStore persists per-game artifacts: active-question instances and
// answer attempts.
type GameStore interface {
	SaveActiveQuestion(ctx context.Context, q *domain.ActiveQuestion) error
	FindActiveQuestion(ctx context.Context, id int64) (domain.ActiveQuestion, error)
	FindQuestionForRound(ctx context.Context, roomID int64, round int) (domain.ActiveQuestion, error)
	AttemptExists(ctx context.Context, playerID, activeQuestionID int64) (bool, error)
	SaveAttempt(ctx context.Context, attempt *domain.Attempt) error
	AttemptsForQuestion(ctx context.Context, activeQuestionID int64) ([]domain.Attempt, error)
}

// QuestionBank hands out random questions matching a filter.
type QuestionBank interface {
	Random(ctx context.Context, filter domain.QuestionFilter) (domain.Question, error)
}

// RoomState is the shared ephemeral game state, authoritative across process
// instances (Redis in production).
type RoomState interface {
	AcquireLock(ctx context.Context, roomID int64) (bool, error)
	ReleaseLock(ctx context.Context, roomID int64) error
	SetActiveQuestion(ctx context.Context, roomID, questionID int64) error
	ActiveQuestion(ctx context.Context, roomID int64) (int64, bool, error)
	HasActiveQuestion(ctx context.Context, roomID int64) (bool, error)
	MarkQuestionStart(ctx context.Context, roomID int64, at time.Time) error
	QuestionStart(ctx context.Context, roomID int64) (time.Time, error)
	InitAnswerState(ctx context.Context, roomID int64, totalPlayers int) error
	IncrementAnswered(ctx context.Context, roomID int64) (int64, error)
	AnsweredCount(ctx context.Context, roomID int64) (int64, error)
	TotalPlayers(ctx context.Context, roomID int64) (int64, error)
	Round(ctx context.Context, roomID int64) (int, error)
	IncrementRound(ctx context.Context, roomID int64) error
	ClearActiveQuestion(ctx context.Context, roomID int64) error
	ClearRoom(ctx context.Context, roomID int64) error
}

// Broadcaster fans typed events out to room and player channels.
type Broadcaster interface {
	NotifyRoom(roomID int64, event domain.Event)
	SendToPlayer(userID int64, event domain.Event)
}

// RoundScheduler drives the recurring per-room tick.
type RoundScheduler interface {
	Register(roomID int64)
	Trigger(roomID int64)
	Cancel(roomID int64)
}

// Rules holds the game tunables.
type Rules struct {
	QuestionInterval time.Duration // round length and question TTL
	StartDelay       time.Duration // gap between game.starting and the first question
	BasePoints       int           // award for an instant correct answer
	MinPoints        int           // floor for a correct answer at the buzzer
	MinPlayers       int
}

func DefaultRules() Rules {
	return Rules{
		QuestionInterval: 30 * time.Second,
		StartDelay:       3 * time.Second,
		BasePoints:       100,
		MinPoints:        10,
		MinPlayers:       2,
	}
}

// GameService implements the game lifecycle and answer processing. Scheduler
// ticks and answer submissions run concurrently; ticks serialize on the
// distributed lock, submissions rely on the per-(player, question)
// uniqueness check plus the atomic answered counter.
type GameService struct {
	rooms RoomStore
	games GameStore
	bank  QuestionBank
	state RoomState
	bus   Broadcaster
	sched RoundScheduler
	rules Rules
	log   zerolog.Logger
	clock func() time.Time
}

func NewGameService(rooms RoomStore, games GameStore, bank QuestionBank, state RoomState, bus Broadcaster, rules Rules, log zerolog.Logger) *GameService {
	return &GameService{
		rooms: rooms,
		games: games,
		bank:  bank,
		state: state,
		bus:   bus,
		rules: rules,
		log:   log,
		clock: time.Now,
	}
}

// UseScheduler wires the round scheduler after construction; the scheduler
// itself is built around this service's Tick.
func (s *GameService) UseScheduler(sched RoundScheduler) {
	s.sched = sched
}

// SetClock is test-only for deterministic elapsed-time scoring.
func (s *GameService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// StartGame validates preconditions and moves the room into IN_PROGRESS.
// Failures are reported to the requester as player.error and returned.
func (s *GameService) StartGame(ctx context.Context, roomID, requesterID int64) error {
	room, err := s.rooms.FindRoom(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return s.reject(requesterID, domain.ErrRoomNotFound)
	}
	if err != nil {
		return err
	}
	if !room.IsHost(requesterID) {
		return s.reject(requesterID, domain.ErrNotHost)
	}
	if room.Status != domain.StatusNotStarted {
		return s.reject(requesterID, domain.ErrAlreadyStarted)
	}
	if len(room.Players) < s.rules.MinPlayers {
		return s.reject(requesterID, domain.ErrInsufficientPlayers)
	}

	room.Status = domain.StatusInProgress
	room.CurrentRound = 1
	if err := s.rooms.SaveRoom(ctx, room); err != nil {
		return err
	}

	s.bus.NotifyRoom(roomID, domain.GameStarting{Message: "Game is starting soon!"})
	go s.countdown(roomID)
	s.sched.Register(roomID)

	s.log.Info().Int64("room", roomID).Int("players", len(room.Players)).Msg("game started")
	return nil
}

// countdown mirrors the pre-game 3-2-1 announcement. It is fire-and-forget;
// the scheduler's start delay covers the same window.
func (s *GameService) countdown(roomID int64) {
	steps := 3
	pause := s.rules.StartDelay / time.Duration(steps)
	for i := steps; i > 0; i-- {
		s.bus.NotifyRoom(roomID, domain.GameCountdown{
			Countdown: i,
			Message:   fmt.Sprintf("Game starting in %d", i),
		})
		time.Sleep(pause)
	}
}

// Tick is one scheduler pass for a room: acquire the distributed lock, run
// the round state machine, release. A lost lock race or an error inside the
// pass is non-fatal; the next tick retries.
func (s *GameService) Tick(ctx context.Context, roomID int64) {
	acquired, err := s.state.AcquireLock(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).Int64("room", roomID).Msg("tick lock acquire failed")
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.state.ReleaseLock(ctx, roomID); err != nil {
			// The lock TTL will reap it.
			s.log.Warn().Err(err).Int64("room", roomID).Msg("tick lock release failed")
		}
	}()

	if err := s.advanceRound(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Int64("room", roomID).Msg("tick failed, will retry")
	}
}

func (s *GameService) advanceRound(ctx context.Context, roomID int64) error {
	room, err := s.rooms.FindRoom(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		// Room gone: the scheduler entry must not outlive it.
		s.sched.Cancel(roomID)
		return s.state.ClearRoom(ctx, roomID)
	}
	if err != nil {
		// Transient store failure: keep the timer, the next tick retries.
		return err
	}
	if room.Status != domain.StatusInProgress {
		s.sched.Cancel(roomID)
		return s.state.ClearRoom(ctx, roomID)
	}

	live, err := s.state.HasActiveQuestion(ctx, roomID)
	if err != nil {
		return err
	}
	if live {
		// Current question has not expired or been cleared yet.
		return nil
	}

	round := room.CurrentRound
	if round > room.TotalRounds {
		s.broadcastRoundResults(ctx, &room, round-1)
		return s.EndGame(ctx, &room)
	}
	if round > 1 {
		s.broadcastRoundResults(ctx, &room, round-1)
	}

	question, err := s.bank.Random(ctx, domain.QuestionFilter{Region: room.Region, Difficulty: room.Difficulty})
	if errors.Is(err, domain.ErrNoQuestionsAvailable) {
		s.sendError(room.HostID, "No questions available.")
		return s.EndGame(ctx, &room)
	}
	if err != nil {
		return err
	}

	now := s.clock()
	active := &domain.ActiveQuestion{
		RoomID:      room.ID,
		Question:    question,
		RoundNumber: round,
		SentAt:      now,
	}
	if err := s.games.SaveActiveQuestion(ctx, active); err != nil {
		return err
	}
	if err := s.state.SetActiveQuestion(ctx, roomID, active.ID); err != nil {
		return err
	}
	if err := s.state.MarkQuestionStart(ctx, roomID, now); err != nil {
		return err
	}
	if err := s.state.InitAnswerState(ctx, roomID, len(room.Players)); err != nil {
		return err
	}

	s.bus.NotifyRoom(roomID, domain.GameQuestion{
		QuestionID:  active.ID,
		Prompt:      question.Prompt,
		Options:     question.Options,
		RoundNumber: round,
		TotalRounds: room.TotalRounds,
		TimeLimit:   int(s.rules.QuestionInterval.Seconds()),
	})
	s.log.Info().Int64("room", roomID).Int("round", round).Int("total", room.TotalRounds).Msg("question sent")

	room.CurrentRound = round + 1
	if err := s.rooms.SaveRoom(ctx, room); err != nil {
		return err
	}
	return s.state.IncrementRound(ctx, roomID)
}

// SubmitAnswer scores one inbound submission against the live question.
// Rejections are echoed to the player as player.error and returned as
// sentinel errors.
func (s *GameService) SubmitAnswer(ctx context.Context, roomID, userID, questionID int64, selectedOption string) (domain.AnswerOutcome, error) {
	activeID, live, err := s.state.ActiveQuestion(ctx, roomID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if !live || activeID != questionID {
		return domain.AnswerOutcome{}, s.reject(userID, domain.ErrQuestionExpired)
	}

	player, err := s.rooms.FindPlayer(ctx, roomID, userID)
	if errors.Is(err, domain.ErrPlayerNotInRoom) {
		return domain.AnswerOutcome{}, s.reject(userID, domain.ErrPlayerNotInRoom)
	}
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	answered, err := s.games.AttemptExists(ctx, player.ID, activeID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if answered {
		return domain.AnswerOutcome{}, s.reject(userID, domain.ErrAlreadyAnswered)
	}

	active, err := s.games.FindActiveQuestion(ctx, activeID)
	if errors.Is(err, domain.ErrQuestionExpired) {
		return domain.AnswerOutcome{}, s.reject(userID, domain.ErrQuestionExpired)
	}
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	now := s.clock()
	correct := active.Question.Matches(selectedOption)
	attempt := &domain.Attempt{
		PlayerID:         player.ID,
		ActiveQuestionID: activeID,
		SelectedOption:   selectedOption,
		Correct:          correct,
		AnsweredAt:       now,
	}
	if err := s.games.SaveAttempt(ctx, attempt); err != nil {
		return domain.AnswerOutcome{}, err
	}

	awarded := 0
	if correct {
		awarded = s.award(ctx, roomID, now)
		player.Score += awarded
		if err := s.rooms.SavePlayer(ctx, player); err != nil {
			return domain.AnswerOutcome{}, err
		}
	}

	outcome := domain.AnswerOutcome{
		Correct:       correct,
		Awarded:       awarded,
		NewScore:      player.Score,
		CorrectAnswer: active.Question.Answer,
		Message:       outcomeMessage(correct),
	}
	s.bus.SendToPlayer(userID, outcome)
	s.log.Info().Int64("room", roomID).Int64("user", userID).Int64("question", activeID).Bool("correct", correct).Msg("answer processed")

	count, err := s.state.IncrementAnswered(ctx, roomID)
	if err != nil {
		return outcome, err
	}
	total, err := s.state.TotalPlayers(ctx, roomID)
	if err != nil {
		return outcome, err
	}
	if total > 0 && count >= total {
		// Everyone answered: settle the round now instead of idling out the
		// rest of the interval.
		if err := s.state.ClearActiveQuestion(ctx, roomID); err != nil {
			return outcome, err
		}
		s.sched.Trigger(roomID)
	}
	return outcome, nil
}

// award computes the time-decayed score for a correct answer: BasePoints for
// an instant answer, sliding linearly down to MinPoints at the time limit.
func (s *GameService) award(ctx context.Context, roomID int64, now time.Time) int {
	start, err := s.state.QuestionStart(ctx, roomID)
	if err != nil || start.IsZero() {
		return s.rules.MinPoints
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	limit := s.rules.QuestionInterval
	spread := s.rules.BasePoints - s.rules.MinPoints
	penalty := int(float64(spread) * elapsed.Seconds() / limit.Seconds())
	awarded := s.rules.BasePoints - penalty
	if awarded < s.rules.MinPoints {
		awarded = s.rules.MinPoints
	}
	return awarded
}

// EndGame completes the room, publishes the leaderboard and releases all
// per-room resources.
func (s *GameService) EndGame(ctx context.Context, room *domain.Room) error {
	room.Status = domain.StatusCompleted
	if err := s.rooms.SaveRoom(ctx, *room); err != nil {
		return err
	}

	leaderboard := Leaderboard(room.Players)
	s.bus.NotifyRoom(room.ID, domain.GameEnd{
		Message:     "Game completed!",
		Leaderboard: leaderboard,
	})
	if len(leaderboard) > 0 {
		s.log.Info().Int64("room", room.ID).Str("winner", leaderboard[0].Name).Int("score", leaderboard[0].Score).Msg("game ended")
	}

	s.sched.Cancel(room.ID)
	return s.state.ClearRoom(ctx, room.ID)
}

func (s *GameService) broadcastRoundResults(ctx context.Context, room *domain.Room, round int) {
	if round < 1 {
		return
	}
	question, err := s.games.FindQuestionForRound(ctx, room.ID, round)
	if err != nil {
		return
	}
	attempts, err := s.games.AttemptsForQuestion(ctx, question.ID)
	if err != nil {
		s.log.Warn().Err(err).Int64("room", room.ID).Int("round", round).Msg("round results unavailable")
		return
	}

	byPlayer := make(map[int64]domain.Attempt, len(attempts))
	for _, a := range attempts {
		byPlayer[a.PlayerID] = a
	}

	players := make([]domain.RoomPlayer, len(room.Players))
	copy(players, room.Players)
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Score > players[j].Score
	})

	results := make([]domain.PlayerRoundResult, 0, len(players))
	for _, p := range players {
		attempt, ok := byPlayer[p.ID]
		results = append(results, domain.PlayerRoundResult{
			UserID:   p.UserID,
			Name:     p.Name,
			Score:    p.Score,
			Answered: ok,
			Correct:  ok && attempt.Correct,
		})
	}

	s.bus.NotifyRoom(room.ID, domain.RoundResults{
		RoundNumber:   round,
		Prompt:        question.Question.Prompt,
		CorrectAnswer: question.Question.Answer,
		Players:       results,
	})
}

// Leaderboard ranks players by score descending; ties keep join order, so
// the earlier joiner ranks higher.
func Leaderboard(players []domain.RoomPlayer) []domain.LeaderboardEntry {
	ordered := make([]domain.RoomPlayer, len(players))
	copy(ordered, players)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ordered))
	for i, p := range ordered {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:   i + 1,
			UserID: p.UserID,
			Name:   p.Name,
			Score:  p.Score,
		})
	}
	return entries
}

func (s *GameService) reject(userID int64, err error) error {
	s.sendError(userID, err.Error())
	return err
}

func (s *GameService) sendError(userID int64, message string) {
	s.bus.SendToPlayer(userID, domain.PlayerError{
		Message:   message,
		Timestamp: s.clock(),
	})
}

func outcomeMessage(correct bool) string {
	if correct {
		return "Correct answer!"
	}
	return "Wrong answer"
}
