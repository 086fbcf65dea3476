package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arena-quiz-service/internal/app"
	"arena-quiz-service/internal/domain"
	"arena-quiz-service/internal/infra/memory"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingBus struct {
	mu     sync.Mutex
	room   []domain.Event
	player map[int64][]domain.Event
}

func newRecordingBus() *recordingBus {
	return &recordingBus{player: make(map[int64][]domain.Event)}
}

func (b *recordingBus) NotifyRoom(_ int64, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.room = append(b.room, event)
}

func (b *recordingBus) SendToPlayer(userID int64, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.player[userID] = append(b.player[userID], event)
}

func (b *recordingBus) playerEvents(userID int64) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Event, len(b.player[userID]))
	copy(out, b.player[userID])
	return out
}

func (b *recordingBus) roomEvents(eventType string) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.room {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fakeScheduler struct {
	mu         sync.Mutex
	registered []int64
	triggered  []int64
	canceled   []int64
}

func (s *fakeScheduler) Register(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, roomID)
}

func (s *fakeScheduler) Trigger(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = append(s.triggered, roomID)
}

func (s *fakeScheduler) Cancel(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, roomID)
}

func (s *fakeScheduler) triggerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggered)
}

var errConnReset = errors.New("connection reset by peer")

// flakyRoomStore fails a configured number of calls before delegating,
// simulating transient store outages.
type flakyRoomStore struct {
	app.RoomStore
	mu          sync.Mutex
	roomFails   int
	playerFails int
}

func (s *flakyRoomStore) FindRoom(ctx context.Context, roomID int64) (domain.Room, error) {
	s.mu.Lock()
	fail := s.roomFails > 0
	if fail {
		s.roomFails--
	}
	s.mu.Unlock()
	if fail {
		return domain.Room{}, errConnReset
	}
	return s.RoomStore.FindRoom(ctx, roomID)
}

func (s *flakyRoomStore) FindPlayer(ctx context.Context, roomID, userID int64) (domain.RoomPlayer, error) {
	s.mu.Lock()
	fail := s.playerFails > 0
	if fail {
		s.playerFails--
	}
	s.mu.Unlock()
	if fail {
		return domain.RoomPlayer{}, errConnReset
	}
	return s.RoomStore.FindPlayer(ctx, roomID, userID)
}

type testGame struct {
	svc   *app.GameService
	rooms *memory.RoomStore
	games *memory.GameStore
	bank  *memory.StaticQuestionBank
	state *memory.RoomState
	bus   *recordingBus
	sched *fakeScheduler
	clock *fakeClock
	rules app.Rules
}

func newTestGame(t *testing.T) *testGame {
	t.Helper()
	clock := newFakeClock()
	rules := app.Rules{
		QuestionInterval: 30 * time.Second,
		StartDelay:       3 * time.Millisecond,
		BasePoints:       100,
		MinPoints:        10,
		MinPlayers:       2,
	}
	rooms := memory.NewRoomStore()
	games := memory.NewGameStore()
	bank := memory.NewStaticQuestionBank([]domain.Question{
		{ID: 1, Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Answer: "4"},
		{ID: 2, Prompt: "What is 3 + 3?", Options: []string{"5", "6", "7"}, Answer: "6"},
	})
	state := memory.NewRoomStateWithClock(10*time.Minute, rules.QuestionInterval, 5*time.Second, clock.Now)
	bus := newRecordingBus()
	sched := &fakeScheduler{}

	svc := app.NewGameService(rooms, games, bank, state, bus, rules, zerolog.Nop())
	svc.UseScheduler(sched)
	svc.SetClock(clock.Now)

	if err := rooms.SaveRoom(context.Background(), domain.Room{
		ID:          1,
		HostID:      10,
		Name:        "arena",
		TotalRounds: 2,
		MaxPlayers:  4,
		Status:      domain.StatusNotStarted,
		Players: []domain.RoomPlayer{
			{ID: 1, RoomID: 1, UserID: 10, Name: "Ash"},
			{ID: 2, RoomID: 1, UserID: 20, Name: "Misty"},
		},
	}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	return &testGame{svc: svc, rooms: rooms, games: games, bank: bank, state: state, bus: bus, sched: sched, clock: clock, rules: rules}
}

func (g *testGame) mustStart(t *testing.T) {
	t.Helper()
	if err := g.svc.StartGame(context.Background(), 1, 10); err != nil {
		t.Fatalf("start game: %v", err)
	}
}

func (g *testGame) liveQuestionID(t *testing.T) int64 {
	t.Helper()
	id, ok, err := g.state.ActiveQuestion(context.Background(), 1)
	if err != nil {
		t.Fatalf("active question: %v", err)
	}
	if !ok {
		t.Fatalf("expected a live question")
	}
	return id
}

func TestStartGameValidations(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)

	if err := g.svc.StartGame(ctx, 99, 10); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
	if err := g.svc.StartGame(ctx, 1, 20); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected not host, got %v", err)
	}

	room, _ := g.rooms.FindRoom(ctx, 1)
	room.Players = room.Players[:1]
	_ = g.rooms.SaveRoom(ctx, room)
	if err := g.svc.StartGame(ctx, 1, 10); !errors.Is(err, domain.ErrInsufficientPlayers) {
		t.Fatalf("expected insufficient players, got %v", err)
	}

	room.Players = append(room.Players, domain.RoomPlayer{ID: 2, RoomID: 1, UserID: 20, Name: "Misty"})
	room.Status = domain.StatusInProgress
	_ = g.rooms.SaveRoom(ctx, room)
	if err := g.svc.StartGame(ctx, 1, 10); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestStartGameRegistersScheduler(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)

	room, err := g.rooms.FindRoom(ctx, 1)
	if err != nil {
		t.Fatalf("find room: %v", err)
	}
	if room.Status != domain.StatusInProgress || room.CurrentRound != 1 {
		t.Fatalf("expected in-progress round 1, got %s round %d", room.Status, room.CurrentRound)
	}
	if len(g.sched.registered) != 1 || g.sched.registered[0] != 1 {
		t.Fatalf("expected room registered with scheduler, got %v", g.sched.registered)
	}
	if len(g.bus.roomEvents("game.starting")) != 1 {
		t.Fatalf("expected one game.starting broadcast")
	}
}

func TestTickEmitsQuestionOncePerWindow(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)

	g.svc.Tick(ctx, 1)
	g.svc.Tick(ctx, 1) // question still live: must not double-emit

	if got := len(g.bus.roomEvents("game.question")); got != 1 {
		t.Fatalf("expected 1 question broadcast, got %d", got)
	}
	if got := g.games.QuestionCount(1); got != 1 {
		t.Fatalf("expected 1 active question recorded, got %d", got)
	}

	q := g.bus.roomEvents("game.question")[0].(domain.GameQuestion)
	if q.RoundNumber != 1 || q.TotalRounds != 2 || q.TimeLimit != 30 {
		t.Fatalf("unexpected question payload: %+v", q)
	}
}

func TestTickLockExcludesConcurrentEmit(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.svc.Tick(ctx, 1)
		}()
	}
	wg.Wait()

	if got := g.games.QuestionCount(1); got != 1 {
		t.Fatalf("expected exactly 1 active question under concurrent ticks, got %d", got)
	}
}

func TestSubmitAnswerScoresWithDecay(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)
	g.svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	g.clock.Advance(2 * time.Second)
	fast, err := g.svc.SubmitAnswer(ctx, 1, 10, qid, "4")
	if err != nil {
		t.Fatalf("submit fast: %v", err)
	}
	g.clock.Advance(3 * time.Second)
	slow, err := g.svc.SubmitAnswer(ctx, 1, 20, qid, "4")
	if err != nil {
		t.Fatalf("submit slow: %v", err)
	}

	if !fast.Correct || !slow.Correct {
		t.Fatalf("expected both answers correct")
	}
	if fast.Awarded <= slow.Awarded {
		t.Fatalf("expected faster answer to score higher: fast=%d slow=%d", fast.Awarded, slow.Awarded)
	}
	if fast.Awarded != 94 || slow.Awarded != 85 {
		t.Fatalf("unexpected awards: fast=%d slow=%d", fast.Awarded, slow.Awarded)
	}
}

func TestSubmitAnswerIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)
	g.svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	first, err := g.svc.SubmitAnswer(ctx, 1, 10, qid, "4")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := g.svc.SubmitAnswer(ctx, 1, 10, qid, "4"); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}

	player, err := g.rooms.FindPlayer(ctx, 1, 10)
	if err != nil {
		t.Fatalf("find player: %v", err)
	}
	if player.Score != first.Awarded {
		t.Fatalf("expected score %d after duplicate submit, got %d", first.Awarded, player.Score)
	}
	attempts, _ := g.games.AttemptsForQuestion(ctx, qid)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 stored attempt, got %d", len(attempts))
	}
}

func TestSubmitAnswerWrongOptionKeepsScore(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)
	g.svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	outcome, err := g.svc.SubmitAnswer(ctx, 1, 10, qid, "3")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Correct || outcome.Awarded != 0 || outcome.NewScore != 0 {
		t.Fatalf("expected zero award for wrong answer, got %+v", outcome)
	}
}

func TestSubmitAnswerRejections(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)

	// No question live yet.
	if _, err := g.svc.SubmitAnswer(ctx, 1, 10, 42, "4"); !errors.Is(err, domain.ErrQuestionExpired) {
		t.Fatalf("expected expired before first tick, got %v", err)
	}

	g.svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	if _, err := g.svc.SubmitAnswer(ctx, 1, 99, qid, "4"); !errors.Is(err, domain.ErrPlayerNotInRoom) {
		t.Fatalf("expected player not in room, got %v", err)
	}

	// Stale question ID from a previous round.
	if _, err := g.svc.SubmitAnswer(ctx, 1, 10, qid+100, "4"); !errors.Is(err, domain.ErrQuestionExpired) {
		t.Fatalf("expected expired for stale id, got %v", err)
	}
}

func TestSubmitAnswerAfterTTLExpiry(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)
	g.svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	g.clock.Advance(31 * time.Second)
	if _, err := g.svc.SubmitAnswer(ctx, 1, 10, qid, "4"); !errors.Is(err, domain.ErrQuestionExpired) {
		t.Fatalf("expected expired after TTL, got %v", err)
	}
}

func TestEarlyAdvanceWhenAllAnswered(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)
	g.svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	if _, err := g.svc.SubmitAnswer(ctx, 1, 10, qid, "4"); err != nil {
		t.Fatalf("submit u10: %v", err)
	}
	if g.sched.triggerCount() != 0 {
		t.Fatalf("expected no early advance after first answer")
	}
	if _, err := g.svc.SubmitAnswer(ctx, 1, 20, qid, "3"); err != nil {
		t.Fatalf("submit u20: %v", err)
	}

	if g.sched.triggerCount() != 1 {
		t.Fatalf("expected early advance trigger, got %d", g.sched.triggerCount())
	}
	live, err := g.state.HasActiveQuestion(ctx, 1)
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if live {
		t.Fatalf("expected active question cleared after full answer set")
	}
}

func TestNoQuestionsEndsGame(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)
	g.bank.Remove(1)
	g.bank.Remove(2)

	g.svc.Tick(ctx, 1)

	room, _ := g.rooms.FindRoom(ctx, 1)
	if room.Status != domain.StatusCompleted {
		t.Fatalf("expected completed room, got %s", room.Status)
	}
	if len(g.bus.roomEvents("game.end")) != 1 {
		t.Fatalf("expected game.end broadcast")
	}
	errs := g.bus.playerEvents(10)
	if len(errs) == 0 {
		t.Fatalf("expected host notified about empty question bank")
	}
}

func TestLeaderboardTieBreakByJoinOrder(t *testing.T) {
	players := []domain.RoomPlayer{
		{ID: 1, UserID: 1, Name: "first", Score: 30},
		{ID: 2, UserID: 2, Name: "second", Score: 30},
		{ID: 3, UserID: 3, Name: "third", Score: 10},
	}
	lb := app.Leaderboard(players)
	if len(lb) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(lb))
	}
	if lb[0].UserID != 1 || lb[0].Rank != 1 {
		t.Fatalf("expected first joiner to win the tie, got %+v", lb[0])
	}
	if lb[1].UserID != 2 || lb[1].Rank != 2 {
		t.Fatalf("expected second joiner ranked 2, got %+v", lb[1])
	}
	if lb[2].UserID != 3 || lb[2].Rank != 3 {
		t.Fatalf("expected third ranked 3, got %+v", lb[2])
	}
}

func TestTickStopsWhenRoomGone(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)

	room, _ := g.rooms.FindRoom(ctx, 1)
	room.Status = domain.StatusCompleted
	_ = g.rooms.SaveRoom(ctx, room)

	g.svc.Tick(ctx, 1)

	if len(g.sched.canceled) != 1 {
		t.Fatalf("expected scheduler entry canceled, got %v", g.sched.canceled)
	}
	if got := len(g.bus.roomEvents("game.question")); got != 0 {
		t.Fatalf("expected no question for a completed room, got %d", got)
	}
}

func (g *testGame) flakyService() (*flakyRoomStore, *app.GameService) {
	flaky := &flakyRoomStore{RoomStore: g.rooms}
	svc := app.NewGameService(flaky, g.games, g.bank, g.state, g.bus, g.rules, zerolog.Nop())
	svc.UseScheduler(g.sched)
	svc.SetClock(g.clock.Now)
	return flaky, svc
}

func TestTickRetriesAfterTransientStoreError(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	flaky, svc := g.flakyService()
	if err := svc.StartGame(ctx, 1, 10); err != nil {
		t.Fatalf("start game: %v", err)
	}

	flaky.mu.Lock()
	flaky.roomFails = 1
	flaky.mu.Unlock()

	svc.Tick(ctx, 1)

	if len(g.sched.canceled) != 0 {
		t.Fatalf("transient store failure must not cancel the room, got %v", g.sched.canceled)
	}
	if got := len(g.bus.roomEvents("game.question")); got != 0 {
		t.Fatalf("expected no question during the outage, got %d", got)
	}
	room, err := g.rooms.FindRoom(ctx, 1)
	if err != nil || room.Status != domain.StatusInProgress {
		t.Fatalf("expected game still in progress, status=%s err=%v", room.Status, err)
	}

	// Next tick finds the store healthy again and proceeds.
	svc.Tick(ctx, 1)
	if got := len(g.bus.roomEvents("game.question")); got != 1 {
		t.Fatalf("expected question after recovery, got %d", got)
	}
}

func TestStartGamePropagatesStoreError(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	flaky, svc := g.flakyService()

	flaky.mu.Lock()
	flaky.roomFails = 1
	flaky.mu.Unlock()

	err := svc.StartGame(ctx, 1, 10)
	if !errors.Is(err, errConnReset) {
		t.Fatalf("expected the store error back, got %v", err)
	}
	if errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("store failure must not read as a missing room")
	}
	if got := g.bus.playerEvents(10); len(got) != 0 {
		t.Fatalf("expected no player.error for a store failure, got %v", got)
	}

	if err := svc.StartGame(ctx, 1, 10); err != nil {
		t.Fatalf("start after recovery: %v", err)
	}
}

func TestSubmitAnswerPropagatesStoreError(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	flaky, svc := g.flakyService()
	if err := svc.StartGame(ctx, 1, 10); err != nil {
		t.Fatalf("start game: %v", err)
	}
	svc.Tick(ctx, 1)
	qid := g.liveQuestionID(t)

	flaky.mu.Lock()
	flaky.playerFails = 1
	flaky.mu.Unlock()

	_, err := svc.SubmitAnswer(ctx, 1, 10, qid, "4")
	if !errors.Is(err, errConnReset) {
		t.Fatalf("expected the store error back, got %v", err)
	}
	if errors.Is(err, domain.ErrPlayerNotInRoom) {
		t.Fatalf("store failure must not read as an unknown player")
	}

	// The failed pass recorded nothing, so the retry scores normally.
	outcome, err := svc.SubmitAnswer(ctx, 1, 10, qid, "4")
	if err != nil {
		t.Fatalf("submit after recovery: %v", err)
	}
	if !outcome.Correct {
		t.Fatalf("expected correct answer on retry, got %+v", outcome)
	}
}

func TestTwoRoundGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	g := newTestGame(t)
	g.mustStart(t)

	// Round 1: both answer correctly, the faster player scoring higher.
	g.svc.Tick(ctx, 1)
	q1 := g.liveQuestionID(t)
	g.clock.Advance(2 * time.Second)
	fast, err := g.svc.SubmitAnswer(ctx, 1, 10, q1, answerFor(t, g, q1))
	if err != nil {
		t.Fatalf("round 1 fast: %v", err)
	}
	g.clock.Advance(3 * time.Second)
	slow, err := g.svc.SubmitAnswer(ctx, 1, 20, q1, answerFor(t, g, q1))
	if err != nil {
		t.Fatalf("round 1 slow: %v", err)
	}
	if fast.Awarded <= slow.Awarded {
		t.Fatalf("expected decay ordering, got fast=%d slow=%d", fast.Awarded, slow.Awarded)
	}
	if g.sched.triggerCount() != 1 {
		t.Fatalf("expected early advance after full answer set")
	}

	// Round 2 fires immediately via the out-of-band tick; only one player answers.
	g.svc.Tick(ctx, 1)
	results1 := g.bus.roomEvents("game.round.results")
	if len(results1) != 1 {
		t.Fatalf("expected round 1 results before round 2, got %d", len(results1))
	}
	q2 := g.liveQuestionID(t)
	if q2 == q1 {
		t.Fatalf("expected a fresh question instance")
	}
	g.clock.Advance(2 * time.Second)
	if _, err := g.svc.SubmitAnswer(ctx, 1, 10, q2, "wrong option"); err != nil {
		t.Fatalf("round 2 answer: %v", err)
	}

	// Timer expires with one non-answer, round budget exhausted.
	g.clock.Advance(31 * time.Second)
	g.svc.Tick(ctx, 1)

	results := g.bus.roomEvents("game.round.results")
	if len(results) != 2 {
		t.Fatalf("expected results for both rounds, got %d", len(results))
	}
	final := results[1].(domain.RoundResults)
	answered := 0
	for _, p := range final.Players {
		if p.Answered {
			answered++
		}
	}
	if answered != 1 {
		t.Fatalf("expected one unanswered player in final round, got %d answered", answered)
	}

	ends := g.bus.roomEvents("game.end")
	if len(ends) != 1 {
		t.Fatalf("expected exactly one game.end, got %d", len(ends))
	}
	lb := ends[0].(domain.GameEnd).Leaderboard
	if len(lb) != 2 || lb[0].UserID != 10 || lb[1].UserID != 20 {
		t.Fatalf("unexpected leaderboard: %+v", lb)
	}
	if lb[0].Score != fast.Awarded || lb[1].Score != slow.Awarded {
		t.Fatalf("unexpected final scores: %+v", lb)
	}

	room, _ := g.rooms.FindRoom(ctx, 1)
	if room.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", room.Status)
	}
}

func answerFor(t *testing.T, g *testGame, activeQuestionID int64) string {
	t.Helper()
	q, err := g.games.FindActiveQuestion(context.Background(), activeQuestionID)
	if err != nil {
		t.Fatalf("find active question: %v", err)
	}
	return q.Question.Answer
}
