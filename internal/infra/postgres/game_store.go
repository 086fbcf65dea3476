package postgres

import (
	"context"
	"errors"
	"fmt"

	"arena-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// GameStore persists active-question instances and answer attempts. The
// unique index on (player_id, active_question_id) is the hard idempotency
// backstop behind the pre-insert existence check.
type GameStore struct {
	pool *pgxpool.Pool
}

func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

func (s *GameStore) SaveActiveQuestion(ctx context.Context, q *domain.ActiveQuestion) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO active_questions (room_id, question_id, round_number, sent_at)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		q.RoomID, q.Question.ID, q.RoundNumber, q.SentAt).
		Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("insert active question: %w", err)
	}
	return nil
}

func (s *GameStore) FindActiveQuestion(ctx context.Context, id int64) (domain.ActiveQuestion, error) {
	return s.scanQuestion(ctx, `
		SELECT aq.id, aq.room_id, aq.round_number, aq.sent_at,
		       q.id, q.prompt, q.options, q.answer, q.region, q.difficulty
		FROM active_questions aq JOIN questions q ON q.id = aq.question_id
		WHERE aq.id=$1`, id)
}

func (s *GameStore) FindQuestionForRound(ctx context.Context, roomID int64, round int) (domain.ActiveQuestion, error) {
	return s.scanQuestion(ctx, `
		SELECT aq.id, aq.room_id, aq.round_number, aq.sent_at,
		       q.id, q.prompt, q.options, q.answer, q.region, q.difficulty
		FROM active_questions aq JOIN questions q ON q.id = aq.question_id
		WHERE aq.room_id=$1 AND aq.round_number=$2
		ORDER BY aq.id DESC LIMIT 1`, roomID, round)
}

func (s *GameStore) scanQuestion(ctx context.Context, query string, args ...interface{}) (domain.ActiveQuestion, error) {
	var aq domain.ActiveQuestion
	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&aq.ID, &aq.RoomID, &aq.RoundNumber, &aq.SentAt,
			&aq.Question.ID, &aq.Question.Prompt, &aq.Question.Options,
			&aq.Question.Answer, &aq.Question.Region, &aq.Question.Difficulty)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActiveQuestion{}, domain.ErrQuestionExpired
	}
	if err != nil {
		return domain.ActiveQuestion{}, fmt.Errorf("find active question: %w", err)
	}
	return aq, nil
}

func (s *GameStore) AttemptExists(ctx context.Context, playerID, activeQuestionID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attempts WHERE player_id=$1 AND active_question_id=$2
		)`, playerID, activeQuestionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attempt: %w", err)
	}
	return exists, nil
}

func (s *GameStore) SaveAttempt(ctx context.Context, attempt *domain.Attempt) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO attempts (player_id, active_question_id, selected_option, correct, answered_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		attempt.PlayerID, attempt.ActiveQuestionID, attempt.SelectedOption,
		attempt.Correct, attempt.AnsweredAt).
		Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *GameStore) AttemptsForQuestion(ctx context.Context, activeQuestionID int64) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, player_id, active_question_id, selected_option, correct, answered_at
		FROM attempts WHERE active_question_id=$1 ORDER BY answered_at`, activeQuestionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.ID, &a.PlayerID, &a.ActiveQuestionID, &a.SelectedOption, &a.Correct, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}
