package postgres

import (
	"context"
	"errors"
	"fmt"

	"arena-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionBank serves random questions straight from Postgres. It also
// satisfies the redis cache's QuestionSource so the two can be stacked in
// the server wiring.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) Random(ctx context.Context, filter domain.QuestionFilter) (domain.Question, error) {
	filter = filter.Normalized()
	var q domain.Question
	err := b.pool.QueryRow(ctx, `
		SELECT id, prompt, options, answer, region, difficulty
		FROM questions
		WHERE ($1 = '' OR region = $1) AND ($2 = '' OR difficulty = $2)
		ORDER BY random() LIMIT 1`, filter.Region, filter.Difficulty).
		Scan(&q.ID, &q.Prompt, &q.Options, &q.Answer, &q.Region, &q.Difficulty)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrNoQuestionsAvailable
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("random question: %w", err)
	}
	return q, nil
}

func (b *QuestionBank) ListQuestionIDs(ctx context.Context, filter domain.QuestionFilter) ([]int64, error) {
	filter = filter.Normalized()
	rows, err := b.pool.Query(ctx, `
		SELECT id FROM questions
		WHERE ($1 = '' OR region = $1) AND ($2 = '' OR difficulty = $2)`,
		filter.Region, filter.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan question id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question ids: %w", err)
	}
	return ids, nil
}

func (b *QuestionBank) FindQuestion(ctx context.Context, id int64) (domain.Question, error) {
	var q domain.Question
	err := b.pool.QueryRow(ctx, `
		SELECT id, prompt, options, answer, region, difficulty
		FROM questions WHERE id=$1`, id).
		Scan(&q.ID, &q.Prompt, &q.Options, &q.Answer, &q.Region, &q.Difficulty)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrNoQuestionsAvailable
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("find question: %w", err)
	}
	return q, nil
}
