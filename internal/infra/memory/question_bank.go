package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"arena-quiz-service/internal/domain"
)

// StaticQuestionBank serves random questions from an in-memory slice
// (useful for tests/demos). It also satisfies the redis cache's
// QuestionSource so the two can be stacked.
type StaticQuestionBank struct {
	mu        sync.RWMutex
	questions []domain.Question
	rnd       *rand.Rand
}

func NewStaticQuestionBank(questions []domain.Question) *StaticQuestionBank {
	return &StaticQuestionBank{
		questions: questions,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *StaticQuestionBank) Random(_ context.Context, filter domain.QuestionFilter) (domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	matches := b.matchesLocked(filter)
	if len(matches) == 0 {
		return domain.Question{}, domain.ErrNoQuestionsAvailable
	}
	return matches[b.rnd.Intn(len(matches))], nil
}

func (b *StaticQuestionBank) ListQuestionIDs(_ context.Context, filter domain.QuestionFilter) ([]int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	matches := b.matchesLocked(filter)
	ids := make([]int64, 0, len(matches))
	for _, q := range matches {
		ids = append(ids, q.ID)
	}
	return ids, nil
}

func (b *StaticQuestionBank) FindQuestion(_ context.Context, id int64) (domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, q := range b.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrNoQuestionsAvailable
}

// Remove drops a question from the bank, letting tests exhaust it.
func (b *StaticQuestionBank) Remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.questions[:0]
	for _, q := range b.questions {
		if q.ID != id {
			out = append(out, q)
		}
	}
	b.questions = out
}

func (b *StaticQuestionBank) matchesLocked(filter domain.QuestionFilter) []domain.Question {
	filter = filter.Normalized()
	var out []domain.Question
	for _, q := range b.questions {
		if filter.Region != "" && q.Region != filter.Region {
			continue
		}
		if filter.Difficulty != "" && q.Difficulty != filter.Difficulty {
			continue
		}
		out = append(out, q)
	}
	return out
}
