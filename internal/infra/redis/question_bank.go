package redis

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"arena-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionSource is the backing store the cache fills from (Postgres in
// production, a static map in tests).
type QuestionSource interface {
	ListQuestionIDs(ctx context.Context, filter domain.QuestionFilter) ([]int64, error)
	FindQuestion(ctx context.Context, id int64) (domain.Question, error)
}

// QuestionBank serves random questions while caching the candidate ID set
// per filter in a Redis set:
//
//	SADD quiz:bank:{region}:{difficulty} {questionID...}
//
// Random picks use SRANDMEMBER; cache fills are singleflight-guarded and the
// TTL gets jitter so filters do not expire in lockstep.
type QuestionBank struct {
	client *redis.Client
	source QuestionSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionBank(client *redis.Client, source QuestionSource, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Random returns a random question matching the filter, or
// domain.ErrNoQuestionsAvailable when the bank has none.
func (b *QuestionBank) Random(ctx context.Context, filter domain.QuestionFilter) (domain.Question, error) {
	filter = filter.Normalized()
	key := b.bankKey(filter)

	id, err := b.randomMember(ctx, key)
	if err == nil && id != 0 {
		return b.source.FindQuestion(ctx, id)
	}
	if err != nil {
		return domain.Question{}, err
	}

	_, err, _ = b.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the set.
		if n, err := b.client.Exists(ctx, key).Result(); err == nil && n > 0 {
			return nil, nil
		}

		ids, err := b.source.ListQuestionIDs(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, domain.ErrNoQuestionsAvailable
		}

		members := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			members = append(members, strconv.FormatInt(id, 10))
		}
		pipe := b.client.Pipeline()
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, b.ttlWithJitter())
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return domain.Question{}, err
	}

	id, err = b.randomMember(ctx, key)
	if err != nil {
		return domain.Question{}, err
	}
	if id == 0 {
		return domain.Question{}, domain.ErrNoQuestionsAvailable
	}
	return b.source.FindQuestion(ctx, id)
}

// randomMember returns 0 with a nil error when the set is absent or empty.
func (b *QuestionBank) randomMember(ctx context.Context, key string) (int64, error) {
	v, err := b.client.SRandMember(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cached question id: %w", err)
	}
	return id, nil
}

func (b *QuestionBank) bankKey(filter domain.QuestionFilter) string {
	region := filter.Region
	if region == "" {
		region = "any"
	}
	difficulty := filter.Difficulty
	if difficulty == "" {
		difficulty = "any"
	}
	return "quiz:bank:" + region + ":" + difficulty
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
