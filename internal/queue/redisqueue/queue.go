// Package redisqueue provides a job queue kept in Redis, shared by every
// deploytrigger instance and the build system polling it.
//
// The queue is one list of "<application>/<job>" members. A set per
// application holds its queued job types so that RemoveAll does not scan the
// list. Each operation runs as a Lua script and is atomic. Calls go through a
// circuit breaker, so an unavailable Redis fails fast instead of stalling
// every decision on connection timeouts.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/deploytrigger/internal/circuitbreaker"
	"github.com/djlord-it/deploytrigger/internal/domain"
)

const breakerKey = "redis-queue"

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "deploytrigger:queue"

var enqueueScript = redis.NewScript(`
local found = redis.call('LPOS', KEYS[1], ARGV[1])
if found then
  if ARGV[3] == '0' then return 0 end
  redis.call('LREM', KEYS[1], 0, ARGV[1])
end
if ARGV[3] == '1' then
  redis.call('LPUSH', KEYS[1], ARGV[1])
else
  redis.call('RPUSH', KEYS[1], ARGV[1])
end
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

var removeAllScript = redis.NewScript(`
local jobs = redis.call('SMEMBERS', KEYS[2])
for _, job in ipairs(jobs) do
  redis.call('LREM', KEYS[1], 0, ARGV[1] .. '/' .. job)
end
redis.call('DEL', KEYS[2])
return #jobs
`)

var takeScript = redis.NewScript(`
local taken = {}
for i = 1, tonumber(ARGV[1]) do
  local member = redis.call('LPOP', KEYS[1])
  if not member then break end
  local sep = string.find(member, '/[^/]*$')
  redis.call('SREM', ARGV[2] .. string.sub(member, 1, sep - 1), string.sub(member, sep + 1))
  taken[#taken + 1] = member
end
return taken
`)

// Queue is a job queue backed by Redis.
type Queue struct {
	client  *redis.Client
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
}

// New creates a queue storing its keys under prefix.
func New(client *redis.Client, prefix string, breaker *circuitbreaker.CircuitBreaker) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{client: client, prefix: prefix, breaker: breaker}
}

func (q *Queue) listKey() string {
	return q.prefix + ":jobs"
}

func (q *Queue) appKeyPrefix() string {
	return q.prefix + ":app:"
}

func (q *Queue) appKey(id domain.ApplicationID) string {
	return q.appKeyPrefix() + string(id)
}

func member(id domain.ApplicationID, jobType domain.JobType) string {
	return string(id) + "/" + string(jobType)
}

func parseMember(m string) (domain.QueuedJob, error) {
	i := strings.LastIndex(m, "/")
	if i <= 0 || i == len(m)-1 {
		return domain.QueuedJob{}, fmt.Errorf("malformed queue member %q", m)
	}
	return domain.QueuedJob{ApplicationID: domain.ApplicationID(m[:i]), JobType: domain.JobType(m[i+1:])}, nil
}

func (q *Queue) do(fn func() error) error {
	if q.breaker == nil {
		return fn()
	}
	return q.breaker.Do(breakerKey, fn)
}

// Enqueue adds a job, at the head of the queue if first is set. A job which
// is already queued stays where it is unless first is set.
func (q *Queue) Enqueue(ctx context.Context, id domain.ApplicationID, jobType domain.JobType, first bool) error {
	atHead := "0"
	if first {
		atHead = "1"
	}
	err := q.do(func() error {
		return enqueueScript.Run(ctx, q.client,
			[]string{q.listKey(), q.appKey(id)},
			member(id, jobType), string(jobType), atHead,
		).Err()
	})
	if err != nil {
		return fmt.Errorf("redis enqueue %s: %w", member(id, jobType), err)
	}
	return nil
}

// RemoveAll drops every queued job of the application.
func (q *Queue) RemoveAll(ctx context.Context, id domain.ApplicationID) error {
	err := q.do(func() error {
		return removeAllScript.Run(ctx, q.client,
			[]string{q.listKey(), q.appKey(id)},
			string(id),
		).Err()
	})
	if err != nil {
		return fmt.Errorf("redis remove jobs of %s: %w", id, err)
	}
	return nil
}

// Jobs returns the application's queued jobs in queue order.
func (q *Queue) Jobs(ctx context.Context, id domain.ApplicationID) ([]domain.JobType, error) {
	var members []string
	err := q.do(func() error {
		var err error
		members, err = q.client.LRange(ctx, q.listKey(), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis list jobs: %w", err)
	}

	jobs := []domain.JobType{}
	for _, m := range members {
		job, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		if job.ApplicationID == id {
			jobs = append(jobs, job.JobType)
		}
	}
	return jobs, nil
}

// Take removes and returns up to n jobs from the head of the queue.
func (q *Queue) Take(ctx context.Context, n int) ([]domain.QueuedJob, error) {
	if n <= 0 {
		return []domain.QueuedJob{}, nil
	}
	var members []string
	err := q.do(func() error {
		var err error
		members, err = takeScript.Run(ctx, q.client, []string{q.listKey()}, n, q.appKeyPrefix()).StringSlice()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis take jobs: %w", err)
	}

	taken := make([]domain.QueuedJob, 0, len(members))
	for _, m := range members {
		job, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		taken = append(taken, job)
	}
	return taken, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := q.do(func() error {
		var err error
		n, err = q.client.LLen(ctx, q.listKey()).Result()
		return err
	})
	return n, err
}
