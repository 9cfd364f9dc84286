package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/triage/queue"
)

// readyScore orders the ready sorted set: higher priority first, earlier
// eligibility as the tiebreak. Priorities fit well under the 1000 band.
const priorityBand = 1000

func readyScore(priority int, eligible float64) float64 {
	return float64(priorityBand-priority)*1e10 + eligible
}

// dequeueScript promotes due jobs from the delayed set into the ready set,
// then atomically claims up to the limit in ready order.
// KEYS[1] = delayed zset, KEYS[2] = ready zset, KEYS[3] = priority hash,
// KEYS[4] = active set
// ARGV[1] = now (unix seconds), ARGV[2] = limit, ARGV[3] = priority band
var dequeueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES')
for i = 1, #due, 2 do
    local id = due[i]
    local eligible = tonumber(due[i+1])
    local prio = tonumber(redis.call('HGET', KEYS[3], id)) or 0
    local score = (tonumber(ARGV[3]) - prio) * 1e10 + eligible
    redis.call('ZADD', KEYS[2], score, id)
    redis.call('ZREM', KEYS[1], id)
end
local ids = redis.call('ZRANGE', KEYS[2], 0, tonumber(ARGV[2]) - 1)
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[2], id)
    redis.call('SADD', KEYS[4], id)
end
return ids
`)

// Enqueue implements queue.Store. SetNX on the job key makes resubmission
// of a known delivery a no-op.
func (s *Store) Enqueue(ctx context.Context, j *queue.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("triage/redis: marshal job: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, entityKey(prefixJob, j.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("triage/redis: enqueue job: %w", err)
	}
	if !created {
		return nil
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, hJobPriority, j.ID, j.Priority)
	pipe.ZAdd(ctx, zJobsDelayed, goredis.Z{Score: scoreFromTime(j.NextAttemptAt), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("triage/redis: enqueue job indexes: %w", err)
	}
	return nil
}

// Dequeue implements queue.Store.
func (s *Store) Dequeue(ctx context.Context, at time.Time, limit int) ([]*queue.Job, error) {
	nowScore := fmt.Sprintf("%f", scoreFromTime(at))
	keys := []string{zJobsDelayed, zJobsReady, hJobPriority, sJobsActive}
	ids, err := dequeueScript.Run(ctx, s.rdb, keys, nowScore, limit, priorityBand).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("triage/redis: dequeue script: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for _, jobID := range ids {
		var j queue.Job
		if err := s.getEntity(ctx, entityKey(prefixJob, jobID), &j); err != nil {
			if isNotFound(err) {
				s.rdb.SRem(ctx, sJobsActive, jobID)
				continue
			}
			return nil, fmt.Errorf("triage/redis: dequeue get: %w", err)
		}

		j.State = queue.StateActive
		j.Touch()
		if err := s.setEntity(ctx, entityKey(prefixJob, jobID), &j); err != nil {
			return nil, fmt.Errorf("triage/redis: dequeue update: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// UpdateJob implements queue.Store. A job returned to pending re-enters the
// delayed set at its NextAttemptAt.
func (s *Store) UpdateJob(ctx context.Context, j *queue.Job) error {
	key := entityKey(prefixJob, j.ID)
	if n, err := s.rdb.Exists(ctx, key).Result(); err != nil {
		return fmt.Errorf("triage/redis: update job: %w", err)
	} else if n == 0 {
		return queue.ErrJobNotFound
	}

	j.Touch()
	if err := s.setEntity(ctx, key, j); err != nil {
		return fmt.Errorf("triage/redis: update job: %w", err)
	}

	if j.State == queue.StatePending {
		pipe := s.rdb.Pipeline()
		pipe.SRem(ctx, sJobsActive, j.ID)
		pipe.ZAdd(ctx, zJobsDelayed, goredis.Z{Score: scoreFromTime(j.NextAttemptAt), Member: j.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("triage/redis: update job indexes: %w", err)
		}
	}
	return nil
}

// CompleteJob implements queue.Store.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	return s.removeJob(ctx, jobID, counterCompleted)
}

// MarkDead implements queue.Store.
func (s *Store) MarkDead(ctx context.Context, j *queue.Job) error {
	return s.removeJob(ctx, j.ID, counterFailed)
}

func (s *Store) removeJob(ctx context.Context, jobID, counter string) error {
	deleted, err := s.rdb.Del(ctx, entityKey(prefixJob, jobID)).Result()
	if err != nil {
		return fmt.Errorf("triage/redis: remove job: %w", err)
	}
	if deleted == 0 {
		return queue.ErrJobNotFound
	}

	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, sJobsActive, jobID)
	pipe.ZRem(ctx, zJobsDelayed, jobID)
	pipe.ZRem(ctx, zJobsReady, jobID)
	pipe.HDel(ctx, hJobPriority, jobID)
	pipe.Incr(ctx, counter)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("triage/redis: remove job indexes: %w", err)
	}
	return nil
}

// QueueStats implements queue.Store.
func (s *Store) QueueStats(ctx context.Context) (queue.Stats, error) {
	pipe := s.rdb.Pipeline()
	delayed := pipe.ZCard(ctx, zJobsDelayed)
	ready := pipe.ZCard(ctx, zJobsReady)
	active := pipe.SCard(ctx, sJobsActive)
	completed := pipe.Get(ctx, counterCompleted)
	failed := pipe.Get(ctx, counterFailed)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return queue.Stats{}, fmt.Errorf("triage/redis: queue stats: %w", err)
	}

	stats := queue.Stats{
		Waiting: delayed.Val() + ready.Val(),
		Active:  active.Val(),
	}
	if n, err := completed.Int64(); err == nil {
		stats.Completed = n
	}
	if n, err := failed.Int64(); err == nil {
		stats.Failed = n
	}
	return stats, nil
}
