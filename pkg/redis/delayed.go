package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Delayed holds jobs scheduled for future delivery in a sorted set scored by
// delivery time. A mover loop promotes due jobs onto the work stream.
type Delayed struct {
	client *Client
	key    string
}

// NewDelayed creates a delayed-delivery set under the given key
func NewDelayed(client *Client, key string) *Delayed {
	return &Delayed{client: client, key: key}
}

// Add schedules a job for delivery at deliverAt.
func (d *Delayed) Add(ctx context.Context, job *JobMessage, deliverAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal delayed job: %w", err)
	}

	err = d.client.rdb.ZAdd(ctx, d.key, redis.Z{
		Score:  float64(deliverAt.UnixMilli()),
		Member: string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}

	d.client.logger.WithContext(ctx).Debugf("Scheduled job %s (%s) for %s", job.ID, job.Type, deliverAt.Format(time.RFC3339))
	return nil
}

// popDueScript atomically removes and returns members whose score has come
// due, so concurrent movers never deliver the same job twice.
var popDueScript = redis.NewScript(`
	local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
	for _, member in ipairs(due) do
		redis.call("ZREM", KEYS[1], member)
	end
	return due
`)

// PopDue removes and returns up to limit jobs due at or before now.
func (d *Delayed) PopDue(ctx context.Context, now time.Time, limit int) ([]*JobMessage, error) {
	result, err := popDueScript.Run(ctx, d.client.rdb, []string{d.key},
		now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to pop due jobs: %w", err)
	}

	jobs := make([]*JobMessage, 0, len(result))
	for _, raw := range result {
		var job JobMessage
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			d.client.logger.WithContext(ctx).WithError(err).Warn("Dropping undecodable delayed job")
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Len returns the number of jobs waiting for delivery.
func (d *Delayed) Len(ctx context.Context) (int64, error) {
	return d.client.rdb.ZCard(ctx, d.key).Result()
}
