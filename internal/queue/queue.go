// Package queue is the redis dispatch queue between the accrual scheduler
// loop and its worker pool. Due investment ids are scored by their window
// time so the longest-overdue work pops first, and in-flight ids are tracked
// so a crashed worker's claim can be requeued.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	accrualQueueKey    = "accrual_queue"
	accrualInFlightKey = "accrual_inflight"
)

// Client wraps the redis operations backing the accrual dispatch queue.
type Client struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewClient connects to redis and verifies the connection.
func NewClient(redisURL string, logger zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Msg("connected to redis")
	return &Client{
		client: client,
		logger: logger.With().Str("component", "queue").Logger(),
	}, nil
}

// PushInvestment enqueues an investment id scored by its due time. Re-adding
// an id already queued just updates its score, so a slow pass cannot
// duplicate work.
func (c *Client) PushInvestment(ctx context.Context, id uint, dueAt time.Time) error {
	err := c.client.ZAdd(ctx, accrualQueueKey, redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: formatID(id),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push investment to queue: %w", err)
	}
	c.logger.Debug().Uint("investment_id", id).Time("due_at", dueAt).Msg("investment queued")
	return nil
}

// PopInvestment removes and returns the longest-overdue investment id. A
// zero id means the queue is empty.
func (c *Client) PopInvestment(ctx context.Context) (uint, error) {
	result, err := c.client.ZPopMin(ctx, accrualQueueKey, 1).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to pop investment from queue: %w", err)
	}
	if len(result) == 0 {
		return 0, nil
	}

	id, err := parseID(result[0].Member.(string))
	if err != nil {
		return 0, fmt.Errorf("failed to parse queued investment id: %w", err)
	}
	c.logger.Debug().Uint("investment_id", id).Msg("investment popped")
	return id, nil
}

// SetInFlight marks an investment as being processed by a worker.
func (c *Client) SetInFlight(ctx context.Context, id uint, worker string) error {
	value := fmt.Sprintf("%s,%d", worker, time.Now().Unix())
	if err := c.client.HSet(ctx, accrualInFlightKey, formatID(id), value).Err(); err != nil {
		return fmt.Errorf("failed to set investment in-flight: %w", err)
	}
	return nil
}

// RemoveInFlight clears an investment's in-flight mark.
func (c *Client) RemoveInFlight(ctx context.Context, id uint) error {
	if err := c.client.HDel(ctx, accrualInFlightKey, formatID(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove investment from in-flight: %w", err)
	}
	return nil
}

// QueueLength returns the number of investments waiting in the queue.
func (c *Client) QueueLength(ctx context.Context) (int64, error) {
	length, err := c.client.ZCard(ctx, accrualQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// InFlight returns the in-flight map of investment id to "worker,unixtime".
func (c *Client) InFlight(ctx context.Context) (map[string]string, error) {
	result, err := c.client.HGetAll(ctx, accrualInFlightKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-flight investments: %w", err)
	}
	return result, nil
}

// RequeueStuck pushes investments that have been in-flight longer than
// timeout back onto the queue. The accrual claim makes reprocessing safe; a
// worker that already advanced the window leaves the requeued id a no-op.
func (c *Client) RequeueStuck(ctx context.Context, timeout time.Duration) error {
	inFlight, err := c.InFlight(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-timeout).Unix()
	requeued := 0
	for member, value := range inFlight {
		worker, startedAt, ok := parseInFlight(value)
		if !ok {
			c.logger.Warn().Str("member", member).Str("value", value).Msg("invalid in-flight value")
			continue
		}
		if startedAt >= cutoff {
			continue
		}

		id, err := parseID(member)
		if err != nil {
			c.logger.Warn().Str("member", member).Msg("invalid in-flight member")
			continue
		}
		if err := c.PushInvestment(ctx, id, time.Unix(startedAt, 0)); err != nil {
			c.logger.Error().Err(err).Uint("investment_id", id).Msg("failed to requeue stuck investment")
			continue
		}
		if err := c.RemoveInFlight(ctx, id); err != nil {
			c.logger.Error().Err(err).Uint("investment_id", id).Msg("failed to clear requeued in-flight mark")
		}
		requeued++
		c.logger.Info().
			Uint("investment_id", id).
			Str("worker", worker).
			Int64("stuck_seconds", time.Now().Unix()-startedAt).
			Msg("requeued stuck investment")
	}

	if requeued > 0 {
		c.logger.Info().Int("count", requeued).Msg("requeued stuck investments")
	}
	return nil
}

// Close closes the redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(member string) (uint, error) {
	id, err := strconv.ParseUint(member, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func parseInFlight(value string) (worker string, startedAt int64, ok bool) {
	i := strings.IndexByte(value, ',')
	if i < 0 {
		return "", 0, false
	}
	startedAt, err := strconv.ParseInt(value[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return value[:i], startedAt, true
}
