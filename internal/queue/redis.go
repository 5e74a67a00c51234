package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueueName = "runwarden:runs"
)

// RedisClient implements Client using a Redis list
type RedisClient struct {
	client    *redis.Client
	queueName string
}

// NewRedisClient creates a new Redis queue client. An empty queueName uses DefaultQueueName
func NewRedisClient(addr, password string, db int, queueName string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisClient{client: client, queueName: queueName}, nil
}

// Redis exposes the underlying connection so other components can share it
func (r *RedisClient) Redis() *redis.Client {
	return r.client
}

// Publish sends a run message to the queue
func (r *RedisClient) Publish(ctx context.Context, message RunMessage) error {
	if err := message.Validate(); err != nil {
		return err
	}
	if message.PublishedAt.IsZero() {
		message.PublishedAt = time.Now().UTC()
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.queueName, data).Err()
}

// Subscribe listens for messages and processes them with the handler until ctx is done. One
// client can only be subscribed once
func (r *RedisClient) Subscribe(ctx context.Context, handler func(RunMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := r.getNewMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().
					Err(err).
					Msg("Error encountered when fetching message from queue")
				sleepCtx(ctx, time.Second)
				continue
			}
			if message == nil {
				continue
			}

			if err := processMessage(handler, *message); err != nil {
				log.Error().
					Err(err).
					Str("run_id", message.RunID).
					Str("reason", string(message.Reason)).
					Msg("Error encountered when processing message")
			}
		}
	}
}

func (r *RedisClient) getNewMessage(ctx context.Context) (*RunMessage, error) {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No message available
			return nil, nil
		}
		return nil, fmt.Errorf("BLPOP from redis queue went bad. %w", err)
	}

	// Invalid message, this shouldn't usually happen
	if len(result) < 2 {
		return nil, nil
	}

	var message RunMessage
	if err := json.Unmarshal([]byte(result[1]), &message); err != nil {
		return nil, fmt.Errorf("could not parse message into RunMessage. %w", err)
	}
	return &message, nil
}

func processMessage(handler func(RunMessage) error, message RunMessage) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			log.Error().Interface("panic", rcv).Str("run_id", message.RunID).Msg("Handler panicked")

			err = fmt.Errorf("handler panicked: %v", rcv)
		}
	}()

	return handler(message)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Close terminates the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
