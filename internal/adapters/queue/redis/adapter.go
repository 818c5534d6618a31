package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
)

const (
	CommandQueueKey = "tgnms:poller:commands"
	ResultChannel   = "tgnms:poller:results"
)

// RedisAdapter carries commands from external REST layers on a list and
// broadcasts result messages on a pub/sub channel.
type RedisAdapter struct {
	client *redis.Client
}

var (
	_ ports.CommandQueue    = (*RedisAdapter)(nil)
	_ ports.CommandSource   = (*RedisAdapter)(nil)
	_ ports.ResultPublisher = (*RedisAdapter)(nil)
)

func NewRedisAdapter(url string) (*RedisAdapter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return &RedisAdapter{client: client}, client, nil
}

func NewRedisAdapterWithClient(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// Queue Implementation
func (r *RedisAdapter) Enqueue(ctx context.Context, cmd domain.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, CommandQueueKey, data).Err()
}

func (r *RedisAdapter) Dequeue(ctx context.Context) (*domain.Command, error) {
	// Short blocking pops so that cancellation is noticed promptly
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, err := r.client.BLPop(ctx, 1*time.Second, CommandQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		// res[0] is key, res[1] is value
		var cmd domain.Command
		if err := json.Unmarshal([]byte(res[1]), &cmd); err != nil {
			return nil, &DecodeError{Raw: res[1], Err: err}
		}
		return &cmd, nil
	}
}

// DecodeError reports a queued entry that is not a command.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode queued command: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Consume hands queued commands to handler until ctx is done. Undecodable
// entries are logged and dropped.
func (r *RedisAdapter) Consume(ctx context.Context, handler func(ctx context.Context, cmd domain.Command) error) error {
	logger.Info("Consuming commands from Redis", "key", CommandQueueKey)
	for {
		cmd, err := r.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				logger.Warn("Dropping malformed queued command", "error", decodeErr.Err)
				continue
			}
			logger.Error("Failed to dequeue command", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := handler(ctx, *cmd); err != nil {
			logger.Warn("Queued command failed", "id", cmd.ID, "type", cmd.Type, "error", err)
		}
	}
}

// PubSub Implementation
func (r *RedisAdapter) PublishResult(ctx context.Context, msg domain.ResultMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, ResultChannel, data).Err()
}

// SubscribeResults streams result messages for one network, or for all
// networks when name is empty.
func (r *RedisAdapter) SubscribeResults(ctx context.Context, name string) (<-chan domain.ResultMessage, error) {
	pubsub := r.client.Subscribe(ctx, ResultChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ResultChannel, err)
	}
	ch := make(chan domain.ResultMessage)

	go func() {
		defer pubsub.Close()
		defer close(ch)

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var msg domain.ResultMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				if name != "" && msg.Name != name {
					continue
				}
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
