package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/ports"
)

const (
	dlqKey        = "tgnms:poller:dlq"
	dlqMetaPrefix = "tgnms:poller:dlq:meta:"
)

var ErrNotInDLQ = errors.New("command not found in DLQ")

// DeadLetterQueue keeps commands that were rejected so that operators can
// inspect and resubmit them.
type DeadLetterQueue struct {
	client *redis.Client
}

var _ ports.CommandDeadLetter = (*DeadLetterQueue)(nil)

type DLQEntry struct {
	Command     domain.Command `json:"command"`
	FailureTime time.Time      `json:"failure_time"`
	Reason      string         `json:"reason"`
}

func NewDeadLetterQueue(client *redis.Client) *DeadLetterQueue {
	return &DeadLetterQueue{client: client}
}

// Add adds a rejected command to the DLQ. Commands without an id get one.
func (dlq *DeadLetterQueue) Add(ctx context.Context, cmd domain.Command, reason string) error {
	if cmd.ID == "" {
		cmd.ID = "cmd-" + uuid.New().String()
	}
	entry := DLQEntry{
		Command:     cmd,
		FailureTime: time.Now(),
		Reason:      reason,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	// Add to sorted set with timestamp as score
	score := float64(entry.FailureTime.Unix())
	if err := dlq.client.ZAdd(ctx, dlqKey, redis.Z{
		Score:  score,
		Member: cmd.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to DLQ: %w", err)
	}

	if err := dlq.client.Set(ctx, dlqMetaPrefix+cmd.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store DLQ metadata: %w", err)
	}

	return nil
}

// Get retrieves a command from the DLQ
func (dlq *DeadLetterQueue) Get(ctx context.Context, id string) (*DLQEntry, error) {
	data, err := dlq.client.Get(ctx, dlqMetaPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotInDLQ
		}
		return nil, fmt.Errorf("failed to get DLQ entry: %w", err)
	}

	var entry DLQEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DLQ entry: %w", err)
	}

	return &entry, nil
}

// List returns DLQ entries, newest first
func (dlq *DeadLetterQueue) List(ctx context.Context, offset, limit int64) ([]*DLQEntry, error) {
	ids, err := dlq.client.ZRevRange(ctx, dlqKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ: %w", err)
	}

	entries := make([]*DLQEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := dlq.Get(ctx, id)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (dlq *DeadLetterQueue) Remove(ctx context.Context, id string) error {
	if err := dlq.client.ZRem(ctx, dlqKey, id).Err(); err != nil {
		return fmt.Errorf("failed to remove from DLQ: %w", err)
	}
	if err := dlq.client.Del(ctx, dlqMetaPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to remove DLQ metadata: %w", err)
	}
	return nil
}

// Count returns the total number of commands in the DLQ
func (dlq *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	count, err := dlq.client.ZCard(ctx, dlqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count DLQ: %w", err)
	}
	return count, nil
}
