package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the canonical rows in a Redis hash so every server
// instance reads the same snapshot.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type storedRow struct {
	RowIndex int               `json:"rowIndex"`
	Cells    map[string]string `json:"cells"`
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "sheet:"}
}

func (s *RedisStore) rowsKey() string      { return s.prefix + "rows" }
func (s *RedisStore) refreshedKey() string { return s.prefix + "refreshed_at" }

func (s *RedisStore) ReplaceAll(ctx context.Context, rows []Property, refreshedAt time.Time) error {
	fields := make(map[string]any, len(rows))
	for _, p := range rows {
		data, err := json.Marshal(storedRow{RowIndex: p.RowIndex, Cells: p.Cells()})
		if err != nil {
			return fmt.Errorf("marshal row %s: %w", p.ID, err)
		}
		fields[p.ID] = data
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.rowsKey())
	if len(fields) > 0 {
		pipe.HSet(ctx, s.rowsKey(), fields)
	}
	pipe.Set(ctx, s.refreshedKey(), refreshedAt.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace rows: %w", err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) ([]Property, time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.rowsKey()).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load rows: %w", err)
	}

	out := make([]Property, 0, len(raw))
	for id, data := range raw {
		p, err := decodeRow(data)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("decode row %s: %w", id, err)
		}
		out = append(out, p)
	}
	sortByRow(out)

	var refreshedAt time.Time
	if ts, err := s.client.Get(ctx, s.refreshedKey()).Result(); err == nil {
		refreshedAt, _ = time.Parse(time.RFC3339Nano, ts)
	} else if !errors.Is(err, redis.Nil) {
		return nil, time.Time{}, fmt.Errorf("load refresh time: %w", err)
	}

	return out, refreshedAt, nil
}

// Get returns (nil, nil) when the item is unknown
func (s *RedisStore) Get(ctx context.Context, itemID string) (*Property, error) {
	data, err := s.client.HGet(ctx, s.rowsKey(), itemID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load row %s: %w", itemID, err)
	}
	p, err := decodeRow(data)
	if err != nil {
		return nil, fmt.Errorf("decode row %s: %w", itemID, err)
	}
	return &p, nil
}

// SetCell updates one field under WATCH so a concurrent refresh or
// write to the same row is not lost.
func (s *RedisStore) SetCell(ctx context.Context, itemID, field, raw string) error {
	key := s.rowsKey()
	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, itemID).Result()
		if errors.Is(err, redis.Nil) {
			return ErrRowNotFound
		}
		if err != nil {
			return err
		}

		var row storedRow
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return err
		}
		if row.Cells == nil {
			row.Cells = make(map[string]string)
		}
		row.Cells[field] = raw

		updated, err := json.Marshal(row)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, itemID, updated)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("set cell %s.%s: too much contention", itemID, field)
}

func decodeRow(data string) (Property, error) {
	var row storedRow
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return Property{}, err
	}
	return NewProperty(row.RowIndex, row.Cells), nil
}
