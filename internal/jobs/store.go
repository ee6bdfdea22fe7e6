package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store はタスク記録と設定の永続化先です。
type Store interface {
	// Create は新しい記録を保存します。
	Create(ctx context.Context, record *Record) error
	// Get は記録を返します。存在しなければ nil, nil です。
	Get(ctx context.Context, taskID string) (*Record, error)
	// Update は記録を読み出して mutate を適用し、一回の操作として保存します。
	Update(ctx context.Context, taskID string, mutate func(*Record)) (*Record, error)
	// List は作成日時の新しい順に記録を返します。
	List(ctx context.Context) ([]*Record, error)
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
	Close() error
}

const (
	taskKeyPrefix = "task:"
	taskIndexKey  = "tasks"
	settingsKey   = "settings"
	maxTxRetries  = 16
)

// RedisStore はタスク記録を Redis に JSON で保存します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。ttl が 0 なら期限なしで保存します。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create は記録を保存し、一覧用のインデックスに登録します。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.TaskID == "" {
		return fmt.Errorf("record with taskId is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, taskKey(record.TaskID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task already exists: %s", record.TaskID)
	}
	return s.rdb.ZAdd(ctx, taskIndexKey, redis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.TaskID,
	}).Err()
}

// Get はタスク記録を取得します。
func (s *RedisStore) Get(ctx context.Context, taskID string) (*Record, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskID is required")
	}
	data, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Update は WATCH による楽観ロックで記録を更新します。
func (s *RedisStore) Update(ctx context.Context, taskID string, mutate func(*Record)) (*Record, error) {
	key := taskKey(taskID)
	var updated Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		ttl := s.ttl
		if ttl == 0 {
			ttl = redis.KeepTTL
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err == nil {
			updated = record
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("update %s: too many concurrent modifications", taskID)
}

// List はインデックスに登録された記録を新しい順に返します。期限切れの記録は除きます。
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.rdb.ZRevRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(ids))
	var stale []any
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			stale = append(stale, id)
			continue
		}
		records = append(records, record)
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, taskIndexKey, stale...).Err()
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// GetSettings は保存済みの設定を返します。未保存なら既定値です。
func (s *RedisStore) GetSettings(ctx context.Context) (Settings, error) {
	data, err := s.rdb.Get(ctx, settingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DefaultSettings(), nil
		}
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings.WithDefaults(), nil
}

// SaveSettings は設定を保存します。
func (s *RedisStore) SaveSettings(ctx context.Context, settings Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, settingsKey, payload, 0).Err()
}

// Close は接続を閉じます。
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}
