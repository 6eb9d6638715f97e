package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
)

// ErrNotFound is returned when a target or position id is unknown.
var ErrNotFound = errors.New("not found")

// RedisConfig configures the Redis-backed stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient creates the shared Redis client.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisTargetStore persists snipe targets as JSON values with per-status
// index sets, so status listings avoid scans.
type RedisTargetStore struct {
	cli    *redis.Client
	prefix string
}

// NewRedisTargetStore creates a target store.
func NewRedisTargetStore(cli *redis.Client, prefix string) *RedisTargetStore {
	return &RedisTargetStore{cli: cli, prefix: prefix}
}

func (s *RedisTargetStore) key(id string) string {
	return s.prefix + ":target:" + id
}

func (s *RedisTargetStore) statusKey(status models.TargetStatus) string {
	return fmt.Sprintf("%s:targets:%s", s.prefix, status)
}

// Create stores a new target and indexes it under its status.
func (s *RedisTargetStore) Create(ctx context.Context, target *models.SnipeTarget) error {
	raw, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, s.key(target.ID), raw, 0)
	pipe.SAdd(ctx, s.statusKey(target.Status), target.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store target: %w", err)
	}
	return nil
}

// Get fetches one target by id.
func (s *RedisTargetStore) Get(ctx context.Context, id string) (*models.SnipeTarget, error) {
	raw, err := s.cli.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	var t models.SnipeTarget
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal target: %w", err)
	}
	return &t, nil
}

// UpdateStatus moves a target between status indexes and rewrites it.
func (s *RedisTargetStore) UpdateStatus(ctx context.Context, id string, status models.TargetStatus) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	old := t.Status
	t.Status = status

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, s.key(id), raw, 0)
	pipe.SRem(ctx, s.statusKey(old), id)
	pipe.SAdd(ctx, s.statusKey(status), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update target status: %w", err)
	}
	return nil
}

// ListByStatus returns all targets currently in the given status.
func (s *RedisTargetStore) ListByStatus(ctx context.Context, status models.TargetStatus) ([]*models.SnipeTarget, error) {
	ids, err := s.cli.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]*models.SnipeTarget, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Index entry outlived the value; heal the set.
				s.cli.SRem(ctx, s.statusKey(status), id)
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RedisPositionStore persists materialized positions with an open-set
// index.
type RedisPositionStore struct {
	cli    *redis.Client
	prefix string
}

// NewRedisPositionStore creates a position store.
func NewRedisPositionStore(cli *redis.Client, prefix string) *RedisPositionStore {
	return &RedisPositionStore{cli: cli, prefix: prefix}
}

func (s *RedisPositionStore) key(id string) string {
	return s.prefix + ":position:" + id
}

func (s *RedisPositionStore) openKey() string {
	return s.prefix + ":positions:open"
}

// Create stores a new position and indexes it when open.
func (s *RedisPositionStore) Create(ctx context.Context, pos *models.Position) error {
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	pipe := s.cli.TxPipeline()
	pipe.Set(ctx, s.key(pos.ID), raw, 0)
	if pos.Status == models.PositionOpen {
		pipe.SAdd(ctx, s.openKey(), pos.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store position: %w", err)
	}
	return nil
}

// Get fetches one position by id.
func (s *RedisPositionStore) Get(ctx context.Context, id string) (*models.Position, error) {
	raw, err := s.cli.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	var p models.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &p, nil
}

// ListOpen returns every open position.
func (s *RedisPositionStore) ListOpen(ctx context.Context) ([]*models.Position, error) {
	ids, err := s.cli.SMembers(ctx, s.openKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	out := make([]*models.Position, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.cli.SRem(ctx, s.openKey(), id)
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

var (
	_ domrepo.TargetStore   = (*RedisTargetStore)(nil)
	_ domrepo.PositionStore = (*RedisPositionStore)(nil)
)
