package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HybridStore is a Redis-first credential store with an optional Postgres mirror.
// Redis serves every read on the hot path; Postgres keeps the session across a Redis flush.
type HybridStore struct {
	redis     *redis.Client
	PG        *pgxpool.Pool
	mirror    pgMirror
	namespace string
	logger    *zap.Logger
}

// pgMirror is the subset of pgxpool.Pool the store uses.
type pgMirror interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// tombstone marks a key whose mirror delete failed. Get reports it as absent
// without falling back to Postgres.
const tombstone = "\x00deleted"

// PGPoolConfig tunes the Postgres pool. Zero values keep the pgx defaults.
type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Options describe where the hybrid store keeps its data.
type Options struct {
	RedisAddr string
	RedisDB   int
	RedisPass string
	// Namespace isolates one agent's session from others sharing the same Redis/Postgres.
	Namespace string
	// PGURL is optional; empty disables the Postgres mirror.
	PGURL string
	PGPool PGPoolConfig
}

// NewHybrid connects to Redis (required) and Postgres (optional).
func NewHybrid(opts Options, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		DB:       opts.RedisDB,
		Password: opts.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if opts.PGURL != "" {
		cfg, err := pgxpool.ParseConfig(opts.PGURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		applyPoolConfig(cfg, opts.PGPool)
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	st := &HybridStore{redis: rdb, PG: pgPool, namespace: opts.Namespace, logger: logger}
	if pgPool != nil {
		st.mirror = pgPool
	}
	return st, nil
}

func applyPoolConfig(cfg *pgxpool.Config, p PGPoolConfig) {
	if p.MaxConns > 0 {
		cfg.MaxConns = p.MaxConns
	}
	if p.MinConns > 0 {
		cfg.MinConns = p.MinConns
	}
	if p.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = p.MaxConnLifetime
	}
	if p.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = p.MaxConnIdleTime
	}
	if p.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = p.HealthCheckPeriod
	}
}

func (s *HybridStore) redisKey(key string) string {
	return fmt.Sprintf("portal:%s:%s", s.namespace, key)
}

// Get reads Redis first and falls back to Postgres, re-warming Redis on a hit.
func (s *HybridStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.redis.Get(ctx, s.redisKey(key)).Result()
	if err == nil {
		if val == tombstone {
			return "", nil
		}
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	if s.mirror == nil {
		return "", nil
	}

	err = s.mirror.QueryRow(ctx, `
		SELECT value
		FROM portal.session_credential
		WHERE namespace = $1 AND key = $2;
	`, s.namespace, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	} else if err != nil {
		s.logger.Error("credstore.pg.select_failed", zap.String("key", key), zap.Error(err))
		return "", err
	}

	if err := s.redis.Set(ctx, s.redisKey(key), val, 0).Err(); err != nil {
		s.logger.Warn("credstore.redis.rewarm_failed", zap.String("key", key), zap.Error(err))
	}
	return val, nil
}

// Set upserts the Postgres mirror, then writes Redis. Redis is left untouched
// when the mirror write fails, so it never holds newer state than Postgres.
func (s *HybridStore) Set(ctx context.Context, key, value string) error {
	if s.mirror != nil {
		_, err := s.mirror.Exec(ctx, `
			INSERT INTO portal.session_credential (namespace, key, value, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (namespace, key)
			DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at;
		`, s.namespace, key, value)
		if err != nil {
			s.logger.Error("credstore.pg.upsert_failed", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("pg upsert %s: %w", key, err)
		}
	}
	if err := s.redis.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys from the mirror, then from Redis. When the mirror
// delete fails the keys are tombstoned in Redis instead, so a stale mirror
// row is never read back.
func (s *HybridStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = s.redisKey(k)
	}

	if s.mirror != nil {
		_, err := s.mirror.Exec(ctx, `
			DELETE FROM portal.session_credential
			WHERE namespace = $1 AND key = ANY($2);
		`, s.namespace, keys)
		if err != nil {
			s.logger.Error("credstore.pg.delete_failed", zap.Strings("keys", keys), zap.Error(err))
			pipe := s.redis.TxPipeline()
			for _, rk := range rkeys {
				pipe.Set(ctx, rk, tombstone, 0)
			}
			if _, terr := pipe.Exec(ctx); terr != nil {
				return fmt.Errorf("pg delete: %w (redis tombstone: %w)", err, terr)
			}
			return fmt.Errorf("pg delete: %w", err)
		}
	}

	if err := s.redis.Del(ctx, rkeys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
