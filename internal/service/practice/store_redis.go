package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-opening-coach/internal/coach"
)

const defaultSnapshotTTL = time.Hour

// Snapshot is the persisted form of a practice session. The board is rebuilt
// by replaying Moves.
type Snapshot struct {
	ID                   string                `json:"id"`
	OpeningID            string                `json:"openingId"`
	DefenseID            string                `json:"defenseId,omitempty"`
	Mode                 string                `json:"mode"`
	PlayerSide           string                `json:"playerSide"`
	Elo                  int                   `json:"elo"`
	DeviationProbability float64               `json:"deviationProbability"`
	StartFEN             string                `json:"startFen,omitempty"`
	Moves                []coach.MoveRecord    `json:"moves"`
	Deviation            *coach.DeviationEvent `json:"deviation,omitempty"`
	Transposed           string                `json:"transposed,omitempty"`
	TransposedAt         int                   `json:"transposedAt,omitempty"`
	StartedAt            time.Time             `json:"startedAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
}

// SnapshotStore persists sessions between process restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// DialRedis connects to REDIS_URL and checks the connection.
func DialRedis(ctx context.Context, raw string) (*redis.Client, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("REDIS_URL is empty")
	}
	opts, err := parseRedisURL(raw)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) key(id string) string { return "coach:session:" + strings.TrimSpace(id) }

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.New("snapshot id required")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.rdb.Set(ctx, s.key(snap.ID), raw, s.ttl).Err()
}

// Load returns nil, nil when the snapshot is missing or expired.
func (s *RedisStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
