package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/pkg/config"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// Mirror persists accepted snapshots in Redis so a restarting agent can warm
// its store without hitting the price endpoint. Entries expire on the same
// ceiling as in-process staleness; a mirror read never resurrects data the
// store would refuse to serve.
type Mirror struct {
	client *redis.Client
	logger *logrus.Entry
	ttl    time.Duration
}

// NewMirror connects to Redis and verifies the connection.
func NewMirror(cfg *config.RedisConfig, ttl time.Duration, logger *logrus.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Mirror{
		client: client,
		logger: logger.WithField("component", "mirror"),
		ttl:    ttl,
	}, nil
}

func snapshotKey(role models.Role) string {
	return fmt.Sprintf("spot:snapshot:%s", role)
}

// SaveSnapshot writes the role's snapshot with the staleness TTL.
func (m *Mirror) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return m.client.Set(ctx, snapshotKey(snap.Role), data, m.ttl).Err()
}

// LoadSnapshot reads the role's mirrored snapshot; (nil, nil) when absent.
func (m *Mirror) LoadSnapshot(ctx context.Context, role models.Role) (*models.Snapshot, error) {
	data, err := m.client.Get(ctx, snapshotKey(role)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// DropSnapshot removes the role's mirrored snapshot.
func (m *Mirror) DropSnapshot(ctx context.Context, role models.Role) error {
	return m.client.Del(ctx, snapshotKey(role)).Err()
}

// Health checks the Redis connection.
func (m *Mirror) Health(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
