package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/MunishMummadi/web-scrapper/config"
	"github.com/MunishMummadi/web-scrapper/model"
)

// frontierKeyPrefix namespaces the per-session frontier hashes.
const frontierKeyPrefix = "frontier:"

// logChannelPrefix namespaces the per-session log pub/sub channels.
const logChannelPrefix = "session_logs:"

// RedisFrontierStore is the Redis-backed FrontierPersistence: one hash
// per session keyed by URL, each field holding the pending entry as JSON.
// It also publishes session log entries on a pub/sub channel so other
// processes can observe a crawl.
type RedisFrontierStore struct {
	client *redis.Client
}

// persistedEntry is the JSON shape of one pending frontier task.
type persistedEntry struct {
	URL        string    `json:"url"`
	Depth      int       `json:"depth"`
	RetryCount int       `json:"retryCount"`
	ReadyAt    time.Time `json:"readyAt"`
	Status     string    `json:"status"`
}

// NewRedisFrontierStore connects to Redis and verifies the connection.
func NewRedisFrontierStore(cfg config.RedisConfig) (*RedisFrontierStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address(), err)
	}

	return &RedisFrontierStore{client: client}, nil
}

// Persist writes or updates the pending entry for (sessionID, url).
func (r *RedisFrontierStore) Persist(ctx context.Context, sessionID, url string, depth int, readyAt time.Time, retryCount int) error {
	payload, err := json.Marshal(persistedEntry{
		URL:        url,
		Depth:      depth,
		RetryCount: retryCount,
		ReadyAt:    readyAt,
		Status:     "pending",
	})
	if err != nil {
		return fmt.Errorf("failed to encode frontier entry for %s: %w", url, err)
	}
	if err := r.client.HSet(ctx, frontierKeyPrefix+sessionID, url, payload).Err(); err != nil {
		return fmt.Errorf("failed to persist frontier entry for %s: %w", url, err)
	}
	return nil
}

// Remove drops the pending entry for (sessionID, url) after the URL goes
// terminal.
func (r *RedisFrontierStore) Remove(ctx context.Context, sessionID, url string) error {
	if err := r.client.HDel(ctx, frontierKeyPrefix+sessionID, url).Err(); err != nil {
		return fmt.Errorf("failed to remove frontier entry for %s: %w", url, err)
	}
	return nil
}

// LoadPending returns up to limit pending entries for sessionID.
func (r *RedisFrontierStore) LoadPending(ctx context.Context, sessionID string, limit int) ([]PendingEntry, error) {
	fields, err := r.client.HGetAll(ctx, frontierKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending frontier entries: %w", err)
	}

	entries := make([]PendingEntry, 0, len(fields))
	for url, raw := range fields {
		if limit > 0 && len(entries) >= limit {
			break
		}
		var p persistedEntry
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		if p.Status != "pending" {
			continue
		}
		entries = append(entries, PendingEntry{
			URL:        url,
			Depth:      p.Depth,
			RetryCount: p.RetryCount,
			ReadyAt:    p.ReadyAt,
		})
	}
	return entries, nil
}

// PublishLog fans a session log entry out on the session's pub/sub
// channel. Best-effort: errors are returned for the caller to log.
func (r *RedisFrontierStore) PublishLog(ctx context.Context, entry model.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	channel := logChannelPrefix + entry.SessionID
	if entry.SessionID == "" {
		channel = logChannelPrefix + "admin"
	}
	return r.client.Publish(ctx, channel, payload).Err()
}

// Close closes the Redis connection.
func (r *RedisFrontierStore) Close() error {
	return r.client.Close()
}
