// Package statecache keeps a Redis copy of the Control State so a restarted
// bridge resumes with the threshold and LED state it had.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sweeney/telemetry-bridge/internal/logic"
)

// DefaultKey is the Redis key the snapshot is stored under.
const DefaultKey = "telemetry:control"

type snapshot struct {
	Threshold   float64  `json:"threshold"`
	Led         int      `json:"led"`
	Temperature *float64 `json:"temperature,omitempty"`
	SavedAt     string   `json:"savedAt"`
}

// Cache reads and writes the snapshot.
type Cache struct {
	rdb     redis.UniversalClient
	key     string
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending *logic.State
	wake    chan struct{}
}

// Options configures a Cache.
type Options struct {
	Key     string
	Timeout time.Duration
	Logger  *zap.Logger
}

// New returns a Cache over rdb.
func New(rdb redis.UniversalClient, opts Options) *Cache {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		rdb:     rdb,
		key:     opts.Key,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		wake:    make(chan struct{}, 1),
	}
}

// Save writes s synchronously.
func (c *Cache) Save(ctx context.Context, s logic.State) error {
	body, err := json.Marshal(snapshot{
		Threshold:   s.Threshold,
		Led:         int(s.Led),
		Temperature: s.Temperature,
		SavedAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, body, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored state, or nil when none has been saved.
func (c *Cache) Load(ctx context.Context) (*logic.State, error) {
	body, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Threshold < logic.ThresholdMin || snap.Threshold > logic.ThresholdMax {
		return nil, fmt.Errorf("decode snapshot: threshold %v: %w", snap.Threshold, logic.ErrOutOfRange)
	}
	if t := snap.Temperature; t != nil && (*t < logic.SensorMin || *t > logic.SensorMax) {
		return nil, fmt.Errorf("decode snapshot: temperature %v: %w", *t, logic.ErrOutOfRange)
	}

	s := logic.State{Threshold: snap.Threshold, Led: logic.LedOff, Temperature: snap.Temperature}
	if snap.Led == int(logic.LedOn) {
		s.Led = logic.LedOn
	}
	return &s, nil
}

// Publish records s for the background writer. It never blocks; states
// published faster than Redis accepts them are coalesced to the newest.
func (c *Cache) Publish(s logic.State) {
	s = s.Clone()
	c.mu.Lock()
	c.pending = &s
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run writes published states until ctx is done, then flushes the last
// one. Each write is bounded by the cache timeout, not by ctx.
func (c *Cache) Run(ctx context.Context) error {
	for {
		select {
		case <-c.wake:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return nil
		}
	}
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) flush() {
	c.mu.Lock()
	s := c.pending
	c.pending = nil
	c.mu.Unlock()
	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.Save(ctx, *s); err != nil {
		c.logger.Warn("state snapshot not saved", zap.Error(err))
	}
}
