package stats

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatehouse/gatehouse/admission"
)

// Redis records admission outcomes into Redis hashes so rejections survive
// the process and can feed an ops dashboard. Totals are cumulative; minute
// buckets and per-address hashes carry a TTL.
//
// The pipeline treats recording as best-effort, so a Redis outage degrades to
// lost stats, never to blocked or failed admission decisions.
type Redis struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	byMinute  bool
	byAddress bool
	timeout   time.Duration
}

// RedisOption customizes a Redis recorder.
type RedisOption func(*Redis)

// WithPrefix overrides the key prefix (default "gatehouse:stats").
func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry applied to bucketed keys (default 24h).
func WithTTL(d time.Duration) RedisOption {
	return func(s *Redis) { s.ttl = d }
}

// WithMinuteBuckets toggles the per-minute time series (default on).
func WithMinuteBuckets(on bool) RedisOption {
	return func(s *Redis) { s.byMinute = on }
}

// WithAddressTracking toggles per-client-address hashes (default off; they
// grow with the number of distinct callers).
func WithAddressTracking(on bool) RedisOption {
	return func(s *Redis) { s.byAddress = on }
}

// NewRedis creates a recorder writing through rdb.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{
		rdb:      rdb,
		prefix:   "gatehouse:stats",
		ttl:      24 * time.Hour,
		byMinute: true,
		timeout:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements admission.Recorder.
func (s *Redis) Record(ctx context.Context, ev admission.Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := string(ev.Outcome)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.byMinute {
		bucket := s.prefix + ":minute:" + at.UTC().Format("200601021504")
		pipe.HIncrBy(ctx, bucket, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucket, s.ttl)
		}
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.byAddress && ev.ClientAddr != "" {
		key := s.prefix + ":addr:" + ev.ClientAddr
		pipe.HIncrBy(ctx, key, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
