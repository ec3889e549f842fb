package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campusnet/forum/internal/common/config"
	"github.com/campusnet/forum/internal/common/errors"
	"golang.org/x/time/rate"
	"go.uber.org/zap"
)

type Action string

const (
	ActionPost Action = "post"
	ActionVote Action = "vote"
)

const window = time.Minute

// Counter is a shared fixed-window counter, normally the redis cache.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type LimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter caps how often one author may post or vote. With a Counter the
// limit is shared by all instances; without one, or while the counter is
// unreachable, each instance enforces it with a local token bucket.
type Limiter struct {
	counter     Counter
	enabled     bool
	limits      map[Action]LimitConfig
	localCache  map[string]*rate.Limiter
	mu          sync.Mutex
	logger      *zap.Logger
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

func NewLimiter(counter Counter, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	l := &Limiter{
		counter: counter,
		enabled: cfg.Enabled,
		limits: map[Action]LimitConfig{
			ActionPost: {RequestsPerMinute: cfg.PostsPerMinute, Burst: cfg.Burst},
			ActionVote: {RequestsPerMinute: cfg.VotesPerMinute, Burst: cfg.Burst},
		},
		localCache:  make(map[string]*rate.Limiter),
		logger:      logger,
		cleanupDone: make(chan struct{}),
	}

	if l.enabled {
		go l.cleanup()
	}

	return l
}

func (l *Limiter) Allow(ctx context.Context, action Action, subject string) (bool, error) {
	if !l.enabled {
		return true, nil
	}

	limit, ok := l.limits[action]
	if !ok || limit.RequestsPerMinute <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", action, subject)
	if l.counter != nil {
		count, err := l.counter.IncrWindow(ctx, key, window)
		if err == nil {
			return count <= int64(limit.RequestsPerMinute+limit.Burst), nil
		}
		l.logger.Debug("shared rate limit unavailable, using local bucket", zap.Error(err))
	}

	return l.allowLocal(key, limit), nil
}

// Check is Allow folded into the error taxonomy.
func (l *Limiter) Check(ctx context.Context, action Action, subject string) error {
	allowed, err := l.Allow(ctx, action, subject)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.RateLimited(fmt.Sprintf("too many %s requests, please try again later", action))
	}
	return nil
}

func (l *Limiter) allowLocal(key string, limit LimitConfig) bool {
	l.mu.Lock()
	limiter, exists := l.localCache[key]
	if !exists {
		burst := limit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(limit.RequestsPerMinute)/60.0), burst)
		l.localCache[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.localCache = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		case <-l.cleanupDone:
			return
		}
	}
}

func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.cleanupDone) })
}
