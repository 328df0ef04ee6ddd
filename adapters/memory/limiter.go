package memory

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/docstream/domain/ratelimit"
	"github.com/artpar/docstream/ports"
)

type limiterShard struct {
	mu      sync.Mutex
	windows map[string]ratelimit.Window
}

// Limiter tracks per-client request windows in memory. Clients are spread
// over shards to keep lock contention low under many concurrent requests.
type Limiter struct {
	policy ratelimit.Policy
	shards []*limiterShard
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	Shards        int           // number of shards (default: 32)
	SweepInterval time.Duration // how often ended windows are dropped (default: 5m)
}

// NewLimiter creates a limiter enforcing policy and starts its sweeper.
// Call Close to stop it.
func NewLimiter(policy ratelimit.Policy, cfg LimiterConfig) *Limiter {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	l := &Limiter{
		policy: policy,
		shards: make([]*limiterShard, cfg.Shards),
		ticker: time.NewTicker(cfg.SweepInterval),
		done:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &limiterShard{windows: make(map[string]ratelimit.Window)}
	}

	go l.sweepLoop()
	return l
}

func (l *Limiter) shard(client string) *limiterShard {
	h := fnv.New32a()
	h.Write([]byte(client))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Allow spends one request for client at now.
func (l *Limiter) Allow(client string, now time.Time) ratelimit.Decision {
	s := l.shard(client)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, w := ratelimit.Spend(s.windows[client], l.policy, now)
	s.windows[client] = w
	return d
}

// Sweep drops windows that ended before now.
func (l *Limiter) Sweep(now time.Time) {
	for _, s := range l.shards {
		s.mu.Lock()
		for client, w := range s.windows {
			if w.Expired(now) {
				delete(s.windows, client)
			}
		}
		s.mu.Unlock()
	}
}

func (l *Limiter) sweepLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.Sweep(time.Now())
		case <-l.done:
			return
		}
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Close stops the sweeper. It is safe to call more than once.
func (l *Limiter) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.ticker.Stop()
	})
	return nil
}

var _ ports.RateLimiter = (*Limiter)(nil)
