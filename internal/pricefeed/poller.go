package pricefeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PollerConfig tunes the polling loops. Zero values take the defaults below.
type PollerConfig struct {
	Interval    time.Duration // poll period per zone (default 5m, min 30s)
	StaleAfter  int           // consecutive failures before a zone is stale (default 3)
	BackoffBase time.Duration // first retry delay after a failure (default 5s)
	BackoffMax  time.Duration // retry delay ceiling (default Interval)
	Location    *time.Location
}

const (
	DefaultInterval   = 5 * time.Minute
	MinInterval       = 30 * time.Second
	DefaultStaleAfter = 3
)

func (c *PollerConfig) normalize() {
	// MinInterval is enforced when user config is loaded; embedders may
	// poll faster (tests do).
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 || c.BackoffMax > c.Interval {
		c.BackoffMax = c.Interval
	}
	if c.Location == nil {
		loc, err := time.LoadLocation("Europe/Stockholm")
		if err != nil {
			loc = time.UTC
		}
		c.Location = loc
	}
}

// Poller runs one fetch loop per zone, keeps the cache current and publishes
// every update (fresh or newly stale) to subscribers. Fetch failures keep the
// last good value; the zone is marked stale after StaleAfter consecutive
// failures. A midnight job forces an immediate refresh so the first hour of a
// new day is never served from yesterday's table.
type Poller struct {
	feed Feed
	c    *Cache
	cfg  PollerConfig

	mu     sync.Mutex
	subs   []chan Sample
	kicks  map[Zone]chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

func NewPoller(feed Feed, cache *Cache, cfg PollerConfig) *Poller {
	cfg.normalize()
	return &Poller{feed: feed, c: cache, cfg: cfg, kicks: make(map[Zone]chan struct{})}
}

// Cache returns the cache the poller writes into.
func (p *Poller) Cache() *Cache { return p.c }

// Subscribe registers a buffered update channel. When a subscriber falls
// behind its oldest pending update is dropped; the cache always has the
// latest value.
func (p *Poller) Subscribe(buf int) <-chan Sample {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Sample, buf)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Poller) publish(s Sample) {
	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Start launches one loop per zone plus the midnight rollover schedule.
// Duplicate zones are collapsed. Start is not restartable after Stop.
func (p *Poller) Start(ctx context.Context, zones []Zone) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	seen := make(map[Zone]bool)
	for _, z := range zones {
		if !z.Valid() || seen[z] {
			continue
		}
		seen[z] = true
		kick := make(chan struct{}, 1)
		p.kicks[z] = kick
		p.wg.Add(1)
		go p.loop(ctx, z, kick)
	}
	p.cron = cron.New(cron.WithLocation(p.cfg.Location))
	_, err := p.cron.AddFunc("0 0 * * *", p.kickAll)
	if err != nil {
		slog.Error("price poller: rollover schedule", "error", err)
	}
	p.cron.Start()
	p.mu.Unlock()
}

// Stop halts all loops and the rollover schedule and waits for them.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	cr := p.cron
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if cr != nil {
		<-cr.Stop().Done()
	}
	p.wg.Wait()
}

func (p *Poller) kickAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, kick := range p.kicks {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

func (p *Poller) loop(ctx context.Context, zone Zone, kick <-chan struct{}) {
	defer p.wg.Done()
	failures := 0
	for {
		s, err := p.feed.Fetch(ctx, zone)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			slog.Warn("price fetch failed", "zone", zone, "consecutive", failures, "error", err)
			if failures == p.cfg.StaleAfter {
				if stale, ok := p.c.MarkStale(zone); ok {
					p.publish(stale)
				} else {
					p.publish(Sample{Zone: zone, ObservedAt: time.Now(), Stale: true})
				}
			}
		} else {
			failures = 0
			p.c.Put(s)
			p.publish(s)
			slog.Debug("price updated", "zone", zone, "sek_per_kwh", s.Value)
		}

		select {
		case <-ctx.Done():
			return
		case <-kick:
		case <-time.After(p.delay(failures)):
		}
	}
}

// delay is the normal interval after a success and an exponential backoff
// (bounded by BackoffMax) while a zone keeps failing.
func (p *Poller) delay(failures int) time.Duration {
	if failures == 0 {
		return p.cfg.Interval
	}
	d := p.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.cfg.BackoffMax {
			return p.cfg.BackoffMax
		}
	}
	if d > p.cfg.BackoffMax {
		d = p.cfg.BackoffMax
	}
	return d
}
