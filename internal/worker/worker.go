// Package worker periodically flushes due notifications out of the delivery
// queue and hands them to a sink. The queue itself runs no timers; this is
// the only component that does.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"notiq/internal/eventbus"
	"notiq/internal/queue"
	"notiq/internal/sink"
	"notiq/pkg/logx"
)

var ErrStopped = errors.New("worker stopped")

// Config controls flush cadence and delivery pacing.
//
// Cadence accepts either a cron expression ("*/1 * * * *", "@hourly") or a
// Go duration ("30s", "2m"). RatePerSec bounds outbound deliveries.
// RetryMax is the number of redeliveries attempted after a failed send
// (negative disables retries); the delay between attempts grows
// exponentially from RetryBase up to RetryMaxDelay, with jitter.
type Config struct {
	Enabled       bool
	Cadence       string
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Cadence) == "" {
		c.Cadence = "30s"
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// ticker abstracts "when is the next flush" over cron and interval cadences.
type ticker interface {
	next(after time.Time) time.Time
}

type cronTicker struct{ sched cron.Schedule }

func (t cronTicker) next(after time.Time) time.Time { return t.sched.Next(after) }

type intervalTicker struct{ every time.Duration }

func (t intervalTicker) next(after time.Time) time.Time { return after.Add(t.every) }

// parseCadence accepts a cron spec (whitespace or "@" prefix) or a duration.
func parseCadence(raw string) (ticker, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("cadence required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron cadence %q: %w", raw, err)
		}
		return cronTicker{sched: sched}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid cadence %q (use cron like '*/1 * * * *' or duration like '30s')", raw)
	}
	return intervalTicker{every: d}, nil
}

// Service drives periodic flushes. Start/Stop may be called repeatedly.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	q   *queue.Queue
	snk sink.Sink

	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type Option func(*Service)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, q *queue.Queue, snk sink.Sink, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:     log,
		bus:     bus,
		q:       q,
		snk:     snk,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply updates pacing and retry tuning at runtime. Cadence changes take
// effect on restart.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil // already running
	}
	tick, err := parseCadence(s.cfg.Cadence)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in delivery worker",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.run(ctx, stopCh, tick)
	}()

	s.log.Info("delivery worker started",
		logx.String("cadence", s.cfg.Cadence),
		logx.Int("rate_per_sec", s.cfg.RatePerSec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("delivery worker stopped")
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) run(ctx context.Context, stopCh chan struct{}, tick ticker) {
	for {
		wait := time.Until(tick.next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.FlushAll(ctx)
	}
}

// FlushAll drains every user's due entries through the sink once. The app
// calls it directly for a final drain at shutdown. Entries the sink rejects
// go back into the queue with a backoff delay until their attempts are
// spent; entries never attempted (cycle interrupted) go back untouched.
func (s *Service) FlushAll(ctx context.Context) (delivered int) {
	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()

	for _, user := range s.q.ActiveUsers() {
		entries := s.q.FlushReady(user)
		for i, e := range entries {
			if err := limiter.Wait(ctx); err != nil {
				s.q.Requeue(user, entries[i:])
				return delivered
			}
			if err := s.snk.Deliver(ctx, user, e); err != nil {
				s.retryLater(user, e, err, cfg)
				continue
			}
			delivered++
			s.publish(eventbus.TypeDelivered, user, e.ID)
		}
	}
	if delivered > 0 {
		s.log.Debug("flush cycle complete", logx.Int("delivered", delivered))
	}
	return delivered
}

// retryLater requeues a failed entry with its next-attempt delay, or gives
// up once RetryMax redeliveries have been spent.
func (s *Service) retryLater(user string, e queue.Entry, cause error, cfg Config) {
	e.Attempts++
	if e.Attempts > cfg.RetryMax {
		s.log.Warn("delivery failed, giving up",
			logx.String("user", user),
			logx.String("id", e.ID),
			logx.Int("attempts", e.Attempts),
			logx.Err(cause))
		s.publish(eventbus.TypeDeliveryError, user, cause.Error())
		return
	}
	delay := retryDelay(cfg, e.Attempts)
	e.DeliverAt = s.now().Add(delay)
	s.q.Requeue(user, []queue.Entry{e})
	s.log.Debug("delivery failed, retry scheduled",
		logx.String("user", user),
		logx.String("id", e.ID),
		logx.Int("attempt", e.Attempts),
		logx.Duration("delay", delay),
		logx.Err(cause))
}

// retryDelay is exponential from RetryBase, capped at RetryMaxDelay, with
// 0.7..1.3 jitter. attempt starts at 1.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func (s *Service) publish(typ, user string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, User: user, Data: data})
}
