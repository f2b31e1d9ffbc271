package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-order-bot/internal/ratelimit"
)

var (
	// ErrRateLimited is returned by Submit when the user exceeded the
	// per-user event rate.
	ErrRateLimited = errors.New("chat: rate limited")

	// ErrDuplicate is returned by Submit for an event ID that was already
	// accepted.
	ErrDuplicate = errors.New("chat: duplicate event")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("chat: dispatcher stopped")
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Inbound chat events by type and outcome.",
		},
		[]string{"type", "result"},
	)
	eventLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_event_duration_seconds",
			Help:    "Time spent handling an inbound chat event.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, eventLat)
}

// Deduper records accepted event keys. Seen claims key and reports whether it
// was already claimed; Release drops a claim whose event was not enqueued.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Options configures a Dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	// RateRPS and RateBurst bound events per user. RateRPS <= 0 disables
	// limiting.
	RateRPS   float64
	RateBurst int
	Dedup     Deduper
}

// Dispatcher runs events through a Handler on a fixed set of workers. Events
// are sharded by user id, so one user's events are handled in arrival order
// while different users proceed in parallel.
type Dispatcher struct {
	handler Handler
	opts    Options
	shards  []chan job
	limits  *ratelimit.Buckets

	closing  sync.RWMutex
	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

type job struct {
	ctx context.Context
	ev  Event
}

// NewDispatcher returns a dispatcher. Call Start before Submit.
func NewDispatcher(h Handler, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	d := &Dispatcher{
		handler: h,
		opts:    opts,
		shards:  make([]chan job, opts.Workers),
		limits:  ratelimit.New(opts.RateRPS, opts.RateBurst),
		stopped: make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan job, opts.QueueSize)
	}
	return d
}

// Start launches the workers. They run until Stop closes their queues, so
// events accepted before Stop are always handled.
func (d *Dispatcher) Start() {
	for i := range d.shards {
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
}

// Stop stops accepting events, drains queued ones and waits for workers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		d.closing.Lock()
		for _, ch := range d.shards {
			close(ch)
		}
		d.closing.Unlock()
	})
	d.wg.Wait()
}

// Submit enqueues ev on its user's shard. It blocks while the shard is full
// until ctx is done. An event ID is claimed only for events that end up
// queued; a rejected event may be retried with the same ID.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	typ := string(ev.Type)

	if !d.limits.Allow(ev.UserID) {
		eventsTotal.WithLabelValues(typ, "rate_limited").Inc()
		return ErrRateLimited
	}

	// closing is held for reading while sending so Stop never closes a shard
	// under an in-flight send.
	d.closing.RLock()
	defer d.closing.RUnlock()
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}

	claimed := false
	if d.opts.Dedup != nil && ev.ID != "" {
		seen, err := d.opts.Dedup.Seen(ctx, ev.ID)
		switch {
		case err != nil:
			// Prefer handling a possible duplicate over losing the event.
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("dedup lookup failed")
		case seen:
			eventsTotal.WithLabelValues(typ, "duplicate").Inc()
			return ErrDuplicate
		default:
			claimed = true
		}
	}

	j := job{ctx: context.WithoutCancel(ctx), ev: ev}
	var err error
	select {
	case d.shards[d.shard(ev.UserID)] <- j:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-d.stopped:
		err = ErrStopped
	}
	if claimed {
		d.release(ctx, ev.ID)
	}
	return err
}

func (d *Dispatcher) release(ctx context.Context, id string) {
	if err := d.opts.Dedup.Release(context.WithoutCancel(ctx), id); err != nil {
		log.Warn().Err(err).Str("event_id", id).Msg("dedup release failed")
	}
}

func (d *Dispatcher) work(ch <-chan job) {
	defer d.wg.Done()
	for j := range ch {
		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	typ := string(j.ev.Type)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			eventsTotal.WithLabelValues(typ, "panic").Inc()
			log.Error().Interface("panic", rec).Str("user_id", j.ev.UserID).Msg("event handler panicked")
		}
	}()

	err := d.handler.Handle(j.ctx, j.ev)
	eventLat.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	if err != nil {
		eventsTotal.WithLabelValues(typ, "error").Inc()
		log.Error().Err(err).Str("user_id", j.ev.UserID).Str("event_id", j.ev.ID).Msg("event handling failed")
		return
	}
	eventsTotal.WithLabelValues(typ, "handled").Inc()
}

func (d *Dispatcher) shard(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.shards)))
}
