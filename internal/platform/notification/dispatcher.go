package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DispatcherConfig sizes the in-process queue.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	// DrainTimeout bounds delivery of messages still queued at shutdown.
	DrainTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      2,
		QueueSize:    256,
		MaxAttempts:  3,
		Backoff:      500 * time.Millisecond,
		DrainTimeout: 10 * time.Second,
	}
}

// Dispatcher is an in-process Queue backed by a buffered channel and a fixed
// pool of worker goroutines.
type Dispatcher struct {
	deliverer Deliverer
	cfg       DispatcherConfig
	queue     chan Message
	logger    zerolog.Logger
}

func NewDispatcher(d Deliverer, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Dispatcher{
		deliverer: d,
		cfg:       cfg,
		queue:     make(chan Message, cfg.QueueSize),
		logger:    logger,
	}
}

// Enqueue never blocks. A full queue yields ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many messages are waiting for a worker.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run starts the workers and blocks until ctx is cancelled. Messages still in
// the queue at that point are delivered before Run returns, bounded by
// DrainTimeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(ctx, worker)
			return nil
		})
	}
	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	for {
		select {
		case msg := <-d.queue:
			d.deliverOnce(drainCtx, msg)
		default:
			return err
		}
	}
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg, worker)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message, worker int) {
	backoff := d.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err := d.deliverer.Deliver(ctx, msg)
		if err == nil {
			return
		}
		log := d.logger.Warn().Err(err).
			Str("message_id", msg.ID).
			Str("template", msg.Template).
			Int("attempt", attempt).
			Int("worker", worker)
		if Permanent(err) || attempt >= d.cfg.MaxAttempts {
			log.Msg("notification dropped")
			return
		}
		log.Msg("notification delivery failed, retrying")

		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
			d.deliverOnce(drainCtx, msg)
			cancel()
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (d *Dispatcher) deliverOnce(ctx context.Context, msg Message) {
	if err := d.deliverer.Deliver(ctx, msg); err != nil {
		d.logger.Warn().Err(err).Str("message_id", msg.ID).Str("template", msg.Template).Msg("notification dropped during shutdown")
	}
}
