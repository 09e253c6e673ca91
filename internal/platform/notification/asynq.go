package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskDeliver is the asynq task type carrying one Message.
const TaskDeliver = "notification:deliver"

const asynqQueueName = "notifications"

// RedisOptions parses a redis:// URL once and returns both the asynq
// connection options and a go-redis client for health probes.
func RedisOptions(redisURL string) (asynq.RedisClientOpt, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	connOpt := asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
	return connOpt, redis.NewClient(opts), nil
}

// NewDeliverTask wraps msg in an asynq task.
func NewDeliverTask(msg Message) (*asynq.Task, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, b), nil
}

// AsynqQueue is a Queue that persists messages in Redis through asynq, so
// they survive a process restart.
type AsynqQueue struct {
	client   *asynq.Client
	maxRetry int
}

func NewAsynqQueue(opt asynq.RedisConnOpt, maxRetry int) *AsynqQueue {
	return &AsynqQueue{client: asynq.NewClient(opt), maxRetry: maxRetry}
}

// Enqueue implements Queue. The message id doubles as the task id, so a
// message enqueued twice is delivered once.
func (q *AsynqQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	task, err := NewDeliverTask(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(asynqQueueName),
		asynq.MaxRetry(q.maxRetry),
		asynq.TaskID(msg.ID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// AsynqWorker consumes TaskDeliver tasks and hands them to a Deliverer.
type AsynqWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqWorker(opt asynq.RedisConnOpt, d Deliverer, concurrency int, logger zerolog.Logger) *AsynqWorker {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{asynqQueueName: 1},
		Logger:      asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDeliver, HandleDeliverTask(d))
	return &AsynqWorker{server: srv, mux: mux}
}

// Run processes tasks until ctx is cancelled, then shuts the server down,
// waiting for in-flight deliveries.
func (w *AsynqWorker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// HandleDeliverTask decodes and delivers one task. Undecodable payloads and
// permanent failures are not retried.
func HandleDeliverTask(d Deliverer) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(task.Payload(), &msg); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		if err := d.Deliver(ctx, msg); err != nil {
			if Permanent(err) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
