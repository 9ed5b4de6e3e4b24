package notification

import (
	"context"
	"sync"
	"time"

	"market-booking/internal/metrics"
	"market-booking/pkg/logger"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("notification queue full")

// Pool sends notifications on a fixed set of workers so booking requests
// never wait on the gateway.
type Pool struct {
	next       Dispatcher
	jobs       chan Notification
	numWorkers int
	timeout    time.Duration
	logger     *logger.Logger
}

func NewPool(next Dispatcher, numWorkers, queueSize int, timeout time.Duration, l *logger.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 2
	}
	return &Pool{
		next:       next,
		jobs:       make(chan Notification, queueSize),
		numWorkers: numWorkers,
		timeout:    timeout,
		logger:     l,
	}
}

// Notify queues n. It never blocks; a full queue drops the notification.
func (p *Pool) Notify(ctx context.Context, n Notification) error {
	select {
	case p.jobs <- n:
		return nil
	default:
		metrics.RecordNotification(n.TemplateKey, ErrQueueFull)
		p.logger.WithContext(ctx).Warn("dropping notification",
			zap.String("template", n.TemplateKey), zap.Error(ErrQueueFull))
		return ErrQueueFull
	}
}

// Serve runs the workers until ctx is cancelled.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	p.logger.Logger.Info("notification workers started", zap.Int("num_workers", p.numWorkers))
	wg.Wait()
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-p.jobs:
			p.send(ctx, id, n)
		}
	}
}

func (p *Pool) send(ctx context.Context, id int, n Notification) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := p.next.Notify(ctx, n)
	metrics.RecordNotification(n.TemplateKey, err)
	if err != nil {
		p.logger.Logger.Warn("notification failed",
			zap.Int("worker", id), zap.String("template", n.TemplateKey), zap.Error(err))
	}
}

func (p *Pool) String() string {
	return "notification-pool"
}
