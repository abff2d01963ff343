package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStop ends the loop without being logged as a failure.
var ErrStop = errors.New("worker stop")

type Config struct {
	Name      string
	Processor Processor
}

type Processor interface {
	ProcessMessage(ctx context.Context) error
}

type Worker struct {
	name      string
	processor Processor
}

func New(cfg Config) *Worker {
	return &Worker{
		name:      cfg.Name,
		processor: cfg.Processor,
	}
}

func (w *Worker) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Worker started...", "worker", w.name)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopped...", "worker", w.name)
			return
		default:
			err := w.processor.ProcessMessage(ctx)
			if errors.Is(err, ErrStop) {
				slog.InfoContext(ctx, "Worker stopped...", "worker", w.name)
				return
			}
			if err != nil {
				slog.ErrorContext(ctx, "Error processing message", "worker", w.name, "error", err)
			}
		}
	}
}

// Pool runs a fixed number of workers over one processor.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

func NewPool(name string, size int, processor Processor) *Pool {
	p := &Pool{}
	for i := 0; i < max(size, 1); i++ {
		p.workers = append(p.workers, New(Config{
			Name:      fmt.Sprintf("%s-%d", name, i),
			Processor: processor,
		}))
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Go(func() {
			w.Run(ctx)
		})
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
