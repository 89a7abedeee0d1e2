package dlq

import (
	"context"
	"log/slog"
	"time"
)

// Promoter periodically moves due delayed messages onto their queues so a
// scheduled replay becomes an ordinary receive.
type Promoter struct {
	client   *Client
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPromoter creates a promoter ticking at the given interval.
func NewPromoter(client *Client, interval time.Duration) *Promoter {
	return &Promoter{client: client, interval: interval}
}

// Start launches the background promotion loop.
func (p *Promoter) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.run(ctx)

	slog.Info("Delay promoter started", "interval", p.interval)
}

// Stop signals the promotion loop to exit and waits for it to finish.
func (p *Promoter) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	slog.Info("Delay promoter stopped")
}

func (p *Promoter) run(ctx context.Context) {
	defer close(p.done)

	p.promoteAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.promoteAll(ctx)
		}
	}
}

func (p *Promoter) promoteAll(ctx context.Context) {
	queues, err := p.client.DelayedQueues(ctx)
	if err != nil {
		slog.Error("Delay promoter: listing delay sets failed", "error", err)
		return
	}

	for _, queue := range queues {
		n, err := p.client.PromoteDelayed(ctx, queue)
		if err != nil {
			slog.Error("Delay promoter: promotion failed", "queue", queue, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Promoted delayed messages", "queue", queue, "count", n)
		}
	}
}
