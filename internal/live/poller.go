package live

import (
	"context"
	"sync"
	"time"

	"github.com/jusunglee/train-schedules/internal/logger"
)

// Poller keeps the cache warm so user requests rarely wait on upstream
type Poller struct {
	cache          *Cache
	log            logger.Logger
	updateInterval time.Duration
	timeout        time.Duration
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewPoller creates a poller reading through cache every updateInterval
func NewPoller(cache *Cache, updateInterval, timeout time.Duration, log logger.Logger) *Poller {
	return &Poller{
		cache:          cache,
		log:            log,
		updateInterval: updateInterval,
		timeout:        timeout,
	}
}

// Start begins the update loop
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.updateLoop(ctx)
}

// Stop stops the update loop and waits for an in-flight refresh to give up
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) updateLoop(ctx context.Context) {
	defer p.wg.Done()

	p.update(ctx)

	ticker := time.NewTicker(p.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.update(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) update(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Live only calls upstream when the slot has expired
	if _, err := p.cache.Live(ctx); err != nil && ctx.Err() == nil {
		p.log.Debug("Background live refresh failed", "error", err)
	}
}
