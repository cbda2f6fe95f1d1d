// Package pool manages a set of reusable headless-browser workers keyed by
// capture profile, so a viewport/family combination gets its own pool of
// pre-warmed tabs instead of forcing every checkout to match the whole
// service's capacity to the busiest profile.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/pkg/logger"
)

// Config controls the lifecycle of a single keyed pool.
type Config struct {
	MaxWorkers      int
	MinWorkers      int
	CheckoutTimeout time.Duration
	WorkerMaxAge    time.Duration
	WorkerMaxUses   int32
	Headless        bool
}

// DefaultConfig returns the defaults the teacher's pool shipped with,
// carried over unchanged: small pools recycle often enough that leaked
// browser state never survives more than a few dozen captures.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      10,
		MinWorkers:      2,
		CheckoutTimeout: 30 * time.Second,
		WorkerMaxAge:    30 * time.Minute,
		WorkerMaxUses:   50,
		Headless:        true,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = d.MinWorkers
	}
	if c.MinWorkers > c.MaxWorkers {
		c.MinWorkers = c.MaxWorkers
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = d.CheckoutTimeout
	}
	if c.WorkerMaxAge <= 0 {
		c.WorkerMaxAge = d.WorkerMaxAge
	}
	if c.WorkerMaxUses <= 0 {
		c.WorkerMaxUses = d.WorkerMaxUses
	}
}

// Worker is one managed browser tab, reused across many captures.
type Worker struct {
	id          string
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int32
	inUse      int32
}

// Context is the tab context a caller should run chromedp actions against.
func (w *Worker) Context() context.Context { return w.tabCtx }

func (w *Worker) stale(maxAge time.Duration, maxUses int32) bool {
	if time.Since(w.createdAt) > maxAge {
		return true
	}
	return atomic.LoadInt32(&w.useCount) >= maxUses
}

// Metrics mirrors the teacher's PoolMetrics. CurrentActive and CurrentIdle
// are pushed to the Prometheus worker gauges (cmd/worker, via
// internal/metrics); the other counters are not exported to Prometheus.
type Metrics struct {
	TotalCreated   int64
	TotalDestroyed int64
	TotalReused    int64
	CheckoutWaits  int64
	ResetErrors    int64
	CurrentActive  int32
	CurrentIdle    int32
}

// Pool is one keyed pool of Workers sharing a capture profile.
type Pool struct {
	key    string
	config Config
	log    *logger.Logger

	available chan *Worker

	mu      sync.Mutex
	workers map[string]*Worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
	counter uint64
}

// New creates the pool for a single capture profile key (BrowserConfig.Key())
// and pre-warms MinWorkers instances.
func New(key string, config Config, log *logger.Logger) *Pool {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		key:       key,
		config:    config,
		log:       log,
		available: make(chan *Worker, config.MaxWorkers),
		workers:   make(map[string]*Worker),
		ctx:       ctx,
		cancel:    cancel,
	}

	p.wg.Add(1)
	go p.maintenanceLoop()

	_ = p.Warmup(ctx)

	return p
}

// Warmup pre-creates up to MinWorkers idle workers. It is safe to call more
// than once; it only tops up what's missing.
func (p *Pool) Warmup(ctx context.Context) error {
	p.mu.Lock()
	have := len(p.workers)
	p.mu.Unlock()

	for i := have; i < p.config.MinWorkers; i++ {
		w, err := p.createWorker()
		if err != nil {
			if p.log != nil {
				p.log.Warn("pool warmup create failed", zap.String("pool_key", p.key), zap.Error(err))
			}
			continue
		}
		select {
		case p.available <- w:
			atomic.AddInt32(&p.metrics.CurrentIdle, 1)
		case <-ctx.Done():
			p.destroyWorker(w)
			return ctx.Err()
		}
	}
	return nil
}

// Checkout removes an idle worker from the pool, creating a new one if
// capacity allows, or blocking up to CheckoutTimeout otherwise.
func (p *Pool) Checkout(ctx context.Context) (*Worker, error) {
	select {
	case w := <-p.available:
		atomic.AddInt32(&p.metrics.CurrentIdle, -1)
		return p.prepare(w)
	default:
	}

	p.mu.Lock()
	canCreate := len(p.workers) < p.config.MaxWorkers
	p.mu.Unlock()

	if canCreate {
		w, err := p.createWorker()
		if err != nil {
			return nil, domain.NewPoolTimeoutError("create worker for pool "+p.key, err)
		}
		return p.prepare(w)
	}

	atomic.AddInt64(&p.metrics.CheckoutWaits, 1)
	checkoutCtx, cancel := context.WithTimeout(ctx, p.config.CheckoutTimeout)
	defer cancel()

	select {
	case w := <-p.available:
		atomic.AddInt32(&p.metrics.CurrentIdle, -1)
		return p.prepare(w)
	case <-checkoutCtx.Done():
		return nil, domain.NewPoolTimeoutError(fmt.Sprintf("checkout timeout on pool %s", p.key), checkoutCtx.Err())
	case <-p.ctx.Done():
		return nil, domain.NewPoolTimeoutError("pool "+p.key+" is closed", nil)
	}
}

func (p *Pool) prepare(w *Worker) (*Worker, error) {
	if w.stale(p.config.WorkerMaxAge, p.config.WorkerMaxUses) || !p.Healthy(w) {
		p.destroyWorker(w)
		fresh, err := p.createWorker()
		if err != nil {
			return nil, domain.NewPoolTimeoutError("replace stale worker in pool "+p.key, err)
		}
		w = fresh
	}

	atomic.StoreInt32(&w.inUse, 1)
	w.lastUsedAt = time.Now()
	atomic.AddInt32(&w.useCount, 1)
	atomic.AddInt32(&p.metrics.CurrentActive, 1)
	atomic.AddInt64(&p.metrics.TotalReused, 1)
	return w, nil
}

// Checkin resets and returns a worker to the pool, or destroys it if the
// reset fails or the pool has no room left.
func (p *Pool) Checkin(w *Worker) {
	if w == nil {
		return
	}

	atomic.AddInt32(&p.metrics.CurrentActive, -1)
	atomic.StoreInt32(&w.inUse, 0)

	select {
	case <-p.ctx.Done():
		p.destroyWorker(w)
		return
	default:
	}

	if err := p.Reset(w); err != nil {
		atomic.AddInt64(&p.metrics.ResetErrors, 1)
		p.destroyWorker(w)
		return
	}

	select {
	case p.available <- w:
		atomic.AddInt32(&p.metrics.CurrentIdle, 1)
	default:
		p.destroyWorker(w)
	}
}

// Reset clears cookies and cache and opens a fresh tab, so the next
// checkout never inherits state left by the previous capture.
func (p *Pool) Reset(w *Worker) error {
	if w == nil || w.tabCtx == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(w.allocCtx, 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = network.ClearBrowserCookies().Do(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = network.ClearBrowserCache().Do(ctx)
	}()
	wg.Wait()

	if w.tabCancel != nil {
		w.tabCancel()
	}
	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx)
	w.tabCtx = tabCtx
	w.tabCancel = tabCancel
	return nil
}

// Healthy runs a trivial no-op evaluate to confirm the worker's tab still
// answers the CDP protocol.
func (p *Pool) Healthy(w *Worker) bool {
	ctx, cancel := context.WithTimeout(w.tabCtx, 2*time.Second)
	defer cancel()
	var ok bool
	return chromedp.Run(ctx, chromedp.Evaluate("true", &ok)) == nil
}

// RefreshStaleWorkers destroys and recreates any idle worker past its
// age/use limit, called periodically by the maintenance loop and available
// for an operator to trigger out of band.
func (p *Pool) RefreshStaleWorkers() {
	drained := make([]*Worker, 0)
	for {
		select {
		case w := <-p.available:
			drained = append(drained, w)
		default:
			goto done
		}
	}
done:
	for _, w := range drained {
		if w.stale(p.config.WorkerMaxAge, p.config.WorkerMaxUses) || !p.Healthy(w) {
			p.destroyWorker(w)
			fresh, err := p.createWorker()
			if err != nil {
				continue
			}
			w = fresh
		}
		select {
		case p.available <- w:
		default:
			p.destroyWorker(w)
		}
	}
}

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.RefreshStaleWorkers()
		case <-p.ctx.Done():
			return
		}
	}
}

// Metrics returns an atomic snapshot of the pool's counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		TotalCreated:   atomic.LoadInt64(&p.metrics.TotalCreated),
		TotalDestroyed: atomic.LoadInt64(&p.metrics.TotalDestroyed),
		TotalReused:    atomic.LoadInt64(&p.metrics.TotalReused),
		CheckoutWaits:  atomic.LoadInt64(&p.metrics.CheckoutWaits),
		ResetErrors:    atomic.LoadInt64(&p.metrics.ResetErrors),
		CurrentActive:  atomic.LoadInt32(&p.metrics.CurrentActive),
		CurrentIdle:    atomic.LoadInt32(&p.metrics.CurrentIdle),
	}
}

// Close cancels the maintenance loop and destroys every tracked worker.
func (p *Pool) Close() error {
	p.cancel()
	p.wg.Wait()

	for {
		select {
		case w := <-p.available:
			p.destroyWorker(w)
		default:
			goto drained
		}
	}
drained:

	p.mu.Lock()
	for id, w := range p.workers {
		if w.tabCancel != nil {
			w.tabCancel()
		}
		if w.allocCancel != nil {
			w.allocCancel()
		}
		delete(p.workers, id)
		atomic.AddInt64(&p.metrics.TotalDestroyed, 1)
	}
	p.mu.Unlock()
	return nil
}

func (p *Pool) createWorker() (*Worker, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-extensions", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	id := fmt.Sprintf("%s-%d", p.key, atomic.AddUint64(&p.counter, 1))
	w := &Worker{
		id:          id,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		createdAt:   time.Now(),
		lastUsedAt:  time.Now(),
	}

	p.mu.Lock()
	p.workers[id] = w
	p.mu.Unlock()

	atomic.AddInt64(&p.metrics.TotalCreated, 1)
	return w, nil
}

func (p *Pool) destroyWorker(w *Worker) {
	if w == nil {
		return
	}
	if w.tabCancel != nil {
		w.tabCancel()
	}
	if w.allocCancel != nil {
		w.allocCancel()
	}
	p.mu.Lock()
	delete(p.workers, w.id)
	p.mu.Unlock()
	atomic.AddInt64(&p.metrics.TotalDestroyed, 1)
}
