package handler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// PoolConfig sizes a VM pool. Grounded on jsrunner's VMPool, minus the security-level
// knobs: handler code is never sandboxed, so every pooled VM runs with full host
// authority and there is no SecurityLevel to configure.
type PoolConfig struct {
	MinSize        int
	MaxSize        int
	MaxReuseCount  int
	AcquireTimeout time.Duration
}

// ApplyDefaults fills unset fields with sane defaults.
func (c *PoolConfig) ApplyDefaults() {
	if c.MinSize <= 0 {
		c.MinSize = 2
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 16
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = c.MinSize
	}
	if c.MaxReuseCount <= 0 {
		c.MaxReuseCount = 1000
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
}

// Validate checks the config is internally consistent.
func (c PoolConfig) Validate() error {
	if c.MinSize < 0 || c.MaxSize < 1 || c.MaxSize < c.MinSize {
		return fmt.Errorf("handler: invalid pool config: min=%d max=%d", c.MinSize, c.MaxSize)
	}
	return nil
}

// DefaultPoolConfig returns a PoolConfig with ApplyDefaults already run.
func DefaultPoolConfig() PoolConfig {
	c := PoolConfig{}
	c.ApplyDefaults()
	return c
}

// pooledVM wraps a goja.Runtime with reuse bookkeeping.
type pooledVM struct {
	vm         *goja.Runtime
	reuseCount int
}

// Pool manages a set of reusable, unsandboxed goja.Runtime instances. Grounded on
// jsrunner.VMPool: channel-backed free list, lazily grown up to MaxSize, VMs retired
// after MaxReuseCount executions to bound any slow state leak between runs.
type Pool struct {
	free chan *pooledVM
	cfg  PoolConfig

	mu          sync.Mutex
	currentSize int

	totalCreated  int64
	totalAcquired int64
	totalReleased int64

	newUtilities func(vm *goja.Runtime)
}

// NewPool constructs a Pool, pre-warming MinSize runtimes. newUtilities, if non-nil,
// is called on every freshly created runtime to install native Go bindings (require,
// console, etc.) before it is ever handed to a caller.
func NewPool(cfg PoolConfig, newUtilities func(vm *goja.Runtime)) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		free:         make(chan *pooledVM, cfg.MaxSize),
		cfg:          cfg,
		newUtilities: newUtilities,
	}
	for i := 0; i < cfg.MinSize; i++ {
		pv, err := p.createVM()
		if err != nil {
			return nil, err
		}
		p.free <- pv
	}
	return p, nil
}

func (p *Pool) createVM() (*pooledVM, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if p.newUtilities != nil {
		p.newUtilities(vm)
	}
	p.mu.Lock()
	p.currentSize++
	p.mu.Unlock()
	atomic.AddInt64(&p.totalCreated, 1)
	return &pooledVM{vm: vm}, nil
}

// Acquire returns a runtime from the pool, creating a new one if under MaxSize and
// none is immediately free, or blocking (subject to ctx) until one is released.
func (p *Pool) Acquire(ctx context.Context) (*pooledVM, error) {
	select {
	case pv := <-p.free:
		atomic.AddInt64(&p.totalAcquired, 1)
		return pv, nil
	default:
	}

	p.mu.Lock()
	canCreate := p.currentSize < p.cfg.MaxSize
	p.mu.Unlock()
	if canCreate {
		pv, err := p.createVM()
		if err != nil {
			return nil, err
		}
		atomic.AddInt64(&p.totalAcquired, 1)
		return pv, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	select {
	case pv := <-p.free:
		atomic.AddInt64(&p.totalAcquired, 1)
		return pv, nil
	case <-acquireCtx.Done():
		return nil, fmt.Errorf("handler: timed out acquiring a VM from the pool: %w", acquireCtx.Err())
	}
}

// Release returns pv to the pool, or destroys it (and lets the next Acquire create a
// replacement) once its reuse count has reached MaxReuseCount.
func (p *Pool) Release(pv *pooledVM) {
	pv.reuseCount++
	atomic.AddInt64(&p.totalReleased, 1)

	if pv.reuseCount >= p.cfg.MaxReuseCount {
		p.mu.Lock()
		p.currentSize--
		p.mu.Unlock()
		return
	}

	select {
	case p.free <- pv:
	default:
		// pool is full; drop it rather than block the releasing goroutine
		p.mu.Lock()
		p.currentSize--
		p.mu.Unlock()
	}
}

// Stats reports pool counters for diagnostics and tests.
type Stats struct {
	CurrentSize   int
	TotalCreated  int64
	TotalAcquired int64
	TotalReleased int64
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		CurrentSize:   p.currentSize,
		TotalCreated:  atomic.LoadInt64(&p.totalCreated),
		TotalAcquired: atomic.LoadInt64(&p.totalAcquired),
		TotalReleased: atomic.LoadInt64(&p.totalReleased),
	}
}
