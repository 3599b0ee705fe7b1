package streampool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// ErrPoolExhausted is returned by Acquire when every pooled connection is
// dead. The caller decides whether to degrade (queue fallback) or surface it.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrPoolClosed is returned after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Conn is a single live connection to the stream cluster. Implementations
// must be safe for concurrent publish: Acquire hands out shared handles.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsConnected() bool
	Close()
}

// DialFunc establishes one connection for the given stream configuration.
type DialFunc func(cfg *models.StreamConfig) (Conn, error)

const (
	defaultReconnectBase = 1 * time.Second
	defaultReconnectCap  = 30 * time.Second
)

// Pool maintains a fixed-size set of connections to the stream cluster and
// assigns publishes across them round-robin. Dead connections are excluded
// from rotation and re-dialed in the background with exponential backoff
// until restored.
type Pool struct {
	cfg    *models.StreamConfig
	dial   DialFunc
	logger *zap.Logger

	reconnectBase time.Duration
	reconnectCap  time.Duration

	slots []*slot
	next  uint64

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// slot holds per-connection state. Each slot has its own lock so publish
// dispatch never takes a global lock across all pooled connections.
type slot struct {
	mu           sync.Mutex
	conn         Conn
	dead         bool
	reconnecting bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialFunc overrides how connections are established.
func WithDialFunc(dial DialFunc) Option {
	return func(p *Pool) { p.dial = dial }
}

// WithReconnectBackoff overrides the reconnect backoff schedule.
func WithReconnectBackoff(base, cap time.Duration) Option {
	return func(p *Pool) {
		p.reconnectBase = base
		p.reconnectCap = cap
	}
}

// New dials cfg.PoolSize connections. Connections that fail to dial at
// startup are marked dead and recovered in the background, so a partially
// reachable cluster still yields a working pool.
func New(cfg *models.StreamConfig, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stream config is required")
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 10
	}

	p := &Pool{
		cfg:           cfg,
		dial:          dialNATS,
		logger:        logger,
		reconnectBase: defaultReconnectBase,
		reconnectCap:  defaultReconnectCap,
		slots:         make([]*slot, size),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := range p.slots {
		p.slots[i] = &slot{}
		conn, err := p.dial(cfg)
		if err != nil {
			p.logger.Warn("Failed to establish pooled connection, will retry in background",
				zap.Int("slot", i),
				zap.Error(err),
			)
			p.slots[i].dead = true
			p.startReconnect(p.slots[i], i)
			continue
		}
		p.slots[i].conn = conn
	}

	return p, nil
}

// Acquire returns a live connection using round-robin assignment. It never
// blocks: a dead connection is skipped (and queued for reconnection) and the
// next candidate is tried. When all connections are dead it fails with
// ErrPoolExhausted.
func (p *Pool) Acquire() (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	n := len(p.slots)
	start := atomic.AddUint64(&p.next, 1)

	for i := 0; i < n; i++ {
		idx := int((start + uint64(i)) % uint64(n))
		s := p.slots[idx]

		s.mu.Lock()
		if s.dead || s.conn == nil {
			s.mu.Unlock()
			continue
		}
		if !s.conn.IsConnected() {
			s.dead = true
			s.mu.Unlock()
			p.logger.Warn("Pooled connection lost, scheduling reconnect",
				zap.Int("slot", idx),
			)
			p.startReconnect(s, idx)
			continue
		}
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}

	return nil, ErrPoolExhausted
}

// Release returns a connection to the pool. Connections are shared handles,
// not exclusively owned, so this is a no-op; it exists to keep call sites
// symmetric with Acquire.
func (p *Pool) Release(Conn) {}

// Publish acquires a connection and publishes data on subject.
func (p *Pool) Publish(ctx context.Context, subject string, data []byte) error {
	conn, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return conn.Publish(ctx, subject, data)
}

// Healthy reports whether at least one pooled connection is live.
func (p *Pool) Healthy() bool {
	for _, s := range p.slots {
		s.mu.Lock()
		ok := !s.dead && s.conn != nil && s.conn.IsConnected()
		s.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// startReconnect spawns at most one background reconnect task per slot. The
// closed check and wg.Add happen under the pool lock so a task can never be
// added while Close is waiting on the group.
func (p *Pool) startReconnect(s *slot, idx int) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.reconnect(s, idx)
}

// reconnect re-dials a dead slot with exponential backoff until restored or
// the pool is closed.
func (p *Pool) reconnect(s *slot, idx int) {
	defer p.wg.Done()

	backoff := p.reconnectBase
	attempt := 0

	for {
		select {
		case <-p.stop:
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			return
		case <-time.After(backoff):
		}

		attempt++
		conn, err := p.dial(p.cfg)
		if err != nil {
			p.logger.Warn("Failed to reconnect pooled connection, retrying...",
				zap.Int("slot", idx),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			backoff *= 2
			if backoff > p.reconnectCap {
				backoff = p.reconnectCap
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.dead = false
		s.reconnecting = false
		s.mu.Unlock()

		p.logger.Info("Pooled connection restored",
			zap.Int("slot", idx),
			zap.Int("attempt", attempt),
		)
		return
	}
}

// Close stops reconnect tasks and closes every live connection.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()

	for _, s := range p.slots {
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.dead = true
		s.mu.Unlock()
	}
}
