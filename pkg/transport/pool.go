package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// CommandObserver is told about every command a pool runs
type CommandObserver func(command string, err error, elapsed time.Duration)

// SessionPool is an Executor that keeps authenticated SSH connections to one
// array and hands them out one command at a time.
type SessionPool struct {
	config   Config
	hostKey  ssh.HostKeyCallback
	maxIdle  int
	idleTime time.Duration
	limiter  *rate.Limiter
	breakers *HostBreakers
	observer CommandObserver
	dial     func(ctx context.Context) (*sshConn, error)

	mu     sync.Mutex
	idle   []pooledConnection
	slots  chan struct{}
	closed bool
}

// pooledConnection wraps a connection with metadata
type pooledConnection struct {
	conn     *sshConn
	lastUsed time.Time
}

// PoolConfig configures the session pool
type PoolConfig struct {
	// MaxSize is the maximum number of connections in use at once
	MaxSize int

	// MaxIdle is the maximum number of idle connections kept open
	MaxIdle int

	// IdleTimeout is how long a connection can be idle before closing
	IdleTimeout time.Duration

	// RateLimit is the maximum number of new connections per second
	RateLimit float64

	// RateBurst is the burst size for rate limiting
	RateBurst int

	// Breakers is shared between pools; a private set is created when nil
	Breakers *HostBreakers

	// Observer is called after every command, may be nil
	Observer CommandObserver
}

// NewSessionPool creates a pool for the array described by cfg. No connection
// is opened until the first command.
func NewSessionPool(cfg Config, poolCfg PoolConfig) (*SessionPool, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	if poolCfg.MaxSize <= 0 {
		poolCfg.MaxSize = 4
	}
	if poolCfg.MaxIdle <= 0 {
		poolCfg.MaxIdle = 2
	}
	if poolCfg.MaxIdle > poolCfg.MaxSize {
		poolCfg.MaxIdle = poolCfg.MaxSize
	}
	if poolCfg.IdleTimeout == 0 {
		poolCfg.IdleTimeout = 5 * time.Minute
	}
	if poolCfg.RateLimit <= 0 {
		poolCfg.RateLimit = 2.0
	}
	if poolCfg.RateBurst <= 0 {
		poolCfg.RateBurst = poolCfg.MaxSize
	}
	if poolCfg.Breakers == nil {
		poolCfg.Breakers = NewHostBreakers()
	}

	hostKey := cfg.HostKeyCallback
	switch {
	case hostKey != nil:
		klog.V(4).Info("Using custom host key verification")
	case cfg.InsecureSkipVerify:
		hostKey = ssh.InsecureIgnoreHostKey()
		klog.Warning("INSECURE: Skipping SSH host key verification - not recommended for production")
	default:
		hostKey = (&pinnedHostKey{}).callback
	}

	p := &SessionPool{
		config:   cfg,
		hostKey:  hostKey,
		maxIdle:  poolCfg.MaxIdle,
		idleTime: poolCfg.IdleTimeout,
		limiter:  rate.NewLimiter(rate.Limit(poolCfg.RateLimit), poolCfg.RateBurst),
		breakers: poolCfg.Breakers,
		observer: poolCfg.Observer,
		idle:     make([]pooledConnection, 0, poolCfg.MaxIdle),
		slots:    make(chan struct{}, poolCfg.MaxSize),
	}
	p.dial = func(ctx context.Context) (*sshConn, error) {
		return dialSSH(ctx, &p.config, p.hostKey)
	}

	klog.V(4).Infof("Created session pool for %s: maxSize=%d, maxIdle=%d, rateLimit=%.1f/s",
		utils.SanitizeErrorMessage(cfg.Address()), poolCfg.MaxSize, poolCfg.MaxIdle, poolCfg.RateLimit)

	return p, nil
}

// Execute runs command on the array. The command is bounded by the configured
// command timeout and by ctx, whichever ends first.
func (p *SessionPool) Execute(ctx context.Context, command string) (string, error) {
	label := CommandLabel(command)
	ctx, cancel := context.WithTimeout(ctx, p.config.CommandTimeout)
	defer cancel()

	start := time.Now()
	var output string
	err := p.breakers.Execute(p.config.Address(), label, func() error {
		conn, err := p.get(ctx)
		if err != nil {
			return err
		}
		out, err := conn.run(ctx, command)
		p.put(conn, err)
		output = out
		return err
	})

	if p.observer != nil {
		p.observer(label, err, time.Since(start))
	}
	return output, err
}

// get acquires a connection, reusing an idle one when possible
func (p *SessionPool) get(ctx context.Context) (*sshConn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, utils.NewTransportError("acquire session", fmt.Errorf("no free session: %w", ctx.Err()))
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, utils.NewTransportError("acquire session", ErrPoolClosed)
	}

	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if time.Since(pc.lastUsed) > p.idleTime || !pc.conn.alive() {
			p.mu.Unlock()
			klog.V(5).Info("Closing stale idle connection")
			_ = pc.conn.close()
			p.mu.Lock()
			continue
		}

		p.mu.Unlock()
		klog.V(5).Info("Reusing idle connection from pool")
		return pc.conn, nil
	}
	p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		<-p.slots
		return nil, utils.NewTransportError("acquire session", fmt.Errorf("rate limit wait failed: %w", err))
	}

	klog.V(5).Info("Creating new connection")
	conn, err := p.dial(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return conn, nil
}

// put returns a connection to the pool. Connections that failed at the
// transport level are closed instead of kept.
func (p *SessionPool) put(conn *sshConn, runErr error) {
	defer func() { <-p.slots }()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle) >= p.maxIdle || utils.IsTransportError(runErr) {
		klog.V(5).Info("Closing connection (pool closed, full or connection failed)")
		_ = conn.close()
		return
	}

	p.idle = append(p.idle, pooledConnection{conn: conn, lastUsed: time.Now()})
	klog.V(5).Infof("Returned connection to pool (idle: %d)", len(p.idle))
}

// Idle returns the number of idle connections
func (p *SessionPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes all idle connections and shuts down the pool. Connections in
// use are closed when they are returned.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, pc := range p.idle {
		if err := pc.conn.close(); err != nil {
			klog.Warningf("Error closing idle connection: %v", err)
		}
	}
	p.idle = nil

	klog.V(4).Info("Session pool closed")
	return nil
}
