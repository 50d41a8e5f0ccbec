// Package database owns the per-tenant storage handle pool: one pgx pool
// per tenant, created lazily, kept warm, evicted on disconnect or error.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"restohub/internal/common/config"
	"restohub/internal/common/logger"
	"restohub/internal/domain"
)

type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateErrored      State = "errored"
)

const (
	dialAttempts = 3
	dialDelay    = 2 * time.Second
)

// Handle is one tenant's live storage handle plus health state and the
// subscriber reference count used by the change broadcaster.
type Handle struct {
	tenant string
	Pool   *pgxpool.Pool

	mu      sync.Mutex
	state   State
	refs    int
	onState func(tenant string, s State)
}

func (h *Handle) Tenant() string { return h.tenant }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// MarkState records a state-change event. The registry hook evicts the
// handle on anything other than connected, so the next Acquire re-creates it.
func (h *Handle) MarkState(s State) {
	h.mu.Lock()
	if h.state == s {
		h.mu.Unlock()
		return
	}
	h.state = s
	hook := h.onState
	h.mu.Unlock()
	if hook != nil {
		hook(h.tenant, s)
	}
}

// Retain increments the subscriber reference count.
func (h *Handle) Retain() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs++
	return h.refs
}

// ReleaseRef decrements the subscriber reference count.
func (h *Handle) ReleaseRef() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
	return h.refs
}

func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// Registry owns every tenant handle. Handles are created on first use and
// released only on disconnect/error events or CloseAll, never per request.
type Registry struct {
	cfg       config.Database
	tenantDSN func(tenant string) string // "" means derive from cfg
	lg        *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle

	// injectable for tests
	dial    func(ctx context.Context, dsn string) (*pgxpool.Pool, error)
	migrate func(dsn string) error
}

func NewRegistry(cfg config.Database, tenantDSN func(string) string, lg *logger.Logger) *Registry {
	r := &Registry{
		cfg:       cfg,
		tenantDSN: tenantDSN,
		lg:        lg,
		handles:   make(map[string]*Handle),
	}
	r.dial = r.dialPool
	r.migrate = func(dsn string) error { return runMigrations(dsn, cfg.MigrationsPath) }
	return r
}

// Acquire returns the tenant's healthy handle, opening a new one on first
// use. A store unreachable within the bounded dial loop fails the caller
// with a ConnectivityError; the registry never retries silently beyond it.
func (r *Registry) Acquire(ctx context.Context, tenant string) (*Handle, error) {
	key := domain.NormalizeTenant(tenant)
	if key == "" {
		return nil, fmt.Errorf("empty tenant id")
	}

	r.mu.Lock()
	if h, ok := r.handles[key]; ok {
		if h.State() == StateConnected {
			r.mu.Unlock()
			return h, nil
		}
		delete(r.handles, key)
		h.Pool.Close()
	}
	r.mu.Unlock()

	dsn := r.dsnFor(key)
	pool, err := r.open(ctx, key, dsn)
	if err != nil {
		return nil, &domain.ConnectivityError{Tenant: key, Err: err}
	}
	if err := r.migrate(dsn); err != nil {
		pool.Close()
		return nil, &domain.ConnectivityError{Tenant: key, Err: fmt.Errorf("migrate: %w", err)}
	}

	h := &Handle{tenant: key, Pool: pool, state: StateConnected, onState: r.onHandleState}

	r.mu.Lock()
	// Lost a race with a concurrent Acquire: keep the first one.
	if existing, ok := r.handles[key]; ok && existing.State() == StateConnected {
		r.mu.Unlock()
		pool.Close()
		return existing, nil
	}
	r.handles[key] = h
	r.mu.Unlock()

	r.lg.Info("tenant_handle_opened", map[string]any{"tenant": key})
	return h, nil
}

// ReleaseRef drops one subscriber reference from a tenant's handle if it
// is still registered. Evicted handles are already gone; that is fine.
func (r *Registry) ReleaseRef(tenant string) {
	key := domain.NormalizeTenant(tenant)
	r.mu.Lock()
	h, ok := r.handles[key]
	r.mu.Unlock()
	if ok {
		h.ReleaseRef()
	}
}

func (r *Registry) onHandleState(tenant string, s State) {
	if s == StateConnected {
		return
	}
	r.lg.Warn("tenant_handle_evicted", map[string]any{"tenant": tenant, "state": string(s)})
	r.mu.Lock()
	if h, ok := r.handles[tenant]; ok {
		delete(r.handles, tenant)
		h.Pool.Close()
	}
	r.mu.Unlock()
}

// open dials with a small bounded retry loop, each attempt gated by the
// configured connect timeout and the caller's ctx.
func (r *Registry) open(ctx context.Context, tenant, dsn string) (*pgxpool.Pool, error) {
	var lastErr error
	for i := 1; i <= dialAttempts; i++ {
		dctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout())
		pool, err := r.dial(dctx, dsn)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		r.lg.Warn("tenant_dial_retry", map[string]any{"tenant": tenant, "attempt": i})
		select {
		case <-time.After(dialDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("unreachable after %d attempts: %w", dialAttempts, lastErr)
}

func (r *Registry) dialPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pc.MaxConns = r.cfg.PoolSize
	pc.MaxConnIdleTime = r.cfg.IdleTimeout()
	pc.ConnConfig.ConnectTimeout = r.cfg.ConnectTimeout()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (r *Registry) dsnFor(tenant string) string {
	if r.tenantDSN != nil {
		if dsn := r.tenantDSN(tenant); dsn != "" {
			return dsn
		}
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s_%s",
		r.cfg.User, r.cfg.Pass, r.cfg.Host, r.cfg.Port, r.cfg.Name, tenant)
}

// CloseAll drains every handle during orderly shutdown. pgxpool.Close
// waits for acquired connections to be released.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			h.Pool.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.lg.Warn("close_all_timeout", nil)
	}
}

func runMigrations(dsn, path string) error {
	m, err := migrate.New("file://"+path, migrateURL(dsn))
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// migrateURL rewrites the DSN scheme for golang-migrate's pgx/v5 driver.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}
