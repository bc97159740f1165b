package syncres

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/logging"
)

// Registry hands out named locks bound to one scope.
//
// The scope identifies the execution context that owns the locks, such
// as a scheduler run. When a lock created under an earlier scope is
// looked up after the registry was rebound, the stale lock is discarded
// and rebuilt for the current scope. A lock held across a rebind would
// otherwise deadlock its next user.
type Registry struct {
	mu    sync.Mutex
	scope string
	locks map[string]*Lock

	logger  *logging.Logger
	metrics *Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for lock warnings.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches lock acquisition metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry builds a registry for the given scope identifier.
func NewRegistry(scope string, opts ...Option) *Registry {
	r := &Registry{
		scope:  scope,
		locks:  make(map[string]*Lock),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the lock registered under name, creating it on first use.
// A lock surviving from a different scope is replaced with a fresh one.
func (r *Registry) Get(name string) *Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[name]
	if ok && lock.scope == r.scope {
		return lock
	}
	if ok {
		r.logger.Warn(context.Background(), "rebuilding lock from stale scope",
			zap.String("lock", name),
			zap.String("lock_scope", lock.scope),
			zap.String("registry_scope", r.scope),
		)
	}
	lock = newLock(name, r.scope, r.logger, r.metrics)
	r.locks[name] = lock
	return lock
}

// Scope returns the registry's current scope identifier.
func (r *Registry) Scope() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

// Rebind moves the registry to a new scope. Existing locks stay in the
// map and are rebuilt lazily on next Get.
func (r *Registry) Rebind(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scope = scope
}

// Close drops all locks. Callers must not use locks obtained before
// Close.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = make(map[string]*Lock)
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry used for locks shared across
// worker goroutines.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry("global")
	})
	return global
}
