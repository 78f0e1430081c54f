// Package runtime drives dialogue sessions: it receives user messages,
// routes them through understanding, executes compiled flow graphs until the
// next suspension, and checkpoints the resulting state. One Runtime serves
// many sessions concurrently; each session processes at most one turn at a
// time.
package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sonilabs/soni/internal/checkpoint"
	"github.com/sonilabs/soni/internal/flow"
	"github.com/sonilabs/soni/internal/logging"
	"github.com/sonilabs/soni/internal/nlu"
	"github.com/sonilabs/soni/internal/registry"
	"github.com/sonilabs/soni/internal/response"
)

// ErrTurnInFlight is returned under LockReject when a turn arrives while the
// session is still processing the previous one.
var ErrTurnInFlight = errors.New("session is processing another turn")

// LockPolicy selects what happens when turns overlap on one session.
type LockPolicy string

const (
	// LockWait queues the turn until the session is free.
	LockWait LockPolicy = "wait"
	// LockReject fails the turn immediately with ErrTurnInFlight.
	LockReject LockPolicy = "reject"
)

// Runtime executes dialogue turns against a compiled configuration.
type Runtime struct {
	cfg       *flow.Config
	store     checkpoint.Store
	registry  *registry.Registry
	normCache *registry.NormCache
	und       nlu.Understander
	responses *response.Catalog
	log       *log.Logger

	lockPolicy   LockPolicy
	streamBuffer int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithStore sets the checkpoint store. Defaults to the in-memory store.
func WithStore(s checkpoint.Store) Option {
	return func(r *Runtime) { r.store = s }
}

// WithUnderstander sets the NLU implementation. Defaults to the keyword
// matcher.
func WithUnderstander(u nlu.Understander) Option {
	return func(r *Runtime) { r.und = u }
}

// WithRegistry sets the handler registry. Defaults to the builtins.
func WithRegistry(reg *registry.Registry) Option {
	return func(r *Runtime) { r.registry = reg }
}

// WithNormCache sets the normalization cache. Nil disables caching.
func WithNormCache(c *registry.NormCache) Option {
	return func(r *Runtime) { r.normCache = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithLockPolicy sets the overlapping-turn policy. Defaults to LockWait.
func WithLockPolicy(p LockPolicy) Option {
	return func(r *Runtime) { r.lockPolicy = p }
}

// WithStreamBuffer sets the event channel capacity for StreamTurn.
func WithStreamBuffer(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.streamBuffer = n
		}
	}
}

// New creates a Runtime for a compiled configuration.
func New(cfg *flow.Config, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:          cfg,
		store:        checkpoint.NewMemory(),
		registry:     registry.Builtin(),
		normCache:    registry.NewNormCache(1024, 10*time.Minute),
		und:          nlu.NewKeyword(),
		log:          logging.New("runtime"),
		lockPolicy:   LockWait,
		streamBuffer: 64,
	}
	r.responses = response.New(cfg.Doc)
	r.locks = map[string]*sync.Mutex{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// acquire takes the session's turn lock per the configured policy. The
// returned release must be called when the turn ends.
func (r *Runtime) acquire(sessionID string) (release func(), err error) {
	r.mu.Lock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[sessionID] = lock
	}
	r.mu.Unlock()

	if r.lockPolicy == LockReject {
		if !lock.TryLock() {
			return nil, ErrTurnInFlight
		}
		return lock.Unlock, nil
	}
	lock.Lock()
	return lock.Unlock, nil
}
