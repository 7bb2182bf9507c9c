package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Token is the cancellation flag of one job. Workers poll it between units
// of work; Stop raises it.
type Token struct {
	jobID  string
	raised atomic.Bool
	flags  harvest.StopFlags
	logger *zap.Logger
}

// Raise marks the job as stop-requested.
func (t *Token) Raise() {
	t.raised.Store(true)
}

// StopRequested reports whether a stop was requested locally or through the
// shared mirror.
func (t *Token) StopRequested(ctx context.Context) bool {
	if t.raised.Load() {
		return true
	}
	if t.flags == nil {
		return false
	}
	ok, err := t.flags.Raised(ctx, t.jobID)
	if err != nil {
		t.logger.Debug("stop flag lookup failed", zap.String("job_id", t.jobID), zap.Error(err))
		return false
	}
	if ok {
		t.raised.Store(true)
	}
	return ok
}

// Registry tracks the tokens of active jobs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]*Token
	flags  harvest.StopFlags
	logger *zap.Logger
}

// NewRegistry builds an empty Registry. flags is optional.
func NewRegistry(flags harvest.StopFlags, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tokens: make(map[string]*Token),
		flags:  flags,
		logger: logger,
	}
}

// Register creates (or returns the existing) token for jobID.
func (r *Registry) Register(jobID string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok, ok := r.tokens[jobID]; ok {
		return tok
	}
	tok := r.newToken(jobID)
	r.tokens[jobID] = tok
	return tok
}

// Lookup returns the token of an active job.
func (r *Registry) Lookup(jobID string) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[jobID]
	return tok, ok
}

// Signal returns the stop signal for jobID. Jobs missing from the registry
// still observe the shared mirror.
func (r *Registry) Signal(jobID string) harvest.StopSignal {
	if tok, ok := r.Lookup(jobID); ok {
		return tok
	}
	return r.newToken(jobID)
}

// Raise sets the token of jobID when it is active and mirrors the request to
// the shared flags. It reports whether a local token was found.
func (r *Registry) Raise(ctx context.Context, jobID string) bool {
	tok, ok := r.Lookup(jobID)
	if ok {
		tok.Raise()
	}
	if r.flags != nil {
		if err := r.flags.Raise(ctx, jobID); err != nil {
			r.logger.Warn("mirror stop flag", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return ok
}

// Release forgets jobID and clears its mirrored flag.
func (r *Registry) Release(ctx context.Context, jobID string) {
	r.mu.Lock()
	delete(r.tokens, jobID)
	r.mu.Unlock()
	if r.flags != nil {
		if err := r.flags.Clear(ctx, jobID); err != nil {
			r.logger.Debug("clear stop flag", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// Len returns the number of active jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// Clear drops every token. Mirrored flags expire on their own.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.tokens)
}

func (r *Registry) newToken(jobID string) *Token {
	return &Token{jobID: jobID, flags: r.flags, logger: r.logger}
}
