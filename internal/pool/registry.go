// Package pool implements the Thread-Pool Registry: a singleton
// owning two named, bounded worker pools and a coordinated, idempotent
// shutdown protocol. Cancellation is cooperative — a pool never force-kills
// a worker goroutine; it only observes whether workers exited in time.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"kingo/internal/constants"
	apperr "kingo/internal/errors"

	"github.com/rs/zerolog"
)

// CancelToken is a writable one-shot flag a worker observes cooperatively.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel sets the token. Idempotent.
func (c *CancelToken) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (c *CancelToken) Cancelled() bool { return c.cancelled.Load() }

// Outcome classifies how a submitted unit of work finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

// CompletionHandle observes the result of one Submit call.
type CompletionHandle struct {
	done    chan struct{}
	mu      sync.Mutex
	outcome Outcome
	err     error
}

// Done returns a channel closed once the submitted work has finished.
func (h *CompletionHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the work finishes and returns its outcome.
func (h *CompletionHandle) Wait() (Outcome, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}

func (h *CompletionHandle) finish(outcome Outcome, err error) {
	h.mu.Lock()
	h.outcome = outcome
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// WorkFunc is a unit of work submitted to a Pool. It must observe token at
// cooperative checkpoints and return promptly once token.Cancelled(). A
// non-nil return is treated as OutcomeFailed unless the token was cancelled,
// in which case cancellation takes precedence over any returned error.
type WorkFunc func(token *CancelToken) error

// Pool is one named, bounded worker pool.
type Pool struct {
	name    string
	size    int
	log     *zerolog.Logger
	sem     chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	seq     atomic.Uint64
	mu      sync.Mutex
	tokens  map[uint64]*CancelToken
}

func newPool(name string, size int, log *zerolog.Logger) *Pool {
	return &Pool{
		name:   name,
		size:   size,
		log:    log,
		sem:    make(chan struct{}, size),
		tokens: make(map[uint64]*CancelToken),
	}
}

// Submit runs fn on a worker goroutine named "<pool>-worker-<n>" for
// diagnostics, bounded to at most size concurrent workers. Returns a handle
// observing completion and the cancellation token fn must honor.
func (p *Pool) Submit(fn WorkFunc) (*CompletionHandle, *CancelToken, error) {
	if p.closed.Load() {
		return nil, nil, apperr.ErrPoolClosed
	}

	token := NewCancelToken()
	handle := &CompletionHandle{done: make(chan struct{})}
	id := p.seq.Add(1)
	workerName := p.name + "-worker-" + itoa(id%uint64(p.size))

	p.mu.Lock()
	p.tokens[id] = token
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.tokens, id)
			p.mu.Unlock()
		}()

		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		if p.log != nil {
			p.log.Debug().Str("worker", workerName).Msg("worker started")
		}

		outcome, err := p.run(fn, token)
		handle.finish(outcome, err)
	}()

	return handle, token, nil
}

func (p *Pool) run(fn WorkFunc, token *CancelToken) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = panicToError(r)
		}
	}()
	workErr := fn(token)
	if token.Cancelled() {
		return OutcomeCancelled, nil
	}
	if workErr != nil {
		return OutcomeFailed, workErr
	}
	return OutcomeSuccess, nil
}

// ActiveCount reports how many submitted units of work have not yet finished,
// including those still waiting for a free worker slot. For diagnostics.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// shutdown closes the pool to new submissions, cancels every in-flight
// worker's token, and waits up to timeout for them to exit cooperatively.
func (p *Pool) shutdown(timeout time.Duration) bool {
	p.closed.Store(true)

	p.mu.Lock()
	for _, tok := range p.tokens {
		tok.Cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Registry is the process-wide singleton owning the download and search
// pools. Each pool is created lazily, race-free, on first access.
type Registry struct {
	log *zerolog.Logger

	downloadOnce sync.Once
	downloadPool *Pool

	searchOnce sync.Once
	searchPool *Pool

	closed atomic.Bool
}

// NewRegistry constructs a Registry. log may be nil in tests.
func NewRegistry(log *zerolog.Logger) *Registry {
	return &Registry{log: log}
}

// DownloadPool returns the lazily-initialized download worker pool.
func (r *Registry) DownloadPool() (*Pool, error) {
	if r.closed.Load() {
		return nil, apperr.ErrPoolClosed
	}
	r.downloadOnce.Do(func() {
		r.downloadPool = newPool(constants.DownloadPoolName, constants.DownloadPoolSize, r.log)
	})
	return r.downloadPool, nil
}

// SearchPool returns the lazily-initialized search worker pool.
func (r *Registry) SearchPool() (*Pool, error) {
	if r.closed.Load() {
		return nil, apperr.ErrPoolClosed
	}
	r.searchOnce.Do(func() {
		r.searchPool = newPool(constants.SearchPoolName, constants.SearchPoolSize, r.log)
	})
	return r.searchPool, nil
}

// Shutdown initiates non-blocking shutdown of both pools and waits up to
// timeout for in-flight workers to observe their cancellation tokens and
// exit. Returns true iff every worker exited within timeout. Idempotent.
func (r *Registry) Shutdown(timeout time.Duration) bool {
	r.closed.Store(true)

	deadline := time.Now().Add(timeout)
	var wg sync.WaitGroup
	okDownload, okSearch := true, true

	if r.downloadPool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			okDownload = r.downloadPool.shutdown(remaining(deadline))
		}()
	}
	if r.searchPool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			okSearch = r.searchPool.shutdown(remaining(deadline))
		}()
	}
	wg.Wait()

	if r.log != nil {
		r.log.Info().Bool("downloadOK", okDownload).Bool("searchOK", okSearch).Msg("thread pool registry shutdown complete")
	}
	return okDownload && okSearch
}

func remaining(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return apperr.NewWithMessage("pool.run", apperr.ErrDownloadFailed, toString(r))
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "worker panicked"
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
