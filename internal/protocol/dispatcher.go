package protocol

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/wire"
)

// Dispatcher routes replies from the tool server to the callers waiting on
// them. It holds the pending request table: one single-slot channel per
// outstanding request id.
//
// Delivery is exactly-once: the entry is claimed and removed under the lock
// before the reply is sent, so a duplicate or late reply finds nothing and
// is dropped.
type Dispatcher struct {
	log *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	closeOnce sync.Once
	done      chan struct{}
}

// pendingRequest tracks an outgoing request awaiting its reply.
type pendingRequest struct {
	tool     string
	response chan *wire.Inbound
	sentAt   time.Time
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log:     log.With("component", "dispatcher"),
		pending: make(map[string]*pendingRequest, 10),
		done:    make(chan struct{}),
	}
}

// Register adds a pending entry for id and returns the channel its reply
// will arrive on, plus a cancel func that removes the entry if the caller
// gives up. Cancel is safe to call after delivery.
func (d *Dispatcher) Register(id, tool string) (<-chan *wire.Inbound, func(), error) {
	response := make(chan *wire.Inbound, 1)

	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if _, exists := d.pending[id]; exists {
		return nil, nil, fmt.Errorf("request id %s already pending", id)
	}

	d.pending[id] = &pendingRequest{
		tool:     tool,
		response: response,
		sentAt:   time.Now(),
	}

	cancel := func() {
		d.pendingMu.Lock()
		defer d.pendingMu.Unlock()

		if p, ok := d.pending[id]; ok && p.response == response {
			delete(d.pending, id)
		}
	}

	return response, cancel, nil
}

// Deliver hands msg to the caller waiting for msg.ID. It never blocks.
//
// An error reply without an id is attributed to the single outstanding
// request when exactly one exists; otherwise it cannot be routed. Returns
// false when no waiter was found.
func (d *Dispatcher) Deliver(msg *wire.Inbound) bool {
	id := msg.ID

	d.pendingMu.Lock()

	if id == "" && msg.Kind == wire.KindError && len(d.pending) == 1 {
		for only := range d.pending {
			id = only
		}
	}

	pending, exists := d.pending[id]
	if exists {
		delete(d.pending, id)
	}

	d.pendingMu.Unlock()

	if !exists {
		if msg.ID == "" {
			d.log.Warn("Dropping error without request id", "error", msg.Error)
		} else {
			d.log.Debug("No pending request for reply", "request_id", msg.ID, "kind", msg.Kind)
		}

		return false
	}

	d.log.Debug("Delivering reply",
		"request_id", id,
		"tool", pending.tool,
		"kind", msg.Kind,
		"elapsed", time.Since(pending.sentAt),
	)

	// We own the entry now; the channel has one slot and only we send on it.
	pending.response <- msg

	return true
}

// Fail stores err and wakes every waiter. Subsequent calls keep the first
// error. The stored error always matches errors.ErrTransportClosed.
func (d *Dispatcher) Fail(err error) {
	if err == nil {
		err = errors.ErrTransportClosed
	} else if !stderrors.Is(err, errors.ErrTransportClosed) {
		err = fmt.Errorf("%w: %w", errors.ErrTransportClosed, err)
	}

	d.errMu.Lock()

	if d.fatalErr == nil {
		d.fatalErr = err
	}

	d.errMu.Unlock()

	d.closeOnce.Do(func() {
		close(d.done)
	})

	d.pendingMu.Lock()
	clear(d.pending)
	d.pendingMu.Unlock()
}

// Err returns the error passed to Fail, or nil.
func (d *Dispatcher) Err() error {
	d.errMu.RLock()
	defer d.errMu.RUnlock()

	return d.fatalErr
}

// Done is closed once Fail has been called.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of outstanding requests.
func (d *Dispatcher) Pending() int {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	return len(d.pending)
}
