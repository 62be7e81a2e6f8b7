package provider

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	Connecting State = iota
	Live
	Errored
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handle is a shared, read-only view of one connection. Readers never mutate it.
type Handle struct {
	key       string
	endpoints []string
	backend   Backend
	closeFn   func()

	state      atomic.Int32
	superseded atomic.Bool
	lastBlock  atomic.Uint64

	chainMu sync.Mutex
	chainID *big.Int

	pollInterval time.Duration

	mu     sync.Mutex
	poller *blockPoller
	subs   map[*BlockSubscription]struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newHandle(key string, endpoints []string, backend Backend, closeFn func(), chainID *big.Int, poll time.Duration) *Handle {
	h := &Handle{
		key:          key,
		endpoints:    append([]string(nil), endpoints...),
		backend:      backend,
		closeFn:      closeFn,
		pollInterval: poll,
		subs:         make(map[*BlockSubscription]struct{}),
		closed:       make(chan struct{}),
	}
	if chainID != nil {
		h.chainID = new(big.Int).Set(chainID)
		h.state.Store(int32(Live))
	} else {
		h.state.Store(int32(Connecting))
	}
	return h
}

func (h *Handle) Key() string { return h.key }

// Endpoints lists the backing endpoint(s); empty for injected connectors.
func (h *Handle) Endpoints() []string {
	return append([]string(nil), h.endpoints...)
}

func (h *Handle) Backend() Backend { return h.backend }

func (h *Handle) State() State { return State(h.state.Load()) }

// Superseded reports whether a newer handle replaced this one for the same source.
func (h *Handle) Superseded() bool { return h.superseded.Load() }

func (h *Handle) LastBlockNumber() uint64 { return h.lastBlock.Load() }

// Done is closed when the handle is closed; long-running work bound to the handle
// must stop then.
func (h *Handle) Done() <-chan struct{} { return h.closed }

// KnownChainID returns the chain id if it was already fetched, without I/O.
func (h *Handle) KnownChainID() (*big.Int, bool) {
	h.chainMu.Lock()
	defer h.chainMu.Unlock()
	if h.chainID == nil {
		return nil, false
	}
	return new(big.Int).Set(h.chainID), true
}

// ChainID blocks until the connection answers. Once fetched the value never changes
// for this handle; failures are not cached.
func (h *Handle) ChainID(ctx context.Context) (*big.Int, error) {
	h.chainMu.Lock()
	defer h.chainMu.Unlock()

	if h.chainID != nil {
		return new(big.Int).Set(h.chainID), nil
	}
	select {
	case <-h.closed:
		return nil, &ConnectionError{Endpoint: h.describe(), Err: errHandleClosed}
	default:
	}

	id, err := h.backend.ChainID(ctx)
	if err != nil {
		h.state.Store(int32(Errored))
		return nil, &ConnectionError{Endpoint: h.describe(), Err: err}
	}
	h.chainID = new(big.Int).Set(id)
	h.state.Store(int32(Live))
	return new(big.Int).Set(id), nil
}

func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)

		h.mu.Lock()
		subs := make([]*BlockSubscription, 0, len(h.subs))
		for s := range h.subs {
			subs = append(subs, s)
		}
		h.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}

		if h.closeFn != nil {
			h.closeFn()
		}
	})
}

func (h *Handle) describe() string {
	if len(h.endpoints) > 0 {
		return h.endpoints[0]
	}
	return h.key
}
