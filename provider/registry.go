package provider

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/log"
)

const defaultProbeTimeout = 10 * time.Second

type Options struct {
	// Dial opens JSON-RPC endpoints. Defaults to ethclient.
	Dial Dialer
	// PollInterval is the block polling period for OnNewBlock.
	PollInterval time.Duration
	// RequestsPerSecond caps calls per handle; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	// ProbeTimeout bounds the eth_chainId probe of each candidate endpoint.
	ProbeTimeout time.Duration
}

// Registry produces handles and remembers the current one per source key
// (e.g. "local", "reference", "injected").
type Registry struct {
	opts Options

	mu      sync.Mutex
	current map[string]*Handle
	all     []*Handle
	closed  bool
}

func NewRegistry(opts Options) *Registry {
	if opts.Dial == nil {
		opts.Dial = DialEthClient
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	return &Registry{
		opts:    opts,
		current: make(map[string]*Handle),
	}
}

// Connect returns a new handle for key. With injected set, the handle wraps it.
// Otherwise endpoints are tried in order and the first one answering eth_chainId
// wins; there is no failover after that. The previous handle for key is marked
// superseded but stays usable for in-flight work.
func (r *Registry) Connect(ctx context.Context, key string, endpoints []string, injected Backend) (*Handle, error) {
	if injected != nil {
		return r.ConnectInjected(key, injected, nil)
	}

	candidates := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, &ConnectionError{Endpoint: key, Err: errors.New("no endpoints configured")}
	}

	var failures []string
	for _, url := range candidates {
		h, err := r.tryEndpoint(ctx, key, url)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, &ConnectionError{Endpoint: url, Err: ctx.Err()}
		}
		log.Warn("endpoint unavailable, trying next", "source", key, "url", url, "error", err)
		failures = append(failures, err.Error())
	}
	return nil, &ConnectionError{
		Endpoint: key,
		Err:      errors.Errorf("all %d endpoints failed: %s", len(candidates), strings.Join(failures, "; ")),
	}
}

// ConnectInjected wraps a wallet connector. knownChainID, when the wallet already
// reported it, seeds the handle so no round trip is needed.
func (r *Registry) ConnectInjected(key string, backend Backend, knownChainID *big.Int) (*Handle, error) {
	if backend == nil {
		return nil, errors.New("provider: nil injected backend")
	}
	h := newHandle(key, nil, withRateLimit(backend, r.opts.RequestsPerSecond, r.opts.Burst), nil, knownChainID, r.opts.PollInterval)
	if err := r.publish(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Registry) tryEndpoint(ctx context.Context, key, url string) (*Handle, error) {
	b, closeFn, err := r.opts.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	b = withRateLimit(b, r.opts.RequestsPerSecond, r.opts.Burst)

	probeCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()
	id, err := b.ChainID(probeCtx)
	if err != nil {
		if closeFn != nil {
			closeFn()
		}
		return nil, &ConnectionError{Endpoint: url, Err: err}
	}

	h := newHandle(key, []string{url}, b, closeFn, id, r.opts.PollInterval)
	if err := r.publish(h); err != nil {
		h.Close()
		return nil, err
	}
	log.Info("provider connected", "source", key, "url", url, "chainId", id.String())
	return h, nil
}

func (r *Registry) publish(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("provider: registry closed")
	}
	if prev := r.current[h.key]; prev != nil {
		prev.superseded.Store(true)
	}
	r.current[h.key] = h
	r.all = append(r.all, h)
	return nil
}

// Current returns the latest handle for key, if any.
func (r *Registry) Current(key string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.current[key]
	return h, ok
}

// Release closes a handle that is no longer needed and forgets it.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if r.current[h.key] == h {
		delete(r.current, h.key)
	}
	for i, x := range r.all {
		if x == h {
			r.all = append(r.all[:i], r.all[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	h.Close()
}

func (r *Registry) Close() {
	r.mu.Lock()
	all := r.all
	r.all = nil
	r.current = make(map[string]*Handle)
	r.closed = true
	r.mu.Unlock()

	for _, h := range all {
		h.Close()
	}
}
