package wallet

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
)

const (
	DefaultProviderKey  = "injected"
	defaultEventTimeout = 30 * time.Second
	logoutCode          = 1000
)

// SignerChanged is published after a new InjectedSigner replaced the previous one.
type SignerChanged struct {
	Signer *InjectedSigner
	Cause  Event
}

// SessionEnded is published once the wallet session has been torn down. Err is the
// first teardown failure, if any.
type SessionEnded struct {
	Code   int
	Reason string
	Err    error
}

type Options struct {
	Modal    Modal
	Cache    SessionCache
	Registry *provider.Registry
	// ProviderKey names the registry source used for wallet handles.
	ProviderKey string
	// EventTimeout bounds the work done for a single wallet event.
	EventTimeout time.Duration
}

// Manager owns the injected wallet session. Connect, Disconnect and wallet events
// are handled one at a time; listeners run synchronously inside that section, so a
// read started after an event was dispatched observes the rebuilt signer.
type Manager struct {
	modal        Modal
	cache        SessionCache
	reg          *provider.Registry
	key          string
	eventTimeout time.Duration

	evMu    sync.Mutex
	conn    Connector
	off     func()
	handles []*provider.Handle

	state    atomic.Int32
	signer   atomic.Pointer[InjectedSigner]
	rebuilds atomic.Uint64

	lisMu     sync.Mutex
	nextLisID int
	onSigner  map[int]func(context.Context, SignerChanged)
	onEnded   map[int]func(context.Context, SessionEnded)

	signerFeed event.Feed
	endedFeed  event.Feed
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Modal == nil {
		return nil, errors.New("wallet: nil modal")
	}
	if opts.Registry == nil {
		return nil, errors.New("wallet: nil provider registry")
	}
	if opts.Cache == nil {
		opts.Cache = &MemoryCache{}
	}
	if opts.ProviderKey == "" {
		opts.ProviderKey = DefaultProviderKey
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = defaultEventTimeout
	}
	return &Manager{
		modal:        opts.Modal,
		cache:        opts.Cache,
		reg:          opts.Registry,
		key:          opts.ProviderKey,
		eventTimeout: opts.EventTimeout,
		onSigner:     make(map[int]func(context.Context, SignerChanged)),
		onEnded:      make(map[int]func(context.Context, SessionEnded)),
	}, nil
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Signer is the current injected signer, nil when disconnected.
func (m *Manager) Signer() *InjectedSigner { return m.signer.Load() }

// Rebuilds counts signers built since the manager was created.
func (m *Manager) Rebuilds() uint64 { return m.rebuilds.Load() }

// OnSignerChanged registers a synchronous listener. It must not call Connect,
// Disconnect or ReconnectIfCached.
func (m *Manager) OnSignerChanged(fn func(context.Context, SignerChanged)) (off func()) {
	m.lisMu.Lock()
	defer m.lisMu.Unlock()
	id := m.nextLisID
	m.nextLisID++
	m.onSigner[id] = fn
	return func() {
		m.lisMu.Lock()
		delete(m.onSigner, id)
		m.lisMu.Unlock()
	}
}

// OnSessionEnded registers a synchronous listener, with the same restrictions as
// OnSignerChanged.
func (m *Manager) OnSessionEnded(fn func(context.Context, SessionEnded)) (off func()) {
	m.lisMu.Lock()
	defer m.lisMu.Unlock()
	id := m.nextLisID
	m.nextLisID++
	m.onEnded[id] = fn
	return func() {
		m.lisMu.Lock()
		delete(m.onEnded, id)
		m.lisMu.Unlock()
	}
}

// SubscribeSignerChanged delivers SignerChanged values in order. Use a buffered
// channel; publishing waits for every subscriber.
func (m *Manager) SubscribeSignerChanged(ch chan<- SignerChanged) event.Subscription {
	return m.signerFeed.Subscribe(ch)
}

func (m *Manager) SubscribeSessionEnded(ch chan<- SessionEnded) event.Subscription {
	return m.endedFeed.Subscribe(ch)
}

// Connect runs the selection flow. An already connected manager returns the
// current signer without prompting.
func (m *Manager) Connect(ctx context.Context) (*InjectedSigner, error) {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	if m.State() == StateConnected {
		return m.signer.Load(), nil
	}

	m.state.Store(int32(StateConnecting))
	conn, id, err := m.modal.Select(ctx)
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		if errors.Is(err, ErrUserCancelled) {
			log.Info("wallet selection cancelled")
			return nil, err
		}
		return nil, errors.Wrap(err, "wallet select")
	}
	return m.attach(ctx, conn, id)
}

// ReconnectIfCached restores a previously approved wallet without prompting. With no
// marker it does nothing and returns (nil, nil).
func (m *Manager) ReconnectIfCached(ctx context.Context) (*InjectedSigner, error) {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	if m.State() == StateConnected {
		return m.signer.Load(), nil
	}

	id, ok, err := m.cache.Cached(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read wallet marker")
	}
	if !ok {
		return nil, nil
	}

	m.state.Store(int32(StateConnecting))
	conn, err := m.modal.Restore(ctx, id)
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		if ferr := m.cache.Forget(ctx); ferr != nil {
			log.Warn("failed to forget wallet marker", "error", ferr)
		}
		return nil, errors.Wrapf(err, "restore wallet %q", id)
	}
	log.Info("wallet session restored", "connector", id)
	return m.attach(ctx, conn, id)
}

// Disconnect ends the session as a user logout. All teardown steps run; the first
// error is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	return m.teardown(ctx, Disconnect{Code: logoutCode, Reason: "logout"})
}

func (m *Manager) attach(ctx context.Context, conn Connector, id string) (*InjectedSigner, error) {
	if err := m.cache.Remember(ctx, id); err != nil {
		log.Warn("failed to remember wallet", "connector", id, "error", err)
	}

	m.conn = conn
	m.off = conn.On(func(ev Event) { m.dispatch(conn, ev) })

	s, err := m.rebuild(nil, nil)
	if err != nil {
		m.detach()
		m.state.Store(int32(StateDisconnected))
		return nil, err
	}
	m.state.Store(int32(StateConnected))
	log.Info("wallet connected", "connector", id)

	m.notifySigner(ctx, SignerChanged{Signer: s})
	return s, nil
}

func (m *Manager) dispatch(conn Connector, ev Event) {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	// late events from a connector we already let go of
	if m.conn != conn || m.State() != StateConnected {
		log.Debug("dropping wallet event for inactive connector")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.eventTimeout)
	defer cancel()

	switch e := ev.(type) {
	case ChainChanged:
		log.Info("wallet chain changed", "chainId", bigString(e.ChainID))
		s, err := m.rebuild(e.ChainID, m.previousAccounts())
		if err != nil {
			log.Error("signer rebuild failed", "error", err)
			return
		}
		m.notifySigner(ctx, SignerChanged{Signer: s, Cause: e})
	case AccountsChanged:
		// an empty list means the new signer asks the wallet on first use
		log.Info("wallet accounts changed", "count", len(e.Accounts))
		var chainID *big.Int
		if prev := m.signer.Load(); prev != nil {
			chainID, _ = prev.handle.KnownChainID()
		}
		s, err := m.rebuild(chainID, e.Accounts)
		if err != nil {
			log.Error("signer rebuild failed", "error", err)
			return
		}
		m.notifySigner(ctx, SignerChanged{Signer: s, Cause: e})
	case Disconnect:
		log.Info("wallet disconnected", "code", e.Code, "reason", e.Reason)
		if err := m.teardown(ctx, e); err != nil {
			log.Warn("wallet teardown incomplete", "error", err)
		}
	}
}

func (m *Manager) previousAccounts() []common.Address {
	if prev := m.signer.Load(); prev != nil {
		return prev.cachedAccounts()
	}
	return nil
}

// rebuild wraps the current connector into a fresh handle and signer and retires
// the previous signer.
func (m *Manager) rebuild(chainID *big.Int, accounts []common.Address) (*InjectedSigner, error) {
	h, err := m.reg.ConnectInjected(m.key, m.conn, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "wallet provider")
	}
	m.handles = append(m.handles, h)

	seq := m.rebuilds.Add(1)
	s := newInjectedSigner(m.conn, h, seq, accounts)
	if old := m.signer.Swap(s); old != nil {
		old.invalidate()
	}
	return s, nil
}

func (m *Manager) teardown(ctx context.Context, ev Disconnect) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	// the connector may emit disconnect from inside Disconnect; unhook first so
	// that event cannot wait on evMu
	if m.off != nil {
		m.off()
		m.off = nil
	}
	keep(errors.Wrap(m.cache.Forget(ctx), "forget wallet marker"))
	if d, ok := m.conn.(Disconnecter); ok {
		keep(errors.Wrap(d.Disconnect(ctx), "connector disconnect"))
	}
	wasConnected := m.conn != nil
	m.detach()
	m.state.Store(int32(StateDisconnected))

	if wasConnected {
		m.notifyEnded(ctx, SessionEnded{Code: ev.Code, Reason: ev.Reason, Err: first})
	}
	return first
}

func (m *Manager) detach() {
	if m.off != nil {
		m.off()
		m.off = nil
	}
	if old := m.signer.Swap(nil); old != nil {
		old.invalidate()
	}
	for _, h := range m.handles {
		m.reg.Release(h)
	}
	m.handles = nil
	m.conn = nil
}

func (m *Manager) notifySigner(ctx context.Context, ev SignerChanged) {
	m.lisMu.Lock()
	fns := make([]func(context.Context, SignerChanged), 0, len(m.onSigner))
	for i := 0; i < m.nextLisID; i++ {
		if fn, ok := m.onSigner[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.lisMu.Unlock()

	for _, fn := range fns {
		fn(ctx, ev)
	}
	m.signerFeed.Send(ev)
}

func (m *Manager) notifyEnded(ctx context.Context, ev SessionEnded) {
	m.lisMu.Lock()
	fns := make([]func(context.Context, SessionEnded), 0, len(m.onEnded))
	for i := 0; i < m.nextLisID; i++ {
		if fn, ok := m.onEnded[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.lisMu.Unlock()

	for _, fn := range fns {
		fn(ctx, ev)
	}
	m.endedFeed.Send(ev)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
