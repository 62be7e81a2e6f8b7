package session

import (
	"context"
	"iter"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/chaincheck"
	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/networks"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
	"github.com/quantumauth-io/quantum-dapp-core/txsubmit"
	"github.com/quantumauth-io/quantum-dapp-core/wallet"
)

const (
	LocalKey     = "local"
	ReferenceKey = "reference"
)

var (
	ErrChainMismatch = errors.New("signer chain does not match target network")
	ErrNoReference   = errors.New("no reference network connected")
)

type Config struct {
	TargetNetwork string
	// ProviderURL, when set, replaces the target network's catalog endpoint.
	ProviderURL      string
	ReferenceNetwork string
	// ReferenceEndpoints are tried in order; empty means the catalog endpoint.
	ReferenceEndpoints []string
	BurnerEnabled      bool
	// NetworkCheck gates transactions while the wallet is on another chain.
	NetworkCheck bool
}

type Deps struct {
	Catalog  *networks.Catalog
	Registry *provider.Registry
	Resolver *signer.Resolver
	// Wallet is optional; without it only the burner can sign.
	Wallet    *wallet.Manager
	Monitor   *chaincheck.Monitor
	TxOptions txsubmit.Options
}

// FaucetInfo tells a faucet collaborator whether it may offer local funds.
type FaucetInfo struct {
	Available bool
	IsLocal   bool
	Local     *provider.Handle
}

// App is the process-wide session: the target network, its providers, the active
// signer and the consistency between them.
type App struct {
	cfg       Config
	catalog   *networks.Catalog
	reg       *provider.Registry
	resolver  *signer.Resolver
	wallet    *wallet.Manager
	monitor   *chaincheck.Monitor
	submitter *txsubmit.Submitter

	// opMu serialises Start, SelectNetwork and Logout. Wallet listeners never take it.
	opMu sync.Mutex

	target    atomic.Pointer[networks.NetworkConfig]
	local     atomic.Pointer[provider.Handle]
	reference atomic.Pointer[provider.Handle]

	// superseded local handles waiting for running submissions; guarded by opMu
	retired []*provider.Handle

	offSigner func()
	offEnded  func()
}

func New(cfg Config, deps Deps) (*App, error) {
	if deps.Catalog == nil {
		return nil, errors.New("session: nil catalog")
	}
	if deps.Registry == nil {
		return nil, errors.New("session: nil provider registry")
	}
	if deps.Resolver == nil {
		deps.Resolver = signer.NewResolver(nil, "")
	}
	if deps.Monitor == nil {
		deps.Monitor = chaincheck.NewMonitor()
	}

	a := &App{
		cfg:      cfg,
		catalog:  deps.Catalog,
		reg:      deps.Registry,
		resolver: deps.Resolver,
		wallet:   deps.Wallet,
		monitor:  deps.Monitor,
	}

	txOpts := deps.TxOptions
	if txOpts.Refresh == nil {
		txOpts.Refresh = a.activeSigner
	}
	a.submitter = txsubmit.New(txOpts)

	if a.wallet != nil {
		a.offSigner = a.wallet.OnSignerChanged(func(ctx context.Context, ev wallet.SignerChanged) {
			if err := a.resolve(ctx); err != nil {
				log.Warn("re-resolving signer after wallet change failed", "error", err)
			}
		})
		a.offEnded = a.wallet.OnSessionEnded(func(ctx context.Context, ev wallet.SessionEnded) {
			if err := a.resolve(ctx); err != nil {
				log.Warn("falling back after wallet session ended failed", "error", err)
			}
		})
	}
	return a, nil
}

// Start connects the target and reference providers, restores a remembered wallet
// and resolves the first signer.
func (a *App) Start(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	target, err := a.catalog.Get(a.cfg.TargetNetwork)
	if err != nil {
		return err
	}
	a.target.Store(&target)

	if err := a.connectLocal(ctx, target); err != nil {
		return err
	}
	a.connectReference(ctx)

	if a.wallet != nil {
		if _, err := a.wallet.ReconnectIfCached(ctx); err != nil {
			log.Warn("wallet auto-reconnect failed", "error", err)
		}
	}
	if err := a.resolve(ctx); err != nil {
		log.Warn("no signer available", "error", err)
	}

	log.Info("session started", "target", target.Name, "consistency", a.monitor.Current().String())
	return nil
}

// SelectNetwork switches the target network. Consistency reads Unknown until the
// new provider answers.
func (a *App) SelectNetwork(ctx context.Context, name string) error {
	target, err := a.catalog.Get(name)
	if err != nil {
		return err
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.monitor.Reset()
	a.target.Store(&target)
	log.Info("target network selected", "network", target.Name, "chainId", target.ChainID)

	prev := a.local.Load()
	if err := a.connectLocal(ctx, target); err != nil {
		if rerr := a.resolve(ctx); rerr != nil {
			log.Debug("signer unavailable without local provider", "error", rerr)
		}
		a.retire(prev)
		return err
	}
	err = a.resolve(ctx)
	a.retire(prev)
	return err
}

// retire releases superseded local handles that no identity points at. Nothing is
// released while a submission is running.
func (a *App) retire(h *provider.Handle) {
	if h != nil {
		a.retired = append(a.retired, h)
	}
	if len(a.retired) == 0 || a.submitter.Running() > 0 {
		return
	}
	var inUse *provider.Handle
	if id := a.resolver.Active(); id != nil {
		inUse = id.Provider
	}
	kept := a.retired[:0]
	for _, old := range a.retired {
		if old == inUse {
			kept = append(kept, old)
			continue
		}
		a.reg.Release(old)
	}
	a.retired = kept
}

// ConnectWallet opens the wallet selection flow. The new signer is resolved by the
// wallet listener before this returns.
func (a *App) ConnectWallet(ctx context.Context) error {
	if a.wallet == nil {
		return errors.New("session: no wallet manager configured")
	}
	_, err := a.wallet.Connect(ctx)
	return err
}

// Logout forgets the wallet, tears its session down and resets dependent state.
func (a *App) Logout(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	var first error
	if a.wallet != nil {
		first = a.wallet.Disconnect(ctx)
	}
	a.resolver.Reset()
	a.monitor.SetSigner(nil)
	if err := a.resolve(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

// Transact submits req with the active signer. While the wallet is on the wrong
// chain and the network check is on, the request is refused.
func (a *App) Transact(ctx context.Context, req txsubmit.Request, gasPriceHint *big.Int) (*txsubmit.Record, iter.Seq[txsubmit.Event]) {
	if a.cfg.NetworkCheck && a.monitor.Current() == chaincheck.Mismatched {
		target, signerChain := a.monitor.Inputs()
		log.Warn("transaction refused on chain mismatch", "target", bigString(target), "signer", bigString(signerChain))
		return a.submitter.Refuse(req, ErrChainMismatch)
	}

	var sg signer.Signer
	if id := a.resolver.Active(); id != nil {
		sg = id.Signer
	}
	return a.submitter.Submit(ctx, sg, req, gasPriceHint)
}

func (a *App) Faucet() FaucetInfo {
	t := a.target.Load()
	local := a.local.Load()
	info := FaucetInfo{IsLocal: t != nil && t.IsLocal, Local: local}
	info.Available = info.IsLocal && local != nil && local.State() == provider.Live
	return info
}

// Balance reads the latest balance of addr through h, usually Local or Reference.
func (a *App) Balance(ctx context.Context, h *provider.Handle, addr common.Address) (*big.Int, error) {
	if h == nil {
		return nil, errors.Wrap(provider.ErrConnection, "no provider")
	}
	select {
	case <-h.Done():
		return nil, errors.Wrapf(provider.ErrConnection, "%s provider closed", h.Key())
	default:
	}
	bal, err := h.Backend().BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "balance of %s", addr.Hex())
	}
	return bal, nil
}

// OnReferenceBlock calls cb for every new block on the reference network.
func (a *App) OnReferenceBlock(cb func(blockNumber uint64)) (*provider.BlockSubscription, error) {
	h := a.reference.Load()
	if h == nil {
		return nil, ErrNoReference
	}
	return h.OnNewBlock(cb), nil
}

// Target returns the selected network, including its explorer template.
func (a *App) Target() (networks.NetworkConfig, bool) {
	t := a.target.Load()
	if t == nil {
		return networks.NetworkConfig{}, false
	}
	return *t, true
}

// WrongNetwork describes the chain the signer is on when it differs from the
// target, for a mismatch banner.
func (a *App) WrongNetwork() (string, bool) {
	if a.monitor.Current() != chaincheck.Mismatched {
		return "", false
	}
	_, signerChain := a.monitor.Inputs()
	if signerChain == nil {
		return "", false
	}
	if n, ok := a.catalog.ByChainID(signerChain.Uint64()); ok {
		return n.Name, true
	}
	return "chain " + signerChain.String(), true
}

func (a *App) Local() *provider.Handle { return a.local.Load() }

func (a *App) Reference() *provider.Handle { return a.reference.Load() }

func (a *App) Identity() *signer.Identity { return a.resolver.Active() }

func (a *App) Consistency() chaincheck.Consistency { return a.monitor.Current() }

func (a *App) Monitor() *chaincheck.Monitor { return a.monitor }

func (a *App) Submitter() *txsubmit.Submitter { return a.submitter }

// Close detaches the wallet listeners. Providers belong to the registry.
func (a *App) Close() {
	if a.offSigner != nil {
		a.offSigner()
	}
	if a.offEnded != nil {
		a.offEnded()
	}
}

func (a *App) connectLocal(ctx context.Context, target networks.NetworkConfig) error {
	endpoint := target.Endpoint(a.cfg.ProviderURL)
	h, err := a.reg.Connect(ctx, LocalKey, []string{endpoint}, nil)
	if err != nil {
		a.local.Store(nil)
		a.monitor.SetTarget(nil)
		return errors.Wrapf(err, "connect %s", target.Name)
	}
	a.local.Store(h)

	chainID, _ := h.KnownChainID()
	if chainID != nil && chainID.Uint64() != target.ChainID {
		log.Warn("provider chain differs from catalog", "network", target.Name,
			"catalog", target.ChainID, "provider", chainID.String())
	}
	a.monitor.SetTarget(chainID)
	return nil
}

func (a *App) connectReference(ctx context.Context) {
	if a.cfg.ReferenceNetwork == "" {
		return
	}
	endpoints := a.cfg.ReferenceEndpoints
	if len(endpoints) == 0 {
		ref, err := a.catalog.Get(a.cfg.ReferenceNetwork)
		if err != nil {
			log.Warn("reference network not in catalog", "network", a.cfg.ReferenceNetwork, "error", err)
			return
		}
		endpoints = []string{ref.RPCURL}
	}
	h, err := a.reg.Connect(ctx, ReferenceKey, endpoints, nil)
	if err != nil {
		log.Warn("reference network unavailable", "network", a.cfg.ReferenceNetwork, "error", err)
		return
	}
	a.reference.Store(h)
}

// resolve recomputes the active identity and feeds its chain id to the monitor.
func (a *App) resolve(ctx context.Context) error {
	var injected signer.Signer
	if a.wallet != nil {
		if s := a.wallet.Signer(); s != nil {
			injected = s
		}
	}

	id, err := a.resolver.Resolve(ctx, injected, a.cfg.BurnerEnabled, a.local.Load())
	if err != nil {
		a.monitor.SetSigner(nil)
		return err
	}
	if id == nil {
		a.monitor.SetSigner(nil)
		return nil
	}

	chainID, err := id.ChainID(ctx)
	if err != nil {
		a.monitor.SetSigner(nil)
		return err
	}
	state := a.monitor.SetSigner(chainID)
	log.Debug("signer resolved", "kind", id.Kind.String(), "address", id.Address.Hex(),
		"chainId", chainID.String(), "consistency", state.String())
	return nil
}

func (a *App) activeSigner(context.Context) (signer.Signer, error) {
	id := a.resolver.Active()
	if id == nil {
		return nil, signer.ErrSignerUnavailable
	}
	return id.Signer, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
