package signer

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
)

const DefaultProfile = "default"

// Resolver picks the active signing identity. Resolve is the single writer;
// Active may be read from any goroutine.
type Resolver struct {
	keys    KeyStore
	profile string

	mu     sync.Mutex
	key    *ecdsa.PrivateKey
	active atomic.Pointer[Identity]
}

func NewResolver(keys KeyStore, profile string) *Resolver {
	if keys == nil {
		keys = NewMemoryKeyStore()
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Resolver{keys: keys, profile: profile}
}

// Resolve prefers a valid injected signer, then the burner bound to local when
// burnerEnabled. With neither it returns (nil, nil): no signer is a valid state.
// An injected signer whose address cannot be read leaves no active identity.
func (r *Resolver) Resolve(ctx context.Context, injected Signer, burnerEnabled bool, local *provider.Handle) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.active.Load()

	if injected != nil {
		addr, err := injected.Address(ctx)
		if err != nil {
			// a connected wallet always displaces the burner, even one we cannot
			// read an address from yet
			r.swap(prev, nil)
			return nil, errors.Wrap(err, "injected signer address")
		}
		id := &Identity{Address: addr, Kind: Injected, Provider: injected.Provider(), Signer: injected}
		r.swap(prev, id)
		return id, nil
	}

	if !burnerEnabled {
		r.swap(prev, nil)
		return nil, nil
	}
	if local == nil {
		r.swap(prev, nil)
		return nil, errors.Wrap(ErrSignerUnavailable, "burner needs a local provider")
	}

	// same key, same handle: keep the existing burner object
	if prev != nil && prev.Kind == Burner && prev.Provider == local && prev.Signer.Valid() {
		return prev, nil
	}

	key, err := r.burnerKey(ctx)
	if err != nil {
		return nil, err
	}
	b := newBurnerSigner(key, local)
	id := &Identity{Address: b.address, Kind: Burner, Provider: local, Signer: b}
	r.swap(prev, id)
	return id, nil
}

func (r *Resolver) swap(prev, next *Identity) {
	r.active.Store(next)
	if prev != nil && prev != next {
		if b, ok := prev.Signer.(*BurnerSigner); ok {
			b.invalidate()
		}
		log.Debug("active signer replaced", "from", prev.Kind.String(), "to", kindOf(next).String())
	}
}

func kindOf(id *Identity) Kind {
	if id == nil {
		return 0
	}
	return id.Kind
}

// Active returns the current identity, nil when none.
func (r *Resolver) Active() *Identity {
	return r.active.Load()
}

// Address resolves the address of s. Stale signers fail with ErrSignerUnavailable.
func (r *Resolver) Address(ctx context.Context, s Signer) (common.Address, error) {
	if s == nil || !s.Valid() {
		return common.Address{}, ErrSignerUnavailable
	}
	return s.Address(ctx)
}

// Reset drops the active identity without touching the stored burner key.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swap(r.active.Load(), nil)
}

// ClearBurner forgets the burner key, in memory and in the store. A later Resolve
// creates a new one.
func (r *Resolver) ClearBurner(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur := r.active.Load(); cur != nil && cur.Kind == Burner {
		r.swap(cur, nil)
	}
	r.key = nil
	return errors.Wrap(r.keys.Clear(ctx, r.profile), "clear burner key")
}

func (r *Resolver) burnerKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	if r.key != nil {
		return r.key, nil
	}

	key, err := r.keys.Load(ctx, r.profile)
	switch {
	case err == nil:
		log.Info("burner key loaded", "profile", r.profile, "address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	case errors.Is(err, ErrKeyNotFound):
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, errors.Wrap(err, "generate burner key")
		}
		if err := r.keys.Save(ctx, r.profile, key); err != nil {
			return nil, errors.Wrap(err, "persist burner key")
		}
		log.Info("burner key created", "profile", r.profile, "address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	default:
		return nil, errors.Wrap(err, "load burner key")
	}

	r.key = key
	return key, nil
}
