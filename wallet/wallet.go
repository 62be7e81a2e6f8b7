package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/provider"
)

var (
	ErrUserCancelled = errors.New("wallet selection cancelled")
	ErrNotConnected  = errors.New("wallet not connected")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is something the wallet reported: ChainChanged, AccountsChanged or Disconnect.
type Event interface {
	walletEvent()
}

type ChainChanged struct {
	ChainID *big.Int
}

type AccountsChanged struct {
	Accounts []common.Address
}

type Disconnect struct {
	Code   int
	Reason string
}

func (ChainChanged) walletEvent()    {}
func (AccountsChanged) walletEvent() {}
func (Disconnect) walletEvent()      {}

// Connector is an injected wallet. It answers reads like any other backend and
// signs on behalf of the user. Handlers registered with On must not be invoked from
// inside On itself.
type Connector interface {
	provider.Backend
	Accounts(ctx context.Context) ([]common.Address, error)
	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	On(handler func(Event)) (off func())
}

// Disconnecter is implemented by connectors that can close their own session.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Modal is the wallet selection flow. Select may prompt the user; Restore reopens a
// previously approved connector without prompting.
type Modal interface {
	Select(ctx context.Context) (conn Connector, id string, err error)
	Restore(ctx context.Context, id string) (Connector, error)
}

// SessionCache stores the "remember this wallet" marker.
type SessionCache interface {
	Remember(ctx context.Context, connectorID string) error
	Cached(ctx context.Context) (connectorID string, ok bool, err error)
	Forget(ctx context.Context) error
}

// MemoryCache keeps the marker for the life of the process.
type MemoryCache struct {
	mu sync.Mutex
	id string
}

func (c *MemoryCache) Remember(_ context.Context, connectorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = connectorID
	return nil
}

func (c *MemoryCache) Cached(context.Context) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.id != "", nil
}

func (c *MemoryCache) Forget(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = ""
	return nil
}
