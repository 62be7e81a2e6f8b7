package provider

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	chainID     int64
	chainErr    error
	chainCalls  atomic.Int32
	blockNumber atomic.Uint64
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	f.chainCalls.Add(1)
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return big.NewInt(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNumber.Load(), nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.blockNumber.Load())}, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func dialerFor(backends map[string]*fakeBackend, dialed *[]string) Dialer {
	var mu sync.Mutex
	return func(ctx context.Context, url string) (Backend, func(), error) {
		mu.Lock()
		*dialed = append(*dialed, url)
		mu.Unlock()
		b, ok := backends[url]
		if !ok {
			return nil, nil, errors.Errorf("no route to %s", url)
		}
		return b, nil, nil
	}
}

func TestConnectTriesEndpointsInOrder(t *testing.T) {
	var dialed []string
	r := NewRegistry(Options{Dial: dialerFor(map[string]*fakeBackend{
		"http://b": {chainID: 1, chainErr: errors.New("503")},
		"http://c": {chainID: 1},
		"http://d": {chainID: 1},
	}, &dialed)})
	t.Cleanup(r.Close)

	h, err := r.Connect(context.Background(), "reference", []string{"http://a", "http://b", "http://c", "http://d"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, dialed)
	assert.Equal(t, []string{"http://c"}, h.Endpoints())
	assert.Equal(t, Live, h.State())

	id, ok := h.KnownChainID()
	require.True(t, ok)
	assert.Equal(t, int64(1), id.Int64())
}

func TestConnectAllEndpointsFail(t *testing.T) {
	var dialed []string
	r := NewRegistry(Options{Dial: dialerFor(map[string]*fakeBackend{}, &dialed)})
	t.Cleanup(r.Close)

	_, err := r.Connect(context.Background(), "local", []string{"http://x", "http://y"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))

	_, err = r.Connect(context.Background(), "local", nil, nil)
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestConnectSupersedesPreviousHandle(t *testing.T) {
	var dialed []string
	r := NewRegistry(Options{Dial: dialerFor(map[string]*fakeBackend{
		"http://local": {chainID: 31337},
	}, &dialed)})
	t.Cleanup(r.Close)

	first, err := r.Connect(context.Background(), "local", []string{"http://local"}, nil)
	require.NoError(t, err)
	second, err := r.Connect(context.Background(), "local", []string{"http://local"}, nil)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.True(t, first.Superseded())
	assert.False(t, second.Superseded())

	cur, ok := r.Current("local")
	require.True(t, ok)
	assert.Same(t, second, cur)

	// the old handle still answers
	id, err := first.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())
}

func TestInjectedHandleChainIDIsFetchedOnceAndImmutable(t *testing.T) {
	r := NewRegistry(Options{})
	t.Cleanup(r.Close)

	fb := &fakeBackend{chainID: 4}
	h, err := r.Connect(context.Background(), "injected", nil, fb)
	require.NoError(t, err)
	assert.Equal(t, Connecting, h.State())

	_, known := h.KnownChainID()
	assert.False(t, known)

	id, err := h.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), id.Int64())

	fb.chainID = 99 // the wallet moved; this handle must not follow
	id, err = h.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), id.Int64())
	assert.Equal(t, int32(1), fb.chainCalls.Load())
	assert.Equal(t, Live, h.State())
}

func TestChainIDFailureIsNotCached(t *testing.T) {
	r := NewRegistry(Options{})
	t.Cleanup(r.Close)

	fb := &fakeBackend{chainID: 5, chainErr: errors.New("refused")}
	h, err := r.ConnectInjected("injected", fb, nil)
	require.NoError(t, err)

	_, err = h.ChainID(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, Errored, h.State())

	fb.chainErr = nil
	id, err := h.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), id.Int64())
}

func TestSeededChainIDSkipsRoundTrip(t *testing.T) {
	r := NewRegistry(Options{})
	t.Cleanup(r.Close)

	fb := &fakeBackend{chainID: 1}
	h, err := r.ConnectInjected("injected", fb, big.NewInt(31337))
	require.NoError(t, err)

	id, err := h.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())
	assert.Zero(t, fb.chainCalls.Load())
}

func TestRateLimitedBackendStillAnswers(t *testing.T) {
	r := NewRegistry(Options{RequestsPerSecond: 1000, Burst: 2})
	t.Cleanup(r.Close)

	h, err := r.ConnectInjected("injected", &fakeBackend{chainID: 10}, nil)
	require.NoError(t, err)
	_, isLimited := h.Backend().(*limitedBackend)
	assert.True(t, isLimited)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := h.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), id.Int64())
}

func TestReleaseClosesHandle(t *testing.T) {
	r := NewRegistry(Options{})
	h, err := r.ConnectInjected("injected", &fakeBackend{chainID: 1}, nil)
	require.NoError(t, err)

	r.Release(h)
	select {
	case <-h.Done():
	default:
		t.Fatal("handle not closed")
	}
	_, ok := r.Current("injected")
	assert.False(t, ok)

	_, err = h.ChainID(context.Background())
	assert.True(t, errors.Is(err, ErrConnection))

	r.Close()
	_, err = r.ConnectInjected("injected", &fakeBackend{chainID: 1}, nil)
	assert.Error(t, err)
}
