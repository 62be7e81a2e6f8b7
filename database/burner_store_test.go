package database

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-dapp-core/evm"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

// tableQuerier answers the three burner_keys statements from a map.
type tableQuerier struct {
	mu        sync.Mutex
	envelopes map[string][]byte
	addresses map[string]string
	execErr   error
}

func newTableQuerier() *tableQuerier {
	return &tableQuerier{envelopes: map[string][]byte{}, addresses: map[string]string{}}
}

func (q *tableQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.execErr != nil {
		return nil, q.execErr
	}
	profile := args[0].(string)
	switch sql {
	case upsertBurnerKey:
		q.addresses[profile] = args[1].(string)
		q.envelopes[profile] = args[2].([]byte)
		return pgconn.CommandTag("INSERT 0 1"), nil
	case deleteBurnerKey:
		delete(q.envelopes, profile)
		delete(q.addresses, profile)
		return pgconn.CommandTag("DELETE 1"), nil
	}
	return nil, errors.Errorf("unexpected statement %q", sql)
}

func (q *tableQuerier) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	q.mu.Lock()
	defer q.mu.Unlock()
	env, ok := q.envelopes[args[0].(string)]
	return envelopeRow{env: env, found: ok && sql == selectBurnerKey}
}

type envelopeRow struct {
	env   []byte
	found bool
}

func (r envelopeRow) Scan(dest ...interface{}) error {
	if !r.found {
		return pgx.ErrNoRows
	}
	*dest[0].(*[]byte) = append([]byte(nil), r.env...)
	return nil
}

func TestBurnerKeyStoreRoundTrip(t *testing.T) {
	q := newTableQuerier()
	store, err := NewBurnerKeyStore(q, []byte("secret"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "default")
	assert.True(t, errors.Is(err, signer.ErrKeyNotFound))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "default", key))

	addr := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, addr.Hex(), q.addresses["default"])
	assert.NotContains(t, string(q.envelopes["default"]), string(crypto.FromECDSA(key)))

	loaded, err := store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, addr, crypto.PubkeyToAddress(loaded.PublicKey))

	require.NoError(t, store.Clear(ctx, "default"))
	_, err = store.Load(ctx, "default")
	assert.True(t, errors.Is(err, signer.ErrKeyNotFound))
}

func TestBurnerKeyStoreWrongPassphrase(t *testing.T) {
	q := newTableQuerier()
	ctx := context.Background()
	store, err := NewBurnerKeyStore(q, []byte("secret"))
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "default", key))

	other, err := NewBurnerKeyStore(q, []byte("guess"))
	require.NoError(t, err)
	_, err = other.Load(ctx, "default")
	assert.True(t, errors.Is(err, signer.ErrInvalidPassphrase))
}

func TestBurnerKeyStoreExecFailure(t *testing.T) {
	q := newTableQuerier()
	q.execErr = errors.New("connection reset")
	store, err := NewBurnerKeyStore(q, []byte("secret"))
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	err = store.Save(context.Background(), "default", key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestBurnerSurvivesResolverRestart(t *testing.T) {
	chain := evm.NewSimulatedChain(nil, evm.SimOptions{})
	t.Cleanup(func() { _ = chain.Close() })
	reg := provider.NewRegistry(provider.Options{Dial: chain.Dialer()})
	t.Cleanup(reg.Close)
	ctx := context.Background()
	local, err := reg.Connect(ctx, "local", []string{"sim://local"}, nil)
	require.NoError(t, err)

	store, err := NewBurnerKeyStore(newTableQuerier(), []byte("secret"))
	require.NoError(t, err)

	first, err := signer.NewResolver(store, "").Resolve(ctx, nil, true, local)
	require.NoError(t, err)
	second, err := signer.NewResolver(store, "").Resolve(ctx, nil, true, local)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
}

func TestNewBurnerKeyStoreValidates(t *testing.T) {
	_, err := NewBurnerKeyStore(nil, []byte("x"))
	assert.Error(t, err)
	_, err = NewBurnerKeyStore(newTableQuerier(), nil)
	assert.Error(t, err)
}
