package wallet_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
	"github.com/quantumauth-io/quantum-dapp-core/wallet"
)

type signArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	Data     hexutil.Bytes   `json:"data"`
	ChainID  *hexutil.Big    `json:"chainId"`
}

type deniedError struct{}

func (deniedError) Error() string  { return "User denied transaction signature" }
func (deniedError) ErrorCode() int { return 4001 }

// devNode serves the eth_ methods a dev node offers for its unlocked account.
type devNode struct {
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	gethStyle bool
	deny      bool
}

func (n *devNode) ChainId() *hexutil.Big { return (*hexutil.Big)(n.chainID) }

func (n *devNode) Accounts() []common.Address {
	return []common.Address{crypto.PubkeyToAddress(n.key.PublicKey)}
}

func (n *devNode) SignTransaction(args signArgs) (interface{}, error) {
	if n.deny {
		return nil, deniedError{}
	}
	if args.From != crypto.PubkeyToAddress(n.key.PublicKey) {
		return nil, errors.New("unknown account")
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(args.Nonce),
		GasPrice: args.GasPrice.ToInt(),
		Gas:      uint64(args.Gas),
		To:       args.To,
		Value:    args.Value.ToInt(),
		Data:     args.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(args.ChainID.ToInt()), n.key)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if n.gethStyle {
		return map[string]interface{}{"raw": hexutil.Bytes(raw), "tx": signed}, nil
	}
	return hexutil.Bytes(raw), nil
}

func newDevNode(t *testing.T, node *devNode) *wallet.NodeConnector {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", node))
	rc := rpc.DialInProc(srv)
	t.Cleanup(func() {
		rc.Close()
		srv.Stop()
	})
	return wallet.NewNodeConnector(rc)
}

func unsignedTx() *types.Transaction {
	to := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	return types.NewTx(&types.LegacyTx{Nonce: 3, GasPrice: big.NewInt(10), Gas: 21000, To: &to, Value: big.NewInt(5)})
}

func TestNodeConnectorSigns(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := big.NewInt(31337)
	from := crypto.PubkeyToAddress(key.PublicKey)

	for _, gethStyle := range []bool{false, true} {
		conn := newDevNode(t, &devNode{key: key, chainID: chainID, gethStyle: gethStyle})

		accounts, err := conn.Accounts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []common.Address{from}, accounts)

		signed, err := conn.SignTransaction(context.Background(), from, unsignedTx(), chainID)
		require.NoError(t, err)
		sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, from, sender)
		assert.Equal(t, uint64(3), signed.Nonce())
		assert.Equal(t, chainID, signed.ChainId())
	}
}

func TestNodeConnectorDenialIsRejection(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	conn := newDevNode(t, &devNode{key: key, chainID: big.NewInt(31337), deny: true})

	_, err = conn.SignTransaction(context.Background(), crypto.PubkeyToAddress(key.PublicKey), unsignedTx(), big.NewInt(31337))
	assert.True(t, errors.Is(err, signer.ErrRejected))
}

func TestFixedModalConnectsNodeWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	conn := newDevNode(t, &devNode{key: key, chainID: big.NewInt(31337)})

	reg := provider.NewRegistry(provider.Options{})
	t.Cleanup(reg.Close)
	cache := &wallet.MemoryCache{}
	mgr, err := wallet.NewManager(wallet.Options{
		Modal:    wallet.FixedModal{Conn: conn, ID: "node"},
		Cache:    cache,
		Registry: reg,
	})
	require.NoError(t, err)

	s, err := mgr.Connect(context.Background())
	require.NoError(t, err)
	addr, err := s.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	chainID, err := s.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), chainID.Int64())

	id, ok, err := cache.Cached(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node", id)

	_, err = wallet.FixedModal{Conn: conn, ID: "node"}.Restore(context.Background(), "other")
	assert.Error(t, err)
	_, _, err = wallet.FixedModal{}.Select(context.Background())
	assert.True(t, errors.Is(err, wallet.ErrUserCancelled))
}
