package wallet

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

// EIP-1193 "user rejected request"
const userRejectedCode = 4001

// NodeConnector treats the unlocked accounts of a development node (anvil, hardhat,
// geth --dev) as the wallet. Such nodes report no wallet events.
type NodeConnector struct {
	*ethclient.Client
	rpc *rpc.Client
}

var _ Connector = (*NodeConnector)(nil)

func DialNode(ctx context.Context, url string) (*NodeConnector, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial wallet node %s", url)
	}
	return NewNodeConnector(rc), nil
}

func NewNodeConnector(rc *rpc.Client) *NodeConnector {
	return &NodeConnector{Client: ethclient.NewClient(rc), rpc: rc}
}

func (n *NodeConnector) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := n.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, errors.Wrap(err, "eth_accounts")
	}
	return accounts, nil
}

func (n *NodeConnector) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	args := map[string]interface{}{
		"from":     from,
		"gas":      hexutil.Uint64(tx.Gas()),
		"gasPrice": (*hexutil.Big)(tx.GasPrice()),
		"value":    (*hexutil.Big)(tx.Value()),
		"nonce":    hexutil.Uint64(tx.Nonce()),
		"data":     hexutil.Bytes(tx.Data()),
	}
	if tx.To() != nil {
		args["to"] = tx.To()
	}
	if chainID != nil {
		args["chainId"] = (*hexutil.Big)(chainID)
	}

	var res json.RawMessage
	if err := n.rpc.CallContext(ctx, &res, "eth_signTransaction", args); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && (rpcErr.ErrorCode() == userRejectedCode ||
			strings.Contains(strings.ToLower(rpcErr.Error()), "denied")) {
			return nil, errors.Wrap(signer.ErrRejected, rpcErr.Error())
		}
		return nil, errors.Wrap(err, "eth_signTransaction")
	}
	raw, err := decodeSignResult(res)
	if err != nil {
		return nil, err
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "decode signed transaction")
	}
	return signed, nil
}

// decodeSignResult accepts the bare raw transaction (anvil, hardhat) and geth's
// {raw, tx} object.
func decodeSignResult(res json.RawMessage) ([]byte, error) {
	var raw hexutil.Bytes
	if err := json.Unmarshal(res, &raw); err == nil {
		return raw, nil
	}
	var obj struct {
		Raw hexutil.Bytes `json:"raw"`
	}
	if err := json.Unmarshal(res, &obj); err != nil || len(obj.Raw) == 0 {
		return nil, errors.Errorf("unexpected eth_signTransaction result %s", string(res))
	}
	return obj.Raw, nil
}

func (n *NodeConnector) On(func(Event)) func() {
	return func() {}
}

// FixedModal selects a single preconfigured connector without prompting.
type FixedModal struct {
	Conn Connector
	ID   string
}

func (m FixedModal) Select(context.Context) (Connector, string, error) {
	if m.Conn == nil {
		return nil, "", ErrUserCancelled
	}
	return m.Conn, m.ID, nil
}

func (m FixedModal) Restore(_ context.Context, id string) (Connector, error) {
	if m.Conn == nil || id != m.ID {
		return nil, errors.Errorf("no connector %q", id)
	}
	return m.Conn, nil
}
