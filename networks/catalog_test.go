package networks

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	local, err := c.Get("localhost")
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), local.ChainID)
	assert.True(t, local.IsLocal)
	assert.False(t, local.HasExplorer())

	rinkeby, err := c.Get("Rinkeby")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rinkeby.ChainID)
	assert.False(t, rinkeby.IsLocal)

	n, ok := c.ByChainID(1)
	require.True(t, ok)
	assert.Equal(t, "mainnet", n.Name)
}

func TestGetUnknownNetwork(t *testing.T) {
	_, err := Default().Get("atlantis")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownNetwork))
}

func TestEndpointOverride(t *testing.T) {
	n := NetworkConfig{Name: "localhost", ChainID: 31337, RPCURL: "http://localhost:8545"}
	assert.Equal(t, "http://localhost:8545", n.Endpoint(""))
	assert.Equal(t, "http://10.0.0.2:8545", n.Endpoint(" http://10.0.0.2:8545 "))
}

func TestExplorerURLs(t *testing.T) {
	base := NetworkConfig{ExplorerURLTemplate: "https://etherscan.io"}
	assert.Equal(t, "https://etherscan.io/tx/0xabc", base.TxURL("0xabc"))
	assert.Equal(t, "https://etherscan.io/address/0x01", base.AddressURL("0x01"))

	tpl := NetworkConfig{ExplorerURLTemplate: "https://scan.example/{kind}/{id}?ref=dapp"}
	assert.Equal(t, "https://scan.example/block/12?ref=dapp", tpl.BlockURL("12"))

	assert.Empty(t, NetworkConfig{}.TxURL("0xabc"))
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(strings.NewReader(`
networks:
  - name: a
    chainId: 1
  - name: A
    chainId: 2
`))
	require.Error(t, err)

	_, err = Load(strings.NewReader(`
networks:
  - name: nochain
`))
	require.Error(t, err)

	c, err := Load(strings.NewReader(`
networks:
  - name: local-devnet
    chainId: 1337
  - name: localish
    chainId: 9
    local: false
`))
	require.NoError(t, err)
	dev, _ := c.Get("local-devnet")
	assert.True(t, dev.IsLocal)
	ish, _ := c.Get("localish")
	assert.False(t, ish.IsLocal)
	assert.Equal(t, []string{"local-devnet", "localish"}, c.Names())
}
