package networks

import (
	"math/big"
	"strings"
)

// NetworkConfig describes one selectable network.
type NetworkConfig struct {
	Name    string `json:"name" yaml:"name"`
	ChainID uint64 `json:"chainId" yaml:"chainId"`
	RPCURL  string `json:"rpcUrl" yaml:"rpcUrl"`

	// ExplorerURLTemplate is either a base URL ("https://etherscan.io/") or a template
	// with {kind} and {id} placeholders ("https://scan.example/{kind}/{id}?ref=app").
	ExplorerURLTemplate string `json:"explorer" yaml:"explorer"`

	IsLocal bool `json:"local" yaml:"-"`
}

type rawNetwork struct {
	Name     string `yaml:"name"`
	ChainID  uint64 `yaml:"chainId"`
	RPCURL   string `yaml:"rpcUrl"`
	Explorer string `yaml:"explorer"`
	Local    *bool  `yaml:"local"`
}

type rawCatalog struct {
	Networks []rawNetwork `yaml:"networks"`
}

func (n NetworkConfig) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// Endpoint returns the endpoint to dial for this network. A non-empty override
// (e.g. from the environment) takes precedence over the catalog endpoint.
func (n NetworkConfig) Endpoint(override string) string {
	if o := strings.TrimSpace(override); o != "" {
		return o
	}
	return n.RPCURL
}

func (n NetworkConfig) HasExplorer() bool {
	return strings.TrimSpace(n.ExplorerURLTemplate) != ""
}

func (n NetworkConfig) TxURL(hash string) string {
	return n.explorerURL("tx", hash)
}

func (n NetworkConfig) AddressURL(address string) string {
	return n.explorerURL("address", address)
}

func (n NetworkConfig) BlockURL(number string) string {
	return n.explorerURL("block", number)
}

func (n NetworkConfig) explorerURL(kind, id string) string {
	tpl := strings.TrimSpace(n.ExplorerURLTemplate)
	if tpl == "" || id == "" {
		return ""
	}
	if strings.Contains(tpl, "{kind}") || strings.Contains(tpl, "{id}") {
		return strings.NewReplacer("{kind}", kind, "{id}", id).Replace(tpl)
	}
	if !strings.HasSuffix(tpl, "/") {
		tpl += "/"
	}
	return tpl + kind + "/" + id
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// a network counts as local when its name says so, unless the catalog states otherwise
func defaultIsLocal(name string) bool {
	return strings.Contains(name, "local")
}
