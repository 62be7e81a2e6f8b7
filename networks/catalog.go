// Package networks is the static registry of selectable networks. Lookups are pure:
// no I/O happens after a Catalog has been built.
package networks

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrUnknownNetwork = errors.New("unknown network")

//go:embed networks.yaml
var defaultCatalogYAML []byte

type Catalog struct {
	byName map[string]NetworkConfig
	names  []string
}

// New validates and indexes the given networks. Names are case-insensitive and must
// be unique; every network needs a chain id.
func New(list []NetworkConfig) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]NetworkConfig, len(list))}
	for _, n := range list {
		n.Name = normalizeName(n.Name)
		n.RPCURL = strings.TrimSpace(n.RPCURL)
		n.ExplorerURLTemplate = strings.TrimSpace(n.ExplorerURLTemplate)

		if n.Name == "" {
			return nil, errors.New("networks: empty network name")
		}
		if n.ChainID == 0 {
			return nil, fmt.Errorf("networks: network %q has no chain id", n.Name)
		}
		if _, dup := c.byName[n.Name]; dup {
			return nil, fmt.Errorf("networks: duplicate network %q", n.Name)
		}
		c.byName[n.Name] = n
		c.names = append(c.names, n.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Load parses a YAML catalog ("networks: [...]").
func Load(r io.Reader) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "networks: decode catalog")
	}

	list := make([]NetworkConfig, 0, len(raw.Networks))
	for _, rn := range raw.Networks {
		name := normalizeName(rn.Name)
		local := defaultIsLocal(name)
		if rn.Local != nil {
			local = *rn.Local
		}
		list = append(list, NetworkConfig{
			Name:                name,
			ChainID:             rn.ChainID,
			RPCURL:              rn.RPCURL,
			ExplorerURLTemplate: rn.Explorer,
			IsLocal:             local,
		})
	}
	return New(list)
}

func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "networks: open catalog %s", path)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the catalog shipped with the module.
func Default() *Catalog {
	c, err := Load(strings.NewReader(string(defaultCatalogYAML)))
	if err != nil {
		panic(fmt.Sprintf("networks: embedded catalog is invalid: %v", err))
	}
	return c
}

func (c *Catalog) Get(name string) (NetworkConfig, error) {
	n, ok := c.byName[normalizeName(name)]
	if !ok {
		return NetworkConfig{}, errors.Wrapf(ErrUnknownNetwork, "%q", name)
	}
	return n, nil
}

// ByChainID finds the network for a chain id, e.g. to name the chain a wallet is on.
func (c *Catalog) ByChainID(chainID uint64) (NetworkConfig, bool) {
	for _, name := range c.names {
		if n := c.byName[name]; n.ChainID == chainID {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c *Catalog) Len() int { return len(c.names) }
