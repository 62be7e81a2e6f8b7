package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	networkFlag, debugMode = "", false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func targetLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "*") {
			return line
		}
	}
	return ""
}

func TestNetworksMarksTarget(t *testing.T) {
	out := execute(t, "networks")
	assert.Contains(t, out, "rinkeby")
	assert.Contains(t, targetLine(out), "localhost")

	out = execute(t, "networks", "--network", "sepolia")
	assert.Contains(t, targetLine(out), "sepolia")
}

func TestBurnerAddressAndClear(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DAPP_BURNER_STORE", "file")
	t.Setenv("DAPP_BURNER_PATH", dir)
	t.Setenv("DAPP_BURNER_PASSPHRASE", "pw")

	assert.Contains(t, execute(t, "burner", "address"), "no burner key stored")

	store, err := signer.NewFileKeyStore(dir, []byte("pw"))
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), signer.DefaultProfile, key))

	out := execute(t, "burner", "address")
	assert.Contains(t, out, crypto.PubkeyToAddress(key.PublicKey).Hex())

	assert.Contains(t, execute(t, "burner", "clear"), "cleared")
	assert.Contains(t, execute(t, "burner", "address"), "no burner key stored")
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "Version:    "+Version)
}
