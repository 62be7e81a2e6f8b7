package chaincheck

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	ids := []*big.Int{nil, big.NewInt(1), big.NewInt(4), big.NewInt(31337)}

	for _, target := range ids {
		for _, signer := range ids {
			got := Evaluate(target, signer)
			assert.Equal(t, got, Evaluate(target, signer), "deterministic")

			switch {
			case target == nil || signer == nil:
				assert.Equal(t, Unknown, got)
			case target.Cmp(signer) == 0:
				assert.Equal(t, Matched, got)
			default:
				assert.Equal(t, Mismatched, got)
			}
		}
	}

	// equal values behind distinct pointers still match
	assert.Equal(t, Matched, Evaluate(big.NewInt(137), big.NewInt(137)))
}

func TestMonitorRinkebyTargetWithLocalWallet(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, Unknown, m.Current())

	assert.Equal(t, Unknown, m.SetTarget(big.NewInt(4)))
	assert.Equal(t, Mismatched, m.SetSigner(big.NewInt(31337)))
	assert.Equal(t, Mismatched, m.Current())

	assert.Equal(t, Matched, m.SetSigner(big.NewInt(4)))
}

func TestMonitorResetNeverKeepsStaleValue(t *testing.T) {
	m := NewMonitor()
	m.SetTarget(big.NewInt(1))
	m.SetSigner(big.NewInt(1))
	require.Equal(t, Matched, m.Current())

	m.Reset()
	assert.Equal(t, Unknown, m.Current())
	target, signer := m.Inputs()
	assert.Nil(t, target)
	assert.Nil(t, signer)

	m.SetTarget(big.NewInt(5))
	assert.Equal(t, Unknown, m.Current())
}

func TestMonitorInputsAreCopied(t *testing.T) {
	m := NewMonitor()
	id := big.NewInt(10)
	m.SetTarget(id)
	m.SetSigner(big.NewInt(10))
	id.SetInt64(11)
	assert.Equal(t, Matched, m.Current())
}

func TestMonitorPublishesChanges(t *testing.T) {
	m := NewMonitor()
	ch := make(chan Change, 8)
	sub := m.Subscribe(ch)
	defer sub.Unsubscribe()

	m.SetTarget(big.NewInt(4))     // still unknown, nothing published
	m.SetSigner(big.NewInt(31337)) // -> mismatched
	m.SetSigner(big.NewInt(31337)) // unchanged
	m.SetSigner(big.NewInt(4))     // -> matched
	m.Reset()                      // -> unknown

	want := []Consistency{Mismatched, Matched, Unknown}
	for _, w := range want {
		select {
		case c := <-ch:
			assert.Equal(t, w, c.Current)
		case <-time.After(time.Second):
			t.Fatalf("missing change to %s", w)
		}
	}
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}
