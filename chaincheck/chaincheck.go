package chaincheck

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

type Consistency int

const (
	Unknown Consistency = iota
	Matched
	Mismatched
)

func (c Consistency) String() string {
	switch c {
	case Matched:
		return "matched"
	case Mismatched:
		return "mismatched"
	default:
		return "unknown"
	}
}

// Evaluate compares the target network's chain id with the signer's. Either side
// missing yields Unknown.
func Evaluate(target, signer *big.Int) Consistency {
	if target == nil || signer == nil {
		return Unknown
	}
	if target.Cmp(signer) == 0 {
		return Matched
	}
	return Mismatched
}

// Change is published whenever the derived consistency value moves.
type Change struct {
	Previous Consistency
	Current  Consistency
	Target   *big.Int
	Signer   *big.Int
}

// Monitor holds the latest inputs and recomputes on every update. It only reports;
// nothing here switches networks.
type Monitor struct {
	sendMu sync.Mutex

	mu      sync.Mutex
	target  *big.Int
	signer  *big.Int
	current Consistency

	feed event.Feed
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) SetTarget(chainID *big.Int) Consistency {
	return m.update(func() { m.target = copyInt(chainID) })
}

func (m *Monitor) SetSigner(chainID *big.Int) Consistency {
	return m.update(func() { m.signer = copyInt(chainID) })
}

// Reset clears both inputs, e.g. when the target network is being switched.
func (m *Monitor) Reset() {
	m.update(func() {
		m.target = nil
		m.signer = nil
	})
}

func (m *Monitor) Current() Consistency {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Inputs returns copies of the current target and signer chain ids.
func (m *Monitor) Inputs() (target, signer *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyInt(m.target), copyInt(m.signer)
}

// Subscribe delivers every Change to ch, in order. Publishing blocks until each
// subscriber has received, so ch should be buffered or drained promptly.
func (m *Monitor) Subscribe(ch chan<- Change) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *Monitor) update(apply func()) Consistency {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	prev := m.current
	apply()
	m.current = Evaluate(m.target, m.signer)
	ch := Change{Previous: prev, Current: m.current, Target: copyInt(m.target), Signer: copyInt(m.signer)}
	m.mu.Unlock()

	if ch.Previous != ch.Current {
		m.feed.Send(ch)
	}
	return ch.Current
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
