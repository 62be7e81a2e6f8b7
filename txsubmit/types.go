package txsubmit

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReverted          = errors.New("transaction reverted")
	ErrDropped           = errors.New("transaction dropped")
)

// Request is what the caller wants sent. To nil means contract creation. A zero
// GasLimit is estimated.
type Request struct {
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

type State int

const (
	Created State = iota
	Submitted
	Pending
	Confirmed
	Failed
	Rejected
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Submitted:
		return "submitted"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Confirmed || s == Failed || s == Rejected
}

// Reason qualifies a Failed outcome.
type Reason int

const (
	NoReason Reason = iota
	InsufficientFunds
	Reverted
	Dropped
	ConnectionError
)

func (r Reason) String() string {
	switch r {
	case InsufficientFunds:
		return "insufficient_funds"
	case Reverted:
		return "reverted"
	case Dropped:
		return "dropped"
	case ConnectionError:
		return "connection_error"
	default:
		return ""
	}
}

// Event is one lifecycle step of a record.
type Event struct {
	RecordID uuid.UUID
	State    State
	Hash     common.Hash
	Receipt  *types.Receipt
	Reason   Reason
	Err      error
}

// Record tracks one submission. It is safe for concurrent reads.
type Record struct {
	ID        uuid.UUID
	Request   Request
	CreatedAt time.Time

	consumed atomic.Bool

	mu        sync.Mutex
	state     State
	hash      common.Hash
	reason    Reason
	err       error
	abandoned bool
	updatedAt time.Time
}

func newRecord(req Request) *Record {
	now := time.Now()
	return &Record{ID: uuid.New(), Request: req, CreatedAt: now, updatedAt: now}
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) Hash() common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hash
}

// Outcome returns the failure reason and error of a terminal record.
func (r *Record) Outcome() (Reason, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason, r.err
}

// Abandoned reports whether the consumer stopped before a terminal event.
func (r *Record) Abandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}

func (r *Record) UpdatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}

func (r *Record) apply(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = ev.State
	if ev.Hash != (common.Hash{}) {
		r.hash = ev.Hash
	}
	r.reason = ev.Reason
	r.err = ev.Err
	r.updatedAt = time.Now()
}

func (r *Record) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
	r.updatedAt = time.Now()
}
