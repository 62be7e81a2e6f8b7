package txsubmit

import (
	"context"
	"iter"
	"math/big"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

const (
	defaultPollInterval     = time.Second
	defaultDropTimeout      = 5 * time.Minute
	defaultMaxPollErrors    = 5
	defaultFallbackGasLimit = 3_000_000
	defaultArchiveSize      = 256
	// a replaced signer is re-resolved at most this many times per submission
	maxSignerRefreshes = 2
)

type Options struct {
	PollInterval     time.Duration
	DropTimeout      time.Duration
	MaxPollErrors    int
	FallbackGasLimit uint64
	ArchiveSize      int
	// Refresh returns the current signer when the one passed to Submit went stale.
	Refresh    func(ctx context.Context) (signer.Signer, error)
	Registerer prometheus.Registerer
}

// Submitter sends transactions and reports their lifecycle. Outcomes are never
// retried here.
type Submitter struct {
	opts    Options
	metrics *metrics

	mu      sync.Mutex
	active  map[uuid.UUID]*Record
	archive []*Record

	running atomic.Int32
}

func New(opts Options) *Submitter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DropTimeout <= 0 {
		opts.DropTimeout = defaultDropTimeout
	}
	if opts.MaxPollErrors <= 0 {
		opts.MaxPollErrors = defaultMaxPollErrors
	}
	if opts.FallbackGasLimit == 0 {
		opts.FallbackGasLimit = defaultFallbackGasLimit
	}
	if opts.ArchiveSize <= 0 {
		opts.ArchiveSize = defaultArchiveSize
	}
	return &Submitter{
		opts:    opts,
		metrics: newMetrics(opts.Registerer),
		active:  make(map[uuid.UUID]*Record),
	}
}

// Submit creates a record and returns its lazy event sequence. Nothing is signed
// or sent until the sequence is ranged over, and the submitter tracks the record
// only from then on. Only the first range observes events; stopping early abandons
// the record without further network calls.
func (s *Submitter) Submit(ctx context.Context, sg signer.Signer, req Request, gasPriceHint *big.Int) (*Record, iter.Seq[Event]) {
	rec := newRecord(req)

	var hint *big.Int
	if gasPriceHint != nil {
		hint = new(big.Int).Set(gasPriceHint)
	}

	return rec, func(yield func(Event) bool) {
		if !rec.consumed.CompareAndSwap(false, true) {
			return
		}
		s.track(rec)
		s.running.Add(1)
		defer s.running.Add(-1)
		s.metrics.inFlight.Inc()
		defer s.metrics.inFlight.Dec()

		r := &run{s: s, rec: rec, yield: yield}
		r.execute(ctx, sg, hint)
		if !r.terminal {
			rec.abandon()
			s.metrics.abandoned()
			s.retire(rec)
			log.Info("transaction abandoned", "id", rec.ID.String(), "state", rec.State().String())
		}
	}
}

// Refuse records a request that was not allowed to start. Its sequence yields a
// single Rejected event carrying reason.
func (s *Submitter) Refuse(req Request, reason error) (*Record, iter.Seq[Event]) {
	rec := newRecord(req)
	return rec, func(yield func(Event) bool) {
		if !rec.consumed.CompareAndSwap(false, true) {
			return
		}
		s.track(rec)
		r := &run{s: s, rec: rec, yield: yield}
		r.reject(reason)
	}
}

// Running reports how many submissions are being ranged over.
func (s *Submitter) Running() int { return int(s.running.Load()) }

func (s *Submitter) track(rec *Record) {
	s.mu.Lock()
	s.active[rec.ID] = rec
	s.mu.Unlock()
}

// Get returns an active or archived record.
func (s *Submitter) Get(id uuid.UUID) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.active[id]; ok {
		return r, true
	}
	for _, r := range s.archive {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Records lists active records followed by archived ones, oldest first.
func (s *Submitter) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.active)+len(s.archive))
	for _, r := range s.active {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Record) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return append(out, s.archive...)
}

func (s *Submitter) retire(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, rec.ID)
	s.archive = append(s.archive, rec)
	if over := len(s.archive) - s.opts.ArchiveSize; over > 0 {
		s.archive = append([]*Record(nil), s.archive[over:]...)
	}
}

type run struct {
	s        *Submitter
	rec      *Record
	yield    func(Event) bool
	terminal bool
}

// emit records ev and hands it to the consumer. It returns false once the run
// must stop, either because ev was terminal or the consumer stopped.
func (r *run) emit(ev Event) bool {
	ev.RecordID = r.rec.ID
	r.rec.apply(ev)
	if ev.State.Terminal() {
		r.terminal = true
		r.s.metrics.outcome(ev)
		r.s.retire(r.rec)
		log.Info("transaction finished", "id", r.rec.ID.String(), "state", ev.State.String(),
			"reason", ev.Reason.String(), "hash", ev.Hash.Hex(), "error", ev.Err)
	}
	return r.yield(ev) && !ev.State.Terminal()
}

func (r *run) reject(err error) {
	r.emit(Event{State: Rejected, Err: err})
}

func (r *run) fail(reason Reason, hash common.Hash, receipt *types.Receipt, err error) {
	r.emit(Event{State: Failed, Reason: reason, Hash: hash, Receipt: receipt, Err: err})
}

type prepared struct {
	tx     *types.Transaction
	from   common.Address
	handle *provider.Handle
	estErr error
}

func (r *run) execute(ctx context.Context, sg signer.Signer, hint *big.Int) {
	var (
		p      *prepared
		signed *types.Transaction
	)
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if sg == nil || !sg.Valid() {
			next, err := r.refresh(ctx, attempt)
			if err != nil {
				r.reject(err)
				return
			}
			sg = next
		}

		var err error
		p, err = r.prepare(ctx, sg, hint)
		if errors.Is(err, signer.ErrSignerUnavailable) {
			sg = nil
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				r.reject(err)
			}
			return
		}

		signed, err = sg.SignTransaction(ctx, p.tx)
		if errors.Is(err, signer.ErrSignerUnavailable) {
			sg = nil
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				r.reject(err)
			}
			return
		}
		break
	}

	if !r.emit(Event{State: Submitted}) {
		return
	}

	backend := p.handle.Backend()

	if p.estErr != nil {
		switch {
		case isInsufficientFunds(p.estErr):
			r.fail(InsufficientFunds, common.Hash{}, nil, errors.Wrap(ErrInsufficientFunds, p.estErr.Error()))
			return
		case isExecutionReverted(p.estErr):
			r.fail(Reverted, common.Hash{}, nil, errors.Wrap(ErrReverted, p.estErr.Error()))
			return
		default:
			log.Warn("gas estimation failed, using fallback limit", "id", r.rec.ID.String(),
				"gas", signed.Gas(), "error", p.estErr)
		}
	}

	balance, err := backend.BalanceAt(ctx, p.from, nil)
	if err != nil {
		if ctx.Err() == nil {
			r.fail(ConnectionError, common.Hash{}, nil, &provider.ConnectionError{Endpoint: p.handle.Key(), Err: err})
		}
		return
	}
	if cost := signed.Cost(); balance.Cmp(cost) < 0 {
		r.fail(InsufficientFunds, common.Hash{}, nil,
			errors.Wrapf(ErrInsufficientFunds, "balance %s below cost %s", balance, cost))
		return
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.broadcastFailed(p.handle, err)
		return
	}
	sentAt := time.Now()
	hash := signed.Hash()
	log.Info("transaction broadcast", "id", r.rec.ID.String(), "hash", hash.Hex(), "from", p.from.Hex(), "nonce", signed.Nonce())

	if !r.emit(Event{State: Pending, Hash: hash}) {
		return
	}
	r.await(ctx, p.handle, hash, sentAt)
}

func (r *run) refresh(ctx context.Context, attempt int) (signer.Signer, error) {
	if r.s.opts.Refresh == nil || attempt > maxSignerRefreshes {
		return nil, signer.ErrSignerUnavailable
	}
	next, err := r.s.opts.Refresh(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "re-resolve signer")
	}
	if next == nil {
		return nil, signer.ErrSignerUnavailable
	}
	log.Debug("signer re-resolved before submission", "id", r.rec.ID.String(), "kind", next.Kind().String())
	return next, nil
}

func (r *run) prepare(ctx context.Context, sg signer.Signer, hint *big.Int) (*prepared, error) {
	h := sg.Provider()
	if h == nil {
		return nil, signer.ErrSignerUnavailable
	}
	from, err := sg.Address(ctx)
	if err != nil {
		return nil, err
	}
	backend := h.Backend()
	connErr := func(err error) error {
		return &provider.ConnectionError{Endpoint: h.Key(), Err: err}
	}

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, connErr(errors.Wrap(err, "pending nonce"))
	}

	gasPrice := hint
	if gasPrice == nil {
		if gasPrice, err = backend.SuggestGasPrice(ctx); err != nil {
			return nil, connErr(errors.Wrap(err, "suggest gas price"))
		}
	}

	req := r.rec.Request
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var estErr error
	gas := req.GasLimit
	if gas == 0 {
		est, err := backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       req.To,
			GasPrice: gasPrice,
			Value:    value,
			Data:     req.Data,
		})
		if err != nil {
			estErr = err
			gas = r.s.opts.FallbackGasLimit
		} else {
			gas = est * 115 / 100
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       req.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})
	return &prepared{tx: tx, from: from, handle: h, estErr: estErr}, nil
}

func (r *run) broadcastFailed(h *provider.Handle, err error) {
	var rpcErr rpc.Error
	switch {
	case isInsufficientFunds(err):
		r.fail(InsufficientFunds, common.Hash{}, nil, errors.Wrap(ErrInsufficientFunds, err.Error()))
	case errors.As(err, &rpcErr):
		// the node answered and refused the transaction
		r.fail(Dropped, common.Hash{}, nil, errors.Wrap(ErrDropped, err.Error()))
	default:
		r.fail(ConnectionError, common.Hash{}, nil, &provider.ConnectionError{Endpoint: h.Key(), Err: err})
	}
}

func (r *run) await(ctx context.Context, h *provider.Handle, hash common.Hash, sentAt time.Time) {
	backend := h.Backend()
	t := time.NewTicker(r.s.opts.PollInterval)
	defer t.Stop()

	var lastErr error
	pollErrors := 0
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			r.s.metrics.confirmations.Observe(time.Since(sentAt).Seconds())
			if receipt.Status == types.ReceiptStatusSuccessful {
				r.emit(Event{State: Confirmed, Hash: hash, Receipt: receipt})
			} else {
				r.fail(Reverted, hash, receipt, errors.Wrapf(ErrReverted, "block %s", receipt.BlockNumber))
			}
			return
		case ctx.Err() != nil:
			return
		case err == nil || errors.Is(err, ethereum.NotFound):
			pollErrors = 0
			if time.Since(sentAt) >= r.s.opts.DropTimeout {
				_, _, terr := backend.TransactionByHash(ctx, hash)
				switch {
				case errors.Is(terr, ethereum.NotFound):
					r.fail(Dropped, hash, nil, errors.Wrapf(ErrDropped, "not seen for %s", r.s.opts.DropTimeout))
					return
				case terr != nil && ctx.Err() == nil:
					pollErrors++
					lastErr = terr
				}
			}
		default:
			pollErrors++
			lastErr = err
			log.Warn("receipt poll failed", "id", r.rec.ID.String(), "hash", hash.Hex(), "attempt", pollErrors, "error", err)
		}
		if pollErrors >= r.s.opts.MaxPollErrors {
			r.fail(ConnectionError, hash, nil, &provider.ConnectionError{Endpoint: h.Key(), Err: errors.Wrapf(lastErr, "%d receipt polls failed", pollErrors)})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			r.fail(ConnectionError, hash, nil, &provider.ConnectionError{Endpoint: h.Key(), Err: errors.New("provider closed")})
			return
		case <-t.C:
		}
	}
}

func isInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

func isExecutionReverted(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
