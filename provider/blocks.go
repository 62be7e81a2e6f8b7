package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/retry"
)

const (
	defaultPollInterval = 4 * time.Second
	// catching up further than this after a stall only replays the newest blocks
	maxBlockGap = 128
)

var errHandleClosed = errors.New("handle closed")

// BlockSubscription delivers new block numbers to one callback, in ascending order,
// each at most once, never concurrently with itself.
type BlockSubscription struct {
	h  *Handle
	cb func(blockNumber uint64)

	mu     sync.Mutex
	queue  []uint64
	last   uint64
	queued bool

	// held while cb runs
	cbMu sync.Mutex

	wake   chan struct{}
	quit   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// OnNewBlock registers cb for every newly observed block while the handle is live.
// The caller must Unsubscribe when it no longer needs updates.
func (h *Handle) OnNewBlock(cb func(blockNumber uint64)) *BlockSubscription {
	s := &BlockSubscription{
		h:    h,
		cb:   cb,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}

	select {
	case <-h.closed:
		s.once.Do(func() {
			s.closed.Store(true)
			close(s.quit)
		})
		return s
	default:
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	if h.poller == nil {
		h.poller = startBlockPoller(h)
	}
	h.mu.Unlock()

	go s.run()
	return s
}

// Unsubscribe stops delivery and waits for a running callback to return, so no
// callback runs after it returns. It must not be called from inside the callback.
func (s *BlockSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		s.h.removeSubscription(s)
	})
	s.cbMu.Lock()
	s.cbMu.Unlock()
}

// enqueue drops numbers at or below the highest one already queued.
func (s *BlockSubscription) enqueue(n uint64) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	if s.queued && n <= s.last {
		s.mu.Unlock()
		return
	}
	s.last, s.queued = n, true
	s.queue = append(s.queue, n)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *BlockSubscription) run() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			n := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if !s.deliver(n) {
				return
			}
		}
	}
}

func (s *BlockSubscription) deliver(n uint64) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.cb(n)
	return true
}

func (h *Handle) removeSubscription(s *BlockSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, s)
	if len(h.subs) == 0 && h.poller != nil {
		h.poller.stop()
		h.poller = nil
	}
}

// broadcastBlock fans n out to subscribers. Blocks from a poller that has been
// stopped and replaced are dropped.
func (h *Handle) broadcastBlock(p *blockPoller, n uint64) {
	h.mu.Lock()
	if h.poller != p {
		h.mu.Unlock()
		return
	}
	h.lastBlock.Store(n)
	subs := make([]*BlockSubscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.enqueue(n)
	}
}

type blockPoller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startBlockPoller(h *Handle) *blockPoller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &blockPoller{cancel: cancel, done: make(chan struct{})}

	every := h.pollInterval
	if every <= 0 {
		every = defaultPollInterval
	}

	go func() {
		defer close(p.done)
		go func() {
			select {
			case <-h.closed:
				cancel()
			case <-ctx.Done():
			}
		}()

		cfg := retry.DefaultConfig()
		cfg.InitialDelayBeforeRetrying = every / 10
		cfg.MaxDelayBeforeRetrying = every
		cfg.MaxNumRetries = 3

		var last uint64
		var initialized bool

		t := time.NewTicker(every)
		defer t.Stop()
		for {
			n, err := retry.Do(ctx, cfg, func(ctx context.Context) (uint64, error) {
				return h.backend.BlockNumber(ctx)
			}, nil, "poll block number")
			if err != nil {
				if ctx.Err() != nil {
					log.Debug("block poller exiting", "source", h.describe())
					return
				}
				h.state.Store(int32(Errored))
			} else {
				h.state.CompareAndSwap(int32(Errored), int32(Live))
				from := last + 1
				switch {
				case !initialized:
					initialized = true
					from = n
				case n < from:
					from = n + 1 // nothing new (or a reorg to a lower head)
				case n-last > maxBlockGap:
					from = n - maxBlockGap + 1
				}
				for b := from; b <= n; b++ {
					h.broadcastBlock(p, b)
				}
				if n > last {
					last = n
				}
			}

			select {
			case <-ctx.Done():
				log.Debug("block poller exiting", "source", h.describe())
				return
			case <-t.C:
			}
		}
	}()
	return p
}

func (p *blockPoller) stop() {
	p.cancel()
}
